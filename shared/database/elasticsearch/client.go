package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrClientClosed is returned by requests issued after Close
var ErrClientClosed = errors.New("elasticsearch client is closed")

// Client sends requests to Elasticsearch through a circuit breaker, so a
// failing cluster stops costing every caller a full request timeout.
type Client struct {
	config  *Config
	es      *elasticsearch.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	closed  atomic.Bool
}

// NewClient creates the client and pings the cluster
func NewClient(ctx context.Context, config *Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid elasticsearch config: %w", err)
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    config.Addresses,
		Username:     config.Username,
		Password:     config.Password,
		APIKey:       config.APIKey,
		MaxRetries:   config.RetryConfig.MaxAttempts,
		RetryBackoff: config.RetryConfig.Backoff,
		Transport: &http.Transport{
			MaxIdleConns:        config.MaxIdleConns,
			MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
			IdleConnTimeout:     config.KeepAlive,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	c := &Client{
		config:  config,
		es:      es,
		breaker: newBreaker(config.CircuitBreaker, logger),
		logger:  logger,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping elasticsearch: %w", err)
	}

	logger.Info("Elasticsearch sink connected",
		zap.Strings("addresses", config.Addresses),
		zap.String("index_prefix", config.IndexPrefix))
	return c, nil
}

func newBreaker(cfg CircuitBreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "elasticsearch",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Elasticsearch breaker changed state",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Config returns the client configuration
func (c *Client) Config() *Config {
	return c.config
}

// do runs req through the breaker and turns error responses into errors
func (c *Client) do(ctx context.Context, op string, req esapi.Request) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		res, err := req.Do(ctx, c.es)
		if err != nil {
			return nil, fmt.Errorf("%s request failed: %w", op, err)
		}
		defer res.Body.Close()

		if res.IsError() {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			return nil, fmt.Errorf("%s failed with status %s: %s", op, res.Status(), body)
		}
		return nil, nil
	})
	return err
}

// Ping checks that the cluster answers
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", esapi.PingRequest{})
}

// IndexDocument writes document under id. Reindexing the same id replaces
// the document, so retried deliveries do not duplicate it.
func (c *Client) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return c.do(ctx, "index", esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	})
}

// Close stops the client from issuing further requests
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.logger.Info("Elasticsearch sink closed")
	}
	return nil
}
