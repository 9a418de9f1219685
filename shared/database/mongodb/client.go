package mongodb

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Client wraps a MongoDB connection bound to one database
type Client struct {
	config         *Config
	client         *mongo.Client
	database       *mongo.Database
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
	mu             sync.Mutex
	closed         bool
}

// NewClient connects to MongoDB and verifies the connection
func NewClient(ctx context.Context, config *Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongodb config: %w", err)
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	clientOpts.SetMaxPoolSize(config.MaxPoolSize)
	clientOpts.SetMinPoolSize(config.MinPoolSize)
	clientOpts.SetMaxConnIdleTime(config.MaxConnIdleTime)
	clientOpts.SetConnectTimeout(config.ConnectTimeout)
	clientOpts.SetServerSelectionTimeout(config.ServerSelectionTimeout)

	if config.Username != "" {
		clientOpts.SetAuth(options.Credential{
			AuthSource: config.AuthSource,
			Username:   config.Username,
			Password:   config.Password,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	mongoClient, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := mongoClient.Ping(connectCtx, readpref.Primary()); err != nil {
		mongoClient.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	client := &Client{
		config:   config,
		client:   mongoClient,
		database: mongoClient.Database(config.Database),
		logger:   logger,
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "mongodb-client",
			MaxRequests: config.CircuitBreaker.MaxRequests,
			Interval:    config.CircuitBreaker.Interval,
			Timeout:     config.CircuitBreaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.CircuitBreaker.FailureThreshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Info("Circuit breaker state changed",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}

	logger.Info("MongoDB client initialized",
		zap.String("database", config.Database))

	return client, nil
}

// Collection returns a handle on the named collection
func (c *Client) Collection(name string) *mongo.Collection {
	return c.database.Collection(name)
}

// Execute runs fn through the circuit breaker. mongo.ErrNoDocuments does
// not count as a failure.
func (c *Client) Execute(ctx context.Context, fn func(ctx context.Context, db *mongo.Database) error) error {
	var notFound bool
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		err := fn(ctx, c.database)
		if err == mongo.ErrNoDocuments {
			notFound = true
			return nil, nil
		}
		return nil, err
	})
	if notFound {
		return mongo.ErrNoDocuments
	}
	return err
}

// Health pings the primary
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	c.logger.Info("MongoDB client closed")
	return nil
}
