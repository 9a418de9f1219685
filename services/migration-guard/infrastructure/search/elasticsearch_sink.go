package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	es "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/elasticsearch"
)

// Index kinds written by the sink
const (
	KindEvents = "events"
	KindAlerts = "alerts"
	KindAudit  = "audit"
)

// Indexer is the subset of the elasticsearch client the sink uses
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
	PutIndexTemplate(ctx context.Context, name string, template es.IndexTemplate) error
}

// Sink mirrors events, alerts and audit entries into daily elasticsearch
// indices for search. Writes go through the client's circuit breaker.
type Sink struct {
	indexer Indexer
	config  *es.Config
	logger  *zap.Logger
}

// NewSink creates a sink writing index names from config
func NewSink(indexer Indexer, config *es.Config, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = es.DefaultConfig()
	}
	return &Sink{indexer: indexer, config: config, logger: logger.Named("es-sink")}
}

// EnsureTemplates installs index templates with keyword mappings for the
// filterable fields of each kind
func (s *Sink) EnsureTemplates(ctx context.Context) error {
	templates := map[string]es.IndexTemplate{
		KindEvents: es.KeywordTemplate(s.config.GetIndexPattern(KindEvents), "timestamp",
			"id", "version", "type", "severity", "correlation_id", "acknowledged_by"),
		KindAlerts: es.KeywordTemplate(s.config.GetIndexPattern(KindAlerts), "last_seen",
			"key", "version", "type", "severity"),
		KindAudit: es.KeywordTemplate(s.config.GetIndexPattern(KindAudit), "timestamp",
			"id", "actor", "tenant_id", "action", "resource", "outcome", "correlation_id"),
	}
	for kind, template := range templates {
		name := fmt.Sprintf("%s-%s", s.config.IndexPrefix, kind)
		if err := s.indexer.PutIndexTemplate(ctx, name, template); err != nil {
			return fmt.Errorf("failed to install %s template: %w", kind, err)
		}
	}
	s.logger.Info("Index templates ensured", zap.Int("templates", len(templates)))
	return nil
}

// PublishEvent indexes the event under its id
func (s *Sink) PublishEvent(ctx context.Context, event *entity.MonitoringEvent) error {
	return s.index(ctx, KindEvents, event.Timestamp, event.ID.String(), event)
}

// PublishAlert indexes the alert under its key so regenerated alerts replace
// the previous document of the day
func (s *Sink) PublishAlert(ctx context.Context, alert *entity.Alert) error {
	return s.index(ctx, KindAlerts, alert.LastSeen, alert.Key, alert)
}

// PublishAudit indexes the audit entry under its id
func (s *Sink) PublishAudit(ctx context.Context, entry *entity.AuditEntry) error {
	return s.index(ctx, KindAudit, entry.Timestamp, entry.ID.String(), entry)
}

func (s *Sink) index(ctx context.Context, kind string, at time.Time, id string, document interface{}) error {
	if at.IsZero() {
		at = time.Now()
	}
	index := s.config.GetIndexName(kind, at)
	if err := s.indexer.IndexDocument(ctx, index, id, document); err != nil {
		s.logger.Warn("Failed to index document",
			zap.String("index", index),
			zap.String("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to index %s document: %w", kind, err)
	}
	return nil
}
