package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/logging"
	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/metrics"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// Well-known metric names
const (
	MetricDurationSeconds    = "duration_seconds"
	MetricStatementsExecuted = "statements_executed"
	MetricMemoryUsageBytes   = "memory_usage_bytes"
	MetricBackupSizeBytes    = "backup_size_bytes"
	MetricRecoveryTime       = "recovery_time_seconds"
)

// Threshold is a static limit on a metric. Samples above Limit produce a
// performance_degradation event.
type Threshold struct {
	Metric   string          `mapstructure:"metric" yaml:"metric" json:"metric"`
	Limit    float64         `mapstructure:"limit" yaml:"limit" json:"limit"`
	Unit     string          `mapstructure:"unit" yaml:"unit" json:"unit"`
	Severity entity.Severity `mapstructure:"severity" yaml:"severity" json:"severity"`
}

// MonitoringConfig configures the monitoring bus
type MonitoringConfig struct {
	Thresholds      []Threshold   `mapstructure:"thresholds" yaml:"thresholds" json:"thresholds"`
	AlertWindow     time.Duration `mapstructure:"alert_window" yaml:"alert_window" json:"alert_window"`
	DashboardWindow time.Duration `mapstructure:"dashboard_window" yaml:"dashboard_window" json:"dashboard_window"`
}

// DefaultMonitoringConfig returns the default thresholds and windows
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		Thresholds: []Threshold{
			{Metric: MetricDurationSeconds, Limit: 1800, Unit: "seconds", Severity: entity.SeverityWarning},
			{Metric: MetricMemoryUsageBytes, Limit: 2 << 30, Unit: "bytes", Severity: entity.SeverityWarning},
		},
		AlertWindow:     time.Hour,
		DashboardWindow: 24 * time.Hour,
	}
}

// recommendedActions are attached to alerts by event type
var recommendedActions = map[entity.EventType][]string{
	entity.EventMigrationFailed: {
		"Inspect the failed statement in the run error detail",
		"Generate a rollback plan for the version",
	},
	entity.EventBackupFailed: {
		"Check backup store capacity and credentials",
		"Re-run backup creation before applying critical migrations",
	},
	entity.EventRollbackFailed: {
		"Review failed rollback steps",
		"Escalate to the database on-call team",
	},
	entity.EventHealthCheckFailed: {
		"Run the health report and follow remediation hints",
		"Run disaster detection to look for data corruption",
	},
	entity.EventPerformanceDegradation: {
		"Review long running queries",
		"Consider splitting the migration into smaller units",
	},
	entity.EventLockContention: {
		"Wait for the running migration to finish",
		"Verify no stale lock holder remains",
	},
	entity.EventSchemaDriftDetected: {
		"Compare the live schema with the last successful run",
	},
	entity.EventDRExecutionFailed: {
		"Review failed recovery steps and lessons learned",
	},
	entity.EventEmergencyRollback: {
		"Confirm the application is healthy on the restored schema",
	},
	entity.EventAccessDenied: {
		"Verify the actor's role assignments",
	},
}

// EventInput is what callers supply to LogEvent
type EventInput struct {
	Version       string
	Type          entity.EventType
	Severity      entity.Severity
	Message       string
	Detail        entity.EventDetail
	CorrelationID string
	ParentID      *uuid.UUID
}

// MetricInput is what callers supply to RecordMetric
type MetricInput struct {
	Version       string
	Name          string
	Value         float64
	Unit          string
	Kind          entity.MetricKind
	Context       map[string]string
	CorrelationID string
}

// SystemHealthProvider supplies the health snippet of the dashboard
type SystemHealthProvider interface {
	SystemHealth(ctx context.Context) (*entity.SystemHealth, error)
}

// MonitoringBus records the ordered event stream and metric series, derives
// alerts and dashboards, and fans events out to publish hooks.
type MonitoringBus struct {
	events  repository.EventRepository
	metrics repository.MetricRepository
	config  MonitoringConfig
	logger  *zap.Logger
	now     func() time.Time

	appendMu sync.Mutex

	hooksMu    sync.RWMutex
	eventHooks []repository.EventHook
	alertHooks []repository.AlertHook
	health     SystemHealthProvider

	eventsTotal  *prometheus.CounterVec
	metricValue  *prometheus.GaugeVec
	hookFailures *prometheus.CounterVec
}

// NewMonitoringBus creates a monitoring bus
func NewMonitoringBus(
	events repository.EventRepository,
	metricRepo repository.MetricRepository,
	registry *metrics.Manager,
	config MonitoringConfig,
	logger *zap.Logger,
) *MonitoringBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = metrics.NewManager(nil, logger)
	}
	defaults := DefaultMonitoringConfig()
	if config.AlertWindow <= 0 {
		config.AlertWindow = defaults.AlertWindow
	}
	if config.DashboardWindow <= 0 {
		config.DashboardWindow = defaults.DashboardWindow
	}
	if config.Thresholds == nil {
		config.Thresholds = defaults.Thresholds
	}

	return &MonitoringBus{
		events:  events,
		metrics: metricRepo,
		config:  config,
		logger:  logger.Named("monitoring"),
		now:     time.Now,
		eventsTotal: registry.Counter("monitoring_events_total",
			"Monitoring events recorded", "type", "severity"),
		metricValue: registry.Gauge("migration_metric_value",
			"Last recorded value of a migration metric", "name"),
		hookFailures: registry.Counter("hook_failures_total",
			"Publish hook invocations that returned an error", "hook"),
	}
}

// AddEventHook registers a hook invoked after every persisted event
func (b *MonitoringBus) AddEventHook(hook repository.EventHook) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.eventHooks = append(b.eventHooks, hook)
}

// AddAlertHook registers a hook invoked for every generated alert
func (b *MonitoringBus) AddAlertHook(hook repository.AlertHook) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.alertHooks = append(b.alertHooks, hook)
}

// SetHealthProvider sets the source of the dashboard health snippet
func (b *MonitoringBus) SetHealthProvider(provider SystemHealthProvider) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.health = provider
}

// LogEvent persists an event and publishes it to the event hooks
func (b *MonitoringBus) LogEvent(ctx context.Context, input EventInput) (*entity.MonitoringEvent, error) {
	if strings.TrimSpace(string(input.Type)) == "" {
		return nil, common.ErrInvalidInput("type")
	}
	switch input.Severity {
	case "":
		input.Severity = entity.SeverityInfo
	case entity.SeverityInfo, entity.SeverityWarning, entity.SeverityError, entity.SeverityCritical:
	default:
		return nil, common.ErrInvalidInput("severity").WithContext("severity", string(input.Severity))
	}

	correlationID := common.Coalesce(input.CorrelationID, logging.GetCorrelationID(ctx))
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	event := &entity.MonitoringEvent{
		ID:            uuid.New(),
		Version:       input.Version,
		Type:          input.Type,
		Severity:      input.Severity,
		Message:       input.Message,
		Detail:        input.Detail,
		CorrelationID: correlationID,
		ParentID:      input.ParentID,
		Timestamp:     b.now(),
	}

	if err := b.appendInOrder(ctx, event); err != nil {
		return nil, err
	}

	b.eventsTotal.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
	b.logEvent(event)
	b.publishEvent(ctx, event)

	return event, nil
}

// Emit records an event and logs, rather than returns, a failure. Components
// use it to report on their own operations. A nil bus discards the event.
func (b *MonitoringBus) Emit(ctx context.Context, input EventInput) *entity.MonitoringEvent {
	if b == nil {
		return nil
	}
	event, err := b.LogEvent(ctx, input)
	if err != nil {
		b.logger.Error("Failed to record monitoring event",
			zap.String("type", string(input.Type)),
			zap.String("version", input.Version),
			zap.Error(err))
		return nil
	}
	return event
}

// appendInOrder serializes appends from this bus so its events keep their
// emission order. The repository assigns the sequence number.
func (b *MonitoringBus) appendInOrder(ctx context.Context, event *entity.MonitoringEvent) error {
	b.appendMu.Lock()
	defer b.appendMu.Unlock()

	if err := b.events.Append(ctx, event); err != nil {
		return common.ErrDatabaseQuery("append event", err)
	}
	return nil
}

func (b *MonitoringBus) logEvent(event *entity.MonitoringEvent) {
	fields := []zap.Field{
		zap.String("event_type", string(event.Type)),
		zap.String("version", event.Version),
		zap.String("correlation_id", event.CorrelationID),
		zap.Int64("sequence", event.Sequence),
	}
	switch event.Severity {
	case entity.SeverityCritical, entity.SeverityError:
		b.logger.Error(event.Message, fields...)
	case entity.SeverityWarning:
		b.logger.Warn(event.Message, fields...)
	default:
		b.logger.Info(event.Message, fields...)
	}
}

func (b *MonitoringBus) publishEvent(ctx context.Context, event *entity.MonitoringEvent) {
	b.hooksMu.RLock()
	hooks := append([]repository.EventHook(nil), b.eventHooks...)
	b.hooksMu.RUnlock()

	for _, hook := range hooks {
		if err := hook.PublishEvent(ctx, event); err != nil {
			b.hookFailures.WithLabelValues("event").Inc()
			b.logger.Warn("Event hook failed",
				zap.String("event_id", event.ID.String()),
				zap.Error(err))
		}
	}
}

// RecordMetric appends a metric sample and evaluates the static thresholds
func (b *MonitoringBus) RecordMetric(ctx context.Context, input MetricInput) (*entity.Metric, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, common.ErrInvalidInput("name")
	}
	if input.Kind == "" {
		input.Kind = entity.MetricGauge
	}

	metric := &entity.Metric{
		ID:        uuid.New(),
		Version:   input.Version,
		Name:      input.Name,
		Value:     input.Value,
		Unit:      input.Unit,
		Kind:      input.Kind,
		Context:   input.Context,
		Timestamp: b.now(),
	}
	if err := b.metrics.Append(ctx, metric); err != nil {
		return nil, common.ErrDatabaseQuery("append metric", err)
	}
	b.metricValue.WithLabelValues(metric.Name).Set(metric.Value)

	for _, t := range b.config.Thresholds {
		if t.Metric != metric.Name || metric.Value <= t.Limit {
			continue
		}
		b.Emit(ctx, EventInput{
			Version:       metric.Version,
			Type:          entity.EventPerformanceDegradation,
			Severity:      common.Coalesce(t.Severity, entity.SeverityWarning),
			Message:       "Metric " + metric.Name + " exceeded its threshold",
			CorrelationID: input.CorrelationID,
			Detail: entity.ThresholdDetail{
				Metric:    metric.Name,
				Value:     metric.Value,
				Threshold: t.Limit,
				Unit:      common.Coalesce(metric.Unit, t.Unit),
			},
		})
	}

	return metric, nil
}

// Observe records a metric sample and logs, rather than returns, a failure.
// A nil bus discards the sample.
func (b *MonitoringBus) Observe(ctx context.Context, input MetricInput) {
	if b == nil {
		return
	}
	if _, err := b.RecordMetric(ctx, input); err != nil {
		b.logger.Error("Failed to record metric",
			zap.String("metric", input.Name),
			zap.String("version", input.Version),
			zap.Error(err))
	}
}

// GenerateAlerts groups the unacknowledged warning-or-worse events of the
// alert window and publishes each alert to the alert hooks.
func (b *MonitoringBus) GenerateAlerts(ctx context.Context) ([]entity.Alert, error) {
	alerts, err := b.buildAlerts(ctx)
	if err != nil {
		return nil, err
	}

	b.hooksMu.RLock()
	hooks := append([]repository.AlertHook(nil), b.alertHooks...)
	b.hooksMu.RUnlock()

	for i := range alerts {
		for _, hook := range hooks {
			if err := hook.PublishAlert(ctx, &alerts[i]); err != nil {
				b.hookFailures.WithLabelValues("alert").Inc()
				b.logger.Warn("Alert hook failed", zap.String("alert", alerts[i].Key), zap.Error(err))
			}
		}
	}
	return alerts, nil
}

func (b *MonitoringBus) buildAlerts(ctx context.Context) ([]entity.Alert, error) {
	events, err := b.events.Find(ctx, repository.EventFilter{
		Since:          b.now().Add(-b.config.AlertWindow),
		MinSeverity:    entity.SeverityWarning,
		Unacknowledged: true,
	})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find events", err)
	}

	byKey := make(map[string]*entity.Alert)
	var order []string
	for _, e := range events {
		key := entity.AlertKey(e.Version, e.Type, e.Severity)
		alert, ok := byKey[key]
		if !ok {
			alert = &entity.Alert{
				Key:                key,
				Version:            e.Version,
				Type:               e.Type,
				Severity:           e.Severity,
				FirstSeen:          e.Timestamp,
				RecommendedActions: recommendedActions[e.Type],
			}
			byKey[key] = alert
			order = append(order, key)
		}
		alert.Count++
		alert.EventIDs = append(alert.EventIDs, e.ID)
		if e.Timestamp.Before(alert.FirstSeen) {
			alert.FirstSeen = e.Timestamp
		}
		if !e.Timestamp.Before(alert.LastSeen) {
			alert.LastSeen = e.Timestamp
			alert.Message = e.Message
		}
	}

	alerts := make([]entity.Alert, 0, len(order))
	for _, key := range order {
		alerts = append(alerts, *byKey[key])
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return alerts[i].LastSeen.After(alerts[j].LastSeen)
	})
	return alerts, nil
}

// Acknowledge marks events as handled by the acting principal
func (b *MonitoringBus) Acknowledge(ctx context.Context, ec entity.ExecutionContext, eventIDs []uuid.UUID) (int, error) {
	if len(eventIDs) == 0 {
		return 0, common.ErrInvalidInput("event_ids")
	}
	n, err := b.events.Acknowledge(ctx, eventIDs, ec.Principal(), b.now())
	if err != nil {
		return 0, common.ErrDatabaseQuery("acknowledge events", err)
	}
	b.logger.Info("Events acknowledged", zap.Int("count", n), zap.String("actor", ec.Principal()))
	return n, nil
}

// AcknowledgeAlert acknowledges every event grouped under alertKey
func (b *MonitoringBus) AcknowledgeAlert(ctx context.Context, ec entity.ExecutionContext, alertKey string) (int, error) {
	alerts, err := b.buildAlerts(ctx)
	if err != nil {
		return 0, err
	}
	for _, alert := range alerts {
		if alert.Key == alertKey {
			return b.Acknowledge(ctx, ec, alert.EventIDs)
		}
	}
	return 0, common.ErrNotFound("alert").WithContext("key", alertKey)
}

// Dashboard aggregates events, metrics and health over window. A
// non-positive window uses the configured default.
func (b *MonitoringBus) Dashboard(ctx context.Context, window time.Duration) (*entity.Dashboard, error) {
	if window <= 0 {
		window = b.config.DashboardWindow
	}
	now := b.now()
	since := now.Add(-window)

	events, err := b.events.Find(ctx, repository.EventFilter{Since: since})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find events", err)
	}
	samples, err := b.metrics.Find(ctx, repository.MetricFilter{Since: since})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find metrics", err)
	}

	dashboard := &entity.Dashboard{
		Window:           window,
		GeneratedAt:      now,
		TotalEvents:      len(events),
		EventsBySeverity: make(map[entity.Severity]int),
		EventsByType:     make(map[entity.EventType]int),
		Versions:         rollupVersions(events),
		Metrics:          summarizeMetrics(samples),
	}
	for _, e := range events {
		dashboard.EventsBySeverity[e.Severity]++
		dashboard.EventsByType[e.Type]++
	}

	alerts, err := b.buildAlerts(ctx)
	if err != nil {
		return nil, err
	}
	dashboard.UnacknowledgedAlerts = len(alerts)

	b.hooksMu.RLock()
	provider := b.health
	b.hooksMu.RUnlock()
	if provider != nil {
		health, err := provider.SystemHealth(ctx)
		if err != nil {
			health = &entity.SystemHealth{Status: entity.HealthStatusUnknown, Error: err.Error()}
		}
		dashboard.SystemHealth = health
	}

	return dashboard, nil
}

func rollupVersions(events []*entity.MonitoringEvent) []entity.VersionRollup {
	byVersion := make(map[string]*entity.VersionRollup)
	for _, e := range events {
		if e.Version == "" {
			continue
		}
		r, ok := byVersion[e.Version]
		if !ok {
			r = &entity.VersionRollup{Version: e.Version}
			byVersion[e.Version] = r
		}
		r.Events++
		switch e.Severity {
		case entity.SeverityWarning:
			r.Warnings++
		case entity.SeverityError:
			r.Errors++
		case entity.SeverityCritical:
			r.Critical++
		}
		if !e.Timestamp.Before(r.LastEventAt) {
			r.LastEvent = e.Type
			r.LastEventAt = e.Timestamp
		}
	}

	rollups := make([]entity.VersionRollup, 0, len(byVersion))
	for _, r := range byVersion {
		rollups = append(rollups, *r)
	}
	sort.Slice(rollups, func(i, j int) bool { return entity.CompareVersions(rollups[i].Version, rollups[j].Version) < 0 })
	return rollups
}

func summarizeMetrics(samples []*entity.Metric) []entity.MetricSummary {
	byName := make(map[string]*entity.MetricSummary)
	sums := make(map[string]float64)
	for _, m := range samples {
		s, ok := byName[m.Name]
		if !ok {
			s = &entity.MetricSummary{Name: m.Name, Unit: m.Unit, Max: m.Value}
			byName[m.Name] = s
		}
		s.Count++
		sums[m.Name] += m.Value
		if m.Value > s.Max {
			s.Max = m.Value
		}
		if !m.Timestamp.Before(s.LastAt) {
			s.Last = m.Value
			s.LastAt = m.Timestamp
		}
	}

	summaries := make([]entity.MetricSummary, 0, len(byName))
	for name, s := range byName {
		s.Average = sums[name] / float64(s.Count)
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

// Events returns events matching filter in emission order
func (b *MonitoringBus) Events(ctx context.Context, filter repository.EventFilter) ([]*entity.MonitoringEvent, error) {
	events, err := b.events.Find(ctx, filter)
	if err != nil {
		return nil, common.ErrDatabaseQuery("find events", err)
	}
	return events, nil
}

// Metrics returns metric samples matching filter, oldest first
func (b *MonitoringBus) Metrics(ctx context.Context, filter repository.MetricFilter) ([]*entity.Metric, error) {
	samples, err := b.metrics.Find(ctx, filter)
	if err != nil {
		return nil, common.ErrDatabaseQuery("find metrics", err)
	}
	return samples, nil
}
