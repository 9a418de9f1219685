package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity of a monitoring event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from info (0) to critical (3)
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Alertable reports whether events of this severity produce alerts
func (s Severity) Alertable() bool {
	return s.Rank() >= SeverityWarning.Rank()
}

// EventType classifies monitoring events
type EventType string

const (
	EventMigrationStarted       EventType = "migration_started"
	EventMigrationCompleted     EventType = "migration_completed"
	EventMigrationFailed        EventType = "migration_failed"
	EventBackupCreated          EventType = "backup_created"
	EventBackupFailed           EventType = "backup_failed"
	EventBackupValidated        EventType = "backup_validated"
	EventBackupExpired          EventType = "backup_expired"
	EventRollbackInitiated      EventType = "rollback_initiated"
	EventRollbackCompleted      EventType = "rollback_completed"
	EventRollbackFailed         EventType = "rollback_failed"
	EventHealthCheckFailed      EventType = "health_check_failed"
	EventPerformanceDegradation EventType = "performance_degradation"
	EventLockContention         EventType = "lock_contention"
	EventSchemaDriftDetected    EventType = "schema_drift_detected"
	EventDRExecutionStarted     EventType = "dr_execution_started"
	EventDRExecutionCompleted   EventType = "dr_execution_completed"
	EventDRExecutionFailed      EventType = "dr_execution_failed"
	EventDRNotification         EventType = "dr_notification"
	EventEmergencyRollback      EventType = "emergency_rollback"
	EventAccessDenied           EventType = "access_denied"
	EventPreconditionFailed     EventType = "precondition_failed"
)

// EventDetail is the closed set of structured event payloads. CustomDetail
// carries anything the typed variants do not cover.
type EventDetail interface {
	DetailKind() string
}

// MigrationDetail describes a migration run
type MigrationDetail struct {
	RunID           string  `json:"run_id,omitempty"`
	Name            string  `json:"name,omitempty"`
	Statements      int     `json:"statements"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ChecksumBefore  string  `json:"checksum_before,omitempty"`
	ChecksumAfter   string  `json:"checksum_after,omitempty"`
	Error           string  `json:"error,omitempty"`
	FailedStatement int     `json:"failed_statement,omitempty"`
}

// BackupDetail describes a backup lifecycle change
type BackupDetail struct {
	BackupID  string `json:"backup_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RollbackDetail describes a rollback execution
type RollbackDetail struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	PlanID      string   `json:"plan_id,omitempty"`
	BackupID    string   `json:"backup_id,omitempty"`
	Status      string   `json:"status,omitempty"`
	DryRun      bool     `json:"dry_run"`
	Emergency   bool     `json:"emergency"`
	Reason      string   `json:"reason,omitempty"`
	FailedSteps []string `json:"failed_steps,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// HealthDetail describes a health check result
type HealthDetail struct {
	Category string `json:"category"`
	Check    string `json:"check"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// ThresholdDetail describes a metric that crossed a static threshold
type ThresholdDetail struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit,omitempty"`
}

// DisasterDetail describes a disaster recovery execution
type DisasterDetail struct {
	ExecutionID  string   `json:"execution_id,omitempty"`
	PlanName     string   `json:"plan_name"`
	DisasterType string   `json:"disaster_type,omitempty"`
	Type         string   `json:"type,omitempty"`
	Status       string   `json:"status,omitempty"`
	FailedSteps  []string `json:"failed_steps,omitempty"`
}

// CustomDetail is the free-form escape hatch
type CustomDetail map[string]interface{}

func (MigrationDetail) DetailKind() string { return "migration" }
func (BackupDetail) DetailKind() string    { return "backup" }
func (RollbackDetail) DetailKind() string  { return "rollback" }
func (HealthDetail) DetailKind() string    { return "health" }
func (ThresholdDetail) DetailKind() string { return "threshold" }
func (DisasterDetail) DetailKind() string  { return "disaster" }
func (CustomDetail) DetailKind() string    { return "custom" }

type detailEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalDetail encodes a detail with its kind tag
func MarshalDetail(detail EventDetail) ([]byte, error) {
	if detail == nil {
		return []byte("null"), nil
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	return json.Marshal(detailEnvelope{Kind: detail.DetailKind(), Payload: payload})
}

// UnmarshalDetail decodes a tagged detail. Unknown kinds decode as CustomDetail.
func UnmarshalDetail(data []byte) (EventDetail, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env detailEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid event detail: %w", err)
	}

	var detail EventDetail
	var err error
	switch env.Kind {
	case "migration":
		var d MigrationDetail
		err = json.Unmarshal(env.Payload, &d)
		detail = d
	case "backup":
		var d BackupDetail
		err = json.Unmarshal(env.Payload, &d)
		detail = d
	case "rollback":
		var d RollbackDetail
		err = json.Unmarshal(env.Payload, &d)
		detail = d
	case "health":
		var d HealthDetail
		err = json.Unmarshal(env.Payload, &d)
		detail = d
	case "threshold":
		var d ThresholdDetail
		err = json.Unmarshal(env.Payload, &d)
		detail = d
	case "disaster":
		var d DisasterDetail
		err = json.Unmarshal(env.Payload, &d)
		detail = d
	default:
		d := CustomDetail{}
		err = json.Unmarshal(env.Payload, &d)
		detail = d
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s event detail: %w", env.Kind, err)
	}
	return detail, nil
}

// MonitoringEvent is one append-only entry of the event stream
type MonitoringEvent struct {
	ID             uuid.UUID   `json:"id"`
	Sequence       int64       `json:"sequence"`
	Version        string      `json:"version,omitempty"`
	Type           EventType   `json:"type"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	Detail         EventDetail `json:"-"`
	CorrelationID  string      `json:"correlation_id"`
	ParentID       *uuid.UUID  `json:"parent_id,omitempty"`
	Acknowledged   bool        `json:"acknowledged"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// MarshalJSON renders the event with its tagged detail
func (e MonitoringEvent) MarshalJSON() ([]byte, error) {
	type plain MonitoringEvent
	detail, err := MarshalDetail(e.Detail)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		plain
		Detail json.RawMessage `json:"detail"`
	}{plain: plain(e), Detail: detail})
}

// UnmarshalJSON restores the event and its tagged detail
func (e *MonitoringEvent) UnmarshalJSON(data []byte) error {
	type plain MonitoringEvent
	aux := struct {
		*plain
		Detail json.RawMessage `json:"detail"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	detail, err := UnmarshalDetail(aux.Detail)
	if err != nil {
		return err
	}
	e.Detail = detail
	return nil
}

// MetricKind describes how a metric value should be interpreted
type MetricKind string

const (
	MetricGauge     MetricKind = "gauge"
	MetricCounter   MetricKind = "counter"
	MetricHistogram MetricKind = "histogram"
	MetricTiming    MetricKind = "timing"
)

// Metric is one sample of the append-only metric series
type Metric struct {
	ID        uuid.UUID         `json:"id"`
	Version   string            `json:"version,omitempty"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Kind      MetricKind        `json:"kind"`
	Context   map[string]string `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Alert groups unacknowledged events sharing version, type and severity
type Alert struct {
	Key                string      `json:"key"`
	Version            string      `json:"version,omitempty"`
	Type               EventType   `json:"type"`
	Severity           Severity    `json:"severity"`
	Count              int         `json:"count"`
	FirstSeen          time.Time   `json:"first_seen"`
	LastSeen           time.Time   `json:"last_seen"`
	Message            string      `json:"message"`
	EventIDs           []uuid.UUID `json:"event_ids"`
	RecommendedActions []string    `json:"recommended_actions"`
}

// AlertKey builds the grouping key for an event
func AlertKey(version string, eventType EventType, severity Severity) string {
	return fmt.Sprintf("%s|%s|%s", version, eventType, severity)
}

// MetricSummary aggregates one metric name over a window
type MetricSummary struct {
	Name    string    `json:"name"`
	Unit    string    `json:"unit,omitempty"`
	Count   int       `json:"count"`
	Average float64   `json:"average"`
	Max     float64   `json:"max"`
	Last    float64   `json:"last"`
	LastAt  time.Time `json:"last_at"`
}

// VersionRollup aggregates events for one migration version
type VersionRollup struct {
	Version     string    `json:"version"`
	Events      int       `json:"events"`
	Warnings    int       `json:"warnings"`
	Errors      int       `json:"errors"`
	Critical    int       `json:"critical"`
	LastEvent   EventType `json:"last_event"`
	LastEventAt time.Time `json:"last_event_at"`
}

// SystemHealth is the health snippet shown on the dashboard
type SystemHealth struct {
	Status          HealthStatus `json:"status"`
	ConnectionCount int          `json:"connection_count"`
	MaxConnections  int          `json:"max_connections"`
	StorageBytes    int64        `json:"storage_bytes"`
	CacheHitRatio   float64      `json:"cache_hit_ratio"`
	Error           string       `json:"error,omitempty"`
}

// Dashboard aggregates events, metrics and health over a window
type Dashboard struct {
	Window               time.Duration     `json:"window"`
	GeneratedAt          time.Time         `json:"generated_at"`
	TotalEvents          int               `json:"total_events"`
	EventsBySeverity     map[Severity]int  `json:"events_by_severity"`
	EventsByType         map[EventType]int `json:"events_by_type"`
	Versions             []VersionRollup   `json:"versions"`
	Metrics              []MetricSummary   `json:"metrics"`
	UnacknowledgedAlerts int               `json:"unacknowledged_alerts"`
	SystemHealth         *SystemHealth     `json:"system_health,omitempty"`
}
