package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

// RunFilter selects migration runs. Zero values match everything.
type RunFilter struct {
	Version string
	Phase   entity.RunPhase
	Status  entity.RunStatus
	Since   time.Time
	Limit   int
}

// RunRepository persists the migration tracking table.
// Find returns runs newest first by StartedAt.
type RunRepository interface {
	Create(ctx context.Context, run *entity.MigrationRun) error
	Update(ctx context.Context, run *entity.MigrationRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.MigrationRun, error)
	Find(ctx context.Context, filter RunFilter) ([]*entity.MigrationRun, error)
}

// AuditFilter selects audit entries
type AuditFilter struct {
	Actor    string
	Action   string
	Resource string
	Outcome  entity.AuditOutcome
	Since    time.Time
	Limit    int
}

// AuditRepository is the append-only audit store. Find returns newest first.
type AuditRepository interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	Find(ctx context.Context, filter AuditFilter) ([]*entity.AuditEntry, error)
}

// BackupFilter selects backups
type BackupFilter struct {
	Version string
	Type    entity.BackupType
	Status  entity.BackupStatus
	Limit   int
}

// BackupRepository persists the backup catalogue. Find returns newest first by CreatedAt.
type BackupRepository interface {
	Create(ctx context.Context, backup *entity.Backup) error
	Update(ctx context.Context, backup *entity.Backup) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Backup, error)
	Find(ctx context.Context, filter BackupFilter) ([]*entity.Backup, error)
}

// RollbackRepository persists rollback executions. FindByVersion returns newest first;
// an empty version matches all.
type RollbackRepository interface {
	Create(ctx context.Context, execution *entity.RollbackExecution) error
	Update(ctx context.Context, execution *entity.RollbackExecution) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.RollbackExecution, error)
	FindByVersion(ctx context.Context, version string) ([]*entity.RollbackExecution, error)
}

// DisasterRecoveryRepository persists plans, executions and incident history
type DisasterRecoveryRepository interface {
	// SavePlan inserts or replaces a plan keyed by ID
	SavePlan(ctx context.Context, plan *entity.DisasterRecoveryPlan) error
	GetPlanByName(ctx context.Context, name string) (*entity.DisasterRecoveryPlan, error)
	ListPlans(ctx context.Context) ([]*entity.DisasterRecoveryPlan, error)

	CreateExecution(ctx context.Context, execution *entity.DisasterRecoveryExecution) error
	UpdateExecution(ctx context.Context, execution *entity.DisasterRecoveryExecution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*entity.DisasterRecoveryExecution, error)
	// FindExecutions returns newest first; an empty plan name matches all
	FindExecutions(ctx context.Context, planName string) ([]*entity.DisasterRecoveryExecution, error)

	AppendIncident(ctx context.Context, incident *entity.IncidentRecord) error
	Incidents(ctx context.Context) ([]*entity.IncidentRecord, error)
}

// EventFilter selects monitoring events
type EventFilter struct {
	Version        string
	Types          []entity.EventType
	MinSeverity    entity.Severity
	CorrelationID  string
	Since          time.Time
	Unacknowledged bool
	Limit          int
}

// EventRepository is the append-only event stream. Append assigns
// event.Sequence from a counter shared by every writer of the store. Find
// returns events in emission order (Sequence ascending).
type EventRepository interface {
	Append(ctx context.Context, event *entity.MonitoringEvent) error
	Find(ctx context.Context, filter EventFilter) ([]*entity.MonitoringEvent, error)
	Acknowledge(ctx context.Context, ids []uuid.UUID, by string, at time.Time) (int, error)
}

// MetricFilter selects metric samples
type MetricFilter struct {
	Version string
	Name    string
	Since   time.Time
	Limit   int
}

// MetricRepository is the append-only metric series. Find returns oldest first.
type MetricRepository interface {
	Append(ctx context.Context, metric *entity.Metric) error
	Find(ctx context.Context, filter MetricFilter) ([]*entity.Metric, error)
}

// HealthRepository persists expiring health check results
type HealthRepository interface {
	Save(ctx context.Context, results []entity.HealthCheckResult) error
	// Current returns results whose ExpiresAt is after now
	Current(ctx context.Context, now time.Time) ([]entity.HealthCheckResult, error)
	// PurgeCheckedBefore deletes results checked before cutoff
	PurgeCheckedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Repositories bundles the logical stores
type Repositories struct {
	Runs     RunRepository
	Audit    AuditRepository
	Backups  BackupRepository
	Rollback RollbackRepository
	Recovery DisasterRecoveryRepository
	Events   EventRepository
	Metrics  MetricRepository
	Health   HealthRepository
}
