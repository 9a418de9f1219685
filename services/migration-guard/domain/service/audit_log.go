package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// Audit actions
const (
	AuditActionMigrationStart    = "migration.start"
	AuditActionMigrationComplete = "migration.complete"
	AuditActionMigrationRollback = "migration.rolled_back"
	AuditActionBackupCreate      = "backup.create"
	AuditActionBackupCleanup     = "backup.cleanup"
	AuditActionRollbackExecute   = "rollback.execute"
	AuditActionPlanSave          = "dr.plan.save"
	AuditActionPlanStatus        = "dr.plan.status"
	AuditActionDRExecute         = "dr.execute"
	AuditActionEmergencyRollback = "dr.emergency_rollback"
)

// Completion describes how a migration run ended
type Completion struct {
	Version        string
	Status         entity.RunStatus
	Err            error
	ErrorDetail    map[string]string
	AffectedTables []string
	Metrics        map[string]float64
	ChecksumAfter  string
}

// AuditLog owns the migration tracking table and the generic audit trail
type AuditLog struct {
	runs   repository.RunRepository
	audit  repository.AuditRepository
	bus    *MonitoringBus
	logger *zap.Logger
	now    func() time.Time

	hooksMu sync.RWMutex
	hooks   []repository.AuditHook
}

// NewAuditLog creates an audit log
func NewAuditLog(runs repository.RunRepository, audit repository.AuditRepository, bus *MonitoringBus, logger *zap.Logger) *AuditLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLog{
		runs:   runs,
		audit:  audit,
		bus:    bus,
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

// AddHook registers a hook invoked after every persisted audit entry
func (a *AuditLog) AddHook(hook repository.AuditHook) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.hooks = append(a.hooks, hook)
}

// RecordStart writes the START row of a run. It fails with LOCK_CONTENTION
// while another run of the same version is RUNNING.
func (a *AuditLog) RecordStart(ctx context.Context, ec entity.ExecutionContext, unit entity.MigrationUnit, checksumBefore string) (*entity.MigrationRun, error) {
	if unit.Version == "" {
		return nil, common.ErrInvalidInput("version")
	}
	if err := a.ensureNoRunningRun(ctx, ec, unit.Version); err != nil {
		return nil, err
	}

	class := unit.Classify()
	run := &entity.MigrationRun{
		ID:             uuid.New(),
		Version:        unit.Version,
		Name:           unit.Name,
		Phase:          entity.RunPhaseStart,
		Status:         entity.RunStatusRunning,
		StartedAt:      a.now(),
		ExecutedBy:     ec.Principal(),
		TenantID:       ec.TenantID,
		ChecksumBefore: checksumBefore,
		AffectedTables: unit.AffectedTables,
		StatementCount: len(unit.Statements),
		CorrelationID:  ec.CorrelationID,
		Critical:       class.Critical,
		DataLossRisk:   class.DataLossRisk,
	}
	if err := a.runs.Create(ctx, run); err != nil {
		return nil, common.ErrDatabaseQuery("create migration run", err)
	}

	a.Record(ctx, ec, AuditActionMigrationStart, "migration:"+unit.Version, entity.AuditOutcomeSuccess, map[string]string{
		"run_id": run.ID.String(),
		"name":   unit.Name,
	})
	return run, nil
}

// ensureNoRunningRun rejects a second concurrent run of version
func (a *AuditLog) ensureNoRunningRun(ctx context.Context, ec entity.ExecutionContext, version string) error {
	running, err := a.runs.Find(ctx, repository.RunFilter{
		Version: version,
		Phase:   entity.RunPhaseStart,
		Status:  entity.RunStatusRunning,
		Limit:   1,
	})
	if err != nil {
		return common.ErrDatabaseQuery("find running runs", err)
	}
	if len(running) == 0 {
		return nil
	}

	holder := running[0]
	err = entity.NewLockContentionError("migration "+version,
		fmt.Sprintf("run %s started by %s at %s is still RUNNING", holder.ID, holder.ExecutedBy, holder.StartedAt.Format(time.RFC3339)))
	a.bus.Emit(ctx, EventInput{
		Version:       version,
		Type:          entity.EventLockContention,
		Severity:      entity.SeverityError,
		Message:       "Migration " + version + " is already running",
		CorrelationID: ec.CorrelationID,
		Detail:        entity.MigrationDetail{RunID: holder.ID.String(), Name: holder.Name, Error: err.Error()},
	})
	return err
}

// RecordCompletion closes the most recent RUNNING start of the version and
// writes the linked COMPLETE row. Without a start the COMPLETE row is
// written as orphaned.
func (a *AuditLog) RecordCompletion(ctx context.Context, ec entity.ExecutionContext, completion Completion) (*entity.MigrationRun, error) {
	if completion.Version == "" {
		return nil, common.ErrInvalidInput("version")
	}
	if completion.Status != entity.RunStatusSuccess && completion.Status != entity.RunStatusFailed {
		return nil, common.ErrInvalidInput("status").WithContext("status", string(completion.Status))
	}

	starts, err := a.runs.Find(ctx, repository.RunFilter{
		Version: completion.Version,
		Phase:   entity.RunPhaseStart,
		Status:  entity.RunStatusRunning,
		Limit:   1,
	})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find running runs", err)
	}

	now := a.now()
	complete := &entity.MigrationRun{
		ID:             uuid.New(),
		Version:        completion.Version,
		Phase:          entity.RunPhaseComplete,
		Status:         completion.Status,
		StartedAt:      now,
		CompletedAt:    common.TimePtr(now),
		ExecutedBy:     ec.Principal(),
		TenantID:       ec.TenantID,
		ChecksumAfter:  completion.ChecksumAfter,
		ErrorDetail:    completion.ErrorDetail,
		AffectedTables: completion.AffectedTables,
		Metrics:        completion.Metrics,
		CorrelationID:  ec.CorrelationID,
	}
	if completion.Err != nil {
		complete.ErrorMessage = completion.Err.Error()
	}

	if len(starts) == 0 {
		complete.Orphaned = true
		a.logger.Warn("Completion recorded without a running start",
			zap.String("version", completion.Version),
			zap.String("status", string(completion.Status)))
	} else {
		start := starts[0]
		start.Status = completion.Status
		start.CompletedAt = common.TimePtr(now)
		start.Duration = now.Sub(start.StartedAt)
		start.ChecksumAfter = completion.ChecksumAfter
		start.ErrorMessage = complete.ErrorMessage
		start.ErrorDetail = completion.ErrorDetail
		start.Metrics = completion.Metrics
		if len(completion.AffectedTables) > 0 {
			start.AffectedTables = completion.AffectedTables
		}
		if err := a.runs.Update(ctx, start); err != nil {
			return nil, common.ErrDatabaseQuery("update migration run", err)
		}

		complete.StartRunID = &start.ID
		complete.Name = start.Name
		complete.StartedAt = start.StartedAt
		complete.Duration = start.Duration
		complete.ChecksumBefore = start.ChecksumBefore
		complete.StatementCount = start.StatementCount
		complete.Critical = start.Critical
		complete.DataLossRisk = start.DataLossRisk
		complete.AffectedTables = start.AffectedTables
	}

	if err := a.runs.Create(ctx, complete); err != nil {
		return nil, common.ErrDatabaseQuery("create completion row", err)
	}

	outcome := entity.AuditOutcomeSuccess
	if completion.Status == entity.RunStatusFailed {
		outcome = entity.AuditOutcomeFailure
	}
	a.Record(ctx, ec, AuditActionMigrationComplete, "migration:"+completion.Version, outcome, map[string]string{
		"run_id":   complete.ID.String(),
		"status":   string(completion.Status),
		"orphaned": fmt.Sprint(complete.Orphaned),
	})
	return complete, nil
}

// MarkRolledBack moves the latest run of version, and its completion row, to ROLLED_BACK
func (a *AuditLog) MarkRolledBack(ctx context.Context, ec entity.ExecutionContext, version string) (*entity.MigrationRun, error) {
	start, err := a.LatestRun(ctx, version)
	if err != nil {
		return nil, err
	}
	if start == nil {
		return nil, common.ErrNotFound("migration run").WithContext("version", version)
	}

	now := a.now()
	start.Status = entity.RunStatusRolledBack
	if start.CompletedAt == nil {
		start.CompletedAt = common.TimePtr(now)
		start.Duration = now.Sub(start.StartedAt)
	}
	if err := a.runs.Update(ctx, start); err != nil {
		return nil, common.ErrDatabaseQuery("update migration run", err)
	}

	completions, err := a.runs.Find(ctx, repository.RunFilter{Version: version, Phase: entity.RunPhaseComplete})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find completion rows", err)
	}
	for _, c := range completions {
		if c.StartRunID == nil || *c.StartRunID != start.ID {
			continue
		}
		c.Status = entity.RunStatusRolledBack
		if err := a.runs.Update(ctx, c); err != nil {
			return nil, common.ErrDatabaseQuery("update completion row", err)
		}
	}

	a.Record(ctx, ec, AuditActionMigrationRollback, "migration:"+version, entity.AuditOutcomeSuccess, map[string]string{
		"run_id": start.ID.String(),
	})
	return start, nil
}

// LatestRun returns the most recent START row of version, or nil when the
// version never ran.
func (a *AuditLog) LatestRun(ctx context.Context, version string) (*entity.MigrationRun, error) {
	runs, err := a.runs.Find(ctx, repository.RunFilter{Version: version, Phase: entity.RunPhaseStart, Limit: 1})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find migration runs", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// LatestSuccess returns the most recent successful START row. An empty
// version matches every version.
func (a *AuditLog) LatestSuccess(ctx context.Context, version string) (*entity.MigrationRun, error) {
	runs, err := a.runs.Find(ctx, repository.RunFilter{
		Version: version,
		Phase:   entity.RunPhaseStart,
		Status:  entity.RunStatusSuccess,
		Limit:   1,
	})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find migration runs", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// Status returns the latest START row per version, ordered by version
func (a *AuditLog) Status(ctx context.Context) ([]*entity.MigrationRun, error) {
	runs, err := a.runs.Find(ctx, repository.RunFilter{Phase: entity.RunPhaseStart})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find migration runs", err)
	}

	seen := make(map[string]struct{})
	var latest []*entity.MigrationRun
	for _, run := range runs {
		if _, ok := seen[run.Version]; ok {
			continue
		}
		seen[run.Version] = struct{}{}
		latest = append(latest, run)
	}
	sort.Slice(latest, func(i, j int) bool { return entity.CompareVersions(latest[i].Version, latest[j].Version) < 0 })
	return latest, nil
}

// Record appends a generic audit entry and publishes it to the audit hooks.
// A store failure is logged and returned; hook failures are only logged.
// Recording on a nil AuditLog is a no-op.
func (a *AuditLog) Record(ctx context.Context, ec entity.ExecutionContext, action, resource string, outcome entity.AuditOutcome, detail map[string]string) (*entity.AuditEntry, error) {
	if a == nil {
		return nil, nil
	}
	entry := &entity.AuditEntry{
		ID:            uuid.New(),
		Actor:         ec.Principal(),
		TenantID:      ec.TenantID,
		Action:        action,
		Resource:      resource,
		Outcome:       outcome,
		Detail:        detail,
		CorrelationID: ec.CorrelationID,
		Timestamp:     a.now(),
	}
	if err := a.audit.Append(ctx, entry); err != nil {
		a.logger.Error("Failed to append audit entry",
			zap.String("action", action),
			zap.String("resource", resource),
			zap.Error(err))
		return nil, common.ErrDatabaseQuery("append audit entry", err)
	}

	a.hooksMu.RLock()
	hooks := append([]repository.AuditHook(nil), a.hooks...)
	a.hooksMu.RUnlock()
	for _, hook := range hooks {
		if err := hook.PublishAudit(ctx, entry); err != nil {
			a.logger.Warn("Audit hook failed", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		}
	}
	return entry, nil
}

// Runs returns migration runs, newest first
func (a *AuditLog) Runs(ctx context.Context, filter repository.RunFilter) ([]*entity.MigrationRun, error) {
	runs, err := a.runs.Find(ctx, filter)
	if err != nil {
		return nil, common.ErrDatabaseQuery("find migration runs", err)
	}
	return runs, nil
}

// Entries returns audit entries, newest first
func (a *AuditLog) Entries(ctx context.Context, filter repository.AuditFilter) ([]*entity.AuditEntry, error) {
	entries, err := a.audit.Find(ctx, filter)
	if err != nil {
		return nil, common.ErrDatabaseQuery("find audit entries", err)
	}
	return entries, nil
}
