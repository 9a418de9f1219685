package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// ExecutorConfig configures the migration executor
type ExecutorConfig struct {
	LockName string `mapstructure:"lock_name" yaml:"lock_name" json:"lock_name"`
	// BackupsEnabled takes a pre_migration backup before critical units
	BackupsEnabled bool `mapstructure:"backups_enabled" yaml:"backups_enabled" json:"backups_enabled"`
	// AutoRollback rolls a failed version back when it has a pre_migration backup
	AutoRollback bool `mapstructure:"auto_rollback" yaml:"auto_rollback" json:"auto_rollback"`
}

// DefaultExecutorConfig returns the default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{LockName: DefaultLockName, BackupsEnabled: true}
}

// ExecutorDependencies are the collaborators of the executor
type ExecutorDependencies struct {
	Audit     *AuditLog
	Backups   *BackupManager
	Bus       *MonitoringBus
	Rollback  *RollbackEngine
	Inspector repository.SchemaInspector
	Runner    repository.StatementRunner
	Locker    repository.Locker
}

// UnitResult is the outcome of applying one migration unit
type UnitResult struct {
	Version    string           `json:"version"`
	Name       string           `json:"name"`
	Status     entity.RunStatus `json:"status"`
	RunID      uuid.UUID        `json:"run_id"`
	BackupID   *uuid.UUID       `json:"backup_id,omitempty"`
	Statements int              `json:"statements"`
	Duration   time.Duration    `json:"duration"`
	Error      string           `json:"error,omitempty"`
}

// ApplyReport summarises one Apply call
type ApplyReport struct {
	Applied  []UnitResult              `json:"applied"`
	Skipped  []string                  `json:"skipped,omitempty"`
	Failed   *UnitResult               `json:"failed,omitempty"`
	Rollback *entity.RollbackExecution `json:"rollback,omitempty"`
}

// Executor applies ordered migration units exactly once
type Executor struct {
	deps   ExecutorDependencies
	config ExecutorConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor creates a migration executor
func NewExecutor(deps ExecutorDependencies, config ExecutorConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.LockName = common.Coalesce(config.LockName, DefaultLockName)
	return &Executor{
		deps:   deps,
		config: config,
		logger: logger.Named("executor"),
		now:    time.Now,
	}
}

func sortUnits(units []entity.MigrationUnit) ([]entity.MigrationUnit, error) {
	sorted := append([]entity.MigrationUnit(nil), units...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return entity.CompareVersions(sorted[i].Version, sorted[j].Version) < 0
	})

	var errs common.ValidationErrors
	for i, u := range sorted {
		if strings.TrimSpace(u.Version) == "" {
			errs.Add("version", "is required", u.Name)
			continue
		}
		if i > 0 && entity.CompareVersions(sorted[i-1].Version, u.Version) == 0 {
			errs.Add("version", "is declared more than once", u.Version)
		}
	}
	if errs.HasErrors() {
		return nil, errs.ToAppError()
	}
	return sorted, nil
}

// Pending returns the units not yet applied successfully, in version order
func (x *Executor) Pending(ctx context.Context, units []entity.MigrationUnit) ([]entity.MigrationUnit, error) {
	sorted, err := sortUnits(units)
	if err != nil {
		return nil, err
	}
	pending := make([]entity.MigrationUnit, 0, len(sorted))
	for _, u := range sorted {
		run, err := x.deps.Audit.LatestRun(ctx, u.Version)
		if err != nil {
			return nil, err
		}
		if run != nil && run.Status == entity.RunStatusSuccess {
			continue
		}
		pending = append(pending, u)
	}
	return pending, nil
}

// Status returns the latest run of every tracked version
func (x *Executor) Status(ctx context.Context) ([]*entity.MigrationRun, error) {
	return x.deps.Audit.Status(ctx)
}

// Apply runs every pending unit in version order under the global migration
// lock. The first failure stops the batch.
func (x *Executor) Apply(ctx context.Context, ec entity.ExecutionContext, units []entity.MigrationUnit) (*ApplyReport, error) {
	sorted, err := sortUnits(units)
	if err != nil {
		return nil, err
	}

	report, failedUnit, err := x.applyLocked(ctx, ec, sorted)
	if failedUnit != nil && x.config.AutoRollback && x.deps.Rollback != nil {
		report.Rollback = x.autoRollback(ctx, ec, *failedUnit)
	}
	return report, err
}

func (x *Executor) applyLocked(ctx context.Context, ec entity.ExecutionContext, units []entity.MigrationUnit) (*ApplyReport, *entity.MigrationUnit, error) {
	lease, acquired, err := x.deps.Locker.TryAcquire(ctx, x.config.LockName)
	if err != nil {
		return nil, nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "acquire migration lock")
	}
	if !acquired {
		lockErr := entity.NewLockContentionError(x.config.LockName, "migration in progress")
		x.deps.Bus.Emit(ctx, EventInput{
			Type:          entity.EventLockContention,
			Severity:      entity.SeverityError,
			Message:       "Migration lock " + x.config.LockName + " is held by another caller",
			CorrelationID: ec.CorrelationID,
			Detail:        entity.MigrationDetail{Error: lockErr.Error()},
		})
		return nil, nil, lockErr
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			x.logger.Error("Failed to release migration lock", zap.String("lock", lease.Name()), zap.Error(err))
		}
	}()

	report := &ApplyReport{}
	for i := range units {
		unit := units[i]
		run, err := x.deps.Audit.LatestRun(ctx, unit.Version)
		if err != nil {
			return report, nil, err
		}
		if run != nil && run.Status == entity.RunStatusSuccess {
			report.Skipped = append(report.Skipped, unit.Version)
			continue
		}

		result, err := x.applyUnit(ctx, ec, unit)
		if err != nil {
			report.Failed = &result
			return report, &unit, err
		}
		report.Applied = append(report.Applied, result)
	}

	x.logger.Info("Migrations applied",
		zap.Int("applied", len(report.Applied)),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil, nil
}

func (x *Executor) checksum(ctx context.Context) (string, error) {
	snapshot, err := x.deps.Inspector.Snapshot(ctx)
	if err != nil {
		return "", common.WrapError(err, common.ErrCodeDatabaseQuery, "capture schema snapshot")
	}
	return snapshot.Checksum(), nil
}

// applyUnit runs one unit. The pre_migration backup is taken before the
// START row so that it predates the run.
func (x *Executor) applyUnit(ctx context.Context, ec entity.ExecutionContext, unit entity.MigrationUnit) (UnitResult, error) {
	result := UnitResult{Version: unit.Version, Name: unit.Name, Status: entity.RunStatusFailed}
	started := x.now()
	class := unit.Classify()

	before, err := x.checksum(ctx)
	if err != nil {
		result.RunID = x.recordAborted(ctx, ec, unit, "checksum", err)
		x.emitFailed(ctx, ec, unit, migrationDetail(unit, result.RunID, err))
		result.Error = err.Error()
		return result, err
	}
	x.checkDrift(ctx, ec, unit, before)

	var backupErr error
	if class.Critical && x.config.BackupsEnabled {
		b, err := x.deps.Backups.CreateBackup(ctx, ec, BackupRequest{
			Version:     unit.Version,
			Type:        entity.BackupTypePreMigration,
			IncludeData: class.DataLossRisk == entity.DataLossRiskHigh,
			Tables:      unit.AffectedTables,
		})
		if err != nil {
			backupErr = err
		} else {
			result.BackupID = &b.ID
		}
	}

	run, err := x.deps.Audit.RecordStart(ctx, ec, unit, before)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.RunID = run.ID

	x.deps.Bus.Emit(ctx, EventInput{
		Version:       unit.Version,
		Type:          entity.EventMigrationStarted,
		Severity:      entity.SeverityInfo,
		Message:       fmt.Sprintf("Migration %s (%s) started", unit.Version, unit.Name),
		CorrelationID: ec.CorrelationID,
		Detail: entity.MigrationDetail{
			RunID:          run.ID.String(),
			Name:           unit.Name,
			Statements:     len(unit.Statements),
			ChecksumBefore: before,
		},
	})

	var runErr error
	executed := 0
	errorDetail := map[string]string{}
	switch {
	case backupErr != nil:
		runErr = backupErr
		errorDetail["stage"] = "backup"
	default:
		n, err := x.deps.Runner.ExecStatements(ctx, unit.Statements)
		if err != nil {
			runErr = entity.NewScriptExecutionError(unit.Version, n+1, err)
			errorDetail["stage"] = "statements"
			errorDetail["statement"] = strconv.Itoa(n + 1)
		} else {
			executed = n
		}
	}
	if runErr != nil {
		errorDetail["code"] = string(common.CodeOf(runErr))
	} else {
		errorDetail = nil
	}

	after, err := x.checksum(ctx)
	if err != nil {
		x.logger.Warn("Failed to capture schema after migration", zap.String("version", unit.Version), zap.Error(err))
	}

	duration := x.now().Sub(started)
	status := entity.RunStatusSuccess
	if runErr != nil {
		status = entity.RunStatusFailed
	}
	if _, err := x.deps.Audit.RecordCompletion(ctx, ec, Completion{
		Version:        unit.Version,
		Status:         status,
		Err:            runErr,
		ErrorDetail:    errorDetail,
		AffectedTables: unit.AffectedTables,
		Metrics: map[string]float64{
			MetricDurationSeconds:    duration.Seconds(),
			MetricStatementsExecuted: float64(executed),
		},
		ChecksumAfter: after,
	}); err != nil {
		x.logger.Error("Failed to record migration completion", zap.String("version", unit.Version), zap.Error(err))
		if runErr == nil {
			runErr = err
			status = entity.RunStatusFailed
		}
	}

	result.Status = status
	result.Statements = executed
	result.Duration = duration

	detail := migrationDetail(unit, run.ID, runErr)
	detail.Statements = executed
	detail.DurationSeconds = duration.Seconds()
	detail.ChecksumBefore = before
	detail.ChecksumAfter = after
	if runErr != nil {
		result.Error = runErr.Error()
		x.emitFailed(ctx, ec, unit, detail)
	} else {
		x.deps.Bus.Emit(ctx, EventInput{
			Version:       unit.Version,
			Type:          entity.EventMigrationCompleted,
			Severity:      entity.SeverityInfo,
			Message:       fmt.Sprintf("Migration %s (%s) completed in %s", unit.Version, unit.Name, duration.Round(time.Millisecond)),
			CorrelationID: ec.CorrelationID,
			Detail:        detail,
		})
	}

	x.deps.Bus.Observe(ctx, MetricInput{
		Version:       unit.Version,
		Name:          MetricDurationSeconds,
		Value:         duration.Seconds(),
		Unit:          "seconds",
		Kind:          entity.MetricTiming,
		Context:       map[string]string{"status": string(status)},
		CorrelationID: ec.CorrelationID,
	})
	x.deps.Bus.Observe(ctx, MetricInput{
		Version:       unit.Version,
		Name:          MetricStatementsExecuted,
		Value:         float64(executed),
		Kind:          entity.MetricCounter,
		CorrelationID: ec.CorrelationID,
	})

	x.logger.Info("Migration finished",
		zap.String("version", unit.Version),
		zap.String("name", unit.Name),
		zap.String("status", string(status)),
		zap.Int("statements", executed),
		zap.Duration("duration", duration))
	return result, runErr
}

// migrationDetail builds the event detail of a unit and its run
func migrationDetail(unit entity.MigrationUnit, runID uuid.UUID, err error) entity.MigrationDetail {
	detail := entity.MigrationDetail{Name: unit.Name, Statements: len(unit.Statements)}
	if runID != uuid.Nil {
		detail.RunID = runID.String()
	}
	if err != nil {
		detail.Error = err.Error()
		if appErr := common.GetAppError(err); appErr != nil {
			if n, ok := appErr.Context["statement"].(int); ok {
				detail.FailedStatement = n
			}
		}
	}
	return detail
}

// recordAborted writes a FAILED START/COMPLETE pair for a unit that stopped
// before its statements ran. It returns the START row id, or uuid.Nil when
// the pair could not be written.
func (x *Executor) recordAborted(ctx context.Context, ec entity.ExecutionContext, unit entity.MigrationUnit, stage string, cause error) uuid.UUID {
	run, err := x.deps.Audit.RecordStart(ctx, ec, unit, "")
	if err != nil {
		x.logger.Error("Failed to record aborted migration start",
			zap.String("version", unit.Version),
			zap.String("stage", stage),
			zap.Error(err))
		return uuid.Nil
	}
	if _, err := x.deps.Audit.RecordCompletion(ctx, ec, Completion{
		Version: unit.Version,
		Status:  entity.RunStatusFailed,
		Err:     cause,
		ErrorDetail: map[string]string{
			"stage": stage,
			"code":  string(common.CodeOf(cause)),
		},
		AffectedTables: unit.AffectedTables,
	}); err != nil {
		x.logger.Error("Failed to record aborted migration completion",
			zap.String("version", unit.Version),
			zap.String("stage", stage),
			zap.Error(err))
	}
	return run.ID
}

func (x *Executor) emitFailed(ctx context.Context, ec entity.ExecutionContext, unit entity.MigrationUnit, detail entity.MigrationDetail) {
	x.deps.Bus.Emit(ctx, EventInput{
		Version:       unit.Version,
		Type:          entity.EventMigrationFailed,
		Severity:      entity.SeverityError,
		Message:       fmt.Sprintf("Migration %s (%s) failed", unit.Version, unit.Name),
		CorrelationID: ec.CorrelationID,
		Detail:        detail,
	})
}

// checkDrift compares the live checksum with the one recorded after the last
// successful run
func (x *Executor) checkDrift(ctx context.Context, ec entity.ExecutionContext, unit entity.MigrationUnit, before string) {
	last, err := x.deps.Audit.LatestSuccess(ctx, "")
	if err != nil {
		x.logger.Warn("Failed to load last successful run", zap.Error(err))
		return
	}
	if last == nil || last.ChecksumAfter == "" || last.ChecksumAfter == before {
		return
	}
	x.deps.Bus.Emit(ctx, EventInput{
		Version:       unit.Version,
		Type:          entity.EventSchemaDriftDetected,
		Severity:      entity.SeverityWarning,
		Message:       fmt.Sprintf("Schema changed outside migrations since version %s", last.Version),
		CorrelationID: ec.CorrelationID,
		Detail: entity.MigrationDetail{
			RunID:          last.ID.String(),
			Name:           unit.Name,
			ChecksumBefore: before,
			ChecksumAfter:  last.ChecksumAfter,
		},
	})
}

// autoRollback restores the failed unit's pre_migration backup. It runs after
// the migration lock is released.
func (x *Executor) autoRollback(ctx context.Context, ec entity.ExecutionContext, unit entity.MigrationUnit) *entity.RollbackExecution {
	plan, err := x.deps.Rollback.GeneratePlan(ctx, ec, PlanRequest{Version: unit.Version, Unit: &unit})
	if err != nil {
		x.logger.Warn("Automatic rollback skipped", zap.String("version", unit.Version), zap.Error(err))
		return nil
	}
	execution, err := x.deps.Rollback.Execute(ctx, ec, plan, ExecuteOptions{
		AutoApprove: true,
		Reason:      "automatic rollback of failed migration " + unit.Version,
	})
	if err != nil {
		x.logger.Error("Automatic rollback failed", zap.String("version", unit.Version), zap.Error(err))
	}
	return execution
}
