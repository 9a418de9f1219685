package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// Validation check names
const (
	CheckSchemaSnapshot      = "schema_snapshot"
	CheckBackupTablesPresent = "backup_tables_present"
	CheckChecksumMatch       = "checksum_match"
	CheckNoRunningMigration  = "no_running_migration"
	CheckTrackingStatus      = "tracking_status"
)

// DefaultLockName is the global migration lock
const DefaultLockName = "migration-guard"

// RollbackConfig configures the rollback engine
type RollbackConfig struct {
	LockName string `mapstructure:"lock_name" yaml:"lock_name" json:"lock_name"`
	// DurationMargin is added to the summed step estimates
	DurationMargin float64 `mapstructure:"duration_margin" yaml:"duration_margin" json:"duration_margin"`
}

// DefaultRollbackConfig returns the default rollback configuration
func DefaultRollbackConfig() RollbackConfig {
	return RollbackConfig{LockName: DefaultLockName, DurationMargin: 0.2}
}

// RollbackDependencies are the collaborators of the rollback engine
type RollbackDependencies struct {
	Backups    *BackupManager
	Audit      *AuditLog
	Bus        *MonitoringBus
	Executions repository.RollbackRepository
	Inspector  repository.SchemaInspector
	Runner     repository.StatementRunner
	Restorer   repository.Restorer
	Locker     repository.Locker
}

// PlanRequest describes the rollback to plan
type PlanRequest struct {
	Version string
	// BackupID selects an explicit target; uuid.Nil selects the latest pre_migration backup
	BackupID uuid.UUID
	// Unit supplies down statements and classification when known
	Unit              *entity.MigrationUnit
	ValidationQueries []string
}

// ExecuteOptions control a rollback execution
type ExecuteOptions struct {
	DryRun      bool
	AutoApprove bool
	Emergency   bool
	Reason      string
}

// RollbackEngine plans and executes rollbacks of migration versions
type RollbackEngine struct {
	deps     RollbackDependencies
	config   RollbackConfig
	handlers StepHandlers
	steps    stepRunner
	logger   *zap.Logger
	now      func() time.Time
}

// NewRollbackEngine creates a rollback engine
func NewRollbackEngine(deps RollbackDependencies, config RollbackConfig, logger *zap.Logger) *RollbackEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.LockName == "" {
		config.LockName = DefaultLockName
	}
	if config.DurationMargin < 0 {
		config.DurationMargin = 0
	}
	logger = logger.Named("rollback")
	e := &RollbackEngine{
		deps:     deps,
		config:   config,
		handlers: make(StepHandlers),
		logger:   logger,
		now:      time.Now,
	}
	e.steps = stepRunner{logger: logger, now: func() time.Time { return e.now() }}
	return e
}

// RegisterHandler makes a custom step handler available to plans
func (e *RollbackEngine) RegisterHandler(name string, fn StepFunc) {
	e.handlers[name] = fn
}

// GeneratePlan builds the ordered rollback steps for a version. It fails with
// MISSING_BACKUP when no usable target backup exists.
func (e *RollbackEngine) GeneratePlan(ctx context.Context, ec entity.ExecutionContext, req PlanRequest) (*entity.RollbackPlan, error) {
	if strings.TrimSpace(req.Version) == "" {
		return nil, common.ErrInvalidInput("version")
	}

	target, err := e.selectBackup(ctx, req)
	if err != nil {
		e.deps.Bus.Emit(ctx, EventInput{
			Version:       req.Version,
			Type:          entity.EventPreconditionFailed,
			Severity:      entity.SeverityError,
			Message:       "Rollback plan for version " + req.Version + " has no usable backup",
			CorrelationID: ec.CorrelationID,
			Detail:        entity.RollbackDetail{Error: err.Error()},
		})
		return nil, err
	}

	run, err := e.deps.Audit.LatestRun(ctx, req.Version)
	if err != nil {
		return nil, err
	}

	plan := &entity.RollbackPlan{
		ID:           uuid.New(),
		Version:      req.Version,
		BackupID:     target.ID,
		DataLossRisk: dataLossRisk(req.Unit, run),
		CreatedAt:    e.now(),
		CreatedBy:    ec.Principal(),
	}
	switch {
	case req.Unit != nil:
		plan.MigrationName = req.Unit.Name
		plan.AffectedTables = common.UniqueSorted(req.Unit.AffectedTables)
	case run != nil:
		plan.MigrationName = run.Name
		plan.AffectedTables = common.UniqueSorted(run.AffectedTables)
	}

	plan.ValidationQueries = req.ValidationQueries
	if len(plan.ValidationQueries) == 0 {
		plan.ValidationQueries = defaultValidationQueries(plan.AffectedTables)
	}

	plan.Steps = entity.NumberSteps(e.planSteps(plan, target, req.Unit))
	plan.EstimatedDuration = time.Duration(float64(entity.TotalEstimate(plan.Steps)) * (1 + e.config.DurationMargin))
	plan.RequiresApproval = plan.DataLossRisk == entity.DataLossRiskHigh

	e.logger.Info("Rollback plan generated",
		zap.String("version", plan.Version),
		zap.String("backup_id", plan.BackupID.String()),
		zap.Int("steps", len(plan.Steps)),
		zap.String("data_loss_risk", string(plan.DataLossRisk)),
		zap.Bool("requires_approval", plan.RequiresApproval))

	return plan, nil
}

func (e *RollbackEngine) selectBackup(ctx context.Context, req PlanRequest) (*entity.Backup, error) {
	if req.BackupID == uuid.Nil {
		return e.deps.Backups.LatestCompleted(ctx, req.Version, entity.BackupTypePreMigration)
	}

	b, err := e.deps.Backups.Get(ctx, req.BackupID)
	if err != nil {
		return nil, err
	}
	if b.Version != req.Version {
		return nil, common.ErrValidationFailed(fmt.Sprintf("backup %s belongs to version %s", b.ID, b.Version))
	}
	if b.IsExpiredAt(e.now()) {
		return nil, entity.NewMissingBackupError(req.Version, b.Type, fmt.Sprintf("backup %s has expired", b.ID))
	}
	if b.Status != entity.BackupStatusCompleted {
		return nil, entity.NewBackupValidationError(b.ID.String(), "backup status is "+string(b.Status))
	}
	return b, nil
}

// dataLossRisk prefers the unit classification, then the recorded run,
// then the name heuristic.
func dataLossRisk(unit *entity.MigrationUnit, run *entity.MigrationRun) entity.DataLossRisk {
	if unit != nil {
		return unit.Classify().DataLossRisk
	}
	if run == nil {
		return entity.DataLossRiskUnknown
	}
	if run.DataLossRisk != "" {
		return run.DataLossRisk
	}
	return entity.ClassifyByName(run.Name).DataLossRisk
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func defaultValidationQueries(tables []string) []string {
	queries := []string{"SELECT 1"}
	for _, t := range tables {
		queries = append(queries, "SELECT COUNT(*) FROM "+quoteIdent(t))
	}
	return queries
}

func (e *RollbackEngine) planSteps(plan *entity.RollbackPlan, target *entity.Backup, unit *entity.MigrationUnit) []entity.Step {
	steps := []entity.Step{
		{
			Name:              entity.StepNamePreRollbackBackup,
			Action:            entity.StepActionCreateBackup,
			Description:       "Capture the current schema before rolling back",
			Critical:          true,
			EstimatedDuration: 2 * time.Minute,
			Params:            map[string]string{"type": string(entity.BackupTypeRollbackPoint)},
		},
		{
			Name:              entity.StepNameValidateTargetBackup,
			Action:            entity.StepActionValidateBackup,
			Description:       "Verify the target backup payload and checksum",
			Critical:          true,
			EstimatedDuration: 30 * time.Second,
			Params:            map[string]string{"backup_id": target.ID.String()},
		},
	}

	if unit != nil && len(unit.Down) > 0 {
		steps = append(steps, entity.Step{
			Name:              "revert migration statements",
			Action:            entity.StepActionRevertStatements,
			Description:       "Execute the down statements of " + plan.Version,
			Critical:          true,
			EstimatedDuration: time.Duration(len(unit.Down)) * 10 * time.Second,
			SQL:               unit.Down,
		})
	} else {
		steps = append(steps, entity.Step{
			Name:              "restore schema snapshot",
			Action:            entity.StepActionRestoreSchema,
			Description:       "Restore the schema captured by backup " + target.ID.String(),
			Critical:          true,
			EstimatedDuration: 5 * time.Minute,
			Params:            map[string]string{"tables": strings.Join(plan.AffectedTables, ",")},
		})
	}

	if len(target.DataTables) > 0 {
		steps = append(steps, entity.Step{
			Name:              "restore table data",
			Action:            entity.StepActionRestoreData,
			Description:       "Restore data of " + strings.Join(target.DataTables, ", "),
			EstimatedDuration: 10 * time.Minute,
			Params:            map[string]string{"tables": strings.Join(target.DataTables, ",")},
		})
	}

	return append(steps,
		entity.Step{
			Name:              entity.StepNameValidateRollback,
			Action:            entity.StepActionValidateRollback,
			Description:       "Compare the live schema with the target backup",
			Critical:          true,
			EstimatedDuration: time.Minute,
		},
		entity.Step{
			Name:              entity.StepNamePostRollbackValidation,
			Action:            entity.StepActionPostRollbackValidation,
			Description:       "Run the validation queries",
			EstimatedDuration: time.Minute,
			SQL:               plan.ValidationQueries,
		},
	)
}

// rollbackState is shared by the steps of one execution
type rollbackState struct {
	ec        entity.ExecutionContext
	execution *entity.RollbackExecution
	target    *entity.Backup
	payload   *entity.BackupPayload
}

// Execute runs a plan. Mutating steps are simulated in dry-run; a critical
// step failure halts the run with STEP_EXECUTION. The returned execution is
// non-nil whenever the run started.
func (e *RollbackEngine) Execute(ctx context.Context, ec entity.ExecutionContext, plan *entity.RollbackPlan, opts ExecuteOptions) (*entity.RollbackExecution, error) {
	if plan == nil {
		return nil, common.ErrInvalidInput("plan")
	}
	if err := e.checkPlan(plan); err != nil {
		return nil, err
	}
	if plan.RequiresApproval && !opts.AutoApprove && !opts.DryRun {
		err := common.ErrValidationFailed("plan has high data loss risk and requires approval").
			WithContext("version", plan.Version)
		e.deps.Bus.Emit(ctx, EventInput{
			Version:       plan.Version,
			Type:          entity.EventPreconditionFailed,
			Severity:      entity.SeverityWarning,
			Message:       "Rollback of " + plan.Version + " requires approval",
			CorrelationID: ec.CorrelationID,
			Detail:        entity.RollbackDetail{PlanID: plan.ID.String(), Error: err.Error()},
		})
		return nil, err
	}

	target, err := e.deps.Backups.Get(ctx, plan.BackupID)
	if err != nil {
		return nil, err
	}

	execution := &entity.RollbackExecution{
		ID:            uuid.New(),
		PlanID:        plan.ID,
		Version:       plan.Version,
		BackupID:      plan.BackupID,
		Status:        entity.RollbackStatusInitiated,
		DryRun:        opts.DryRun,
		Emergency:     opts.Emergency,
		Reason:        opts.Reason,
		Plan:          plan,
		StartedAt:     e.now(),
		InitiatedBy:   ec.Principal(),
		TenantID:      ec.TenantID,
		CorrelationID: ec.CorrelationID,
	}
	if err := e.deps.Executions.Create(ctx, execution); err != nil {
		return nil, common.ErrDatabaseQuery("create rollback execution", err)
	}

	if !opts.DryRun {
		lease, err := e.acquireLock(ctx, ec, plan.Version)
		if err != nil {
			execution.Status = entity.RollbackStatusFailed
			return execution, e.finish(ctx, ec, execution, err)
		}
		defer e.releaseLock(ctx, lease)
	}

	initiated := entity.SeverityWarning
	if opts.Emergency {
		initiated = entity.SeverityCritical
	}
	e.deps.Bus.Emit(ctx, EventInput{
		Version:       plan.Version,
		Type:          entity.EventRollbackInitiated,
		Severity:      initiated,
		Message:       fmt.Sprintf("Rollback of version %s initiated by %s", plan.Version, ec.Principal()),
		CorrelationID: ec.CorrelationID,
		Detail:        rollbackDetail(execution, nil),
	})

	execution.Status = entity.RollbackStatusInProgress
	if err := e.deps.Executions.Update(ctx, execution); err != nil {
		return execution, common.ErrDatabaseQuery("update rollback execution", err)
	}

	state := &rollbackState{ec: ec, execution: execution, target: target}
	outcome := e.steps.run(ctx, plan.Steps, opts.DryRun, func(ctx context.Context, step entity.Step) (string, error) {
		return e.runStep(ctx, state, step)
	})
	execution.ExecutedSteps = outcome.Executed
	execution.FailedSteps = outcome.Failed

	var runErr error
	switch {
	case outcome.CriticalErr != nil:
		execution.Status = entity.RollbackStatusFailed
		runErr = outcome.CriticalErr
	case outcome.Interrupted != nil:
		execution.Status = entity.RollbackStatusFailed
		runErr = common.NewAppErrorWithCause(common.ErrCodeTimeout, "rollback interrupted", outcome.Interrupted)
	case len(outcome.Failed) > 0:
		execution.Status = entity.RollbackStatusPartial
	default:
		execution.Status = entity.RollbackStatusCompleted
	}

	if execution.Status == entity.RollbackStatusCompleted && !opts.DryRun {
		if _, err := e.deps.Audit.MarkRolledBack(ctx, ec, plan.Version); err != nil {
			if !common.HasErrorCode(err, common.ErrCodeNotFound) {
				return execution, e.finish(ctx, ec, execution, err)
			}
			e.logger.Warn("No migration run to mark rolled back", zap.String("version", plan.Version))
		}
		if _, err := e.deps.Backups.MarkRestored(ctx, plan.BackupID); err != nil {
			e.logger.Warn("Failed to mark backup restored", zap.String("backup_id", plan.BackupID.String()), zap.Error(err))
		}
	}

	return execution, e.finish(ctx, ec, execution, runErr)
}

func (e *RollbackEngine) checkPlan(plan *entity.RollbackPlan) error {
	if err := plan.CheckBracketing(); err != nil {
		return common.ErrValidationFailed(err.Error())
	}
	for _, step := range plan.Steps {
		if !step.Action.Known() {
			return common.ErrValidationFailed(fmt.Sprintf("step %q has unknown action %q", step.Name, step.Action))
		}
		if step.Action == entity.StepActionCustom {
			if _, ok := e.handlers[step.Handler]; !ok {
				return common.ErrValidationFailed(fmt.Sprintf("step %q uses unregistered handler %q", step.Name, step.Handler))
			}
		}
	}
	return nil
}

func (e *RollbackEngine) acquireLock(ctx context.Context, ec entity.ExecutionContext, version string) (repository.Lease, error) {
	lease, acquired, err := e.deps.Locker.TryAcquire(ctx, e.config.LockName)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "acquire migration lock")
	}
	if !acquired {
		lockErr := entity.NewLockContentionError(e.config.LockName, "another migration or rollback holds the lock")
		e.deps.Bus.Emit(ctx, EventInput{
			Version:       version,
			Type:          entity.EventLockContention,
			Severity:      entity.SeverityError,
			Message:       "Migration lock " + e.config.LockName + " is held",
			CorrelationID: ec.CorrelationID,
			Detail:        entity.RollbackDetail{Error: lockErr.Error()},
		})
		return nil, lockErr
	}
	return lease, nil
}

func (e *RollbackEngine) releaseLock(ctx context.Context, lease repository.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("Failed to release migration lock", zap.String("lock", lease.Name()), zap.Error(err))
	}
}

// finish stamps, persists and reports a terminal execution and returns runErr
func (e *RollbackEngine) finish(ctx context.Context, ec entity.ExecutionContext, execution *entity.RollbackExecution, runErr error) error {
	completed := e.now()
	execution.CompletedAt = &completed
	execution.Duration = completed.Sub(execution.StartedAt)
	if err := e.deps.Executions.Update(ctx, execution); err != nil {
		e.logger.Error("Failed to persist rollback execution", zap.String("execution_id", execution.ID.String()), zap.Error(err))
	}

	input := EventInput{
		Version:       execution.Version,
		CorrelationID: ec.CorrelationID,
		Detail:        rollbackDetail(execution, runErr),
	}
	outcome := entity.AuditOutcomeSuccess
	switch execution.Status {
	case entity.RollbackStatusCompleted:
		input.Type, input.Severity = entity.EventRollbackCompleted, entity.SeverityInfo
		input.Message = "Rollback of version " + execution.Version + " completed"
	case entity.RollbackStatusPartial:
		input.Type, input.Severity = entity.EventRollbackCompleted, entity.SeverityWarning
		input.Message = "Rollback of version " + execution.Version + " completed with failed non-critical steps"
	default:
		input.Type, input.Severity = entity.EventRollbackFailed, entity.SeverityError
		if execution.Emergency {
			input.Severity = entity.SeverityCritical
		}
		input.Message = "Rollback of version " + execution.Version + " failed"
		outcome = entity.AuditOutcomeFailure
	}
	e.deps.Bus.Emit(ctx, input)
	e.deps.Audit.Record(ctx, ec, AuditActionRollbackExecute, "migration:"+execution.Version, outcome, map[string]string{
		"execution_id": execution.ID.String(),
		"status":       string(execution.Status),
		"dry_run":      fmt.Sprint(execution.DryRun),
	})

	e.logger.Info("Rollback finished",
		zap.String("execution_id", execution.ID.String()),
		zap.String("version", execution.Version),
		zap.String("status", string(execution.Status)),
		zap.Duration("duration", execution.Duration))
	return runErr
}

func rollbackDetail(execution *entity.RollbackExecution, err error) entity.RollbackDetail {
	detail := entity.RollbackDetail{
		ExecutionID: execution.ID.String(),
		PlanID:      execution.PlanID.String(),
		BackupID:    execution.BackupID.String(),
		Status:      string(execution.Status),
		DryRun:      execution.DryRun,
		Emergency:   execution.Emergency,
		Reason:      execution.Reason,
	}
	for _, r := range execution.FailedSteps {
		detail.FailedSteps = append(detail.FailedSteps, r.Name)
	}
	if err != nil {
		detail.Error = err.Error()
	}
	return detail
}

func (e *RollbackEngine) runStep(ctx context.Context, state *rollbackState, step entity.Step) (string, error) {
	version := state.execution.Version

	switch step.Action {
	case entity.StepActionCreateBackup:
		backupType := entity.BackupType(common.Coalesce(step.Params["type"], string(entity.BackupTypeRollbackPoint)))
		b, err := e.deps.Backups.CreateBackup(ctx, state.ec, BackupRequest{Version: version, Type: backupType})
		if err != nil {
			return "", err
		}
		return "created backup " + b.ID.String(), nil

	case entity.StepActionValidateBackup:
		b, err := e.deps.Backups.Validate(ctx, state.ec, state.target.ID)
		if err != nil {
			return "", err
		}
		state.target = b
		if _, err := e.loadPayload(ctx, state); err != nil {
			return "", err
		}
		return "checksum " + b.Checksum, nil

	case entity.StepActionRevertStatements, entity.StepActionCustomSQL:
		return e.execSQL(ctx, version, step.SQL)

	case entity.StepActionRestoreSchema:
		payload, err := e.loadPayload(ctx, state)
		if err != nil {
			return "", err
		}
		if err := e.deps.Restorer.RestoreSchema(ctx, payload.Schema, splitList(step.Params["tables"])); err != nil {
			return "", err
		}
		return fmt.Sprintf("restored %d tables", len(payload.Schema.Tables)), nil

	case entity.StepActionRestoreData:
		payload, err := e.loadPayload(ctx, state)
		if err != nil {
			return "", err
		}
		if payload.Data == nil {
			return "", errors.New("backup captured no table data")
		}
		if err := e.deps.Restorer.RestoreData(ctx, payload.Data); err != nil {
			return "", err
		}
		return fmt.Sprintf("restored data of %d tables", len(payload.Data.Tables)), nil

	case entity.StepActionValidateRollback:
		result := e.validate(ctx, state, true)
		state.execution.Validation = result
		if !result.Passed {
			names := make([]string, 0)
			for _, c := range result.Failed() {
				names = append(names, c.Name)
			}
			return "", fmt.Errorf("validation checks failed: %s", strings.Join(names, ", "))
		}
		return fmt.Sprintf("%d checks passed", len(result.Checks)), nil

	case entity.StepActionPostRollbackValidation:
		if len(step.SQL) == 0 {
			return "no validation queries", nil
		}
		return e.execSQL(ctx, version, step.SQL)

	case entity.StepActionNotify:
		e.deps.Bus.Emit(ctx, EventInput{
			Version:       version,
			Type:          entity.EventType(common.Coalesce(step.Params["event"], string(entity.EventRollbackInitiated))),
			Severity:      entity.SeverityInfo,
			Message:       step.Description,
			CorrelationID: state.ec.CorrelationID,
			Detail:        entity.CustomDetail{"step": step.Name},
		})
		return "notified", nil

	case entity.StepActionCustom:
		return e.handlers[step.Handler](ctx, step)
	}

	return "", fmt.Errorf("action %s is not supported in rollback plans", step.Action)
}

func (e *RollbackEngine) execSQL(ctx context.Context, version string, statements []string) (string, error) {
	executed, err := e.deps.Runner.ExecStatements(ctx, statements)
	if err != nil {
		return "", entity.NewScriptExecutionError(version, executed+1, err)
	}
	return fmt.Sprintf("executed %d statements", executed), nil
}

func (e *RollbackEngine) loadPayload(ctx context.Context, state *rollbackState) (*entity.BackupPayload, error) {
	if state.payload != nil {
		return state.payload, nil
	}
	payload, err := e.deps.Backups.LoadSnapshot(ctx, state.target)
	if err != nil {
		return nil, err
	}
	if payload.Schema == nil {
		return nil, entity.NewBackupValidationError(state.target.ID.String(), "payload has no schema snapshot")
	}
	state.payload = payload
	return payload, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return common.UniqueSorted(strings.Split(value, ","))
}

// validate compares the live database with the rollback target. Inside the
// validate step the tracking status is not yet updated and is skipped.
func (e *RollbackEngine) validate(ctx context.Context, state *rollbackState, inStep bool) *entity.ValidationResult {
	execution := state.execution
	result := &entity.ValidationResult{ValidatedAt: e.now()}
	add := func(c entity.ValidationCheck) { result.Checks = append(result.Checks, c) }

	snapshot, err := e.deps.Inspector.Snapshot(ctx)
	if err != nil {
		add(entity.ValidationCheck{Name: CheckSchemaSnapshot, Message: err.Error()})
	} else {
		add(entity.ValidationCheck{Name: CheckSchemaSnapshot, Passed: true})
	}

	payload, payloadErr := e.loadPayload(ctx, state)
	switch {
	case payloadErr != nil:
		add(entity.ValidationCheck{Name: CheckBackupTablesPresent, Message: payloadErr.Error()})
	case snapshot == nil:
		add(entity.ValidationCheck{Name: CheckBackupTablesPresent, Message: "no live snapshot"})
	default:
		var missing []string
		for _, name := range payload.Schema.TableNames() {
			if _, ok := snapshot.Table(name); !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			add(entity.ValidationCheck{Name: CheckBackupTablesPresent, Message: "missing tables: " + strings.Join(missing, ", ")})
		} else {
			add(entity.ValidationCheck{Name: CheckBackupTablesPresent, Passed: true})
		}
	}

	switch {
	case execution.DryRun:
		add(entity.ValidationCheck{Name: CheckChecksumMatch, Skipped: true, Message: "dry-run"})
	case snapshot == nil:
		add(entity.ValidationCheck{Name: CheckChecksumMatch, Message: "no live snapshot"})
	case snapshot.Checksum() != state.target.Checksum:
		add(entity.ValidationCheck{Name: CheckChecksumMatch,
			Message: fmt.Sprintf("live checksum %s differs from backup %s", snapshot.Checksum(), state.target.Checksum)})
	default:
		add(entity.ValidationCheck{Name: CheckChecksumMatch, Passed: true})
	}

	running, err := e.deps.Audit.Runs(ctx, repository.RunFilter{
		Version: execution.Version,
		Phase:   entity.RunPhaseStart,
		Status:  entity.RunStatusRunning,
		Limit:   1,
	})
	switch {
	case err != nil:
		add(entity.ValidationCheck{Name: CheckNoRunningMigration, Message: err.Error()})
	case len(running) > 0:
		add(entity.ValidationCheck{Name: CheckNoRunningMigration, Message: "run " + running[0].ID.String() + " is RUNNING"})
	default:
		add(entity.ValidationCheck{Name: CheckNoRunningMigration, Passed: true})
	}

	if execution.DryRun || inStep || execution.Status != entity.RollbackStatusCompleted {
		add(entity.ValidationCheck{Name: CheckTrackingStatus, Skipped: true, Message: "rollback not completed"})
	} else {
		run, err := e.deps.Audit.LatestRun(ctx, execution.Version)
		switch {
		case err != nil:
			add(entity.ValidationCheck{Name: CheckTrackingStatus, Message: err.Error()})
		case run == nil:
			add(entity.ValidationCheck{Name: CheckTrackingStatus, Skipped: true, Message: "version has no tracked run"})
		case run.Status != entity.RunStatusRolledBack:
			add(entity.ValidationCheck{Name: CheckTrackingStatus, Message: "tracking status is " + string(run.Status)})
		default:
			add(entity.ValidationCheck{Name: CheckTrackingStatus, Passed: true})
		}
	}

	result.Passed = len(result.Failed()) == 0
	return result
}

// ValidateState re-checks the database against the target of a finished execution
func (e *RollbackEngine) ValidateState(ctx context.Context, executionID uuid.UUID) (*entity.ValidationResult, error) {
	execution, err := e.Execution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	target, err := e.deps.Backups.Get(ctx, execution.BackupID)
	if err != nil {
		return nil, err
	}

	ec := entity.SystemContext().WithCorrelationID(execution.CorrelationID)
	result := e.validate(ctx, &rollbackState{ec: ec, execution: execution, target: target}, false)
	execution.Validation = result
	if err := e.deps.Executions.Update(ctx, execution); err != nil {
		return nil, common.ErrDatabaseQuery("update rollback execution", err)
	}
	return result, nil
}

// Execution returns one rollback execution
func (e *RollbackEngine) Execution(ctx context.Context, id uuid.UUID) (*entity.RollbackExecution, error) {
	execution, err := e.deps.Executions.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, common.ErrNotFound("rollback execution").WithContext("execution_id", id.String())
	}
	if err != nil {
		return nil, common.ErrDatabaseQuery("get rollback execution", err)
	}
	return execution, nil
}

// Executions returns the executions of version, newest first. An empty
// version returns all.
func (e *RollbackEngine) Executions(ctx context.Context, version string) ([]*entity.RollbackExecution, error) {
	executions, err := e.deps.Executions.FindByVersion(ctx, version)
	if err != nil {
		return nil, common.ErrDatabaseQuery("find rollback executions", err)
	}
	return executions, nil
}
