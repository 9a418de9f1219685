package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// Plan names of the built-in catalogue
const (
	PlanDataCorruption         = "Data Corruption Recovery"
	PlanMigrationFailure       = "Migration Failure Recovery"
	PlanSecurityBreach         = "Security Breach Response"
	PlanPerformanceDegradation = "Performance Degradation Response"
)

// DRConfig configures the disaster recovery engine
type DRConfig struct {
	LockName string `mapstructure:"lock_name" yaml:"lock_name" json:"lock_name"`
	// DetectWindow is how far back Detect looks for evidence
	DetectWindow time.Duration `mapstructure:"detect_window" yaml:"detect_window" json:"detect_window"`

	HealthFailureThreshold    int `mapstructure:"health_failure_threshold" yaml:"health_failure_threshold" json:"health_failure_threshold"`
	MigrationFailureThreshold int `mapstructure:"migration_failure_threshold" yaml:"migration_failure_threshold" json:"migration_failure_threshold"`
	DegradationEventThreshold int `mapstructure:"degradation_event_threshold" yaml:"degradation_event_threshold" json:"degradation_event_threshold"`
}

// DefaultDRConfig returns the default disaster recovery configuration
func DefaultDRConfig() DRConfig {
	return DRConfig{
		LockName:                  DefaultLockName,
		DetectWindow:              time.Hour,
		HealthFailureThreshold:    4,
		MigrationFailureThreshold: 3,
		DegradationEventThreshold: 5,
	}
}

// DRDependencies are the collaborators of the disaster recovery engine
type DRDependencies struct {
	Plans    repository.DisasterRecoveryRepository
	Rollback *RollbackEngine
	Backups  *BackupManager
	Audit    *AuditLog
	Bus      *MonitoringBus
	Health   *HealthAggregator
	Runner   repository.StatementRunner
	Locker   repository.Locker
}

// DRRequest describes one execution of a recovery plan
type DRRequest struct {
	PlanName    string
	Description string
	// Type defaults to test. Tests and drills always run as dry-run.
	Type   entity.DRExecutionType
	DryRun bool
	// Version is the migration version restore_backup steps roll back
	Version string
}

// DisasterRecovery manages recovery plans, executes them against their RTO
// and detects likely disasters from recent telemetry.
type DisasterRecovery struct {
	deps     DRDependencies
	config   DRConfig
	handlers StepHandlers
	steps    stepRunner
	logger   *zap.Logger
	now      func() time.Time
}

// NewDisasterRecovery creates a disaster recovery engine
func NewDisasterRecovery(deps DRDependencies, config DRConfig, logger *zap.Logger) *DisasterRecovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultDRConfig()
	config.LockName = common.Coalesce(config.LockName, defaults.LockName)
	config.DetectWindow = common.Coalesce(config.DetectWindow, defaults.DetectWindow)
	config.HealthFailureThreshold = common.Coalesce(config.HealthFailureThreshold, defaults.HealthFailureThreshold)
	config.MigrationFailureThreshold = common.Coalesce(config.MigrationFailureThreshold, defaults.MigrationFailureThreshold)
	config.DegradationEventThreshold = common.Coalesce(config.DegradationEventThreshold, defaults.DegradationEventThreshold)

	logger = logger.Named("disaster_recovery")
	d := &DisasterRecovery{
		deps:     deps,
		config:   config,
		handlers: make(StepHandlers),
		logger:   logger,
		now:      time.Now,
	}
	d.steps = stepRunner{logger: logger, now: func() time.Time { return d.now() }}
	return d
}

// RegisterHandler makes a failover or custom step handler available to plans
func (d *DisasterRecovery) RegisterHandler(name string, fn StepFunc) {
	d.handlers[name] = fn
}

// requireAdmin records and reports a denied plan-management call
func (d *DisasterRecovery) requireAdmin(ctx context.Context, ec entity.ExecutionContext, action, resource string) error {
	if ec.IsAdmin {
		return nil
	}
	d.deps.Audit.Record(ctx, ec, action, resource, entity.AuditOutcomeDenied, map[string]string{"reason": "admin required"})
	d.deps.Bus.Emit(ctx, EventInput{
		Type:          entity.EventAccessDenied,
		Severity:      entity.SeverityWarning,
		Message:       fmt.Sprintf("%s denied %s on %s", ec.Principal(), action, resource),
		CorrelationID: ec.CorrelationID,
		Detail:        entity.CustomDetail{"action": action, "resource": resource, "actor": ec.Principal()},
	})
	return common.ErrForbidden("recovery plan management requires an administrator").
		WithContext("action", action)
}

func validatePlan(plan *entity.DisasterRecoveryPlan) error {
	var errs common.ValidationErrors
	if strings.TrimSpace(plan.Name) == "" {
		errs.Add("name", "is required", nil)
	}
	if !plan.DisasterType.Valid() {
		errs.Add("disaster_type", "is not a known disaster type", plan.DisasterType)
	}
	if plan.RTO <= 0 {
		errs.Add("rto", "must be positive", plan.RTO.String())
	}
	if plan.RPO < 0 {
		errs.Add("rpo", "must not be negative", plan.RPO.String())
	}
	switch plan.Status {
	case entity.PlanStatusActive, entity.PlanStatusInactive, entity.PlanStatusUnderReview:
	default:
		errs.Add("status", "is not a known plan status", plan.Status)
	}
	if len(plan.Steps) == 0 {
		errs.Add("steps", "at least one step is required", nil)
	}
	for _, step := range plan.Steps {
		if !step.Action.Known() {
			errs.Add("steps", fmt.Sprintf("step %q has unknown action", step.Name), step.Action)
		}
		if step.Action == entity.StepActionCustomSQL && len(step.SQL) == 0 {
			errs.Add("steps", fmt.Sprintf("step %q has no statements", step.Name), nil)
		}
	}
	if errs.HasErrors() {
		return errs.ToAppError()
	}
	return nil
}

// SavePlan inserts or replaces a recovery plan. A plan without an ID replaces
// the stored plan of the same name. Names are unique among active plans.
func (d *DisasterRecovery) SavePlan(ctx context.Context, ec entity.ExecutionContext, plan *entity.DisasterRecoveryPlan) (*entity.DisasterRecoveryPlan, error) {
	if plan == nil {
		return nil, common.ErrInvalidInput("plan")
	}
	if err := d.requireAdmin(ctx, ec, AuditActionPlanSave, "dr_plan:"+plan.Name); err != nil {
		return nil, err
	}

	saved := *plan
	if saved.Status == "" {
		saved.Status = entity.PlanStatusActive
	}
	if saved.Severity == "" {
		saved.Severity = entity.SeverityError
	}
	if err := validatePlan(&saved); err != nil {
		return nil, err
	}

	existing, err := d.deps.Plans.GetPlanByName(ctx, saved.Name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, common.ErrDatabaseQuery("get recovery plan", err)
	}

	now := d.now()
	saved.CreatedAt = now
	if existing != nil {
		if saved.ID == uuid.Nil {
			saved.ID = existing.ID
		}
		if saved.ID == existing.ID {
			saved.CreatedAt = existing.CreatedAt
			saved.LastTested = existing.LastTested
			saved.LastTestResults = existing.LastTestResults
		} else if existing.Status == entity.PlanStatusActive && saved.Status == entity.PlanStatusActive {
			return nil, common.ErrValidationFailed(fmt.Sprintf("an active plan named %q already exists", saved.Name))
		}
	}
	if saved.ID == uuid.Nil {
		saved.ID = uuid.New()
	}
	saved.UpdatedAt = now
	saved.Steps = entity.NumberSteps(append([]entity.Step(nil), saved.Steps...))

	if err := d.deps.Plans.SavePlan(ctx, &saved); err != nil {
		return nil, common.ErrDatabaseQuery("save recovery plan", err)
	}

	d.deps.Audit.Record(ctx, ec, AuditActionPlanSave, "dr_plan:"+saved.Name, entity.AuditOutcomeSuccess, map[string]string{
		"plan_id":       saved.ID.String(),
		"disaster_type": string(saved.DisasterType),
		"status":        string(saved.Status),
	})
	d.logger.Info("Recovery plan saved",
		zap.String("plan", saved.Name),
		zap.String("disaster_type", string(saved.DisasterType)),
		zap.String("status", string(saved.Status)))

	return &saved, nil
}

// SetPlanStatus activates, deactivates or puts a plan under review
func (d *DisasterRecovery) SetPlanStatus(ctx context.Context, ec entity.ExecutionContext, name string, status entity.PlanStatus) (*entity.DisasterRecoveryPlan, error) {
	if err := d.requireAdmin(ctx, ec, AuditActionPlanStatus, "dr_plan:"+name); err != nil {
		return nil, err
	}
	plan, err := d.Plan(ctx, name)
	if err != nil {
		return nil, err
	}

	previous := plan.Status
	plan.Status = status
	if err := validatePlan(plan); err != nil {
		return nil, err
	}
	plan.UpdatedAt = d.now()
	if err := d.deps.Plans.SavePlan(ctx, plan); err != nil {
		return nil, common.ErrDatabaseQuery("save recovery plan", err)
	}

	d.deps.Audit.Record(ctx, ec, AuditActionPlanStatus, "dr_plan:"+name, entity.AuditOutcomeSuccess, map[string]string{
		"from": string(previous),
		"to":   string(status),
	})
	return plan, nil
}

// LoadCatalog saves every plan of a YAML catalogue
func (d *DisasterRecovery) LoadCatalog(ctx context.Context, ec entity.ExecutionContext, data []byte) ([]*entity.DisasterRecoveryPlan, error) {
	plans, err := ParseCatalog(data)
	if err != nil {
		return nil, common.ErrValidationFailed(err.Error())
	}
	return d.savePlans(ctx, ec, plans)
}

// InstallDefaultCatalog saves the built-in plans
func (d *DisasterRecovery) InstallDefaultCatalog(ctx context.Context, ec entity.ExecutionContext) ([]*entity.DisasterRecoveryPlan, error) {
	return d.savePlans(ctx, ec, DefaultCatalog())
}

func (d *DisasterRecovery) savePlans(ctx context.Context, ec entity.ExecutionContext, plans []entity.DisasterRecoveryPlan) ([]*entity.DisasterRecoveryPlan, error) {
	saved := make([]*entity.DisasterRecoveryPlan, 0, len(plans))
	for i := range plans {
		plan, err := d.SavePlan(ctx, ec, &plans[i])
		if err != nil {
			return saved, err
		}
		saved = append(saved, plan)
	}
	return saved, nil
}

// Plan returns the plan named name, preferring the active one
func (d *DisasterRecovery) Plan(ctx context.Context, name string) (*entity.DisasterRecoveryPlan, error) {
	plan, err := d.deps.Plans.GetPlanByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, common.ErrNotFound("recovery plan").WithContext("plan", name)
	}
	if err != nil {
		return nil, common.ErrDatabaseQuery("get recovery plan", err)
	}
	return plan, nil
}

// Plans lists every stored plan by name
func (d *DisasterRecovery) Plans(ctx context.Context) ([]*entity.DisasterRecoveryPlan, error) {
	plans, err := d.deps.Plans.ListPlans(ctx)
	if err != nil {
		return nil, common.ErrDatabaseQuery("list recovery plans", err)
	}
	return plans, nil
}

// drState is shared by the steps of one recovery execution
type drState struct {
	ec        entity.ExecutionContext
	plan      *entity.DisasterRecoveryPlan
	execution *entity.DisasterRecoveryExecution
	// restored holds the rollback executions started by restore_backup steps
	restored []*entity.RollbackExecution
}

// Execute runs a recovery plan within its RTO. Tests and drills simulate
// every mutating step. Running past the RTO aborts the remaining steps.
func (d *DisasterRecovery) Execute(ctx context.Context, ec entity.ExecutionContext, req DRRequest) (*entity.DisasterRecoveryExecution, error) {
	if req.Type == "" {
		req.Type = entity.DRExecutionTest
	}
	if !req.Type.Valid() {
		return nil, common.ErrInvalidInput("type").WithContext("type", string(req.Type))
	}
	plan, err := d.Plan(ctx, req.PlanName)
	if err != nil {
		return nil, err
	}
	if plan.Status != entity.PlanStatusActive {
		return nil, common.ErrInvalidState(string(plan.Status), string(entity.PlanStatusActive)).
			WithContext("plan", plan.Name)
	}

	execution := &entity.DisasterRecoveryExecution{
		ID:            uuid.New(),
		PlanID:        plan.ID,
		PlanName:      plan.Name,
		DisasterType:  plan.DisasterType,
		Type:          req.Type,
		Status:        entity.DRStatusInitiated,
		Description:   req.Description,
		DryRun:        req.DryRun || req.Type.Rehearsal(),
		Version:       req.Version,
		StartedAt:     d.now(),
		InitiatedBy:   ec.Principal(),
		TenantID:      ec.TenantID,
		CorrelationID: ec.CorrelationID,
	}
	if err := d.deps.Plans.CreateExecution(ctx, execution); err != nil {
		return nil, common.ErrDatabaseQuery("create recovery execution", err)
	}

	started := entity.SeverityInfo
	if req.Type == entity.DRExecutionActualDisaster {
		started = entity.SeverityCritical
	}
	d.deps.Bus.Emit(ctx, EventInput{
		Version:       req.Version,
		Type:          entity.EventDRExecutionStarted,
		Severity:      started,
		Message:       fmt.Sprintf("Recovery plan %q started (%s)", plan.Name, req.Type),
		CorrelationID: ec.CorrelationID,
		Detail:        disasterDetail(execution),
	})

	execution.Status = entity.DRStatusInProgress
	if err := d.deps.Plans.UpdateExecution(ctx, execution); err != nil {
		return execution, common.ErrDatabaseQuery("update recovery execution", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, plan.RTO)
	state := &drState{ec: ec, plan: plan, execution: execution}
	outcome := d.steps.run(runCtx, plan.Steps, execution.DryRun, func(ctx context.Context, step entity.Step) (string, error) {
		return d.runStep(ctx, state, step)
	})
	cancel()

	execution.ExecutedSteps = outcome.Executed
	execution.FailedSteps = outcome.Failed

	var runErr error
	switch {
	case outcome.Interrupted != nil:
		execution.Status = entity.DRStatusAborted
		runErr = common.NewAppErrorWithCause(common.ErrCodeTimeout,
			fmt.Sprintf("recovery exceeded RTO of %s", plan.RTO), outcome.Interrupted)
	case outcome.CriticalErr != nil:
		execution.Status = entity.DRStatusFailed
		runErr = outcome.CriticalErr
	case len(outcome.Failed) > 0:
		execution.Status = entity.DRStatusPartial
	default:
		execution.Status = entity.DRStatusCompleted
	}

	return execution, d.finish(ctx, state, runErr)
}

// finish assesses, persists and reports a terminal execution and returns runErr
func (d *DisasterRecovery) finish(ctx context.Context, state *drState, runErr error) error {
	execution, plan, ec := state.execution, state.plan, state.ec

	completed := d.now()
	execution.CompletedAt = &completed
	execution.RecoveryTime = completed.Sub(execution.StartedAt)
	execution.RTOMet = execution.Status != entity.DRStatusAborted && execution.RecoveryTime <= plan.RTO
	execution.DataLoss = assessDataLoss(state)
	execution.BusinessImpact = assessBusinessImpact(plan, execution)
	execution.LessonsLearned = lessonsLearned(plan, execution)

	if err := d.deps.Plans.UpdateExecution(ctx, execution); err != nil {
		d.logger.Error("Failed to persist recovery execution", zap.String("execution_id", execution.ID.String()), zap.Error(err))
	}

	if execution.Type.Rehearsal() {
		tested := completed
		plan.LastTested = &tested
		plan.LastTestResults = &entity.TestResults{
			ExecutionID:  execution.ID,
			Type:         execution.Type,
			Status:       execution.Status,
			RecoveryTime: execution.RecoveryTime,
			RTOMet:       execution.RTOMet,
			FailedSteps:  stepNames(execution.FailedSteps),
		}
		plan.UpdatedAt = completed
		if err := d.deps.Plans.SavePlan(ctx, plan); err != nil {
			d.logger.Error("Failed to record plan test results", zap.String("plan", plan.Name), zap.Error(err))
		}
	} else {
		incident := &entity.IncidentRecord{
			ID:           uuid.New(),
			ExecutionID:  execution.ID,
			PlanName:     plan.Name,
			DisasterType: plan.DisasterType,
			Description:  execution.Description,
			Status:       execution.Status,
			RecoveryTime: execution.RecoveryTime,
			OccurredAt:   execution.StartedAt,
			ReportedBy:   execution.InitiatedBy,
		}
		if err := d.deps.Plans.AppendIncident(ctx, incident); err != nil {
			d.logger.Error("Failed to append incident record", zap.String("execution_id", execution.ID.String()), zap.Error(err))
		}
	}

	input := EventInput{
		Version:       execution.Version,
		CorrelationID: ec.CorrelationID,
		Detail:        disasterDetail(execution),
	}
	outcome := entity.AuditOutcomeSuccess
	switch execution.Status {
	case entity.DRStatusCompleted:
		input.Type, input.Severity = entity.EventDRExecutionCompleted, entity.SeverityInfo
		input.Message = fmt.Sprintf("Recovery plan %q completed in %s", plan.Name, execution.RecoveryTime.Round(time.Second))
	case entity.DRStatusPartial:
		input.Type, input.Severity = entity.EventDRExecutionCompleted, entity.SeverityWarning
		input.Message = fmt.Sprintf("Recovery plan %q completed with failed non-critical steps", plan.Name)
	default:
		input.Type, input.Severity = entity.EventDRExecutionFailed, entity.SeverityError
		if execution.Type == entity.DRExecutionActualDisaster {
			input.Severity = entity.SeverityCritical
		}
		input.Message = fmt.Sprintf("Recovery plan %q %s", plan.Name, execution.Status)
		outcome = entity.AuditOutcomeFailure
	}
	d.deps.Bus.Emit(ctx, input)
	d.deps.Bus.Observe(ctx, MetricInput{
		Version:       execution.Version,
		Name:          MetricRecoveryTime,
		Value:         execution.RecoveryTime.Seconds(),
		Unit:          "seconds",
		Kind:          entity.MetricTiming,
		Context:       map[string]string{"plan": plan.Name, "type": string(execution.Type)},
		CorrelationID: ec.CorrelationID,
	})
	d.deps.Audit.Record(ctx, ec, AuditActionDRExecute, "dr_plan:"+plan.Name, outcome, map[string]string{
		"execution_id": execution.ID.String(),
		"type":         string(execution.Type),
		"status":       string(execution.Status),
		"rto_met":      fmt.Sprint(execution.RTOMet),
	})

	d.logger.Info("Recovery plan finished",
		zap.String("execution_id", execution.ID.String()),
		zap.String("plan", plan.Name),
		zap.String("type", string(execution.Type)),
		zap.String("status", string(execution.Status)),
		zap.Duration("recovery_time", execution.RecoveryTime),
		zap.Bool("rto_met", execution.RTOMet))
	return runErr
}

func disasterDetail(execution *entity.DisasterRecoveryExecution) entity.DisasterDetail {
	return entity.DisasterDetail{
		ExecutionID:  execution.ID.String(),
		PlanName:     execution.PlanName,
		DisasterType: string(execution.DisasterType),
		Type:         string(execution.Type),
		Status:       string(execution.Status),
		FailedSteps:  stepNames(execution.FailedSteps),
	}
}

func stepNames(results []entity.StepResult) []string {
	if len(results) == 0 {
		return nil
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	return names
}

func assessDataLoss(state *drState) string {
	execution := state.execution
	if execution.DryRun {
		return "none (dry-run)"
	}
	var restored []string
	for _, rb := range state.restored {
		if rb.Status == entity.RollbackStatusCompleted || rb.Status == entity.RollbackStatusPartial {
			restored = append(restored, rb.BackupID.String())
		}
	}
	if len(restored) == 0 {
		return "none expected"
	}
	return fmt.Sprintf("changes after backup %s may be lost (RPO %s)", strings.Join(restored, ", "), state.plan.RPO)
}

func assessBusinessImpact(plan *entity.DisasterRecoveryPlan, execution *entity.DisasterRecoveryExecution) string {
	if execution.Type.Rehearsal() {
		return "none (" + string(execution.Type) + ")"
	}
	switch execution.Status {
	case entity.DRStatusCompleted:
		return fmt.Sprintf("%s %s recovered in %s", plan.Severity, plan.DisasterType, execution.RecoveryTime.Round(time.Second))
	case entity.DRStatusPartial:
		return fmt.Sprintf("%s %s partially recovered, %d steps need follow-up", plan.Severity, plan.DisasterType, len(execution.FailedSteps))
	default:
		return fmt.Sprintf("%s %s unresolved after %s", plan.Severity, plan.DisasterType, execution.RecoveryTime.Round(time.Second))
	}
}

func lessonsLearned(plan *entity.DisasterRecoveryPlan, execution *entity.DisasterRecoveryExecution) []string {
	var lessons []string
	for _, r := range execution.FailedSteps {
		lessons = append(lessons, fmt.Sprintf("Step %d %q failed: %s", r.Order, r.Name, r.Error))
	}
	if !execution.RTOMet {
		lessons = append(lessons, fmt.Sprintf("Recovery took %s against an RTO of %s", execution.RecoveryTime.Round(time.Second), plan.RTO))
	}
	for _, r := range execution.ExecutedSteps {
		if r.Status == entity.StepStatusSkipped {
			lessons = append(lessons, fmt.Sprintf("Manual step %q needs runbook follow-up", r.Name))
		}
	}
	if executed := len(execution.ExecutedSteps) + len(execution.FailedSteps); executed < len(plan.Steps) {
		lessons = append(lessons, fmt.Sprintf("%d of %d steps were not attempted", len(plan.Steps)-executed, len(plan.Steps)))
	}
	return lessons
}

func (d *DisasterRecovery) runStep(ctx context.Context, state *drState, step entity.Step) (string, error) {
	switch step.Action {
	case entity.StepActionAssessImpact:
		return d.assessImpact(ctx)

	case entity.StepActionNotify:
		severity := entity.SeverityWarning
		if state.execution.Type == entity.DRExecutionActualDisaster {
			severity = entity.SeverityCritical
		} else if state.execution.Type.Rehearsal() {
			severity = entity.SeverityInfo
		}
		d.deps.Bus.Emit(ctx, EventInput{
			Version:       state.execution.Version,
			Type:          entity.EventDRNotification,
			Severity:      severity,
			Message:       fmt.Sprintf("%s: %s", state.plan.Name, common.Coalesce(step.Description, step.Name)),
			CorrelationID: state.ec.CorrelationID,
			Detail:        entity.CustomDetail{"plan": state.plan.Name, "step": step.Name, "teams": state.plan.Teams},
		})
		return fmt.Sprintf("notified %s", strings.Join(state.plan.Teams, ", ")), nil

	case entity.StepActionIsolate:
		return d.withLock(ctx, state, func(ctx context.Context) (string, error) {
			return "migration lock " + d.config.LockName + " acquired and released", nil
		})

	case entity.StepActionRestoreBackup:
		return d.restoreBackup(ctx, state, step)

	case entity.StepActionValidateIntegrity:
		if d.deps.Health == nil {
			return "", errors.New("no health aggregator configured")
		}
		report, err := d.deps.Health.Run(ctx, state.ec)
		if err != nil {
			return "", err
		}
		if report.Failed > 0 {
			var failed []string
			for _, r := range report.Results {
				if r.Status == entity.HealthStatusFailed {
					failed = append(failed, string(r.Category)+"/"+r.Name)
				}
			}
			return "", fmt.Errorf("integrity checks failed: %s", strings.Join(failed, ", "))
		}
		return fmt.Sprintf("%d checks, score %.0f", len(report.Results), report.Score), nil

	case entity.StepActionCustomSQL:
		return d.withLock(ctx, state, func(ctx context.Context) (string, error) {
			executed, err := d.deps.Runner.ExecStatements(ctx, step.SQL)
			if err != nil {
				return "", entity.NewScriptExecutionError(common.Coalesce(state.execution.Version, state.plan.Name), executed+1, err)
			}
			return fmt.Sprintf("executed %d statements", executed), nil
		})

	case entity.StepActionFailover, entity.StepActionCustom:
		name := common.Coalesce(step.Handler, string(step.Action))
		handler, ok := d.handlers[name]
		if !ok {
			return "", fmt.Errorf("no handler registered for %q", name)
		}
		return d.withLock(ctx, state, func(ctx context.Context) (string, error) {
			return handler(ctx, step)
		})
	}

	return "", fmt.Errorf("action %s is not supported in recovery plans", step.Action)
}

// withLock holds the migration lock around one mutating step
func (d *DisasterRecovery) withLock(ctx context.Context, state *drState, fn func(context.Context) (string, error)) (string, error) {
	lease, acquired, err := d.deps.Locker.TryAcquire(ctx, d.config.LockName)
	if err != nil {
		return "", common.WrapError(err, common.ErrCodeServiceUnavailable, "acquire migration lock")
	}
	if !acquired {
		lockErr := entity.NewLockContentionError(d.config.LockName, "a migration or rollback holds the lock")
		d.deps.Bus.Emit(ctx, EventInput{
			Version:       state.execution.Version,
			Type:          entity.EventLockContention,
			Severity:      entity.SeverityError,
			Message:       "Migration lock " + d.config.LockName + " is held",
			CorrelationID: state.ec.CorrelationID,
			Detail:        disasterDetail(state.execution),
		})
		return "", lockErr
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			d.logger.Error("Failed to release migration lock", zap.String("lock", lease.Name()), zap.Error(err))
		}
	}()
	return fn(ctx)
}

// restoreBackup rolls the execution's version back to its latest usable backup
func (d *DisasterRecovery) restoreBackup(ctx context.Context, state *drState, step entity.Step) (string, error) {
	version := common.Coalesce(step.Params["version"], state.execution.Version)
	if version == "" {
		failed, err := d.deps.Audit.Runs(ctx, repository.RunFilter{
			Phase:  entity.RunPhaseComplete,
			Status: entity.RunStatusFailed,
			Limit:  1,
		})
		if err != nil {
			return "", err
		}
		if len(failed) == 0 {
			return "", errors.New("no version given and no failed migration to restore")
		}
		version = failed[0].Version
	}

	target, err := d.restorePoint(ctx, version)
	if err != nil {
		return "", err
	}
	plan, err := d.deps.Rollback.GeneratePlan(ctx, state.ec, PlanRequest{Version: version, BackupID: target.ID})
	if err != nil {
		return "", err
	}
	rb, err := d.deps.Rollback.Execute(ctx, state.ec, plan, ExecuteOptions{
		AutoApprove: true,
		Reason:      "recovery plan " + state.plan.Name,
	})
	if rb != nil {
		state.restored = append(state.restored, rb)
	}
	if err != nil {
		return "", err
	}
	if rb.Status != entity.RollbackStatusCompleted {
		return "", fmt.Errorf("rollback %s finished %s", rb.ID, rb.Status)
	}
	return fmt.Sprintf("version %s restored from backup %s by rollback %s", version, target.ID, rb.ID), nil
}

func (d *DisasterRecovery) assessImpact(ctx context.Context) (string, error) {
	since := d.now().Add(-d.config.DetectWindow)
	events, err := d.deps.Bus.Events(ctx, repository.EventFilter{Since: since, MinSeverity: entity.SeverityError})
	if err != nil {
		return "", err
	}
	failed, err := d.deps.Audit.Runs(ctx, repository.RunFilter{
		Phase:  entity.RunPhaseComplete,
		Status: entity.RunStatusFailed,
		Since:  since,
	})
	if err != nil {
		return "", err
	}
	versions := make([]string, 0, len(failed))
	for _, r := range failed {
		versions = append(versions, r.Version)
	}
	note := fmt.Sprintf("%d error events and %d failed migrations in the last %s", len(events), len(failed), d.config.DetectWindow)
	if v := common.UniqueSorted(versions); len(v) > 0 {
		note += "; affected versions: " + strings.Join(v, ", ")
	}
	return note, nil
}

// Detect inspects recent telemetry for likely disasters. Candidates are
// ordered by confidence and never executed.
func (d *DisasterRecovery) Detect(ctx context.Context) ([]entity.DisasterCandidate, error) {
	now := d.now()
	events, err := d.deps.Bus.Events(ctx, repository.EventFilter{
		Since: now.Add(-d.config.DetectWindow),
		Types: []entity.EventType{
			entity.EventHealthCheckFailed,
			entity.EventMigrationFailed,
			entity.EventPerformanceDegradation,
		},
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[entity.EventType]int)
	for _, e := range events {
		counts[e.Type]++
	}

	recommended, err := d.activePlanByType(ctx)
	if err != nil {
		return nil, err
	}
	candidate := func(t entity.DisasterType, fallback string, confidence float64, evidence ...string) entity.DisasterCandidate {
		return entity.DisasterCandidate{
			DisasterType:    t,
			Confidence:      math.Round(confidence*100) / 100,
			RecommendedPlan: common.Coalesce(recommended[t], fallback),
			Evidence:        evidence,
			DetectedAt:      now,
		}
	}
	window := d.config.DetectWindow.String()

	var candidates []entity.DisasterCandidate
	if n := counts[entity.EventHealthCheckFailed]; n >= d.config.HealthFailureThreshold {
		candidates = append(candidates, candidate(entity.DisasterDataCorruption, PlanDataCorruption,
			math.Min(0.95, 0.4+0.05*float64(n)),
			fmt.Sprintf("%d health_check_failed events in the last %s", n, window)))
	}
	if n := counts[entity.EventMigrationFailed]; n >= d.config.MigrationFailureThreshold {
		candidates = append(candidates, candidate(entity.DisasterMigrationFailure, PlanMigrationFailure,
			math.Min(0.95, 0.5+0.1*float64(n)),
			fmt.Sprintf("%d migration_failed events in the last %s", n, window)))
	}
	if n := counts[entity.EventPerformanceDegradation]; n >= d.config.DegradationEventThreshold {
		candidates = append(candidates, candidate(entity.DisasterPerformanceDegradation, PlanPerformanceDegradation,
			math.Min(0.9, 0.3+0.05*float64(n)),
			fmt.Sprintf("%d performance_degradation events in the last %s", n, window)))
	}

	if d.deps.Health != nil {
		current, err := d.deps.Health.Current(ctx)
		if err != nil {
			return nil, err
		}
		var evidence []string
		for _, r := range current {
			if r.Category == entity.HealthCategorySecurity && r.Status == entity.HealthStatusFailed {
				evidence = append(evidence, fmt.Sprintf("security check %s failed: %s", r.Name, r.Message))
			}
		}
		if len(evidence) > 0 {
			candidates = append(candidates, candidate(entity.DisasterSecurityBreach, PlanSecurityBreach,
				math.Min(0.9, 0.6+0.1*float64(len(evidence))), evidence...))
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > 0 {
		d.logger.Warn("Possible disasters detected", zap.Int("candidates", len(candidates)),
			zap.String("top", string(candidates[0].DisasterType)))
	}
	return candidates, nil
}

// activePlanByType maps each disaster type to the name of an active plan
func (d *DisasterRecovery) activePlanByType(ctx context.Context) (map[entity.DisasterType]string, error) {
	plans, err := d.Plans(ctx)
	if err != nil {
		return nil, err
	}
	byType := make(map[entity.DisasterType]string)
	for _, p := range plans {
		if p.Status != entity.PlanStatusActive {
			continue
		}
		if _, ok := byType[p.DisasterType]; !ok {
			byType[p.DisasterType] = p.Name
		}
	}
	return byType, nil
}

// EmergencyRollback rolls version back without approval to the newest
// completed backup that predates the version's latest run.
func (d *DisasterRecovery) EmergencyRollback(ctx context.Context, ec entity.ExecutionContext, version, reason string) (*entity.RollbackExecution, error) {
	if strings.TrimSpace(version) == "" {
		return nil, common.ErrInvalidInput("version")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, common.ErrInvalidInput("reason")
	}

	target, err := d.restorePoint(ctx, version)
	if err != nil {
		d.emergencyDenied(ctx, ec, version, err)
		return nil, err
	}

	plan, err := d.deps.Rollback.GeneratePlan(ctx, ec, PlanRequest{Version: version, BackupID: target.ID})
	if err != nil {
		return nil, err
	}
	execution, err := d.deps.Rollback.Execute(ctx, ec, plan, ExecuteOptions{
		AutoApprove: true,
		Emergency:   true,
		Reason:      reason,
	})
	if execution != nil {
		d.deps.Bus.Emit(ctx, EventInput{
			Version:       version,
			Type:          entity.EventEmergencyRollback,
			Severity:      entity.SeverityCritical,
			Message:       fmt.Sprintf("Emergency rollback of %s by %s: %s", version, ec.Principal(), reason),
			CorrelationID: ec.CorrelationID,
			Detail:        rollbackDetail(execution, err),
		})
	}

	outcome := entity.AuditOutcomeSuccess
	if err != nil {
		outcome = entity.AuditOutcomeFailure
	}
	d.deps.Audit.Record(ctx, ec, AuditActionEmergencyRollback, "migration:"+version, outcome, map[string]string{
		"backup_id": target.ID.String(),
		"reason":    reason,
	})
	return execution, err
}

// restorePoint picks the backup a recovery restores version to: the newest
// completed backup created before the version's latest run started.
func (d *DisasterRecovery) restorePoint(ctx context.Context, version string) (*entity.Backup, error) {
	run, err := d.deps.Audit.LatestRun(ctx, version)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, entity.NewBackupProvenanceError(version, "none", "version has no recorded run")
	}
	return d.deps.Backups.LatestBefore(ctx, version, run.StartedAt)
}

func (d *DisasterRecovery) emergencyDenied(ctx context.Context, ec entity.ExecutionContext, version string, err error) {
	d.deps.Bus.Emit(ctx, EventInput{
		Version:       version,
		Type:          entity.EventPreconditionFailed,
		Severity:      entity.SeverityCritical,
		Message:       "Emergency rollback of " + version + " refused",
		CorrelationID: ec.CorrelationID,
		Detail:        entity.RollbackDetail{Emergency: true, Error: err.Error()},
	})
	d.deps.Audit.Record(ctx, ec, AuditActionEmergencyRollback, "migration:"+version, entity.AuditOutcomeFailure,
		map[string]string{"error": err.Error()})
}

// Execution returns one recovery execution
func (d *DisasterRecovery) Execution(ctx context.Context, id uuid.UUID) (*entity.DisasterRecoveryExecution, error) {
	execution, err := d.deps.Plans.GetExecution(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, common.ErrNotFound("recovery execution").WithContext("execution_id", id.String())
	}
	if err != nil {
		return nil, common.ErrDatabaseQuery("get recovery execution", err)
	}
	return execution, nil
}

// Executions returns executions of planName, newest first. An empty name returns all.
func (d *DisasterRecovery) Executions(ctx context.Context, planName string) ([]*entity.DisasterRecoveryExecution, error) {
	executions, err := d.deps.Plans.FindExecutions(ctx, planName)
	if err != nil {
		return nil, common.ErrDatabaseQuery("find recovery executions", err)
	}
	return executions, nil
}

// Incidents returns the history of actual disasters
func (d *DisasterRecovery) Incidents(ctx context.Context) ([]*entity.IncidentRecord, error) {
	incidents, err := d.deps.Plans.Incidents(ctx)
	if err != nil {
		return nil, common.ErrDatabaseQuery("list incidents", err)
	}
	return incidents, nil
}
