package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

func simplePlan(name string, rto time.Duration, steps ...entity.Step) *entity.DisasterRecoveryPlan {
	return &entity.DisasterRecoveryPlan{
		Name:         name,
		DisasterType: entity.DisasterSoftwareFailure,
		RTO:          rto,
		RPO:          time.Hour,
		Teams:        []string{"platform"},
		Steps:        steps,
	}
}

func TestDefaultCatalogCoversEveryDisasterType(t *testing.T) {
	plans := DefaultCatalog()
	require.Len(t, plans, len(entity.DisasterTypes))

	seen := make(map[entity.DisasterType]bool)
	for _, p := range plans {
		require.NoError(t, validatePlan(&p), p.Name)
		assert.Equal(t, entity.PlanStatusActive, p.Status, p.Name)
		assert.Positive(t, p.RTO, p.Name)
		seen[p.DisasterType] = true
	}
	for _, dt := range entity.DisasterTypes {
		assert.True(t, seen[dt], "no plan for %s", dt)
	}

	names := make(map[string]bool)
	for _, p := range plans {
		names[p.Name] = true
	}
	for _, name := range []string{PlanDataCorruption, PlanMigrationFailure, PlanSecurityBreach, PlanPerformanceDegradation} {
		assert.True(t, names[name], name)
	}
}

func TestParseCatalogRejectsEmptyDocuments(t *testing.T) {
	_, err := ParseCatalog([]byte("plans: []\n"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("plans: [unclosed"))
	assert.Error(t, err)
}

func TestLoadCatalogParsesDurations(t *testing.T) {
	h := newHarness(t)

	plans, err := h.dr.LoadCatalog(h.ctx, h.ec, []byte(`
plans:
  - name: Cache Flush
    disaster_type: software_failure
    rto: 30m
    rpo: 5m
    steps:
      - name: flush
        action: custom_sql
        sql: ["DISCARD ALL"]
`))
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, 30*time.Minute, plans[0].RTO)
	assert.Equal(t, 5*time.Minute, plans[0].RPO)
	assert.Equal(t, entity.PlanStatusActive, plans[0].Status)
	assert.Equal(t, 1, plans[0].Steps[0].Order)
	assert.NotEqual(t, uuid.Nil, plans[0].Steps[0].ID)
}

func TestPlanManagementRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	viewer := entity.ExecutionContext{Actor: "bob", TenantID: "tenant-1"}

	_, err := h.dr.SavePlan(h.ctx, viewer, simplePlan("Cache Flush", time.Hour, entity.Step{Name: "assess", Action: entity.StepActionAssessImpact}))
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeForbidden))

	_, err = h.dr.SetPlanStatus(h.ctx, viewer, PlanDataCorruption, entity.PlanStatusInactive)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeForbidden))

	_, err = h.dr.LoadCatalog(h.ctx, viewer, []byte("plans:\n  - name: x\n    disaster_type: software_failure\n    rto: 1h\n    steps: [{name: a, action: notify}]\n"))
	assert.True(t, common.HasErrorCode(err, common.ErrCodeForbidden))

	denied, err := h.audit.Entries(h.ctx, repository.AuditFilter{Outcome: entity.AuditOutcomeDenied})
	require.NoError(t, err)
	assert.Len(t, denied, 3)
	assert.Len(t, h.eventsOfType(entity.EventAccessDenied), 3)

	plans, err := h.dr.Plans(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestSavePlanValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		plan *entity.DisasterRecoveryPlan
	}{
		{"no steps", simplePlan("a", time.Hour)},
		{"no rto", simplePlan("b", 0, entity.Step{Name: "s", Action: entity.StepActionNotify})},
		{"unknown action", simplePlan("c", time.Hour, entity.Step{Name: "s", Action: "reboot"})},
		{"sql step without statements", simplePlan("d", time.Hour, entity.Step{Name: "s", Action: entity.StepActionCustomSQL})},
		{"unknown disaster type", &entity.DisasterRecoveryPlan{Name: "e", DisasterType: "meteor", RTO: time.Hour,
			Steps: []entity.Step{{Name: "s", Action: entity.StepActionNotify}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.dr.SavePlan(h.ctx, h.ec, tt.plan)
			assert.True(t, common.HasErrorCode(err, common.ErrCodeValidationFailed), "got %v", err)
		})
	}
}

func TestSavePlanKeepsNamesUniqueAmongActivePlans(t *testing.T) {
	h := newHarness(t)
	step := entity.Step{Name: "notify", Action: entity.StepActionNotify}

	first, err := h.dr.SavePlan(h.ctx, h.ec, simplePlan("Cache Flush", time.Hour, step))
	require.NoError(t, err)

	replaced, err := h.dr.SavePlan(h.ctx, h.ec, simplePlan("Cache Flush", 2*time.Hour, step))
	require.NoError(t, err)
	assert.Equal(t, first.ID, replaced.ID)
	assert.Equal(t, 2*time.Hour, replaced.RTO)
	assert.Equal(t, first.CreatedAt, replaced.CreatedAt)

	conflicting := simplePlan("Cache Flush", time.Hour, step)
	conflicting.ID = uuid.New()
	_, err = h.dr.SavePlan(h.ctx, h.ec, conflicting)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeValidationFailed))

	plans, err := h.dr.Plans(h.ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestExecuteRejectsInactivePlans(t *testing.T) {
	h := newHarness(t)
	_, err := h.dr.InstallDefaultCatalog(h.ctx, h.ec)
	require.NoError(t, err)

	_, err = h.dr.SetPlanStatus(h.ctx, h.ec, PlanDataCorruption, entity.PlanStatusUnderReview)
	require.NoError(t, err)

	_, err = h.dr.Execute(h.ctx, h.ec, DRRequest{PlanName: PlanDataCorruption})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidState))

	_, err = h.dr.Execute(h.ctx, h.ec, DRRequest{PlanName: "Unknown Plan"})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeNotFound))

	_, err = h.dr.Execute(h.ctx, h.ec, DRRequest{PlanName: PlanMigrationFailure, Type: "rehearsal"})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))
}

func TestExecuteTestRunSimulatesAndRecordsResults(t *testing.T) {
	h := newHarness(t)
	_, err := h.dr.InstallDefaultCatalog(h.ctx, h.ec)
	require.NoError(t, err)

	execution, err := h.dr.Execute(h.ctx, h.ec, DRRequest{PlanName: PlanDataCorruption, Version: "001"})
	require.NoError(t, err)
	assert.Equal(t, entity.DRExecutionTest, execution.Type)
	assert.True(t, execution.DryRun)
	assert.Equal(t, entity.DRStatusCompleted, execution.Status)
	assert.True(t, execution.RTOMet)
	assert.Equal(t, "none (dry-run)", execution.DataLoss)
	assert.Equal(t, "none (test)", execution.BusinessImpact)
	assert.Empty(t, execution.FailedSteps)

	statuses := make(map[entity.StepAction]entity.StepStatus)
	for _, r := range execution.ExecutedSteps {
		statuses[r.Action] = r.Status
	}
	assert.Equal(t, entity.StepStatusSimulated, statuses[entity.StepActionRestoreBackup])
	assert.Equal(t, entity.StepStatusSimulated, statuses[entity.StepActionIsolate])
	assert.Equal(t, entity.StepStatusCompleted, statuses[entity.StepActionAssessImpact])
	assert.Equal(t, entity.StepStatusSkipped, statuses[entity.StepActionManual])
	assert.Contains(t, execution.LessonsLearned, `Manual step "resume application traffic" needs runbook follow-up`)

	plan, err := h.dr.Plan(h.ctx, PlanDataCorruption)
	require.NoError(t, err)
	require.NotNil(t, plan.LastTested)
	require.NotNil(t, plan.LastTestResults)
	assert.Equal(t, execution.ID, plan.LastTestResults.ExecutionID)
	assert.Equal(t, entity.DRStatusCompleted, plan.LastTestResults.Status)

	incidents, err := h.dr.Incidents(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, incidents)

	notified := h.eventsOfType(entity.EventDRNotification)
	require.Len(t, notified, 1)
	assert.Equal(t, entity.SeverityInfo, notified[0].Severity)
	assert.Len(t, h.eventsOfType(entity.EventDRExecutionCompleted), 1)

	stored, err := h.dr.Execution(h.ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DRStatusCompleted, stored.Status)
	executions, err := h.dr.Executions(h.ctx, PlanDataCorruption)
	require.NoError(t, err)
	assert.Len(t, executions, 1)
}

func TestExecuteActualDisasterRestoresFailedVersion(t *testing.T) {
	h := newHarness(t)
	_, err := h.dr.InstallDefaultCatalog(h.ctx, h.ec)
	require.NoError(t, err)

	unit := ordersUnit("001")
	h.runner.fail[unit.Statements[0]] = errBoom
	_, err = h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{unit})
	require.Error(t, err)

	execution, err := h.dr.Execute(h.ctx, h.ec, DRRequest{
		PlanName:    PlanMigrationFailure,
		Type:        entity.DRExecutionActualDisaster,
		Description: "orders migration left the schema broken",
	})
	require.NoError(t, err)
	assert.False(t, execution.DryRun)
	assert.Equal(t, entity.DRStatusCompleted, execution.Status)
	assert.Contains(t, execution.DataLoss, "changes after backup")
	assert.Contains(t, execution.BusinessImpact, "recovered")

	run, err := h.audit.LatestRun(h.ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusRolledBack, run.Status)

	rollbacks, err := h.rollback.Executions(h.ctx, "001")
	require.NoError(t, err)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, entity.RollbackStatusCompleted, rollbacks[0].Status)

	incidents, err := h.dr.Incidents(h.ctx)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, execution.ID, incidents[0].ExecutionID)
	assert.Equal(t, entity.DisasterMigrationFailure, incidents[0].DisasterType)

	plan, err := h.dr.Plan(h.ctx, PlanMigrationFailure)
	require.NoError(t, err)
	assert.Nil(t, plan.LastTested)

	notified := h.eventsOfType(entity.EventDRNotification)
	require.Len(t, notified, 1)
	assert.Equal(t, entity.SeverityCritical, notified[0].Severity)
	assert.False(t, h.locker.Held(DefaultLockName))
}

func TestExecuteAbortsPastRTO(t *testing.T) {
	h := newHarness(t)
	h.dr.RegisterHandler("drain", func(ctx context.Context, step entity.Step) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := h.dr.SavePlan(h.ctx, h.ec, simplePlan("Drain Queue", 30*time.Millisecond,
		entity.Step{Name: "drain", Action: entity.StepActionCustom, Handler: "drain", Critical: true},
		entity.Step{Name: "notify", Action: entity.StepActionNotify},
	))
	require.NoError(t, err)

	execution, err := h.dr.Execute(h.ctx, h.ec, DRRequest{PlanName: "Drain Queue", Type: entity.DRExecutionActualDisaster})
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeTimeout))
	assert.Equal(t, entity.DRStatusAborted, execution.Status)
	assert.False(t, execution.RTOMet)
	require.Len(t, execution.FailedSteps, 1)
	assert.Empty(t, h.eventsOfType(entity.EventDRNotification))
	assert.Contains(t, execution.LessonsLearned, "1 of 2 steps were not attempted")
	assert.Len(t, h.eventsOfType(entity.EventDRExecutionFailed), 1)
	assert.False(t, h.locker.Held(DefaultLockName))
}

func TestExecuteFailsWithoutFailoverHandler(t *testing.T) {
	h := newHarness(t)
	_, err := h.dr.SavePlan(h.ctx, h.ec, simplePlan("Switch Region", time.Hour,
		entity.Step{Name: "fail over", Action: entity.StepActionFailover, Critical: true},
		entity.Step{Name: "notify", Action: entity.StepActionNotify},
	))
	require.NoError(t, err)

	execution, err := h.dr.Execute(h.ctx, h.ec, DRRequest{PlanName: "Switch Region", Type: entity.DRExecutionActualDisaster})
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeStepExecution))
	assert.Equal(t, entity.DRStatusFailed, execution.Status)

	h.dr.RegisterHandler("failover", func(ctx context.Context, step entity.Step) (string, error) {
		return "standby promoted", nil
	})
	execution, err = h.dr.Execute(h.ctx, h.ec, DRRequest{PlanName: "Switch Region", Type: entity.DRExecutionActualDisaster})
	require.NoError(t, err)
	assert.Equal(t, entity.DRStatusCompleted, execution.Status)
	assert.Equal(t, "standby promoted", execution.ExecutedSteps[0].Note)
}

func TestDetectReportsDataCorruption(t *testing.T) {
	h := newHarness(t)
	_, err := h.dr.InstallDefaultCatalog(h.ctx, h.ec)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := h.bus.LogEvent(h.ctx, EventInput{
			Type:     entity.EventHealthCheckFailed,
			Severity: entity.SeverityError,
			Message:  "integrity check failed",
		})
		require.NoError(t, err)
	}

	candidates, err := h.dr.Detect(h.ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, entity.DisasterDataCorruption, candidates[0].DisasterType)
	assert.Greater(t, candidates[0].Confidence, 0.0)
	assert.InDelta(t, 0.6, candidates[0].Confidence, 0.001)
	assert.Equal(t, "Data Corruption Recovery", candidates[0].RecommendedPlan)
	assert.NotEmpty(t, candidates[0].Evidence)

	executions, err := h.dr.Executions(h.ctx, "")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestDetectOrdersByConfidence(t *testing.T) {
	h := newHarness(t)
	emit := func(eventType entity.EventType, n int) {
		for i := 0; i < n; i++ {
			_, err := h.bus.LogEvent(h.ctx, EventInput{Type: eventType, Severity: entity.SeverityError})
			require.NoError(t, err)
		}
	}
	emit(entity.EventHealthCheckFailed, 4)
	emit(entity.EventMigrationFailed, 3)
	emit(entity.EventPerformanceDegradation, 2)

	h.health.Register(&staticCheck{
		category: entity.HealthCategorySecurity,
		results:  []entity.HealthCheckResult{{Name: "access_denials", Status: entity.HealthStatusFailed, Message: "too many"}},
	})
	_, err := h.health.Run(h.ctx, h.ec)
	require.NoError(t, err)

	candidates, err := h.dr.Detect(h.ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, entity.DisasterMigrationFailure, candidates[0].DisasterType)
	assert.InDelta(t, 0.8, candidates[0].Confidence, 0.001)
	assert.Equal(t, PlanMigrationFailure, candidates[0].RecommendedPlan)
	assert.Equal(t, entity.DisasterSecurityBreach, candidates[1].DisasterType)
	assert.InDelta(t, 0.7, candidates[1].Confidence, 0.001)
	assert.Equal(t, entity.DisasterDataCorruption, candidates[2].DisasterType)
}

func TestDetectIgnoresOldEvidence(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 6; i++ {
		_, err := h.bus.LogEvent(h.ctx, EventInput{Type: entity.EventHealthCheckFailed, Severity: entity.SeverityError})
		require.NoError(t, err)
	}
	h.dr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	candidates, err := h.dr.Detect(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestEmergencyRollback(t *testing.T) {
	h := newHarness(t)
	h.apply(ordersUnit("001"))

	execution, err := h.dr.EmergencyRollback(h.ctx, h.ec, "001", "orders table is corrupt")
	require.NoError(t, err)
	assert.True(t, execution.Emergency)
	assert.Equal(t, "orders table is corrupt", execution.Reason)
	assert.Equal(t, entity.RollbackStatusCompleted, execution.Status)

	emergency := h.eventsOfType(entity.EventEmergencyRollback)
	require.Len(t, emergency, 1)
	assert.Equal(t, entity.SeverityCritical, emergency[0].Severity)

	initiated := h.eventsOfType(entity.EventRollbackInitiated)
	require.Len(t, initiated, 1)
	assert.Equal(t, entity.SeverityCritical, initiated[0].Severity)

	entries, err := h.audit.Entries(h.ctx, repository.AuditFilter{Action: AuditActionEmergencyRollback})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.AuditOutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "orders table is corrupt", entries[0].Detail["reason"])
}

func TestEmergencyRollbackRequiresBackupPredatingRun(t *testing.T) {
	h := newHarness(t)
	h.apply(plainUnit("001", "orders"))

	_, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001", Type: entity.BackupTypeRollbackPoint})
	require.NoError(t, err)

	execution, err := h.dr.EmergencyRollback(h.ctx, h.ec, "001", "bad deploy")
	require.Error(t, err)
	assert.Nil(t, execution)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeBackupProvenance))

	refused := h.eventsOfType(entity.EventPreconditionFailed)
	require.Len(t, refused, 1)
	assert.Equal(t, entity.SeverityCritical, refused[0].Severity)

	entries, err := h.audit.Entries(h.ctx, repository.AuditFilter{Action: AuditActionEmergencyRollback})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.AuditOutcomeFailure, entries[0].Outcome)

	executions, err := h.rollback.Executions(h.ctx, "001")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestEmergencyRollbackPreconditions(t *testing.T) {
	h := newHarness(t)

	_, err := h.dr.EmergencyRollback(h.ctx, h.ec, "001", " ")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))

	h.apply(plainUnit("001", "orders"))
	_, err = h.dr.EmergencyRollback(h.ctx, h.ec, "001", "no backup exists")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeBackupProvenance))

	_, err = h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "002"})
	require.NoError(t, err)
	_, err = h.dr.EmergencyRollback(h.ctx, h.ec, "002", "never ran")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeBackupProvenance))
	assert.Contains(t, err.Error(), "no recorded run")
}

func TestRepeatedEmergencyRollbackReusesPreMigrationBackup(t *testing.T) {
	h := newHarness(t)
	h.apply(ordersUnit("001"))

	pre, err := h.backups.List(h.ctx, repository.BackupFilter{Version: "001", Type: entity.BackupTypePreMigration})
	require.NoError(t, err)
	require.Len(t, pre, 1)

	first, err := h.dr.EmergencyRollback(h.ctx, h.ec, "001", "orders table is corrupt")
	require.NoError(t, err)
	assert.Equal(t, pre[0].ID, first.BackupID)

	points, err := h.backups.List(h.ctx, repository.BackupFilter{Version: "001", Type: entity.BackupTypeRollbackPoint})
	require.NoError(t, err)
	require.NotEmpty(t, points)

	second, err := h.dr.EmergencyRollback(h.ctx, h.ec, "001", "still corrupt")
	require.NoError(t, err)
	assert.Equal(t, pre[0].ID, second.BackupID)
	assert.Equal(t, entity.RollbackStatusCompleted, second.Status)
}

func TestRestoreBackupStepUsesBackupPredatingRun(t *testing.T) {
	h := newHarness(t)
	_, err := h.dr.SavePlan(h.ctx, h.ec, simplePlan("Restore Orders", time.Minute,
		entity.Step{Name: "restore", Action: entity.StepActionRestoreBackup, Critical: true},
	))
	require.NoError(t, err)

	h.apply(ordersUnit("001"))
	pre, err := h.backups.List(h.ctx, repository.BackupFilter{Version: "001", Type: entity.BackupTypePreMigration})
	require.NoError(t, err)
	require.Len(t, pre, 1)
	_, err = h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001", Type: entity.BackupTypeRollbackPoint})
	require.NoError(t, err)

	execution, err := h.dr.Execute(h.ctx, h.ec, DRRequest{
		PlanName: "Restore Orders",
		Type:     entity.DRExecutionActualDisaster,
		Version:  "001",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.DRStatusCompleted, execution.Status)

	rollbacks, err := h.rollback.Executions(h.ctx, "001")
	require.NoError(t, err)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, pre[0].ID, rollbacks[0].BackupID)
}

func TestRestoreBackupStepRefusesBackupsAfterRun(t *testing.T) {
	h := newHarness(t)
	_, err := h.dr.SavePlan(h.ctx, h.ec, simplePlan("Restore Orders", time.Minute,
		entity.Step{Name: "restore", Action: entity.StepActionRestoreBackup, Critical: true},
	))
	require.NoError(t, err)

	h.apply(plainUnit("001", "orders"))
	_, err = h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001", Type: entity.BackupTypeRollbackPoint})
	require.NoError(t, err)

	execution, err := h.dr.Execute(h.ctx, h.ec, DRRequest{
		PlanName: "Restore Orders",
		Type:     entity.DRExecutionActualDisaster,
		Version:  "001",
	})
	require.Error(t, err)
	require.Len(t, execution.FailedSteps, 1)
	assert.Contains(t, execution.FailedSteps[0].Error, string(common.ErrCodeBackupProvenance))

	rollbacks, err := h.rollback.Executions(h.ctx, "001")
	require.NoError(t, err)
	assert.Empty(t, rollbacks)
}
