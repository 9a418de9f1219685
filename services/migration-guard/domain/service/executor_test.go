package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

func plainUnit(version, table string) entity.MigrationUnit {
	return entity.MigrationUnit{
		Version:        version,
		Name:           "create_" + table,
		Statements:     []string{"CREATE TABLE " + table + " (id int)"},
		Down:           []string{"DROP TABLE " + table},
		AffectedTables: []string{table},
	}
}

func TestApplyRunsUnitsInVersionOrder(t *testing.T) {
	h := newHarness(t)

	report, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{
		plainUnit("002", "invoices"),
		plainUnit("001", "orders"),
	})
	require.NoError(t, err)
	require.Len(t, report.Applied, 2)
	assert.Equal(t, "001", report.Applied[0].Version)
	assert.Equal(t, "002", report.Applied[1].Version)
	assert.Nil(t, report.Failed)

	batches := h.runner.batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"CREATE TABLE orders (id int)"}, batches[0])
	assert.Equal(t, []string{"CREATE TABLE invoices (id int)"}, batches[1])

	runs, err := h.executor.Status(h.ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, entity.RunStatusSuccess, run.Status)
		assert.NotEmpty(t, run.ChecksumBefore)
		assert.NotEmpty(t, run.ChecksumAfter)
		assert.NotEqual(t, run.ChecksumBefore, run.ChecksumAfter)
		assert.Equal(t, float64(1), run.Metrics[MetricStatementsExecuted])
	}

	assert.Len(t, h.eventsOfType(entity.EventMigrationStarted), 2)
	assert.Len(t, h.eventsOfType(entity.EventMigrationCompleted), 2)
	assert.False(t, h.locker.Held(DefaultLockName))
}

func TestApplySkipsSuccessfulVersions(t *testing.T) {
	h := newHarness(t)
	units := []entity.MigrationUnit{plainUnit("001", "orders"), plainUnit("002", "invoices")}

	_, err := h.executor.Apply(h.ctx, h.ec, units[:1])
	require.NoError(t, err)

	pending, err := h.executor.Pending(h.ctx, units)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "002", pending[0].Version)

	report, err := h.executor.Apply(h.ctx, h.ec, units)
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, report.Skipped)
	require.Len(t, report.Applied, 1)
	assert.Equal(t, "002", report.Applied[0].Version)
	assert.Len(t, h.runner.batches(), 2)
}

func TestApplyRejectsInvalidUnitSets(t *testing.T) {
	h := newHarness(t)

	_, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{plainUnit("001", "a"), plainUnit("001", "b")})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeValidationFailed))

	_, err = h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{plainUnit("", "a")})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeValidationFailed))

	assert.Empty(t, h.runner.batches())
}

func TestApplyFailsWhileLockHeld(t *testing.T) {
	h := newHarness(t)

	lease, ok, err := h.locker.TryAcquire(h.ctx, DefaultLockName)
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release(context.Background())

	report, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{plainUnit("001", "orders")})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeLockContention))
	assert.Empty(t, h.runner.batches())
	assert.Len(t, h.eventsOfType(entity.EventLockContention), 1)

	run, err := h.audit.LatestRun(h.ctx, "001")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	failing := entity.MigrationUnit{
		Version:    "002",
		Name:       "alter_orders",
		Statements: []string{"ALTER TABLE orders ADD COLUMN total int", "ALTER TABLE orders ADD COLUMN broken"},
	}
	h.runner.fail["ALTER TABLE orders ADD COLUMN broken"] = errBoom

	report, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{
		plainUnit("001", "orders"),
		failing,
		plainUnit("003", "invoices"),
	})
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeScriptExecution))
	require.NotNil(t, report)
	require.Len(t, report.Applied, 1)
	require.NotNil(t, report.Failed)
	assert.Equal(t, "002", report.Failed.Version)
	assert.Equal(t, entity.RunStatusFailed, report.Failed.Status)
	assert.Nil(t, report.Rollback)

	run, err := h.audit.LatestRun(h.ctx, "002")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, run.Status)
	assert.Equal(t, "statements", run.ErrorDetail["stage"])
	assert.Equal(t, "2", run.ErrorDetail["statement"])
	assert.Equal(t, string(common.ErrCodeScriptExecution), run.ErrorDetail["code"])

	untouched, err := h.audit.LatestRun(h.ctx, "003")
	require.NoError(t, err)
	assert.Nil(t, untouched)

	failed := h.eventsOfType(entity.EventMigrationFailed)
	require.Len(t, failed, 1)
	detail, ok := failed[0].Detail.(entity.MigrationDetail)
	require.True(t, ok)
	assert.Equal(t, 2, detail.FailedStatement)
	assert.Equal(t, run.ID.String(), detail.RunID)
}

func TestApplyBacksUpCriticalUnitsBeforeStart(t *testing.T) {
	h := newHarness(t)

	report, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{criticalUnit("001")})
	require.NoError(t, err)
	require.Len(t, report.Applied, 1)
	require.NotNil(t, report.Applied[0].BackupID)

	b, err := h.backups.Get(h.ctx, *report.Applied[0].BackupID)
	require.NoError(t, err)
	assert.Equal(t, entity.BackupTypePreMigration, b.Type)
	assert.Equal(t, entity.BackupStatusCompleted, b.Status)
	assert.Equal(t, []string{"user_data"}, b.DataTables)

	run, err := h.audit.LatestRun(h.ctx, "001")
	require.NoError(t, err)
	assert.False(t, run.StartedAt.Before(b.CreatedAt))
	assert.Equal(t, run.ChecksumBefore, b.Checksum)
	assert.True(t, run.Critical)
	assert.Equal(t, entity.DataLossRiskHigh, run.DataLossRisk)
}

func TestApplySkipsBackupForNonCriticalUnits(t *testing.T) {
	h := newHarness(t)

	report, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{plainUnit("001", "orders")})
	require.NoError(t, err)
	assert.Nil(t, report.Applied[0].BackupID)

	backups, err := h.backups.List(h.ctx, repository.BackupFilter{})
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestApplyFailsUnitWhenBackupFails(t *testing.T) {
	h := newHarness(t)
	h.backups.store = failingStore{}

	report, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{criticalUnit("001")})
	require.Error(t, err)
	require.NotNil(t, report.Failed)
	assert.Empty(t, h.runner.batches())

	run, err := h.audit.LatestRun(h.ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, run.Status)
	assert.Equal(t, "backup", run.ErrorDetail["stage"])
	assert.Len(t, h.eventsOfType(entity.EventBackupFailed), 1)
}

func TestApplyRecordsFailedRunWhenChecksumFails(t *testing.T) {
	h := newHarness(t)
	h.inspector.setErr(errBoom)

	report, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{plainUnit("001", "orders")})
	require.Error(t, err)
	require.NotNil(t, report.Failed)
	assert.Empty(t, h.runner.batches())

	run, err := h.audit.LatestRun(h.ctx, "001")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, report.Failed.RunID, run.ID)
	assert.Equal(t, entity.RunStatusFailed, run.Status)
	assert.Equal(t, "checksum", run.ErrorDetail["stage"])

	completions, err := h.audit.Runs(h.ctx, repository.RunFilter{Version: "001", Phase: entity.RunPhaseComplete})
	require.NoError(t, err)
	require.Len(t, completions, 1)
	assert.Equal(t, entity.RunStatusFailed, completions[0].Status)
	require.NotNil(t, completions[0].StartRunID)
	assert.Equal(t, run.ID, *completions[0].StartRunID)
	assert.False(t, completions[0].Orphaned)

	failed := h.eventsOfType(entity.EventMigrationFailed)
	require.Len(t, failed, 1)
}

func TestApplyReportsSchemaDrift(t *testing.T) {
	h := newHarness(t)
	h.apply(plainUnit("001", "orders"))
	assert.Empty(t, h.eventsOfType(entity.EventSchemaDriftDetected))

	h.inspector.addTable(table("manual_fix", "id"))
	h.apply(plainUnit("002", "invoices"))

	drift := h.eventsOfType(entity.EventSchemaDriftDetected)
	require.Len(t, drift, 1)
	assert.Equal(t, "002", drift[0].Version)
	assert.Equal(t, entity.SeverityWarning, drift[0].Severity)
}

func TestApplyAutoRollback(t *testing.T) {
	h := newHarness(t)
	config := DefaultExecutorConfig()
	config.AutoRollback = true
	executor := NewExecutor(ExecutorDependencies{
		Audit:     h.audit,
		Backups:   h.backups,
		Bus:       h.bus,
		Rollback:  h.rollback,
		Inspector: h.inspector,
		Runner:    h.runner,
		Locker:    h.locker,
	}, config, zaptest.NewLogger(t))

	unit := ordersUnit("001")
	h.runner.fail[unit.Statements[0]] = errBoom

	report, err := executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{unit})
	require.Error(t, err)
	require.NotNil(t, report.Rollback)
	assert.Equal(t, entity.RollbackStatusCompleted, report.Rollback.Status)

	run, err := h.audit.LatestRun(h.ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusRolledBack, run.Status)
	assert.False(t, h.locker.Held(DefaultLockName))
}
