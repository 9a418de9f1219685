package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

type recordingAuditHook struct {
	entries []*entity.AuditEntry
}

func (r *recordingAuditHook) PublishAudit(ctx context.Context, entry *entity.AuditEntry) error {
	r.entries = append(r.entries, entry)
	return errBoom
}

func TestRecordStartAndCompletionLinkRows(t *testing.T) {
	h := newHarness(t)
	unit := plainUnit("001", "orders")

	start, err := h.audit.RecordStart(h.ctx, h.ec, unit, "before")
	require.NoError(t, err)
	assert.Equal(t, entity.RunPhaseStart, start.Phase)
	assert.Equal(t, entity.RunStatusRunning, start.Status)
	assert.Equal(t, "alice", start.ExecutedBy)
	assert.Equal(t, 1, start.StatementCount)

	complete, err := h.audit.RecordCompletion(h.ctx, h.ec, Completion{
		Version:       "001",
		Status:        entity.RunStatusSuccess,
		ChecksumAfter: "after",
		Metrics:       map[string]float64{MetricStatementsExecuted: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RunPhaseComplete, complete.Phase)
	assert.False(t, complete.Orphaned)
	require.NotNil(t, complete.StartRunID)
	assert.Equal(t, start.ID, *complete.StartRunID)
	assert.Equal(t, "before", complete.ChecksumBefore)

	latest, err := h.audit.LatestRun(h.ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSuccess, latest.Status)
	assert.Equal(t, "after", latest.ChecksumAfter)
	require.NotNil(t, latest.CompletedAt)

	success, err := h.audit.LatestSuccess(h.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, start.ID, success.ID)
}

func TestRecordStartRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t)
	unit := plainUnit("001", "orders")

	_, err := h.audit.RecordStart(h.ctx, h.ec, unit, "")
	require.NoError(t, err)

	_, err = h.audit.RecordStart(h.ctx, h.ec, unit, "")
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeLockContention))
	assert.Len(t, h.eventsOfType(entity.EventLockContention), 1)

	_, err = h.audit.RecordStart(h.ctx, h.ec, plainUnit("002", "invoices"), "")
	assert.NoError(t, err)

	_, err = h.audit.RecordStart(h.ctx, h.ec, plainUnit("", "x"), "")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))
}

func TestRecordCompletionWithoutStartIsOrphaned(t *testing.T) {
	h := newHarness(t)

	complete, err := h.audit.RecordCompletion(h.ctx, h.ec, Completion{
		Version:     "007",
		Status:      entity.RunStatusFailed,
		Err:         errBoom,
		ErrorDetail: map[string]string{"stage": "statements"},
	})
	require.NoError(t, err)
	assert.True(t, complete.Orphaned)
	assert.Nil(t, complete.StartRunID)
	assert.Equal(t, "boom", complete.ErrorMessage)

	latest, err := h.audit.LatestRun(h.ctx, "007")
	require.NoError(t, err)
	assert.Nil(t, latest)

	entries, err := h.audit.Entries(h.ctx, repository.AuditFilter{Action: AuditActionMigrationComplete})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.AuditOutcomeFailure, entries[0].Outcome)
	assert.Equal(t, "true", entries[0].Detail["orphaned"])

	_, err = h.audit.RecordCompletion(h.ctx, h.ec, Completion{Version: "007", Status: entity.RunStatusRunning})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))
}

func TestMarkRolledBackUpdatesBothRows(t *testing.T) {
	h := newHarness(t)
	h.apply(plainUnit("001", "orders"))

	run, err := h.audit.MarkRolledBack(h.ctx, h.ec, "001")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusRolledBack, run.Status)

	rows, err := h.audit.Runs(h.ctx, repository.RunFilter{Version: "001"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, entity.RunStatusRolledBack, r.Status, string(r.Phase))
	}

	_, err = h.audit.MarkRolledBack(h.ctx, h.ec, "999")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeNotFound))
}

func TestStatusReturnsLatestRunPerVersion(t *testing.T) {
	h := newHarness(t)
	h.apply(plainUnit("002", "invoices"))
	h.apply(plainUnit("001", "orders"))

	_, err := h.audit.MarkRolledBack(h.ctx, h.ec, "001")
	require.NoError(t, err)
	h.apply(plainUnit("001", "orders"))

	status, err := h.audit.Status(h.ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, "001", status[0].Version)
	assert.Equal(t, entity.RunStatusSuccess, status[0].Status)
	assert.Equal(t, "002", status[1].Version)
}

func TestRecordPublishesToHooks(t *testing.T) {
	h := newHarness(t)
	hook := &recordingAuditHook{}
	h.audit.AddHook(hook)

	entry, err := h.audit.Record(h.ctx, h.ec, AuditActionBackupCleanup, "backups", entity.AuditOutcomeSuccess, map[string]string{"expired": "2"})
	require.NoError(t, err)
	assert.Equal(t, "alice", entry.Actor)
	assert.Equal(t, "tenant-1", entry.TenantID)
	assert.Equal(t, "corr-1", entry.CorrelationID)
	require.Len(t, hook.entries, 1)
	assert.Equal(t, entry.ID, hook.entries[0].ID)

	var nilLog *AuditLog
	entry, err = nilLog.Record(h.ctx, h.ec, AuditActionBackupCleanup, "backups", entity.AuditOutcomeSuccess, nil)
	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestEntriesFilterByActor(t *testing.T) {
	h := newHarness(t)
	bob := entity.ExecutionContext{Actor: "bob"}
	system := entity.ExecutionContext{}

	for _, ec := range []entity.ExecutionContext{h.ec, bob, bob, system} {
		_, err := h.audit.Record(h.ctx, ec, AuditActionPlanSave, "dr_plan:x", entity.AuditOutcomeSuccess, nil)
		require.NoError(t, err)
	}

	entries, err := h.audit.Entries(h.ctx, repository.AuditFilter{Actor: "bob"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = h.audit.Entries(h.ctx, repository.AuditFilter{Actor: entity.SystemActor})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = h.audit.Entries(h.ctx, repository.AuditFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
