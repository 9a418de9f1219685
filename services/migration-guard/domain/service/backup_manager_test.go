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
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/backup"
)

func TestCreateBackupStoresValidatedPayload(t *testing.T) {
	h := newHarness(t)

	b, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)
	assert.Equal(t, entity.BackupTypePreMigration, b.Type)
	assert.Equal(t, entity.BackupStatusCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)
	assert.NotEmpty(t, b.Checksum)
	assert.Positive(t, b.SizeBytes)
	assert.Equal(t, "alice", b.CreatedBy)
	assert.Equal(t, b.CreatedAt.Add(backup.DefaultConfig().Retention.Default), b.ExpiresAt)

	exists, err := h.store.Exists(h.ctx, b.StoreKey)
	require.NoError(t, err)
	assert.True(t, exists)

	payload, err := h.backups.LoadSnapshot(h.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b.ID, payload.BackupID)
	assert.Equal(t, []string{"users"}, payload.Schema.TableNames())
	assert.Nil(t, payload.Data)

	assert.Len(t, h.eventsOfType(entity.EventBackupCreated), 1)
	assert.Len(t, h.eventsOfType(entity.EventBackupValidated), 1)

	again, err := h.backups.Validate(h.ctx, h.ec, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BackupStatusCompleted, again.Status)
	assert.Len(t, h.eventsOfType(entity.EventBackupValidated), 1)
}

func TestCreateBackupWithData(t *testing.T) {
	h := newHarness(t)

	b, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001", IncludeData: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, b.DataTables)
	require.NotNil(t, b.DataSnapshot)
	require.Len(t, b.DataSnapshot.Tables, 1)
	assert.Equal(t, int64(100), b.DataSnapshot.Tables[0].RowEstimate)

	samples, err := h.bus.Metrics(h.ctx, repository.MetricFilter{Name: MetricBackupSizeBytes})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, float64(b.SizeBytes+8192), samples[0].Value)
}

func TestCreateBackupRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)

	_, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))

	_, err = h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001", Type: "weekly"})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))
}

func TestCreateBackupMarksFailureWhenSnapshotFails(t *testing.T) {
	h := newHarness(t)
	h.inspector.setErr(errBoom)

	_, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeDatabaseQuery))

	failed, err := h.backups.List(h.ctx, repository.BackupFilter{Status: entity.BackupStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.NotEmpty(t, failed[0].ErrorMessage)
	assert.Len(t, h.eventsOfType(entity.EventBackupFailed), 1)

	entries, err := h.audit.Entries(h.ctx, repository.AuditFilter{Action: AuditActionBackupCreate})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.AuditOutcomeFailure, entries[0].Outcome)
}

func TestNewerBackupSupersedesOlder(t *testing.T) {
	h := newHarness(t)

	first, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)
	second, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)

	old, err := h.backups.Get(h.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BackupStatusExpired, old.Status)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, second.ID, *old.SupersededBy)

	_, err = h.backups.Validate(h.ctx, h.ec, first.ID)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeBackupValidation))

	latest, err := h.backups.LatestCompleted(h.ctx, "001", "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	other, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001", Type: entity.BackupTypeRollbackPoint})
	require.NoError(t, err)
	stillCompleted, err := h.backups.Get(h.ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BackupStatusCompleted, stillCompleted.Status)

	latest, err = h.backups.LatestCompleted(h.ctx, "001", entity.BackupTypePreMigration)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	latest, err = h.backups.LatestCompleted(h.ctx, "001", "")
	require.NoError(t, err)
	assert.Equal(t, other.ID, latest.ID)
}

func TestRevalidatedBackupYieldsToNewerCompleted(t *testing.T) {
	h := newHarness(t)

	first, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)
	original, err := h.store.Get(h.ctx, first.StoreKey)
	require.NoError(t, err)

	h.store.Corrupt(first.StoreKey, []byte("not a backup"))
	_, err = h.backups.Validate(h.ctx, h.ec, first.ID)
	require.Error(t, err)

	second, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)

	h.store.Corrupt(first.StoreKey, original)
	_, err = h.backups.Validate(h.ctx, h.ec, first.ID)
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeBackupValidation))
	assert.Contains(t, err.Error(), "superseded by "+second.ID.String())

	old, err := h.backups.Get(h.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BackupStatusExpired, old.Status)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, second.ID, *old.SupersededBy)

	completed, err := h.backups.List(h.ctx, repository.BackupFilter{
		Version: "001",
		Type:    entity.BackupTypePreMigration,
		Status:  entity.BackupStatusCompleted,
	})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, second.ID, completed[0].ID)
}

func TestValidateDetectsCorruptPayload(t *testing.T) {
	h := newHarness(t)
	b, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)

	h.store.Corrupt(b.StoreKey, []byte("not a backup"))

	_, err = h.backups.Validate(h.ctx, h.ec, b.ID)
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeBackupValidation))

	stored, err := h.backups.Get(h.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BackupStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "undecodable")
	assert.Len(t, h.eventsOfType(entity.EventBackupFailed), 1)

	_, err = h.backups.LatestCompleted(h.ctx, "001", "")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeMissingBackup))
}

func TestValidateDetectsChecksumMismatch(t *testing.T) {
	h := newHarness(t)
	b, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)

	tampered, err := backup.Encode(entity.BackupPayload{
		BackupID: b.ID,
		Version:  b.Version,
		Type:     b.Type,
		Schema:   &entity.SchemaSnapshot{Tables: []entity.TableSchema{table("users", "id")}},
	})
	require.NoError(t, err)
	h.store.Corrupt(b.StoreKey, tampered)

	_, err = h.backups.Validate(h.ctx, h.ec, b.ID)
	require.Error(t, err)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeBackupValidation))
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestCleanupExpiredDeletesPayloads(t *testing.T) {
	h := newHarness(t)
	a, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)
	b, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "002"})
	require.NoError(t, err)

	n, err := h.backups.CleanupExpired(h.ctx, h.ec)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.backups.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	n, err = h.backups.CleanupExpired(h.ctx, h.ec)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, bk := range []*entity.Backup{a, b} {
		exists, err := h.store.Exists(h.ctx, bk.StoreKey)
		require.NoError(t, err)
		assert.False(t, exists)

		stored, err := h.backups.Get(h.ctx, bk.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.BackupStatusExpired, stored.Status)
		assert.Empty(t, stored.StoreKey)
	}
	assert.Len(t, h.eventsOfType(entity.EventBackupExpired), 2)

	n, err = h.backups.CleanupExpired(h.ctx, h.ec)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.backups.LatestCompleted(h.ctx, "001", "")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeMissingBackup))
}

type deleteFailingStore struct {
	*backup.MemoryStore
}

func (deleteFailingStore) Delete(ctx context.Context, key string) error { return errBoom }

func TestCleanupExpiredMarksExpiredWhenPayloadDeleteFails(t *testing.T) {
	h := newHarness(t)
	b, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)

	h.backups.store = deleteFailingStore{h.store}
	h.backups.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	n, err := h.backups.CleanupExpired(h.ctx, h.ec)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := h.backups.Get(h.ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BackupStatusExpired, stored.Status)
	assert.Equal(t, b.StoreKey, stored.StoreKey)
	assert.Len(t, h.eventsOfType(entity.EventBackupExpired), 1)

	h.backups.store = h.store
	n, err = h.backups.CleanupExpired(h.ctx, h.ec)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err = h.backups.Get(h.ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.StoreKey)
	exists, err := h.store.Exists(h.ctx, b.StoreKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLatestBeforePrefersPreMigrationBackups(t *testing.T) {
	h := newHarness(t)

	pre, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)
	manual, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001", Type: entity.BackupTypeRollbackPoint})
	require.NoError(t, err)

	got, err := h.backups.LatestBefore(h.ctx, "001", time.Now())
	require.NoError(t, err)
	assert.Equal(t, pre.ID, got.ID)

	_, err = h.backups.LatestBefore(h.ctx, "001", pre.CreatedAt)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeBackupProvenance))

	other, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "002", Type: entity.BackupTypeRollbackPoint})
	require.NoError(t, err)
	got, err = h.backups.LatestBefore(h.ctx, "002", time.Now())
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)
	assert.NotEqual(t, manual.ID, got.ID)
}

func TestMarkRestored(t *testing.T) {
	h := newHarness(t)
	b, err := h.backups.CreateBackup(h.ctx, h.ec, BackupRequest{Version: "001"})
	require.NoError(t, err)
	assert.Nil(t, b.RestoredAt)

	restored, err := h.backups.MarkRestored(h.ctx, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, restored.RestoredAt)

	_, err = h.backups.MarkRestored(h.ctx, uuid.New())
	assert.True(t, common.HasErrorCode(err, common.ErrCodeNotFound))
}
