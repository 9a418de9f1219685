package entity

import (
	"time"

	"github.com/google/uuid"
)

// BackupType represents the purpose of a backup
type BackupType string

const (
	BackupTypePreMigration  BackupType = "pre_migration"
	BackupTypePostMigration BackupType = "post_migration"
	BackupTypeRollbackPoint BackupType = "rollback_point"
)

// Valid reports whether t is a known backup type
func (t BackupType) Valid() bool {
	switch t {
	case BackupTypePreMigration, BackupTypePostMigration, BackupTypeRollbackPoint:
		return true
	}
	return false
}

// BackupStatus represents the status of a backup
type BackupStatus string

const (
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
	BackupStatusExpired    BackupStatus = "expired"
)

// DefaultBackupRetention is how long a backup stays eligible as a rollback target
const DefaultBackupRetention = 30 * 24 * time.Hour

// Backup is a catalogued schema snapshot (and optional data estimate) for a migration version
type Backup struct {
	ID           uuid.UUID     `json:"id"`
	Version      string        `json:"version"`
	Type         BackupType    `json:"type"`
	Status       BackupStatus  `json:"status"`
	SizeBytes    int64         `json:"size_bytes"`
	Checksum     string        `json:"checksum,omitempty"`
	StoreKey     string        `json:"store_key,omitempty"`
	DataTables   []string      `json:"data_tables,omitempty"`
	DataSnapshot *DataSnapshot `json:"data_snapshot,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
	RestoredAt   *time.Time    `json:"restored_at,omitempty"`
	SupersededBy *uuid.UUID    `json:"superseded_by,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedBy    string        `json:"created_by"`
}

// IsExpiredAt reports whether the backup can no longer be used as a rollback target at now
func (b *Backup) IsExpiredAt(now time.Time) bool {
	return b.Status == BackupStatusExpired || (!b.ExpiresAt.IsZero() && !now.Before(b.ExpiresAt))
}

// UsableAt reports whether the backup is a valid rollback target at now
func (b *Backup) UsableAt(now time.Time) bool {
	return b.Status == BackupStatusCompleted && !b.IsExpiredAt(now)
}

// BackupPayload is what a BackupStore persists for a backup
type BackupPayload struct {
	BackupID uuid.UUID       `msgpack:"backup_id"`
	Version  string          `msgpack:"version"`
	Type     BackupType      `msgpack:"type"`
	Schema   *SchemaSnapshot `msgpack:"schema"`
	Data     *DataSnapshot   `msgpack:"data,omitempty"`
}
