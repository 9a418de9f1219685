package repository

import (
	"context"
	"errors"
	"time"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

// ErrNotFound is returned by stores when a keyed lookup has no match
var ErrNotFound = errors.New("not found")

// ErrRestoreUnsupported is returned by a Restorer that cannot perform a restore
var ErrRestoreUnsupported = errors.New("restore not supported by this restorer")

// Lease is a held lock
type Lease interface {
	Name() string
	Release(ctx context.Context) error
}

// Locker acquires named, exclusive, non-blocking locks. A held lock reports
// acquired=false without error.
type Locker interface {
	TryAcquire(ctx context.Context, name string) (lease Lease, acquired bool, err error)
}

// BackupStore persists encoded backup payloads by key
type BackupStore interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// SchemaInspector captures schema metadata of the managed database
type SchemaInspector interface {
	Snapshot(ctx context.Context) (*entity.SchemaSnapshot, error)
	EstimateTables(ctx context.Context, tables []string) ([]entity.TableEstimate, error)
}

// StatementRunner executes statements all-or-nothing. On failure executed
// is the zero-based index of the failing statement.
type StatementRunner interface {
	ExecStatements(ctx context.Context, statements []string) (executed int, err error)
}

// Restorer brings the managed database back to a captured state
type Restorer interface {
	RestoreSchema(ctx context.Context, target *entity.SchemaSnapshot, tables []string) error
	RestoreData(ctx context.Context, data *entity.DataSnapshot) error
}

// DatabaseStats is what a DatabaseProbe reports about the managed database
type DatabaseStats struct {
	Connections    int
	MaxConnections int
	StorageBytes   int64
	CacheHitRatio  float64
}

// DatabaseProbe reports connectivity and load of the managed database
type DatabaseProbe interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (*DatabaseStats, error)
	LongRunningQueries(ctx context.Context, threshold time.Duration) (int, error)
}

// EventHook receives every persisted monitoring event
type EventHook interface {
	PublishEvent(ctx context.Context, event *entity.MonitoringEvent) error
}

// AlertHook receives alerts when they are generated
type AlertHook interface {
	PublishAlert(ctx context.Context, alert *entity.Alert) error
}

// AuditHook receives every persisted audit entry
type AuditHook interface {
	PublishAudit(ctx context.Context, entry *entity.AuditEntry) error
}
