package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	sharedpg "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
)

// BackupRepository implements repository.BackupRepository for PostgreSQL
type BackupRepository struct {
	client *sharedpg.Client
}

// NewBackupRepository creates a new PostgreSQL backup catalogue
func NewBackupRepository(client *sharedpg.Client) *BackupRepository {
	return &BackupRepository{client: client}
}

func (r *BackupRepository) Create(ctx context.Context, backup *entity.Backup) error {
	doc, err := encodeDoc(backup)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guard_backups (id, version, type, status, data_tables, created_at, expires_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = exec(ctx, r.client, query,
		backup.ID, backup.Version, backup.Type, backup.Status,
		stringArray(backup.DataTables), backup.CreatedAt, backup.ExpiresAt, doc,
	)
	return errors.Wrap(err, "failed to insert backup")
}

func (r *BackupRepository) Update(ctx context.Context, backup *entity.Backup) error {
	doc, err := encodeDoc(backup)
	if err != nil {
		return err
	}

	query := `
		UPDATE guard_backups
		SET status = $2, data_tables = $3, expires_at = $4, doc = $5
		WHERE id = $1`

	return update(ctx, r.client, "backup", query,
		backup.ID, backup.Status, stringArray(backup.DataTables), backup.ExpiresAt, doc)
}

func (r *BackupRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Backup, error) {
	return getDoc[entity.Backup](ctx, r.client, `SELECT doc FROM guard_backups WHERE id = $1`, id)
}

func (r *BackupRepository) Find(ctx context.Context, f repository.BackupFilter) ([]*entity.Backup, error) {
	var q filter
	if f.Version != "" {
		q.add("version = $%d", f.Version)
	}
	if f.Type != "" {
		q.add("type = $%d", f.Type)
	}
	if f.Status != "" {
		q.add("status = $%d", f.Status)
	}

	query := `SELECT doc FROM guard_backups` + q.where() +
		` ORDER BY created_at DESC` + limitClause(f.Limit)
	return selectDocs[entity.Backup](ctx, r.client, query, q.args...)
}

// RollbackRepository implements repository.RollbackRepository for PostgreSQL
type RollbackRepository struct {
	client *sharedpg.Client
}

// NewRollbackRepository creates a new PostgreSQL rollback execution store
func NewRollbackRepository(client *sharedpg.Client) *RollbackRepository {
	return &RollbackRepository{client: client}
}

func (r *RollbackRepository) Create(ctx context.Context, execution *entity.RollbackExecution) error {
	doc, err := encodeDoc(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guard_rollback_executions (id, version, status, started_at, doc)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = exec(ctx, r.client, query,
		execution.ID, execution.Version, execution.Status, execution.StartedAt, doc)
	return errors.Wrap(err, "failed to insert rollback execution")
}

func (r *RollbackRepository) Update(ctx context.Context, execution *entity.RollbackExecution) error {
	doc, err := encodeDoc(execution)
	if err != nil {
		return err
	}
	return update(ctx, r.client, "rollback execution",
		`UPDATE guard_rollback_executions SET status = $2, doc = $3 WHERE id = $1`,
		execution.ID, execution.Status, doc)
}

func (r *RollbackRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.RollbackExecution, error) {
	return getDoc[entity.RollbackExecution](ctx, r.client,
		`SELECT doc FROM guard_rollback_executions WHERE id = $1`, id)
}

func (r *RollbackRepository) FindByVersion(ctx context.Context, version string) ([]*entity.RollbackExecution, error) {
	var q filter
	if version != "" {
		q.add("version = $%d", version)
	}
	query := `SELECT doc FROM guard_rollback_executions` + q.where() + ` ORDER BY started_at DESC`
	return selectDocs[entity.RollbackExecution](ctx, r.client, query, q.args...)
}
