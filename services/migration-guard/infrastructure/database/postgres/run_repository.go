package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	sharedpg "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
)

// RunRepository implements repository.RunRepository for PostgreSQL
type RunRepository struct {
	client *sharedpg.Client
}

// NewRunRepository creates a new PostgreSQL run repository
func NewRunRepository(client *sharedpg.Client) *RunRepository {
	return &RunRepository{client: client}
}

func (r *RunRepository) Create(ctx context.Context, run *entity.MigrationRun) error {
	doc, err := encodeDoc(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guard_migration_runs (id, version, phase, status, affected_tables, started_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = exec(ctx, r.client, query,
		run.ID, run.Version, run.Phase, run.Status,
		stringArray(run.AffectedTables), run.StartedAt, doc,
	)
	return errors.Wrap(err, "failed to insert migration run")
}

func (r *RunRepository) Update(ctx context.Context, run *entity.MigrationRun) error {
	doc, err := encodeDoc(run)
	if err != nil {
		return err
	}

	query := `
		UPDATE guard_migration_runs
		SET status = $2, affected_tables = $3, doc = $4
		WHERE id = $1`

	return update(ctx, r.client, "migration run", query, run.ID, run.Status, stringArray(run.AffectedTables), doc)
}

func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.MigrationRun, error) {
	return getDoc[entity.MigrationRun](ctx, r.client, `SELECT doc FROM guard_migration_runs WHERE id = $1`, id)
}

func (r *RunRepository) Find(ctx context.Context, f repository.RunFilter) ([]*entity.MigrationRun, error) {
	var q filter
	if f.Version != "" {
		q.add("version = $%d", f.Version)
	}
	if f.Phase != "" {
		q.add("phase = $%d", f.Phase)
	}
	if f.Status != "" {
		q.add("status = $%d", f.Status)
	}
	if !f.Since.IsZero() {
		q.add("started_at >= $%d", f.Since)
	}

	query := `SELECT doc FROM guard_migration_runs` + q.where() +
		` ORDER BY started_at DESC` + limitClause(f.Limit)
	return selectDocs[entity.MigrationRun](ctx, r.client, query, q.args...)
}

// AuditRepository implements the append-only repository.AuditRepository
type AuditRepository struct {
	client *sharedpg.Client
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(client *sharedpg.Client) *AuditRepository {
	return &AuditRepository{client: client}
}

func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	doc, err := encodeDoc(entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guard_audit_entries (id, actor, action, resource, outcome, recorded_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = exec(ctx, r.client, query,
		entry.ID, entry.Actor, entry.Action, entry.Resource, entry.Outcome, entry.Timestamp, doc,
	)
	return errors.Wrap(err, "failed to append audit entry")
}

func (r *AuditRepository) Find(ctx context.Context, f repository.AuditFilter) ([]*entity.AuditEntry, error) {
	var q filter
	if f.Actor != "" {
		q.add("actor = $%d", f.Actor)
	}
	if f.Action != "" {
		q.add("action = $%d", f.Action)
	}
	if f.Resource != "" {
		q.add("resource = $%d", f.Resource)
	}
	if f.Outcome != "" {
		q.add("outcome = $%d", f.Outcome)
	}
	if !f.Since.IsZero() {
		q.add("recorded_at >= $%d", f.Since)
	}

	query := `SELECT doc FROM guard_audit_entries` + q.where() +
		` ORDER BY recorded_at DESC` + limitClause(f.Limit)
	return selectDocs[entity.AuditEntry](ctx, r.client, query, q.args...)
}
