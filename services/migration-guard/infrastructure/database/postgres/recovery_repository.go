package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	sharedpg "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
)

// DisasterRecoveryRepository implements repository.DisasterRecoveryRepository for PostgreSQL
type DisasterRecoveryRepository struct {
	client *sharedpg.Client
}

// NewDisasterRecoveryRepository creates a new PostgreSQL plan and execution store
func NewDisasterRecoveryRepository(client *sharedpg.Client) *DisasterRecoveryRepository {
	return &DisasterRecoveryRepository{client: client}
}

func (r *DisasterRecoveryRepository) SavePlan(ctx context.Context, plan *entity.DisasterRecoveryPlan) error {
	doc, err := encodeDoc(plan)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guard_dr_plans (id, name, status, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, status = EXCLUDED.status, doc = EXCLUDED.doc`

	_, err = exec(ctx, r.client, query, plan.ID, plan.Name, plan.Status, doc)
	if IsUniqueViolation(err) {
		return errors.Wrapf(err, "an active plan named %q already exists", plan.Name)
	}
	return errors.Wrap(err, "failed to save recovery plan")
}

// GetPlanByName prefers an active plan when several share a name
func (r *DisasterRecoveryRepository) GetPlanByName(ctx context.Context, name string) (*entity.DisasterRecoveryPlan, error) {
	query := `
		SELECT doc FROM guard_dr_plans
		WHERE name = $1
		ORDER BY (status = 'active') DESC
		LIMIT 1`
	return getDoc[entity.DisasterRecoveryPlan](ctx, r.client, query, name)
}

func (r *DisasterRecoveryRepository) ListPlans(ctx context.Context) ([]*entity.DisasterRecoveryPlan, error) {
	return selectDocs[entity.DisasterRecoveryPlan](ctx, r.client, `SELECT doc FROM guard_dr_plans ORDER BY name`)
}

func (r *DisasterRecoveryRepository) CreateExecution(ctx context.Context, execution *entity.DisasterRecoveryExecution) error {
	doc, err := encodeDoc(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guard_dr_executions (id, plan_name, status, started_at, doc)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = exec(ctx, r.client, query,
		execution.ID, execution.PlanName, execution.Status, execution.StartedAt, doc)
	return errors.Wrap(err, "failed to insert recovery execution")
}

func (r *DisasterRecoveryRepository) UpdateExecution(ctx context.Context, execution *entity.DisasterRecoveryExecution) error {
	doc, err := encodeDoc(execution)
	if err != nil {
		return err
	}
	return update(ctx, r.client, "recovery execution",
		`UPDATE guard_dr_executions SET status = $2, doc = $3 WHERE id = $1`,
		execution.ID, execution.Status, doc)
}

func (r *DisasterRecoveryRepository) GetExecution(ctx context.Context, id uuid.UUID) (*entity.DisasterRecoveryExecution, error) {
	return getDoc[entity.DisasterRecoveryExecution](ctx, r.client,
		`SELECT doc FROM guard_dr_executions WHERE id = $1`, id)
}

func (r *DisasterRecoveryRepository) FindExecutions(ctx context.Context, planName string) ([]*entity.DisasterRecoveryExecution, error) {
	var q filter
	if planName != "" {
		q.add("plan_name = $%d", planName)
	}
	query := `SELECT doc FROM guard_dr_executions` + q.where() + ` ORDER BY started_at DESC`
	return selectDocs[entity.DisasterRecoveryExecution](ctx, r.client, query, q.args...)
}

func (r *DisasterRecoveryRepository) AppendIncident(ctx context.Context, incident *entity.IncidentRecord) error {
	doc, err := encodeDoc(incident)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guard_dr_incidents (id, execution_id, occurred_at, doc)
		VALUES ($1, $2, $3, $4)`

	_, err = exec(ctx, r.client, query, incident.ID, incident.ExecutionID, incident.OccurredAt, doc)
	return errors.Wrap(err, "failed to append incident")
}

// Incidents returns the history newest first
func (r *DisasterRecoveryRepository) Incidents(ctx context.Context) ([]*entity.IncidentRecord, error) {
	return selectDocs[entity.IncidentRecord](ctx, r.client, `SELECT doc FROM guard_dr_incidents ORDER BY seq DESC`)
}
