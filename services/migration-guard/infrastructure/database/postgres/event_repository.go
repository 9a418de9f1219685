package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	sharedpg "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
)

// EventRepository implements the append-only repository.EventRepository
type EventRepository struct {
	client *sharedpg.Client
}

// NewEventRepository creates a new PostgreSQL event stream
func NewEventRepository(client *sharedpg.Client) *EventRepository {
	return &EventRepository{client: client}
}

// Append draws the event's sequence number from guard_monitoring_events_seq
// so every process sharing the database gets a distinct, increasing number.
// The assigned number is written back to event.Sequence.
func (r *EventRepository) Append(ctx context.Context, event *entity.MonitoringEvent) error {
	doc, err := encodeDoc(event)
	if err != nil {
		return err
	}

	query := `
		WITH next AS (SELECT nextval('guard_monitoring_events_seq') AS seq)
		INSERT INTO guard_monitoring_events (
			id, sequence, version, type, severity, severity_rank,
			correlation_id, acknowledged, recorded_at, doc
		)
		SELECT $1, next.seq, $2, $3, $4, $5, $6, $7, $8,
			$9::jsonb || jsonb_build_object('sequence', next.seq)
		FROM next
		RETURNING sequence`

	var seq int64
	err = r.client.Execute(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.QueryRowxContext(ctx, query,
			event.ID, event.Version, event.Type, event.Severity, event.Severity.Rank(),
			event.CorrelationID, event.Acknowledged, event.Timestamp, doc,
		).Scan(&seq)
	})
	if err != nil {
		return errors.Wrap(err, "failed to append monitoring event")
	}
	event.Sequence = seq
	return nil
}

func (r *EventRepository) Find(ctx context.Context, f repository.EventFilter) ([]*entity.MonitoringEvent, error) {
	var q filter
	if f.Version != "" {
		q.add("version = $%d", f.Version)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		q.add("type = ANY($%d)", pq.Array(types))
	}
	if f.MinSeverity != "" {
		q.add("severity_rank >= $%d", f.MinSeverity.Rank())
	}
	if f.CorrelationID != "" {
		q.add("correlation_id = $%d", f.CorrelationID)
	}
	if !f.Since.IsZero() {
		q.add("recorded_at >= $%d", f.Since)
	}
	if f.Unacknowledged {
		q.clauses = append(q.clauses, "NOT acknowledged")
	}

	query := `SELECT doc FROM guard_monitoring_events` + q.where() +
		` ORDER BY sequence ASC` + limitClause(f.Limit)
	return selectDocs[entity.MonitoringEvent](ctx, r.client, query, q.args...)
}

// Acknowledge marks the given events, skipping those already acknowledged
func (r *EventRepository) Acknowledge(ctx context.Context, ids []uuid.UUID, by string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query := `
		UPDATE guard_monitoring_events
		SET acknowledged = TRUE,
			doc = doc || jsonb_build_object(
				'acknowledged', TRUE,
				'acknowledged_by', $2::text,
				'acknowledged_at', $3::text)
		WHERE id = ANY($1::uuid[]) AND NOT acknowledged`

	n, err := exec(ctx, r.client, query, pq.Array(keys), by, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, errors.Wrap(err, "failed to acknowledge events")
	}
	return n, nil
}

// MetricRepository implements the append-only repository.MetricRepository
type MetricRepository struct {
	client *sharedpg.Client
}

// NewMetricRepository creates a new PostgreSQL metric series
func NewMetricRepository(client *sharedpg.Client) *MetricRepository {
	return &MetricRepository{client: client}
}

func (r *MetricRepository) Append(ctx context.Context, metric *entity.Metric) error {
	doc, err := encodeDoc(metric)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO guard_metrics (id, version, name, recorded_at, doc)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = exec(ctx, r.client, query, metric.ID, metric.Version, metric.Name, metric.Timestamp, doc)
	return errors.Wrap(err, "failed to append metric")
}

func (r *MetricRepository) Find(ctx context.Context, f repository.MetricFilter) ([]*entity.Metric, error) {
	var q filter
	if f.Version != "" {
		q.add("version = $%d", f.Version)
	}
	if f.Name != "" {
		q.add("name = $%d", f.Name)
	}
	if !f.Since.IsZero() {
		q.add("recorded_at >= $%d", f.Since)
	}

	query := `SELECT doc FROM guard_metrics` + q.where() +
		` ORDER BY recorded_at ASC, seq ASC` + limitClause(f.Limit)
	return selectDocs[entity.Metric](ctx, r.client, query, q.args...)
}

// HealthRepository implements repository.HealthRepository for PostgreSQL
type HealthRepository struct {
	client *sharedpg.Client
}

// NewHealthRepository creates a new PostgreSQL health result store
func NewHealthRepository(client *sharedpg.Client) *HealthRepository {
	return &HealthRepository{client: client}
}

// Save writes a batch of results in one transaction
func (r *HealthRepository) Save(ctx context.Context, results []entity.HealthCheckResult) error {
	if len(results) == 0 {
		return nil
	}

	query := `
		INSERT INTO guard_health_results (id, category, name, status, checked_at, expires_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc`

	err := r.client.Transaction(ctx, func(tx *sqlx.Tx) error {
		for i := range results {
			res := &results[i]
			doc, err := encodeDoc(res)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query,
				res.ID, res.Category, res.Name, res.Status, res.CheckedAt, res.ExpiresAt, doc,
			); err != nil {
				return errors.Wrapf(err, "result %s", res.Name)
			}
		}
		return nil
	})
	return errors.Wrap(err, "failed to save health results")
}

func (r *HealthRepository) Current(ctx context.Context, now time.Time) ([]entity.HealthCheckResult, error) {
	docs, err := selectDocs[entity.HealthCheckResult](ctx, r.client,
		`SELECT doc FROM guard_health_results WHERE expires_at > $1 ORDER BY checked_at, category, name`, now)
	if err != nil {
		return nil, err
	}
	result := make([]entity.HealthCheckResult, 0, len(docs))
	for _, d := range docs {
		result = append(result, *d)
	}
	return result, nil
}

func (r *HealthRepository) PurgeCheckedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := exec(ctx, r.client, `DELETE FROM guard_health_results WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge health results")
	}
	return n, nil
}
