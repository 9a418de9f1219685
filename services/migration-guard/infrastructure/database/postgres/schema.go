package postgres

import (
	"context"

	"go.uber.org/zap"

	sharedpg "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
)

// TablePrefix marks the guard's own bookkeeping tables. The schema inspector
// leaves them out of snapshots.
const TablePrefix = "guard_"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS guard_migration_runs (
		id              UUID PRIMARY KEY,
		version         TEXT NOT NULL,
		phase           TEXT NOT NULL,
		status          TEXT NOT NULL,
		affected_tables TEXT[] NOT NULL DEFAULT '{}',
		started_at      TIMESTAMPTZ NOT NULL,
		doc             JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_runs_version ON guard_migration_runs (version, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_runs_status ON guard_migration_runs (status)`,

	`CREATE TABLE IF NOT EXISTS guard_audit_entries (
		id          UUID PRIMARY KEY,
		actor       TEXT NOT NULL,
		action      TEXT NOT NULL,
		resource    TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		doc         JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_audit_recorded ON guard_audit_entries (recorded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_audit_actor ON guard_audit_entries (actor)`,

	`CREATE TABLE IF NOT EXISTS guard_backups (
		id          UUID PRIMARY KEY,
		version     TEXT NOT NULL,
		type        TEXT NOT NULL,
		status      TEXT NOT NULL,
		data_tables TEXT[] NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		doc         JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_backups_version ON guard_backups (version, type, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS guard_rollback_executions (
		id         UUID PRIMARY KEY,
		version    TEXT NOT NULL,
		status     TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		doc        JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_rollback_version ON guard_rollback_executions (version, started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS guard_dr_plans (
		id     UUID PRIMARY KEY,
		name   TEXT NOT NULL,
		status TEXT NOT NULL,
		doc    JSONB NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_guard_dr_plans_active_name ON guard_dr_plans (name) WHERE status = 'active'`,

	`CREATE TABLE IF NOT EXISTS guard_dr_executions (
		id         UUID PRIMARY KEY,
		plan_name  TEXT NOT NULL,
		status     TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		doc        JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_dr_executions_plan ON guard_dr_executions (plan_name, started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS guard_dr_incidents (
		seq          BIGSERIAL PRIMARY KEY,
		id           UUID NOT NULL UNIQUE,
		execution_id UUID NOT NULL,
		occurred_at  TIMESTAMPTZ NOT NULL,
		doc          JSONB NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS guard_monitoring_events_seq`,
	`CREATE TABLE IF NOT EXISTS guard_monitoring_events (
		id             UUID PRIMARY KEY,
		sequence       BIGINT NOT NULL UNIQUE DEFAULT nextval('guard_monitoring_events_seq'),
		version        TEXT NOT NULL DEFAULT '',
		type           TEXT NOT NULL,
		severity       TEXT NOT NULL,
		severity_rank  SMALLINT NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT '',
		acknowledged   BOOLEAN NOT NULL DEFAULT FALSE,
		recorded_at    TIMESTAMPTZ NOT NULL,
		doc            JSONB NOT NULL
	)`,
	// Tables created before the sequence existed carry their own numbering.
	`SELECT setval('guard_monitoring_events_seq', GREATEST(
		(SELECT COALESCE(MAX(sequence), 0) FROM guard_monitoring_events),
		(SELECT last_value FROM guard_monitoring_events_seq), 1))`,
	`CREATE INDEX IF NOT EXISTS idx_guard_events_recorded ON guard_monitoring_events (recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_events_correlation ON guard_monitoring_events (correlation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_events_unacked ON guard_monitoring_events (severity_rank) WHERE NOT acknowledged`,

	`CREATE TABLE IF NOT EXISTS guard_metrics (
		seq         BIGSERIAL PRIMARY KEY,
		id          UUID NOT NULL UNIQUE,
		version     TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		doc         JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_metrics_name ON guard_metrics (name, recorded_at)`,

	`CREATE TABLE IF NOT EXISTS guard_health_results (
		id         UUID PRIMARY KEY,
		category   TEXT NOT NULL,
		name       TEXT NOT NULL,
		status     TEXT NOT NULL,
		checked_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		doc        JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_health_expires ON guard_health_results (expires_at)`,
}

// EnsureSchema creates the bookkeeping tables when they are missing
func EnsureSchema(ctx context.Context, client *sharedpg.Client, logger *zap.Logger) error {
	return sharedpg.NewSchemaManager(client, logger).Apply(ctx, "migration-guard", schemaStatements)
}
