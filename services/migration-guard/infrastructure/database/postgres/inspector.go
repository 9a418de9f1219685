package postgres

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	sharedpg "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
)

// Inspector reads catalog metadata of one schema of the managed database. It
// implements repository.SchemaInspector and repository.DatabaseProbe.
type Inspector struct {
	client *sharedpg.Client
	schema string
}

// NewInspector creates an inspector for schema, "public" when empty
func NewInspector(client *sharedpg.Client, schema string) *Inspector {
	if schema == "" {
		schema = "public"
	}
	return &Inspector{client: client, schema: schema}
}

type columnRow struct {
	Table    string `db:"table_name"`
	Name     string `db:"column_name"`
	DataType string `db:"data_type"`
	Nullable bool   `db:"nullable"`
	Default  string `db:"column_default"`
}

type constraintRow struct {
	Table      string `db:"table_name"`
	Name       string `db:"constraint_name"`
	Type       string `db:"constraint_type"`
	Definition string `db:"definition"`
}

type indexRow struct {
	Table      string `db:"table_name"`
	Name       string `db:"index_name"`
	Definition string `db:"definition"`
}

type tableRow struct {
	Name        string `db:"table_name"`
	RowSecurity bool   `db:"row_security"`
}

var constraintTypes = map[string]string{
	"p": "PRIMARY KEY",
	"f": "FOREIGN KEY",
	"u": "UNIQUE",
	"c": "CHECK",
	"x": "EXCLUDE",
	"t": "TRIGGER",
}

// Snapshot captures tables, columns, constraints, indexes, views and routines.
// Bookkeeping tables carrying TablePrefix are skipped.
func (i *Inspector) Snapshot(ctx context.Context) (*entity.SchemaSnapshot, error) {
	var (
		tables      []tableRow
		columns     []columnRow
		constraints []constraintRow
		indexes     []indexRow
		views       []entity.ViewSchema
		routines    []entity.RoutineSchema
	)

	err := i.client.Execute(ctx, func(ctx context.Context, db *sqlx.DB) error {
		if err := db.SelectContext(ctx, &tables, `
			SELECT c.relname AS table_name, c.relrowsecurity AS row_security
			FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
			ORDER BY c.relname`, i.schema); err != nil {
			return errors.Wrap(err, "tables")
		}
		if err := db.SelectContext(ctx, &columns, `
			SELECT table_name, column_name, data_type,
				is_nullable = 'YES' AS nullable,
				COALESCE(column_default, '') AS column_default
			FROM information_schema.columns
			WHERE table_schema = $1
			ORDER BY table_name, ordinal_position`, i.schema); err != nil {
			return errors.Wrap(err, "columns")
		}
		if err := db.SelectContext(ctx, &constraints, `
			SELECT cl.relname AS table_name, con.conname AS constraint_name,
				con.contype::text AS constraint_type,
				pg_get_constraintdef(con.oid) AS definition
			FROM pg_constraint con
			JOIN pg_class cl ON cl.oid = con.conrelid
			JOIN pg_namespace n ON n.oid = cl.relnamespace
			WHERE n.nspname = $1
			ORDER BY cl.relname, con.conname`, i.schema); err != nil {
			return errors.Wrap(err, "constraints")
		}
		if err := db.SelectContext(ctx, &indexes, `
			SELECT tablename AS table_name, indexname AS index_name, indexdef AS definition
			FROM pg_indexes
			WHERE schemaname = $1
			ORDER BY tablename, indexname`, i.schema); err != nil {
			return errors.Wrap(err, "indexes")
		}
		if err := db.SelectContext(ctx, &views, `
			SELECT table_name AS name, COALESCE(view_definition, '') AS definition
			FROM information_schema.views
			WHERE table_schema = $1
			ORDER BY table_name`, i.schema); err != nil {
			return errors.Wrap(err, "views")
		}
		return errors.Wrap(db.SelectContext(ctx, &routines, `
			SELECT p.proname AS name,
				CASE p.prokind WHEN 'p' THEN 'procedure' ELSE 'function' END AS kind,
				pg_get_function_identity_arguments(p.oid) AS signature
			FROM pg_proc p
			JOIN pg_namespace n ON n.oid = p.pronamespace
			WHERE n.nspname = $1 AND p.prokind IN ('f', 'p')
			ORDER BY p.proname`, i.schema), "routines")
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to capture schema snapshot")
	}

	byName := make(map[string]*entity.TableSchema, len(tables))
	snapshot := &entity.SchemaSnapshot{
		CapturedAt: time.Now().UTC(),
		Tables:     make([]entity.TableSchema, 0, len(tables)),
		Views:      views,
		Routines:   routines,
	}
	for _, t := range tables {
		if strings.HasPrefix(t.Name, TablePrefix) {
			continue
		}
		snapshot.Tables = append(snapshot.Tables, entity.TableSchema{Name: t.Name, RowSecurity: t.RowSecurity})
	}
	for idx := range snapshot.Tables {
		byName[snapshot.Tables[idx].Name] = &snapshot.Tables[idx]
	}

	for _, c := range columns {
		if t, ok := byName[c.Table]; ok {
			t.Columns = append(t.Columns, entity.ColumnSchema{
				Name: c.Name, DataType: c.DataType, Nullable: c.Nullable, Default: c.Default,
			})
		}
	}
	for _, c := range constraints {
		if t, ok := byName[c.Table]; ok {
			kind := constraintTypes[c.Type]
			if kind == "" {
				kind = c.Type
			}
			t.Constraints = append(t.Constraints, entity.ConstraintSchema{
				Name: c.Name, Type: kind, Definition: c.Definition,
			})
		}
	}
	for _, ix := range indexes {
		if t, ok := byName[ix.Table]; ok {
			t.Indexes = append(t.Indexes, entity.IndexSchema{Name: ix.Name, Definition: ix.Definition})
		}
	}

	return snapshot, nil
}

// EstimateTables reads planner row estimates and on-disk sizes. An empty
// list estimates every table of the schema.
func (i *Inspector) EstimateTables(ctx context.Context, tables []string) ([]entity.TableEstimate, error) {
	query := `
		SELECT c.relname AS name,
			GREATEST(c.reltuples, 0)::bigint AS row_estimate,
			pg_total_relation_size(c.oid) AS size_bytes
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')
			AND (cardinality($2::text[]) = 0 OR c.relname = ANY($2::text[]))
		ORDER BY c.relname`

	var rows []struct {
		Name        string `db:"name"`
		RowEstimate int64  `db:"row_estimate"`
		SizeBytes   int64  `db:"size_bytes"`
	}
	err := i.client.Execute(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &rows, query, i.schema, stringArray(tables))
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to estimate table sizes")
	}

	result := make([]entity.TableEstimate, 0, len(rows))
	for _, row := range rows {
		if strings.HasPrefix(row.Name, TablePrefix) {
			continue
		}
		result = append(result, entity.TableEstimate{
			Name:        row.Name,
			RowEstimate: row.RowEstimate,
			SizeBytes:   row.SizeBytes,
		})
	}
	return result, nil
}

// Ping verifies connectivity
func (i *Inspector) Ping(ctx context.Context) error {
	return i.client.Health(ctx)
}

// Stats reports connection usage, database size and buffer cache hit ratio
func (i *Inspector) Stats(ctx context.Context) (*repository.DatabaseStats, error) {
	var row struct {
		Connections    int     `db:"connections"`
		MaxConnections int     `db:"max_connections"`
		StorageBytes   int64   `db:"storage_bytes"`
		CacheHitRatio  float64 `db:"cache_hit_ratio"`
	}

	query := `
		SELECT
			(SELECT count(*) FROM pg_stat_activity) AS connections,
			current_setting('max_connections')::int AS max_connections,
			pg_database_size(current_database()) AS storage_bytes,
			COALESCE(
				(SELECT sum(blks_hit)::float8 / NULLIF(sum(blks_hit) + sum(blks_read), 0)
				 FROM pg_stat_database WHERE datname = current_database()),
				1) AS cache_hit_ratio`

	err := i.client.Execute(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.GetContext(ctx, &row, query)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read database statistics")
	}
	return &repository.DatabaseStats{
		Connections:    row.Connections,
		MaxConnections: row.MaxConnections,
		StorageBytes:   row.StorageBytes,
		CacheHitRatio:  row.CacheHitRatio,
	}, nil
}

// LongRunningQueries counts active statements older than threshold
func (i *Inspector) LongRunningQueries(ctx context.Context, threshold time.Duration) (int, error) {
	var count int
	err := i.client.Execute(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.GetContext(ctx, &count, `
			SELECT count(*) FROM pg_stat_activity
			WHERE state = 'active'
				AND pid <> pg_backend_pid()
				AND now() - query_start > make_interval(secs => $1)`, threshold.Seconds())
	})
	return count, errors.Wrap(err, "failed to count long running queries")
}

// Runner executes statement batches in one transaction. It implements
// repository.StatementRunner.
type Runner struct {
	client *sharedpg.Client
}

// NewRunner creates a transactional statement runner
func NewRunner(client *sharedpg.Client) *Runner {
	return &Runner{client: client}
}

// ExecStatements runs every statement or none. On failure the returned index
// is the zero-based position of the statement that failed.
func (r *Runner) ExecStatements(ctx context.Context, statements []string) (int, error) {
	failed := -1
	err := r.client.Transaction(ctx, func(tx *sqlx.Tx) error {
		failed = -1
		for idx, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				failed = idx
				return describe(err)
			}
		}
		return nil
	})
	if err != nil {
		if failed < 0 {
			failed = 0
		}
		return failed, err
	}
	return len(statements), nil
}

// describe keeps the server message and hint of a pq error
func describe(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Hint != "" {
		return errors.Wrapf(err, "hint: %s", pqErr.Hint)
	}
	return err
}

// Restorer rebuilds table structure from a captured snapshot. Table data is
// not captured by backups, so RestoreData is unsupported.
type Restorer struct {
	client    *sharedpg.Client
	inspector *Inspector
}

// NewRestorer creates a schema restorer working on the inspector's schema
func NewRestorer(client *sharedpg.Client, inspector *Inspector) *Restorer {
	return &Restorer{client: client, inspector: inspector}
}

// RestoreSchema drops tables absent from target, recreates missing ones and
// reconciles columns of the rest, all in one transaction. An empty tables
// list covers every table of target and of the live schema.
func (r *Restorer) RestoreSchema(ctx context.Context, target *entity.SchemaSnapshot, tables []string) error {
	if target == nil {
		return errors.New("no schema snapshot to restore")
	}
	current, err := r.inspector.Snapshot(ctx)
	if err != nil {
		return err
	}

	statements := restorePlan(current, target, tables)
	if len(statements) == 0 {
		return nil
	}
	err = r.client.Transaction(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(describe(err), "restore statement %q", stmt)
			}
		}
		return nil
	})
	return errors.Wrap(err, "failed to restore schema")
}

// RestoreData always reports repository.ErrRestoreUnsupported
func (r *Restorer) RestoreData(ctx context.Context, data *entity.DataSnapshot) error {
	return repository.ErrRestoreUnsupported
}

// restorePlan returns the DDL that turns current into target for the given tables
func restorePlan(current, target *entity.SchemaSnapshot, tables []string) []string {
	scope := tables
	if len(scope) == 0 {
		seen := make(map[string]struct{})
		for _, name := range append(current.TableNames(), target.TableNames()...) {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				scope = append(scope, name)
			}
		}
	}
	sort.Strings(scope)

	var drops, creates, alters []string
	for _, name := range scope {
		live, exists := current.Table(name)
		want, wanted := target.Table(name)
		switch {
		case exists && !wanted:
			drops = append(drops, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(name)+" CASCADE")
		case !exists && wanted:
			creates = append(creates, createTable(want)...)
		case exists && wanted:
			alters = append(alters, reconcileTable(live, want)...)
		}
	}

	statements := make([]string, 0, len(drops)+len(creates)+len(alters))
	statements = append(statements, drops...)
	statements = append(statements, creates...)
	return append(statements, alters...)
}

func columnDefinition(c entity.ColumnSchema) string {
	def := pq.QuoteIdentifier(c.Name) + " " + c.DataType
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def
}

func createTable(t entity.TableSchema) []string {
	table := pq.QuoteIdentifier(t.Name)
	columns := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		columns = append(columns, columnDefinition(c))
	}

	statements := []string{"CREATE TABLE " + table + " (" + strings.Join(columns, ", ") + ")"}
	for _, c := range t.Constraints {
		if restorable(c) {
			statements = append(statements, addConstraint(table, c))
		}
	}
	backing := constraintNames(t)
	for _, ix := range t.Indexes {
		if _, ok := backing[ix.Name]; !ok && ix.Definition != "" {
			statements = append(statements, ix.Definition)
		}
	}
	if t.RowSecurity {
		statements = append(statements, "ALTER TABLE "+table+" ENABLE ROW LEVEL SECURITY")
	}
	return statements
}

// restorable reports whether a constraint can be recreated from its definition
func restorable(c entity.ConstraintSchema) bool {
	return c.Definition != "" && c.Type != "TRIGGER"
}

func addConstraint(table string, c entity.ConstraintSchema) string {
	return "ALTER TABLE " + table + " ADD CONSTRAINT " + pq.QuoteIdentifier(c.Name) + " " + c.Definition
}

// constraintNames holds the constraint names of t. Indexes sharing one of
// these names are owned by the constraint and follow it.
func constraintNames(t entity.TableSchema) map[string]struct{} {
	names := make(map[string]struct{}, len(t.Constraints))
	for _, c := range t.Constraints {
		names[c.Name] = struct{}{}
	}
	return names
}

// reconcileTable returns the DDL that turns live into want. Extra or changed
// indexes and constraints are dropped before the column changes; missing
// ones are recreated from their definitions afterwards.
func reconcileTable(live, want entity.TableSchema) []string {
	table := pq.QuoteIdentifier(live.Name)

	wantConstraints := make(map[string]entity.ConstraintSchema, len(want.Constraints))
	for _, c := range want.Constraints {
		wantConstraints[c.Name] = c
	}
	haveConstraints := make(map[string]entity.ConstraintSchema, len(live.Constraints))
	for _, c := range live.Constraints {
		haveConstraints[c.Name] = c
	}
	wantIndexes := make(map[string]entity.IndexSchema, len(want.Indexes))
	for _, ix := range want.Indexes {
		wantIndexes[ix.Name] = ix
	}
	haveIndexes := make(map[string]entity.IndexSchema, len(live.Indexes))
	for _, ix := range live.Indexes {
		haveIndexes[ix.Name] = ix
	}
	liveBacking := constraintNames(live)
	wantBacking := constraintNames(want)

	var statements []string
	for _, ix := range live.Indexes {
		if _, owned := liveBacking[ix.Name]; owned {
			continue
		}
		if w, ok := wantIndexes[ix.Name]; ok && w.Definition == ix.Definition {
			if _, nowOwned := wantBacking[ix.Name]; !nowOwned {
				continue
			}
		}
		statements = append(statements, "DROP INDEX IF EXISTS "+pq.QuoteIdentifier(ix.Name))
	}
	for _, c := range live.Constraints {
		if c.Type == "TRIGGER" {
			continue
		}
		if w, ok := wantConstraints[c.Name]; ok && w.Definition == c.Definition {
			continue
		}
		statements = append(statements, "ALTER TABLE "+table+" DROP CONSTRAINT IF EXISTS "+pq.QuoteIdentifier(c.Name))
	}

	statements = append(statements, reconcileColumns(live, want)...)

	for _, c := range want.Constraints {
		if !restorable(c) {
			continue
		}
		if h, ok := haveConstraints[c.Name]; ok && h.Definition == c.Definition {
			continue
		}
		statements = append(statements, addConstraint(table, c))
	}
	for _, ix := range want.Indexes {
		if _, owned := wantBacking[ix.Name]; owned || ix.Definition == "" {
			continue
		}
		if h, ok := haveIndexes[ix.Name]; ok && h.Definition == ix.Definition {
			if _, wasOwned := liveBacking[ix.Name]; !wasOwned {
				continue
			}
		}
		statements = append(statements, ix.Definition)
	}

	if live.RowSecurity != want.RowSecurity {
		toggle := "DISABLE"
		if want.RowSecurity {
			toggle = "ENABLE"
		}
		statements = append(statements, "ALTER TABLE "+table+" "+toggle+" ROW LEVEL SECURITY")
	}
	return statements
}

func reconcileColumns(live, want entity.TableSchema) []string {
	table := pq.QuoteIdentifier(live.Name)
	have := make(map[string]entity.ColumnSchema, len(live.Columns))
	for _, c := range live.Columns {
		have[c.Name] = c
	}
	keep := make(map[string]struct{}, len(want.Columns))

	var statements []string
	for _, c := range want.Columns {
		keep[c.Name] = struct{}{}
		existing, ok := have[c.Name]
		if !ok {
			statements = append(statements, "ALTER TABLE "+table+" ADD COLUMN "+columnDefinition(c))
			continue
		}
		if existing.DataType != c.DataType {
			statements = append(statements, "ALTER TABLE "+table+" ALTER COLUMN "+
				pq.QuoteIdentifier(c.Name)+" TYPE "+c.DataType)
		}
	}
	for _, c := range live.Columns {
		if _, ok := keep[c.Name]; !ok {
			statements = append(statements, "ALTER TABLE "+table+" DROP COLUMN "+pq.QuoteIdentifier(c.Name))
		}
	}
	return statements
}
