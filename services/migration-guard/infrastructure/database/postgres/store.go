// Package postgres implements the migration-guard stores and database ports
// on top of the shared sqlx client. Every row keeps its entity as a jsonb
// document next to the columns the filters need.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	sharedpg "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
)

// NewRepositories returns every store backed by client
func NewRepositories(client *sharedpg.Client) repository.Repositories {
	return repository.Repositories{
		Runs:     NewRunRepository(client),
		Audit:    NewAuditRepository(client),
		Backups:  NewBackupRepository(client),
		Rollback: NewRollbackRepository(client),
		Recovery: NewDisasterRecoveryRepository(client),
		Events:   NewEventRepository(client),
		Metrics:  NewMetricRepository(client),
		Health:   NewHealthRepository(client),
	}
}

// filter accumulates WHERE clauses with positional arguments
type filter struct {
	clauses []string
	args    []interface{}
}

// add appends clause, which must contain a single %d for the placeholder index
func (f *filter) add(clause string, value interface{}) {
	f.args = append(f.args, value)
	f.clauses = append(f.clauses, fmt.Sprintf(clause, len(f.args)))
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}

func encodeDoc(v interface{}) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode document")
	}
	return doc, nil
}

// getDoc loads one document. A missing row maps to repository.ErrNotFound
// without tripping the circuit breaker.
func getDoc[T any](ctx context.Context, client *sharedpg.Client, query string, args ...interface{}) (*T, error) {
	var doc []byte
	found := true
	err := client.Execute(ctx, func(ctx context.Context, db *sqlx.DB) error {
		err := db.GetContext(ctx, &doc, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load document")
	}
	if !found {
		return nil, repository.ErrNotFound
	}

	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, errors.Wrap(err, "failed to decode document")
	}
	return &v, nil
}

func selectDocs[T any](ctx context.Context, client *sharedpg.Client, query string, args ...interface{}) ([]*T, error) {
	var docs [][]byte
	err := client.Execute(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &docs, query, args...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to query documents")
	}

	result := make([]*T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, errors.Wrap(err, "failed to decode document")
		}
		result = append(result, &v)
	}
	return result, nil
}

// exec runs a write and returns the affected row count
func exec(ctx context.Context, client *sharedpg.Client, query string, args ...interface{}) (int, error) {
	var affected int64
	err := client.Execute(ctx, func(ctx context.Context, db *sqlx.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

// update runs an UPDATE keyed by id and maps zero affected rows to ErrNotFound
func update(ctx context.Context, client *sharedpg.Client, table, query string, args ...interface{}) error {
	n, err := exec(ctx, client, query, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update %s", table)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// IsUniqueViolation reports whether err is a postgres unique_violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func stringArray(values []string) interface{} {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}
