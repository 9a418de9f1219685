package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// SchemaManager applies idempotent DDL sets
type SchemaManager struct {
	client *Client
	logger *zap.Logger
}

// NewSchemaManager creates a new schema manager
func NewSchemaManager(client *Client, logger *zap.Logger) *SchemaManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaManager{
		client: client,
		logger: logger,
	}
}

// Apply executes the statements of a named schema in one transaction
func (sm *SchemaManager) Apply(ctx context.Context, name string, statements []string) error {
	err := sm.client.Transaction(ctx, func(tx *sqlx.Tx) error {
		for i, stmt := range statements {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create schema %s: %w", name, err)
	}

	sm.logger.Info("Database schema ensured",
		zap.String("schema", name),
		zap.Int("statements", len(statements)))
	return nil
}
