package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	tenantIDKey
	actorKey
)

// fieldNames are the log field names of the values WithContext copies
var fieldNames = map[contextKey]string{
	correlationIDKey: "correlation_id",
	tenantIDKey:      "tenant_id",
	actorKey:         "actor",
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func value(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithCorrelationID tags ctx with the id shared by every log line, event and
// audit entry of one operation
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return withValue(ctx, correlationIDKey, id)
}

func GetCorrelationID(ctx context.Context) string { return value(ctx, correlationIDKey) }

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return withValue(ctx, tenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string { return value(ctx, tenantIDKey) }

// WithActor tags ctx with the principal the operation runs as
func WithActor(ctx context.Context, actor string) context.Context {
	return withValue(ctx, actorKey, actor)
}

func GetActor(ctx context.Context) string { return value(ctx, actorKey) }

// Fields returns the non-empty request values of ctx as log fields
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, key := range []contextKey{correlationIDKey, tenantIDKey, actorKey} {
		if v := value(ctx, key); v != "" {
			fields = append(fields, zap.String(fieldNames[key], v))
		}
	}
	return fields
}

func NewCorrelationID() string {
	return uuid.NewString()
}

// EnsureCorrelationID returns ctx with a correlation ID, generating one when
// absent
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := GetCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}
