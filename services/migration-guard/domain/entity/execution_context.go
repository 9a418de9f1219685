package entity

import "strings"

// SystemActor is the principal recorded for unattended operations
const SystemActor = "system"

// ExecutionContext identifies who is acting and on whose behalf. It is passed
// explicitly to every state-changing operation.
type ExecutionContext struct {
	Actor         string `json:"actor"`
	TenantID      string `json:"tenant_id,omitempty"`
	IsAdmin       bool   `json:"is_admin"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SystemContext returns the context used by schedulers and automatic responders
func SystemContext() ExecutionContext {
	return ExecutionContext{Actor: SystemActor, IsAdmin: true}
}

// Principal returns the actor, defaulting to SystemActor
func (ec ExecutionContext) Principal() string {
	if actor := strings.TrimSpace(ec.Actor); actor != "" {
		return actor
	}
	return SystemActor
}

// WithCorrelationID returns a copy of ec carrying correlationID
func (ec ExecutionContext) WithCorrelationID(correlationID string) ExecutionContext {
	ec.CorrelationID = correlationID
	return ec
}
