package entity

import (
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataLossRisk classifies how much data a rollback of a migration may lose
type DataLossRisk string

const (
	DataLossRiskHigh    DataLossRisk = "high"
	DataLossRiskMedium  DataLossRisk = "medium"
	DataLossRiskLow     DataLossRisk = "low"
	DataLossRiskUnknown DataLossRisk = "unknown"
)

// ParseDataLossRisk converts a string into a DataLossRisk, defaulting to unknown
func ParseDataLossRisk(value string) DataLossRisk {
	switch DataLossRisk(strings.ToLower(strings.TrimSpace(value))) {
	case DataLossRiskHigh:
		return DataLossRiskHigh
	case DataLossRiskMedium:
		return DataLossRiskMedium
	case DataLossRiskLow:
		return DataLossRiskLow
	default:
		return DataLossRiskUnknown
	}
}

// UnitClassification is the declared risk profile of a migration unit
type UnitClassification struct {
	Critical     bool         `json:"critical" yaml:"critical"`
	DataLossRisk DataLossRisk `json:"data_loss_risk" yaml:"data_loss_risk"`
}

// MigrationUnit is one ordered, externally authored migration
type MigrationUnit struct {
	Version        string              `json:"version"`
	Name           string              `json:"name"`
	Statements     []string            `json:"statements"`
	Down           []string            `json:"down,omitempty"`
	AffectedTables []string            `json:"affected_tables,omitempty"`
	Classification *UnitClassification `json:"classification,omitempty"`
}

// Classify returns the explicit classification when declared and falls back
// to the name heuristic otherwise.
func (u MigrationUnit) Classify() UnitClassification {
	if u.Classification != nil {
		c := *u.Classification
		if c.DataLossRisk == "" {
			c.DataLossRisk = DataLossRiskUnknown
		}
		return c
	}
	return ClassifyByName(u.Name)
}

// CompareVersions orders versions numerically when both are integers and
// lexically otherwise
func CompareVersions(a, b string) int {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if okA && okB {
		return x.Cmp(y)
	}
	return strings.Compare(a, b)
}

// ClassifyByName derives a classification from keywords in a migration name.
// data/seed is high risk, index/performance low, rls/security medium.
func ClassifyByName(name string) UnitClassification {
	lower := strings.ToLower(name)
	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	c := UnitClassification{
		Critical:     contains("security", "rls", "performance", "data"),
		DataLossRisk: DataLossRiskUnknown,
	}
	switch {
	case contains("data", "seed"):
		c.DataLossRisk = DataLossRiskHigh
	case contains("index", "performance"):
		c.DataLossRisk = DataLossRiskLow
	case contains("rls", "security"):
		c.DataLossRisk = DataLossRiskMedium
	}
	return c
}

// RunPhase distinguishes the start record from the completion record of a run
type RunPhase string

const (
	RunPhaseStart    RunPhase = "START"
	RunPhaseComplete RunPhase = "COMPLETE"
)

// RunStatus is the lifecycle status of a migration run
type RunStatus string

const (
	RunStatusRunning    RunStatus = "RUNNING"
	RunStatusSuccess    RunStatus = "SUCCESS"
	RunStatusFailed     RunStatus = "FAILED"
	RunStatusRolledBack RunStatus = "ROLLED_BACK"
)

// IsTerminal reports whether the status ends a run
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusRolledBack
}

// MigrationRun is one execution attempt of a migration unit
type MigrationRun struct {
	ID             uuid.UUID          `json:"id"`
	Version        string             `json:"version"`
	Name           string             `json:"name"`
	Phase          RunPhase           `json:"phase"`
	Status         RunStatus          `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	Duration       time.Duration      `json:"duration"`
	ExecutedBy     string             `json:"executed_by"`
	TenantID       string             `json:"tenant_id,omitempty"`
	ChecksumBefore string             `json:"checksum_before,omitempty"`
	ChecksumAfter  string             `json:"checksum_after,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	ErrorDetail    map[string]string  `json:"error_detail,omitempty"`
	AffectedTables []string           `json:"affected_tables,omitempty"`
	StatementCount int                `json:"statement_count"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	StartRunID     *uuid.UUID         `json:"start_run_id,omitempty"`
	Orphaned       bool               `json:"orphaned"`
	CorrelationID  string             `json:"correlation_id,omitempty"`
	Critical       bool               `json:"critical"`
	DataLossRisk   DataLossRisk       `json:"data_loss_risk"`
}

// AuditOutcome is the result recorded on a generic audit entry
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// AuditEntry is the generic audit record shared by migration and non-migration actions
type AuditEntry struct {
	ID            uuid.UUID         `json:"id"`
	Actor         string            `json:"actor"`
	TenantID      string            `json:"tenant_id,omitempty"`
	Action        string            `json:"action"`
	Resource      string            `json:"resource"`
	Outcome       AuditOutcome      `json:"outcome"`
	Detail        map[string]string `json:"detail,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
