package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Names of the mandatory bracketing steps of every rollback plan
const (
	StepNamePreRollbackBackup      = "pre-rollback backup"
	StepNameValidateTargetBackup   = "validate target backup"
	StepNameValidateRollback       = "validate rollback"
	StepNamePostRollbackValidation = "post-rollback validation"
)

// RollbackPlan is a generated, ordered set of steps restoring a migration version from a backup
type RollbackPlan struct {
	ID                uuid.UUID     `json:"id"`
	Version           string        `json:"version"`
	MigrationName     string        `json:"migration_name,omitempty"`
	BackupID          uuid.UUID     `json:"backup_id"`
	Steps             []Step        `json:"steps"`
	DataLossRisk      DataLossRisk  `json:"data_loss_risk"`
	AffectedTables    []string      `json:"affected_tables,omitempty"`
	ValidationQueries []string      `json:"validation_queries,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	RequiresApproval  bool          `json:"requires_approval"`
	CreatedAt         time.Time     `json:"created_at"`
	CreatedBy         string        `json:"created_by"`
}

// CheckBracketing verifies the plan starts with the backup and validation
// steps and ends with the two validation steps.
func (p *RollbackPlan) CheckBracketing() error {
	n := len(p.Steps)
	if n < 4 {
		return fmt.Errorf("rollback plan needs at least 4 steps, has %d", n)
	}
	expect := []struct {
		index int
		name  string
	}{
		{0, StepNamePreRollbackBackup},
		{1, StepNameValidateTargetBackup},
		{n - 2, StepNameValidateRollback},
		{n - 1, StepNamePostRollbackValidation},
	}
	for _, e := range expect {
		if p.Steps[e.index].Name != e.name {
			return fmt.Errorf("step %d must be %q, got %q", e.index+1, e.name, p.Steps[e.index].Name)
		}
	}
	return nil
}

// RollbackStatus represents the status of a rollback execution
type RollbackStatus string

const (
	RollbackStatusInitiated  RollbackStatus = "initiated"
	RollbackStatusInProgress RollbackStatus = "in_progress"
	RollbackStatusCompleted  RollbackStatus = "completed"
	RollbackStatusFailed     RollbackStatus = "failed"
	RollbackStatusPartial    RollbackStatus = "partial"
)

// ValidationCheck is one post-rollback check
type ValidationCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message,omitempty"`
}

// ValidationResult aggregates post-rollback checks
type ValidationResult struct {
	Passed      bool              `json:"passed"`
	Checks      []ValidationCheck `json:"checks"`
	ValidatedAt time.Time         `json:"validated_at"`
}

// Failed returns the checks that did not pass and were not skipped
func (v *ValidationResult) Failed() []ValidationCheck {
	var failed []ValidationCheck
	for _, c := range v.Checks {
		if !c.Passed && !c.Skipped {
			failed = append(failed, c)
		}
	}
	return failed
}

// RollbackExecution records one run of a rollback plan
type RollbackExecution struct {
	ID            uuid.UUID         `json:"id"`
	PlanID        uuid.UUID         `json:"plan_id"`
	Version       string            `json:"version"`
	BackupID      uuid.UUID         `json:"backup_id"`
	Status        RollbackStatus    `json:"status"`
	DryRun        bool              `json:"dry_run"`
	Emergency     bool              `json:"emergency"`
	Reason        string            `json:"reason,omitempty"`
	Plan          *RollbackPlan     `json:"plan,omitempty"`
	ExecutedSteps []StepResult      `json:"executed_steps"`
	FailedSteps   []StepResult      `json:"failed_steps"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Duration      time.Duration     `json:"duration"`
	InitiatedBy   string            `json:"initiated_by"`
	TenantID      string            `json:"tenant_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Validation    *ValidationResult `json:"validation,omitempty"`
}
