package entity

import (
	"time"

	"github.com/google/uuid"
)

// StepAction is the closed set of actions a rollback or recovery step can take.
// StepActionCustom dispatches to a named handler registered by the caller.
type StepAction string

const (
	StepActionCreateBackup           StepAction = "create_backup"
	StepActionValidateBackup         StepAction = "validate_backup"
	StepActionRevertStatements       StepAction = "revert_statements"
	StepActionRestoreSchema          StepAction = "restore_schema"
	StepActionRestoreData            StepAction = "restore_data"
	StepActionValidateRollback       StepAction = "validate_rollback"
	StepActionPostRollbackValidation StepAction = "post_rollback_validation"
	StepActionAssessImpact           StepAction = "assess_impact"
	StepActionNotify                 StepAction = "notify"
	StepActionIsolate                StepAction = "isolate"
	StepActionRestoreBackup          StepAction = "restore_backup"
	StepActionValidateIntegrity      StepAction = "validate_integrity"
	StepActionFailover               StepAction = "failover"
	StepActionManual                 StepAction = "manual"
	StepActionCustomSQL              StepAction = "custom_sql"
	StepActionCustom                 StepAction = "custom"
)

// Known reports whether a is part of the closed action set
func (a StepAction) Known() bool {
	switch a {
	case StepActionCreateBackup, StepActionValidateBackup, StepActionRevertStatements,
		StepActionRestoreSchema, StepActionRestoreData, StepActionValidateRollback,
		StepActionPostRollbackValidation, StepActionAssessImpact, StepActionNotify,
		StepActionIsolate, StepActionRestoreBackup, StepActionValidateIntegrity,
		StepActionFailover, StepActionManual, StepActionCustomSQL, StepActionCustom:
		return true
	}
	return false
}

// Mutating reports whether the action changes state. Mutating steps are
// simulated in dry-run.
func (a StepAction) Mutating() bool {
	switch a {
	case StepActionCreateBackup, StepActionRevertStatements, StepActionRestoreSchema,
		StepActionRestoreData, StepActionIsolate, StepActionRestoreBackup,
		StepActionFailover, StepActionCustomSQL, StepActionCustom:
		return true
	}
	return false
}

// Step is one ordered action of a rollback plan or recovery plan
type Step struct {
	ID                uuid.UUID         `json:"id" yaml:"-"`
	Order             int               `json:"order" yaml:"-"`
	Name              string            `json:"name" yaml:"name"`
	Action            StepAction        `json:"action" yaml:"action"`
	Description       string            `json:"description" yaml:"description"`
	Critical          bool              `json:"critical" yaml:"critical"`
	EstimatedDuration time.Duration     `json:"estimated_duration" yaml:"estimated_duration"`
	SQL               []string          `json:"sql,omitempty" yaml:"sql,omitempty"`
	Params            map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Handler           string            `json:"handler,omitempty" yaml:"handler,omitempty"`
}

// StepStatus is the recorded outcome of a step
type StepStatus string

const (
	StepStatusStarted   StepStatus = "started"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSimulated StepStatus = "simulated"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult records one step's execution
type StepResult struct {
	StepID      uuid.UUID     `json:"step_id"`
	Order       int           `json:"order"`
	Name        string        `json:"name"`
	Action      StepAction    `json:"action"`
	Critical    bool          `json:"critical"`
	Status      StepStatus    `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	Note        string        `json:"note,omitempty"`
}

// NumberSteps assigns ids and 1-based order to steps that lack them
func NumberSteps(steps []Step) []Step {
	for i := range steps {
		steps[i].Order = i + 1
		if steps[i].ID == uuid.Nil {
			steps[i].ID = uuid.New()
		}
	}
	return steps
}

// TotalEstimate sums the step estimates
func TotalEstimate(steps []Step) time.Duration {
	var total time.Duration
	for _, s := range steps {
		total += s.EstimatedDuration
	}
	return total
}
