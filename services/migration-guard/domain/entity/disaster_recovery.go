package entity

import (
	"time"

	"github.com/google/uuid"
)

// DisasterType enumerates the incidents a recovery plan can cover
type DisasterType string

const (
	DisasterDataCorruption         DisasterType = "data_corruption"
	DisasterMigrationFailure       DisasterType = "migration_failure"
	DisasterHardwareFailure        DisasterType = "hardware_failure"
	DisasterSecurityBreach         DisasterType = "security_breach"
	DisasterNetworkOutage          DisasterType = "network_outage"
	DisasterHumanError             DisasterType = "human_error"
	DisasterNaturalDisaster        DisasterType = "natural_disaster"
	DisasterSoftwareFailure        DisasterType = "software_failure"
	DisasterPerformanceDegradation DisasterType = "performance_degradation"
)

// DisasterTypes lists every supported disaster type
var DisasterTypes = []DisasterType{
	DisasterDataCorruption, DisasterMigrationFailure, DisasterHardwareFailure,
	DisasterSecurityBreach, DisasterNetworkOutage, DisasterHumanError,
	DisasterNaturalDisaster, DisasterSoftwareFailure, DisasterPerformanceDegradation,
}

// Valid reports whether t is a supported disaster type
func (t DisasterType) Valid() bool {
	for _, known := range DisasterTypes {
		if known == t {
			return true
		}
	}
	return false
}

// PlanStatus is the lifecycle state of a recovery plan
type PlanStatus string

const (
	PlanStatusActive      PlanStatus = "active"
	PlanStatusInactive    PlanStatus = "inactive"
	PlanStatusUnderReview PlanStatus = "under_review"
)

// TestResults summarises the last test or drill of a plan
type TestResults struct {
	ExecutionID  uuid.UUID         `json:"execution_id"`
	Type         DRExecutionType   `json:"type"`
	Status       DRExecutionStatus `json:"status"`
	RecoveryTime time.Duration     `json:"recovery_time"`
	RTOMet       bool              `json:"rto_met"`
	FailedSteps  []string          `json:"failed_steps,omitempty"`
}

// DisasterRecoveryPlan is a catalogued, typed recovery procedure
type DisasterRecoveryPlan struct {
	ID                uuid.UUID     `json:"id" yaml:"-"`
	Name              string        `json:"name" yaml:"name"`
	DisasterType      DisasterType  `json:"disaster_type" yaml:"disaster_type"`
	Severity          Severity      `json:"severity" yaml:"severity"`
	Status            PlanStatus    `json:"status" yaml:"status"`
	Description       string        `json:"description,omitempty" yaml:"description"`
	RTO               time.Duration `json:"rto" yaml:"rto"`
	RPO               time.Duration `json:"rpo" yaml:"rpo"`
	Steps             []Step        `json:"steps" yaml:"steps"`
	Prerequisites     []string      `json:"prerequisites,omitempty" yaml:"prerequisites"`
	RequiredResources []string      `json:"required_resources,omitempty" yaml:"required_resources"`
	Teams             []string      `json:"teams,omitempty" yaml:"teams"`
	LastTested        *time.Time    `json:"last_tested,omitempty" yaml:"-"`
	LastTestResults   *TestResults  `json:"last_test_results,omitempty" yaml:"-"`
	CreatedAt         time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time     `json:"updated_at" yaml:"-"`
}

// DRExecutionType distinguishes rehearsals from real incidents
type DRExecutionType string

const (
	DRExecutionTest           DRExecutionType = "test"
	DRExecutionDrill          DRExecutionType = "drill"
	DRExecutionActualDisaster DRExecutionType = "actual_disaster"
)

// Rehearsal reports whether destructive steps must be simulated
func (t DRExecutionType) Rehearsal() bool {
	return t == DRExecutionTest || t == DRExecutionDrill
}

// Valid reports whether t is a known execution type
func (t DRExecutionType) Valid() bool {
	return t == DRExecutionTest || t == DRExecutionDrill || t == DRExecutionActualDisaster
}

// DRExecutionStatus represents the status of a recovery execution
type DRExecutionStatus string

const (
	DRStatusInitiated  DRExecutionStatus = "initiated"
	DRStatusInProgress DRExecutionStatus = "in_progress"
	DRStatusCompleted  DRExecutionStatus = "completed"
	DRStatusFailed     DRExecutionStatus = "failed"
	DRStatusAborted    DRExecutionStatus = "aborted"
	DRStatusPartial    DRExecutionStatus = "partial"
)

// DisasterRecoveryExecution records one invocation of a recovery plan
type DisasterRecoveryExecution struct {
	ID             uuid.UUID         `json:"id"`
	PlanID         uuid.UUID         `json:"plan_id"`
	PlanName       string            `json:"plan_name"`
	DisasterType   DisasterType      `json:"disaster_type"`
	Type           DRExecutionType   `json:"type"`
	Status         DRExecutionStatus `json:"status"`
	Description    string            `json:"description,omitempty"`
	DryRun         bool              `json:"dry_run"`
	Version        string            `json:"version,omitempty"`
	ExecutedSteps  []StepResult      `json:"executed_steps"`
	FailedSteps    []StepResult      `json:"failed_steps"`
	StartedAt      time.Time         `json:"started_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	RecoveryTime   time.Duration     `json:"recovery_time"`
	RTOMet         bool              `json:"rto_met"`
	DataLoss       string            `json:"data_loss,omitempty"`
	BusinessImpact string            `json:"business_impact,omitempty"`
	LessonsLearned []string          `json:"lessons_learned,omitempty"`
	InitiatedBy    string            `json:"initiated_by"`
	TenantID       string            `json:"tenant_id,omitempty"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
}

// IncidentRecord is the history entry written for an actual disaster
type IncidentRecord struct {
	ID           uuid.UUID         `json:"id"`
	ExecutionID  uuid.UUID         `json:"execution_id"`
	PlanName     string            `json:"plan_name"`
	DisasterType DisasterType      `json:"disaster_type"`
	Description  string            `json:"description,omitempty"`
	Status       DRExecutionStatus `json:"status"`
	RecoveryTime time.Duration     `json:"recovery_time"`
	OccurredAt   time.Time         `json:"occurred_at"`
	ReportedBy   string            `json:"reported_by"`
}

// DisasterCandidate is a suspected disaster surfaced by detection. It is
// never acted on automatically.
type DisasterCandidate struct {
	DisasterType    DisasterType `json:"disaster_type"`
	Confidence      float64      `json:"confidence"`
	RecommendedPlan string       `json:"recommended_plan"`
	Evidence        []string     `json:"evidence"`
	DetectedAt      time.Time    `json:"detected_at"`
}
