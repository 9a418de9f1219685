package entity

import (
	"time"

	"github.com/google/uuid"
)

// HealthCategory groups related health checks
type HealthCategory string

const (
	HealthCategoryDatabase    HealthCategory = "database"
	HealthCategoryMigration   HealthCategory = "migration"
	HealthCategorySecurity    HealthCategory = "security"
	HealthCategoryPerformance HealthCategory = "performance"
)

// HealthStatus represents the outcome of a health check
type HealthStatus string

const (
	HealthStatusPassed  HealthStatus = "passed"
	HealthStatusWarning HealthStatus = "warning"
	HealthStatusFailed  HealthStatus = "failed"
	HealthStatusUnknown HealthStatus = "unknown"
)

// HealthCheckResult is one persisted, expiring check outcome
type HealthCheckResult struct {
	ID          uuid.UUID      `json:"id"`
	Category    HealthCategory `json:"category"`
	Name        string         `json:"name"`
	Status      HealthStatus   `json:"status"`
	Message     string         `json:"message"`
	Expected    string         `json:"expected,omitempty"`
	Actual      string         `json:"actual,omitempty"`
	Severity    Severity       `json:"severity"`
	Remediation []string       `json:"remediation,omitempty"`
	CheckedAt   time.Time      `json:"checked_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// CompositeStatus folds results into one status: failed if any failed,
// warning if any warning or unknown, passed otherwise.
func CompositeStatus(results []HealthCheckResult) HealthStatus {
	status := HealthStatusPassed
	for _, r := range results {
		switch r.Status {
		case HealthStatusFailed:
			return HealthStatusFailed
		case HealthStatusWarning, HealthStatusUnknown:
			status = HealthStatusWarning
		}
	}
	return status
}

// CategoryReport summarises one category of a health run
type CategoryReport struct {
	Category HealthCategory      `json:"category"`
	Status   HealthStatus        `json:"status"`
	Results  []HealthCheckResult `json:"results"`
	Duration time.Duration       `json:"duration"`
}

// HealthReport is the outcome of one aggregator run
type HealthReport struct {
	Status     HealthStatus        `json:"status"`
	Score      float64             `json:"score"`
	Categories []CategoryReport    `json:"categories"`
	Results    []HealthCheckResult `json:"results"`
	Passed     int                 `json:"passed"`
	Warnings   int                 `json:"warnings"`
	Failed     int                 `json:"failed"`
	Unknown    int                 `json:"unknown"`
	CheckedAt  time.Time           `json:"checked_at"`
	Duration   time.Duration       `json:"duration"`
}

// HealthScore is the percentage of results that passed, with warnings
// counting half. An empty result set scores 100.
func HealthScore(results []HealthCheckResult) float64 {
	if len(results) == 0 {
		return 100
	}
	var points float64
	for _, r := range results {
		switch r.Status {
		case HealthStatusPassed:
			points += 1
		case HealthStatusWarning:
			points += 0.5
		}
	}
	return points / float64(len(results)) * 100
}
