package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func results(statuses ...HealthStatus) []HealthCheckResult {
	out := make([]HealthCheckResult, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, HealthCheckResult{Status: s})
	}
	return out
}

func TestCompositeStatus(t *testing.T) {
	assert.Equal(t, HealthStatusPassed, CompositeStatus(nil))
	assert.Equal(t, HealthStatusPassed, CompositeStatus(results(HealthStatusPassed, HealthStatusPassed)))
	assert.Equal(t, HealthStatusWarning, CompositeStatus(results(HealthStatusPassed, HealthStatusUnknown)))
	assert.Equal(t, HealthStatusWarning, CompositeStatus(results(HealthStatusWarning, HealthStatusPassed)))
	assert.Equal(t, HealthStatusFailed, CompositeStatus(results(HealthStatusWarning, HealthStatusFailed, HealthStatusUnknown)))
}

func TestHealthScore(t *testing.T) {
	assert.Equal(t, float64(100), HealthScore(nil))
	assert.InDelta(t, 50, HealthScore(results(HealthStatusPassed, HealthStatusFailed)), 0.001)
	assert.InDelta(t, 62.5, HealthScore(results(HealthStatusPassed, HealthStatusPassed, HealthStatusWarning, HealthStatusUnknown)), 0.001)
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityInfo.Rank(), SeverityWarning.Rank())
	assert.Less(t, SeverityWarning.Rank(), SeverityError.Rank())
	assert.Less(t, SeverityError.Rank(), SeverityCritical.Rank())
	assert.False(t, SeverityInfo.Alertable())
	assert.True(t, SeverityWarning.Alertable())
	assert.Equal(t, 0, Severity("fatal").Rank())
}
