package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

func TestHealthRunAggregatesCategories(t *testing.T) {
	h := newHarness(t)
	h.health.Register(NewDatabaseCheck(h.probe))
	h.health.Register(&staticCheck{
		category: entity.HealthCategoryPerformance,
		results: []entity.HealthCheckResult{
			{Name: "slow", Status: entity.HealthStatusWarning, Message: "slow"},
		},
	})

	report, err := h.health.Run(h.ctx, h.ec)
	require.NoError(t, err)
	require.Len(t, report.Categories, 2)
	assert.Equal(t, entity.HealthStatusWarning, report.Status)
	assert.Equal(t, 3, report.Passed)
	assert.Equal(t, 1, report.Warnings)
	assert.Zero(t, report.Failed)
	assert.InDelta(t, 87.5, report.Score, 0.001)

	for _, r := range report.Results {
		assert.NotEqual(t, r.CheckedAt, time.Time{})
		assert.True(t, r.ExpiresAt.After(r.CheckedAt))
		assert.NotEmpty(t, r.Category)
	}
	assert.Empty(t, h.eventsOfType(entity.EventHealthCheckFailed))

	current, err := h.health.Current(h.ctx)
	require.NoError(t, err)
	assert.Len(t, current, 4)
}

func TestHealthRunEmitsFailedChecks(t *testing.T) {
	h := newHarness(t)
	h.probe.stats.Connections = 95
	h.health.Register(NewDatabaseCheck(h.probe))

	report, err := h.health.Run(h.ctx, h.ec)
	require.NoError(t, err)
	assert.Equal(t, entity.HealthStatusFailed, report.Status)
	assert.Equal(t, 1, report.Failed)

	failed := h.eventsOfType(entity.EventHealthCheckFailed)
	require.Len(t, failed, 1)
	detail, ok := failed[0].Detail.(entity.HealthDetail)
	require.True(t, ok)
	assert.Equal(t, "connection_utilisation", detail.Check)
	assert.Equal(t, string(entity.HealthCategoryDatabase), detail.Category)
	assert.Equal(t, entity.SeverityError, failed[0].Severity)
}

func TestHealthRunReportsUnreachableCategory(t *testing.T) {
	h := newHarness(t)
	h.health.Register(&staticCheck{category: entity.HealthCategorySecurity, err: errBoom})

	report, err := h.health.Run(h.ctx, h.ec)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, entity.HealthStatusUnknown, report.Results[0].Status)
	assert.Equal(t, "security_probe", report.Results[0].Name)
	assert.Equal(t, 1, report.Unknown)
	assert.Equal(t, entity.HealthStatusWarning, report.Status)
}

func TestDatabaseCheckKeepsConnectivityWhenStatsFail(t *testing.T) {
	h := newHarness(t)
	h.probe.statsErr = errBoom
	h.health.Register(NewDatabaseCheck(h.probe))

	report, err := h.health.Run(h.ctx, h.ec)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	byName := make(map[string]entity.HealthCheckResult)
	for _, r := range report.Results {
		byName[r.Name] = r
	}
	assert.Equal(t, entity.HealthStatusPassed, byName["connectivity"].Status)
	assert.Equal(t, entity.HealthStatusUnknown, byName["statistics"].Status)
	assert.Contains(t, byName["statistics"].Message, "boom")
	assert.NotContains(t, byName, "database_probe")
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Unknown)
	assert.Empty(t, h.eventsOfType(entity.EventHealthCheckFailed))
}

func TestHealthCategoryTimeout(t *testing.T) {
	h := newHarness(t)
	config := DefaultHealthConfig()
	config.CategoryTimeout = 20 * time.Millisecond
	aggregator := NewHealthAggregator(h.repos.Health, h.probe, h.bus, config, nil)
	aggregator.Register(blockingCheck{})

	report, err := aggregator.Run(h.ctx, h.ec)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, entity.HealthStatusUnknown, report.Results[0].Status)
}

func TestHealthResultsExpire(t *testing.T) {
	h := newHarness(t)
	h.health.Register(NewDatabaseCheck(h.probe))

	_, err := h.health.Run(h.ctx, h.ec)
	require.NoError(t, err)

	h.health.now = func() time.Time { return time.Now().Add(DefaultHealthConfig().ResultTTL + time.Minute) }
	current, err := h.health.Current(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, current)

	snippet, err := h.health.SystemHealth(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.HealthStatusUnknown, snippet.Status)
	assert.Equal(t, 100, snippet.MaxConnections)
}

func TestMigrationCheckFlagsStuckAndFailedRuns(t *testing.T) {
	h := newHarness(t)
	_, err := h.audit.RecordStart(h.ctx, h.ec, plainUnit("001", "orders"), "")
	require.NoError(t, err)

	h.runner.fail["CREATE TABLE invoices (id int)"] = errBoom
	_, err = h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{plainUnit("002", "invoices")})
	require.Error(t, err)

	check := NewMigrationCheck(h.audit, h.backups)
	check.now = func() time.Time { return time.Now().Add(time.Hour) }

	results, err := check.Check(h.ctx)
	require.NoError(t, err)
	byName := make(map[string]entity.HealthStatus)
	for _, r := range results {
		byName[r.Name] = r.Status
	}
	assert.Equal(t, entity.HealthStatusFailed, byName["stuck_runs"])
	assert.Equal(t, entity.HealthStatusWarning, byName["recent_failures"])
	assert.Equal(t, entity.HealthStatusWarning, byName["recent_backups"])
}

func TestSecurityCheckCountsDenials(t *testing.T) {
	h := newHarness(t)
	check := NewSecurityCheck(h.inspector, h.audit)

	viewer := entity.ExecutionContext{Actor: "bob"}
	for i := 0; i < check.DenialFailure; i++ {
		_, err := h.audit.Record(h.ctx, viewer, AuditActionPlanSave, "dr_plan:x", entity.AuditOutcomeDenied, nil)
		require.NoError(t, err)
	}

	results, err := check.Check(h.ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, entity.HealthStatusWarning, results[0].Status)
	assert.Equal(t, entity.HealthStatusFailed, results[1].Status)
	assert.Equal(t, entity.SeverityCritical, results[1].Severity)
}

func TestPerformanceCheckAveragesDurations(t *testing.T) {
	h := newHarness(t)
	h.probe.longCount = 2
	check := NewPerformanceCheck(h.bus, h.probe)
	check.DurationLimit = 10

	for _, v := range []float64{5, 25} {
		_, err := h.bus.RecordMetric(h.ctx, MetricInput{Name: MetricDurationSeconds, Value: v, Kind: entity.MetricTiming})
		require.NoError(t, err)
	}

	results, err := check.Check(h.ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, entity.HealthStatusWarning, results[0].Status)
	assert.Equal(t, "15.0s", results[0].Actual)
	assert.Equal(t, entity.HealthStatusWarning, results[1].Status)
}

// blockingCheck never returns before its context ends
type blockingCheck struct{}

func (blockingCheck) Category() entity.HealthCategory { return entity.HealthCategoryPerformance }

func (blockingCheck) Check(ctx context.Context) ([]entity.HealthCheckResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
