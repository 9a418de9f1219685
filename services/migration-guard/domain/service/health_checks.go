package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
)

func passed(name, message string) entity.HealthCheckResult {
	return entity.HealthCheckResult{Name: name, Status: entity.HealthStatusPassed, Message: message}
}

// DatabaseCheck covers connectivity, connection utilisation and cache efficiency
type DatabaseCheck struct {
	probe repository.DatabaseProbe
}

// NewDatabaseCheck creates the database category check
func NewDatabaseCheck(probe repository.DatabaseProbe) *DatabaseCheck {
	return &DatabaseCheck{probe: probe}
}

func (c *DatabaseCheck) Category() entity.HealthCategory { return entity.HealthCategoryDatabase }

func (c *DatabaseCheck) Check(ctx context.Context) ([]entity.HealthCheckResult, error) {
	if err := c.probe.Ping(ctx); err != nil {
		return []entity.HealthCheckResult{{
			Name:        "connectivity",
			Status:      entity.HealthStatusFailed,
			Message:     "database unreachable: " + err.Error(),
			Severity:    entity.SeverityCritical,
			Remediation: []string{"Check database availability and credentials"},
		}}, nil
	}
	results := []entity.HealthCheckResult{passed("connectivity", "database reachable")}

	stats, err := c.probe.Stats(ctx)
	if err != nil {
		return append(results, entity.HealthCheckResult{
			Name:        "statistics",
			Status:      entity.HealthStatusUnknown,
			Message:     "database statistics unavailable: " + err.Error(),
			Severity:    entity.SeverityWarning,
			Remediation: []string{"Grant the guard role read access to pg_stat_database and pg_settings"},
		}), nil
	}

	utilisation := entity.HealthCheckResult{
		Name:     "connection_utilisation",
		Expected: "< 75%",
	}
	if stats.MaxConnections > 0 {
		ratio := float64(stats.Connections) / float64(stats.MaxConnections)
		utilisation.Actual = fmt.Sprintf("%.0f%% (%d/%d)", ratio*100, stats.Connections, stats.MaxConnections)
		switch {
		case ratio > 0.9:
			utilisation.Status = entity.HealthStatusFailed
			utilisation.Message = "connection pool nearly exhausted"
			utilisation.Remediation = []string{"Terminate idle sessions", "Raise max_connections or add a pooler"}
		case ratio > 0.75:
			utilisation.Status = entity.HealthStatusWarning
			utilisation.Message = "connection utilisation is high"
			utilisation.Remediation = []string{"Review connection pool sizes"}
		default:
			utilisation.Status = entity.HealthStatusPassed
			utilisation.Message = "connection utilisation normal"
		}
	} else {
		utilisation.Status = entity.HealthStatusUnknown
		utilisation.Message = "max connections not reported"
	}
	results = append(results, utilisation)

	cache := entity.HealthCheckResult{
		Name:     "cache_hit_ratio",
		Expected: ">= 90%",
		Actual:   fmt.Sprintf("%.1f%%", stats.CacheHitRatio*100),
		Status:   entity.HealthStatusPassed,
		Message:  "cache hit ratio normal",
	}
	if stats.CacheHitRatio < 0.9 {
		cache.Status = entity.HealthStatusWarning
		cache.Message = "cache hit ratio is low"
		cache.Remediation = []string{"Review shared_buffers sizing", "Check for sequential scans on large tables"}
	}
	return append(results, cache), nil
}

// MigrationCheck covers stuck runs, recent failures and backup freshness
type MigrationCheck struct {
	audit   *AuditLog
	backups *BackupManager
	now     func() time.Time

	StuckAfter    time.Duration
	FailureWindow time.Duration
	BackupWindow  time.Duration
}

// NewMigrationCheck creates the migration category check
func NewMigrationCheck(audit *AuditLog, backups *BackupManager) *MigrationCheck {
	return &MigrationCheck{
		audit:         audit,
		backups:       backups,
		now:           time.Now,
		StuckAfter:    30 * time.Minute,
		FailureWindow: 24 * time.Hour,
		BackupWindow:  7 * 24 * time.Hour,
	}
}

func (c *MigrationCheck) Category() entity.HealthCategory { return entity.HealthCategoryMigration }

func (c *MigrationCheck) Check(ctx context.Context) ([]entity.HealthCheckResult, error) {
	now := c.now()
	var results []entity.HealthCheckResult

	running, err := c.audit.Runs(ctx, repository.RunFilter{Phase: entity.RunPhaseStart, Status: entity.RunStatusRunning})
	if err != nil {
		return nil, err
	}
	var stuck []string
	for _, run := range running {
		if now.Sub(run.StartedAt) > c.StuckAfter {
			stuck = append(stuck, run.Version)
		}
	}
	if len(stuck) > 0 {
		results = append(results, entity.HealthCheckResult{
			Name:        "stuck_runs",
			Status:      entity.HealthStatusFailed,
			Message:     "migrations running longer than " + c.StuckAfter.String() + ": " + strings.Join(stuck, ", "),
			Expected:    "0",
			Actual:      fmt.Sprint(len(stuck)),
			Remediation: []string{"Inspect the session executing the migration", "Record the run as failed once it is confirmed dead"},
		})
	} else {
		results = append(results, passed("stuck_runs", "no stuck migrations"))
	}

	failed, err := c.audit.Runs(ctx, repository.RunFilter{
		Phase:  entity.RunPhaseStart,
		Status: entity.RunStatusFailed,
		Since:  now.Add(-c.FailureWindow),
	})
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		results = append(results, entity.HealthCheckResult{
			Name:        "recent_failures",
			Status:      entity.HealthStatusWarning,
			Message:     fmt.Sprintf("%d migrations failed in the last %s", len(failed), c.FailureWindow),
			Expected:    "0",
			Actual:      fmt.Sprint(len(failed)),
			Remediation: []string{"Review failed runs and plan rollbacks where needed"},
		})
	} else {
		results = append(results, passed("recent_failures", "no recent migration failures"))
	}

	completed, err := c.backups.List(ctx, repository.BackupFilter{Status: entity.BackupStatusCompleted, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(completed) == 0 || now.Sub(completed[0].CreatedAt) > c.BackupWindow {
		results = append(results, entity.HealthCheckResult{
			Name:        "recent_backups",
			Status:      entity.HealthStatusWarning,
			Message:     "no completed backup within " + c.BackupWindow.String(),
			Remediation: []string{"Create a rollback_point backup"},
		})
	} else {
		results = append(results, passed("recent_backups", "latest backup "+completed[0].ID.String()))
	}

	return results, nil
}

// SecurityCheck covers row level security and access denials
type SecurityCheck struct {
	inspector repository.SchemaInspector
	audit     *AuditLog
	now       func() time.Time

	DenialWindow  time.Duration
	DenialWarn    int
	DenialFailure int
}

// NewSecurityCheck creates the security category check
func NewSecurityCheck(inspector repository.SchemaInspector, audit *AuditLog) *SecurityCheck {
	return &SecurityCheck{
		inspector:     inspector,
		audit:         audit,
		now:           time.Now,
		DenialWindow:  time.Hour,
		DenialWarn:    1,
		DenialFailure: 5,
	}
}

func (c *SecurityCheck) Category() entity.HealthCategory { return entity.HealthCategorySecurity }

func (c *SecurityCheck) Check(ctx context.Context) ([]entity.HealthCheckResult, error) {
	snapshot, err := c.inspector.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var results []entity.HealthCheckResult
	var unprotected []string
	for _, t := range snapshot.Tables {
		if !t.RowSecurity {
			unprotected = append(unprotected, t.Name)
		}
	}
	if len(unprotected) > 0 {
		results = append(results, entity.HealthCheckResult{
			Name:        "row_level_security",
			Status:      entity.HealthStatusWarning,
			Message:     "tables without row level security: " + strings.Join(unprotected, ", "),
			Expected:    "0",
			Actual:      fmt.Sprint(len(unprotected)),
			Remediation: []string{"Enable row level security on tenant tables"},
		})
	} else {
		results = append(results, passed("row_level_security", "every table has row level security"))
	}

	denials, err := c.audit.Entries(ctx, repository.AuditFilter{
		Outcome: entity.AuditOutcomeDenied,
		Since:   c.now().Add(-c.DenialWindow),
	})
	if err != nil {
		return nil, err
	}
	denial := entity.HealthCheckResult{
		Name:     "access_denials",
		Expected: fmt.Sprintf("< %d", c.DenialWarn),
		Actual:   fmt.Sprint(len(denials)),
		Status:   entity.HealthStatusPassed,
		Message:  "no recent access denials",
	}
	switch {
	case len(denials) >= c.DenialFailure:
		denial.Status = entity.HealthStatusFailed
		denial.Severity = entity.SeverityCritical
		denial.Message = fmt.Sprintf("%d access denials in the last %s", len(denials), c.DenialWindow)
		denial.Remediation = []string{"Investigate the denied actors", "Consider running the security breach recovery plan"}
	case len(denials) >= c.DenialWarn:
		denial.Status = entity.HealthStatusWarning
		denial.Message = fmt.Sprintf("%d access denials in the last %s", len(denials), c.DenialWindow)
		denial.Remediation = []string{"Review the audit trail for denied actions"}
	}
	return append(results, denial), nil
}

// PerformanceCheck covers migration duration and long running queries
type PerformanceCheck struct {
	bus   *MonitoringBus
	probe repository.DatabaseProbe
	now   func() time.Time

	Window          time.Duration
	DurationLimit   float64
	LongQueryCutoff time.Duration
}

// NewPerformanceCheck creates the performance category check. probe may be nil.
func NewPerformanceCheck(bus *MonitoringBus, probe repository.DatabaseProbe) *PerformanceCheck {
	return &PerformanceCheck{
		bus:             bus,
		probe:           probe,
		now:             time.Now,
		Window:          24 * time.Hour,
		DurationLimit:   1800,
		LongQueryCutoff: 5 * time.Minute,
	}
}

func (c *PerformanceCheck) Category() entity.HealthCategory { return entity.HealthCategoryPerformance }

func (c *PerformanceCheck) Check(ctx context.Context) ([]entity.HealthCheckResult, error) {
	samples, err := c.bus.Metrics(ctx, repository.MetricFilter{
		Name:  MetricDurationSeconds,
		Since: c.now().Add(-c.Window),
	})
	if err != nil {
		return nil, err
	}

	var results []entity.HealthCheckResult
	if len(samples) == 0 {
		results = append(results, passed("migration_duration", "no migrations in window"))
	} else {
		var sum float64
		for _, s := range samples {
			sum += s.Value
		}
		avg := sum / float64(len(samples))
		duration := entity.HealthCheckResult{
			Name:     "migration_duration",
			Expected: fmt.Sprintf("<= %.0fs", c.DurationLimit),
			Actual:   fmt.Sprintf("%.1fs", avg),
			Status:   entity.HealthStatusPassed,
			Message:  "average migration duration normal",
		}
		if avg > c.DurationLimit {
			duration.Status = entity.HealthStatusWarning
			duration.Message = "average migration duration is high"
			duration.Remediation = []string{"Split large migrations", "Create indexes concurrently"}
		}
		results = append(results, duration)
	}

	if c.probe != nil {
		long, err := c.probe.LongRunningQueries(ctx, c.LongQueryCutoff)
		if err != nil {
			return nil, err
		}
		queries := entity.HealthCheckResult{
			Name:     "long_running_queries",
			Expected: "0",
			Actual:   fmt.Sprint(long),
			Status:   entity.HealthStatusPassed,
			Message:  "no long running queries",
		}
		if long > 0 {
			queries.Status = entity.HealthStatusWarning
			queries.Message = fmt.Sprintf("%d queries running longer than %s", long, c.LongQueryCutoff)
			queries.Remediation = []string{"Inspect pg_stat_activity before applying migrations"}
		}
		results = append(results, queries)
	}

	return results, nil
}
