package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/health"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// CategoryCheck produces the results of one health category. Returned
// results need only Name, Status and the descriptive fields.
type CategoryCheck interface {
	Category() entity.HealthCategory
	Check(ctx context.Context) ([]entity.HealthCheckResult, error)
}

// HealthConfig configures the health aggregator
type HealthConfig struct {
	CategoryTimeout time.Duration `mapstructure:"category_timeout" yaml:"category_timeout" json:"category_timeout"`
	// ResultTTL is how long a persisted result stays current
	ResultTTL time.Duration `mapstructure:"result_ttl" yaml:"result_ttl" json:"result_ttl"`
	// Retention is how long results are kept before purging
	Retention time.Duration `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// DefaultHealthConfig returns the default health configuration
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CategoryTimeout: 30 * time.Second,
		ResultTTL:       15 * time.Minute,
		Retention:       7 * 24 * time.Hour,
	}
}

// HealthAggregator runs the registered category checks in parallel and
// persists expiring results.
type HealthAggregator struct {
	results repository.HealthRepository
	probe   repository.DatabaseProbe
	bus     *MonitoringBus
	config  HealthConfig
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	checks []CategoryCheck
}

// NewHealthAggregator creates a health aggregator. probe may be nil, in
// which case the system health snippet carries only the composite status.
func NewHealthAggregator(results repository.HealthRepository, probe repository.DatabaseProbe, bus *MonitoringBus, config HealthConfig, logger *zap.Logger) *HealthAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultHealthConfig()
	if config.CategoryTimeout <= 0 {
		config.CategoryTimeout = defaults.CategoryTimeout
	}
	if config.ResultTTL <= 0 {
		config.ResultTTL = defaults.ResultTTL
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	return &HealthAggregator{
		results: results,
		probe:   probe,
		bus:     bus,
		config:  config,
		logger:  logger.Named("health"),
		now:     time.Now,
	}
}

// Register adds a category check
func (h *HealthAggregator) Register(check CategoryCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Run executes every category, persists the results and reports failures
// as health_check_failed events.
func (h *HealthAggregator) Run(ctx context.Context, ec entity.ExecutionContext) (*entity.HealthReport, error) {
	start := h.now()

	if purged, err := h.results.PurgeCheckedBefore(ctx, start.Add(-h.config.Retention)); err != nil {
		h.logger.Warn("Failed to purge old health results", zap.Error(err))
	} else if purged > 0 {
		h.logger.Debug("Purged old health results", zap.Int("count", purged))
	}

	h.mu.RLock()
	checks := append([]CategoryCheck(nil), h.checks...)
	h.mu.RUnlock()

	reports := make([]entity.CategoryReport, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			reports[i] = h.runCategory(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	report := &entity.HealthReport{
		Categories: reports,
		CheckedAt:  start,
	}
	for _, c := range reports {
		report.Results = append(report.Results, c.Results...)
	}
	for _, r := range report.Results {
		switch r.Status {
		case entity.HealthStatusPassed:
			report.Passed++
		case entity.HealthStatusWarning:
			report.Warnings++
		case entity.HealthStatusFailed:
			report.Failed++
		default:
			report.Unknown++
		}
	}
	report.Status = entity.CompositeStatus(report.Results)
	report.Score = entity.HealthScore(report.Results)

	if len(report.Results) > 0 {
		if err := h.results.Save(ctx, report.Results); err != nil {
			return nil, common.ErrDatabaseQuery("save health results", err)
		}
	}

	for _, r := range report.Results {
		if r.Status != entity.HealthStatusFailed {
			continue
		}
		severity := r.Severity
		if severity.Rank() < entity.SeverityError.Rank() {
			severity = entity.SeverityError
		}
		h.bus.Emit(ctx, EventInput{
			Type:          entity.EventHealthCheckFailed,
			Severity:      severity,
			Message:       fmt.Sprintf("Health check %s/%s failed: %s", r.Category, r.Name, r.Message),
			CorrelationID: ec.CorrelationID,
			Detail: entity.HealthDetail{
				Category: string(r.Category),
				Check:    r.Name,
				Status:   string(r.Status),
				Expected: r.Expected,
				Actual:   r.Actual,
			},
		})
	}

	report.Duration = h.now().Sub(start)
	h.logger.Info("Health check run finished",
		zap.String("status", string(report.Status)),
		zap.Float64("score", report.Score),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (h *HealthAggregator) runCategory(ctx context.Context, check CategoryCheck) entity.CategoryReport {
	category := check.Category()
	start := h.now()

	results, err := health.Guard(ctx, h.config.CategoryTimeout, check.Check)
	if err != nil {
		h.logger.Warn("Health category could not run", zap.String("category", string(category)), zap.Error(err))
		results = []entity.HealthCheckResult{{
			Name:        string(category) + "_probe",
			Status:      entity.HealthStatusUnknown,
			Message:     entity.NewHealthCheckError(category, err).Error(),
			Severity:    entity.SeverityWarning,
			Remediation: []string{"Verify connectivity to the " + string(category) + " data sources"},
		}}
	}

	checkedAt := h.now()
	for i := range results {
		results[i].ID = uuid.New()
		results[i].Category = category
		results[i].CheckedAt = checkedAt
		results[i].ExpiresAt = checkedAt.Add(h.config.ResultTTL)
		if results[i].Severity == "" {
			results[i].Severity = severityFor(results[i].Status)
		}
	}

	return entity.CategoryReport{
		Category: category,
		Status:   entity.CompositeStatus(results),
		Results:  results,
		Duration: checkedAt.Sub(start),
	}
}

func severityFor(status entity.HealthStatus) entity.Severity {
	switch status {
	case entity.HealthStatusFailed:
		return entity.SeverityError
	case entity.HealthStatusWarning, entity.HealthStatusUnknown:
		return entity.SeverityWarning
	default:
		return entity.SeverityInfo
	}
}

// Current returns the unexpired persisted results
func (h *HealthAggregator) Current(ctx context.Context) ([]entity.HealthCheckResult, error) {
	results, err := h.results.Current(ctx, h.now())
	if err != nil {
		return nil, common.ErrDatabaseQuery("load health results", err)
	}
	return results, nil
}

// SystemHealth summarises current results and database load for the dashboard
func (h *HealthAggregator) SystemHealth(ctx context.Context) (*entity.SystemHealth, error) {
	current, err := h.Current(ctx)
	if err != nil {
		return nil, err
	}

	snippet := &entity.SystemHealth{Status: entity.HealthStatusUnknown}
	if len(current) > 0 {
		snippet.Status = entity.CompositeStatus(current)
	}
	if h.probe == nil {
		return snippet, nil
	}

	stats, err := h.probe.Stats(ctx)
	if err != nil {
		snippet.Error = err.Error()
		return snippet, nil
	}
	snippet.ConnectionCount = stats.Connections
	snippet.MaxConnections = stats.MaxConnections
	snippet.StorageBytes = stats.StorageBytes
	snippet.CacheHitRatio = stats.CacheHitRatio
	return snippet, nil
}
