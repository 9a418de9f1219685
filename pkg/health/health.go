package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Check represents a health check function
type Check func(context.Context) CheckResult

// CheckResult represents the result of a health check
type CheckResult struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Error     string                 `json:"error,omitempty"`
}

// CheckConfig represents configuration for a health check
type CheckConfig struct {
	Name     string        `yaml:"name" json:"name"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	Critical bool          `yaml:"critical" json:"critical"`
}

// Manager runs dependency checks for the liveness and readiness endpoints
type Manager struct {
	serviceName string
	version     string
	startTime   time.Time
	logger      *zap.Logger

	mutex  sync.RWMutex
	checks map[string]*healthCheck
}

type healthCheck struct {
	config *CheckConfig
	check  Check
}

// OverallHealth represents the overall health status
type OverallHealth struct {
	Status    Status                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// NewManager creates a new health check manager
func NewManager(serviceName, version string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		logger:      logger,
		checks:      make(map[string]*healthCheck),
	}
}

// RegisterCheck registers a new health check
func (m *Manager) RegisterCheck(config *CheckConfig, check Check) error {
	if config == nil {
		return fmt.Errorf("check config is required")
	}
	if config.Name == "" {
		return fmt.Errorf("check name is required")
	}
	if check == nil {
		return fmt.Errorf("check function is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.checks[config.Name]; exists {
		return fmt.Errorf("health check %s already registered", config.Name)
	}
	m.checks[config.Name] = &healthCheck{config: config, check: check}

	m.logger.Debug("Health check registered",
		zap.String("name", config.Name),
		zap.Bool("critical", config.Critical))

	return nil
}

// GetOverallHealth runs every registered check concurrently. A critical
// check that fails makes the service unhealthy; any other failure degrades
// it.
func (m *Manager) GetOverallHealth(ctx context.Context) *OverallHealth {
	m.mutex.RLock()
	checks := make([]*healthCheck, 0, len(m.checks))
	for _, check := range m.checks {
		checks = append(checks, check)
	}
	m.mutex.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, hc := range checks {
		i, hc := i, hc
		g.Go(func() error {
			results[i] = m.runCheck(ctx, hc)
			return nil
		})
	}
	_ = g.Wait()

	overall := &OverallHealth{
		Status:    StatusHealthy,
		Service:   m.serviceName,
		Version:   m.version,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, hc := range checks {
		result := results[i]
		overall.Checks[hc.config.Name] = result
		switch {
		case result.Status == StatusHealthy:
		case hc.config.Critical && result.Status != StatusDegraded:
			overall.Status = StatusUnhealthy
		case overall.Status == StatusHealthy:
			overall.Status = StatusDegraded
		}
	}
	return overall
}

// runCheck executes a single health check
func (m *Manager) runCheck(ctx context.Context, hc *healthCheck) CheckResult {
	start := time.Now()

	result, err := Guard(ctx, hc.config.Timeout, func(ctx context.Context) (CheckResult, error) {
		return hc.check(ctx), nil
	})
	if err != nil {
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "Check did not complete",
			Error:   err.Error(),
		}
	}
	result.Timestamp = time.Now()
	result.Duration = time.Since(start)

	if result.Status != StatusHealthy {
		m.logger.Warn("Health check not healthy",
			zap.String("check", hc.config.Name),
			zap.String("status", string(result.Status)),
			zap.String("message", result.Message))
	}
	return result
}

// LivenessHandler reports that the process is up
func (m *Manager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  StatusHealthy,
			"service": m.serviceName,
			"uptime":  time.Since(m.startTime).String(),
		})
	}
}

// ReadinessHandler runs the checks and answers 503 when the service is unhealthy
func (m *Manager) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall := m.GetOverallHealth(r.Context())
		code := http.StatusOK
		if overall.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, overall)
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// Guard runs fn with a timeout and converts a panic into an error. The
// result of a timed-out fn is discarded.
func Guard[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		value T
		err   error
	}
	resultChan := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- outcome{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		value, err := fn(ctx)
		resultChan <- outcome{value: value, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.value, res.err
	case <-ctx.Done():
		return zero, fmt.Errorf("check timed out: %w", ctx.Err())
	}
}

// Pinger is anything that can verify its connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck builds a check from a Pinger
func PingCheck(name string, pinger Pinger) Check {
	return func(ctx context.Context) CheckResult {
		if err := pinger.Ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s unreachable", name),
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%s reachable", name)}
	}
}
