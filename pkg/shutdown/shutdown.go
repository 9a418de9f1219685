// Package shutdown releases process resources in priority order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hook priorities. Lower values run first.
const (
	PriorityServer   = 10
	PrioritySink     = 20
	PriorityStore    = 30
	PriorityDatabase = 40
)

// DefaultHookTimeout bounds a hook that sets no timeout of its own
const DefaultHookTimeout = 10 * time.Second

// Hook represents a shutdown hook
type Hook struct {
	Name     string
	Priority int
	Timeout  time.Duration
	Fn       func(ctx context.Context) error
}

// Manager runs registered hooks once, by ascending priority. Hooks of equal
// priority run in reverse order of registration.
type Manager struct {
	mu     sync.Mutex
	hooks  []Hook
	done   bool
	err    error
	logger *zap.Logger
}

// New creates a shutdown manager
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Add registers a hook. Hooks added after Shutdown are run immediately.
func (m *Manager) Add(hook Hook) {
	m.mu.Lock()
	if !m.done {
		m.hooks = append(m.hooks, hook)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	_ = m.run(context.Background(), hook)
}

// Len returns the number of pending hooks
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hooks)
}

// Shutdown runs every hook and joins their errors. Later calls return the
// result of the first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return m.err
	}
	m.done = true

	hooks := make([]Hook, len(m.hooks))
	for i, h := range m.hooks {
		hooks[len(hooks)-1-i] = h
	}
	m.hooks = nil
	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Priority < hooks[j].Priority })

	start := time.Now()
	var errs []error
	for _, hook := range hooks {
		if err := m.run(ctx, hook); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
		}
	}
	m.err = errors.Join(errs...)

	m.logger.Debug("Shutdown completed",
		zap.Int("hooks", len(hooks)),
		zap.Int("failed", len(errs)),
		zap.Duration("duration", time.Since(start)),
	)
	return m.err
}

func (m *Manager) run(ctx context.Context, hook Hook) error {
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- hook.Fn(hookCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Warn("Shutdown hook failed", zap.String("name", hook.Name), zap.Error(err))
		}
		return err
	case <-hookCtx.Done():
		m.logger.Warn("Shutdown hook timed out",
			zap.String("name", hook.Name),
			zap.Duration("timeout", timeout),
		)
		return fmt.Errorf("timed out after %s", timeout)
	}
}

// CloserHook closes a connection such as a database pool or a client
func CloserHook(name string, priority int, closer interface{ Close() error }) Hook {
	return Hook{
		Name:     name,
		Priority: priority,
		Fn: func(context.Context) error {
			return closer.Close()
		},
	}
}
