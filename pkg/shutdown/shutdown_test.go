package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) hook(name string, priority int, err error) Hook {
	return Hook{
		Name:     name,
		Priority: priority,
		Fn: func(context.Context) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.order = append(r.order, name)
			return err
		},
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdownRunsHooksByPriority(t *testing.T) {
	m := New(zaptest.NewLogger(t))
	r := &recorder{}

	m.Add(r.hook("postgres", PriorityDatabase, nil))
	m.Add(r.hook("redis", PriorityStore, nil))
	m.Add(r.hook("mongodb", PriorityStore, nil))
	m.Add(r.hook("kafka", PrioritySink, nil))
	assert.Equal(t, 4, m.Len())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"kafka", "mongodb", "redis", "postgres"}, r.order)
	assert.Zero(t, m.Len())
}

func TestShutdownJoinsErrorsAndRunsOnce(t *testing.T) {
	m := New(zaptest.NewLogger(t))
	r := &recorder{}
	boom := errors.New("boom")

	m.Add(r.hook("elasticsearch", PrioritySink, boom))
	m.Add(r.hook("postgres", PriorityDatabase, nil))

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "elasticsearch")
	assert.Equal(t, []string{"elasticsearch", "postgres"}, r.order)

	assert.Equal(t, err, m.Shutdown(context.Background()))
	assert.Len(t, r.order, 2)
}

func TestShutdownTimesOutSlowHooks(t *testing.T) {
	m := New(zaptest.NewLogger(t))
	release := make(chan struct{})
	defer close(release)

	m.Add(Hook{
		Name:    "stuck",
		Timeout: 20 * time.Millisecond,
		Fn: func(context.Context) error {
			<-release
			return nil
		},
	})

	start := time.Now()
	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestCloserHookAndLateRegistration(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.Shutdown(context.Background()))

	closed := false
	m.Add(CloserHook("pool", PriorityDatabase, closerFunc(func() error {
		closed = true
		return nil
	})))
	assert.True(t, closed)
	assert.Zero(t, m.Len())
}
