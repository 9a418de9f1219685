package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestGuardRecoversPanics(t *testing.T) {
	_, err := Guard(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestGuardTimesOut(t *testing.T) {
	_, err := Guard(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return 1, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestManagerOverallStatus(t *testing.T) {
	m := NewManager("migration-guard", "test", zaptest.NewLogger(t))
	require.NoError(t, m.RegisterCheck(&CheckConfig{Name: "postgres", Critical: true}, PingCheck("postgres", fakePinger{})))
	require.NoError(t, m.RegisterCheck(&CheckConfig{Name: "kafka"}, PingCheck("kafka", fakePinger{err: errors.New("down")})))

	overall := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusDegraded, overall.Status)
	assert.Equal(t, StatusHealthy, overall.Checks["postgres"].Status)
	assert.Equal(t, StatusUnhealthy, overall.Checks["kafka"].Status)

	require.Error(t, m.RegisterCheck(&CheckConfig{Name: "postgres"}, PingCheck("postgres", fakePinger{})))
}

func TestReadinessHandlerReportsCriticalFailure(t *testing.T) {
	m := NewManager("migration-guard", "test", zaptest.NewLogger(t))
	require.NoError(t, m.RegisterCheck(&CheckConfig{Name: "postgres", Critical: true}, PingCheck("postgres", fakePinger{err: errors.New("refused")})))

	rec := httptest.NewRecorder()
	m.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}
