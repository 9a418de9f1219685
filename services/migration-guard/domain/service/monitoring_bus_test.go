package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/logging"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/database/memory"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

type recordingAlertHook struct {
	mu     sync.Mutex
	alerts []entity.Alert
}

func (r *recordingAlertHook) PublishAlert(ctx context.Context, alert *entity.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *alert)
	return nil
}

func TestLogEventAssignsSequenceInEmissionOrder(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.bus.LogEvent(h.ctx, EventInput{Type: entity.EventMigrationStarted, Message: "started"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := h.bus.Events(h.ctx, repository.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 20)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
		assert.Equal(t, entity.SeverityInfo, e.Severity)
	}
	assert.Len(t, h.events.types(), 20)
}

func TestBusesSharingStoreDrawDistinctSequences(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	events := memory.NewEventRepository()
	metricRepo := memory.NewMetricRepository()
	a := NewMonitoringBus(events, metricRepo, nil, DefaultMonitoringConfig(), logger)
	b := NewMonitoringBus(events, metricRepo, nil, DefaultMonitoringConfig(), logger)

	var got []int64
	for _, bus := range []*MonitoringBus{a, b, a, b, a} {
		event, err := bus.LogEvent(ctx, EventInput{Type: entity.EventMigrationStarted, Message: "started"})
		require.NoError(t, err)
		got = append(got, event.Sequence)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)

	stored, err := b.Events(ctx, repository.EventFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 5)
	for i, e := range stored {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestLogEventCorrelation(t *testing.T) {
	h := newHarness(t)

	explicit, err := h.bus.LogEvent(h.ctx, EventInput{Type: entity.EventMigrationStarted, CorrelationID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", explicit.CorrelationID)

	ctx := logging.WithCorrelationID(h.ctx, "req-2")
	fromCtx, err := h.bus.LogEvent(ctx, EventInput{Type: entity.EventMigrationCompleted, ParentID: &explicit.ID})
	require.NoError(t, err)
	assert.Equal(t, "req-2", fromCtx.CorrelationID)
	assert.Equal(t, explicit.ID, *fromCtx.ParentID)

	generated, err := h.bus.LogEvent(h.ctx, EventInput{Type: entity.EventMigrationStarted})
	require.NoError(t, err)
	_, err = uuid.Parse(generated.CorrelationID)
	assert.NoError(t, err)

	related, err := h.bus.Events(h.ctx, repository.EventFilter{CorrelationID: "req-2"})
	require.NoError(t, err)
	assert.Len(t, related, 1)
}

func TestLogEventRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.bus.LogEvent(h.ctx, EventInput{Severity: entity.SeverityError})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))

	_, err = h.bus.LogEvent(h.ctx, EventInput{Type: entity.EventMigrationFailed, Severity: "fatal"})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))

	assert.Nil(t, h.bus.Emit(h.ctx, EventInput{Type: entity.EventMigrationFailed, Severity: "fatal"}))

	events, err := h.bus.Events(h.ctx, repository.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLogEventSurvivesHookFailure(t *testing.T) {
	h := newHarness(t)
	h.events.err = errBoom

	event, err := h.bus.LogEvent(h.ctx, EventInput{Type: entity.EventBackupCreated})
	require.NoError(t, err)
	assert.Equal(t, int64(1), event.Sequence)
	assert.Equal(t, []entity.EventType{entity.EventBackupCreated}, h.events.types())
}

func TestNilBusDiscards(t *testing.T) {
	var bus *MonitoringBus
	assert.Nil(t, bus.Emit(context.Background(), EventInput{Type: entity.EventMigrationStarted}))
	bus.Observe(context.Background(), MetricInput{Name: MetricDurationSeconds, Value: 1})
}

func TestRecordMetricEvaluatesThresholds(t *testing.T) {
	h := newHarness(t)

	_, err := h.bus.RecordMetric(h.ctx, MetricInput{Version: "001", Name: MetricDurationSeconds, Value: 12, Unit: "seconds"})
	require.NoError(t, err)
	assert.Empty(t, h.eventsOfType(entity.EventPerformanceDegradation))

	metric, err := h.bus.RecordMetric(h.ctx, MetricInput{Version: "001", Name: MetricDurationSeconds, Value: 2400, Unit: "seconds"})
	require.NoError(t, err)
	assert.Equal(t, entity.MetricGauge, metric.Kind)

	degraded := h.eventsOfType(entity.EventPerformanceDegradation)
	require.Len(t, degraded, 1)
	assert.Equal(t, "001", degraded[0].Version)
	assert.Equal(t, entity.SeverityWarning, degraded[0].Severity)
	detail, ok := degraded[0].Detail.(entity.ThresholdDetail)
	require.True(t, ok)
	assert.Equal(t, float64(2400), detail.Value)
	assert.Equal(t, float64(1800), detail.Threshold)

	_, err = h.bus.RecordMetric(h.ctx, MetricInput{Name: " "})
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))

	samples, err := h.bus.Metrics(h.ctx, repository.MetricFilter{Name: MetricDurationSeconds})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, float64(12), samples[0].Value)
}

func TestGenerateAlertsGroupsUnacknowledgedEvents(t *testing.T) {
	h := newHarness(t)
	hook := &recordingAlertHook{}
	h.bus.AddAlertHook(hook)

	for _, in := range []EventInput{
		{Version: "001", Type: entity.EventMigrationFailed, Severity: entity.SeverityError, Message: "first"},
		{Version: "001", Type: entity.EventMigrationFailed, Severity: entity.SeverityError, Message: "second"},
		{Version: "002", Type: entity.EventLockContention, Severity: entity.SeverityWarning},
		{Version: "001", Type: entity.EventMigrationStarted, Severity: entity.SeverityInfo},
	} {
		_, err := h.bus.LogEvent(h.ctx, in)
		require.NoError(t, err)
	}

	alerts, err := h.bus.GenerateAlerts(h.ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	assert.Equal(t, entity.AlertKey("001", entity.EventMigrationFailed, entity.SeverityError), alerts[0].Key)
	assert.Equal(t, 2, alerts[0].Count)
	assert.Len(t, alerts[0].EventIDs, 2)
	assert.Equal(t, "second", alerts[0].Message)
	assert.NotEmpty(t, alerts[0].RecommendedActions)
	assert.False(t, alerts[0].LastSeen.Before(alerts[0].FirstSeen))

	assert.Equal(t, entity.EventLockContention, alerts[1].Type)
	assert.Equal(t, 1, alerts[1].Count)

	assert.Len(t, hook.alerts, 2)
}

func TestAlertsLeaveTheWindow(t *testing.T) {
	h := newHarness(t)
	_, err := h.bus.LogEvent(h.ctx, EventInput{Version: "001", Type: entity.EventBackupFailed, Severity: entity.SeverityError})
	require.NoError(t, err)

	h.bus.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	alerts, err := h.bus.GenerateAlerts(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAcknowledgeAlert(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		_, err := h.bus.LogEvent(h.ctx, EventInput{Version: "001", Type: entity.EventMigrationFailed, Severity: entity.SeverityError})
		require.NoError(t, err)
	}
	lockEvent, err := h.bus.LogEvent(h.ctx, EventInput{Version: "002", Type: entity.EventLockContention, Severity: entity.SeverityWarning})
	require.NoError(t, err)

	n, err := h.bus.AcknowledgeAlert(h.ctx, h.ec, entity.AlertKey("001", entity.EventMigrationFailed, entity.SeverityError))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	alerts, err := h.bus.GenerateAlerts(h.ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, entity.EventLockContention, alerts[0].Type)

	n, err = h.bus.Acknowledge(h.ctx, h.ec, []uuid.UUID{lockEvent.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	acked, err := h.bus.Events(h.ctx, repository.EventFilter{Types: []entity.EventType{entity.EventLockContention}})
	require.NoError(t, err)
	require.Len(t, acked, 1)
	assert.True(t, acked[0].Acknowledged)
	assert.Equal(t, "alice", acked[0].AcknowledgedBy)

	_, err = h.bus.AcknowledgeAlert(h.ctx, h.ec, "001|unknown|error")
	assert.True(t, common.HasErrorCode(err, common.ErrCodeNotFound))

	_, err = h.bus.Acknowledge(h.ctx, h.ec, nil)
	assert.True(t, common.HasErrorCode(err, common.ErrCodeInvalidInput))
}

func TestDashboardAggregatesWindow(t *testing.T) {
	h := newHarness(t)
	h.health.Register(NewDatabaseCheck(h.probe))
	_, err := h.health.Run(h.ctx, h.ec)
	require.NoError(t, err)

	for _, in := range []EventInput{
		{Version: "001", Type: entity.EventMigrationStarted},
		{Version: "001", Type: entity.EventMigrationFailed, Severity: entity.SeverityError},
		{Version: "002", Type: entity.EventMigrationStarted},
		{Type: entity.EventBackupCreated},
	} {
		_, err := h.bus.LogEvent(h.ctx, in)
		require.NoError(t, err)
	}
	for _, v := range []float64{10, 30} {
		_, err := h.bus.RecordMetric(h.ctx, MetricInput{Version: "001", Name: MetricDurationSeconds, Value: v, Unit: "seconds"})
		require.NoError(t, err)
	}

	dashboard, err := h.bus.Dashboard(h.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, dashboard.Window)
	assert.Equal(t, 4, dashboard.TotalEvents)
	assert.Equal(t, 3, dashboard.EventsBySeverity[entity.SeverityInfo])
	assert.Equal(t, 1, dashboard.EventsBySeverity[entity.SeverityError])
	assert.Equal(t, 2, dashboard.EventsByType[entity.EventMigrationStarted])
	assert.Equal(t, 1, dashboard.UnacknowledgedAlerts)

	require.Len(t, dashboard.Versions, 2)
	assert.Equal(t, "001", dashboard.Versions[0].Version)
	assert.Equal(t, 2, dashboard.Versions[0].Events)
	assert.Equal(t, 1, dashboard.Versions[0].Errors)
	assert.Equal(t, entity.EventMigrationFailed, dashboard.Versions[0].LastEvent)

	require.Len(t, dashboard.Metrics, 1)
	assert.Equal(t, 2, dashboard.Metrics[0].Count)
	assert.InDelta(t, 20, dashboard.Metrics[0].Average, 0.001)
	assert.Equal(t, float64(30), dashboard.Metrics[0].Max)
	assert.Equal(t, float64(30), dashboard.Metrics[0].Last)

	require.NotNil(t, dashboard.SystemHealth)
	assert.Equal(t, entity.HealthStatusPassed, dashboard.SystemHealth.Status)
}
