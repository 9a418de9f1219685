package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/database/memory"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/lock"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/backup"
)

func table(name string, columns ...string) entity.TableSchema {
	t := entity.TableSchema{Name: name}
	for _, c := range columns {
		t.Columns = append(t.Columns, entity.ColumnSchema{Name: c, DataType: "text"})
	}
	return t
}

// fakeInspector serves a mutable in-memory schema
type fakeInspector struct {
	mu     sync.Mutex
	tables []entity.TableSchema
	err    error
}

func newFakeInspector(tables ...entity.TableSchema) *fakeInspector {
	return &fakeInspector{tables: tables}
}

func (f *fakeInspector) Snapshot(ctx context.Context) (*entity.SchemaSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &entity.SchemaSnapshot{
		CapturedAt: time.Now(),
		Tables:     append([]entity.TableSchema(nil), f.tables...),
	}, nil
}

func (f *fakeInspector) EstimateTables(ctx context.Context, tables []string) ([]entity.TableEstimate, error) {
	estimates := make([]entity.TableEstimate, 0, len(tables))
	for _, name := range tables {
		estimates = append(estimates, entity.TableEstimate{Name: name, RowEstimate: 100, SizeBytes: 8192})
	}
	return estimates, nil
}

func (f *fakeInspector) addTable(t entity.TableSchema) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, t)
}

func (f *fakeInspector) dropTable(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.tables[:0]
	for _, t := range f.tables {
		if t.Name != name {
			kept = append(kept, t)
		}
	}
	f.tables = kept
}

// applyDDL mirrors CREATE TABLE and DROP TABLE statements into the schema
func (f *fakeInspector) applyDDL(statements []string) {
	for _, stmt := range statements {
		fields := strings.Fields(stmt)
		if len(fields) < 3 || !strings.EqualFold(fields[1], "TABLE") {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "CREATE":
			f.addTable(table(fields[2], "id"))
		case "DROP":
			f.dropTable(fields[2])
		}
	}
}

func (f *fakeInspector) setTables(tables []entity.TableSchema) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append([]entity.TableSchema(nil), tables...)
}

func (f *fakeInspector) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeRunner records statements. A statement listed in fail makes the
// batch fail at that statement; onExec runs after a successful batch.
type fakeRunner struct {
	mu       sync.Mutex
	executed [][]string
	fail     map[string]error
	onExec   func(statements []string)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: make(map[string]error)}
}

func (f *fakeRunner) ExecStatements(ctx context.Context, statements []string) (int, error) {
	f.mu.Lock()
	for i, stmt := range statements {
		if err, ok := f.fail[stmt]; ok {
			f.mu.Unlock()
			return i, err
		}
	}
	f.executed = append(f.executed, statements)
	hook := f.onExec
	f.mu.Unlock()

	if hook != nil {
		hook(statements)
	}
	return len(statements), nil
}

func (f *fakeRunner) batches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.executed...)
}

// fakeRestorer puts the inspector back to the restored snapshot
type fakeRestorer struct {
	inspector   *fakeInspector
	schemaCalls int
	dataCalls   int
	err         error
}

func (f *fakeRestorer) RestoreSchema(ctx context.Context, target *entity.SchemaSnapshot, tables []string) error {
	f.schemaCalls++
	if f.err != nil {
		return f.err
	}
	f.inspector.setTables(target.Tables)
	return nil
}

func (f *fakeRestorer) RestoreData(ctx context.Context, data *entity.DataSnapshot) error {
	f.dataCalls++
	return f.err
}

type fakeProbe struct {
	pingErr   error
	stats     repository.DatabaseStats
	statsErr  error
	longCount int
}

func (f *fakeProbe) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeProbe) Stats(ctx context.Context) (*repository.DatabaseStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	stats := f.stats
	return &stats, nil
}

func (f *fakeProbe) LongRunningQueries(ctx context.Context, threshold time.Duration) (int, error) {
	return f.longCount, nil
}

// staticCheck reports fixed results for one category
type staticCheck struct {
	category entity.HealthCategory
	results  []entity.HealthCheckResult
	err      error
}

func (s *staticCheck) Category() entity.HealthCategory { return s.category }

func (s *staticCheck) Check(ctx context.Context) ([]entity.HealthCheckResult, error) {
	return s.results, s.err
}

// recordingEventHook captures published events
type recordingEventHook struct {
	mu     sync.Mutex
	events []*entity.MonitoringEvent
	err    error
}

func (r *recordingEventHook) PublishEvent(ctx context.Context, event *entity.MonitoringEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingEventHook) types() []entity.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]entity.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

// failingStore rejects every payload operation
type failingStore struct{}

func (failingStore) Put(ctx context.Context, key string, payload []byte) error { return errBoom }
func (failingStore) Get(ctx context.Context, key string) ([]byte, error)       { return nil, errBoom }
func (failingStore) Delete(ctx context.Context, key string) error               { return errBoom }
func (failingStore) Exists(ctx context.Context, key string) (bool, error)      { return false, errBoom }

var errBoom = errors.New("boom")

// harness wires every component against in-memory stores
type harness struct {
	t         *testing.T
	ctx       context.Context
	ec        entity.ExecutionContext
	repos     repository.Repositories
	store     *backup.MemoryStore
	inspector *fakeInspector
	runner    *fakeRunner
	restorer  *fakeRestorer
	probe     *fakeProbe
	locker    *lock.MemoryLocker
	events    *recordingEventHook

	bus      *MonitoringBus
	audit    *AuditLog
	backups  *BackupManager
	rollback *RollbackEngine
	health   *HealthAggregator
	dr       *DisasterRecovery
	executor *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		ec:        entity.ExecutionContext{Actor: "alice", TenantID: "tenant-1", IsAdmin: true, CorrelationID: "corr-1"},
		repos:     memory.NewRepositories(),
		store:     backup.NewMemoryStore(),
		inspector: newFakeInspector(table("users", "id", "email")),
		runner:    newFakeRunner(),
		probe:     &fakeProbe{stats: repository.DatabaseStats{Connections: 10, MaxConnections: 100, StorageBytes: 1 << 20, CacheHitRatio: 0.99}},
		locker:    lock.NewMemoryLocker(),
		events:    &recordingEventHook{},
	}
	h.restorer = &fakeRestorer{inspector: h.inspector}
	h.runner.onExec = h.inspector.applyDDL

	h.bus = NewMonitoringBus(h.repos.Events, h.repos.Metrics, nil, DefaultMonitoringConfig(), logger)
	h.bus.AddEventHook(h.events)
	h.audit = NewAuditLog(h.repos.Runs, h.repos.Audit, h.bus, logger)
	h.backups = NewBackupManager(h.repos.Backups, h.store, h.inspector, backup.DefaultConfig().Retention, h.bus, h.audit, logger)
	h.rollback = NewRollbackEngine(RollbackDependencies{
		Backups:    h.backups,
		Audit:      h.audit,
		Bus:        h.bus,
		Executions: h.repos.Rollback,
		Inspector:  h.inspector,
		Runner:     h.runner,
		Restorer:   h.restorer,
		Locker:     h.locker,
	}, DefaultRollbackConfig(), logger)
	h.health = NewHealthAggregator(h.repos.Health, h.probe, h.bus, DefaultHealthConfig(), logger)
	h.bus.SetHealthProvider(h.health)
	h.dr = NewDisasterRecovery(DRDependencies{
		Plans:    h.repos.Recovery,
		Rollback: h.rollback,
		Backups:  h.backups,
		Audit:    h.audit,
		Bus:      h.bus,
		Health:   h.health,
		Runner:   h.runner,
		Locker:   h.locker,
	}, DefaultDRConfig(), logger)
	h.executor = NewExecutor(ExecutorDependencies{
		Audit:     h.audit,
		Backups:   h.backups,
		Bus:       h.bus,
		Rollback:  h.rollback,
		Inspector: h.inspector,
		Runner:    h.runner,
		Locker:    h.locker,
	}, DefaultExecutorConfig(), logger)

	return h
}

// apply runs one unit through the executor and requires success
func (h *harness) apply(unit entity.MigrationUnit) {
	h.t.Helper()
	_, err := h.executor.Apply(h.ctx, h.ec, []entity.MigrationUnit{unit})
	require.NoError(h.t, err)
}

func (h *harness) eventsOfType(eventType entity.EventType) []*entity.MonitoringEvent {
	h.t.Helper()
	events, err := h.bus.Events(h.ctx, repository.EventFilter{Types: []entity.EventType{eventType}})
	require.NoError(h.t, err)
	return events
}

// criticalUnit creates a users_data table; its name classifies it as critical
func criticalUnit(version string) entity.MigrationUnit {
	return entity.MigrationUnit{
		Version:        version,
		Name:           "add_user_data",
		Statements:     []string{"CREATE TABLE user_data (id int)"},
		Down:           []string{"DROP TABLE user_data"},
		AffectedTables: []string{"user_data"},
	}
}
