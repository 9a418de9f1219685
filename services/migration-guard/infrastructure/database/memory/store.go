// Package memory holds in-process implementations of the store ports. They
// back the CLI when no database is configured and every service test.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
)

// NewRepositories returns a full set of empty in-memory stores
func NewRepositories() repository.Repositories {
	return repository.Repositories{
		Runs:     NewRunRepository(),
		Audit:    NewAuditRepository(),
		Backups:  NewBackupRepository(),
		Rollback: NewRollbackRepository(),
		Recovery: NewDisasterRecoveryRepository(),
		Events:   NewEventRepository(),
		Metrics:  NewMetricRepository(),
		Health:   NewHealthRepository(),
	}
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// RunRepository stores migration runs
type RunRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]entity.MigrationRun
}

func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[uuid.UUID]entity.MigrationRun)}
}

func (r *RunRepository) Create(ctx context.Context, run *entity.MigrationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *RunRepository) Update(ctx context.Context, run *entity.MigrationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return repository.ErrNotFound
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.MigrationRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &run, nil
}

func (r *RunRepository) Find(ctx context.Context, filter repository.RunFilter) ([]*entity.MigrationRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.MigrationRun
	for _, run := range r.runs {
		if filter.Version != "" && run.Version != filter.Version {
			continue
		}
		if filter.Phase != "" && run.Phase != filter.Phase {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && run.StartedAt.Before(filter.Since) {
			continue
		}
		run := run
		result = append(result, &run)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return limit(result, filter.Limit), nil
}

// AuditRepository stores audit entries
type AuditRepository struct {
	mu      sync.RWMutex
	entries []entity.AuditEntry
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *AuditRepository) Find(ctx context.Context, filter repository.AuditFilter) ([]*entity.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.AuditEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Resource != "" && e.Resource != filter.Resource {
			continue
		}
		if filter.Outcome != "" && e.Outcome != filter.Outcome {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		result = append(result, &e)
	}
	return limit(result, filter.Limit), nil
}

// BackupRepository stores the backup catalogue
type BackupRepository struct {
	mu      sync.RWMutex
	backups map[uuid.UUID]entity.Backup
}

func NewBackupRepository() *BackupRepository {
	return &BackupRepository{backups: make(map[uuid.UUID]entity.Backup)}
}

func (r *BackupRepository) Create(ctx context.Context, backup *entity.Backup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups[backup.ID] = *backup
	return nil
}

func (r *BackupRepository) Update(ctx context.Context, backup *entity.Backup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backups[backup.ID]; !ok {
		return repository.ErrNotFound
	}
	r.backups[backup.ID] = *backup
	return nil
}

func (r *BackupRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Backup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (r *BackupRepository) Find(ctx context.Context, filter repository.BackupFilter) ([]*entity.Backup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.Backup
	for _, b := range r.backups {
		if filter.Version != "" && b.Version != filter.Version {
			continue
		}
		if filter.Type != "" && b.Type != filter.Type {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		b := b
		result = append(result, &b)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return limit(result, filter.Limit), nil
}

// RollbackRepository stores rollback executions
type RollbackRepository struct {
	mu         sync.RWMutex
	executions map[uuid.UUID]entity.RollbackExecution
}

func NewRollbackRepository() *RollbackRepository {
	return &RollbackRepository{executions: make(map[uuid.UUID]entity.RollbackExecution)}
}

func (r *RollbackRepository) Create(ctx context.Context, execution *entity.RollbackExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[execution.ID] = *execution
	return nil
}

func (r *RollbackRepository) Update(ctx context.Context, execution *entity.RollbackExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[execution.ID]; !ok {
		return repository.ErrNotFound
	}
	r.executions[execution.ID] = *execution
	return nil
}

func (r *RollbackRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.RollbackExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r *RollbackRepository) FindByVersion(ctx context.Context, version string) ([]*entity.RollbackExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.RollbackExecution
	for _, e := range r.executions {
		if version != "" && e.Version != version {
			continue
		}
		e := e
		result = append(result, &e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

// DisasterRecoveryRepository stores plans, executions and incidents
type DisasterRecoveryRepository struct {
	mu         sync.RWMutex
	plans      map[uuid.UUID]entity.DisasterRecoveryPlan
	executions map[uuid.UUID]entity.DisasterRecoveryExecution
	incidents  []entity.IncidentRecord
}

func NewDisasterRecoveryRepository() *DisasterRecoveryRepository {
	return &DisasterRecoveryRepository{
		plans:      make(map[uuid.UUID]entity.DisasterRecoveryPlan),
		executions: make(map[uuid.UUID]entity.DisasterRecoveryExecution),
	}
}

func (r *DisasterRecoveryRepository) SavePlan(ctx context.Context, plan *entity.DisasterRecoveryPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[plan.ID] = *plan
	return nil
}

// GetPlanByName prefers an active plan when several share a name
func (r *DisasterRecoveryRepository) GetPlanByName(ctx context.Context, name string) (*entity.DisasterRecoveryPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *entity.DisasterRecoveryPlan
	for _, p := range r.plans {
		if p.Name != name {
			continue
		}
		p := p
		if found == nil || (p.Status == entity.PlanStatusActive && found.Status != entity.PlanStatusActive) {
			found = &p
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *DisasterRecoveryRepository) ListPlans(ctx context.Context) ([]*entity.DisasterRecoveryPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entity.DisasterRecoveryPlan, 0, len(r.plans))
	for _, p := range r.plans {
		p := p
		result = append(result, &p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *DisasterRecoveryRepository) CreateExecution(ctx context.Context, execution *entity.DisasterRecoveryExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[execution.ID] = *execution
	return nil
}

func (r *DisasterRecoveryRepository) UpdateExecution(ctx context.Context, execution *entity.DisasterRecoveryExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[execution.ID]; !ok {
		return repository.ErrNotFound
	}
	r.executions[execution.ID] = *execution
	return nil
}

func (r *DisasterRecoveryRepository) GetExecution(ctx context.Context, id uuid.UUID) (*entity.DisasterRecoveryExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r *DisasterRecoveryRepository) FindExecutions(ctx context.Context, planName string) ([]*entity.DisasterRecoveryExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.DisasterRecoveryExecution
	for _, e := range r.executions {
		if planName != "" && e.PlanName != planName {
			continue
		}
		e := e
		result = append(result, &e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

func (r *DisasterRecoveryRepository) AppendIncident(ctx context.Context, incident *entity.IncidentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, *incident)
	return nil
}

func (r *DisasterRecoveryRepository) Incidents(ctx context.Context) ([]*entity.IncidentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*entity.IncidentRecord, 0, len(r.incidents))
	for i := len(r.incidents) - 1; i >= 0; i-- {
		incident := r.incidents[i]
		result = append(result, &incident)
	}
	return result, nil
}

// EventRepository stores monitoring events in emission order
type EventRepository struct {
	mu     sync.RWMutex
	seq    int64
	events []entity.MonitoringEvent
}

func NewEventRepository() *EventRepository {
	return &EventRepository{}
}

// Append assigns the next sequence number under the store lock, so every
// bus sharing the store draws from the same counter.
func (r *EventRepository) Append(ctx context.Context, event *entity.MonitoringEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	event.Sequence = r.seq
	r.events = append(r.events, *event)
	return nil
}

func (r *EventRepository) Find(ctx context.Context, filter repository.EventFilter) ([]*entity.MonitoringEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make(map[entity.EventType]struct{}, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = struct{}{}
	}

	var result []*entity.MonitoringEvent
	for _, e := range r.events {
		if filter.Version != "" && e.Version != filter.Version {
			continue
		}
		if len(types) > 0 {
			if _, ok := types[e.Type]; !ok {
				continue
			}
		}
		if filter.MinSeverity != "" && e.Severity.Rank() < filter.MinSeverity.Rank() {
			continue
		}
		if filter.CorrelationID != "" && e.CorrelationID != filter.CorrelationID {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.Unacknowledged && e.Acknowledged {
			continue
		}
		e := e
		result = append(result, &e)
	}
	return limit(result, filter.Limit), nil
}

func (r *EventRepository) Acknowledge(ctx context.Context, ids []uuid.UUID, by string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	count := 0
	for i := range r.events {
		if _, ok := wanted[r.events[i].ID]; !ok || r.events[i].Acknowledged {
			continue
		}
		at := at
		r.events[i].Acknowledged = true
		r.events[i].AcknowledgedBy = by
		r.events[i].AcknowledgedAt = &at
		count++
	}
	return count, nil
}

// MetricRepository stores metric samples
type MetricRepository struct {
	mu      sync.RWMutex
	metrics []entity.Metric
}

func NewMetricRepository() *MetricRepository {
	return &MetricRepository{}
}

func (r *MetricRepository) Append(ctx context.Context, metric *entity.Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, *metric)
	return nil
}

func (r *MetricRepository) Find(ctx context.Context, filter repository.MetricFilter) ([]*entity.Metric, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*entity.Metric
	for _, m := range r.metrics {
		if filter.Version != "" && m.Version != filter.Version {
			continue
		}
		if filter.Name != "" && m.Name != filter.Name {
			continue
		}
		if !filter.Since.IsZero() && m.Timestamp.Before(filter.Since) {
			continue
		}
		m := m
		result = append(result, &m)
	}
	return limit(result, filter.Limit), nil
}

// HealthRepository stores health check results
type HealthRepository struct {
	mu      sync.RWMutex
	results []entity.HealthCheckResult
}

func NewHealthRepository() *HealthRepository {
	return &HealthRepository{}
}

func (r *HealthRepository) Save(ctx context.Context, results []entity.HealthCheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, results...)
	return nil
}

func (r *HealthRepository) Current(ctx context.Context, now time.Time) ([]entity.HealthCheckResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []entity.HealthCheckResult
	for _, res := range r.results {
		if res.ExpiresAt.After(now) {
			result = append(result, res)
		}
	}
	return result, nil
}

func (r *HealthRepository) PurgeCheckedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.results[:0]
	purged := 0
	for _, res := range r.results {
		if res.CheckedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, res)
	}
	r.results = kept
	return purged, nil
}
