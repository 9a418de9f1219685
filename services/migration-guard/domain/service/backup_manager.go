package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/backup"
)

// BackupRequest describes a backup to create
type BackupRequest struct {
	Version     string
	Type        entity.BackupType
	IncludeData bool
	// Tables limits the data estimate; empty means every captured table
	Tables []string
}

// BackupManager creates, validates, expires and serves schema backups
type BackupManager struct {
	backups   repository.BackupRepository
	store     repository.BackupStore
	inspector repository.SchemaInspector
	retention backup.RetentionConfig
	bus       *MonitoringBus
	audit     *AuditLog
	logger    *zap.Logger
	now       func() time.Time
	locks     *keyedMutex
}

// NewBackupManager creates a backup manager
func NewBackupManager(
	backups repository.BackupRepository,
	store repository.BackupStore,
	inspector repository.SchemaInspector,
	retention backup.RetentionConfig,
	bus *MonitoringBus,
	audit *AuditLog,
	logger *zap.Logger,
) *BackupManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention.Default <= 0 {
		retention.Default = entity.DefaultBackupRetention
	}
	return &BackupManager{
		backups:   backups,
		store:     store,
		inspector: inspector,
		retention: retention,
		bus:       bus,
		audit:     audit,
		logger:    logger.Named("backup"),
		now:       time.Now,
		locks:     newKeyedMutex(),
	}
}

func storeKey(version string, backupType entity.BackupType, id uuid.UUID) string {
	return fmt.Sprintf("%s/%s/%s.bin", version, backupType, id)
}

// CreateBackup captures the schema (and optionally table estimates), stores
// the encoded payload and validates it. Creation is serialised per version
// and type.
func (m *BackupManager) CreateBackup(ctx context.Context, ec entity.ExecutionContext, req BackupRequest) (*entity.Backup, error) {
	if strings.TrimSpace(req.Version) == "" {
		return nil, common.ErrInvalidInput("version")
	}
	if req.Type == "" {
		req.Type = entity.BackupTypePreMigration
	}
	if !req.Type.Valid() {
		return nil, common.ErrInvalidInput("type").WithContext("type", string(req.Type))
	}

	unlock := m.locks.Lock(req.Version + "|" + string(req.Type))
	defer unlock()

	now := m.now()
	b := &entity.Backup{
		ID:        uuid.New(),
		Version:   req.Version,
		Type:      req.Type,
		Status:    entity.BackupStatusInProgress,
		CreatedAt: now,
		ExpiresAt: m.retention.ExpiresAt(string(req.Type), now),
		CreatedBy: ec.Principal(),
	}
	b.StoreKey = storeKey(b.Version, b.Type, b.ID)
	if err := m.backups.Create(ctx, b); err != nil {
		return nil, common.ErrDatabaseQuery("create backup", err)
	}

	m.logger.Info("Creating backup",
		zap.String("backup_id", b.ID.String()),
		zap.String("version", b.Version),
		zap.String("type", string(b.Type)),
		zap.Bool("include_data", req.IncludeData))

	snapshot, err := m.inspector.Snapshot(ctx)
	if err != nil {
		return nil, m.failCreate(ctx, ec, b, common.WrapError(err, common.ErrCodeDatabaseQuery, "capture schema snapshot"))
	}

	payload := entity.BackupPayload{
		BackupID: b.ID,
		Version:  b.Version,
		Type:     b.Type,
		Schema:   snapshot,
	}
	if req.IncludeData {
		tables := common.UniqueSorted(req.Tables)
		if len(tables) == 0 {
			tables = snapshot.TableNames()
		}
		estimates, err := m.inspector.EstimateTables(ctx, tables)
		if err != nil {
			return nil, m.failCreate(ctx, ec, b, common.WrapError(err, common.ErrCodeDatabaseQuery, "estimate table sizes"))
		}
		payload.Data = &entity.DataSnapshot{Tables: estimates, StoreKey: b.StoreKey}
		b.DataTables = tables
		b.DataSnapshot = payload.Data
	}

	encoded, err := backup.Encode(payload)
	if err != nil {
		return nil, m.failCreate(ctx, ec, b, common.WrapError(err, common.ErrCodeInternal, "encode backup payload"))
	}
	if err := m.store.Put(ctx, b.StoreKey, encoded); err != nil {
		return nil, m.failCreate(ctx, ec, b, common.WrapError(err, common.ErrCodeExternalService, "store backup payload"))
	}

	b.Checksum = snapshot.Checksum()
	b.SizeBytes = int64(len(encoded))
	if err := m.backups.Update(ctx, b); err != nil {
		return nil, common.ErrDatabaseQuery("update backup", err)
	}

	validated, err := m.validateLocked(ctx, ec, b)
	if err != nil {
		m.audit.Record(ctx, ec, AuditActionBackupCreate, "backup:"+b.ID.String(), entity.AuditOutcomeFailure,
			map[string]string{"version": b.Version, "error": err.Error()})
		return nil, err
	}

	m.bus.Emit(ctx, EventInput{
		Version:       b.Version,
		Type:          entity.EventBackupCreated,
		Severity:      entity.SeverityInfo,
		Message:       fmt.Sprintf("Backup %s created for version %s", b.ID, b.Version),
		CorrelationID: ec.CorrelationID,
		Detail: entity.BackupDetail{
			BackupID:  b.ID.String(),
			Type:      string(b.Type),
			Status:    string(validated.Status),
			SizeBytes: b.SizeBytes,
			Checksum:  b.Checksum,
		},
	})
	m.bus.Observe(ctx, MetricInput{
		Version:       b.Version,
		Name:          MetricBackupSizeBytes,
		Value:         float64(b.SizeBytes + b.DataSnapshot.TotalBytes()),
		Unit:          "bytes",
		Kind:          entity.MetricGauge,
		Context:       map[string]string{"backup_type": string(b.Type)},
		CorrelationID: ec.CorrelationID,
	})
	m.audit.Record(ctx, ec, AuditActionBackupCreate, "backup:"+b.ID.String(), entity.AuditOutcomeSuccess,
		map[string]string{"version": b.Version, "type": string(b.Type), "checksum": b.Checksum})

	return validated, nil
}

func (m *BackupManager) failCreate(ctx context.Context, ec entity.ExecutionContext, b *entity.Backup, cause *common.AppError) error {
	b.Status = entity.BackupStatusFailed
	b.ErrorMessage = cause.Error()
	if err := m.backups.Update(ctx, b); err != nil {
		m.logger.Error("Failed to mark backup failed", zap.String("backup_id", b.ID.String()), zap.Error(err))
	}
	m.emitFailed(ctx, ec, b, cause)
	m.audit.Record(ctx, ec, AuditActionBackupCreate, "backup:"+b.ID.String(), entity.AuditOutcomeFailure,
		map[string]string{"version": b.Version, "error": cause.Error()})
	return cause
}

func (m *BackupManager) emitFailed(ctx context.Context, ec entity.ExecutionContext, b *entity.Backup, cause error) {
	m.bus.Emit(ctx, EventInput{
		Version:       b.Version,
		Type:          entity.EventBackupFailed,
		Severity:      entity.SeverityError,
		Message:       fmt.Sprintf("Backup %s for version %s failed", b.ID, b.Version),
		CorrelationID: ec.CorrelationID,
		Detail: entity.BackupDetail{
			BackupID: b.ID.String(),
			Type:     string(b.Type),
			Status:   string(b.Status),
			Error:    cause.Error(),
		},
	})
}

// Validate re-reads the stored payload and recomputes its checksum. It is
// idempotent for completed backups.
func (m *BackupManager) Validate(ctx context.Context, ec entity.ExecutionContext, id uuid.UUID) (*entity.Backup, error) {
	b, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(b.Version + "|" + string(b.Type))
	defer unlock()

	// reload under the lock
	if b, err = m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.validateLocked(ctx, ec, b)
}

func (m *BackupManager) validateLocked(ctx context.Context, ec entity.ExecutionContext, b *entity.Backup) (*entity.Backup, error) {
	now := m.now()
	if b.IsExpiredAt(now) {
		detail := fmt.Sprintf("backup expired at %s", b.ExpiresAt.Format(time.RFC3339))
		if b.SupersededBy != nil {
			detail = fmt.Sprintf("backup superseded by %s", b.SupersededBy)
		}
		return nil, entity.NewBackupValidationError(b.ID.String(), detail)
	}

	payload, err := m.decodePayload(ctx, b)
	if err != nil {
		return nil, m.markInvalid(ctx, ec, b, err.Error())
	}
	if payload.BackupID != b.ID {
		return nil, m.markInvalid(ctx, ec, b, fmt.Sprintf("payload belongs to backup %s", payload.BackupID))
	}
	if payload.Schema == nil {
		return nil, m.markInvalid(ctx, ec, b, "payload has no schema snapshot")
	}
	if sum := payload.Schema.Checksum(); sum != b.Checksum {
		return nil, m.markInvalid(ctx, ec, b, fmt.Sprintf("checksum mismatch: recorded %s, computed %s", b.Checksum, sum))
	}

	if b.Status == entity.BackupStatusCompleted {
		return b, nil
	}

	newer, err := m.newerCompleted(ctx, b)
	if err != nil {
		return nil, err
	}
	if newer != nil {
		return nil, m.supersede(ctx, ec, b, newer)
	}

	b.Status = entity.BackupStatusCompleted
	b.CompletedAt = common.TimePtr(now)
	b.ErrorMessage = ""
	if err := m.backups.Update(ctx, b); err != nil {
		return nil, common.ErrDatabaseQuery("update backup", err)
	}
	if err := m.supersedePrevious(ctx, ec, b); err != nil {
		return nil, err
	}

	m.bus.Emit(ctx, EventInput{
		Version:       b.Version,
		Type:          entity.EventBackupValidated,
		Severity:      entity.SeverityInfo,
		Message:       fmt.Sprintf("Backup %s validated", b.ID),
		CorrelationID: ec.CorrelationID,
		Detail: entity.BackupDetail{
			BackupID: b.ID.String(),
			Type:     string(b.Type),
			Status:   string(b.Status),
			Checksum: b.Checksum,
		},
	})
	return b, nil
}

func (m *BackupManager) decodePayload(ctx context.Context, b *entity.Backup) (*entity.BackupPayload, error) {
	if b.StoreKey == "" {
		return nil, errors.New("backup has no stored payload")
	}
	data, err := m.store.Get(ctx, b.StoreKey)
	if err != nil {
		return nil, fmt.Errorf("payload unreadable: %w", err)
	}
	var payload entity.BackupPayload
	if err := backup.Decode(data, &payload); err != nil {
		return nil, fmt.Errorf("payload undecodable: %w", err)
	}
	return &payload, nil
}

func (m *BackupManager) markInvalid(ctx context.Context, ec entity.ExecutionContext, b *entity.Backup, detail string) error {
	validationErr := entity.NewBackupValidationError(b.ID.String(), detail)

	b.Status = entity.BackupStatusFailed
	b.ErrorMessage = detail
	if err := m.backups.Update(ctx, b); err != nil {
		m.logger.Error("Failed to mark backup failed", zap.String("backup_id", b.ID.String()), zap.Error(err))
	}
	m.emitFailed(ctx, ec, b, validationErr)
	return validationErr
}

// supersedePrevious expires the older completed backups of the same version and type
func (m *BackupManager) supersedePrevious(ctx context.Context, ec entity.ExecutionContext, current *entity.Backup) error {
	previous, err := m.backups.Find(ctx, repository.BackupFilter{
		Version: current.Version,
		Type:    current.Type,
		Status:  entity.BackupStatusCompleted,
	})
	if err != nil {
		return common.ErrDatabaseQuery("find completed backups", err)
	}

	for _, old := range previous {
		if old.ID == current.ID || old.CreatedAt.After(current.CreatedAt) {
			continue
		}
		old.Status = entity.BackupStatusExpired
		old.SupersededBy = &current.ID
		if err := m.backups.Update(ctx, old); err != nil {
			return common.ErrDatabaseQuery("supersede backup", err)
		}
		m.emitSuperseded(ctx, ec, old, current)
	}
	return nil
}

// newerCompleted returns the newest completed backup of the same version and
// type created after b, or nil.
func (m *BackupManager) newerCompleted(ctx context.Context, b *entity.Backup) (*entity.Backup, error) {
	completed, err := m.backups.Find(ctx, repository.BackupFilter{
		Version: b.Version,
		Type:    b.Type,
		Status:  entity.BackupStatusCompleted,
	})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find completed backups", err)
	}
	var newest *entity.Backup
	for _, c := range completed {
		if c.ID == b.ID || !c.CreatedAt.After(b.CreatedAt) {
			continue
		}
		if newest == nil || c.CreatedAt.After(newest.CreatedAt) {
			newest = c
		}
	}
	return newest, nil
}

// supersede expires b in favour of newer. A backup that passes validation
// after a newer one completed never becomes completed itself.
func (m *BackupManager) supersede(ctx context.Context, ec entity.ExecutionContext, b, newer *entity.Backup) error {
	b.Status = entity.BackupStatusExpired
	b.SupersededBy = &newer.ID
	b.ErrorMessage = ""
	if err := m.backups.Update(ctx, b); err != nil {
		return common.ErrDatabaseQuery("supersede backup", err)
	}
	m.emitSuperseded(ctx, ec, b, newer)
	return entity.NewBackupValidationError(b.ID.String(), fmt.Sprintf("backup superseded by %s", newer.ID))
}

func (m *BackupManager) emitSuperseded(ctx context.Context, ec entity.ExecutionContext, old, current *entity.Backup) {
	m.bus.Emit(ctx, EventInput{
		Version:       old.Version,
		Type:          entity.EventBackupExpired,
		Severity:      entity.SeverityInfo,
		Message:       fmt.Sprintf("Backup %s superseded by %s", old.ID, current.ID),
		CorrelationID: ec.CorrelationID,
		Detail: entity.BackupDetail{
			BackupID: old.ID.String(),
			Type:     string(old.Type),
			Status:   string(old.Status),
		},
	})
}

// CleanupExpired expires backups past their retention and deletes their
// payloads. It returns the number of backups newly expired.
func (m *BackupManager) CleanupExpired(ctx context.Context, ec entity.ExecutionContext) (int, error) {
	all, err := m.backups.Find(ctx, repository.BackupFilter{})
	if err != nil {
		return 0, common.ErrDatabaseQuery("find backups", err)
	}

	now := m.now()
	expired := 0
	for _, b := range all {
		if now.Before(b.ExpiresAt) {
			continue
		}
		if b.Status == entity.BackupStatusExpired && b.StoreKey == "" {
			continue
		}

		newlyExpired := b.Status != entity.BackupStatusExpired
		if newlyExpired {
			b.Status = entity.BackupStatusExpired
			if err := m.backups.Update(ctx, b); err != nil {
				return expired, common.ErrDatabaseQuery("expire backup", err)
			}
		}

		// a failed delete keeps the key so the next pass retries it
		if b.StoreKey != "" {
			if err := m.store.Delete(ctx, b.StoreKey); err != nil {
				m.logger.Warn("Failed to delete backup payload",
					zap.String("backup_id", b.ID.String()),
					zap.String("store_key", b.StoreKey),
					zap.Error(err))
			} else {
				b.StoreKey = ""
				if err := m.backups.Update(ctx, b); err != nil {
					return expired, common.ErrDatabaseQuery("clear backup payload key", err)
				}
			}
		}
		if !newlyExpired {
			continue
		}

		expired++
		m.bus.Emit(ctx, EventInput{
			Version:       b.Version,
			Type:          entity.EventBackupExpired,
			Severity:      entity.SeverityInfo,
			Message:       fmt.Sprintf("Backup %s expired", b.ID),
			CorrelationID: ec.CorrelationID,
			Detail: entity.BackupDetail{
				BackupID: b.ID.String(),
				Type:     string(b.Type),
				Status:   string(b.Status),
			},
		})
	}

	m.audit.Record(ctx, ec, AuditActionBackupCleanup, "backups", entity.AuditOutcomeSuccess,
		map[string]string{"expired": fmt.Sprint(expired)})
	m.logger.Info("Expired backups cleaned up", zap.Int("expired", expired))
	return expired, nil
}

// LatestCompleted returns the newest completed, unexpired backup of version.
// An empty type matches every type.
func (m *BackupManager) LatestCompleted(ctx context.Context, version string, backupType entity.BackupType) (*entity.Backup, error) {
	candidates, err := m.backups.Find(ctx, repository.BackupFilter{
		Version: version,
		Type:    backupType,
		Status:  entity.BackupStatusCompleted,
	})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find backups", err)
	}

	now := m.now()
	for _, b := range candidates {
		if b.UsableAt(now) {
			return b, nil
		}
	}
	return nil, entity.NewMissingBackupError(version, common.Coalesce(backupType, entity.BackupType("any")),
		"no completed, unexpired backup exists")
}

// LatestBefore returns the newest completed, unexpired backup of version
// created before cutoff. Pre-migration backups win over every other type.
// No such backup is a BACKUP_PROVENANCE error.
func (m *BackupManager) LatestBefore(ctx context.Context, version string, cutoff time.Time) (*entity.Backup, error) {
	candidates, err := m.backups.Find(ctx, repository.BackupFilter{
		Version: version,
		Status:  entity.BackupStatusCompleted,
	})
	if err != nil {
		return nil, common.ErrDatabaseQuery("find backups", err)
	}

	now := m.now()
	var best *entity.Backup
	for _, b := range candidates {
		if !b.UsableAt(now) || !b.CreatedAt.Before(cutoff) {
			continue
		}
		switch {
		case best == nil:
			best = b
		case (b.Type == entity.BackupTypePreMigration) != (best.Type == entity.BackupTypePreMigration):
			if b.Type == entity.BackupTypePreMigration {
				best = b
			}
		case b.CreatedAt.After(best.CreatedAt):
			best = b
		}
	}
	if best == nil {
		return nil, entity.NewBackupProvenanceError(version, "none",
			fmt.Sprintf("no completed backup created before %s", cutoff.Format(time.RFC3339)))
	}
	return best, nil
}

// LoadSnapshot decodes the stored payload of a backup
func (m *BackupManager) LoadSnapshot(ctx context.Context, b *entity.Backup) (*entity.BackupPayload, error) {
	payload, err := m.decodePayload(ctx, b)
	if err != nil {
		return nil, entity.NewBackupValidationError(b.ID.String(), err.Error())
	}
	return payload, nil
}

// MarkRestored records that a backup was used as a rollback target
func (m *BackupManager) MarkRestored(ctx context.Context, id uuid.UUID) (*entity.Backup, error) {
	b, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	b.RestoredAt = common.TimePtr(m.now())
	if err := m.backups.Update(ctx, b); err != nil {
		return nil, common.ErrDatabaseQuery("update backup", err)
	}
	return b, nil
}

// Get returns one backup
func (m *BackupManager) Get(ctx context.Context, id uuid.UUID) (*entity.Backup, error) {
	b, err := m.backups.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, common.ErrNotFound("backup").WithContext("backup_id", id.String())
	}
	if err != nil {
		return nil, common.ErrDatabaseQuery("get backup", err)
	}
	return b, nil
}

// List returns backups, newest first
func (m *BackupManager) List(ctx context.Context, filter repository.BackupFilter) ([]*entity.Backup, error) {
	backups, err := m.backups.Find(ctx, filter)
	if err != nil {
		return nil, common.ErrDatabaseQuery("find backups", err)
	}
	return backups, nil
}
