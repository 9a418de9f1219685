// Package usecase assembles the migration-guard components from
// configuration and exposes the flows shared by the CLI and the admin API.
package usecase

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/health"
	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/metrics"
	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/shutdown"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/config"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/service"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/database/memory"
	pgstore "github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/database/postgres"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/lock"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/messaging"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/search"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/source"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/backup"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/elasticsearch"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/mongodb"
	sharedpg "github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/redis"
)

// Components are the infrastructure ports a Guard is assembled from
type Components struct {
	Repositories repository.Repositories
	Inspector    repository.SchemaInspector
	Runner       repository.StatementRunner
	Restorer     repository.Restorer
	Probe        repository.DatabaseProbe
	Locker       repository.Locker
	BackupStore  repository.BackupStore
	Metrics      *metrics.Manager

	EventHooks []repository.EventHook
	AlertHooks []repository.AlertHook
	AuditHooks []repository.AuditHook

	// Pingers back the readiness endpoint, keyed by dependency name
	Pingers map[string]health.Pinger
}

// Guard owns every component of a migration-guard process
type Guard struct {
	Config    *config.Config
	Audit     *service.AuditLog
	Bus       *service.MonitoringBus
	Health    *service.HealthAggregator
	Backups   *service.BackupManager
	Rollback  *service.RollbackEngine
	Recovery  *service.DisasterRecovery
	Executor  *service.Executor
	Metrics   *metrics.Manager
	Readiness *health.Manager

	loader   *source.Loader
	logger   *zap.Logger
	shutdown *shutdown.Manager
}

// Assemble wires the domain services over the given components
func Assemble(cfg *config.Config, c Components, logger *zap.Logger) (*Guard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewManager(&cfg.Metrics, logger)
	}

	g := &Guard{
		Config:    cfg,
		Metrics:   c.Metrics,
		Readiness: health.NewManager(cfg.Service.Name, cfg.Logging.ServiceVersion, logger),
		loader:    source.NewLoader(cfg.Migrations.Dir, logger),
		logger:    logger,
	}

	g.Bus = service.NewMonitoringBus(c.Repositories.Events, c.Repositories.Metrics, c.Metrics, cfg.Monitoring, logger)
	for _, hook := range c.EventHooks {
		g.Bus.AddEventHook(hook)
	}
	for _, hook := range c.AlertHooks {
		g.Bus.AddAlertHook(hook)
	}

	g.Audit = service.NewAuditLog(c.Repositories.Runs, c.Repositories.Audit, g.Bus, logger)
	for _, hook := range c.AuditHooks {
		g.Audit.AddHook(hook)
	}

	g.Backups = service.NewBackupManager(c.Repositories.Backups, c.BackupStore, c.Inspector, cfg.Backup.Retention, g.Bus, g.Audit, logger)

	g.Rollback = service.NewRollbackEngine(service.RollbackDependencies{
		Backups:    g.Backups,
		Audit:      g.Audit,
		Bus:        g.Bus,
		Executions: c.Repositories.Rollback,
		Inspector:  c.Inspector,
		Runner:     c.Runner,
		Restorer:   c.Restorer,
		Locker:     c.Locker,
	}, cfg.Rollback, logger)

	g.Health = service.NewHealthAggregator(c.Repositories.Health, c.Probe, g.Bus, cfg.Health, logger)
	if c.Probe != nil {
		g.Health.Register(service.NewDatabaseCheck(c.Probe))
	}
	g.Health.Register(service.NewMigrationCheck(g.Audit, g.Backups))
	g.Health.Register(service.NewSecurityCheck(c.Inspector, g.Audit))
	g.Health.Register(service.NewPerformanceCheck(g.Bus, c.Probe))
	g.Bus.SetHealthProvider(g.Health)

	g.Recovery = service.NewDisasterRecovery(service.DRDependencies{
		Plans:    c.Repositories.Recovery,
		Rollback: g.Rollback,
		Backups:  g.Backups,
		Audit:    g.Audit,
		Bus:      g.Bus,
		Health:   g.Health,
		Runner:   c.Runner,
		Locker:   c.Locker,
	}, cfg.Recovery, logger)

	g.Executor = service.NewExecutor(service.ExecutorDependencies{
		Audit:     g.Audit,
		Backups:   g.Backups,
		Bus:       g.Bus,
		Rollback:  g.Rollback,
		Inspector: c.Inspector,
		Runner:    c.Runner,
		Locker:    c.Locker,
	}, cfg.Executor, logger)

	for name, pinger := range c.Pingers {
		if err := g.Readiness.RegisterCheck(&health.CheckConfig{Name: name, Critical: name == "postgres"}, health.PingCheck(name, pinger)); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// New connects every dependency named by cfg and assembles a Guard. The
// caller must Close it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (g *Guard, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	closers := shutdown.New(logger)
	defer func() {
		if err != nil {
			_ = closers.Shutdown(context.Background())
		}
	}()

	pg, err := sharedpg.NewClient(ctx, &cfg.Database.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	closers.Add(shutdown.CloserHook("postgres", shutdown.PriorityDatabase, pg))

	inspector := pgstore.NewInspector(pg, cfg.Database.Schema)
	c := Components{
		Inspector: inspector,
		Runner:    pgstore.NewRunner(pg),
		Restorer:  pgstore.NewRestorer(pg, inspector),
		Probe:     inspector,
		Metrics:   metrics.NewManager(&cfg.Metrics, logger),
		Pingers:   map[string]health.Pinger{"postgres": inspector},
	}

	switch cfg.Database.Store {
	case config.StoreMemory:
		logger.Warn("Tracking state is kept in memory and is lost on exit")
		c.Repositories = memory.NewRepositories()
	default:
		if err := pgstore.EnsureSchema(ctx, pg, logger); err != nil {
			return nil, err
		}
		c.Repositories = pgstore.NewRepositories(pg)
	}

	var rdb *redis.Client
	connectRedis := func() (*redis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		client, err := redis.NewClient(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		rdb = client
		closers.Add(shutdown.CloserHook("redis", shutdown.PriorityStore, client))
		c.Pingers["redis"] = client
		return client, nil
	}

	switch cfg.Lock.Provider {
	case "redis":
		client, err := connectRedis()
		if err != nil {
			return nil, err
		}
		c.Locker = lock.NewRedisLocker(client.Cmdable(), cfg.Lock.KeyPrefix, cfg.Lock.TTL, logger)
	case "consul":
		client, err := lock.NewConsulClient(cfg.Lock.Consul)
		if err != nil {
			return nil, err
		}
		c.Locker = lock.NewConsulLocker(client, cfg.Lock.KeyPrefix, cfg.Lock.TTL, logger)
	case "memory":
		c.Locker = lock.NewMemoryLocker()
	default:
		c.Locker = lock.NewPostgresLocker(pg, logger)
	}

	switch cfg.Backup.Backend {
	case "mongodb":
		client, err := mongodb.NewClient(ctx, &cfg.MongoDB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		closers.Add(shutdown.Hook{Name: "mongodb", Priority: shutdown.PriorityStore, Fn: client.Close})
		c.BackupStore = backup.NewMongoStore(client, cfg.Backup.Collection, logger)
	case "memory":
		c.BackupStore = backup.NewMemoryStore()
	default:
		store, err := backup.NewLocalStore(cfg.Backup.Path, logger)
		if err != nil {
			return nil, err
		}
		c.BackupStore = store
	}

	if cfg.Sinks.Kafka.Enabled {
		publisher, err := messaging.NewKafkaPublisher(cfg.Sinks.Kafka.KafkaConfig, logger)
		if err != nil {
			return nil, err
		}
		closers.Add(shutdown.CloserHook("kafka", shutdown.PrioritySink, publisher))
		c.EventHooks = append(c.EventHooks, publisher)
		c.AlertHooks = append(c.AlertHooks, publisher)
		c.AuditHooks = append(c.AuditHooks, publisher)
	}

	if cfg.Sinks.Elasticsearch.Enabled {
		esConfig := cfg.Sinks.Elasticsearch.Config
		client, err := elasticsearch.NewClient(ctx, &esConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
		}
		closers.Add(shutdown.CloserHook("elasticsearch", shutdown.PrioritySink, client))
		sink := search.NewSink(client, &esConfig, logger)
		if err := sink.EnsureTemplates(ctx); err != nil {
			logger.Warn("Failed to install elasticsearch templates", zap.Error(err))
		}
		c.EventHooks = append(c.EventHooks, sink)
		c.AlertHooks = append(c.AlertHooks, sink)
		c.AuditHooks = append(c.AuditHooks, sink)
		c.Pingers["elasticsearch"] = client
	}

	g, err = Assemble(cfg, c, logger)
	if err != nil {
		return nil, err
	}
	g.shutdown = closers

	if err := g.EnsureCatalog(ctx); err != nil {
		return nil, err
	}

	logger.Info("Migration guard ready",
		zap.String("store", cfg.Database.Store),
		zap.String("lock_provider", cfg.Lock.Provider),
		zap.String("backup_backend", cfg.Backup.Backend),
		zap.Bool("kafka", cfg.Sinks.Kafka.Enabled),
		zap.Bool("elasticsearch", cfg.Sinks.Elasticsearch.Enabled))
	return g, nil
}

// EnsureCatalog installs recovery plans when none are stored: the configured
// catalogue file when set, the built-in catalogue otherwise
func (g *Guard) EnsureCatalog(ctx context.Context) error {
	plans, err := g.Recovery.Plans(ctx)
	if err != nil {
		return err
	}
	if len(plans) > 0 {
		return nil
	}

	ec := entity.SystemContext()
	if path := g.Config.Migrations.Catalog; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read recovery catalogue: %w", err)
		}
		installed, err := g.Recovery.LoadCatalog(ctx, ec, data)
		if err != nil {
			return err
		}
		g.logger.Info("Recovery catalogue installed", zap.String("file", path), zap.Int("plans", len(installed)))
		return nil
	}

	installed, err := g.Recovery.InstallDefaultCatalog(ctx, ec)
	if err != nil {
		return err
	}
	g.logger.Info("Default recovery catalogue installed", zap.Int("plans", len(installed)))
	return nil
}

// Units loads the migration units from the configured directory
func (g *Guard) Units() ([]entity.MigrationUnit, error) {
	units, err := g.loader.Load()
	if err != nil {
		return nil, common.NewAppErrorWithCause(common.ErrCodeValidationFailed, "failed to load migrations", err)
	}
	return units, nil
}

// Unit returns the unit of version, or nil when the directory has none
func (g *Guard) Unit(version string) (*entity.MigrationUnit, error) {
	units, err := g.Units()
	if err != nil {
		return nil, err
	}
	for i := range units {
		if units[i].Version == version {
			return &units[i], nil
		}
	}
	return nil, nil
}

// Apply runs every pending unit of the migration directory
func (g *Guard) Apply(ctx context.Context, ec entity.ExecutionContext) (*service.ApplyReport, error) {
	units, err := g.Units()
	if err != nil {
		return nil, err
	}
	return g.Executor.Apply(ctx, ec, units)
}

// Pending lists the units not yet applied
func (g *Guard) Pending(ctx context.Context) ([]entity.MigrationUnit, error) {
	units, err := g.Units()
	if err != nil {
		return nil, err
	}
	return g.Executor.Pending(ctx, units)
}

// RollbackRequest asks for a rollback of one version
type RollbackRequest struct {
	Version     string
	BackupID    uuid.UUID
	DryRun      bool
	AutoApprove bool
	Reason      string
}

// RollbackVersion plans and executes a rollback. The unit is read from the
// migration directory so that down scripts are preferred over a schema
// restore; a directory without the version falls back to the snapshot.
func (g *Guard) RollbackVersion(ctx context.Context, ec entity.ExecutionContext, req RollbackRequest) (*entity.RollbackPlan, *entity.RollbackExecution, error) {
	unit, err := g.Unit(req.Version)
	if err != nil {
		g.logger.Warn("Rolling back without the migration source", zap.String("version", req.Version), zap.Error(err))
		unit = nil
	}

	plan, err := g.Rollback.GeneratePlan(ctx, ec, service.PlanRequest{
		Version:  req.Version,
		BackupID: req.BackupID,
		Unit:     unit,
	})
	if err != nil {
		return nil, nil, err
	}

	execution, err := g.Rollback.Execute(ctx, ec, plan, service.ExecuteOptions{
		DryRun:      req.DryRun,
		AutoApprove: req.AutoApprove,
		Reason:      req.Reason,
	})
	return plan, execution, err
}

// Close flushes the sinks and then releases every connection
func (g *Guard) Close(ctx context.Context) error {
	if g.shutdown == nil {
		return nil
	}
	return g.shutdown.Shutdown(ctx)
}
