package lock

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
)

// ConsulLocker implements locks as consul sessions that try exactly once
type ConsulLocker struct {
	client *api.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewConsulClient creates a consul API client from config
func NewConsulClient(config ConsulConfig) (*api.Client, error) {
	cfg := api.DefaultConfig()
	if config.Address != "" {
		cfg.Address = config.Address
	}
	cfg.Datacenter = config.Datacenter
	cfg.Token = config.Token
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create consul client")
	}
	return client, nil
}

// NewConsulLocker creates a consul locker
func NewConsulLocker(client *api.Client, prefix string, ttl time.Duration, logger *zap.Logger) *ConsulLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl < 10*time.Second {
		// consul rejects session TTLs below 10s
		ttl = 10 * time.Second
	}
	return &ConsulLocker{client: client, prefix: prefix, ttl: ttl, logger: logger.Named("consul_lock")}
}

// TryAcquire implements repository.Locker
func (l *ConsulLocker) TryAcquire(ctx context.Context, name string) (repository.Lease, bool, error) {
	lock, err := l.client.LockOpts(&api.LockOptions{
		Key:          l.prefix + name,
		SessionName:  "migration-guard " + name,
		SessionTTL:   l.ttl.String(),
		LockTryOnce:  true,
		LockWaitTime: time.Second,
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to prepare consul lock %s", name)
	}

	lost, err := lock.Lock(ctx.Done())
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to acquire consul lock %s", name)
	}
	if lost == nil {
		return nil, false, nil
	}

	go func() {
		<-lost
		l.logger.Debug("Consul lock session ended", zap.String("lock", name))
	}()
	return &consulLease{name: name, lock: lock}, true, nil
}

type consulLease struct {
	name string
	lock *api.Lock
	once sync.Once
	err  error
}

func (c *consulLease) Name() string { return c.name }

func (c *consulLease) Release(ctx context.Context) error {
	c.once.Do(func() {
		if err := c.lock.Unlock(); err != nil && err != api.ErrLockNotHeld {
			c.err = errors.Wrapf(err, "failed to release consul lock %s", c.name)
		}
	})
	return c.err
}
