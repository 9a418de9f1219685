package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
)

// releaseScript deletes the key only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the key only while it still carries our token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker implements locks with SET NX PX and a token-checked release.
// Held leases are refreshed at a third of the TTL.
type RedisLocker struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a redis locker
func NewRedisLocker(rdb redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl < time.Second {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger.Named("redis_lock")}
}

// TryAcquire implements repository.Locker
func (l *RedisLocker) TryAcquire(ctx context.Context, name string) (repository.Lease, bool, error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to acquire redis lock %s", name)
	}
	if !ok {
		return nil, false, nil
	}

	lease := &redisLease{name: name, key: key, token: token, locker: l, stop: make(chan struct{})}
	go lease.keepAlive()
	return lease, true, nil
}

type redisLease struct {
	name   string
	key    string
	token  string
	locker *RedisLocker
	stop   chan struct{}
	once   sync.Once
	err    error
}

func (r *redisLease) Name() string { return r.name }

func (r *redisLease) keepAlive() {
	ticker := time.NewTicker(r.locker.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.locker.ttl/3)
			res, err := refreshScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token, r.locker.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.locker.logger.Warn("Failed to refresh redis lock", zap.String("lock", r.name), zap.Error(err))
				continue
			}
			if res == 0 {
				r.locker.logger.Error("Redis lock lost", zap.String("lock", r.name))
				return
			}
		}
	}
}

func (r *redisLease) Release(ctx context.Context) error {
	r.once.Do(func() {
		close(r.stop)
		if err := releaseScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token).Err(); err != nil {
			r.err = errors.Wrapf(err, "failed to release redis lock %s", r.name)
		}
	})
	return r.err
}
