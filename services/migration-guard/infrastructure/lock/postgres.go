package lock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
)

// PostgresLocker uses session-level advisory locks. Each lease pins a
// dedicated connection because the lock belongs to the session.
type PostgresLocker struct {
	client *postgres.Client
	logger *zap.Logger
}

// NewPostgresLocker creates an advisory locker on client
func NewPostgresLocker(client *postgres.Client, logger *zap.Logger) *PostgresLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLocker{client: client, logger: logger.Named("pg_lock")}
}

// AdvisoryKey maps a lock name onto the bigint key space of pg advisory locks
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// TryAcquire implements repository.Locker with pg_try_advisory_lock
func (l *PostgresLocker) TryAcquire(ctx context.Context, name string) (repository.Lease, bool, error) {
	conn, err := l.client.Conn(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to reserve lock connection")
	}

	key := AdvisoryKey(name)
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, errors.Wrapf(err, "failed to try advisory lock %s", name)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	l.logger.Debug("Advisory lock acquired", zap.String("lock", name), zap.Int64("key", key))
	return &pgLease{name: name, key: key, conn: conn, logger: l.logger}, true, nil
}

type pgLease struct {
	name   string
	key    int64
	conn   *sql.Conn
	logger *zap.Logger
	once   sync.Once
	err    error
}

func (p *pgLease) Name() string { return p.name }

func (p *pgLease) Release(ctx context.Context) error {
	p.once.Do(func() {
		defer p.conn.Close()
		var released bool
		if err := p.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, p.key).Scan(&released); err != nil {
			p.err = errors.Wrapf(err, "failed to release advisory lock %s", p.name)
			return
		}
		if !released {
			p.logger.Warn("Advisory lock was not held at release", zap.String("lock", p.name))
		}
	})
	return p.err
}
