package lock

import (
	"context"
	"sync"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
)

// MemoryLocker holds locks in process memory. It serialises callers of one
// process only.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]*memoryLease
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]*memoryLease)}
}

// TryAcquire implements repository.Locker
func (l *MemoryLocker) TryAcquire(ctx context.Context, name string) (repository.Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return nil, false, nil
	}
	lease := &memoryLease{name: name, locker: l}
	l.held[name] = lease
	return lease, true, nil
}

// Held reports whether name is currently locked
func (l *MemoryLocker) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[name]
	return ok
}

type memoryLease struct {
	name   string
	locker *MemoryLocker
	once   sync.Once
}

func (m *memoryLease) Name() string { return m.name }

func (m *memoryLease) Release(ctx context.Context) error {
	m.once.Do(func() {
		m.locker.mu.Lock()
		defer m.locker.mu.Unlock()
		if m.locker.held[m.name] == m {
			delete(m.locker.held, m.name)
		}
	})
	return nil
}
