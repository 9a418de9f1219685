package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerIsExclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	lease, ok, err := locker.TryAcquire(ctx, "migration-guard")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "migration-guard", lease.Name())

	_, ok, err = locker.TryAcquire(ctx, "migration-guard")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := locker.TryAcquire(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
	assert.False(t, locker.Held("migration-guard"))

	again, ok, err := locker.TryAcquire(ctx, "migration-guard")
	require.NoError(t, err)
	assert.True(t, ok)

	// a stale lease must not free a newer holder
	require.NoError(t, lease.Release(ctx))
	assert.True(t, locker.Held("migration-guard"))
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLockerHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := NewMemoryLocker().TryAcquire(ctx, "migration-guard")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestAdvisoryKeyIsStable(t *testing.T) {
	assert.Equal(t, AdvisoryKey("migration-guard"), AdvisoryKey("migration-guard"))
	assert.NotEqual(t, AdvisoryKey("migration-guard"), AdvisoryKey("migration-guard-2"))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Provider = "zookeeper"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Provider = "redis"
	cfg.TTL = 100 * time.Millisecond
	assert.Error(t, cfg.Validate())
}
