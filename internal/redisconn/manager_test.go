package redisconn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T, interval time.Duration) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = interval
	m, err := NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestNewManager_PingAndClient(t *testing.T) {
	_, m := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Ping(ctx))
	require.NoError(t, m.Client().Set(ctx, "agenttree:probe", "1", time.Minute).Err())
	v, err := m.Client().Get(ctx, "agenttree:probe").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	assert.GreaterOrEqual(t, m.Stats().TotalConns, uint32(1))
}

func TestNewManager_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.MaxRetries = 0
	_, err := NewManager(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestManager_PingFailsAfterServerGone(t *testing.T) {
	mr, m := setupTestRedis(t, 0)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, m.Ping(ctx))
}

func TestManager_CloseIdempotent(t *testing.T) {
	_, m := setupTestRedis(t, 10*time.Millisecond)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.ErrorContains(t, m.Ping(context.Background()), "closed")
}
