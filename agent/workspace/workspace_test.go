package workspace

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStore(client, RedisStoreConfig{KeyPrefix: "test:"})
}

// storeCases runs f against every Store implementation.
func storeCases(t *testing.T, f func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { f(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		_, store := setupTestRedis(t)
		f(t, store)
	})
}

func TestWorkspace_LastWriterWinsWithAttribution(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		ws := New("req-1", store, zap.NewNop())

		_, err := ws.Write(ctx, "k", "1", "agent-a")
		require.NoError(t, err)
		_, err = ws.Write(ctx, "k", "2", "agent-b")
		require.NoError(t, err)

		v, ok, err := ws.Read(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "2", v)

		e, _, err := ws.Entry(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "agent-b", e.Writer)

		hist, err := ws.History(ctx, "k")
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, "agent-a", hist[0].Writer)
		assert.Less(t, hist[0].Version, hist[1].Version)

		_, ok, err = ws.Read(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestWorkspace_SnapshotAndClose(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		ws := New("req-2", store, nil)
		_, _ = ws.Write(ctx, "a", "1", "x")
		_, _ = ws.Write(ctx, "b", "2", "y")

		snap, err := ws.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "2"}, snap)

		require.NoError(t, ws.Close(ctx))
		require.NoError(t, ws.Close(ctx))
		_, err = ws.Write(ctx, "a", "3", "x")
		assert.ErrorIs(t, err, ErrClosed)

		all, err := store.All(ctx, "req-2")
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestWorkspace_RequestsIsolated(t *testing.T) {
	storeCases(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		a := New("req-a", store, nil)
		b := New("req-b", store, nil)
		_, _ = a.Write(ctx, "k", "from-a", "x")

		_, ok, err := b.Read(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestWorkspace_ConcurrentWritersSameKey(t *testing.T) {
	ctx := context.Background()
	ws := New("req", NewMemoryStore(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = ws.Write(ctx, "k", fmt.Sprint(i), fmt.Sprintf("agent-%d", i))
			_, _, _ = ws.Read(ctx, "k")
		}(i)
	}
	wg.Wait()

	hist, err := ws.History(ctx, "k")
	require.NoError(t, err)
	require.Len(t, hist, 50)
	final, _, _ := ws.Entry(ctx, "k")
	assert.Equal(t, hist[len(hist)-1], final, "the current value is the last serialized write")
}

func TestDirectView_SequentialVisibility(t *testing.T) {
	ctx := context.Background()
	ws := New("req", nil, nil)

	for i, agent := range []string{"c1", "c2", "c3"} {
		v := NewDirectView(ws, agent)
		if i > 0 {
			prev, ok, err := v.Read(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok, "later siblings see earlier writes")
			assert.Equal(t, fmt.Sprint(i), prev)
		}
		require.NoError(t, v.Write(ctx, "k", fmt.Sprint(i+1)))
	}

	v, _, _ := ws.Read(ctx, "k")
	assert.Equal(t, "3", v)
}

func TestOverlayView_IsolationAndCommit(t *testing.T) {
	ctx := context.Background()
	ws := New("req", nil, nil)
	_, _ = ws.Write(ctx, "shared", "base", "root")

	snap, err := ws.Snapshot(ctx)
	require.NoError(t, err)
	a := NewOverlayView(ws, "a", snap)
	b := NewOverlayView(ws, "b", snap)

	require.NoError(t, a.Write(ctx, "shared", "from-a"))
	require.NoError(t, a.Write(ctx, "only-a", "x"))

	// b sees only the spawn-time snapshot
	v, _, _ := b.Read(ctx, "shared")
	assert.Equal(t, "base", v)
	_, ok, _ := b.Read(ctx, "only-a")
	assert.False(t, ok)

	// a reads its own writes; nothing is shared yet
	v, _, _ = a.Read(ctx, "shared")
	assert.Equal(t, "from-a", v)
	v, _, _ = ws.Read(ctx, "shared")
	assert.Equal(t, "base", v)
	assert.Equal(t, 2, a.Pending())

	require.NoError(t, b.Write(ctx, "shared", "from-b"))
	require.NoError(t, a.Commit(ctx))
	require.NoError(t, b.Commit(ctx))

	v, _, _ = ws.Read(ctx, "shared")
	assert.Equal(t, "from-b", v, "last commit wins")
	e, _, _ := ws.Entry(ctx, "only-a")
	assert.Equal(t, "a", e.Writer)
	assert.Equal(t, 0, a.Pending())

	view, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "base", view["shared"], "snapshot view is still the spawn-time base")
}

func TestOverlayView_Discard(t *testing.T) {
	ctx := context.Background()
	ws := New("req", nil, nil)
	v := NewOverlayView(ws, "a", nil)
	require.NoError(t, v.Write(ctx, "k", "x"))
	v.Discard()
	require.NoError(t, v.Commit(ctx))

	_, ok, _ := ws.Read(ctx, "k")
	assert.False(t, ok)
}

func TestViews_Layered(t *testing.T) {
	ctx := context.Background()
	ws := New("req", nil, nil)
	root := NewDirectView(ws, "root")

	mid := NewOverlayView(root, "mid", nil)
	leaf := NewDirectView(mid, "leaf")
	require.NoError(t, leaf.Write(ctx, "k", "deep"))

	v, ok, err := mid.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok, "the overlay sees writes made through views stacked on it")
	assert.Equal(t, "deep", v)
	_, ok, _ = root.Read(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, mid.Commit(ctx))
	e, ok, err := ws.Entry(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "deep", e.Value)
	assert.Equal(t, "leaf", e.Writer, "the original writer survives the commit")

	failed := NewOverlayView(root, "failed", nil)
	require.NoError(t, NewDirectView(failed, "orphan").Write(ctx, "gone", "x"))
	failed.Discard()
	_, ok, _ = ws.Read(ctx, "gone")
	assert.False(t, ok)
}

func TestRedisStore_TTLAndKeys(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "r1", Entry{Key: "k", Value: "v", Writer: "a"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:ws:r1:entries"))
	assert.True(t, mr.Exists("test:ws:r1:hist:k"))
	assert.Positive(t, mr.TTL("test:ws:r1:entries"))

	require.NoError(t, store.Drop(ctx, "r1"))
	assert.False(t, mr.Exists("test:ws:r1:entries"))
	assert.False(t, mr.Exists("test:ws:r1:hist:k"))
}
