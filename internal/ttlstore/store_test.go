package ttlstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDelete(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Delete(ctx, "k"), "deleting absent key is fine")
}

func TestMemory_Expiry(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	current := time.Now()
	m.now = func() time.Time { return current }

	require.NoError(t, m.Set(ctx, "short", []byte("v"), time.Minute))
	require.NoError(t, m.Set(ctx, "forever", []byte("v"), 0))

	current = current.Add(2 * time.Minute)

	_, ok, err := m.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must be gone")

	_, ok, err = m.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok, "no-ttl entry must survive")
}

func TestMemory_SweepOnSet(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	current := time.Now()
	m.now = func() time.Time { return current }

	require.NoError(t, m.Set(ctx, "stale", []byte("v"), time.Second))
	current = current.Add(time.Hour)
	require.NoError(t, m.Set(ctx, "fresh", []byte("v"), time.Minute))

	m.mu.Lock()
	_, stale := m.entries["stale"]
	m.mu.Unlock()
	assert.False(t, stale, "stale entry should be swept on write")
}

func TestRedis_SetGetDelete(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, "test")
	ctx := context.Background()

	_, ok, err := r.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, r.Delete(ctx, "k"))
	_, ok, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Expiry(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, "test")
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
