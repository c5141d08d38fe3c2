package risk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IncrGetDel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	n, err := store.Incr(ctx, "user:a@b.c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, _ = store.Incr(ctx, "user:a@b.c", time.Minute)
	assert.Equal(t, int64(2), n)

	count, ttl, err := store.Get(ctx, "user:a@b.c")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Del(ctx, "user:a@b.c"))
	count, ttl, _ = store.Get(ctx, "user:a@b.c")
	assert.Zero(t, count)
	assert.Zero(t, ttl)
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = store.Incr(ctx, fmt.Sprintf("ip:10.0.0.%d", i), time.Minute)
	}
	_, _ = store.Incr(ctx, "ip:10.0.1.1", time.Hour)
	require.Equal(t, 11, store.Len())

	assert.Equal(t, 0, store.Sweep())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 10, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.Incr(ctx, fmt.Sprintf("user:%d", i%4), time.Minute)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		count, _, err := store.Get(ctx, fmt.Sprintf("user:%d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(25), count)
	}
}

func TestNewSweeper(t *testing.T) {
	store := NewMemoryStore()

	c, err := NewSweeper(store, "@every 1m", nil)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = NewSweeper(store, "not a schedule", nil)
	assert.Error(t, err)
}
