package risk

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursegate/pkg/observability"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	return Config{Threshold: 3, Window: 15 * time.Minute, FailOpen: true}
}

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "user:alice@gmail.com", UserIdentifier("  Alice@Gmail.com "))
	assert.Equal(t, "ip:203.0.113.7", IPIdentifier("203.0.113.7"))
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(NewMemoryStore(), Config{}, nil, nil)
	assert.Equal(t, 5, c.Threshold())
	assert.Equal(t, 15*time.Minute, c.cfg.Window)
}

func TestController_BlocksAtThreshold(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	c := NewController(NewRedisStore(client, ""), testConfig(), nil, nil)
	id := UserIdentifier("mallory@example.com")

	status := c.Status(ctx, id)
	assert.Equal(t, int64(0), status.Attempts)
	assert.Equal(t, int64(3), status.Remaining)
	assert.False(t, status.Blocked)

	assert.Equal(t, int64(1), c.RecordFailure(ctx, id))
	assert.Equal(t, int64(2), c.RecordFailure(ctx, id))
	assert.False(t, c.Status(ctx, id).Blocked)

	assert.Equal(t, int64(3), c.RecordFailure(ctx, id))
	status = c.Status(ctx, id)
	assert.Equal(t, int64(3), status.Attempts)
	assert.Equal(t, int64(0), status.Remaining)
	assert.True(t, status.Blocked)
	assert.Equal(t, 3, status.Threshold)
	assert.Greater(t, status.ResetIn, time.Duration(0))
}

func TestController_StatusIsReadOnly(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	c := NewController(NewRedisStore(client, ""), testConfig(), nil, nil)
	id := IPIdentifier("198.51.100.2")

	c.RecordFailure(ctx, id)
	for i := 0; i < 5; i++ {
		assert.Equal(t, int64(1), c.Status(ctx, id).Attempts)
	}
}

func TestController_AttemptsNeverDecreaseWithinWindow(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	c := NewController(NewRedisStore(client, ""), testConfig(), nil, nil)
	id := UserIdentifier("eve@example.com")

	var last int64
	for i := 0; i < 6; i++ {
		c.RecordFailure(ctx, id)
		mr.FastForward(time.Minute)
		attempts := c.Status(ctx, id).Attempts
		assert.GreaterOrEqual(t, attempts, last)
		last = attempts
	}
	assert.Equal(t, int64(6), last)
}

func TestController_WindowStartsAtFirstFailure(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	c := NewController(NewRedisStore(client, ""), testConfig(), nil, nil)
	id := UserIdentifier("eve@example.com")

	c.RecordFailure(ctx, id)
	mr.FastForward(10 * time.Minute)
	c.RecordFailure(ctx, id)

	// The second failure must not push the expiry out.
	assert.Equal(t, 5*time.Minute, mr.TTL("login_attempts:"+id))

	mr.FastForward(5 * time.Minute)
	assert.Equal(t, int64(0), c.Status(ctx, id).Attempts)

	assert.Equal(t, int64(1), c.RecordFailure(ctx, id))
	assert.Equal(t, 15*time.Minute, mr.TTL("login_attempts:"+id))
}

func TestController_Clear(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c := NewController(NewRedisStore(client, ""), testConfig(), nil, metrics)
	id := UserIdentifier("bob@partner.org")

	for i := 0; i < 4; i++ {
		c.RecordFailure(ctx, id)
	}
	require.True(t, c.Status(ctx, id).Blocked)

	c.Clear(ctx, id)
	assert.Equal(t, int64(0), c.Status(ctx, id).Attempts)
	assert.False(t, c.Status(ctx, id).Blocked)

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.RiskFailuresRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RiskCountersCleared))
}

func TestController_ConcurrentFailuresAreAllCounted(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()
	c := NewController(NewRedisStore(client, ""), Config{Threshold: 100, Window: time.Minute}, nil, nil)
	id := IPIdentifier("192.0.2.10")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordFailure(ctx, id)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Status(ctx, id).Attempts)
}

func TestController_StoreUnavailable(t *testing.T) {
	t.Run("fail open reports zero attempts", func(t *testing.T) {
		mr, client := setupRedis(t)
		mr.Close()

		var buf bytes.Buffer
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		c := NewController(NewRedisStore(client, ""), testConfig(), observability.NewLogger(observability.InfoLevel, &buf), metrics)
		ctx := context.Background()
		id := UserIdentifier("alice@gmail.com")

		assert.Equal(t, int64(0), c.RecordFailure(ctx, id))
		status := c.Status(ctx, id)
		assert.Equal(t, int64(0), status.Attempts)
		assert.False(t, status.Blocked)
		assert.NotPanics(t, func() { c.Clear(ctx, id) })

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RiskStoreErrorsTotal.WithLabelValues("incr")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RiskStoreErrorsTotal.WithLabelValues("get")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RiskStoreErrorsTotal.WithLabelValues("del")))
		assert.Contains(t, buf.String(), "login risk store error")
	})

	t.Run("fail closed reports blocked", func(t *testing.T) {
		mr, client := setupRedis(t)
		mr.Close()

		cfg := testConfig()
		cfg.FailOpen = false
		c := NewController(NewRedisStore(client, ""), cfg, nil, nil)

		status := c.Status(context.Background(), UserIdentifier("alice@gmail.com"))
		assert.True(t, status.Blocked)
		assert.Equal(t, int64(3), status.Attempts)
	})
}

func TestController_MemoryStore(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := context.Background()
	c := NewController(store, testConfig(), nil, nil)
	id := UserIdentifier("mallory@example.com")

	for i := 0; i < 3; i++ {
		c.RecordFailure(ctx, id)
	}
	status := c.Status(ctx, id)
	assert.True(t, status.Blocked)
	assert.Equal(t, 15*time.Minute, status.ResetIn)

	now = now.Add(15 * time.Minute)
	assert.False(t, c.Status(ctx, id).Blocked)
	assert.Equal(t, int64(1), c.RecordFailure(ctx, id))
}
