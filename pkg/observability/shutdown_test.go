package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)

	var order []string
	for _, name := range []string{"postgres", "redis", "http"} {
		name := name
		sm.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"http", "redis", "postgres"}, order)
}

func TestShutdownManager_JoinsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)
	boom := errors.New("boom")
	ran := false

	sm.Register("first", func(context.Context) error { ran = true; return nil })
	sm.Register("second", func(context.Context) error { return boom })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "second")
	assert.True(t, ran, "later hook failure must not skip earlier hooks")
}

func TestShutdownManager_OnlyOnce(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 0)
	calls := 0
	sm.Register("counter", func(context.Context) error { calls++; return nil })

	require.NoError(t, sm.Shutdown(context.Background()))
	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestShutdownManager_Deadline(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 10*time.Millisecond)
	sm.Register("skipped", func(context.Context) error { return nil })
	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "skipped")
}

func TestRecoverPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverPanic(NewNopLogger(), "test")
		panic("kaboom")
	})

	var got interface{}
	func() {
		defer RecoverPanicWithCallback(NewNopLogger(), "test", func(r interface{}) { got = r })
		panic("again")
	}()
	assert.Equal(t, "again", got)

	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("bad"), "panic: bad")
}
