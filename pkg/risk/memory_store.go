package risk

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/coursegate/pkg/observability"
)

const stripeCount = 32

type counter struct {
	count     int64
	expiresAt time.Time
}

type stripe struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// MemoryStore is an in-process Store for single-instance deployments.
// Counters are not shared between processes.
type MemoryStore struct {
	stripes [stripeCount]*stripe
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.stripes {
		s.stripes[i] = &stripe{counters: make(map[string]*counter)}
	}
	return s
}

func (s *MemoryStore) stripeFor(key string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.stripes[h.Sum32()%stripeCount]
}

// Incr implements Store
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	st := s.stripeFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := s.now()
	c, ok := st.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(window)}
		st.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, key string) (int64, time.Duration, error) {
	st := s.stripeFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.counters[key]
	if !ok {
		return 0, 0, nil
	}
	remaining := c.expiresAt.Sub(s.now())
	if remaining <= 0 {
		return 0, 0, nil
	}
	return c.count, remaining, nil
}

// Del implements Store
func (s *MemoryStore) Del(_ context.Context, key string) error {
	st := s.stripeFor(key)
	st.mu.Lock()
	delete(st.counters, key)
	st.mu.Unlock()
	return nil
}

// Sweep drops expired counters and returns how many were removed
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	for _, st := range s.stripes {
		st.mu.Lock()
		for key, c := range st.counters {
			if !now.Before(c.expiresAt) {
				delete(st.counters, key)
				removed++
			}
		}
		st.mu.Unlock()
	}
	return removed
}

// Len returns the number of live and not yet swept counters
func (s *MemoryStore) Len() int {
	n := 0
	for _, st := range s.stripes {
		st.mu.Lock()
		n += len(st.counters)
		st.mu.Unlock()
	}
	return n
}

// NewSweeper schedules Sweep on a cron schedule such as "@every 1m". The
// caller starts and stops the returned cron.
func NewSweeper(store *MemoryStore, schedule string, logger *observability.Logger) (*cron.Cron, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(logger, "risk.sweeper")
		if removed := store.Sweep(); removed > 0 {
			logger.WithField("removed", removed).Debug("swept expired login attempt counters")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
