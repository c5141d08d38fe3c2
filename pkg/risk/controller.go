package risk

import (
	"context"
	"strings"
	"time"

	"github.com/platinummonkey/coursegate/pkg/observability"
)

// Config holds the blocking policy
type Config struct {
	// Threshold is the attempt count at which an identifier is blocked
	Threshold int
	// Window is the counter lifetime, starting at the first failure
	Window time.Duration
	// FailOpen treats an unreachable store as zero attempts. When false the
	// identifier is reported blocked instead.
	FailOpen bool
}

// DefaultConfig returns 5 attempts per 15 minutes, failing open
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Window:    15 * time.Minute,
		FailOpen:  true,
	}
}

// Status is a point-in-time view of one identifier's counter
type Status struct {
	Attempts  int64         `json:"attempts"`
	Remaining int64         `json:"remaining"`
	Blocked   bool          `json:"blocked"`
	Threshold int           `json:"threshold"`
	ResetIn   time.Duration `json:"-"`
}

// Controller applies the blocking rule over a Store
type Controller struct {
	store   Store
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewController creates a controller. logger and metrics may be nil.
func NewController(store Store, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Controller {
	defaults := DefaultConfig()
	if cfg.Threshold < 1 {
		cfg.Threshold = defaults.Threshold
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Controller{store: store, cfg: cfg, logger: logger, metrics: metrics}
}

// UserIdentifier returns the counter identifier for an email
func UserIdentifier(email string) string {
	return "user:" + strings.ToLower(strings.TrimSpace(email))
}

// IPIdentifier returns the counter identifier for a network address
func IPIdentifier(addr string) string {
	return "ip:" + addr
}

// Status reports attempts and whether id is blocked. It does not modify the
// counter.
func (c *Controller) Status(ctx context.Context, id string) Status {
	count, ttl, err := c.store.Get(ctx, id)
	if err != nil {
		c.storeError(ctx, "get", id, err)
		if c.cfg.FailOpen {
			return c.status(0, 0)
		}
		return c.status(int64(c.cfg.Threshold), 0)
	}
	return c.status(count, ttl)
}

// RecordFailure counts one failed attempt and returns the new total. On a
// store error it returns 0.
func (c *Controller) RecordFailure(ctx context.Context, id string) int64 {
	count, err := c.store.Incr(ctx, id, c.cfg.Window)
	if err != nil {
		c.storeError(ctx, "incr", id, err)
		return 0
	}
	c.metrics.RecordRiskFailure()
	if count == int64(c.cfg.Threshold) {
		c.logger.WithFields(map[string]interface{}{
			"identifier": id,
			"attempts":   count,
		}).Warn("login attempts reached block threshold")
	}
	return count
}

// Clear resets the counter for id
func (c *Controller) Clear(ctx context.Context, id string) {
	if err := c.store.Del(ctx, id); err != nil {
		c.storeError(ctx, "del", id, err)
		return
	}
	c.metrics.RecordRiskClear()
}

// Threshold returns the configured block threshold
func (c *Controller) Threshold() int {
	return c.cfg.Threshold
}

func (c *Controller) status(attempts int64, ttl time.Duration) Status {
	remaining := int64(c.cfg.Threshold) - attempts
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Attempts:  attempts,
		Remaining: remaining,
		Blocked:   attempts >= int64(c.cfg.Threshold),
		Threshold: c.cfg.Threshold,
		ResetIn:   ttl,
	}
}

func (c *Controller) storeError(ctx context.Context, op, id string, err error) {
	c.metrics.RecordRiskStoreError(op)
	c.logger.WithError(err).WithFields(map[string]interface{}{
		"operation":  op,
		"identifier": id,
		"fail_open":  c.cfg.FailOpen,
		"request_id": observability.GetRequestID(ctx),
	}).Error("login risk store error")
}
