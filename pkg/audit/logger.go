package audit

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/coursegate/pkg/observability"
)

var (
	// ErrUnknownEventType is returned for event types outside the closed set
	ErrUnknownEventType = errors.New("unknown auth event type")
)

// Logger persists auth log entries
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
}

// Store queries persisted auth log entries
type Store interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, error)
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error)
}

// NoOpLogger discards entries
type NoOpLogger struct{}

// Log implements Logger
func (NoOpLogger) Log(context.Context, *Entry) error { return nil }

// Details carries the optional fields of an auth event
type Details struct {
	Identifier string
	UserID     string
	Path       string
	Metadata   map[string]interface{}
}

// Recorder is the write path used by the gateway. Record never fails: a
// write error is logged and counted, and the caller carries on.
type Recorder struct {
	logger  Logger
	ops     *observability.Logger
	metrics *observability.Metrics
}

// NewRecorder creates a recorder over logger. metrics may be nil.
func NewRecorder(logger Logger, ops *observability.Logger, metrics *observability.Metrics) *Recorder {
	if logger == nil {
		logger = NoOpLogger{}
	}
	if ops == nil {
		ops = observability.NewNopLogger()
	}
	return &Recorder{logger: logger, ops: ops, metrics: metrics}
}

// Record writes one auth event
func (r *Recorder) Record(ctx context.Context, eventType EventType, message string, d Details) {
	if r == nil {
		return
	}
	metadata := make(map[string]interface{}, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		metadata[k] = v
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	entry := &Entry{
		EventType:  eventType,
		Message:    message,
		Identifier: d.Identifier,
		UserRef:    d.UserID,
		Path:       d.Path,
		Metadata:   metadata,
	}

	if err := r.logger.Log(ctx, entry); err != nil {
		r.metrics.RecordAuditWriteFailure(string(eventType))
		r.ops.WithError(err).WithFields(map[string]interface{}{
			"event_type": string(eventType),
			"identifier": d.Identifier,
		}).Error("failed to write auth log")
	}
}
