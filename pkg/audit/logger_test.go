package audit

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursegate/pkg/observability"
)

type captureLogger struct {
	entries []*Entry
	err     error
}

func (c *captureLogger) Log(_ context.Context, entry *Entry) error {
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, entry)
	return nil
}

func TestRecorder_Record(t *testing.T) {
	capture := &captureLogger{}
	recorder := NewRecorder(capture, nil, nil)

	ctx := observability.WithRequestID(context.Background(), "req-1")
	recorder.Record(ctx, EventLoginSuccess, "login ok", Details{
		Identifier: "a@uni.edu",
		UserID:     "subject-1",
		Path:       "/auth/callback",
		Metadata:   map[string]interface{}{"verdict": "institutional"},
	})

	require.Len(t, capture.entries, 1)
	entry := capture.entries[0]
	assert.Equal(t, EventLoginSuccess, entry.EventType)
	assert.Equal(t, "subject-1", entry.UserRef)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "institutional", entry.Metadata["verdict"])
}

func TestRecorder_FailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	recorder := NewRecorder(&captureLogger{err: errors.New("db down")}, observability.NewLogger(observability.InfoLevel, &buf), metrics)

	assert.NotPanics(t, func() {
		recorder.Record(context.Background(), EventLogoutSuccess, "bye", Details{Identifier: "a@uni.edu"})
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditWriteFailuresTotal.WithLabelValues("LOGOUT_SUCCESS")))
	assert.Contains(t, buf.String(), "failed to write auth log")
	assert.Contains(t, buf.String(), "db down")
}

func TestRecorder_DoesNotMutateCallerMetadata(t *testing.T) {
	capture := &captureLogger{}
	recorder := NewRecorder(capture, nil, nil)
	meta := map[string]interface{}{"k": "v"}

	recorder.Record(observability.WithRequestID(context.Background(), "r"), EventProfileAccessed, "", Details{Metadata: meta})

	assert.Len(t, meta, 1)
}

func TestNewRecorder_NilLogger(t *testing.T) {
	recorder := NewRecorder(nil, nil, nil)
	assert.NotPanics(t, func() {
		recorder.Record(context.Background(), EventLoginFailure, "", Details{})
	})
}
