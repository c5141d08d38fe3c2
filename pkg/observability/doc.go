// Package observability holds the gateway's logging, metrics, tracing and
// health-check plumbing.
//
// Logging is structured JSON through logrus. Handlers pull a request-scoped
// logger with FromContext, which carries the request id and, when a span is
// recording, the trace and span ids:
//
//	observability.FromContext(ctx).WithField("identifier", id).Info("login routed")
//
// Metrics are Prometheus collectors registered on a caller-supplied registry.
// The Record* helpers tolerate a nil *Metrics.
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordLogin("routed", "LOGIN_SUCCESS", elapsed)
//
// Tracing exports OTLP over gRPC when enabled and otherwise leaves the global
// no-op provider in place.
//
// HealthChecker probes postgres and redis. A redis outage is reported as
// degraded unless the risk controller runs fail-closed.
package observability
