// Package audit records authentication events in the append-only auth_logs
// table.
//
// The gateway writes through a Recorder, which never returns an error: a
// failed write is reported to the operational log and counted in
// coursegate_audit_write_failures_total, and the login carries on.
//
//	recorder.Record(ctx, audit.EventLoginRejectedDomain, "domain not allowed", audit.Details{
//		Identifier: email,
//		Path:       r.URL.Path,
//	})
//
// Event types are a closed set. DBLogger rejects anything else with
// ErrUnknownEventType.
//
// Many events happen before a users row exists, so Details.UserID may be a
// UUID, a provider subject id or nothing at all. DBLogger resolves
// non-UUID references against users.provider_subject_id and users.email and
// stores NULL when nothing matches.
package audit
