// Package gateway runs the login decision for an asserted identity.
//
// Each login moves through received, domain-checked, risk-checked,
// provisioned, logged and routed. Three states end a run early:
// rejected-domain for an untrusted email, rejected-blocked for an untrusted
// email whose failure counter is over the threshold, and failed when the
// user record could not be provisioned.
//
// Trusted identities (institutional or whitelisted) never consult the block
// and always clear their counter, so a block accrued while an address was
// untrusted is lifted as soon as it becomes trusted.
//
// The HTTP handlers wrap the state machine with the provider redirect, the
// callback, the session cookie and the self-service endpoints.
package gateway
