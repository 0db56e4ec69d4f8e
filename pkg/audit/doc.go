// Package audit records provisioning and sign-in events.
//
// Recording is fire-and-forget relative to the login flow: a failed write is
// logged but never fails the sign-in. The database backend keeps events in an
// audit_events table; NopLogger serves tests and deployments without a trail.
package audit
