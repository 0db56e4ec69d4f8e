// Package session exchanges a provisioned profile for a one-time, short-lived
// login credential redeemable exactly once to establish a browser session.
package session
