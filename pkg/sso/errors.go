package sso

import (
	"fmt"
	"time"
)

// ConfigurationError means SSO is not (or incorrectly) set up for the
// requested provider. Safe to show to the user; the caller should degrade to
// "SSO not configured" instead of redirecting.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("sso configuration error: %s", e.Reason)
}

// CSRFError means the RelayState presented on callback did not match the one
// issued for this login attempt. Logged as suspicious, never retried.
type CSRFError struct {
	Reason string
}

func (e *CSRFError) Error() string {
	return fmt.Sprintf("relay state rejected: %s", e.Reason)
}

// ProtocolError covers malformed or incomplete SAML messages: unparseable
// XML, a non-success status, a missing NameID. Surfaced to users as a generic
// authentication failure.
type ProtocolError struct {
	Code   string
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("saml protocol error: %s", e.Code)
	}
	return fmt.Sprintf("saml protocol error: %s: %s", e.Code, e.Detail)
}

// TrustError means the response failed issuer or signature verification.
// Logged at high severity and never retried automatically.
type TrustError struct {
	Code   string
	Detail string
}

func (e *TrustError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("saml trust error: %s", e.Code)
	}
	return fmt.Sprintf("saml trust error: %s: %s", e.Code, e.Detail)
}

// TimingError means the assertion's validity window has not opened yet or has
// already closed. The user should restart the login from the beginning.
type TimingError struct {
	Detail string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("assertion outside validity window: %s", e.Detail)
}

// AudienceError means none of the assertion's Audience elements named this
// service provider.
type AudienceError struct {
	Audiences []string
	Want      string
}

func (e *AudienceError) Error() string {
	return fmt.Sprintf("assertion audience %v does not include %q", e.Audiences, e.Want)
}

// RecipientError means the bearer SubjectConfirmationData was addressed to a
// different ACS endpoint.
type RecipientError struct {
	Got  string
	Want string
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("assertion recipient %q does not match ACS URL %q", e.Got, e.Want)
}

// MappingError is a configuration defect in the attribute mapping, such as no
// derivable email. Administrators should be alerted; the user cannot fix it.
type MappingError struct {
	Code string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("attribute mapping error: %s", e.Code)
}

// TimeoutError means the whole validation/provisioning request exceeded its
// wall-clock budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("login attempt exceeded %s budget", e.Budget)
}

// IsValidationError reports whether err belongs to the validation taxonomy,
// i.e. should map to HTTP 400 on the validation endpoint rather than 500.
func IsValidationError(err error) bool {
	switch err.(type) {
	case *CSRFError, *ProtocolError, *TrustError, *TimingError, *AudienceError, *RecipientError, *MappingError:
		return true
	}
	return false
}
