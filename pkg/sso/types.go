package sso

import (
	"encoding/json"
	"time"
)

// SAML constants used throughout the package.
const (
	StatusSuccess     = "urn:oasis:names:tc:SAML:2.0:status:Success"
	NameIDFormatEmail = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
)

// Role is an application role assigned during provisioning.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// rolePrivilege orders roles for deterministic tie-breaking; higher wins.
var rolePrivilege = map[Role]int{
	RoleAdmin:   4,
	RoleManager: 3,
	RoleAnalyst: 2,
	RoleViewer:  1,
}

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	_, ok := rolePrivilege[r]
	return ok
}

// HigherPrivilege returns the more privileged of a and b.
func HigherPrivilege(a, b Role) Role {
	if rolePrivilege[b] > rolePrivilege[a] {
		return b
	}
	return a
}

// AttributeMap names the SAML attributes that carry each well-known field.
// Empty entries fall back to the mapper's defaults.
type AttributeMap struct {
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Groups      string `json:"groups,omitempty"`
	Role        string `json:"role,omitempty"`
}

// IdentityProviderConfig holds the per-IdP trust material and mapping rules.
// It is immutable for the duration of a login flow.
type IdentityProviderConfig struct {
	Name              string          `json:"name"`
	IDPEntityID       string          `json:"idp_entity_id"`
	IDPSSOURL         string          `json:"idp_sso_url"`
	IDPCertificatePEM string          `json:"idp_certificate"`
	SPEntityID        string          `json:"sp_entity_id"`
	ACSURL            string          `json:"acs_url"`
	NameIDFormat      string          `json:"name_id_format,omitempty"`
	AttributeMapping  AttributeMap    `json:"attribute_mapping"`
	RoleMapping       map[string]Role `json:"role_mapping,omitempty"`

	// ClockSkew widens the Conditions window when explicitly configured.
	// Zero means strict UTC comparison.
	ClockSkew time.Duration `json:"clock_skew,omitempty"`
}

// AuthnRequest is the transient record of an issued sign-in request. It is
// never persisted; it exists to build the redirect URL and for logging.
type AuthnRequest struct {
	ID           string
	Issuer       string
	Destination  string
	IssueInstant time.Time
}

// Attributes holds the assertion's attribute statement. Every attribute keeps
// its values in document order, a single-valued attribute being a one-element
// slice.
type Attributes map[string][]string

// First returns the first value of the named attribute, or "".
func (a Attributes) First(name string) string {
	if vs := a[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// MarshalJSON renders single-valued attributes as scalars and multi-valued
// ones as arrays, matching the validation service's wire contract.
func (a Attributes) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(a))
	for name, vs := range a {
		if len(vs) == 1 {
			out[name] = vs[0]
		} else {
			out[name] = vs
		}
	}
	return json.Marshal(out)
}

// SAMLAssertion is the validated content of an IdP response. Producing one
// means every check in the validator passed, including the signature.
type SAMLAssertion struct {
	Issuer       string     `json:"issuer"`
	NameID       string     `json:"nameId"`
	NameIDFormat string     `json:"nameIdFormat,omitempty"`
	SessionIndex string     `json:"sessionIndex,omitempty"`
	Attributes   Attributes `json:"attributes"`
	NotBefore    *time.Time `json:"notBefore,omitempty"`
	NotOnOrAfter *time.Time `json:"notOnOrAfter,omitempty"`
	Audience     []string   `json:"audience,omitempty"`
	Recipient    string     `json:"recipient,omitempty"`
}

// ValidatedIdentity is the trusted output of validation plus mapping. The
// well-known fields are typed; attributes the mapping did not consume remain
// available in Extra.
type ValidatedIdentity struct {
	NameID      string
	Email       string
	FirstName   string
	LastName    string
	DisplayName string
	Groups      []string
	Role        Role

	// Extra holds attributes not claimed by the mapping, unmodified.
	Extra Attributes

	// RawAttributes is the full attribute statement as validated.
	RawAttributes Attributes
}
