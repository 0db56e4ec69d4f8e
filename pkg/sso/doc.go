// Package sso implements the SAML 2.0 Service-Provider side of federated
// login: sign-in request issuance, IdP response validation, and attribute
// mapping.
//
// # Overview
//
// A login attempt is a single linear round-trip. The RequestBuilder sends the
// browser to the IdP with a fresh AuthnRequest and an opaque RelayState; the
// IdP posts a signed Response back to the ACS endpoint; the ResponseValidator
// checks it in strict order (RelayState, status, issuer, time window,
// audience, subject, recipient, signature) and the AttributeMapper turns the
// validated attributes into a typed identity for provisioning.
//
// # Trust boundary
//
// Everything arriving at the callback is attacker-controlled until the
// ResponseValidator has accepted it. Validation is server-side only, and the
// signature check is cryptographic: a Response or Assertion that is unsigned,
// or signed by anything other than the configured IdP certificate, is
// rejected regardless of its other contents.
//
// # Usage
//
//	certs := sso.NewCertificateStore()
//	certs.Register(&sso.IdentityProviderConfig{
//		Name:              "okta",
//		IDPEntityID:       "https://idp.example.com",
//		IDPSSOURL:         "https://idp.example.com/sso",
//		IDPCertificatePEM: pemCert,
//		SPEntityID:        "https://sp.example.com",
//		ACSURL:            "https://sp.example.com/auth/sso/okta/callback",
//	})
//
//	builder := sso.NewRequestBuilder(certs, sso.NewMemoryRelayStateStore(), 10*time.Minute)
//	redirectURL, req, err := builder.Initiate(ctx, "okta", sessionKey, "/")
//
// # Related Packages
//
//   - pkg/provision: JIT creation of the local user and profile
//   - pkg/session: one-time login token issued after provisioning
//   - pkg/audit: sign-in and provisioning audit trail
package sso
