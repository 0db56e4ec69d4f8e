package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	saml2 "github.com/russellhaering/gosaml2"
)

// relayStateBytes is the entropy of a RelayState token: 32 bytes, 256 bits.
const relayStateBytes = 32

// RequestBuilder constructs AuthnRequests and the IdP redirect URL, and
// records the in-flight attempt so the callback can recover it.
type RequestBuilder struct {
	certs  *CertificateStore
	states RelayStateStore
	ttl    time.Duration
}

// NewRequestBuilder creates a builder. ttl bounds how long a login attempt
// may sit between redirect and callback.
func NewRequestBuilder(certs *CertificateStore, states RelayStateStore, ttl time.Duration) *RequestBuilder {
	return &RequestBuilder{certs: certs, states: states, ttl: ttl}
}

// Initiate builds a fresh AuthnRequest for the named provider and returns the
// IdP redirect URL. The generated RelayState and provider context are stored
// under sessionKey for the callback. Fails with ConfigurationError when the
// provider is absent.
func (b *RequestBuilder) Initiate(ctx context.Context, providerName, sessionKey, returnURL string) (string, *AuthnRequest, error) {
	cfg, err := b.certs.Provider(providerName)
	if err != nil {
		return "", nil, err
	}

	sp, err := b.serviceProvider(cfg)
	if err != nil {
		return "", nil, err
	}

	relayState, err := NewRelayState()
	if err != nil {
		return "", nil, err
	}

	doc, err := sp.BuildAuthRequestDocument()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build auth request: %w", err)
	}

	req := &AuthnRequest{
		ID:          doc.Root().SelectAttrValue("ID", ""),
		Issuer:      cfg.SPEntityID,
		Destination: cfg.IDPSSOURL,
	}
	if instant := doc.Root().SelectAttrValue("IssueInstant", ""); instant != "" {
		if t, perr := time.Parse(time.RFC3339, instant); perr == nil {
			req.IssueInstant = t
		}
	}

	authURL, err := sp.BuildAuthURLFromDocument(relayState, doc)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build auth URL: %w", err)
	}

	state := &LoginState{
		Provider:   providerName,
		RelayState: relayState,
		ReturnURL:  returnURL,
		IssuedAt:   time.Now().UTC(),
	}
	if err := b.states.Put(ctx, sessionKey, state, b.ttl); err != nil {
		return "", nil, fmt.Errorf("failed to store login state: %w", err)
	}

	return authURL, req, nil
}

// Metadata renders the SP metadata document for the named provider.
func (b *RequestBuilder) Metadata(providerName string) ([]byte, error) {
	cfg, err := b.certs.Provider(providerName)
	if err != nil {
		return nil, err
	}

	metadataXML := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
                     entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
                                 Location="%s"
                                 index="1"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`,
		cfg.SPEntityID,
		cfg.ACSURL)

	return []byte(metadataXML), nil
}

func (b *RequestBuilder) serviceProvider(cfg *IdentityProviderConfig) (*saml2.SAMLServiceProvider, error) {
	trust, err := b.certs.TrustStore(cfg)
	if err != nil {
		return nil, err
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.IDPSSOURL,
		IdentityProviderIssuer:      cfg.IDPEntityID,
		ServiceProviderIssuer:       cfg.SPEntityID,
		AssertionConsumerServiceURL: cfg.ACSURL,
		AudienceURI:                 cfg.SPEntityID,
		IDPCertificateStore:         trust,
	}
	if cfg.NameIDFormat != "" {
		sp.NameIdFormat = cfg.NameIDFormat
	}
	return sp, nil
}

// NewRelayState generates an opaque random token with 256 bits of entropy.
func NewRelayState() (string, error) {
	buf := make([]byte, relayStateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate relay state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewSessionKey generates the browser-session key the login state is stored
// under. Same entropy requirements as the RelayState itself.
func NewSessionKey() (string, error) {
	return NewRelayState()
}
