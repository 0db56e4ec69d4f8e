package sso

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	dsig "github.com/russellhaering/goxmldsig"
)

const parsedCertCacheSize = 64

// CertificateStore holds the registered identity providers and their parsed
// trust material. Read-only during a login flow; Register is called at
// startup or when configuration changes.
type CertificateStore struct {
	mu        sync.RWMutex
	providers map[string]*IdentityProviderConfig
	parsed    *lru.Cache[string, *x509.Certificate]
}

// NewCertificateStore creates an empty store.
func NewCertificateStore() *CertificateStore {
	cache, _ := lru.New[string, *x509.Certificate](parsedCertCacheSize)
	return &CertificateStore{
		providers: make(map[string]*IdentityProviderConfig),
		parsed:    cache,
	}
}

// Register validates and adds a provider configuration. The certificate is
// parsed eagerly so a bad PEM fails at startup, not mid-login.
func (s *CertificateStore) Register(cfg *IdentityProviderConfig) error {
	if err := validateProviderConfig(cfg); err != nil {
		return err
	}
	if _, err := parseCertificatePEM(cfg.IDPCertificatePEM); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[cfg.Name] = cfg
	return nil
}

// Provider returns the configuration for the named provider.
func (s *CertificateStore) Provider(name string) (*IdentityProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.providers[name]
	if !ok {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("provider %q is not configured", name)}
	}
	return cfg, nil
}

// ProviderNames lists the registered providers.
func (s *CertificateStore) ProviderNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// Certificate returns the parsed IdP certificate for cfg, caching the parse.
func (s *CertificateStore) Certificate(cfg *IdentityProviderConfig) (*x509.Certificate, error) {
	if cert, ok := s.parsed.Get(cfg.IDPCertificatePEM); ok {
		return cert, nil
	}

	cert, err := parseCertificatePEM(cfg.IDPCertificatePEM)
	if err != nil {
		return nil, err
	}
	s.parsed.Add(cfg.IDPCertificatePEM, cert)
	return cert, nil
}

// TrustStore returns a goxmldsig certificate store rooted at cfg's IdP
// certificate, for signature verification.
func (s *CertificateStore) TrustStore(cfg *IdentityProviderConfig) (dsig.X509CertificateStore, error) {
	cert, err := s.Certificate(cfg)
	if err != nil {
		return nil, err
	}
	return &dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}, nil
}

func parseCertificatePEM(pemData string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, &ConfigurationError{Reason: "failed to decode certificate PEM"}
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("failed to parse certificate: %v", err)}
	}
	return cert, nil
}

func validateProviderConfig(cfg *IdentityProviderConfig) error {
	if cfg == nil {
		return &ConfigurationError{Reason: "provider config is required"}
	}
	if cfg.Name == "" {
		return &ConfigurationError{Reason: "name is required"}
	}
	if cfg.IDPEntityID == "" {
		return &ConfigurationError{Reason: "idp_entity_id is required"}
	}
	if cfg.IDPSSOURL == "" {
		return &ConfigurationError{Reason: "idp_sso_url is required"}
	}
	if cfg.IDPCertificatePEM == "" {
		return &ConfigurationError{Reason: "idp_certificate is required"}
	}
	if cfg.SPEntityID == "" {
		return &ConfigurationError{Reason: "sp_entity_id is required"}
	}
	if cfg.ACSURL == "" {
		return &ConfigurationError{Reason: "acs_url is required"}
	}
	for raw, role := range cfg.RoleMapping {
		if !ValidRole(role) {
			return &ConfigurationError{Reason: fmt.Sprintf("role mapping %q -> %q: unknown role", raw, role)}
		}
	}
	return nil
}
