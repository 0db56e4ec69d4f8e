package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateStore_RegisterAndLookup(t *testing.T) {
	_, certPEM := testKeyPair(t)
	store := NewCertificateStore()

	cfg := testProviderConfig(certPEM)
	require.NoError(t, store.Register(cfg))

	got, err := store.Provider("test")
	require.NoError(t, err)
	assert.Equal(t, testIDPEntityID, got.IDPEntityID)
	assert.Equal(t, []string{"test"}, store.ProviderNames())

	cert, err := store.Certificate(got)
	require.NoError(t, err)
	assert.NotNil(t, cert)

	// Second lookup is served from the parse cache.
	cached, err := store.Certificate(got)
	require.NoError(t, err)
	assert.Same(t, cert, cached)
}

func TestCertificateStore_UnknownProvider(t *testing.T) {
	store := NewCertificateStore()

	_, err := store.Provider("missing")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "missing")
}

func TestCertificateStore_RegisterValidation(t *testing.T) {
	_, certPEM := testKeyPair(t)

	tests := []struct {
		name   string
		mutate func(*IdentityProviderConfig)
	}{
		{name: "missing name", mutate: func(c *IdentityProviderConfig) { c.Name = "" }},
		{name: "missing idp entity id", mutate: func(c *IdentityProviderConfig) { c.IDPEntityID = "" }},
		{name: "missing sso url", mutate: func(c *IdentityProviderConfig) { c.IDPSSOURL = "" }},
		{name: "missing certificate", mutate: func(c *IdentityProviderConfig) { c.IDPCertificatePEM = "" }},
		{name: "missing sp entity id", mutate: func(c *IdentityProviderConfig) { c.SPEntityID = "" }},
		{name: "missing acs url", mutate: func(c *IdentityProviderConfig) { c.ACSURL = "" }},
		{name: "bad certificate", mutate: func(c *IdentityProviderConfig) { c.IDPCertificatePEM = "not pem" }},
		{name: "unknown role in mapping", mutate: func(c *IdentityProviderConfig) {
			c.RoleMapping = map[string]Role{"Admins": Role("superuser")}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testProviderConfig(certPEM)
			tt.mutate(cfg)

			store := NewCertificateStore()
			err := store.Register(cfg)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}
