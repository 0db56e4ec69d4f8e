package sso

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestBuilder_Initiate(t *testing.T) {
	_, certPEM := testKeyPair(t)
	certs := NewCertificateStore()
	require.NoError(t, certs.Register(testProviderConfig(certPEM)))

	states := NewMemoryRelayStateStore()
	builder := NewRequestBuilder(certs, states, time.Minute)

	authURL, req, err := builder.Initiate(context.Background(), "test", "session-key", "/dashboard")
	require.NoError(t, err)

	require.NotNil(t, req)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, testSPEntityID, req.Issuer)
	assert.Equal(t, "https://idp.example.com/sso", req.Destination)
	assert.False(t, req.IssueInstant.IsZero())

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(authURL, "https://idp.example.com/sso"))
	assert.NotEmpty(t, parsed.Query().Get("SAMLRequest"))

	relayState := parsed.Query().Get("RelayState")
	require.NotEmpty(t, relayState)

	// The stored login state carries the same RelayState the IdP got.
	state, err := states.TakeOnce(context.Background(), "session-key")
	require.NoError(t, err)
	assert.Equal(t, "test", state.Provider)
	assert.Equal(t, relayState, state.RelayState)
	assert.Equal(t, "/dashboard", state.ReturnURL)
}

func TestRequestBuilder_InitiateUnknownProvider(t *testing.T) {
	builder := NewRequestBuilder(NewCertificateStore(), NewMemoryRelayStateStore(), time.Minute)

	_, _, err := builder.Initiate(context.Background(), "missing", "session-key", "")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRequestBuilder_RelayStateUniqueness(t *testing.T) {
	_, certPEM := testKeyPair(t)
	certs := NewCertificateStore()
	require.NoError(t, certs.Register(testProviderConfig(certPEM)))

	states := NewMemoryRelayStateStore()
	builder := NewRequestBuilder(certs, states, time.Minute)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		key, err := NewSessionKey()
		require.NoError(t, err)

		authURL, _, err := builder.Initiate(ctx, "test", key, "")
		require.NoError(t, err)

		parsed, err := url.Parse(authURL)
		require.NoError(t, err)
		relayState := parsed.Query().Get("RelayState")
		assert.False(t, seen[relayState], "relay state repeated")
		seen[relayState] = true
	}
}

func TestRequestBuilder_Metadata(t *testing.T) {
	_, certPEM := testKeyPair(t)
	certs := NewCertificateStore()
	require.NoError(t, certs.Register(testProviderConfig(certPEM)))

	builder := NewRequestBuilder(certs, NewMemoryRelayStateStore(), time.Minute)

	metadata, err := builder.Metadata("test")
	require.NoError(t, err)
	assert.Contains(t, string(metadata), testSPEntityID)
	assert.Contains(t, string(metadata), testACSURL)
	assert.Contains(t, string(metadata), "EntityDescriptor")
}

func TestNewRelayState(t *testing.T) {
	a, err := NewRelayState()
	require.NoError(t, err)
	b, err := NewRelayState()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	// 32 bytes of entropy, base64url without padding.
	assert.Len(t, a, 43)
}
