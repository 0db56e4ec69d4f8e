package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternsec/samlgate/pkg/observability"
	"github.com/lanternsec/samlgate/pkg/sso"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SAMLGATE_DATABASE_URL", "postgres://localhost/samlgate")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestBudget)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 5*time.Second, cfg.Storage.StoreTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Storage.SessionTTL)
	assert.Equal(t, 90*24*time.Hour, cfg.Storage.AuditRetention)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SAMLGATE_DATABASE_URL", "postgres://localhost/samlgate")
	t.Setenv("SAMLGATE_PORT", "9999")
	t.Setenv("SAMLGATE_BASE_URL", "https://sso.example.com")
	t.Setenv("SAMLGATE_REQUEST_BUDGET", "30s")
	t.Setenv("SAMLGATE_LOG_LEVEL", "debug")
	t.Setenv("SAMLGATE_METRICS_ENABLED", "false")
	t.Setenv("SAMLGATE_AUDIT_RETENTION", "720h")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "https://sso.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestBudget)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.MetricsEnabled)
	assert.Equal(t, 30*24*time.Hour, cfg.Storage.AuditRetention)
}

func TestLoadConfig_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("SAMLGATE_DATABASE_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAMLGATE_DATABASE_URL")
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{
				Port:          "8080",
				BaseURL:       "http://localhost:8080",
				RequestBudget: 10 * time.Second,
			},
			Storage: StorageConfig{DatabaseURL: "postgres://localhost/samlgate"},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }},
		{name: "missing base url", mutate: func(c *Config) { c.Server.BaseURL = "" }},
		{name: "zero request budget", mutate: func(c *Config) { c.Server.RequestBudget = 0 }},
		{name: "missing database url", mutate: func(c *Config) { c.Storage.DatabaseURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{
			"name": "okta",
			"idp_entity_id": "https://idp.example.com",
			"idp_sso_url": "https://idp.example.com/sso",
			"idp_certificate": "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----",
			"sp_entity_id": "https://sp.example.com",
			"acs_url": "https://sp.example.com/auth/sso/okta/callback",
			"attribute_mapping": {"email": "email", "groups": "memberOf"},
			"role_mapping": {"Admins": "admin"},
			"clock_skew": 120000000000
		}
	]`), 0o600))

	providers, err := LoadProviders(path)
	require.NoError(t, err)
	require.Len(t, providers, 1)

	okta := providers[0]
	assert.Equal(t, "okta", okta.Name)
	assert.Equal(t, "https://idp.example.com", okta.IDPEntityID)
	assert.Equal(t, "email", okta.AttributeMapping.Email)
	assert.Equal(t, sso.RoleAdmin, okta.RoleMapping["Admins"])
	assert.Equal(t, 2*time.Minute, okta.ClockSkew)
}

func TestLoadProviders_Errors(t *testing.T) {
	_, err := LoadProviders(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o600))
	_, err = LoadProviders(empty)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{not json`), 0o600))
	_, err = LoadProviders(bad)
	assert.Error(t, err)
}
