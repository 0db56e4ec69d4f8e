package sso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mappingConfig() *IdentityProviderConfig {
	return &IdentityProviderConfig{
		Name:         "test",
		NameIDFormat: NameIDFormatEmail,
		AttributeMapping: AttributeMap{
			Email:       "email",
			FirstName:   "firstName",
			LastName:    "lastName",
			DisplayName: "displayName",
			Groups:      "memberOf",
			Role:        "role",
		},
		RoleMapping: map[string]Role{
			"Admins":      RoleAdmin,
			"Engineering": RoleManager,
			"Support":     RoleAnalyst,
		},
	}
}

func TestMapIdentity(t *testing.T) {
	cfg := mappingConfig()

	assertion := &SAMLAssertion{
		NameID: "subject-1",
		Attributes: Attributes{
			"email":     {"User@Example.COM"},
			"firstName": {"Ada"},
			"lastName":  {"Lovelace"},
			"memberOf":  {"Engineering"},
			"costCode":  {"CC-17"},
		},
	}

	identity, err := MapIdentity(assertion, cfg)
	require.NoError(t, err)

	assert.Equal(t, "User@Example.COM", identity.Email)
	assert.Equal(t, "Ada", identity.FirstName)
	assert.Equal(t, "Lovelace", identity.LastName)
	assert.Equal(t, "Ada Lovelace", identity.DisplayName)
	assert.Equal(t, []string{"Engineering"}, identity.Groups)
	assert.Equal(t, RoleManager, identity.Role)
	assert.Equal(t, []string{"CC-17"}, identity.Extra["costCode"])
	assert.NotContains(t, identity.Extra, "email")
}

func TestMapIdentity_EmailFromNameID(t *testing.T) {
	cfg := mappingConfig()

	assertion := &SAMLAssertion{
		NameID:     "user@example.com",
		Attributes: Attributes{},
	}

	identity, err := MapIdentity(assertion, cfg)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", identity.Email)
}

func TestMapIdentity_EmailFromNameIDFormatOnAssertion(t *testing.T) {
	cfg := mappingConfig()
	cfg.NameIDFormat = ""

	assertion := &SAMLAssertion{
		NameID:       "user@example.com",
		NameIDFormat: NameIDFormatEmail,
		Attributes:   Attributes{},
	}

	identity, err := MapIdentity(assertion, cfg)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", identity.Email)
}

func TestMapIdentity_MissingEmail(t *testing.T) {
	cfg := mappingConfig()
	cfg.NameIDFormat = ""

	assertion := &SAMLAssertion{
		NameID:     "opaque-subject",
		Attributes: Attributes{"firstName": {"Ada"}},
	}

	_, err := MapIdentity(assertion, cfg)
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "missing-email", mapErr.Code)
}

func TestMapIdentity_ExplicitDisplayNameWins(t *testing.T) {
	cfg := mappingConfig()

	assertion := &SAMLAssertion{
		NameID: "user@example.com",
		Attributes: Attributes{
			"displayName": {"A. Lovelace"},
			"firstName":   {"Ada"},
			"lastName":    {"Lovelace"},
		},
	}

	identity, err := MapIdentity(assertion, cfg)
	require.NoError(t, err)
	assert.Equal(t, "A. Lovelace", identity.DisplayName)
}

func TestResolveRole(t *testing.T) {
	mapping := map[string]Role{
		"Admins":      RoleAdmin,
		"Engineering": RoleManager,
		"Support":     RoleAnalyst,
	}

	tests := []struct {
		name       string
		groups     []string
		roleValues []string
		want       Role
	}{
		{name: "no match defaults to viewer", groups: []string{"Unknown"}, want: RoleViewer},
		{name: "empty input defaults to viewer", want: RoleViewer},
		{name: "single match", groups: []string{"Support"}, want: RoleAnalyst},
		{name: "highest privilege wins", groups: []string{"Support", "Admins", "Engineering"}, want: RoleAdmin},
		{name: "role attribute considered", roleValues: []string{"Engineering"}, want: RoleManager},
		{name: "groups and role attribute combined", groups: []string{"Support"}, roleValues: []string{"Admins"}, want: RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRole(tt.groups, tt.roleValues, mapping))
		})
	}
}

func TestHigherPrivilege(t *testing.T) {
	assert.Equal(t, RoleAdmin, HigherPrivilege(RoleViewer, RoleAdmin))
	assert.Equal(t, RoleAdmin, HigherPrivilege(RoleAdmin, RoleViewer))
	assert.Equal(t, RoleManager, HigherPrivilege(RoleManager, RoleAnalyst))
	assert.Equal(t, RoleViewer, HigherPrivilege(RoleViewer, RoleViewer))
}
