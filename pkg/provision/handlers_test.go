package provision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternsec/samlgate/pkg/session"
)

type stubSessionIssuer struct {
	issued int
	fail   bool
}

func (s *stubSessionIssuer) Issue(ctx context.Context, userID string) (*session.Handle, error) {
	s.issued++
	if s.fail {
		return nil, &session.SessionError{Op: "save"}
	}
	return &session.Handle{
		Token:     "sgl_test",
		URL:       "https://sp.example.com/auth/session/redeem?token=sgl_test",
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(5 * time.Minute),
	}, nil
}

func newProvisionRouter(t *testing.T, sessions SessionIssuer) (*mux.Router, *memProfileStore) {
	t.Helper()

	profiles := newMemProfileStore()
	service := NewService(newMemIdentityStore(), profiles, nil, 0)
	handlers := NewHandlers(service, sessions, nil)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	return router, profiles
}

func postProvision(t *testing.T, router *mux.Router, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/provision", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func validProvisionBody() map[string]string {
	return map[string]string{
		"email":        "user@example.com",
		"display_name": "Ada Lovelace",
		"role":         "manager",
		"sso_provider": "okta",
		"sso_subject":  "okta|ada",
	}
}

func TestProvisionEndpoint_CreatesUser(t *testing.T) {
	sessions := &stubSessionIssuer{}
	router, profiles := newProvisionRouter(t, sessions)

	rec := postProvision(t, router, validProvisionBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp provisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.User.ID)
	assert.Equal(t, "user@example.com", resp.User.Email)
	assert.Equal(t, "manager", resp.User.Role)
	assert.Contains(t, resp.SessionURL, "token=")

	assert.Equal(t, 1, profiles.count())
	assert.Equal(t, 1, sessions.issued)
}

func TestProvisionEndpoint_DuplicateEmailConflicts(t *testing.T) {
	router, _ := newProvisionRouter(t, &stubSessionIssuer{})

	first := postProvision(t, router, validProvisionBody())
	require.Equal(t, http.StatusCreated, first.Code)

	second := postProvision(t, router, validProvisionBody())
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "already provisioned")
}

func TestProvisionEndpoint_Validation(t *testing.T) {
	router, _ := newProvisionRouter(t, &stubSessionIssuer{})

	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{name: "missing email", mutate: func(b map[string]string) { delete(b, "email") }},
		{name: "missing sso provider", mutate: func(b map[string]string) { delete(b, "sso_provider") }},
		{name: "missing sso subject", mutate: func(b map[string]string) { delete(b, "sso_subject") }},
		{name: "unknown role", mutate: func(b map[string]string) { b["role"] = "superuser" }},
		{name: "empty role", mutate: func(b map[string]string) { delete(b, "role") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validProvisionBody()
			tt.mutate(body)

			rec := postProvision(t, router, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestProvisionEndpoint_MalformedBody(t *testing.T) {
	router, _ := newProvisionRouter(t, &stubSessionIssuer{})

	req := httptest.NewRequest("POST", "/api/v1/provision", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProvisionEndpoint_SessionFailureStillCreates(t *testing.T) {
	sessions := &stubSessionIssuer{fail: true}
	router, profiles := newProvisionRouter(t, sessions)

	rec := postProvision(t, router, validProvisionBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp provisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.SessionURL)
	assert.Equal(t, 1, profiles.count())
}
