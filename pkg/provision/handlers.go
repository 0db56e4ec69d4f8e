package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lanternsec/samlgate/pkg/observability"
	"github.com/lanternsec/samlgate/pkg/session"
)

// SessionIssuer is the slice of the session issuer the endpoint needs.
type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (*session.Handle, error)
}

// Handlers exposes provisioning over HTTP for trusted internal callers.
type Handlers struct {
	service  *Service
	sessions SessionIssuer
	logger   *observability.Logger
}

// NewHandlers creates the provisioning HTTP surface.
func NewHandlers(service *Service, sessions SessionIssuer, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{service: service, sessions: sessions, logger: logger}
}

// RegisterRoutes registers the provisioning routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/provision", h.provisionUser).Methods("POST")
}

type provisionRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	SSOProvider string `json:"sso_provider"`
	SSOSubject  string `json:"sso_subject"`
}

type provisionResponse struct {
	User       provisionUser `json:"user"`
	SessionURL string        `json:"session_url,omitempty"`
}

type provisionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

var validRoles = map[string]bool{
	"admin":   true,
	"manager": true,
	"analyst": true,
	"viewer":  true,
}

// provisionUser handles POST /api/v1/provision.
// 201 with the profile and session URL; 400 on invalid input, 409 when the
// email already belongs to a profile, 500 on store failure.
func (h *Handlers) provisionUser(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.SSOProvider == "" || req.SSOSubject == "" {
		writeError(w, http.StatusBadRequest, "email, sso_provider and sso_subject are required")
		return
	}
	if !validRoles[req.Role] {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	existing, err := h.service.findProfile(r.Context(), req.Email)
	if err == nil && existing != nil {
		writeError(w, http.StatusConflict, "email already provisioned")
		return
	}
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		h.logger.WithError(err).Error("provisioning lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	profile, err := h.service.ProvisionOrSignIn(r.Context(), &Identity{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		SSOProvider: req.SSOProvider,
		SSOSubject:  req.SSOSubject,
	})
	if err != nil {
		var conflict *ProvisioningConflict
		if errors.As(err, &conflict) {
			writeError(w, http.StatusConflict, "email already provisioned")
			return
		}
		h.logger.WithError(err).Error("provisioning failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := provisionResponse{
		User: provisionUser{ID: profile.UserID, Email: profile.Email, Role: profile.Role},
	}
	if h.sessions != nil {
		if handle, err := h.sessions.Issue(r.Context(), profile.UserID); err == nil {
			resp.SessionURL = handle.URL
		} else {
			h.logger.WithError(err).Warn("failed to issue session for provisioned user")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
