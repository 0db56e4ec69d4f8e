package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lanternsec/samlgate/pkg/audit"
	"github.com/lanternsec/samlgate/pkg/observability"
	"github.com/lanternsec/samlgate/pkg/provision"
	"github.com/lanternsec/samlgate/pkg/session"
)

const (
	loginCookieName = "samlgate_login"
	loginStateTTL   = 10 * time.Minute

	// defaultRequestBudget is the wall-clock bound on one callback request.
	defaultRequestBudget = 10 * time.Second
)

// Provisioner is the slice of the provisioning service the handlers need.
type Provisioner interface {
	ProvisionOrSignIn(ctx context.Context, identity *provision.Identity) (*provision.UserProfile, error)
}

// SessionIssuer is the slice of the session issuer the handlers need.
type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (*session.Handle, error)
	Redeem(ctx context.Context, token string) (string, error)
}

// Handlers wires the SSO pipeline to HTTP.
type Handlers struct {
	certs       *CertificateStore
	builder     *RequestBuilder
	validator   *ResponseValidator
	states      RelayStateStore
	provisioner Provisioner
	sessions    SessionIssuer
	auditor     audit.Logger
	logger      *observability.Logger
	metrics     *observability.Metrics
	budget      time.Duration
}

// NewHandlers creates the HTTP surface. auditor may be nil (events are
// dropped); budget zero means 10s.
func NewHandlers(certs *CertificateStore, states RelayStateStore, provisioner Provisioner, sessions SessionIssuer, auditor audit.Logger, logger *observability.Logger, metrics *observability.Metrics, budget time.Duration) *Handlers {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if budget <= 0 {
		budget = defaultRequestBudget
	}
	return &Handlers{
		certs:       certs,
		builder:     NewRequestBuilder(certs, states, loginStateTTL),
		validator:   NewResponseValidator(certs),
		states:      states,
		provisioner: provisioner,
		sessions:    sessions,
		auditor:     auditor,
		logger:      logger,
		metrics:     metrics,
		budget:      budget,
	}
}

// RegisterRoutes registers the SSO routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/{provider}/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/auth/sso/{provider}/callback", h.handleCallback).Methods("GET", "POST")
	router.HandleFunc("/auth/session/redeem", h.redeemSession).Methods("GET")
	router.HandleFunc("/sso/metadata/{provider}", h.getMetadata).Methods("GET")
	router.HandleFunc("/api/v1/saml/validate", h.validateResponse).Methods("POST")
}

// initiateLogin handles GET /auth/sso/{provider}/login.
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	sessionKey, err := NewSessionKey()
	if err != nil {
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}

	returnURL := r.URL.Query().Get("return_url")
	redirectURL, authnReq, err := h.builder.Initiate(r.Context(), providerName, sessionKey, returnURL)
	if err != nil {
		var confErr *ConfigurationError
		if errors.As(err, &confErr) {
			// The one safe category to show: the user can tell the admin.
			http.Error(w, "SSO is not configured for this provider", http.StatusNotFound)
			return
		}
		h.logger.WithField("provider", providerName).WithError(err).Error("failed to initiate login")
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     loginCookieName,
		Value:    sessionKey,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(loginStateTTL.Seconds()),
	})

	h.metrics.LoginInitiatedTotal.WithLabelValues(providerName).Inc()
	h.logger.WithFields(map[string]interface{}{
		"provider":   providerName,
		"request_id": authnReq.ID,
	}).Info("issued sign-in request")

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// handleCallback handles the ACS endpoint: validation, mapping, provisioning,
// session issuance, audit.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	ctx, cancel := context.WithTimeout(r.Context(), h.budget)
	defer cancel()

	handle, err := h.completeLogin(ctx, w, r, providerName)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = &TimeoutError{Budget: h.budget}
		}
		h.failLogin(w, r, providerName, err)
		return
	}

	h.metrics.LoginCompletedTotal.WithLabelValues(providerName, "success").Inc()

	redirectURL := handle.URL
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (h *Handlers) completeLogin(ctx context.Context, w http.ResponseWriter, r *http.Request, providerName string) (*session.Handle, error) {
	if err := r.ParseForm(); err != nil {
		return nil, &ProtocolError{Code: "malformed-xml", Detail: "unparseable form body"}
	}
	samlResponse := r.FormValue("SAMLResponse")
	if samlResponse == "" {
		samlResponse = r.URL.Query().Get("SAMLResponse")
	}
	if samlResponse == "" {
		return nil, &ProtocolError{Code: "missing-response"}
	}
	presentedRelayState := r.FormValue("RelayState")
	if presentedRelayState == "" {
		presentedRelayState = r.URL.Query().Get("RelayState")
	}

	// Consume the stored login state before anything else. Taking it here
	// means this attempt's RelayState can never validate twice, whatever the
	// outcome below.
	stored, err := h.takeLoginState(ctx, w, r)
	if err != nil {
		return nil, err
	}
	if stored.Provider != providerName {
		return nil, &CSRFError{Reason: fmt.Sprintf("login was issued for provider %q", stored.Provider)}
	}

	cfg, err := h.certs.Provider(providerName)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	assertion, err := h.validator.Validate(ctx, samlResponse, presentedRelayState, stored.RelayState, cfg)
	h.metrics.ValidationDuration.WithLabelValues(providerName).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	identity, err := MapIdentity(assertion, cfg)
	if err != nil {
		return nil, err
	}

	profile, created, err := h.provisionWithRetry(ctx, &provision.Identity{
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Role:        string(identity.Role),
		SSOProvider: providerName,
		SSOSubject:  identity.NameID,
	})
	if err != nil {
		h.metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	handle, err := h.issueWithRetry(ctx, profile.UserID)
	if err != nil {
		return nil, err
	}
	h.metrics.SessionsIssuedTotal.Inc()

	action := audit.ActionSignIn
	if created {
		action = audit.ActionProvision
	}
	h.record(ctx, &audit.Event{
		UserID:      profile.UserID,
		Action:      action,
		SSOProvider: providerName,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		Timestamp:   time.Now().UTC(),
	})

	if stored.ReturnURL != "" {
		handle.URL = appendQuery(handle.URL, "next", stored.ReturnURL)
	}
	return handle, nil
}

func (h *Handlers) takeLoginState(ctx context.Context, w http.ResponseWriter, r *http.Request) (*LoginState, error) {
	cookie, err := r.Cookie(loginCookieName)
	if err != nil {
		return nil, &CSRFError{Reason: "missing login cookie"}
	}

	// Single-use regardless of what follows.
	http.SetCookie(w, &http.Cookie{Name: loginCookieName, MaxAge: -1, Path: "/"})

	stored, err := h.states.TakeOnce(ctx, cookie.Value)
	if errors.Is(err, ErrStateNotFound) {
		return nil, &CSRFError{Reason: "no in-flight login for this session"}
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// provisionWithRetry retries a transient store failure at most once. created
// reports whether this login minted a new profile.
func (h *Handlers) provisionWithRetry(ctx context.Context, identity *provision.Identity) (*provision.UserProfile, bool, error) {
	profile, err := h.provisioner.ProvisionOrSignIn(ctx, identity)
	var storeErr *provision.StoreError
	if errors.As(err, &storeErr) && !storeErr.RollbackFailed {
		profile, err = h.provisioner.ProvisionOrSignIn(ctx, identity)
	}
	if err != nil {
		return nil, false, err
	}

	created := profile.LastLoginAt == nil
	if created {
		h.metrics.ProvisioningTotal.WithLabelValues("created").Inc()
	} else {
		h.metrics.ProvisioningTotal.WithLabelValues("existing").Inc()
	}
	return profile, created, nil
}

func (h *Handlers) issueWithRetry(ctx context.Context, userID string) (*session.Handle, error) {
	handle, err := h.sessions.Issue(ctx, userID)
	var sessErr *session.SessionError
	if errors.As(err, &sessErr) {
		handle, err = h.sessions.Issue(ctx, userID)
	}
	return handle, err
}

// record is fire-and-forget: audit failure never fails the sign-in.
func (h *Handlers) record(ctx context.Context, event *audit.Event) {
	if err := h.auditor.Record(ctx, event); err != nil {
		h.logger.WithError(err).Warn("failed to record audit event")
	}
}

// failLogin maps an error to a generic user-facing failure while logging the
// detailed reason at the appropriate severity.
func (h *Handlers) failLogin(w http.ResponseWriter, r *http.Request, providerName string, err error) {
	category := errorCategory(err)
	h.metrics.LoginCompletedTotal.WithLabelValues(providerName, "failure").Inc()
	h.metrics.ValidationFailures.WithLabelValues(category).Inc()

	entry := h.logger.WithFields(map[string]interface{}{
		"provider": providerName,
		"category": category,
		"ip":       clientIP(r),
	}).WithError(err)

	switch category {
	case "trust", "csrf":
		entry.Error("rejected sign-in callback")
	default:
		entry.Warn("sign-in failed")
	}

	switch err.(type) {
	case *ConfigurationError:
		http.Error(w, "SSO is not configured for this provider", http.StatusNotFound)
	case *TimeoutError:
		http.Error(w, "authentication timed out, please retry from the start", http.StatusGatewayTimeout)
	default:
		// Detailed reasons are logged, never displayed.
		http.Error(w, "authentication failed", http.StatusUnauthorized)
	}
}

// redeemSession handles GET /auth/session/redeem. Redemption succeeds exactly
// once; the response is the handoff to the application's session layer.
func (h *Handlers) redeemSession(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	userID, err := h.sessions.Redeem(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			http.Error(w, "invalid or expired login token", http.StatusUnauthorized)
			return
		}
		h.logger.WithError(err).Error("failed to redeem login token")
		http.Error(w, "failed to establish session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"user_id": userID,
		"next":    r.URL.Query().Get("next"),
	})
}

// getMetadata handles GET /sso/metadata/{provider}.
func (h *Handlers) getMetadata(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	metadata, err := h.builder.Metadata(providerName)
	if err != nil {
		http.Error(w, "provider not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write(metadata)
}

// validateRequest is the wire form of the standalone validation service.
type validateRequest struct {
	SAMLResponse   string `json:"saml_response"`
	IDPCertificate string `json:"idp_certificate"`
	IDPEntityID    string `json:"idp_entity_id"`
	SPEntityID     string `json:"sp_entity_id"`
	ACSURL         string `json:"acs_url"`
}

// validateResponse handles POST /api/v1/saml/validate: stateless validation
// of a response against caller-supplied trust material. No RelayState is
// involved; callers running the full flow use the callback endpoint.
func (h *Handlers) validateResponse(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, http.StatusBadRequest, "invalid-request", err.Error())
		return
	}
	if req.SAMLResponse == "" || req.IDPCertificate == "" || req.IDPEntityID == "" || req.SPEntityID == "" {
		writeValidationError(w, http.StatusBadRequest, "invalid-request", "saml_response, idp_certificate, idp_entity_id and sp_entity_id are required")
		return
	}

	cfg := &IdentityProviderConfig{
		Name:              "adhoc",
		IDPEntityID:       req.IDPEntityID,
		IDPSSOURL:         "unused",
		IDPCertificatePEM: req.IDPCertificate,
		SPEntityID:        req.SPEntityID,
		ACSURL:            req.ACSURL,
	}
	if err := validateProviderConfig(cfg); err != nil {
		writeValidationError(w, http.StatusBadRequest, "invalid-request", err.Error())
		return
	}

	assertion, err := h.validator.Validate(r.Context(), req.SAMLResponse, "", "", cfg)
	if err != nil {
		if IsValidationError(err) || isConfigurationError(err) {
			writeValidationError(w, http.StatusBadRequest, errorCategory(err), err.Error())
			return
		}
		h.logger.WithError(err).Error("validation service internal failure")
		writeValidationError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assertion)
}

func writeValidationError(w http.ResponseWriter, code int, kind, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"details": details,
	})
}

func isConfigurationError(err error) bool {
	var confErr *ConfigurationError
	return errors.As(err, &confErr)
}

// errorCategory names the failure class for metrics and logs.
func errorCategory(err error) string {
	switch err.(type) {
	case *ConfigurationError:
		return "configuration"
	case *CSRFError:
		return "csrf"
	case *ProtocolError:
		return "protocol"
	case *TrustError:
		return "trust"
	case *TimingError:
		return "timing"
	case *AudienceError:
		return "audience"
	case *RecipientError:
		return "recipient"
	case *MappingError:
		return "mapping"
	case *TimeoutError:
		return "timeout"
	}

	var storeErr *provision.StoreError
	if errors.As(err, &storeErr) {
		return "store"
	}
	var conflict *provision.ProvisioningConflict
	if errors.As(err, &conflict) {
		return "conflict"
	}
	var sessErr *session.SessionError
	if errors.As(err, &sessErr) {
		return "session"
	}
	return "internal"
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func appendQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
