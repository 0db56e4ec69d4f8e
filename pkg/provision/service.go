package provision

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lanternsec/samlgate/pkg/observability"
)

// IdentityStore manages the underlying authentication identities.
type IdentityStore interface {
	// Create inserts an identity with a pre-confirmed, never-used password
	// hash and returns its ID.
	Create(ctx context.Context, email, passwordHash string) (string, error)

	// Delete removes an identity. Used as the compensating action when
	// profile creation fails.
	Delete(ctx context.Context, identityID string) error
}

// ProfileStore manages the persistent user profiles. Insert must enforce a
// unique constraint on lower(email) and surface violations as
// ErrDuplicateEmail.
type ProfileStore interface {
	FindByEmail(ctx context.Context, email string) (*UserProfile, error)
	Insert(ctx context.Context, profile *UserProfile) error
	Update(ctx context.Context, profile *UserProfile) error
}

// Service provisions or locates a profile for a federated identity:
// Lookup -> Found -> UpdateAndReturn, or
// Lookup -> NotFound -> CreateIdentity -> CreateProfile -> Return.
type Service struct {
	identities IdentityStore
	profiles   ProfileStore
	logger     *observability.Logger
	timeout    time.Duration
}

// NewService creates a provisioning service. timeout bounds each store call;
// zero means 5s.
func NewService(identities IdentityStore, profiles ProfileStore, logger *observability.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{identities: identities, profiles: profiles, logger: logger, timeout: timeout}
}

// ProvisionOrSignIn returns the single profile for identity.Email, creating
// it on first login. Idempotent: calling twice, sequentially or concurrently,
// yields one profile row and no orphaned authentication identity.
func (s *Service) ProvisionOrSignIn(ctx context.Context, identity *Identity) (*UserProfile, error) {
	if identity == nil || identity.Email == "" {
		return nil, fmt.Errorf("identity email is required")
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))

	existing, err := s.findProfile(ctx, email)
	if err == nil {
		return s.signIn(ctx, existing, identity)
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	return s.createProfile(ctx, email, identity)
}

// signIn updates mutable display fields when missing. Roles are never
// downgraded automatically; role changes via SSO require explicit
// reconciliation.
func (s *Service) signIn(ctx context.Context, profile *UserProfile, identity *Identity) (*UserProfile, error) {
	changed := false
	if profile.DisplayName == "" && identity.DisplayName != "" {
		profile.DisplayName = identity.DisplayName
		changed = true
	}
	if profile.SSOSubject == "" && identity.SSOSubject != "" {
		profile.SSOProvider = identity.SSOProvider
		profile.SSOSubject = identity.SSOSubject
		changed = true
	}

	now := time.Now().UTC()
	profile.LastLoginAt = &now

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.profiles.Update(opCtx, profile); err != nil {
		if changed {
			return nil, storeErr("profile update", err)
		}
		// A failed last-login touch alone does not block the sign-in.
		s.logger.WithField("user_id", profile.UserID).Warnf("failed to record last login: %v", err)
	}
	return profile, nil
}

func (s *Service) createProfile(ctx context.Context, email string, identity *Identity) (*UserProfile, error) {
	passwordHash, err := neverUsedPasswordHash()
	if err != nil {
		return nil, err
	}

	createCtx, cancel := context.WithTimeout(ctx, s.timeout)
	identityID, err := s.identities.Create(createCtx, email, passwordHash)
	cancel()
	if err != nil {
		return nil, storeErr("identity create", err)
	}

	profile := &UserProfile{
		IdentityID:  identityID,
		Email:       email,
		DisplayName: identity.DisplayName,
		Role:        identity.Role,
		SSOProvider: identity.SSOProvider,
		SSOSubject:  identity.SSOSubject,
		CreatedAt:   time.Now().UTC(),
	}

	insertCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.profiles.Insert(insertCtx, profile)
	cancel()
	if err == nil {
		return profile, nil
	}

	if errors.Is(err, ErrDuplicateEmail) {
		// Lost the race to a concurrent first login. The identity created
		// above is surplus; remove it and converge on the winner's profile.
		s.rollbackIdentity(ctx, identityID, email)

		winner, readErr := s.findProfile(ctx, email)
		if readErr != nil {
			return nil, &ProvisioningConflict{Email: email, Err: readErr}
		}
		return winner, nil
	}

	// Compensating action: the profile insert failed after the identity was
	// created, so the identity must not survive.
	if rollbackErr := s.deleteIdentity(ctx, identityID); rollbackErr != nil {
		s.logger.WithFields(map[string]interface{}{
			"identity_id": identityID,
			"email":       email,
		}).Errorf("identity rollback failed after profile insert error: %v", rollbackErr)
		return nil, &StoreError{Op: "profile insert", Err: err, RollbackFailed: true}
	}
	return nil, storeErr("profile insert", err)
}

func (s *Service) rollbackIdentity(ctx context.Context, identityID, email string) {
	if err := s.deleteIdentity(ctx, identityID); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"identity_id": identityID,
			"email":       email,
		}).Errorf("failed to delete surplus identity after duplicate email: %v", err)
	}
}

func (s *Service) deleteIdentity(ctx context.Context, identityID string) error {
	// Detached from the request context so a caller timeout cannot abandon
	// the rollback mid-flight.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.identities.Delete(opCtx, identityID)
}

func (s *Service) findProfile(ctx context.Context, email string) (*UserProfile, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	profile, err := s.profiles.FindByEmail(opCtx, email)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, err
		}
		return nil, storeErr("profile lookup", err)
	}
	return profile, nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &StoreError{Op: op, Err: fmt.Errorf("timed out: %w", err)}
	}
	return &StoreError{Op: op, Err: err}
}

// neverUsedPasswordHash produces the hash of a random password nobody knows.
// SSO accounts authenticate through the IdP; the password exists only to
// satisfy the identity store schema.
func neverUsedPasswordHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	sum := sha256.Sum256([]byte(base64.RawURLEncoding.EncodeToString(buf)))
	return hex.EncodeToString(sum[:]), nil
}
