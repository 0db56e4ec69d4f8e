package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// TokenPrefix identifies samlgate login tokens.
	TokenPrefix = "sgl_"
	// tokenBytes is the token entropy: 32 bytes, 256 bits.
	tokenBytes = 32
)

// ErrTokenNotFound is returned by Redeem for unknown, expired, or
// already-redeemed tokens.
var ErrTokenNotFound = errors.New("session: login token not found")

// SessionError means the store could not produce or redeem a credential.
// Treated as retryable once by the caller, never by this package.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s failed: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Handle is a one-time login credential. Token is shown to the browser once;
// only its hash is stored.
type Handle struct {
	Token     string
	URL       string
	UserID    string
	ExpiresAt time.Time
}

// Store persists token hashes. Redeem must be atomic: exactly one call per
// hash succeeds.
type Store interface {
	Save(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	Redeem(ctx context.Context, tokenHash string) (userID string, err error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// Issuer mints and redeems one-time login tokens.
type Issuer struct {
	store   Store
	baseURL string
	ttl     time.Duration
}

// NewIssuer creates an issuer. baseURL is where the redeem endpoint lives;
// ttl bounds token life (zero means 5 minutes).
func NewIssuer(store Store, baseURL string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{store: store, baseURL: strings.TrimRight(baseURL, "/"), ttl: ttl}
}

// Issue creates a one-time credential for userID.
// Format: sgl_<base64url(32 random bytes)>; the store sees only the SHA256.
func (i *Issuer) Issue(ctx context.Context, userID string) (*Handle, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, &SessionError{Op: "issue", Err: err}
	}
	token := TokenPrefix + base64.RawURLEncoding.EncodeToString(buf)
	expiresAt := time.Now().UTC().Add(i.ttl)

	if err := i.store.Save(ctx, HashToken(token), userID, expiresAt); err != nil {
		return nil, &SessionError{Op: "issue", Err: err}
	}

	return &Handle{
		Token:     token,
		URL:       fmt.Sprintf("%s/auth/session/redeem?token=%s", i.baseURL, url.QueryEscape(token)),
		UserID:    userID,
		ExpiresAt: expiresAt,
	}, nil
}

// Redeem consumes a token and returns the user it was issued for. A second
// redemption of the same token returns ErrTokenNotFound.
func (i *Issuer) Redeem(ctx context.Context, token string) (string, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return "", ErrTokenNotFound
	}

	userID, err := i.store.Redeem(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return "", ErrTokenNotFound
		}
		return "", &SessionError{Op: "redeem", Err: err}
	}
	return userID, nil
}

// HashToken computes the stored form of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
