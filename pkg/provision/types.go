package provision

import (
	"errors"
	"fmt"
	"time"
)

// Identity is the input to provisioning: the trusted result of a validated
// and mapped federated login. Ephemeral; it exists for one call.
type Identity struct {
	Email       string
	DisplayName string
	Role        string
	SSOProvider string
	SSOSubject  string
}

// UserProfile is the persistent application profile. One row per distinct
// email; subsequent logins from the same IdP subject update it in place.
type UserProfile struct {
	UserID      string     `json:"id"`
	IdentityID  string     `json:"-"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        string     `json:"role"`
	SSOProvider string     `json:"sso_provider,omitempty"`
	SSOSubject  string     `json:"sso_subject,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// ErrProfileNotFound is returned by lookups that match no profile.
var ErrProfileNotFound = errors.New("provision: profile not found")

// ErrDuplicateEmail is returned by Insert when the unique email constraint
// fires. The service treats it as a lost race, not a failure.
var ErrDuplicateEmail = errors.New("provision: email already exists")

// ProvisioningConflict means the duplicate-email reconciliation itself
// failed: the insert lost the race but the winning profile could not be read
// back.
type ProvisioningConflict struct {
	Email string
	Err   error
}

func (e *ProvisioningConflict) Error() string {
	return fmt.Sprintf("provisioning conflict for %s: %v", e.Email, e.Err)
}

func (e *ProvisioningConflict) Unwrap() error { return e.Err }

// StoreError wraps a transient identity/profile store failure. Retryable at
// most once by the caller.
type StoreError struct {
	Op  string
	Err error

	// RollbackFailed notes that the compensating identity delete also
	// failed, leaving an orphan that was logged for manual cleanup.
	RollbackFailed bool
}

func (e *StoreError) Error() string {
	if e.RollbackFailed {
		return fmt.Sprintf("store error during %s (identity rollback also failed): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
