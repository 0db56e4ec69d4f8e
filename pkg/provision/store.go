package provision

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresProfileStore persists user profiles. The unique index on
// lower(email) is the source of truth for the one-profile-per-email
// invariant.
type PostgresProfileStore struct {
	db *sql.DB
}

// NewPostgresProfileStore creates the store and ensures its schema.
func NewPostgresProfileStore(db *sql.DB) (*PostgresProfileStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	store := &PostgresProfileStore{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure user_profiles table: %w", err)
	}
	return store, nil
}

func (s *PostgresProfileStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS user_profiles (
		id UUID PRIMARY KEY,
		identity_id VARCHAR(64) NOT NULL,
		email VARCHAR(255) NOT NULL,
		display_name VARCHAR(255),
		role VARCHAR(32) NOT NULL,
		sso_provider VARCHAR(128),
		sso_subject VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_login_at TIMESTAMP WITH TIME ZONE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_user_profiles_email ON user_profiles(lower(email));
	CREATE INDEX IF NOT EXISTS idx_user_profiles_sso_subject ON user_profiles(sso_provider, sso_subject);
	`
	_, err := s.db.Exec(query)
	return err
}

// FindByEmail looks up a profile case-insensitively.
func (s *PostgresProfileStore) FindByEmail(ctx context.Context, email string) (*UserProfile, error) {
	profile := &UserProfile{}
	var displayName, ssoProvider, ssoSubject sql.NullString
	var lastLogin sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, identity_id, email, display_name, role, sso_provider, sso_subject, created_at, last_login_at
		FROM user_profiles
		WHERE lower(email) = lower($1)
	`, email).Scan(&profile.UserID, &profile.IdentityID, &profile.Email, &displayName,
		&profile.Role, &ssoProvider, &ssoSubject, &profile.CreatedAt, &lastLogin)

	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	profile.DisplayName = displayName.String
	profile.SSOProvider = ssoProvider.String
	profile.SSOSubject = ssoSubject.String
	if lastLogin.Valid {
		t := lastLogin.Time
		profile.LastLoginAt = &t
	}
	return profile, nil
}

// Insert creates the profile row, assigning UserID. A unique violation on
// the email index surfaces as ErrDuplicateEmail.
func (s *PostgresProfileStore) Insert(ctx context.Context, profile *UserProfile) error {
	if profile.UserID == "" {
		profile.UserID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (id, identity_id, email, display_name, role, sso_provider, sso_subject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, profile.UserID, profile.IdentityID, profile.Email, nullable(profile.DisplayName),
		profile.Role, nullable(profile.SSOProvider), nullable(profile.SSOSubject), profile.CreatedAt)

	if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing profile.
func (s *PostgresProfileStore) Update(ctx context.Context, profile *UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET display_name = $1, role = $2, sso_provider = $3, sso_subject = $4, last_login_at = $5
		WHERE id = $6
	`, nullable(profile.DisplayName), profile.Role, nullable(profile.SSOProvider),
		nullable(profile.SSOSubject), profile.LastLoginAt, profile.UserID)

	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// PostgresIdentityStore persists the underlying authentication identities.
type PostgresIdentityStore struct {
	db *sql.DB
}

// NewPostgresIdentityStore creates the store and ensures its schema.
func NewPostgresIdentityStore(db *sql.DB) (*PostgresIdentityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	store := &PostgresIdentityStore{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure auth_identities table: %w", err)
	}
	return store, nil
}

func (s *PostgresIdentityStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS auth_identities (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		password_hash VARCHAR(128) NOT NULL,
		confirmed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_auth_identities_email ON auth_identities(lower(email));
	`
	_, err := s.db.Exec(query)
	return err
}

// Create inserts a pre-confirmed identity and returns its ID.
func (s *PostgresIdentityStore) Create(ctx context.Context, email, passwordHash string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_identities (id, email, password_hash, confirmed_at)
		VALUES ($1, $2, $3, $4)
	`, id, email, passwordHash, time.Now().UTC())

	if err != nil {
		return "", fmt.Errorf("failed to create identity: %w", err)
	}
	return id, nil
}

// Delete removes an identity row.
func (s *PostgresIdentityStore) Delete(ctx context.Context, identityID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_identities WHERE id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
