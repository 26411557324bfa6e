package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/store"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// IdentityStore implements store.IdentityStore on the local database.
// Credentials are stored as bcrypt hashes and never read back.
type IdentityStore struct {
	db *DB
}

// NewIdentityStore binds an identity store to an open database.
func NewIdentityStore(db *DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	if s == nil || s.db == nil || s.db.conn == nil {
		return nil, fmt.Errorf("identity store is not open")
	}
	email = identity.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	row := s.db.conn.QueryRowContext(ctx, `
SELECT id, email, confirmed, metadata, created_at, updated_at
FROM identities WHERE email = ?`, email)

	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find identity by email: %w", err)
	}
	return id, nil
}

func (s *IdentityStore) Create(ctx context.Context, email string, credential identity.Secret, confirmed bool) (*identity.Identity, error) {
	if s == nil || s.db == nil || s.db.conn == nil {
		return nil, fmt.Errorf("identity store is not open")
	}
	email = identity.NormalizeEmail(email)
	if err := identity.ValidateEmail(email); err != nil {
		return nil, store.NewValidationError("email", err)
	}
	if credential.IsZero() {
		return nil, store.NewValidationError("credential", fmt.Errorf("credential is required"))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(credential.Reveal()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}

	now := time.Now().UTC()
	id := &identity.Identity{
		ID:        uuid.NewString(),
		Email:     email,
		Confirmed: confirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.conn.ExecContext(ctx, `
INSERT INTO identities (id, email, credential_hash, confirmed, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		id.ID, id.Email, string(hash), boolToInt(confirmed),
		now.Format(sqliteTimeLayout), now.Format(sqliteTimeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return id, nil
}

func (s *IdentityStore) Update(ctx context.Context, id string, upd store.IdentityUpdate) (*identity.Identity, error) {
	if s == nil || s.db == nil || s.db.conn == nil {
		return nil, fmt.Errorf("identity store is not open")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("identity id is required")
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC().Format(sqliteTimeLayout)}

	if upd.Email != nil {
		email := identity.NormalizeEmail(*upd.Email)
		if err := identity.ValidateEmail(email); err != nil {
			return nil, store.NewValidationError("email", err)
		}
		sets = append(sets, "email = ?")
		args = append(args, email)
	}
	if upd.Credential != nil {
		if upd.Credential.IsZero() {
			return nil, store.NewValidationError("credential", fmt.Errorf("credential is required"))
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(upd.Credential.Reveal()), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash credential: %w", err)
		}
		sets = append(sets, "credential_hash = ?")
		args = append(args, string(hash))
	}
	if upd.Confirmed != nil {
		sets = append(sets, "confirmed = ?")
		args = append(args, boolToInt(*upd.Confirmed))
	}

	args = append(args, id)
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE identities SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrEmailAlreadyRegistered
		}
		return nil, fmt.Errorf("update identity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("identity %s not found", id)
	}

	row := s.db.conn.QueryRowContext(ctx, `
SELECT id, email, confirmed, metadata, created_at, updated_at
FROM identities WHERE id = ?`, id)
	out, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("reload identity: %w", err)
	}
	return out, nil
}

func (s *IdentityStore) SignIn(ctx context.Context, email string, credential identity.Secret) error {
	if s == nil || s.db == nil || s.db.conn == nil {
		return fmt.Errorf("identity store is not open")
	}
	email = identity.NormalizeEmail(email)

	var hash string
	var confirmed int
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT credential_hash, confirmed FROM identities WHERE email = ?`, email).
		Scan(&hash, &confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("sign in lookup: %w", err)
	}
	if confirmed == 0 {
		return store.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential.Reveal())) != nil {
		return store.ErrInvalidCredentials
	}
	return nil
}

func scanIdentity(row *sql.Row) (*identity.Identity, error) {
	var (
		id        identity.Identity
		confirmed int
		metadata  sql.NullString
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&id.ID, &id.Email, &confirmed, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	id.Confirmed = confirmed != 0
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &id.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	id.CreatedAt = parseSQLiteTime(createdAt)
	id.UpdatedAt = parseSQLiteTime(updatedAt)
	return &id, nil
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed")
}
