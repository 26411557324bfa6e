package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/store"
)

// ProfileStore implements store.ProfileStore on the local database.
// Profiles are keyed by (role, canonical PRN); the upsert resolves
// conflicts on that key in a single statement, so there is no
// read-modify-write race at this level.
type ProfileStore struct {
	db *DB
}

// NewProfileStore binds a profile store to an open database.
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func (s *ProfileStore) FindByPRN(ctx context.Context, role profile.Role, prn string) (*profile.Profile, error) {
	if s == nil || s.db == nil || s.db.conn == nil {
		return nil, fmt.Errorf("profile store is not open")
	}
	if err := profile.ValidatePRN(prn); err != nil {
		return nil, store.NewValidationError("prn", err)
	}

	row := s.db.conn.QueryRowContext(ctx, `
SELECT role, prn, full_name, email, department, branch, year_of_study, division,
       phone, is_profile_complete, identity_id, created_at, updated_at
FROM profiles WHERE role = ? AND prn = ?`, string(role), profile.CanonicalPRN(prn))

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find profile by prn: %w", err)
	}
	return p, nil
}

func (s *ProfileStore) Upsert(ctx context.Context, p *profile.Profile) (*profile.Profile, error) {
	if s == nil || s.db == nil || s.db.conn == nil {
		return nil, fmt.Errorf("profile store is not open")
	}
	if err := p.Validate(); err != nil {
		return nil, store.NewValidationError("profile", err)
	}

	prn := profile.CanonicalPRN(p.PRN)
	email := identity.NormalizeEmail(p.Email)
	now := time.Now().UTC().Format(sqliteTimeLayout)

	var identityID sql.NullString
	if p.IdentityID != "" {
		identityID = sql.NullString{String: p.IdentityID, Valid: true}
	}

	_, err := s.db.conn.ExecContext(ctx, `
INSERT INTO profiles (role, prn, full_name, email, department, branch, year_of_study,
                      division, phone, is_profile_complete, identity_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(role, prn) DO UPDATE SET
    full_name = excluded.full_name,
    email = excluded.email,
    department = excluded.department,
    branch = excluded.branch,
    year_of_study = excluded.year_of_study,
    division = excluded.division,
    phone = excluded.phone,
    is_profile_complete = excluded.is_profile_complete,
    identity_id = excluded.identity_id,
    updated_at = excluded.updated_at`,
		string(p.Role), prn, p.FullName, email, p.Department, p.Branch, p.Year,
		p.Division, p.Phone, boolToInt(p.Complete), identityID, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}

	return s.FindByPRN(ctx, p.Role, prn)
}

func scanProfile(row *sql.Row) (*profile.Profile, error) {
	var (
		p          profile.Profile
		role       string
		fullName   sql.NullString
		email      sql.NullString
		department sql.NullString
		branch     sql.NullString
		year       sql.NullString
		division   sql.NullString
		phone      sql.NullString
		complete   int
		identityID sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(&role, &p.PRN, &fullName, &email, &department, &branch,
		&year, &division, &phone, &complete, &identityID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Role = profile.Role(role)
	p.FullName = fullName.String
	p.Email = email.String
	p.Department = department.String
	p.Branch = branch.String
	p.Year = year.String
	p.Division = division.String
	p.Phone = phone.String
	p.Complete = complete != 0
	p.IdentityID = identityID.String
	p.CreatedAt = parseSQLiteTime(createdAt)
	p.UpdatedAt = parseSQLiteTime(updatedAt)
	return &p, nil
}
