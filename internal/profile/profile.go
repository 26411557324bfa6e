// Package profile defines the business record describing a person in the
// academic system: their role, PRN, contact email, and role-specific
// attributes. A profile may be linked to an authentication account through
// IdentityID; the link is populated only after identity provisioning
// succeeds.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleTeacher:
		return RoleTeacher, nil
	case RoleStudent:
		return RoleStudent, nil
	default:
		return "", fmt.Errorf("unknown role %q (supported: admin, teacher, student)", s)
	}
}

// Profile is one business record, addressed by (Role, PRN).
type Profile struct {
	// PRN is the natural key: the role-scoped registration number,
	// stored in canonical (upper-case) form.
	PRN string `json:"prn"`

	Role     Role   `json:"role"`
	FullName string `json:"full_name,omitempty"`

	// Email is the contact email. After a successful reconcile it equals
	// the linked identity's login email; disagreement is a drift signal.
	Email string `json:"email,omitempty"`

	// Role-specific attributes (students carry branch/year/division).
	Department string `json:"department,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Year       string `json:"year_of_study,omitempty"`
	Division   string `json:"division,omitempty"`
	Phone      string `json:"phone,omitempty"`

	// Complete marks a fully provisioned profile.
	Complete bool `json:"is_profile_complete"`

	// IdentityID references the linked authentication account. Empty
	// until an identity has been provisioned for this profile.
	IdentityID string `json:"identity_id,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// CanonicalPRN returns the canonical storage form of a PRN: trimmed and
// upper-cased. Source data carries the same identifier in mixed casing
// (rbt24cs028 vs RBT24CS028); lookups and storage both go through this so
// one real-world identifier can never yield two rows.
func CanonicalPRN(prn string) string {
	return strings.ToUpper(strings.TrimSpace(prn))
}

// ValidatePRN checks the natural key's character class: alphanumeric plus
// underscore and hyphen, non-empty. Rejected before any store call.
func ValidatePRN(prn string) error {
	prn = strings.TrimSpace(prn)
	if prn == "" {
		return fmt.Errorf("prn is required")
	}
	for _, r := range prn {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-') {
			return fmt.Errorf("invalid prn %q (only alphanumeric, underscore, and hyphen allowed)", prn)
		}
	}
	return nil
}

// Validate checks the fields required for storage.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	if err := ValidatePRN(p.PRN); err != nil {
		return err
	}
	if _, err := ParseRole(string(p.Role)); err != nil {
		return err
	}
	return nil
}

// Linked reports whether the profile references an identity.
func (p *Profile) Linked() bool {
	return p != nil && p.IdentityID != ""
}
