// Package verify implements the read-only diagnostic pass over the two
// stores. It mutates nothing; its report decides whether reconciliation
// needs to run and with which inputs.
package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/store"
)

// Report describes the agreement between the Identity Store and the
// Profile Store for one (role, PRN).
type Report struct {
	Role profile.Role `json:"role"`
	PRN  string       `json:"prn"`

	ProfileFound  bool `json:"profile_found"`
	IdentityFound bool `json:"identity_found"`

	// EmailsMatch is meaningful only when both records were found: it
	// reports whether the profile's contact email equals the identity's
	// login email (both compared in normalized form).
	EmailsMatch bool `json:"emails_match"`

	// Linked reports whether the profile references the identity found
	// for its email.
	Linked bool `json:"linked"`

	// CredentialValid is set only when a probe credential was supplied.
	// A rejected sign-in is recorded as false, never returned as an
	// error.
	CredentialValid *bool `json:"credential_valid,omitempty"`

	IdentityID   string `json:"identity_id,omitempty"`
	ProfileEmail string `json:"profile_email,omitempty"`
}

// InSync reports whether the stores agree: both records present, emails
// matching, and the profile linked to the identity.
func (r Report) InSync() bool {
	return r.ProfileFound && r.IdentityFound && r.EmailsMatch && r.Linked
}

// Verifier reads both stores. It shares the reconciler's collaborators
// but never writes through them.
type Verifier struct {
	identities store.IdentityStore
	profiles   store.ProfileStore
}

// New constructs a Verifier over the given stores.
func New(identities store.IdentityStore, profiles store.ProfileStore) *Verifier {
	return &Verifier{identities: identities, profiles: profiles}
}

// Verify reports the current agreement for (role, prn). The identity is
// located through the profile's contact email. probe, when non-nil,
// triggers a sign-in attempt against that email.
func (v *Verifier) Verify(ctx context.Context, role profile.Role, prn string, probe *identity.Secret) (Report, error) {
	prn = profile.CanonicalPRN(prn)
	report := Report{Role: role, PRN: prn}

	if _, err := profile.ParseRole(string(role)); err != nil {
		return report, store.NewValidationError("role", err)
	}
	if err := profile.ValidatePRN(prn); err != nil {
		return report, store.NewValidationError("prn", err)
	}

	prof, err := v.profiles.FindByPRN(ctx, role, prn)
	if err != nil {
		return report, fmt.Errorf("profile lookup: %w", err)
	}
	if prof == nil {
		return report, nil
	}
	report.ProfileFound = true
	report.ProfileEmail = identity.NormalizeEmail(prof.Email)

	if report.ProfileEmail == "" {
		return report, nil
	}

	id, err := v.identities.FindByEmail(ctx, report.ProfileEmail)
	if err != nil {
		return report, fmt.Errorf("identity lookup: %w", err)
	}
	if id == nil {
		return report, nil
	}
	report.IdentityFound = true
	report.IdentityID = id.ID
	report.EmailsMatch = id.Email == report.ProfileEmail
	report.Linked = prof.IdentityID == id.ID

	if probe != nil {
		valid := true
		if err := v.identities.SignIn(ctx, report.ProfileEmail, *probe); err != nil {
			if !errors.Is(err, store.ErrInvalidCredentials) && store.IsRetryable(err) {
				return report, fmt.Errorf("sign-in probe: %w", err)
			}
			valid = false
		}
		report.CredentialValid = &valid
	}

	return report, nil
}
