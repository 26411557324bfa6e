// Package reconcile drives the Identity Store and the Profile Store to a
// consistent linked state for one (role, PRN): exactly one authentication
// account and one profile, the profile referencing the account, and the
// profile's contact email equal to the account's login email.
//
// It replaces the deployment's pile of one-off fix/seed scripts with a
// single parameterized operation. All state lives in the two stores; a
// Reconciler is stateless between calls and safe to share across
// goroutines for distinct natural keys. Concurrent reconciliation of the
// same key is not coordinated here — the profile store's uniqueness
// constraint is the only backstop.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/store"
)

// Request describes the desired end state for one identity.
type Request struct {
	Role       profile.Role
	PRN        string
	Email      string
	Credential identity.Secret
	Attrs      Attributes

	// ForceRelink permits stealing the link when the desired email's
	// account is already referenced by a different profile. Without it
	// such a request returns a Conflict outcome and mutates nothing.
	ForceRelink bool
}

// Attributes carries the profile fields beyond the identity linkage.
type Attributes struct {
	FullName   string
	Department string
	Branch     string
	Year       string
	Division   string
	Phone      string
}

// Kind tags a reconciliation outcome.
type Kind string

const (
	// Created: a new authentication account was provisioned.
	Created Kind = "created"
	// Linked: an existing account was linked to the profile.
	Linked Kind = "linked"
	// Updated: the pair was already linked; credential and confirmation
	// were refreshed.
	Updated Kind = "updated"
	// Conflict: the desired email belongs to an account referenced by a
	// different profile; nothing was mutated.
	Conflict Kind = "conflict"
	// Failed: a store call failed; see Outcome.Err and Outcome.Retryable.
	Failed Kind = "failed"
)

// ConflictDetail identifies both sides of an email collision so an
// operator (or an automated policy) can decide which account keeps the
// address.
type ConflictDetail struct {
	Role profile.Role `json:"role"`
	PRN  string       `json:"prn"`

	// LinkedIdentityID is the account the profile currently references;
	// ProfileEmail is the login email it was last reconciled with.
	LinkedIdentityID string `json:"linked_identity_id"`
	ProfileEmail     string `json:"profile_email,omitempty"`

	// ExistingIdentityID owns the desired email.
	ExistingIdentityID string `json:"existing_identity_id"`
	ExistingEmail      string `json:"existing_email"`
}

// Outcome is the structured result of one reconcile call. It never
// carries credential material.
type Outcome struct {
	Kind       Kind            `json:"kind"`
	Role       profile.Role    `json:"role"`
	PRN        string          `json:"prn"`
	IdentityID string          `json:"identity_id,omitempty"`
	Email      string          `json:"email,omitempty"`
	Conflict   *ConflictDetail `json:"conflict,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
	Err        error           `json:"-"`
}

// Reconciler holds the two store collaborators. Lifecycle of the stores
// is owned by the caller.
type Reconciler struct {
	identities store.IdentityStore
	profiles   store.ProfileStore
	logger     zerolog.Logger
}

// New constructs a Reconciler over the given stores.
func New(identities store.IdentityStore, profiles store.ProfileStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{identities: identities, profiles: profiles, logger: logger}
}

// Reconcile ensures exactly one account and one profile exist for the
// request's natural key, linked consistently. The three store steps run
// strictly in sequence; every step is idempotent, so the caller's retry
// policy is to re-invoke the whole call (a partial prior success is
// picked up by the lookups, never re-created).
//
// The returned error is non-nil exactly when Outcome.Kind is Failed.
// A Conflict outcome is a successful, deterministic answer — the caller
// must still not report the operation as a success.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (Outcome, error) {
	req.PRN = profile.CanonicalPRN(req.PRN)
	req.Email = identity.NormalizeEmail(req.Email)

	out := Outcome{Role: req.Role, PRN: req.PRN, Email: req.Email}

	if err := validate(req); err != nil {
		return fail(out, err)
	}

	// Step 1: current profile, or a minimal in-memory one.
	prof, err := r.profiles.FindByPRN(ctx, req.Role, req.PRN)
	if err != nil {
		return fail(out, fmt.Errorf("profile lookup: %w", err))
	}
	profileExisted := prof != nil
	if prof == nil {
		prof = &profile.Profile{PRN: req.PRN, Role: req.Role}
	}

	// Step 2: current account for the desired email.
	existing, err := r.identities.FindByEmail(ctx, req.Email)
	if err != nil {
		return fail(out, fmt.Errorf("identity lookup: %w", err))
	}

	var kind Kind
	var linked *identity.Identity

	switch {
	case existing == nil:
		linked, err = r.provision(ctx, req)
		if err != nil {
			return fail(out, err)
		}
		if linked != nil {
			kind = Created
			break
		}
		// Lost a provisioning race: the email got registered between the
		// lookup and the create. Re-resolve against the winner.
		existing, err = r.identities.FindByEmail(ctx, req.Email)
		if err != nil {
			return fail(out, fmt.Errorf("identity lookup after collision: %w", err))
		}
		if existing == nil {
			return fail(out, fmt.Errorf("identity for %s reported registered but not found", req.Email))
		}
		fallthrough

	default:
		if prof.Linked() && prof.IdentityID != existing.ID && !req.ForceRelink {
			// Case C: the email belongs to someone else's account. Do not
			// steal it silently.
			out.Kind = Conflict
			out.Conflict = &ConflictDetail{
				Role:               req.Role,
				PRN:                req.PRN,
				LinkedIdentityID:   prof.IdentityID,
				ProfileEmail:       prof.Email,
				ExistingIdentityID: existing.ID,
				ExistingEmail:      existing.Email,
			}
			r.logger.Warn().
				Str("role", string(req.Role)).Str("prn", req.PRN).
				Str("linked_identity", prof.IdentityID).
				Str("existing_identity", existing.ID).
				Msg("email collision, refusing to relink without force")
			return out, nil
		}

		// Case B (or forced relink): refresh credential and confirmation
		// on the existing account.
		cred := req.Credential
		confirmed := true
		if _, err := r.identities.Update(ctx, existing.ID, store.IdentityUpdate{
			Credential: &cred,
			Confirmed:  &confirmed,
		}); err != nil {
			return fail(out, fmt.Errorf("identity update: %w", err))
		}

		linked = existing
		if prof.IdentityID == existing.ID {
			kind = Updated
		} else {
			kind = Linked
		}
	}

	// Step 3: upsert the profile with the resolved link.
	prof.Email = req.Email
	prof.IdentityID = linked.ID
	prof.Complete = true
	applyAttrs(prof, req.Attrs)

	if _, err := r.profiles.Upsert(ctx, prof); err != nil {
		return fail(out, fmt.Errorf("profile upsert: %w", err))
	}

	if kind == Created && profileExisted {
		// New account attached to a pre-existing profile row.
		kind = Linked
	}

	out.Kind = kind
	out.IdentityID = linked.ID
	r.logger.Info().
		Str("role", string(req.Role)).Str("prn", req.PRN).
		Str("identity", linked.ID).Str("outcome", string(kind)).
		Msg("reconciled")
	return out, nil
}

// provision creates the account, pre-confirmed (administrative
// provisioning bypasses the confirmation flow). A duplicate-email answer
// is not an error: it returns (nil, nil) and the caller re-resolves.
func (r *Reconciler) provision(ctx context.Context, req Request) (*identity.Identity, error) {
	id, err := r.identities.Create(ctx, req.Email, req.Credential, true)
	if errors.Is(err, store.ErrEmailAlreadyRegistered) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity create: %w", err)
	}
	return id, nil
}

func validate(req Request) error {
	if _, err := profile.ParseRole(string(req.Role)); err != nil {
		return store.NewValidationError("role", err)
	}
	if err := profile.ValidatePRN(req.PRN); err != nil {
		return store.NewValidationError("prn", err)
	}
	if err := identity.ValidateEmail(req.Email); err != nil {
		return store.NewValidationError("email", err)
	}
	if req.Credential.IsZero() {
		return store.NewValidationError("credential", fmt.Errorf("credential is required"))
	}
	return nil
}

func applyAttrs(p *profile.Profile, a Attributes) {
	if a.FullName != "" {
		p.FullName = a.FullName
	}
	if a.Department != "" {
		p.Department = a.Department
	}
	if a.Branch != "" {
		p.Branch = a.Branch
	}
	if a.Year != "" {
		p.Year = a.Year
	}
	if a.Division != "" {
		p.Division = a.Division
	}
	if a.Phone != "" {
		p.Phone = a.Phone
	}
}

func fail(out Outcome, err error) (Outcome, error) {
	out.Kind = Failed
	out.Err = err
	out.Retryable = store.IsRetryable(err)
	return out, err
}
