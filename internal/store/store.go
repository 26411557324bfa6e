// Package store defines the two external collaborators the reconciler
// drives — the Identity Store (authentication service) and the Profile
// Store (business records) — plus the shared error taxonomy. All state
// lives behind these interfaces; implementations are remote (gotrue) or
// local (sqlite).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
)

// IdentityStore is the authentication service surface consumed by the
// reconciler. Lookup misses return (nil, nil); absence is a valid state
// feeding branch selection, not an error.
type IdentityStore interface {
	// FindByEmail looks up an account by normalized login email.
	FindByEmail(ctx context.Context, email string) (*identity.Identity, error)

	// Create provisions a new account. Administrative provisioning may
	// pre-set confirmed to bypass the email confirmation flow. Returns
	// ErrEmailAlreadyRegistered when the email is already in use.
	Create(ctx context.Context, email string, credential identity.Secret, confirmed bool) (*identity.Identity, error)

	// Update modifies an existing account in place.
	Update(ctx context.Context, id string, upd IdentityUpdate) (*identity.Identity, error)

	// SignIn attempts a credential probe. Returns ErrInvalidCredentials
	// on rejection; any other error is a store failure.
	SignIn(ctx context.Context, email string, credential identity.Secret) error
}

// IdentityUpdate carries the mutable fields of an account. Nil pointers
// leave the corresponding field untouched.
type IdentityUpdate struct {
	Email      *string
	Credential *identity.Secret
	Confirmed  *bool
}

// ProfileStore is the business-record surface consumed by the reconciler.
type ProfileStore interface {
	// FindByPRN looks up a profile by role and natural key. The key is
	// compared case-insensitively; misses return (nil, nil).
	FindByPRN(ctx context.Context, role profile.Role, prn string) (*profile.Profile, error)

	// Upsert inserts or updates a profile with (role, canonical PRN) as
	// the conflict target. The operation is atomic at the store level and
	// idempotent: identical input yields identical stored state.
	Upsert(ctx context.Context, p *profile.Profile) (*profile.Profile, error)
}

// Sentinel domain errors.
var (
	// ErrEmailAlreadyRegistered signals that an email is already bound to
	// an identity. The reconciler converts this into a lookup-and-compare
	// step rather than surfacing it.
	ErrEmailAlreadyRegistered = errors.New("email already registered")

	// ErrInvalidCredentials signals a rejected sign-in probe.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// TransportError wraps a network or service failure. Retryable errors are
// safe to retry at the whole-reconcile level because every step is
// idempotent.
type TransportError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a retryable transport failure for op.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Retryable: true}
}

// IsRetryable reports whether err (or anything it wraps) is a transport
// failure marked safe to retry.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// ValidationError reports malformed input rejected before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for field from err.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: err.Error()}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
