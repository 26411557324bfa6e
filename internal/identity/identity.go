// Package identity defines the authentication-account record managed by an
// Identity Store (a GoTrue-style auth service or the local sqlite store).
package identity

import (
	"fmt"
	"strings"
	"time"
)

// Identity is one authentication account. The ID is assigned by the store
// and is opaque and immutable once created. Email is unique across the
// store and is kept in normalized (trimmed, lower-case) form.
type Identity struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Confirmed bool              `json:"confirmed"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
	UpdatedAt time.Time         `json:"updated_at,omitempty"`
}

// Secret is a credential value. It renders as a fixed placeholder in
// String, GoString, and JSON output so passwords cannot leak through
// logging, %v/%#v formatting, or serialized outcomes. Store clients obtain
// the plaintext via Reveal.
type Secret string

const redacted = "[redacted]"

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return "identity.Secret(" + redacted + ")" }

func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// Reveal returns the underlying plaintext credential.
func (s Secret) Reveal() string { return string(s) }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s == "" }

// NormalizeEmail trims surrounding whitespace and lower-cases an address.
// Source data contains mixed-case and padded emails; every store call goes
// through this first.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail performs the syntactic check applied before any store
// call: non-empty, exactly one @ with non-empty local part, and a domain
// containing a dot. Full RFC validation is left to the auth service.
func ValidateEmail(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	domain := email[at+1:]
	if domain == "" || !strings.Contains(domain, ".") || strings.ContainsAny(email, " \t") {
		return fmt.Errorf("invalid email %q", email)
	}
	return nil
}
