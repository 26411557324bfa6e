// Package storetest provides in-memory store implementations with
// injectable failures for exercising the reconcile and verify paths
// without a database or network.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/store"
)

// Identities is an in-memory store.IdentityStore.
type Identities struct {
	mu      sync.Mutex
	byEmail map[string]*identity.Identity
	creds   map[string]identity.Secret
	nextID  int

	// Injectable failures.
	FindErr   error
	CreateErr error
	UpdateErr error

	// Mutation counters.
	Creates int
	Updates int
}

// NewIdentities returns an empty identity store.
func NewIdentities() *Identities {
	return &Identities{
		byEmail: make(map[string]*identity.Identity),
		creds:   make(map[string]identity.Secret),
	}
}

func (f *Identities) FindByEmail(_ context.Context, email string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	id, ok := f.byEmail[identity.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	cp := *id
	return &cp, nil
}

func (f *Identities) Create(_ context.Context, email string, credential identity.Secret, confirmed bool) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Creates++
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	email = identity.NormalizeEmail(email)
	if _, ok := f.byEmail[email]; ok {
		return nil, store.ErrEmailAlreadyRegistered
	}
	f.nextID++
	id := &identity.Identity{ID: fmt.Sprintf("fake-id-%03d", f.nextID), Email: email, Confirmed: confirmed}
	f.byEmail[email] = id
	f.creds[email] = credential
	cp := *id
	return &cp, nil
}

func (f *Identities) Update(_ context.Context, id string, upd store.IdentityUpdate) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Updates++
	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	for email, existing := range f.byEmail {
		if existing.ID != id {
			continue
		}
		if upd.Credential != nil {
			f.creds[email] = *upd.Credential
		}
		if upd.Confirmed != nil {
			existing.Confirmed = *upd.Confirmed
		}
		if upd.Email != nil {
			delete(f.byEmail, email)
			existing.Email = identity.NormalizeEmail(*upd.Email)
			f.byEmail[existing.Email] = existing
		}
		cp := *existing
		return &cp, nil
	}
	return nil, errors.New("identity not found")
}

func (f *Identities) SignIn(_ context.Context, email string, credential identity.Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = identity.NormalizeEmail(email)
	id, ok := f.byEmail[email]
	if !ok || !id.Confirmed || f.creds[email].Reveal() != credential.Reveal() {
		return store.ErrInvalidCredentials
	}
	return nil
}

// Profiles is an in-memory store.ProfileStore keyed on (role, canonical
// PRN).
type Profiles struct {
	mu   sync.Mutex
	rows map[string]*profile.Profile

	FindErr   error
	UpsertErr error

	Upserts int
}

// NewProfiles returns an empty profile store.
func NewProfiles() *Profiles {
	return &Profiles{rows: make(map[string]*profile.Profile)}
}

func key(role profile.Role, prn string) string {
	return string(role) + "/" + profile.CanonicalPRN(prn)
}

func (f *Profiles) FindByPRN(_ context.Context, role profile.Role, prn string) (*profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FindErr != nil {
		return nil, f.FindErr
	}
	p, ok := f.rows[key(role, prn)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *Profiles) Upsert(_ context.Context, p *profile.Profile) (*profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Upserts++
	if f.UpsertErr != nil {
		return nil, f.UpsertErr
	}
	cp := *p
	cp.PRN = profile.CanonicalPRN(p.PRN)
	cp.Email = identity.NormalizeEmail(p.Email)
	f.rows[key(p.Role, p.PRN)] = &cp
	out := cp
	return &out, nil
}

// Len reports the number of stored profiles.
func (f *Profiles) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

var (
	_ store.IdentityStore = (*Identities)(nil)
	_ store.ProfileStore  = (*Profiles)(nil)
)
