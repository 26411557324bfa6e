// Package roster loads batches of reconciliation requests from a YAML
// file and applies them sequentially. It is the generalized form of the
// deployment's seed scripts: one roster entry per account to provision.
package roster

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/reconcile"
)

// Entry is one roster line. The password may be given literally or, for
// files that get committed somewhere, by naming an environment variable.
type Entry struct {
	Role        string `yaml:"role"`
	PRN         string `yaml:"prn"`
	Email       string `yaml:"email"`
	Password    string `yaml:"password,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`

	FullName   string `yaml:"full_name,omitempty"`
	Department string `yaml:"department,omitempty"`
	Branch     string `yaml:"branch,omitempty"`
	Year       string `yaml:"year_of_study,omitempty"`
	Division   string `yaml:"division,omitempty"`
	Phone      string `yaml:"phone,omitempty"`

	ForceRelink bool `yaml:"force_relink,omitempty"`
}

// File is the roster document shape.
type File struct {
	Entries []Entry `yaml:"entries"`
}

// Load reads and validates a roster file. Every entry is checked up
// front so a malformed line fails the whole batch before any store call.
func Load(path string) ([]reconcile.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(f.Entries) == 0 {
		return nil, fmt.Errorf("roster %s has no entries", path)
	}

	requests := make([]reconcile.Request, 0, len(f.Entries))
	for i, e := range f.Entries {
		req, err := e.toRequest()
		if err != nil {
			return nil, fmt.Errorf("roster entry %d (%s): %w", i+1, e.PRN, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (e Entry) toRequest() (reconcile.Request, error) {
	role, err := profile.ParseRole(e.Role)
	if err != nil {
		return reconcile.Request{}, err
	}
	if err := profile.ValidatePRN(e.PRN); err != nil {
		return reconcile.Request{}, err
	}
	if err := identity.ValidateEmail(e.Email); err != nil {
		return reconcile.Request{}, err
	}

	password := e.Password
	if e.PasswordEnv != "" {
		if password != "" {
			return reconcile.Request{}, fmt.Errorf("password and password_env are mutually exclusive")
		}
		password = os.Getenv(e.PasswordEnv)
		if password == "" {
			return reconcile.Request{}, fmt.Errorf("environment variable %s is empty", e.PasswordEnv)
		}
	}
	if password == "" {
		return reconcile.Request{}, fmt.Errorf("password or password_env is required")
	}

	return reconcile.Request{
		Role:        role,
		PRN:         profile.CanonicalPRN(e.PRN),
		Email:       identity.NormalizeEmail(e.Email),
		Credential:  identity.Secret(password),
		ForceRelink: e.ForceRelink,
		Attrs: reconcile.Attributes{
			FullName:   e.FullName,
			Department: e.Department,
			Branch:     e.Branch,
			Year:       e.Year,
			Division:   e.Division,
			Phone:      e.Phone,
		},
	}, nil
}

// Result pairs a request with its outcome.
type Result struct {
	Request reconcile.Request
	Outcome reconcile.Outcome
}

// Summary aggregates a batch run.
type Summary struct {
	Results []Result
	Counts  map[reconcile.Kind]int
}

// Failed reports whether any entry ended in Conflict or Failed. Callers
// must not report the batch as successful when it returns true.
func (s Summary) Failed() bool {
	return s.Counts[reconcile.Conflict] > 0 || s.Counts[reconcile.Failed] > 0
}

// Apply runs every request in order, continuing past per-entry failures
// so one bad record does not block the rest of the roster.
func Apply(ctx context.Context, rec *reconcile.Reconciler, requests []reconcile.Request) Summary {
	summary := Summary{Counts: make(map[reconcile.Kind]int)}
	for _, req := range requests {
		out, _ := rec.Reconcile(ctx, req)
		summary.Results = append(summary.Results, Result{Request: req, Outcome: out})
		summary.Counts[out.Kind]++
	}
	return summary
}
