package roster

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/reconcile"
	"github.com/campusworks/rollsync/internal/store"
	"github.com/campusworks/rollsync/internal/store/storetest"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	return path
}

const validRoster = `entries:
  - role: student
    prn: rbt24cs028
    email: rbt24cs028@gfm.com
    password: "123456"
    full_name: Student One
    branch: CSE
    year_of_study: FE
    division: A
  - role: teacher
    prn: "28"
    email: t28.gfm@gmail.com
    password: password123
    full_name: Teacher TwentyEight
    department: CSE
`

func TestLoad(t *testing.T) {
	path := writeRoster(t, validRoster)

	requests, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("len(requests) = %d, want 2", len(requests))
	}

	first := requests[0]
	if first.Role != profile.RoleStudent {
		t.Errorf("role = %s, want student", first.Role)
	}
	if first.PRN != "RBT24CS028" {
		t.Errorf("PRN = %q, want canonical form", first.PRN)
	}
	if first.Credential.Reveal() != "123456" {
		t.Error("credential not carried through")
	}
	if first.Attrs.Branch != "CSE" || first.Attrs.Year != "FE" {
		t.Errorf("attrs = %+v", first.Attrs)
	}
}

func TestLoadPasswordEnv(t *testing.T) {
	t.Setenv("ROSTER_TEST_PASSWORD", "from-env")
	path := writeRoster(t, `entries:
  - role: admin
    prn: ADMIN1
    email: admin1@test.com
    password_env: ROSTER_TEST_PASSWORD
`)

	requests, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if requests[0].Credential.Reveal() != "from-env" {
		t.Error("password_env not resolved")
	}
}

func TestLoadRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"empty file", `entries: []`},
		{"bad role", "entries:\n  - role: hod\n    prn: X1\n    email: a@b.co\n    password: pw\n"},
		{"bad email", "entries:\n  - role: admin\n    prn: X1\n    email: nope\n    password: pw\n"},
		{"no password", "entries:\n  - role: admin\n    prn: X1\n    email: a@b.co\n"},
		{"both password forms", "entries:\n  - role: admin\n    prn: X1\n    email: a@b.co\n    password: pw\n    password_env: SOME_VAR\n"},
		{"unset env", "entries:\n  - role: admin\n    prn: X1\n    email: a@b.co\n    password_env: ROSTER_TEST_UNSET_VAR\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeRoster(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Error("Load = nil error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file = nil error")
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	ids := storetest.NewIdentities()
	profs := storetest.NewProfiles()
	rec := reconcile.New(ids, profs, zerolog.Nop())

	requests, err := Load(writeRoster(t, validRoster))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	summary := Apply(ctx, rec, requests)
	if len(summary.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(summary.Results))
	}
	if summary.Counts[reconcile.Created] != 2 {
		t.Errorf("created = %d, want 2", summary.Counts[reconcile.Created])
	}
	if summary.Failed() {
		t.Error("Failed() = true for a clean batch")
	}

	// Re-apply is idempotent: everything comes back Updated.
	summary = Apply(ctx, rec, requests)
	if summary.Counts[reconcile.Updated] != 2 {
		t.Errorf("updated = %d, want 2 on re-apply", summary.Counts[reconcile.Updated])
	}
	if profs.Len() != 2 {
		t.Errorf("profile rows = %d, want 2", profs.Len())
	}
}

func TestApplyContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	ids := storetest.NewIdentities()
	profs := storetest.NewProfiles()
	rec := reconcile.New(ids, profs, zerolog.Nop())

	// Second entry collides with an identity linked to another profile.
	owner, _ := ids.Create(ctx, "t28.gfm@gmail.com", "owner-pass", true)
	_, _ = profs.Upsert(ctx, &profile.Profile{
		PRN: "99", Role: profile.RoleTeacher, Email: "t28.gfm@gmail.com", IdentityID: owner.ID,
	})
	other, _ := ids.Create(ctx, "teacher28@test.com", "pw", true)
	_, _ = profs.Upsert(ctx, &profile.Profile{
		PRN: "28", Role: profile.RoleTeacher, Email: "teacher28@test.com", IdentityID: other.ID,
	})

	requests, err := Load(writeRoster(t, validRoster))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	summary := Apply(ctx, rec, requests)
	if summary.Counts[reconcile.Conflict] != 1 {
		t.Errorf("conflicts = %d, want 1", summary.Counts[reconcile.Conflict])
	}
	if summary.Counts[reconcile.Created] != 1 {
		t.Errorf("created = %d, want 1 (batch must continue past the conflict)", summary.Counts[reconcile.Created])
	}
	if !summary.Failed() {
		t.Error("Failed() = false although the batch had a conflict")
	}
}

func TestApplyCountsStoreFailures(t *testing.T) {
	ctx := context.Background()
	ids := storetest.NewIdentities()
	ids.FindErr = store.NewTransportError("identity find", os.ErrDeadlineExceeded)
	rec := reconcile.New(ids, storetest.NewProfiles(), zerolog.Nop())

	requests, err := Load(writeRoster(t, validRoster))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	summary := Apply(ctx, rec, requests)
	if summary.Counts[reconcile.Failed] != 2 {
		t.Errorf("failed = %d, want 2", summary.Counts[reconcile.Failed])
	}
	if !summary.Failed() {
		t.Error("Failed() = false although every entry failed")
	}
}
