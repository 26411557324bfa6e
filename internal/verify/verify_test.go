package verify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/profile"
	"github.com/campusworks/rollsync/internal/reconcile"
	"github.com/campusworks/rollsync/internal/store/storetest"
)

func TestVerifyEmptyStores(t *testing.T) {
	v := New(storetest.NewIdentities(), storetest.NewProfiles())

	report, err := v.Verify(context.Background(), profile.RoleStudent, "RBT24CS028", nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.ProfileFound || report.IdentityFound || report.InSync() {
		t.Errorf("empty stores report = %+v, want all false", report)
	}
}

func TestVerifyAfterReconcileRoundTrip(t *testing.T) {
	ctx := context.Background()
	ids := storetest.NewIdentities()
	profs := storetest.NewProfiles()

	rec := reconcile.New(ids, profs, zerolog.Nop())
	out, err := rec.Reconcile(ctx, reconcile.Request{
		Role:       profile.RoleStudent,
		PRN:        "rbt24cs028",
		Email:      "rbt24cs028@gfm.com",
		Credential: identity.Secret("123456"),
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.Kind != reconcile.Created {
		t.Fatalf("Kind = %s, want created", out.Kind)
	}

	v := New(ids, profs)
	report, err := v.Verify(ctx, profile.RoleStudent, "rbt24cs028", nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.IdentityFound || !report.ProfileFound || !report.EmailsMatch {
		t.Errorf("report = %+v, want identityFound/profileFound/emailsMatch all true", report)
	}
	if !report.InSync() {
		t.Error("InSync() = false after successful reconcile")
	}
	if report.IdentityID != out.IdentityID {
		t.Errorf("report identity = %q, want %q", report.IdentityID, out.IdentityID)
	}
}

func TestVerifyCredentialProbe(t *testing.T) {
	ctx := context.Background()
	ids := storetest.NewIdentities()
	profs := storetest.NewProfiles()

	id, err := ids.Create(ctx, "student1@test.com", identity.Secret("password123"), true)
	if err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	if _, err := profs.Upsert(ctx, &profile.Profile{
		PRN: "2024STUDENT1", Role: profile.RoleStudent, Email: "student1@test.com", IdentityID: id.ID,
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	v := New(ids, profs)

	good := identity.Secret("password123")
	report, err := v.Verify(ctx, profile.RoleStudent, "2024STUDENT1", &good)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.CredentialValid == nil || !*report.CredentialValid {
		t.Errorf("CredentialValid = %v, want true", report.CredentialValid)
	}

	// A failed probe is recorded as false, never returned as an error.
	bad := identity.Secret("wrong")
	report, err = v.Verify(ctx, profile.RoleStudent, "2024STUDENT1", &bad)
	if err != nil {
		t.Fatalf("Verify with bad probe: %v", err)
	}
	if report.CredentialValid == nil || *report.CredentialValid {
		t.Errorf("CredentialValid = %v, want false", report.CredentialValid)
	}

	// Without a probe the field stays unset.
	report, err = v.Verify(ctx, profile.RoleStudent, "2024STUDENT1", nil)
	if err != nil {
		t.Fatalf("Verify without probe: %v", err)
	}
	if report.CredentialValid != nil {
		t.Errorf("CredentialValid = %v, want nil", report.CredentialValid)
	}
}

func TestVerifyDetectsDrift(t *testing.T) {
	ctx := context.Background()
	ids := storetest.NewIdentities()
	profs := storetest.NewProfiles()

	// Profile whose contact email has no auth account behind it: the
	// half-finished signup case.
	if _, err := profs.Upsert(ctx, &profile.Profile{
		PRN: "28", Role: profile.RoleTeacher, Email: "t28.gfm@gmail.com",
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	v := New(ids, profs)
	report, err := v.Verify(ctx, profile.RoleTeacher, "28", nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.ProfileFound {
		t.Error("ProfileFound = false")
	}
	if report.IdentityFound {
		t.Error("IdentityFound = true for missing account")
	}
	if report.InSync() {
		t.Error("InSync() = true for drifted records")
	}

	// Account exists but the profile does not reference it.
	id, err := ids.Create(ctx, "t28.gfm@gmail.com", identity.Secret("pw"), true)
	if err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	report, err = v.Verify(ctx, profile.RoleTeacher, "28", nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.IdentityFound || !report.EmailsMatch {
		t.Errorf("report = %+v, want identity found with matching email", report)
	}
	if report.Linked {
		t.Error("Linked = true although profile has no identity reference")
	}
	if report.IdentityID != id.ID {
		t.Errorf("IdentityID = %q, want %q", report.IdentityID, id.ID)
	}
}

func TestVerifyDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	ids := storetest.NewIdentities()
	profs := storetest.NewProfiles()

	id, _ := ids.Create(ctx, "admin1@test.com", identity.Secret("password123"), true)
	_, _ = profs.Upsert(ctx, &profile.Profile{
		PRN: "ADMIN1", Role: profile.RoleAdmin, Email: "admin1@test.com", IdentityID: id.ID,
	})
	ids.Creates, ids.Updates, profs.Upserts = 0, 0, 0

	probe := identity.Secret("password123")
	if _, err := New(ids, profs).Verify(ctx, profile.RoleAdmin, "admin1", &probe); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if ids.Creates != 0 || ids.Updates != 0 || profs.Upserts != 0 {
		t.Errorf("verify mutated stores: creates=%d updates=%d upserts=%d",
			ids.Creates, ids.Updates, profs.Upserts)
	}
}

func TestVerifyValidation(t *testing.T) {
	v := New(storetest.NewIdentities(), storetest.NewProfiles())

	if _, err := v.Verify(context.Background(), "hod", "28", nil); err == nil {
		t.Error("Verify with bad role = nil error")
	}
	if _, err := v.Verify(context.Background(), profile.RoleStudent, "bad key!", nil); err == nil {
		t.Error("Verify with bad prn = nil error")
	}
}
