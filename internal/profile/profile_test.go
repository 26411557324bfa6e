package profile

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"student", RoleStudent, false},
		{"Teacher", RoleTeacher, false},
		{"  ADMIN ", RoleAdmin, false},
		{"principal", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := ParseRole(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseRole(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRole(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalPRN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"rbt24cs028", "RBT24CS028"},
		{"RBT24CS028", "RBT24CS028"},
		{"  rbt24cs028 ", "RBT24CS028"},
		{"28", "28"},
	}
	for _, tc := range tests {
		if got := CanonicalPRN(tc.in); got != tc.want {
			t.Errorf("CanonicalPRN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	// The same real-world identifier in different casings must canonicalize
	// to one key.
	if CanonicalPRN("rbt24cs028") != CanonicalPRN("RBT24CS028") {
		t.Error("case variants of one PRN produced different canonical keys")
	}
}

func TestValidatePRN(t *testing.T) {
	valid := []string{"RBT24CS028", "2024STUDENT1", "28", "DIRECT_COLLISION_001", "fe-a-12"}
	for _, prn := range valid {
		if err := ValidatePRN(prn); err != nil {
			t.Errorf("ValidatePRN(%q) = %v, want nil", prn, err)
		}
	}

	invalid := []string{"", "   ", "prn with spaces", "prn/28", "../28", "prn@28"}
	for _, prn := range invalid {
		if err := ValidatePRN(prn); err == nil {
			t.Errorf("ValidatePRN(%q) = nil, want error", prn)
		}
	}
}

func TestProfileValidate(t *testing.T) {
	p := &Profile{PRN: "RBT24CS028", Role: RoleStudent}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	bad := []*Profile{
		nil,
		{PRN: "", Role: RoleStudent},
		{PRN: "RBT24CS028", Role: "hod"},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: Validate() = nil, want error", i)
		}
	}
}

func TestLinked(t *testing.T) {
	p := &Profile{PRN: "28", Role: RoleTeacher}
	if p.Linked() {
		t.Error("Linked() = true for profile without identity reference")
	}
	p.IdentityID = "4e9d8a60-7c5f-4f6e-9a1a-0c2d3b4e5f60"
	if !p.Linked() {
		t.Error("Linked() = false for profile with identity reference")
	}
}
