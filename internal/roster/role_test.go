package roster

import "testing"

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"student", RoleStudent},
		{"faculty", RoleFaculty},
		{"admin", RoleAdmin},
		{"hod", RoleHOD},
		{"support", RoleSupport},
		{"", RoleUnknown},
		{"Student", RoleUnknown},
		{"superuser", RoleUnknown},
		{"unknown", RoleUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseRole(tt.in); got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	if !RoleStudent.Valid() {
		t.Error("student should be valid")
	}
	if RoleUnknown.Valid() {
		t.Error("unknown should not be valid")
	}
	if Role("anything").Valid() {
		t.Error("arbitrary strings should not be valid")
	}
}
