package domain_test

import (
	"testing"

	"github.com/dom/school-portal/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name string
		role domain.Role
		perm domain.Permission
		want bool
	}{
		{"admin manages users", domain.RoleAdmin, domain.PermManageUsers, true},
		{"admin reads globally", domain.RoleAdmin, domain.PermGlobalRead, true},
		{"admin does not submit work", domain.RoleAdmin, domain.PermSubmitOwnWork, false},
		{"teacher manages own classes", domain.RoleTeacher, domain.PermManageOwnClasses, true},
		{"teacher grades submissions", domain.RoleTeacher, domain.PermGradeClassSubmissions, true},
		{"teacher manages enrollment", domain.RoleTeacher, domain.PermManageEnrollment, true},
		{"teacher cannot manage users", domain.RoleTeacher, domain.PermManageUsers, false},
		{"student submits own work", domain.RoleStudent, domain.PermSubmitOwnWork, true},
		{"student reads own grades", domain.RoleStudent, domain.PermReadOwnGrades, true},
		{"student cannot grade", domain.RoleStudent, domain.PermGradeClassSubmissions, false},
		{"student cannot manage users", domain.RoleStudent, domain.PermManageUsers, false},
		{"unknown role has nothing", domain.Role("janitor"), domain.PermGlobalRead, false},
		{"unknown permission is denied", domain.RoleAdmin, domain.Permission("root"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.HasPermission(tt.role, tt.perm))
		})
	}
}

func TestPermissionsFor(t *testing.T) {
	// Every granted permission is a known one, and HasPermission agrees with the list.
	for _, role := range domain.AllRoles {
		perms := domain.PermissionsFor(role)
		assert.NotEmpty(t, perms, "role %s", role)

		for _, p := range perms {
			assert.True(t, p.IsValid(), "role %s has unknown permission %s", role, p)
		}
		for _, p := range domain.AllPermissions {
			assert.Equal(t, contains(perms, p), domain.HasPermission(role, p), "role %s perm %s", role, p)
		}
	}

	assert.Empty(t, domain.PermissionsFor(domain.Role("ghost")))
}

func TestPermissionsFor_ReturnsCopy(t *testing.T) {
	perms := domain.PermissionsFor(domain.RoleStudent)
	perms[0] = domain.PermManageUsers

	assert.False(t, domain.HasPermission(domain.RoleStudent, domain.PermManageUsers))
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    domain.Role
		wantErr bool
	}{
		{input: "admin", want: domain.RoleAdmin},
		{input: " Teacher ", want: domain.RoleTeacher},
		{input: "STUDENT", want: domain.RoleStudent},
		{input: "principal", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := domain.ParseRole(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func contains(perms []domain.Permission, p domain.Permission) bool {
	for _, x := range perms {
		if x == p {
			return true
		}
	}
	return false
}
