package domain

// Permission names an action a role may perform
type Permission string

const (
	PermManageUsers           Permission = "users:manage"
	PermGlobalRead            Permission = "global:read"
	PermManageOwnClasses      Permission = "classes:manage-own"
	PermManageOwnAssignments  Permission = "assignments:manage-own"
	PermGradeClassSubmissions Permission = "submissions:grade-class"
	PermManageEnrollment      Permission = "enrollment:manage"
	PermReadOwnEnrollment     Permission = "enrollment:read-own"
	PermReadOwnAssignments    Permission = "assignments:read-own"
	PermReadOwnGrades         Permission = "grades:read-own"
	PermSubmitOwnWork         Permission = "submissions:submit-own"
)

// AllPermissions contains every permission known to the portal
var AllPermissions = []Permission{
	PermManageUsers,
	PermGlobalRead,
	PermManageOwnClasses,
	PermManageOwnAssignments,
	PermGradeClassSubmissions,
	PermManageEnrollment,
	PermReadOwnEnrollment,
	PermReadOwnAssignments,
	PermReadOwnGrades,
	PermSubmitOwnWork,
}

// rolePermissions is the static grant table. A role holds exactly the
// permissions listed here and nothing else.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermManageUsers,
		PermGlobalRead,
	},
	RoleTeacher: {
		PermManageOwnClasses,
		PermManageOwnAssignments,
		PermGradeClassSubmissions,
		PermManageEnrollment,
	},
	RoleStudent: {
		PermReadOwnEnrollment,
		PermReadOwnAssignments,
		PermReadOwnGrades,
		PermSubmitOwnWork,
	},
}

// HasPermission reports whether role is granted perm
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsFor returns a copy of the permissions granted to role.
// Unknown roles get an empty slice.
func PermissionsFor(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// IsValid checks if a permission is one of the known permissions
func (p Permission) IsValid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}
