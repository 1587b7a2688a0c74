package domain

import (
	"fmt"
	"strings"
)

// Role is the fixed portal role a user holds
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// AllRoles contains all valid roles in order of privilege
var AllRoles = []Role{RoleAdmin, RoleTeacher, RoleStudent}

// IsValid checks if a role is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a user-friendly display name for the role
func (r Role) DisplayName() string {
	switch r {
	case RoleAdmin:
		return "Administrator"
	case RoleTeacher:
		return "Teacher"
	case RoleStudent:
		return "Student"
	default:
		return string(r)
	}
}

// ParseRole converts user input into a Role, case-insensitively.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.IsValid() {
		return "", &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", s)}
	}
	return role, nil
}
