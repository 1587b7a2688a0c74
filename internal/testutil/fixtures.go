package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/dom/school-portal/internal/crypto"
	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/repository"
	"github.com/google/uuid"
)

// UserBuilder creates test users with a builder pattern
type UserBuilder struct {
	email       string
	displayName string
	password    string
	role        domain.Role
	suspended   bool
}

// NewUserBuilder creates a new UserBuilder with default values
func NewUserBuilder() *UserBuilder {
	suffix := uuid.New().String()[:8]
	return &UserBuilder{
		email:       fmt.Sprintf("user_%s@school.example", suffix),
		displayName: fmt.Sprintf("Test User %s", suffix),
		password:    "testpassword123",
		role:        domain.RoleStudent,
	}
}

func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.email = email
	return b
}

// WithDisplayName sets the display name
func (b *UserBuilder) WithDisplayName(name string) *UserBuilder {
	b.displayName = name
	return b
}

// WithPassword sets the password
func (b *UserBuilder) WithPassword(password string) *UserBuilder {
	b.password = password
	return b
}

// WithoutPassword builds an OAuth-only account
func (b *UserBuilder) WithoutPassword() *UserBuilder {
	b.password = ""
	return b
}

func (b *UserBuilder) WithRole(role domain.Role) *UserBuilder {
	b.role = role
	return b
}

func (b *UserBuilder) WithSuspended() *UserBuilder {
	b.suspended = true
	return b
}

// Build stores the user through repo and returns it with the raw password
func (b *UserBuilder) Build(t *testing.T, repo repository.UserRepository) (*domain.User, string) {
	t.Helper()

	user := &domain.User{
		ID:          uuid.New(),
		Email:       b.email,
		Role:        b.role,
		DisplayName: b.displayName,
		Suspended:   b.suspended,
	}

	if b.password != "" {
		hashed, err := crypto.HashPassword(b.password)
		if err != nil {
			t.Fatalf("failed to hash password: %v", err)
		}
		user.PasswordHash = &hashed
	}

	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	return user, b.password
}
