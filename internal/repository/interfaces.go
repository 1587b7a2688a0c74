package repository

import (
	"context"
	"time"

	"github.com/dom/school-portal/internal/domain"
	"github.com/google/uuid"
)

// Repositories return domain.ErrNotFound for missing rows and
// domain.ErrAlreadyExists for unique violations. Other datastore errors are
// returned wrapped.

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, limit, offset int) ([]*domain.User, int64, error)
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type OAuthAccountRepository interface {
	Create(ctx context.Context, account *domain.OAuthAccount) error
	GetByProviderAccount(ctx context.Context, provider, providerAccountID string) (*domain.OAuthAccount, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.OAuthAccount, error)
}

// SessionStore tracks outstanding refresh tokens. Implementations key on a
// hash of the token, never the token itself.
type SessionStore interface {
	Create(ctx context.Context, userID uuid.UUID, token string, ttl time.Duration) error
	// Lookup returns found=false with a nil error for unknown or expired tokens.
	Lookup(ctx context.Context, token string) (userID uuid.UUID, found bool, err error)
	// Delete is idempotent.
	Delete(ctx context.Context, token string) error
	// Rotate atomically replaces oldToken with newToken. It fails with
	// domain.ErrTokenInvalid when oldToken is unknown, expired, already
	// rotated or owned by another user. Of two concurrent rotations of the
	// same token exactly one succeeds.
	Rotate(ctx context.Context, oldToken, newToken string, userID uuid.UUID, ttl time.Duration) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type Repositories struct {
	User         UserRepository
	OAuthAccount OAuthAccountRepository
	Session      SessionStore
}
