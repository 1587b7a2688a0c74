package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dom/school-portal/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore keeps users and OAuth links in memory with the same error
// kinds as the Postgres repositories. Deleting a user removes its links.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]domain.User
	accounts map[string]domain.OAuthAccount
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[uuid.UUID]domain.User),
		accounts: make(map[string]domain.OAuthAccount),
	}
}

func (m *MemoryStore) Users() *MemoryUserRepository {
	return &MemoryUserRepository{store: m}
}

func (m *MemoryStore) OAuthAccounts() *MemoryOAuthAccountRepository {
	return &MemoryOAuthAccountRepository{store: m}
}

type MemoryUserRepository struct {
	store *MemoryStore
}

func (r *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = domain.NormalizeEmail(user.Email)
	if user.Role == "" {
		user.Role = domain.RoleStudent
	}
	if _, ok := m.users[user.ID]; ok {
		return fmt.Errorf("%w: duplicate id", domain.ErrAlreadyExists)
	}
	for _, u := range m.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: duplicate email", domain.ErrAlreadyExists)
		}
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	email = domain.NormalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryUserRepository) List(_ context.Context, limit, offset int) ([]*domain.User, int64, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		u := u
		all = append(all, &u)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := int64(len(all))
	if offset >= len(all) {
		return []*domain.User{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user *domain.User) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[user.ID]
	if !ok {
		return domain.ErrNotFound
	}
	user.Email = domain.NormalizeEmail(user.Email)
	for id, u := range m.users {
		if id != user.ID && u.Email == user.Email {
			return fmt.Errorf("%w: duplicate email", domain.ErrAlreadyExists)
		}
	}

	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now()
	m.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) Delete(_ context.Context, id uuid.UUID) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.users, id)
	for key, a := range m.accounts {
		if a.UserID == id {
			delete(m.accounts, key)
		}
	}
	return nil
}

type MemoryOAuthAccountRepository struct {
	store *MemoryStore
}

func accountKey(provider, providerAccountID string) string {
	return provider + "\x00" + providerAccountID
}

func (r *MemoryOAuthAccountRepository) Create(_ context.Context, account *domain.OAuthAccount) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[account.UserID]; !ok {
		return fmt.Errorf("user %s does not exist", account.UserID)
	}
	key := accountKey(account.Provider, account.ProviderAccountID)
	if _, ok := m.accounts[key]; ok {
		return fmt.Errorf("%w: duplicate provider account", domain.ErrAlreadyExists)
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	m.accounts[key] = *account
	return nil
}

func (r *MemoryOAuthAccountRepository) GetByProviderAccount(_ context.Context, provider, providerAccountID string) (*domain.OAuthAccount, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *MemoryOAuthAccountRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]*domain.OAuthAccount, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.OAuthAccount
	for _, a := range m.accounts {
		if a.UserID == userID {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
