package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// UserService implements the admin user-management actions. Callers are
// expected to have checked domain.PermManageUsers.
type UserService struct {
	userRepo repository.UserRepository
	sessions repository.SessionStore
	log      *logrus.Logger
}

func NewUserService(userRepo repository.UserRepository, sessions repository.SessionStore, logger *logrus.Logger) *UserService {
	return &UserService{
		userRepo: userRepo,
		sessions: sessions,
		log:      logger,
	}
}

type UserPage struct {
	Users  []*domain.User `json:"users"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (s *UserService) List(ctx context.Context, limit, offset int) (*UserPage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	users, total, err := s.userRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*domain.User{}
	}

	return &UserPage{Users: users, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "failed to load user")
	}
	return user, nil
}

// Suspend blocks the user and revokes every outstanding refresh token.
// Access tokens already issued stay verifiable until they expire, but
// CurrentUser refuses them.
func (s *UserService) Suspend(ctx context.Context, actorID, targetID uuid.UUID) (*domain.User, error) {
	if actorID == targetID {
		return nil, fmt.Errorf("%w: cannot suspend your own account", domain.ErrInvalidState)
	}

	user, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if !user.Suspended {
		user.Suspended = true
		if err := s.userRepo.Update(ctx, user); err != nil {
			return nil, notFoundOr(err, "failed to suspend user")
		}
	}

	if err := s.sessions.DeleteByUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.log.WithFields(logrus.Fields{"event": "suspend", "user_id": user.ID, "actor_id": actorID}).Info("user suspended")
	return user, nil
}

func (s *UserService) Reinstate(ctx context.Context, targetID uuid.UUID) (*domain.User, error) {
	user, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !user.Suspended {
		return user, nil
	}

	user.Suspended = false
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, notFoundOr(err, "failed to reinstate user")
	}

	s.log.WithFields(logrus.Fields{"event": "reinstate", "user_id": user.ID}).Info("user reinstated")
	return user, nil
}

// ChangeRole sets a new role and revokes the user's sessions so no token
// carrying the old role can be refreshed. Access tokens already issued are
// refused by the active-user check wherever it runs.
func (s *UserService) ChangeRole(ctx context.Context, actorID, targetID uuid.UUID, role domain.Role) (*domain.User, error) {
	if !role.IsValid() {
		return nil, &domain.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	if actorID == targetID {
		return nil, fmt.Errorf("%w: cannot change your own role", domain.ErrInvalidState)
	}

	user, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	previous := user.Role
	user.Role = role
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, notFoundOr(err, "failed to change role")
	}
	if err := s.sessions.DeleteByUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"event":    "role_change",
		"user_id":  user.ID,
		"actor_id": actorID,
		"from":     previous,
		"to":       role,
	}).Info("user role changed")
	return user, nil
}

// Delete removes the user together with its sessions and provider links.
func (s *UserService) Delete(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return fmt.Errorf("%w: cannot delete your own account", domain.ErrInvalidState)
	}

	if _, err := s.Get(ctx, targetID); err != nil {
		return err
	}

	// Sessions may live outside the database, so they are not left to the
	// foreign-key cascade.
	if err := s.sessions.DeleteByUser(ctx, targetID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	if err := s.userRepo.Delete(ctx, targetID); err != nil {
		return notFoundOr(err, "failed to delete user")
	}

	s.log.WithFields(logrus.Fields{"event": "delete", "user_id": targetID, "actor_id": actorID}).Info("user deleted")
	return nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
