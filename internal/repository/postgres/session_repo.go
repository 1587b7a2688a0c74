package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/dom/school-portal/internal/crypto"
	"github.com/dom/school-portal/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type sessionStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessionStore(db *gorm.DB) *sessionStore {
	return &sessionStore{db: db, now: time.Now}
}

func (s *sessionStore) Create(ctx context.Context, userID uuid.UUID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return domain.ErrSessionTTL
	}
	return translateError(s.db.WithContext(ctx).Create(s.newSession(userID, token, ttl)).Error)
}

func (s *sessionStore) Lookup(ctx context.Context, token string) (uuid.UUID, bool, error) {
	var session domain.Session
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", crypto.HashToken(token), s.now()).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return session.UserID, true, nil
}

func (s *sessionStore) Delete(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).
		Where("token_hash = ?", crypto.HashToken(token)).
		Delete(&domain.Session{}).Error
}

// Rotate claims the old row with a single conditional DELETE and inserts
// the replacement in the same transaction. A concurrent rotation blocks on
// the row lock and then sees zero affected rows.
func (s *sessionStore) Rotate(ctx context.Context, oldToken, newToken string, userID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return domain.ErrSessionTTL
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("token_hash = ? AND user_id = ? AND expires_at > ?", crypto.HashToken(oldToken), userID, s.now()).
			Delete(&domain.Session{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrTokenInvalid
		}

		return translateError(tx.Create(s.newSession(userID, newToken, ttl)).Error)
	})
}

func (s *sessionStore) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.Session{}).Error
}

func (s *sessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now()).
		Delete(&domain.Session{})
	return result.RowsAffected, result.Error
}

func (s *sessionStore) newSession(userID uuid.UUID, token string, ttl time.Duration) *domain.Session {
	now := s.now()
	return &domain.Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: crypto.HashToken(token),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
