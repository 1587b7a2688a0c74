package postgres

import (
	"context"

	"github.com/dom/school-portal/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type oauthAccountRepository struct {
	db *gorm.DB
}

func NewOAuthAccountRepository(db *gorm.DB) *oauthAccountRepository {
	return &oauthAccountRepository{db: db}
}

// Create inserts a link. A second link for the same provider account fails
// with domain.ErrAlreadyExists through the unique index.
func (r *oauthAccountRepository) Create(ctx context.Context, account *domain.OAuthAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return translateError(r.db.WithContext(ctx).Create(account).Error)
}

func (r *oauthAccountRepository) GetByProviderAccount(ctx context.Context, provider, providerAccountID string) (*domain.OAuthAccount, error) {
	var account domain.OAuthAccount
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).
		First(&account).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &account, nil
}

func (r *oauthAccountRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.OAuthAccount, error) {
	var accounts []*domain.OAuthAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("provider").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
