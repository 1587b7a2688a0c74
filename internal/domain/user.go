package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash *string   `json:"-"`
	Role         Role      `json:"role" gorm:"type:varchar(16);not null;default:'student'"`
	DisplayName  string    `json:"displayName" gorm:"not null"`
	Suspended    bool      `json:"suspended" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasPassword reports whether the account can log in with a password.
// OAuth-only accounts have no password hash.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Session backs one outstanding refresh token. Only the token hash is stored.
type Session struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID    uuid.UUID `json:"userId" gorm:"type:uuid;not null;index"`
	User      *User     `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expiresAt" gorm:"not null;index"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OAuthAccount links an external identity to a local user.
type OAuthAccount struct {
	ID                uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID            uuid.UUID      `json:"userId" gorm:"type:uuid;not null;index"`
	User              *User          `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Provider          string         `json:"provider" gorm:"uniqueIndex:idx_oauth_provider_account;not null"`
	ProviderAccountID string         `json:"providerAccountId" gorm:"uniqueIndex:idx_oauth_provider_account;not null"`
	TokenMaterial     datatypes.JSON `json:"-"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

func (OAuthAccount) TableName() string {
	return "oauth_accounts"
}

// NormalizeEmail trims and lower-cases an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
