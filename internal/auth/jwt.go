package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dom/school-portal/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

type Claims struct {
	Role domain.Role `json:"role,omitempty"`
	Type TokenType   `json:"typ"`
	jwt.RegisteredClaims
}

// Token is a signed token together with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Identity is what a verified token says about its bearer.
// Role is empty for refresh tokens.
type Identity struct {
	UserID    uuid.UUID
	Role      domain.Role
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 access and refresh tokens.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *Issuer) IssueAccessToken(userID uuid.UUID, role domain.Role) (Token, error) {
	return i.sign(userID, role, TokenTypeAccess, i.accessTTL)
}

// IssueRefreshToken signs a refresh token. Each call carries a fresh jti, so
// two refresh tokens issued in the same second still differ.
func (i *Issuer) IssueRefreshToken(userID uuid.UUID) (Token, error) {
	return i.sign(userID, "", TokenTypeRefresh, i.refreshTTL)
}

func (i *Issuer) VerifyAccessToken(tokenString string) (*Identity, error) {
	return i.verify(tokenString, TokenTypeAccess)
}

func (i *Issuer) VerifyRefreshToken(tokenString string) (*Identity, error) {
	return i.verify(tokenString, TokenTypeRefresh)
}

func (i *Issuer) sign(userID uuid.UUID, role domain.Role, typ TokenType, ttl time.Duration) (Token, error) {
	now := i.now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

func (i *Issuer) verify(tokenString string, want TokenType) (*Identity, error) {
	if tokenString == "" {
		return nil, domain.ErrTokenInvalid
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	if claims.Type != want {
		return nil, fmt.Errorf("%w: expected %s token", domain.ErrTokenInvalid, want)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", domain.ErrTokenInvalid)
	}

	if want == TokenTypeAccess && !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role", domain.ErrTokenInvalid)
	}

	return &Identity{
		UserID:    userID,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
