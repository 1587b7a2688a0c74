package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dom/school-portal/internal/auth"
	"github.com/dom/school-portal/internal/crypto"
	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/metrics"
	"github.com/dom/school-portal/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type AuthService struct {
	userRepo    repository.UserRepository
	accountRepo repository.OAuthAccountRepository
	sessions    repository.SessionStore
	issuer      *auth.Issuer
	log         *logrus.Logger
	metrics     *metrics.Metrics
}

func NewAuthService(
	userRepo repository.UserRepository,
	accountRepo repository.OAuthAccountRepository,
	sessions repository.SessionStore,
	issuer *auth.Issuer,
	logger *logrus.Logger,
	m *metrics.Metrics,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		accountRepo: accountRepo,
		sessions:    sessions,
		issuer:      issuer,
		log:         logger,
		metrics:     m,
	}
}

type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

type LoginInput struct {
	Email    string
	Password string
}

// OAuthCallbackInput carries the identity a provider vouched for. LinkUserID
// is set when the browser already holds a valid session, in which case the
// provider account is linked to that user instead of being matched by email.
type OAuthCallbackInput struct {
	Provider          string
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	DisplayName       string
	TokenMaterial     []byte
	LinkUserID        *uuid.UUID
}

type AuthResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
}

// Register creates a student account and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	email := domain.NormalizeEmail(input.Email)

	_, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		s.metrics.AuthEvent(metrics.EventRegister, metrics.OutcomeDenied)
		return nil, domain.ErrEmailTaken
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		if errors.Is(err, crypto.ErrEmptyPassword) {
			return nil, &domain.ValidationError{Field: "password", Message: "password is required"}
		}
		return nil, err
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: &hashed,
		Role:         domain.RoleStudent,
		DisplayName:  strings.TrimSpace(input.DisplayName),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.metrics.AuthEvent(metrics.EventRegister, metrics.OutcomeDenied)
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	result, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.metrics.AuthEvent(metrics.EventRegister, metrics.OutcomeSuccess)
	s.log.WithFields(logrus.Fields{"event": metrics.EventRegister, "user_id": user.ID}).Info("user registered")
	return result, nil
}

// Login checks the password before the suspension flag so a wrong password
// never reveals that an account is suspended.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	user, err := s.userRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.AuthEvent(metrics.EventLogin, metrics.OutcomeFailure)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !user.HasPassword() || input.Password == "" {
		s.metrics.AuthEvent(metrics.EventLogin, metrics.OutcomeFailure)
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := crypto.VerifyPassword(input.Password, *user.PasswordHash)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Error("stored password hash is unreadable")
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.metrics.AuthEvent(metrics.EventLogin, metrics.OutcomeFailure)
		return nil, domain.ErrInvalidCredentials
	}

	if user.Suspended {
		s.metrics.AuthEvent(metrics.EventLogin, metrics.OutcomeDenied)
		return nil, domain.ErrAccountSuspended
	}

	result, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.metrics.AuthEvent(metrics.EventLogin, metrics.OutcomeSuccess)
	s.log.WithFields(logrus.Fields{"event": metrics.EventLogin, "user_id": user.ID}).Info("user logged in")
	return result, nil
}

// OAuthCallback signs in through an external provider, creating the local
// user and the provider link on first use. A provider account belongs to at
// most one local user.
func (s *AuthService) OAuthCallback(ctx context.Context, input OAuthCallbackInput) (*AuthResult, error) {
	if input.Provider == "" || input.ProviderAccountID == "" {
		return nil, &domain.ValidationError{Field: "provider", Message: "provider identity is missing"}
	}

	user, err := s.resolveOAuthUser(ctx, input)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) || errors.Is(err, domain.ErrForbidden) {
			s.metrics.AuthEvent(metrics.EventOAuth, metrics.OutcomeDenied)
		}
		return nil, err
	}

	result, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.metrics.AuthEvent(metrics.EventOAuth, metrics.OutcomeSuccess)
	s.log.WithFields(logrus.Fields{
		"event":    metrics.EventOAuth,
		"provider": input.Provider,
		"user_id":  user.ID,
	}).Info("user signed in with provider")
	return result, nil
}

func (s *AuthService) resolveOAuthUser(ctx context.Context, input OAuthCallbackInput) (*domain.User, error) {
	link, err := s.accountRepo.GetByProviderAccount(ctx, input.Provider, input.ProviderAccountID)
	switch {
	case err == nil:
		return s.linkedUser(ctx, link, input.LinkUserID)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("failed to load provider link: %w", err)
	}

	user, err := s.oauthTarget(ctx, input)
	if err != nil {
		return nil, err
	}
	if user.Suspended {
		return nil, domain.ErrAccountSuspended
	}

	err = s.accountRepo.Create(ctx, &domain.OAuthAccount{
		ID:                uuid.New(),
		UserID:            user.ID,
		Provider:          input.Provider,
		ProviderAccountID: input.ProviderAccountID,
		TokenMaterial:     datatypes.JSON(input.TokenMaterial),
	})
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrAlreadyExists) {
		return nil, fmt.Errorf("failed to link provider account: %w", err)
	}

	// Another request linked the same provider account first.
	link, err = s.accountRepo.GetByProviderAccount(ctx, input.Provider, input.ProviderAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider link: %w", err)
	}
	if link.UserID != user.ID {
		return nil, domain.ErrAccountLinked
	}
	return user, nil
}

func (s *AuthService) linkedUser(ctx context.Context, link *domain.OAuthAccount, intended *uuid.UUID) (*domain.User, error) {
	if intended != nil && *intended != link.UserID {
		return nil, domain.ErrAccountLinked
	}

	user, err := s.userRepo.GetByID(ctx, link.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked user: %w", err)
	}
	if user.Suspended {
		return nil, domain.ErrAccountSuspended
	}
	return user, nil
}

// oauthTarget picks the local user a new provider link attaches to: the
// signed-in user, else the owner of the provider's verified email, else a
// new student account.
func (s *AuthService) oauthTarget(ctx context.Context, input OAuthCallbackInput) (*domain.User, error) {
	if input.LinkUserID != nil {
		user, err := s.userRepo.GetByID(ctx, *input.LinkUserID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.ErrUnauthorized
			}
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		return user, nil
	}

	email := domain.NormalizeEmail(input.Email)
	if email == "" {
		return nil, &domain.ValidationError{Field: "email", Message: "provider did not share an email address"}
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		if !input.EmailVerified {
			return nil, domain.ErrEmailTaken
		}
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	user = &domain.User{
		ID:          uuid.New(),
		Email:       email,
		Role:        domain.RoleStudent,
		DisplayName: displayName,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return s.userRepo.GetByEmail(ctx, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Refresh exchanges a refresh token for a new token pair. The old token is
// rotated out atomically, so replaying it, or losing a race against a
// concurrent refresh of it, fails with domain.ErrTokenInvalid.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	result, err := s.refresh(ctx, refreshToken)
	if err != nil {
		s.metrics.AuthEvent(metrics.EventRefresh, metrics.OutcomeFailure)
		return nil, err
	}
	s.metrics.AuthEvent(metrics.EventRefresh, metrics.OutcomeSuccess)
	return result, nil
}

func (s *AuthService) refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	identity, err := s.issuer.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	userID, found, err := s.sessions.Lookup(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if !found || userID != identity.UserID {
		return nil, domain.ErrTokenInvalid
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.Suspended {
		return nil, domain.ErrAccountSuspended
	}

	access, err := s.issuer.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Rotate(ctx, refreshToken, refresh.Value, user.ID, s.issuer.RefreshTTL()); err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			s.log.WithFields(logrus.Fields{"event": metrics.EventRefresh, "user_id": user.ID}).Warn("refresh token already rotated")
			return nil, err
		}
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	return &AuthResult{
		User:         user,
		AccessToken:  access.Value,
		RefreshToken: refresh.Value,
	}, nil
}

// Logout forgets the session behind refreshToken. Unknown, expired or empty
// tokens are not an error; only a datastore failure is.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.metrics.AuthEvent(metrics.EventLogout, metrics.OutcomeSuccess)
	return nil
}

// CurrentUser loads the signed-in user, refusing suspended accounts.
func (s *AuthService) CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.Suspended {
		return nil, domain.ErrAccountSuspended
	}
	return user, nil
}

func (s *AuthService) AccessTokenTTL() int  { return int(s.issuer.AccessTTL().Seconds()) }
func (s *AuthService) RefreshTokenTTL() int { return int(s.issuer.RefreshTTL().Seconds()) }

func (s *AuthService) startSession(ctx context.Context, user *domain.User) (*AuthResult, error) {
	access, err := s.issuer.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issuer.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, user.ID, refresh.Value, s.issuer.RefreshTTL()); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return &AuthResult{
		User:         user,
		AccessToken:  access.Value,
		RefreshToken: refresh.Value,
	}, nil
}
