package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dom/school-portal/internal/auth"
	"github.com/dom/school-portal/internal/crypto"
	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/logging"
	"github.com/dom/school-portal/internal/metrics"
	"github.com/dom/school-portal/internal/repository"
	"github.com/dom/school-portal/internal/service"
	"github.com/dom/school-portal/internal/testutil"
	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	repos   *repository.Repositories
	issuer  *auth.Issuer
	metrics *metrics.Metrics
	auth    *service.AuthService
	users   *service.UserService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	_, _, repos := testutil.NewMemoryRepositories(t)
	issuer := auth.NewIssuer("service-test-secret", "school-portal-test", 15*time.Minute, time.Hour)
	m := metrics.New()
	services := service.NewServices(repos, issuer, logging.Discard(), m)

	return &harness{
		repos:   repos,
		issuer:  issuer,
		metrics: m,
		auth:    services.Auth,
		users:   services.User,
	}
}

func oauthCallbackFor(accountID, email string) service.OAuthCallbackInput {
	return service.OAuthCallbackInput{
		Provider:          "github",
		ProviderAccountID: accountID,
		Email:             email,
		EmailVerified:     true,
	}
}

func (h *harness) authEvents(event, outcome string) float64 {
	return promtest.ToFloat64(h.metrics.AuthEventsTotal.WithLabelValues(event, outcome))
}

func TestAuthService_Register(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testutil.NewUserBuilder().WithEmail("existing@school.example").Build(t, h.repos.User)

	tests := []struct {
		name    string
		input   service.RegisterInput
		wantErr error
	}{
		{
			name:  "successful registration",
			input: service.RegisterInput{Email: "  New@School.example ", Password: "password123", DisplayName: " Newbie "},
		},
		{
			name:    "duplicate email",
			input:   service.RegisterInput{Email: "EXISTING@school.example", Password: "password123", DisplayName: "Dup"},
			wantErr: domain.ErrEmailTaken,
		},
		{
			name:    "empty password",
			input:   service.RegisterInput{Email: "nopass@school.example", DisplayName: "No Pass"},
			wantErr: domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.auth.Register(ctx, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "new@school.example", result.User.Email)
			assert.Equal(t, "Newbie", result.User.DisplayName)
			assert.Equal(t, domain.RoleStudent, result.User.Role)
			require.True(t, result.User.HasPassword())
			assert.NotEqual(t, tt.input.Password, *result.User.PasswordHash)

			ok, err := crypto.VerifyPassword(tt.input.Password, *result.User.PasswordHash)
			require.NoError(t, err)
			assert.True(t, ok)

			identity, err := h.issuer.VerifyAccessToken(result.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, result.User.ID, identity.UserID)
			assert.Equal(t, domain.RoleStudent, identity.Role)

			userID, found, err := h.repos.Session.Lookup(ctx, result.RefreshToken)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, result.User.ID, userID)
		})
	}

	assert.Equal(t, 1.0, h.authEvents(metrics.EventRegister, metrics.OutcomeSuccess))
	assert.Equal(t, 1.0, h.authEvents(metrics.EventRegister, metrics.OutcomeDenied))
}

func TestAuthService_Login(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	active, password := testutil.NewUserBuilder().
		WithEmail("active@school.example").
		WithRole(domain.RoleTeacher).
		Build(t, h.repos.User)
	testutil.NewUserBuilder().WithEmail("suspended@school.example").WithPassword(password).WithSuspended().Build(t, h.repos.User)
	testutil.NewUserBuilder().WithEmail("oauth@school.example").WithoutPassword().Build(t, h.repos.User)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"valid credentials", "active@school.example", password, nil},
		{"email is normalized", " ACTIVE@school.example", password, nil},
		{"wrong password", "active@school.example", "wrong-password", domain.ErrInvalidCredentials},
		{"unknown email", "ghost@school.example", password, domain.ErrInvalidCredentials},
		{"empty password", "active@school.example", "", domain.ErrInvalidCredentials},
		{"account without password", "oauth@school.example", password, domain.ErrInvalidCredentials},
		{"suspended with correct password", "suspended@school.example", password, domain.ErrAccountSuspended},
		{"suspended with wrong password", "suspended@school.example", "wrong-password", domain.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.auth.Login(ctx, service.LoginInput{Email: tt.email, Password: tt.password})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, active.ID, result.User.ID)

			identity, err := h.issuer.VerifyAccessToken(result.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, domain.RoleTeacher, identity.Role)
		})
	}

	assert.Equal(t, 2.0, h.authEvents(metrics.EventLogin, metrics.OutcomeSuccess))
	assert.Equal(t, 1.0, h.authEvents(metrics.EventLogin, metrics.OutcomeDenied))
}

func TestAuthService_Refresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registered, err := h.auth.Register(ctx, service.RegisterInput{
		Email: "refresh@school.example", Password: "password123", DisplayName: "Refresher",
	})
	require.NoError(t, err)

	rotated, err := h.auth.Refresh(ctx, registered.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, registered.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, registered.User.ID, rotated.User.ID)

	_, err = h.auth.Refresh(ctx, registered.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	again, err := h.auth.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)

	_, found, err := h.repos.Session.Lookup(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = h.repos.Session.Lookup(ctx, again.RefreshToken)
	require.NoError(t, err)
	assert.True(t, found)

	assert.Equal(t, 2.0, h.authEvents(metrics.EventRefresh, metrics.OutcomeSuccess))
	assert.Equal(t, 1.0, h.authEvents(metrics.EventRefresh, metrics.OutcomeFailure))
}

func TestAuthService_RefreshRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, h.repos.User)
	access, err := h.issuer.IssueAccessToken(user.ID, user.Role)
	require.NoError(t, err)
	unstored, err := h.issuer.IssueRefreshToken(user.ID)
	require.NoError(t, err)
	foreign, err := auth.NewIssuer("another-secret", "school-portal-test", time.Minute, time.Hour).IssueRefreshToken(user.ID)
	require.NoError(t, err)

	// A session row that claims a different owner than the token subject.
	mismatched, err := h.issuer.IssueRefreshToken(user.ID)
	require.NoError(t, err)
	require.NoError(t, h.repos.Session.Create(ctx, uuid.New(), mismatched.Value, time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "garbage"},
		{"access token", access.Value},
		{"not stored", unstored.Value},
		{"signed by another key", foreign.Value},
		{"owner mismatch", mismatched.Value},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.auth.Refresh(ctx, tt.token)
			assert.ErrorIs(t, err, domain.ErrTokenInvalid)
		})
	}
}

func TestAuthService_RefreshChecksAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, password := testutil.NewUserBuilder().Build(t, h.repos.User)
	first, err := h.auth.Login(ctx, service.LoginInput{Email: user.Email, Password: password})
	require.NoError(t, err)

	// Suspension set directly on the row, bypassing session revocation.
	stored, err := h.repos.User.GetByID(ctx, user.ID)
	require.NoError(t, err)
	stored.Suspended = true
	require.NoError(t, h.repos.User.Update(ctx, stored))

	_, err = h.auth.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrAccountSuspended)

	require.NoError(t, h.repos.User.Delete(ctx, user.ID))
	_, err = h.auth.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestAuthService_ConcurrentRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.auth.Register(ctx, service.RegisterInput{
		Email: "race@school.example", Password: "password123", DisplayName: "Racer",
	})
	require.NoError(t, err)

	const attempts = 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.auth.Refresh(ctx, result.RefreshToken)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	}
	assert.Equal(t, 1, succeeded)
}

func TestAuthService_Logout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	result, err := h.auth.Register(ctx, service.RegisterInput{
		Email: "logout@school.example", Password: "password123", DisplayName: "Leaver",
	})
	require.NoError(t, err)

	require.NoError(t, h.auth.Logout(ctx, result.RefreshToken))
	require.NoError(t, h.auth.Logout(ctx, result.RefreshToken))
	require.NoError(t, h.auth.Logout(ctx, ""))
	require.NoError(t, h.auth.Logout(ctx, "never-issued"))

	_, err = h.auth.Refresh(ctx, result.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestAuthService_CurrentUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	active, _ := testutil.NewUserBuilder().Build(t, h.repos.User)
	suspended, _ := testutil.NewUserBuilder().WithSuspended().Build(t, h.repos.User)

	got, err := h.auth.CurrentUser(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, active.Email, got.Email)

	_, err = h.auth.CurrentUser(ctx, suspended.ID)
	assert.ErrorIs(t, err, domain.ErrAccountSuspended)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.auth.CurrentUser(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuthService_OAuthCallback(t *testing.T) {
	ctx := context.Background()

	oauthInput := func(accountID, email string, verified bool) service.OAuthCallbackInput {
		return service.OAuthCallbackInput{
			Provider:          "github",
			ProviderAccountID: accountID,
			Email:             email,
			EmailVerified:     verified,
			DisplayName:       "Octo Cat",
			TokenMaterial:     []byte(`{"access_token":"gho_x"}`),
		}
	}

	t.Run("creates user and link on first sign-in", func(t *testing.T) {
		h := newHarness(t)

		result, err := h.auth.OAuthCallback(ctx, oauthInput("1001", "Octo@Example.com", true))
		require.NoError(t, err)
		assert.Equal(t, "octo@example.com", result.User.Email)
		assert.Equal(t, "Octo Cat", result.User.DisplayName)
		assert.Equal(t, domain.RoleStudent, result.User.Role)
		assert.False(t, result.User.HasPassword())

		again, err := h.auth.OAuthCallback(ctx, oauthInput("1001", "changed@example.com", true))
		require.NoError(t, err)
		assert.Equal(t, result.User.ID, again.User.ID)

		links, err := h.repos.OAuthAccount.ListByUser(ctx, result.User.ID)
		require.NoError(t, err)
		assert.Len(t, links, 1)
	})

	t.Run("display name falls back to email local part", func(t *testing.T) {
		h := newHarness(t)
		input := oauthInput("1002", "quiet@example.com", true)
		input.DisplayName = "  "

		result, err := h.auth.OAuthCallback(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, "quiet", result.User.DisplayName)
	})

	t.Run("verified email links existing user", func(t *testing.T) {
		h := newHarness(t)
		existing, _ := testutil.NewUserBuilder().WithEmail("octo@example.com").Build(t, h.repos.User)

		result, err := h.auth.OAuthCallback(ctx, oauthInput("1003", "octo@example.com", true))
		require.NoError(t, err)
		assert.Equal(t, existing.ID, result.User.ID)
		assert.True(t, result.User.HasPassword())
	})

	t.Run("unverified email never takes over an account", func(t *testing.T) {
		h := newHarness(t)
		existing, _ := testutil.NewUserBuilder().WithEmail("octo@example.com").Build(t, h.repos.User)

		_, err := h.auth.OAuthCallback(ctx, oauthInput("1004", "octo@example.com", false))
		assert.ErrorIs(t, err, domain.ErrEmailTaken)

		links, err := h.repos.OAuthAccount.ListByUser(ctx, existing.ID)
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("account linked to another user", func(t *testing.T) {
		h := newHarness(t)
		owner, err := h.auth.OAuthCallback(ctx, oauthInput("1005", "owner@example.com", true))
		require.NoError(t, err)
		other, _ := testutil.NewUserBuilder().Build(t, h.repos.User)

		input := oauthInput("1005", "owner@example.com", true)
		input.LinkUserID = &other.ID
		_, err = h.auth.OAuthCallback(ctx, input)
		assert.ErrorIs(t, err, domain.ErrAccountLinked)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		ownerLinks, err := h.repos.OAuthAccount.ListByUser(ctx, owner.User.ID)
		require.NoError(t, err)
		assert.Len(t, ownerLinks, 1)
		otherLinks, err := h.repos.OAuthAccount.ListByUser(ctx, other.ID)
		require.NoError(t, err)
		assert.Empty(t, otherLinks)

		assert.Equal(t, 1.0, h.authEvents(metrics.EventOAuth, metrics.OutcomeDenied))
	})

	t.Run("links to the signed-in user", func(t *testing.T) {
		h := newHarness(t)
		user, _ := testutil.NewUserBuilder().WithEmail("me@school.example").Build(t, h.repos.User)

		input := oauthInput("1006", "personal@example.com", false)
		input.LinkUserID = &user.ID
		result, err := h.auth.OAuthCallback(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, user.ID, result.User.ID)

		_, err = h.repos.User.GetByEmail(ctx, "personal@example.com")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("signed-in user no longer exists", func(t *testing.T) {
		h := newHarness(t)
		ghost := uuid.New()
		input := oauthInput("1007", "ghost@example.com", true)
		input.LinkUserID = &ghost

		_, err := h.auth.OAuthCallback(ctx, input)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("suspended user", func(t *testing.T) {
		h := newHarness(t)
		testutil.NewUserBuilder().WithEmail("banned@example.com").WithSuspended().Build(t, h.repos.User)

		_, err := h.auth.OAuthCallback(ctx, oauthInput("1008", "banned@example.com", true))
		assert.ErrorIs(t, err, domain.ErrAccountSuspended)
	})

	t.Run("missing identity", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.auth.OAuthCallback(ctx, oauthInput("", "x@example.com", true))
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = h.auth.OAuthCallback(ctx, oauthInput("1009", "", true))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}
