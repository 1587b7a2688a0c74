package postgres_test

import (
	"context"
	"testing"

	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/repository/postgres"
	"github.com/dom/school-portal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestOAuthAccountRepository(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repos := postgres.NewRepositories(testDB.DB)
	ctx := context.Background()

	alice, _ := testutil.NewUserBuilder().Build(t, repos.User)
	bob, _ := testutil.NewUserBuilder().Build(t, repos.User)

	link := &domain.OAuthAccount{
		UserID:            alice.ID,
		Provider:          "google",
		ProviderAccountID: "g-1",
		TokenMaterial:     datatypes.JSON(`{"token_type":"Bearer"}`),
	}
	require.NoError(t, repos.OAuthAccount.Create(ctx, link))

	t.Run("lookup by provider account", func(t *testing.T) {
		got, err := repos.OAuthAccount.GetByProviderAccount(ctx, "google", "g-1")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.UserID)
		assert.JSONEq(t, `{"token_type":"Bearer"}`, string(got.TokenMaterial))
	})

	t.Run("same provider account cannot be linked twice", func(t *testing.T) {
		err := repos.OAuthAccount.Create(ctx, &domain.OAuthAccount{
			UserID:            bob.ID,
			Provider:          "google",
			ProviderAccountID: "g-1",
		})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("same id on another provider is a different account", func(t *testing.T) {
		require.NoError(t, repos.OAuthAccount.Create(ctx, &domain.OAuthAccount{
			UserID:            bob.ID,
			Provider:          "github",
			ProviderAccountID: "g-1",
		}))
	})

	t.Run("list by user", func(t *testing.T) {
		accounts, err := repos.OAuthAccount.ListByUser(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		assert.Equal(t, "google", accounts[0].Provider)
	})

	t.Run("missing link", func(t *testing.T) {
		_, err := repos.OAuthAccount.GetByProviderAccount(ctx, "github", "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
