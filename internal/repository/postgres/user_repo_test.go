package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/repository/postgres"
	"github.com/dom/school-portal/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_Create(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    *domain.User
		wantErr error
	}{
		{
			name: "successful creation",
			user: &domain.User{
				Email:       "Teacher@School.example",
				DisplayName: "Ms Frizzle",
				Role:        domain.RoleTeacher,
			},
		},
		{
			name: "duplicate email differing only in case",
			user: &domain.User{
				Email:       "  teacher@school.example ",
				DisplayName: "Imposter",
				Role:        domain.RoleStudent,
			},
			wantErr: domain.ErrAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Create(ctx, tt.user)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, tt.user.ID)
			assert.Equal(t, "teacher@school.example", tt.user.Email)
		})
	}
}

func TestUserRepository_Lookup(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().
		WithEmail("lookup@school.example").
		Build(t, repo)

	t.Run("by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Email, got.Email)
		assert.Equal(t, domain.RoleStudent, got.Role)
		assert.True(t, got.HasPassword())
	})

	t.Run("by email is case-insensitive", func(t *testing.T) {
		got, err := repo.GetByEmail(ctx, "LOOKUP@School.Example")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = repo.GetByEmail(ctx, "nobody@school.example")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUserRepository_Update(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().
		WithSuspended().
		Build(t, repo)

	user.DisplayName = "Renamed"
	user.Role = domain.RoleTeacher
	user.Suspended = false
	require.NoError(t, repo.Update(ctx, user))

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)
	assert.Equal(t, domain.RoleTeacher, got.Role)
	assert.False(t, got.Suspended)

	missing := &domain.User{ID: uuid.New(), Email: "ghost@school.example", Role: domain.RoleStudent}
	assert.ErrorIs(t, repo.Update(ctx, missing), domain.ErrNotFound)
}

func TestUserRepository_List(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewUserRepository(testDB.DB)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		testutil.NewUserBuilder().Build(t, repo)
	}

	users, total, err := repo.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, users, 2)

	rest, _, err := repo.List(ctx, 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}

func TestUserRepository_DeleteCascades(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repos := postgres.NewRepositories(testDB.DB)
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, repos.User)
	require.NoError(t, repos.Session.Create(ctx, user.ID, "refresh-token", time.Hour))
	require.NoError(t, repos.OAuthAccount.Create(ctx, &domain.OAuthAccount{
		UserID:            user.ID,
		Provider:          "github",
		ProviderAccountID: "12345",
	}))

	require.NoError(t, repos.User.Delete(ctx, user.ID))

	_, found, err := repos.Session.Lookup(ctx, "refresh-token")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = repos.OAuthAccount.GetByProviderAccount(ctx, "github", "12345")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, repos.User.Delete(ctx, user.ID), domain.ErrNotFound)
}
