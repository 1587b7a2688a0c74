package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dom/school-portal/internal/crypto"
	"github.com/dom/school-portal/internal/domain"
	"github.com/dom/school-portal/internal/repository/postgres"
	"github.com/dom/school-portal/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repos := postgres.NewRepositories(testDB.DB)
	store := repos.Session
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, repos.User)

	require.NoError(t, store.Create(ctx, user.ID, "token-1", time.Hour))

	got, found, err := store.Lookup(ctx, "token-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, user.ID, got)

	_, found, err = store.Lookup(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Delete(ctx, "token-1"))
	require.NoError(t, store.Delete(ctx, "token-1"))

	_, found, err = store.Lookup(ctx, "token-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionStore_RejectsNonPositiveTTL(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repos := postgres.NewRepositories(testDB.DB)
	store := repos.Session
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, repos.User)

	for _, ttl := range []time.Duration{0, -time.Minute} {
		assert.ErrorIs(t, store.Create(ctx, user.ID, "never", ttl), domain.ErrSessionTTL)
	}

	require.NoError(t, store.Create(ctx, user.ID, "live", time.Hour))
	assert.ErrorIs(t, store.Rotate(ctx, "live", "next", user.ID, 0), domain.ErrSessionTTL)

	// The refused rotation leaves the original session in place.
	_, found, err := store.Lookup(ctx, "live")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSessionStore_Rotate(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repos := postgres.NewRepositories(testDB.DB)
	store := repos.Session
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, repos.User)
	other, _ := testutil.NewUserBuilder().Build(t, repos.User)

	require.NoError(t, store.Create(ctx, user.ID, "old", time.Hour))

	// Rotation by the wrong owner is refused and leaves the session intact.
	err := store.Rotate(ctx, "old", "stolen", other.ID, time.Hour)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	require.NoError(t, store.Rotate(ctx, "old", "new", user.ID, time.Hour))

	_, found, err := store.Lookup(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found)

	got, found, err := store.Lookup(ctx, "new")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, user.ID, got)

	// Replay of the rotated-out token.
	err = store.Rotate(ctx, "old", "replayed", user.ID, time.Hour)
	assert.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, found, err = store.Lookup(ctx, "replayed")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionStore_ConcurrentRotate(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repos := postgres.NewRepositories(testDB.DB)
	store := repos.Session
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, repos.User)
	require.NoError(t, store.Create(ctx, user.ID, "contested", time.Hour))

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Rotate(ctx, "contested", fmt.Sprintf("winner-%d", i), user.ID, time.Hour)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	}
	assert.Equal(t, 1, successes)
}

func TestSessionStore_DeleteByUserAndExpired(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repos := postgres.NewRepositories(testDB.DB)
	store := repos.Session
	ctx := context.Background()

	user, _ := testutil.NewUserBuilder().Build(t, repos.User)
	keep, _ := testutil.NewUserBuilder().Build(t, repos.User)

	require.NoError(t, store.Create(ctx, user.ID, "a", time.Hour))
	require.NoError(t, store.Create(ctx, user.ID, "b", time.Hour))
	require.NoError(t, store.Create(ctx, keep.ID, "c", time.Hour))
	require.NoError(t, testDB.DB.Create(&domain.Session{
		ID:        uuid.New(),
		UserID:    keep.ID,
		TokenHash: crypto.HashToken("expired"),
		ExpiresAt: time.Now().Add(-time.Minute),
	}).Error)

	_, found, err := store.Lookup(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, found, "expired sessions never authenticate")

	require.NoError(t, store.DeleteByUser(ctx, user.ID))
	for _, tok := range []string{"a", "b"} {
		_, found, err := store.Lookup(ctx, tok)
		require.NoError(t, err)
		assert.False(t, found)
	}

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, found, err = store.Lookup(ctx, "c")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, store.DeleteByUser(ctx, uuid.New()))
}
