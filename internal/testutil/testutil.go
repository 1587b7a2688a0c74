package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dom/school-portal/internal/api"
	"github.com/dom/school-portal/internal/auth"
	"github.com/dom/school-portal/internal/config"
	"github.com/dom/school-portal/internal/logging"
	"github.com/dom/school-portal/internal/metrics"
	"github.com/dom/school-portal/internal/oauth"
	"github.com/dom/school-portal/internal/repository"
	repoPostgres "github.com/dom/school-portal/internal/repository/postgres"
	repoRedis "github.com/dom/school-portal/internal/repository/redis"
	"github.com/dom/school-portal/internal/service"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a migrated
// connection. The test is skipped when no container runtime is available.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_school_portal"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := repoPostgres.Migrate(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		ctx := context.Background()
		tdb.Container.Terminate(ctx)
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	for _, table := range []string{"sessions", "oauth_accounts", "users"} {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Environment:          "test",
		FrontendURL:          "http://localhost:3000",
		LogLevel:             "error",
		SessionBackend:       config.SessionBackendRedis,
		JWTSecret:            "test-jwt-secret-key-for-testing-only",
		JWTIssuer:            "school-portal-test",
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      24 * time.Hour,
		OAuthCallbackBaseURL: "http://localhost/api/v1/auth/oauth",
		OAuthSuccessURL:      "http://localhost:3000/dashboard",
		OAuthErrorURL:        "http://localhost:3000/login",
	}
}

// NewMemoryRepositories returns in-memory user and OAuth repositories backed
// by store, with sessions in an in-process Redis.
func NewMemoryRepositories(t *testing.T) (*MemoryStore, *miniredis.Miniredis, *repository.Repositories) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewMemoryStore()
	return store, mr, &repository.Repositories{
		User:         store.Users(),
		OAuthAccount: store.OAuthAccounts(),
		Session:      repoRedis.NewSessionStore(client),
	}
}

// TestServer holds all components for integration testing. Users and OAuth
// links live in memory; sessions live in an in-process Redis.
type TestServer struct {
	Server   *httptest.Server
	Redis    *miniredis.Miniredis
	Store    *MemoryStore
	Repos    *repository.Repositories
	Services *service.Services
	Issuer   *auth.Issuer
	Metrics  *metrics.Metrics
	Config   *config.Config
}

// NewTestServer creates a complete test server. Extra OAuth providers can be
// registered for callback tests.
func NewTestServer(t *testing.T, providers ...oauth.Provider) *TestServer {
	t.Helper()

	cfg := TestConfig()
	store, mr, repos := NewMemoryRepositories(t)

	log := logging.Discard()
	m := metrics.New()
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	services := service.NewServices(repos, issuer, log, m)
	router := api.NewRouter(services, issuer, oauth.NewRegistry(providers...), cfg, log, m)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &TestServer{
		Server:   server,
		Redis:    mr,
		Store:    store,
		Repos:    repos,
		Services: services,
		Issuer:   issuer,
		Metrics:  m,
		Config:   cfg,
	}
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// APIURL returns the full API URL for a given path
func (ts *TestServer) APIURL(path string) string {
	return fmt.Sprintf("%s/api/v1%s", ts.Server.URL, path)
}

// NewClient returns a client with its own cookie jar that does not follow
// redirects, so OAuth tests can inspect the Location header.
func (ts *TestServer) NewClient(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
