package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/school-portal/internal/api"
	"github.com/dom/school-portal/internal/auth"
	"github.com/dom/school-portal/internal/config"
	"github.com/dom/school-portal/internal/jobs"
	"github.com/dom/school-portal/internal/logging"
	"github.com/dom/school-portal/internal/metrics"
	"github.com/dom/school-portal/internal/oauth"
	"github.com/dom/school-portal/internal/repository/postgres"
	"github.com/dom/school-portal/internal/repository/redis"
	"github.com/dom/school-portal/internal/service"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	log := logging.New(cfg.LogLevel, cfg.IsProduction())

	// Initialize database
	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db)
	if cfg.SessionBackend == config.SessionBackendRedis {
		client, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer client.Close()
		repos.Session = redis.NewSessionStore(client)
	}
	log.WithField("backend", cfg.SessionBackend).Info("session store ready")

	m := metrics.New()
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	providers, err := oauthProviders(cfg)
	if err != nil {
		log.Fatalf("failed to configure oauth providers: %v", err)
	}
	log.WithField("providers", providers.Names()).Info("oauth providers configured")

	// Initialize services
	services := service.NewServices(repos, issuer, log, m)

	sweeper := jobs.NewSessionSweeper(repos.Session, m, log)
	if err := sweeper.Start(cfg.SessionSweepSchedule); err != nil {
		log.Fatalf("failed to start session sweeper: %v", err)
	}

	// Initialize router
	router := api.NewRouter(services, issuer, providers, cfg, log, m)

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}
	sweeper.Stop(ctx)

	log.Info("Server stopped")
}

func oauthProviders(cfg *config.Config) (*oauth.Registry, error) {
	var providers []oauth.Provider

	if cfg.GitHubEnabled() {
		providers = append(providers, oauth.NewGitHubProvider(
			cfg.GitHubClientID,
			cfg.GitHubClientSecret,
			cfg.OAuthCallbackBaseURL+"/github/callback",
		))
	}

	if cfg.GoogleEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		google, err := oauth.NewGoogleProvider(ctx,
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			cfg.OAuthCallbackBaseURL+"/google/callback",
		)
		if err != nil {
			return nil, err
		}
		providers = append(providers, google)
	}

	return oauth.NewRegistry(providers...), nil
}
