package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prperemyshlev/credential-service/internal/config"
	"github.com/prperemyshlev/credential-service/internal/repository"
	"github.com/prperemyshlev/credential-service/internal/service"
	"github.com/prperemyshlev/credential-service/internal/utils"
	"github.com/prperemyshlev/credential-service/pkg/database"
	"github.com/prperemyshlev/credential-service/pkg/observability"
	"go.uber.org/zap"
)

// cleanup performs a single token sweep and exits; schedule it with cron or a Kubernetes CronJob.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := observability.InitLogger(observability.LogOptions{
		Env:        cfg.Env,
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	pg, err := database.NewPostgres(cfg.Postgres.DSN())
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	repos := repository.NewRepositories(pg)
	jwtManager := utils.NewJWTManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessTokenExpiry.Duration,
		cfg.JWT.RefreshTokenExpiry.Duration,
	)

	// the sweep only touches stored tokens, so no access-token blacklist is needed
	tokens := service.NewTokenService(repos.User, repos.Token, jwtManager, nil, nil, logger, service.TokenServiceConfig{
		RefreshTokenExpiry: cfg.JWT.RefreshTokenExpiry.Duration,
		APITokenExpiry:     cfg.JWT.APITokenExpiry.Duration,
	})

	err = service.NewCleanupWorker(tokens, 0, logger).RunOnce(ctx)
	_ = pg.Close()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
