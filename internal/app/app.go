package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/credential-service/internal/config"
	"github.com/prperemyshlev/credential-service/internal/domain"
	"github.com/prperemyshlev/credential-service/internal/handler"
	"github.com/prperemyshlev/credential-service/internal/repository"
	"github.com/prperemyshlev/credential-service/internal/service"
	"github.com/prperemyshlev/credential-service/internal/utils"
	"github.com/prperemyshlev/credential-service/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	serviceName     = "credential-service"
	shutdownTimeout = 5 * time.Second
)

type App struct {
	infra   Infrastructure
	config  *config.Config
	router  *gin.Engine
	server  *http.Server
	cleanup *service.CleanupWorker
}

// Services groups the wired business services
type Services struct {
	Auth      service.AuthService
	Tokens    service.TokenService
	TwoFactor service.TwoFactorService
	Admin     service.ClientAdminService
}

// NewServices wires repositories, token machinery and collaborators from the configuration
func NewServices(infra Infrastructure, cfg *config.Config) (*Services, error) {
	logger := infra.Logger()
	repos := repository.NewRepositories(infra.Postgres())

	metrics, err := observability.NewAuthMetrics(infra.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	notifier, err := newNotifier(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}

	jwtManager := utils.NewJWTManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessTokenExpiry.Duration,
		cfg.JWT.RefreshTokenExpiry.Duration,
	)

	tokens := service.NewTokenService(
		repos.User,
		repos.Token,
		jwtManager,
		service.NewRedisTokenBlacklist(infra.Redis()),
		metrics,
		logger,
		service.TokenServiceConfig{
			RefreshTokenExpiry: cfg.JWT.RefreshTokenExpiry.Duration,
			APITokenExpiry:     cfg.JWT.APITokenExpiry.Duration,
		},
	)

	twoFactor := service.NewTwoFactorService(repos.User, metrics, logger, service.TwoFactorConfig{
		Issuer:               cfg.Security.TOTPIssuer,
		Skew:                 cfg.Security.TOTPSkew,
		BackupCodeCount:      cfg.Security.BackupCodeCount,
		RequireCodeToDisable: cfg.Security.RequireCodeToDisable2FA,
	})

	auth := service.NewAuthService(
		repos.User,
		repos.Client,
		tokens,
		twoFactor,
		notifier,
		metrics,
		logger,
		service.AuthConfig{
			BCryptCost:       cfg.Security.BCryptCost,
			UsageQuota:       cfg.Security.DefaultUsageQuota,
			UsageQuotaPeriod: cfg.Security.UsageQuotaPeriod.Duration,
		},
	)

	admin := service.NewClientAdminService(repos.User, repos.Client, tokens, notifier, logger)

	return &Services{
		Auth:      auth,
		Tokens:    tokens,
		TwoFactor: twoFactor,
		Admin:     admin,
	}, nil
}

func NewApp(infra Infrastructure, cfg *config.Config) (*App, error) {
	services, err := NewServices(infra, cfg)
	if err != nil {
		return nil, err
	}

	logger := infra.Logger()
	healthChecker := NewHealthChecker(infra)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	setupRoutes(router, routeDeps{
		cfg:            cfg,
		services:       services,
		rateLimiter:    newRateLimiter(infra, cfg.Security.RateLimitBackend),
		healthChecker:  healthChecker,
		metricsHandler: infra.MetricsHandler(),
		logger:         logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	a := &App{
		infra:  infra,
		config: cfg,
		router: router,
		server: srv,
	}
	if cfg.Cleanup.Interval.Duration > 0 {
		a.cleanup = service.NewCleanupWorker(services.Tokens, cfg.Cleanup.Interval.Duration, logger)
	}

	return a, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func newNotifier(cfg config.MailConfig, logger *zap.Logger) (service.Notifier, error) {
	if !cfg.Enabled {
		return service.NoopNotifier{}, nil
	}
	notifier, err := service.NewMailNotifier(service.MailNotifierConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mail notifier: %w", err)
	}
	return notifier, nil
}

func newRateLimiter(infra Infrastructure, backend string) service.RateLimiter {
	if backend == config.RateLimitBackendMemory {
		return service.NewMemoryRateLimiter()
	}
	return service.NewRedisRateLimiter(infra.Redis())
}

type routeDeps struct {
	cfg            *config.Config
	services       *Services
	rateLimiter    service.RateLimiter
	healthChecker  *HealthChecker
	metricsHandler http.Handler
	logger         *zap.Logger
}

func setupRoutes(router *gin.Engine, deps routeDeps) {
	logger := deps.logger
	authHandler := handler.NewAuthHandler(deps.services.Auth, logger)
	twoFactorHandler := handler.NewTwoFactorHandler(deps.services.TwoFactor, deps.services.Auth, logger)
	adminHandler := handler.NewAdminHandler(deps.services.Admin, logger)

	limited := handler.RateLimitMiddleware(
		deps.rateLimiter,
		deps.cfg.Security.RateLimitRequests,
		deps.cfg.Security.RateLimitWindow.Duration,
		handler.RouteAndIPKey,
		logger,
	)
	authenticated := handler.AuthMiddleware(deps.services.Auth, logger)

	router.GET("/metrics", observability.PrometheusHandler(deps.metricsHandler))
	router.GET("/health", deps.healthChecker.Handler)

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", limited, authHandler.Register)
			auth.POST("/login", limited, authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/generate-token", limited, authHandler.GenerateToken)
			auth.POST("/verify-2fa", limited, twoFactorHandler.Verify)

			auth.POST("/logout", authenticated, authHandler.Logout)
			auth.POST("/change-password", authenticated, authHandler.ChangePassword)
			auth.POST("/change-secret", authenticated, authHandler.ChangeSecret)
			auth.POST("/generate-2fa", authenticated, twoFactorHandler.Generate)
			auth.POST("/enable-2fa", authenticated, twoFactorHandler.Enable)
			auth.POST("/disable-2fa", authenticated, twoFactorHandler.Disable)
			auth.GET("/me", authenticated, authHandler.GetMe)
		}

		admin := api.Group("/admin", authenticated, handler.RequireRole(domain.RoleAdmin, logger))
		{
			admin.GET("/clients", adminHandler.ListClients)
			admin.POST("/clients/:id/approve", adminHandler.ApproveClient)
			admin.POST("/clients/:id/suspend", adminHandler.SuspendClient)
			admin.POST("/clients/:id/revoke", adminHandler.RevokeClient)
			admin.DELETE("/users/:id", adminHandler.DeleteUser)
			admin.POST("/tokens/cleanup", adminHandler.CleanupTokens)
		}
	}
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	if a.cleanup != nil {
		a.cleanup.Start(ctx)
	}

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
		)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}

	if err := a.Shutdown(); err != nil {
		a.infra.Logger().Error("Shutdown error", zap.Error(err))
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.cleanup != nil {
		a.cleanup.Stop()
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.infra.Logger().Error("HTTP server shutdown failed", zap.Error(err))
		return errors.Join(err, a.infra.Shutdown(ctx))
	}

	if err := a.infra.Shutdown(ctx); err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
