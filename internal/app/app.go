package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"saferide-backend/internal/auth"
	"saferide-backend/internal/config"
	"saferide-backend/internal/database"
	"saferide-backend/internal/handler"
	"saferide-backend/internal/middleware"
	"saferide-backend/internal/observability"
	"saferide-backend/internal/repository"
	"saferide-backend/internal/router"
	"saferide-backend/internal/service"
)

type App struct {
	server       *http.Server
	db           *database.DB
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		slog.Warn("sentry disabled", "error", err)
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	pool := db.Pool
	userRepo := repository.NewUserRepository(pool)
	roleRepo := repository.NewRoleRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	slog.Info("database ready")

	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost, cfg.HashWorkers)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	guard, closeGuard, err := newGuard(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	sessions := auth.NewSessionRegistry(cfg.JWTRefreshTTL)
	auditService := service.NewAuditService(auditRepo)

	authService, err := service.NewAuthService(service.AuthDeps{
		Credentials: userRepo,
		Hasher:      hasher,
		Tokens:      tokens,
		Sessions:    sessions,
		Guard:       guard,
		Resolver:    auth.NewResolver(roleRepo),
		Audit:       auditService,
	})
	if err != nil {
		closeGuard()
		db.Close()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	if err := bootstrapAdmin(context.Background(), cfg, userRepo, roleRepo, hasher); err != nil {
		closeGuard()
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
	}

	authMiddleware := middleware.NewAuthMiddleware(authService)
	authHandler := handler.NewAuthHandler(authService, cfg.CookieSecure)
	adminHandler := handler.NewAdminHandler(authService)
	auditHandler := handler.NewAuditHandler(auditService)

	appRouter := router.New(cfg, db.Health, authMiddleware, authHandler, adminHandler, auditHandler)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go sessions.StartSweeper(cleanupCtx, cfg.SessionSweepInterval)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		db:     db,
		cleanupFuncs: []func(){
			cleanupCancel,
			closeGuard,
			db.Close,
			observability.FlushSentry,
		},
	}, nil
}

// newGuard picks the Redis-backed lockout guard when REDIS_URL is set so
// every instance shares counters; otherwise lockouts live in process memory.
func newGuard(cfg *config.Config) (auth.Guard, func(), error) {
	lockout := auth.LockoutConfig{Threshold: cfg.LockoutThreshold, Duration: cfg.LockoutDuration}

	if cfg.RedisURL == "" {
		slog.Info("brute-force guard using process memory")
		return auth.NewMemoryGuard(lockout), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	slog.Info("brute-force guard using redis", "addr", opts.Addr)
	return auth.NewRedisGuard(client, lockout), func() { _ = client.Close() }, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
