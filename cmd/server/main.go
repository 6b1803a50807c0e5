package main

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

	"github.com/petamap/markers-auth/internal/audit"
	"github.com/petamap/markers-auth/internal/captcha"
	"github.com/petamap/markers-auth/internal/config"
	"github.com/petamap/markers-auth/internal/csrf"
	"github.com/petamap/markers-auth/internal/hash"
	"github.com/petamap/markers-auth/internal/httpserver"
	"github.com/petamap/markers-auth/internal/logging"
	"github.com/petamap/markers-auth/internal/models"
	"github.com/petamap/markers-auth/internal/ratelimit"
	"github.com/petamap/markers-auth/internal/repo"
	"github.com/petamap/markers-auth/internal/service"
	"github.com/petamap/markers-auth/internal/ttlstore"
	"github.com/petamap/markers-auth/internal/twofactor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)

	db, err := config.InitDB(cfg)
	if err != nil {
		return err
	}

	// Redis when configured, in-process otherwise. Single-instance
	// deployments need no external cache.
	var store ttlstore.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("cannot connect to redis: %w", err)
		}
		store = ttlstore.NewRedis(client, "mauth")
		logger.Info("using redis ttl store", "addr", cfg.RedisAddr)
	} else {
		store = ttlstore.NewMemory()
		logger.Info("using in-memory ttl store")
	}

	producer := audit.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	r := &repo.GormRepo{DB: db}
	hasher := hash.NewHasher(cfg.ArgonMemoryKB, cfg.ArgonTime, cfg.ArgonParallelism)
	tf := &twofactor.Service{Repo: r, Issuer: "PetaMap"}

	var verifier *captcha.Verifier
	if cfg.TurnstileSecretKey != "" {
		verifier = captcha.NewVerifier(cfg.TurnstileSecretKey)
	} else {
		logger.Warn("turnstile secret not configured, captcha checks disabled")
	}

	authSvc := service.New(r, hasher, tf,
		ratelimit.NewGuard(store), verifier, store, producer, cfg.AccessTokenSecret)

	if err := seedAdmin(cfg, r, hasher, logger); err != nil {
		return err
	}

	e := httpserver.NewRouter(httpserver.RouterConfig{
		Handler: &httpserver.Handler{
			Auth:         authSvc,
			Repo:         r,
			AccessSecret: cfg.AccessTokenSecret,
			Secure:       cfg.Production(),
		},
		CSRFSigner: csrf.NewSigner(cfg.CSRFSecret),
		Logger:     logger,
		DB:         db,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		logger.Info("server starting", "addr", addr, "env", cfg.AppEnv)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// seedAdmin creates the initial admin account when SEED_ADMIN_PASSWORD is
// set. An existing admin is left untouched.
func seedAdmin(cfg *config.Config, r *repo.GormRepo, hasher *hash.Hasher, logger *slog.Logger) error {
	if cfg.SeedAdminPassword == "" {
		return nil
	}

	passwordHash, err := hasher.HashPassword(cfg.SeedAdminPassword)
	if err != nil {
		return err
	}

	err = r.CreateUserIfNotExists(context.Background(), &models.User{
		Username:     "admin",
		PasswordHash: passwordHash,
		Role:         models.RoleAdmin,
	})
	if errors.Is(err, repo.ErrUserAlreadyExist) {
		return nil
	}
	if err == nil {
		logger.Info("admin account seeded")
	}
	return err
}
