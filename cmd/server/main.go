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

	"github.com/joho/godotenv"

	"rasapos/backend/internal/cache"
	"rasapos/backend/internal/config"
	"rasapos/backend/internal/httpapi"
	"rasapos/backend/internal/ledger"
	"rasapos/backend/internal/logging"
	"rasapos/backend/internal/service"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/store/memory"
	pgstore "rasapos/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}
	cfg := config.Load()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}
	opts, err := serviceOptions(cfg, logger)
	if err != nil {
		logger.Error("invalid business configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Error("postgres schema", "error", err)
			os.Exit(1)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository ready", "kind", "postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository ready", "kind", "memory")
	}

	opts.OrderCache = cache.OrderCache(cache.NoopOrderCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisOrderCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop order cache", "error", err)
		} else {
			opts.OrderCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("order cache ready", "kind", "redis")
		}
	}

	svc := service.New(repo, opts)
	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, cfg.ManagerPIN)
	if err != nil {
		logger.Error("auth setup", "error", err)
		os.Exit(1)
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:        cfg.AllowedOrigin,
		PINAttemptsPerMinute: cfg.PINAttemptsPerMinute,
		Logger:               logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

// serviceOptions translates configuration into business rule options. The
// order cache is wired separately once its backend is reachable.
func serviceOptions(cfg config.Config, logger *slog.Logger) (service.Options, error) {
	policy, err := ledger.ParsePolicy(cfg.StockOversellPolicy)
	if err != nil {
		return service.Options{}, err
	}
	if policy == ledger.PolicyClamp {
		logger.Warn("stock oversell policy is clamp; sales may drive stock to zero without failing")
	}

	opts := service.DefaultOptions()
	opts.OversellPolicy = policy
	opts.CompensateSideEffects = cfg.CompensateSideEffects
	opts.AccrualRate = cfg.LoyaltyAccrualRate
	opts.PointsPerUnit = cfg.LoyaltyPointsPerUnit
	opts.MaxTxRetries = cfg.TxMaxRetries
	opts.OrderCacheTTL = time.Duration(cfg.OrderCacheTTLSeconds) * time.Second
	opts.Logger = logger
	return opts, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	// Repeated-digit PINs other than 000000 and 111111 are caught by the
	// all-same loop below, not by this list.
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "102030": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
