package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"profitboard/internal/cache"
	"profitboard/internal/commission"
	"profitboard/internal/config"
	"profitboard/internal/domain"
	"profitboard/internal/httpapi"
	"profitboard/internal/logger"
	"profitboard/internal/service"
	"profitboard/internal/store"
	"profitboard/internal/store/memory"
	pgstore "profitboard/internal/store/postgres"
	sqlitestore "profitboard/internal/store/sqlite"
)

func main() {
	v := config.NewViper()
	root := rootCmd(v)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "profitboard",
		Short:         "Delivery commission tracker API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), config.FromViper(v))
		},
	}

	root.PersistentFlags().String("db-driver", "", "storage backend: memory, postgres or sqlite")
	root.PersistentFlags().String("log-mode", "", "debug logs to stdout, release logs JSON to a rotated file")
	_ = v.BindPFlag("DATABASE_DRIVER", root.PersistentFlags().Lookup("db-driver"))
	_ = v.BindPFlag("LOG_MODE", root.PersistentFlags().Lookup("log-mode"))

	root.AddCommand(serveCmd(v))
	root.AddCommand(migrateCmd(v))
	return root
}

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), config.FromViper(v))
		},
	}
	cmd.Flags().String("port", "", "listen port")
	_ = v.BindPFlag("PORT", cmd.Flags().Lookup("port"))
	return cmd
}

func migrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes, and seed the first admin account",
		Long: `Creates the schema for the configured postgres or sqlite backend.

When SEED_ADMIN_PASSWORD is set an admin account named SEED_ADMIN_USERNAME
is created unless it already exists.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), config.FromViper(v))
		},
	}
}

// persistentStore is what migrate needs beyond the repository contract.
type persistentStore interface {
	store.Repository
	Migrate(ctx context.Context) error
	Close() error
}

func openStore(ctx context.Context, cfg config.Config) (persistentStore, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return pgstore.New(ctx, cfg.DatabaseURL)
	case config.DriverSQLite:
		return sqlitestore.New(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("driver %q has no persistent storage", cfg.DatabaseDriver)
	}
}

func runMigrate(ctx context.Context, cfg config.Config) error {
	logger.Init(cfg.LogMode, cfg.LoggerOptions())
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DatabaseDriver == config.DriverMemory {
		return errors.New("migrate needs DATABASE_DRIVER postgres or sqlite")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DatabaseDriver, err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Infow("migration_completed", "driver", cfg.DatabaseDriver)

	return seedAdmin(ctx, db, cfg)
}

func seedAdmin(ctx context.Context, users store.UserStore, cfg config.Config) error {
	if cfg.SeedAdminPassword == "" {
		return nil
	}
	if len(cfg.SeedAdminPassword) < 8 {
		return errors.New("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	err = users.CreateUser(ctx, domain.UserAccount{
		Username:  cfg.SeedAdminUsername,
		Password:  string(hash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		logger.Infow("admin_seed_skipped", "username", cfg.SeedAdminUsername)
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Infow("admin_seeded", "username", cfg.SeedAdminUsername)
	return nil
}

func runServe(parent context.Context, cfg config.Config) error {
	logger.Init(cfg.LogMode, cfg.LoggerOptions())
	defer logger.Sync()

	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	tiers, err := commission.ParseTiers(cfg.CommissionTiers)
	if err != nil {
		return fmt.Errorf("invalid COMMISSION_TIERS: %w", err)
	}

	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseDriver == config.DriverMemory {
		repo = memory.NewSeeded()
		logger.Infow("repository_selected", "driver", config.DriverMemory)
	} else {
		db, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("%s unavailable and %s was requested; refusing to start with in-memory fallback: %w", cfg.DatabaseDriver, cfg.DatabaseDriver, err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("migrate %s store: %w", cfg.DatabaseDriver, err)
		}
		repo = db
		closers = append(closers, db.Close)
		logger.Infow("repository_selected", "driver", cfg.DatabaseDriver)
	}

	summaries := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warnw("redis_unavailable", "error", err, "fallback", "noop")
			_ = redisCache.Close()
		} else {
			summaries = redisCache
			closers = append(closers, redisCache.Close)
			logger.Infow("cache_selected", "backend", "redis")
		}
	} else {
		logger.Infow("cache_selected", "backend", "noop")
	}

	svc := service.New(repo, summaries, tiers, time.Duration(cfg.SummaryCacheTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ErrorLog:          logger.StdLogger(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("server_listening", "addr", cfg.Address(), "tiers", tiers.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
	case err := <-serveErr:
		if err != nil {
			closeAll(closers)
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("shutdown_error", "error", err)
	}
	closeAll(closers)

	logger.Infow("server_stopped")
	return nil
}

func closeAll(closers []func() error) {
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warnw("close_error", "error", err)
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseDriver != config.DriverMemory {
		return fmt.Errorf("ALLOWED_ORIGIN must name the frontend origin outside of in-memory mode")
	}
	return nil
}
