package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/cache"
	"github.com/dhegstad/AdsX-sub003/internal/config"
	"github.com/dhegstad/AdsX-sub003/internal/db"
	"github.com/dhegstad/AdsX-sub003/internal/logging"
	"github.com/dhegstad/AdsX-sub003/internal/migrate"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	var envFile string
	rootCmd := &cobra.Command{
		Use:           "adsx-alerts",
		Short:         "Ad change notification rules: ingest, evaluate, digest and deliver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(
		serveCommand(&envFile),
		migrateCommand(&envFile),
		flushDigestsCommand(&envFile),
		evaluateCommand(&envFile),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg config.Config
	log *zap.Logger
	db  *gorm.DB
}

func (r *app) Close() {
	if r.db != nil {
		if sqlDB, err := r.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = r.log.Sync()
}

// bootstrap loads configuration, builds the logger and, when needDB is set,
// opens and migrates the database.
func bootstrap(ctx context.Context, envFile string, needDB bool) (*app, error) {
	if err := config.LoadDotenv(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log.Info("config loaded", zap.Stringer("config", cfg))

	rt := &app{cfg: cfg, log: log}
	if !needDB && cfg.PostgresURL == "" {
		return rt, nil
	}
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is required")
	}
	gdb, err := db.NewGorm(ctx, cfg.PostgresURL, db.Options{Logger: log.Named("gorm"), SlowThreshold: 500 * time.Millisecond})
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	rt.db = gdb

	migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := migrate.AutoMigrate(migCtx, gdb); err != nil {
		rt.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return rt, nil
}

// digestStore picks Redis when REDIS_ADDR is set so buffers survive restarts
// and are shared between replicas; otherwise buffers live in memory.
func (r *app) digestStore(ctx context.Context) (alert.DigestStore, func(), error) {
	if r.cfg.RedisAddr == "" {
		r.log.Warn("REDIS_ADDR not set; digest buffers are kept in memory")
		return alert.NewMemoryDigestStore(), func() {}, nil
	}
	rdb, err := cache.NewRedisClient(ctx, r.cfg.RedisAddr, r.cfg.RedisPassword, r.cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return alert.NewRedisDigestStore(rdb), func() { _ = rdb.Close() }, nil
}

func migrateCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context(), *envFile, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.log.Info("schema migrated")
			return nil
		},
	}
}
