package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	SlowThreshold   time.Duration
	PingAttempts    int
	Logger          *zap.Logger
}

func NewGorm(ctx context.Context, postgresURL string, opts Options) (*gorm.DB, error) {
	if postgresURL == "" {
		return nil, errors.New("postgres url is empty")
	}
	gdb, err := gorm.Open(postgres.Open(postgresURL), &gorm.Config{
		Logger:      NewLogger(opts.Logger, opts.SlowThreshold),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 2
	}
	if opts.MaxIdleConns > opts.MaxOpenConns {
		opts.MaxIdleConns = opts.MaxOpenConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	if opts.ConnMaxIdleTime <= 0 {
		opts.ConnMaxIdleTime = 5 * time.Minute
	}

	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	if err := pingWithRetry(ctx, sqlDB, opts.PingAttempts, opts.Logger); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return gdb, nil
}

// pingWithRetry waits for Postgres to accept connections; containers often
// start the service before the database is ready.
func pingWithRetry(ctx context.Context, sqlDB *sql.DB, attempts int, log *zap.Logger) error {
	if attempts <= 0 {
		attempts = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	delay := 500 * time.Millisecond
	var err error
	for i := 1; i <= attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = sqlDB.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn("postgres not ready", zap.Int("attempt", i), zap.Duration("retry_in", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, 8*time.Second)
	}
	return fmt.Errorf("postgres ping after %d attempts: %w", attempts, err)
}
