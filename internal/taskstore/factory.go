// File: internal/taskstore/factory.go
package taskstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/config"
)

// NewFromConfig builds the Store named by cfg.Type.
func NewFromConfig(ctx context.Context, cfg config.TaskStoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case "in-memory", "":
		logger.Info("Using in-memory task store; task history will not survive restarts.")
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown task store type %q", cfg.Type)
	}
}
