// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"pincollector/internal/models"
)

// Storage is the Postgres backed metadata store and workflow checkpoint log.
type Storage struct {
	log  *zap.Logger
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, log *zap.Logger, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	if err := runMigrations(log, dsn); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{log: log, pool: pool}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

// classify maps driver errors onto the store error classes.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return models.ErrUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
}
