// Package store is the PostgreSQL persistence layer: master data, upload
// batches, fund and bank transactions, variances, and the derived
// aggregates all live here. Every write goes through the worker; handlers
// only touch batch rows.
package store

import (
	"context"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store wraps the connection pool shared by all repositories.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens a pool against dsn and verifies it with a ping. Decimal
// codecs are registered on every connection so numeric columns scan
// straight into decimal.Decimal.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL")
	return &Store{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying pool for components that manage their own
// SQL, such as the job queue.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
