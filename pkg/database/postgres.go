// Package database provides the PostgreSQL pool used by the API, the writer,
// and the reconciler.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// TxQuerier is implemented by both pgxpool.Pool and pgx.Tx.
// Repository methods that need transaction support should accept TxQuerier.
type TxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewPool opens a PostgreSQL pool and verifies it with a ping, retrying up to
// maxRetries times with exponential backoff (1s, 2s, 4s, ...). The database
// commonly comes up after its dependents in container environments, so a
// refused connection at startup is treated as transient. A DSN that does not
// parse is permanent and fails immediately.
func NewPool(ctx context.Context, dsn string, maxRetries int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			lastErr = err
		} else if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = fmt.Errorf("ping: %w", err)
		} else {
			log.Info().
				Str("host", poolCfg.ConnConfig.Host).
				Str("database", poolCfg.ConnConfig.Database).
				Msg("database connection established")
			return pool, nil
		}

		if attempt == attempts {
			break
		}
		backoff := time.Duration(1<<(attempt-1)) * time.Second
		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_retries", attempts).
			Dur("next_retry_in", backoff).
			Msg("database not reachable yet, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempts, lastErr)
}
