package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrEmptyURL      = errors.New("db: empty connection URL")
	ErrInvalidConfig = errors.New("db: invalid configuration")
	ErrUnreachable   = errors.New("db: database unreachable")
	ErrUnhealthy     = errors.New("db: unhealthy")
	ErrShutdown      = errors.New("db: pool did not close in time")
	ErrMigrate       = errors.New("db: migration failed")
)

// Healthcheck returns a readiness check that pings the pool.
func Healthcheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("%w: no pool", ErrUnhealthy)
		}
		if err := pool.Ping(ctx); err != nil {
			return errors.Join(ErrUnhealthy, err)
		}
		return nil
	}
}

// Shutdown returns a hook closing the pool. Close waits for acquired
// connections to be released; the hook gives up when ctx is done.
func Shutdown(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			pool.Close()
			close(done)
		}()

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return errors.Join(ErrShutdown, ctx.Err())
		}
	}
}
