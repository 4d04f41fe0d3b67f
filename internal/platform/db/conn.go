package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	DBConnKey contextKey = "db_conn"
	DBTxKey   contextKey = "db_tx"
)

// acquireTimeout bounds how long a request waits for a free connection.
var acquireTimeout = 5 * time.Second

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Acquirer hands out pooled connections. *pgxpool.Pool satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// ConnMiddleware pins one pooled connection to each request so that a
// handler's repository calls and any transaction it opens share it. A pool
// that stays exhausted past the acquire timeout answers 503.
func ConnMiddleware(pool Acquirer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			waitCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
			conn, err := pool.Acquire(waitCtx)
			cancel()
			switch {
			case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
				c.Response().Header().Set("Retry-After", "1")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database busy")
			case err != nil:
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable").SetInternal(err)
			}
			defer conn.Release()

			c.SetRequest(c.Request().WithContext(context.WithValue(ctx, DBConnKey, conn)))
			return next(c)
		}
	}
}

// ConnFromContext returns the connection pinned by ConnMiddleware, if any.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// EnsureSchema creates schema if needed and, when migrator is set, applies
// its pending migrations there.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string, migrator *Migrator) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name: %s", schema)
	}
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrator == nil {
		return nil
	}
	if _, err := migrator.Up(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema %s: %w", schema, err)
	}
	return nil
}
