package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Health is the body of /health/db.
type Health struct {
	Status             string     `json:"status"`
	Error              string     `json:"error,omitempty"`
	Schema             string     `json:"schema"`
	Pool               *PoolStats `json:"pool"`
	PendingMigrations  []string   `json:"pending_migrations,omitempty"`
	ModifiedMigrations []string   `json:"modified_migrations,omitempty"`
}

// assess sets Status from the migration statuses: pending or modified
// migrations leave the database usable but degraded.
func (h *Health) assess(statuses []MigrationStatus) {
	for _, s := range statuses {
		switch {
		case !s.Applied:
			h.PendingMigrations = append(h.PendingMigrations, s.Name)
		case s.Modified:
			h.ModifiedMigrations = append(h.ModifiedMigrations, s.Name)
		}
	}
	h.Status = "healthy"
	if len(h.PendingMigrations) > 0 || len(h.ModifiedMigrations) > 0 {
		h.Status = "degraded"
	}
}

// HealthHandler serves /health/db. A failed ping answers 503; anything else
// answers 200 with the assessed status.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		h := &Health{Status: "healthy", Schema: schema, Pool: GetPoolStats(pool)}
		if err := pool.Ping(ctx); err != nil {
			h.Status, h.Error = "unhealthy", err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		if migrator != nil {
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				h.Status, h.Error = "degraded", err.Error()
				return c.JSON(http.StatusOK, h)
			}
			h.assess(statuses)
		}
		return c.JSON(http.StatusOK, h)
	}
}
