package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
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

// Check is a named dependency probe reported by HealthHandler.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// PingCheck probes the database pool.
func PingCheck(pool *pgxpool.Pool) Check {
	return Check{Name: "database", Critical: true, Probe: pool.Ping}
}

// HealthReport is the body returned by HealthHandler.
type HealthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Pool   *PoolStats        `json:"pool,omitempty"`
}

// RunChecks executes every probe with a shared deadline. The report is
// unhealthy only when a critical probe fails; other failures degrade it.
func RunChecks(ctx context.Context, checks []Check) (*HealthReport, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	report := &HealthReport{Status: "healthy", Checks: make(map[string]string, len(checks))}
	healthy := true
	for _, c := range checks {
		if err := c.Probe(ctx); err != nil {
			report.Checks[c.Name] = err.Error()
			if c.Critical {
				healthy = false
				report.Status = "unhealthy"
			} else if report.Status == "healthy" {
				report.Status = "degraded"
			}
			continue
		}
		report.Checks[c.Name] = "ok"
	}
	return report, healthy
}

// HealthHandler returns a handler for the health check endpoint.
func HealthHandler(pool *pgxpool.Pool, extra ...Check) echo.HandlerFunc {
	checks := append([]Check{PingCheck(pool)}, extra...)
	return func(c echo.Context) error {
		report, healthy := RunChecks(c.Request().Context(), checks)
		report.Pool = GetPoolStats(pool)
		if !healthy {
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}
