package handler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/certanchor/internal/observability"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// Check is one named readiness check.
type Check struct {
	Name  string
	Ping func(ctx context.Context) error
}

func PostgresCheck(sqlDB *sql.DB) Check {
	return Check{Name: "postgres", Ping: sqlDB.PingContext}
}

func RedisCheck(rdb redis.UniversalClient) Check {
	return Check{Name: "redis", Ping: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

// BrokerCheck reports the broker as down while connected returns false.
func BrokerCheck(connected func() bool) Check {
	return Check{Name: "rabbitmq", Ping: func(context.Context) error {
		if !connected() {
			return fmt.Errorf("rabbitmq connection closed")
		}
		return nil
	}}
}

// LedgerCheck pings the ledger node, e.g. with EthContract.Ping.
func LedgerCheck(ping func(ctx context.Context) error) Check {
	return Check{Name: "ledger", Ping: ping}
}

func RegisterHealthRoutes(app fiber.Router, checks ...Check) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks...))
}

// RegisterMetricsRoute exposes the Prometheus registry at /metrics.
func RegisterMetricsRoute(app fiber.Router, metrics *observability.Metrics) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(checks ...Check) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		ready := true
		results := fiber.Map{}
		for _, check := range checks {
			status := "ok"
			if err := check.Ping(ctx); err != nil {
				status = "down"
				ready = false
			}
			results[check.Name] = status
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
