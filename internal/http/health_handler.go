// Package http holds the operational endpoints: health, settings and system
// maintenance.
package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
}

// HealthIndexAction reports whether the database answers a ping. A degraded
// instance answers 503 so load balancers using HEAD can take it out.
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		DBStatus:  "ok",
	}

	if err := pingDatabase(ctx); err != nil {
		ctx.Logger.Error("Database health check failed", slog.Any("error", err))
		health.Status = "degraded"
		health.DBStatus = "error"
		ctx.Status(fiber.StatusServiceUnavailable)
	}

	if ctx.Method() == fiber.MethodHead {
		return nil
	}
	return ctx.JSON(health)
}

func pingDatabase(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	if db == nil {
		return errors.New("database connection unavailable")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx.UserContext())
}
