package http

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"

	"visitrack/internal/config"
	"visitrack/internal/jobs"
	"visitrack/internal/settings"
)

// SystemStatusAction reports GeoLite state and any warning worth showing.
func SystemStatusAction(updater *jobs.GeoLiteUpdater) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		status := updater.Status()
		return ctx.JSON(fiber.Map{
			"healthy": status.Warning == "",
			"warning": status.Warning,
			"geolite": status,
		})
	}
}

// SystemPurgeCacheAction empties the cartridge cache table.
func SystemPurgeCacheAction(ctx *cartridge.Context) error {
	rowsAffected, err := cache.PurgeAllCaches(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to clear generic_cache", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to clear caches",
		})
	}

	ctx.Logger.Info("Caches purged successfully", slog.Int64("rows_deleted", rowsAffected))
	return ctx.JSON(fiber.Map{
		"success":     true,
		"rowsDeleted": rowsAffected,
	})
}

type geoLiteParams struct {
	AccountID  string `json:"accountId"`
	LicenseKey string `json:"licenseKey"`
}

// SystemGeoLiteAction stores GeoLite credentials and starts a download in
// the background when both are present.
func SystemGeoLiteAction(updater *jobs.GeoLiteUpdater) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params geoLiteParams
		if err := ctx.BodyParser(&params); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid request",
			})
		}

		if err := settings.SaveGeoLiteCredentials(ctx.DB(), params.AccountID, params.LicenseKey); err != nil {
			ctx.Logger.Error("Failed to save GeoLite settings", slog.Any("error", err))
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   "Failed to save GeoLite settings",
			})
		}

		ctx.Logger.Info("GeoLite settings updated",
			slog.String("account_id", params.AccountID),
			slog.Bool("has_license_key", params.LicenseKey != ""))

		downloading := strings.TrimSpace(params.AccountID) != "" && strings.TrimSpace(params.LicenseKey) != ""
		if downloading {
			updater.TriggerImmediateDownload()
		}
		return ctx.JSON(fiber.Map{
			"success":     true,
			"downloading": downloading,
		})
	}
}

// SystemExportDatabaseAction streams the SQLite file as a backup.
func SystemExportDatabaseAction(ctx *cartridge.Context) error {
	cfg := ctx.Config.(*config.Config)
	dbPath := cfg.GetDatabasePath()

	file, err := os.Open(dbPath)
	if os.IsNotExist(err) {
		ctx.Logger.Error("Database file not found", slog.String("path", dbPath))
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Database file not found",
		})
	}
	if err != nil {
		ctx.Logger.Error("Failed to open database file", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to read database file",
		})
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		ctx.Logger.Error("Failed to get database file info", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to get database file info",
		})
	}

	ctx.Set(fiber.HeaderContentType, "application/octet-stream")
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s-backup.db", cfg.AppName))
	ctx.Set(fiber.HeaderContentLength, strconv.FormatInt(info.Size(), 10))

	ctx.Logger.Info("Database exported", slog.String("path", dbPath), slog.Int64("size", info.Size()))
	if _, err := io.Copy(ctx.Response().BodyWriter(), file); err != nil {
		ctx.Logger.Error("Failed to stream database file", slog.Any("error", err))
		return err
	}
	return nil
}
