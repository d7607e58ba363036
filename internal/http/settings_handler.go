package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitrack/internal/settings"
)

type updateSettingParams struct {
	Value string `json:"value"`
}

// SettingsIndexAction lists every setting with secrets masked.
func SettingsIndexAction(ctx *cartridge.Context) error {
	all, err := settings.GetAllSettingsForDisplay(ctx.DB())
	if err != nil {
		ctx.Logger.Error("Failed to load settings", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load settings",
		})
	}
	return ctx.JSON(all)
}

// SettingsUpdateAction validates and stores one editable list setting.
func SettingsUpdateAction(ctx *cartridge.Context) error {
	key := ctx.Params("key")

	var params updateSettingParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request",
		})
	}

	value, err := settings.UpdateSetting(ctx.DB(), key, params.Value)
	switch {
	case errors.Is(err, settings.ErrUnknownSetting):
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, settings.ErrInvalidValue):
		ctx.Logger.Warn("Invalid setting submitted", slog.String("key", key), slog.Any("error", err))
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		ctx.Logger.Error("Failed to update setting", slog.String("key", key), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update setting",
		})
	}

	ctx.Logger.Info("Setting updated", slog.String("key", key))
	return ctx.JSON(settings.SettingResponse{Key: key, Value: value})
}
