package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitrack/internal/analytics"
	"visitrack/internal/export"
	"visitrack/internal/insights"
	"visitrack/internal/jobs"
	"visitrack/internal/visitors"
)

const (
	errInvalidRequest    = "Invalid request"
	errStoreUnavailable  = "Visitor store unavailable"
	errInternal          = "Internal server error"
	errMailerUnavailable = "Email delivery is not configured"
)

var badRequests = []struct {
	err  error
	code string
}{
	{visitors.ErrInvalidIdentity, "INVALID_IDENTITY"},
	{analytics.ErrInvalidDateFormat, "INVALID_DATE"},
	{analytics.ErrInvalidPeriod, "INVALID_PERIOD"},
	{export.ErrUnsupportedFormat, "INVALID_FORMAT"},
	{jobs.ErrInvalidCronExpression, "INVALID_CRON_EXPRESSION"},
	{insights.ErrNoRecipients, "NO_RECIPIENTS"},
	{insights.ErrInvalidRecipient, "INVALID_RECIPIENT"},
}

// handleError maps domain errors to a status and a stable code. Store and
// internal failures are logged with their cause but never echoed.
func handleError(ctx *cartridge.Context, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return ctx.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": "INVALID_REQUEST"})
	}

	for _, br := range badRequests {
		if errors.Is(err, br.err) {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": br.code})
		}
	}

	switch {
	case errors.Is(err, visitors.ErrNotFound):
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{"error": err.Error(), "code": "NOT_FOUND"})
	case errors.Is(err, visitors.ErrStoreUnavailable):
		ctx.Logger.Error("Visitor store failure", slog.String("path", ctx.Path()), slog.Any("error", err))
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": errStoreUnavailable,
			"code":  "STORE_UNAVAILABLE",
		})
	case errors.Is(err, insights.ErrMailerNotConfigured):
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": errMailerUnavailable,
			"code":  "MAILER_NOT_CONFIGURED",
		})
	}

	ctx.Logger.Error("Request failed", slog.String("path", ctx.Path()), slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": errInternal,
		"code":  "INTERNAL_ERROR",
	})
}

func badRequest(message string) error {
	return fiber.NewError(http.StatusBadRequest, message)
}
