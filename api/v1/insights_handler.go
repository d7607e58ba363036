package v1

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/samber/lo"

	"visitrack/internal/insights"
	"visitrack/internal/jobs"
	"visitrack/internal/settings"
)

type RecipientsParams struct {
	Recipients []string `json:"recipients"`
}

type ScheduleParams struct {
	Recipients     []string `json:"recipients"`
	CronExpression string   `json:"cronExpression"`
}

type TestConfigParams struct {
	To string `json:"to"`
}

// SendInsights mails the daily report now. Without recipients in the body
// the stored list, then the configured one, is used.
func (h *Handler) SendInsights(ctx *cartridge.Context) error {
	var params RecipientsParams
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&params); err != nil {
			return handleError(ctx, badRequest(errInvalidRequest))
		}
	}
	recipients := params.Recipients
	if len(recipients) == 0 {
		recipients = settings.Recipients(ctx.DBManager.GetConnection(),
			settings.KeyInsightsRecipients, h.Config.InsightsRecipientList())
	}
	return h.sendInsights(ctx, recipients)
}

// TestInsights is SendInsights with an explicit, required recipient list.
func (h *Handler) TestInsights(ctx *cartridge.Context) error {
	var params RecipientsParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx, badRequest(errInvalidRequest))
	}
	if len(params.Recipients) == 0 {
		return handleError(ctx, insights.ErrNoRecipients)
	}
	return h.sendInsights(ctx, params.Recipients)
}

func (h *Handler) sendInsights(ctx *cartridge.Context, recipients []string) error {
	results, err := h.Insights.SendDailyInsights(ctx.UserContext(), recipients)
	if err != nil {
		return handleError(ctx, err)
	}

	successful, failed := lo.FilterReject(results, func(r insights.DeliveryResult, _ int) bool {
		return r.Success
	})
	return ctx.JSON(fiber.Map{
		"success": len(successful) > 0,
		"message": fmt.Sprintf("Daily insights sent: %d successful, %d failed", len(successful), len(failed)),
		"results": results,
		"summary": fiber.Map{
			"total":      len(results),
			"successful": len(successful),
			"failed":     len(failed),
		},
	})
}

func (h *Handler) InsightsData(ctx *cartridge.Context) error {
	report, err := h.Insights.Collector().CollectDaily(ctx.UserContext())
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"success":     true,
		"data":        report,
		"generatedAt": report.GeneratedAt,
	})
}

// TestConfig sends a test email, to the sender address when no recipient
// is given.
func (h *Handler) TestConfig(ctx *cartridge.Context) error {
	var params TestConfigParams
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&params); err != nil {
			return handleError(ctx, badRequest(errInvalidRequest))
		}
	}
	to := strings.TrimSpace(params.To)
	if to == "" {
		to = h.Config.SMTPFrom
	}
	if !h.Config.SMTPConfigured() {
		return handleError(ctx, insights.ErrMailerNotConfigured)
	}

	if err := h.Insights.SendTestEmail(ctx.UserContext(), to); err != nil {
		ctx.Logger.Warn("Test email failed", slog.Any("error", err))
		return ctx.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"error":   "Email configuration test failed",
			"details": err.Error(),
		})
	}
	return ctx.JSON(fiber.Map{
		"success": true,
		"message": fmt.Sprintf("Test email sent to %s", to),
	})
}

func (h *Handler) StartSchedule(ctx *cartridge.Context) error {
	var params ScheduleParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx, badRequest(errInvalidRequest))
	}
	if err := h.Schedule.Start(params.Recipients, params.CronExpression); err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"success": true,
		"message": "Daily insights schedule started",
		"status":  h.Schedule.Status(),
	})
}

func (h *Handler) StopSchedule(ctx *cartridge.Context) error {
	stopped := h.Schedule.Stop()
	message := "Daily insights schedule stopped"
	if !stopped {
		message = "Daily insights schedule was not running"
	}
	return ctx.JSON(fiber.Map{
		"success": true,
		"stopped": stopped,
		"message": message,
	})
}

func (h *Handler) ScheduleStatus(ctx *cartridge.Context) error {
	return ctx.JSON(fiber.Map{
		"success": true,
		"status":  h.Schedule.Status(),
	})
}

func (h *Handler) CronExpressions(ctx *cartridge.Context) error {
	return ctx.JSON(fiber.Map{
		"success":         true,
		"cronExpressions": jobs.CronPresets(),
	})
}

// CheckAlerts evaluates traffic now and mails any alert to the given
// recipients, or to the stored and configured alert lists.
func (h *Handler) CheckAlerts(ctx *cartridge.Context) error {
	var params RecipientsParams
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&params); err != nil {
			return handleError(ctx, badRequest(errInvalidRequest))
		}
	}
	recipients := params.Recipients
	if len(recipients) == 0 {
		recipients = settings.Recipients(ctx.DBManager.GetConnection(),
			settings.KeyAlertRecipients, h.Config.AlertRecipientList())
	}

	report, err := h.Alerts.CheckTraffic(ctx.UserContext(), recipients)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(report)
}
