// Package v1 serves the visitor tracking and analytics JSON API.
package v1

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"visitrack/internal/analytics"
	"visitrack/internal/config"
	"visitrack/internal/export"
	"visitrack/internal/insights"
	"visitrack/internal/jobs"
	"visitrack/internal/settings"
	"visitrack/internal/visitors"
)

const (
	msgVisitRecorded = "Visitor count updated successfully"
	msgVisitIgnored  = "Visit ignored for excluded address"
)

// Deps are the services the handlers call into.
type Deps struct {
	Config   *config.Config
	Resolver *visitors.Resolver
	Store    *visitors.Store
	Engine   *analytics.Engine
	Insights *insights.Service
	Alerts   *insights.AlertMonitor
	Schedule *jobs.InsightsSchedule
}

type Handler struct {
	Deps
}

func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

type RecordVisitParams struct {
	ProjectName string `json:"projectName"`
	UserAgent   string `json:"userAgent"`
}

// RecordVisit resolves the hit to a visitor and answers with the project's
// unique visitor count.
func (h *Handler) RecordVisit(ctx *cartridge.Context) error {
	var params RecordVisitParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx, badRequest(errInvalidRequest))
	}

	userAgent := params.UserAgent
	if userAgent == "" {
		userAgent = ctx.Get("User-Agent")
	}
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgent = forwardedUA
	}

	ip := getClientIP(ctx.Ctx)
	excluded, err := settings.IsIPExcluded(ip)
	if err != nil {
		ctx.Logger.Warn("Failed to check excluded IPs", slog.Any("error", err))
	}
	if excluded {
		ctx.Logger.Debug("Ignoring visit from excluded address", slog.String("ip", ip))
		return ctx.JSON(fiber.Map{
			"message":     msgVisitIgnored,
			"projectName": params.ProjectName,
			"ignored":     true,
		})
	}

	visit, err := h.Resolver.RecordVisit(ctx.UserContext(), ip, params.ProjectName, userAgent)
	if err != nil {
		return handleError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"message":        msgVisitRecorded,
		"projectName":    visit.Visitor.ProjectName,
		"uniqueVisitors": visit.UniqueVisitors,
		"visitor":        visit.Visitor,
	})
}

func (h *Handler) List(ctx *cartridge.Context) error {
	list, err := h.Store.List(ctx.UserContext())
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(list)
}

func (h *Handler) FindByID(ctx *cartridge.Context) error {
	id, err := visitorID(ctx)
	if err != nil {
		return handleError(ctx, err)
	}
	v, err := h.Store.FindByID(ctx.UserContext(), id)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(v)
}

// Update edits enrichment fields. Identity fields in the body are ignored.
func (h *Handler) Update(ctx *cartridge.Context) error {
	id, err := visitorID(ctx)
	if err != nil {
		return handleError(ctx, err)
	}
	var update visitors.VisitorUpdate
	if err := ctx.BodyParser(&update); err != nil {
		return handleError(ctx, badRequest(errInvalidRequest))
	}
	v, err := h.Store.Update(ctx.UserContext(), id, update)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(v)
}

func (h *Handler) Delete(ctx *cartridge.Context) error {
	id, err := visitorID(ctx)
	if err != nil {
		return handleError(ctx, err)
	}
	v, err := h.Store.Delete(ctx.UserContext(), id)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"message": "Visitor deleted successfully",
		"visitor": v,
	})
}

func (h *Handler) FindByIP(ctx *cartridge.Context) error {
	list, err := h.Store.FindByIP(ctx.UserContext(), ctx.Params("ipAddress"))
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(list)
}

// Export downloads visitors as JSON or CSV. Optional filters narrow the set.
func (h *Handler) Export(ctx *cartridge.Context) error {
	format, err := export.ParseFormat(ctx.Query("format"))
	if err != nil {
		return handleError(ctx, err)
	}

	filter := visitors.Filter{
		ProjectName: ctx.Query("projectName"),
		Device:      ctx.Query("device"),
		Browser:     ctx.Query("browser"),
		Location:    ctx.Query("location"),
	}
	list, err := h.Store.Find(ctx.UserContext(), filter, 0, 0)
	if err != nil {
		return handleError(ctx, err)
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, list, ctx.QueryBool("pretty", false)); err != nil {
		return handleError(ctx, err)
	}

	ctx.Set(fiber.HeaderContentType, format.ContentType())
	ctx.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, format.Filename(h.Engine.Now())))
	return ctx.Status(http.StatusOK).Send(buf.Bytes())
}

func visitorID(ctx *cartridge.Context) (uint, error) {
	raw := strings.TrimSpace(ctx.Params("id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("Invalid visitor id")
	}
	return uint(id), nil
}
