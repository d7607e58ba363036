package v1

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"visitrack/internal/analytics"
)

func (h *Handler) FilterSearch(ctx *cartridge.Context) error {
	filters := analytics.SearchFilters{
		Device:      ctx.Query("device"),
		Browser:     ctx.Query("browser"),
		ProjectName: ctx.Query("projectName"),
		Location:    ctx.Query("location"),
		StartDate:   ctx.Query("startDate"),
		EndDate:     ctx.Query("endDate"),
	}
	pagination := analytics.Pagination{
		Page:  ctx.QueryInt("page", analytics.DefaultPage),
		Limit: ctx.QueryInt("limit", analytics.DefaultLimit),
	}

	page, err := h.Engine.FilterSearch(ctx.UserContext(), filters, pagination)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(page)
}

func (h *Handler) DateRangeSearch(ctx *cartridge.Context) error {
	result, err := h.Engine.DateRangeSearch(ctx.UserContext(), ctx.Query("startDate"), ctx.Query("endDate"))
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(result)
}

func (h *Handler) UniqueCount(ctx *cartridge.Context) error {
	project := ctx.Params("projectName")
	n, err := h.Engine.UniqueCount(ctx.UserContext(), project)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"projectName":    project,
		"uniqueVisitors": n,
	})
}

func (h *Handler) TotalVisits(ctx *cartridge.Context) error {
	totals, err := h.Engine.TotalVisits(ctx.UserContext())
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(totals)
}

func (h *Handler) Growth(ctx *cartridge.Context) error {
	totals, err := h.Engine.Growth(ctx.UserContext())
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(totals)
}

func (h *Handler) MonthlyGrowth(ctx *cartridge.Context) error {
	points, err := h.Engine.MonthlyGrowth(ctx.UserContext(), ctx.Params("projectName"))
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(points)
}

// Trend defaults to a daily breakdown when no period is given.
func (h *Handler) Trend(ctx *cartridge.Context) error {
	period, err := analytics.ParsePeriod(ctx.Query("period", string(analytics.Daily)))
	if err != nil {
		return handleError(ctx, err)
	}
	project := ctx.Params("projectName")
	buckets, err := h.Engine.Trend(ctx.UserContext(), project, period)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"projectName": project,
		"period":      period,
		"trend":       buckets,
	})
}

func (h *Handler) Statistics(ctx *cartridge.Context) error {
	stats, err := h.Engine.Statistics(ctx.UserContext(), ctx.Params("projectName"))
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(stats)
}

func (h *Handler) DailyActiveUsers(ctx *cartridge.Context) error {
	report, err := h.Engine.DailyActiveUsers(ctx.UserContext(), ctx.Params("projectName"),
		ctx.Query("startDate"), ctx.Query("endDate"))
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(report)
}

// ActiveNow lists visitors seen in the last ?minutes, defaulting to the
// configured window.
func (h *Handler) ActiveNow(ctx *cartridge.Context) error {
	window := h.Config.ActiveWindow()
	if minutes := ctx.QueryInt("minutes", 0); minutes > 0 {
		window = time.Duration(minutes) * time.Minute
	}
	active, err := h.Engine.ActiveNow(ctx.UserContext(), window)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"windowMinutes":  int(window / time.Minute),
		"activeVisitors": len(active),
		"visitors":       active,
	})
}

func (h *Handler) Locations(ctx *cartridge.Context) error {
	return h.topN(ctx, analytics.DimensionLocation)
}

func (h *Handler) Devices(ctx *cartridge.Context) error {
	return h.topN(ctx, analytics.DimensionDevice)
}

func (h *Handler) Browsers(ctx *cartridge.Context) error {
	return h.topN(ctx, analytics.DimensionBrowser)
}

func (h *Handler) BrowserStats(ctx *cartridge.Context) error {
	stats, err := h.Engine.BrowserStats(ctx.UserContext())
	if err != nil {
		return handleError(ctx, err)
	}
	stats.BrowserStats = analytics.SortTopN(stats.BrowserStats, 0)
	stats.OSStats = analytics.SortTopN(stats.OSStats, 0)
	return ctx.JSON(stats)
}

// topN answers a breakdown sorted by count, truncated to ?limit when set.
func (h *Handler) topN(ctx *cartridge.Context, dim analytics.Dimension) error {
	entries, err := h.Engine.TopN(ctx.UserContext(), dim)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(analytics.SortTopN(displayLabels(entries), ctx.QueryInt("limit", 0)))
}

// displayLabels title-cases values that were stored all lower case, such as
// edits made through the update endpoint. Mixed case values are kept. Values
// that end up with the same label are merged.
func displayLabels(entries []analytics.TopNEntry) []analytics.TopNEntry {
	caser := cases.Title(language.AmericanEnglish)
	out := make([]analytics.TopNEntry, 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		if e.Value == strings.ToLower(e.Value) {
			e.Value = caser.String(e.Value)
		}
		if i, ok := index[e.Value]; ok {
			out[i].Count += e.Count
			continue
		}
		index[e.Value] = len(out)
		out = append(out, e)
	}
	return out
}
