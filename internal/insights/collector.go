// Package insights builds the daily traffic report, watches hourly traffic
// for anomalies and mails both to the configured recipients.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"visitrack/internal/analytics"
	"visitrack/internal/pkg/async"
	"visitrack/internal/timeframe"
	"visitrack/internal/visitors"
)

const (
	topEntries   = 5
	trendDays    = 7
	collectorMax = 4
)

// DailyInsights is the content of the daily report.
type DailyInsights struct {
	GeneratedAt         time.Time                `json:"generatedAt"`
	Date                string                   `json:"date"`
	TotalVisitors       int64                    `json:"totalVisitors"`
	YesterdayVisitors   int64                    `json:"yesterdayVisitors"`
	PreviousDayVisitors int64                    `json:"previousDayVisitors"`
	GrowthPercent       float64                  `json:"growthPercent"`
	TopLocations        []analytics.TopNEntry    `json:"topLocations"`
	TopDevices          []analytics.TopNEntry    `json:"topDevices"`
	TopBrowsers         []analytics.TopNEntry    `json:"topBrowsers"`
	Projects            []analytics.ProjectTotal `json:"projects"`
	DauTrend            []timeframe.DateStat     `json:"dauTrend"`
	TrendSlope          float64                  `json:"trendSlope"`
}

// Collector gathers the report queries in parallel.
type Collector struct {
	engine *analytics.Engine
	pool   *async.Pool
	logger *slog.Logger
}

func NewCollector(engine *analytics.Engine, logger *slog.Logger) *Collector {
	return &Collector{
		engine: engine,
		pool:   async.NewPool(collectorMax),
		logger: logger,
	}
}

// GrowthPercent is the day over day change rounded to one decimal. It is 0
// when there is nothing to compare with.
func GrowthPercent(current, previous int64) float64 {
	if previous == 0 {
		return 0
	}
	change := float64(current-previous) / float64(previous) * 100
	return math.Round(change*10) / 10
}

func (c *Collector) CollectDaily(ctx context.Context) (*DailyInsights, error) {
	now := c.engine.Now()
	loc := c.engine.Location()
	yesterday := timeframe.Yesterday(now, loc)
	dayBefore := timeframe.Yesterday(yesterday.From, loc)

	count := func(r timeframe.DateRange) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			return c.engine.CountBetween(ctx, visitors.AllProjects, r.From, r.To)
		}
	}
	top := func(dim analytics.Dimension) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			entries, err := c.engine.TopN(ctx, dim)
			if err != nil {
				return nil, err
			}
			return analytics.SortTopN(entries, topEntries), nil
		}
	}

	tasks := []async.Task{
		{Name: "total", Execute: func(ctx context.Context) (any, error) {
			return c.engine.UniqueCount(ctx, visitors.AllProjects)
		}},
		{Name: "yesterday", Execute: count(yesterday)},
		{Name: "day_before", Execute: count(dayBefore)},
		{Name: "locations", Execute: top(analytics.DimensionLocation)},
		{Name: "devices", Execute: top(analytics.DimensionDevice)},
		{Name: "browsers", Execute: top(analytics.DimensionBrowser)},
		{Name: "projects", Execute: func(ctx context.Context) (any, error) {
			return c.engine.TotalVisits(ctx)
		}},
		{Name: "dau", Execute: func(ctx context.Context) (any, error) {
			return c.engine.DailySeries(ctx, visitors.AllProjects, trendDays)
		}},
	}

	results := c.pool.Execute(ctx, tasks)
	for _, task := range tasks {
		if err := results[task.Name].Err; err != nil {
			c.logger.Error("Failed to collect daily insights",
				slog.String("query", task.Name),
				slog.Any("error", err))
			return nil, fmt.Errorf("collecting %s: %w", task.Name, err)
		}
	}

	insights := &DailyInsights{
		GeneratedAt:         now,
		Date:                yesterday.StartDate(),
		TotalVisitors:       results["total"].Data.(int64),
		YesterdayVisitors:   results["yesterday"].Data.(int64),
		PreviousDayVisitors: results["day_before"].Data.(int64),
		TopLocations:        results["locations"].Data.([]analytics.TopNEntry),
		TopDevices:          results["devices"].Data.([]analytics.TopNEntry),
		TopBrowsers:         results["browsers"].Data.([]analytics.TopNEntry),
		Projects:            results["projects"].Data.([]analytics.ProjectTotal),
		DauTrend:            results["dau"].Data.([]timeframe.DateStat),
	}
	insights.GrowthPercent = GrowthPercent(insights.YesterdayVisitors, insights.PreviousDayVisitors)
	insights.TrendSlope = math.Round(timeframe.Slope(insights.DauTrend)*100) / 100
	return insights, nil
}
