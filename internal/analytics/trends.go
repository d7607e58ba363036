package analytics

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"visitrack/internal/timeframe"
	"visitrack/internal/visitors"
)

// Period selects the trend bucket.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// ParsePeriod accepts exactly daily, weekly or monthly.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case Daily, Weekly, Monthly:
		return p, nil
	default:
		return "", ErrInvalidPeriod
	}
}

// Bucket expressions over last_visit. The column is swapped for its local
// time before use (see Engine.localLastVisit). Weekly is the Sunday-based
// week of the year (0..53, days before the first Sunday are week 0) and
// monthly the month number (1..12).
var bucketExpressions = map[Period]string{
	Daily:   "strftime('%Y-%m-%d', last_visit)",
	Weekly:  "(CAST(strftime('%j', last_visit) AS INTEGER) + 6 - CAST(strftime('%w', last_visit) AS INTEGER)) / 7",
	Monthly: "CAST(strftime('%m', last_visit) AS INTEGER)",
}

// TrendBucket is one group of a trend. Bucket is a YYYY-MM-DD string for
// daily trends and an int for weekly and monthly ones.
type TrendBucket struct {
	Bucket any   `json:"bucket"`
	Count  int64 `json:"count"`
}

// Trend counts visitors per bucket of their last visit, ascending.
func (e *Engine) Trend(ctx context.Context, project string, period Period) ([]TrendBucket, error) {
	if err := requireProject(project); err != nil {
		return nil, err
	}
	expr, ok := bucketExpressions[period]
	if !ok {
		return nil, ErrInvalidPeriod
	}
	expr = strings.ReplaceAll(expr, "last_visit", e.localLastVisit())

	var rows []struct {
		Bucket string
		Count  int64
	}
	err := visitors.Filter{ProjectName: project}.Apply(e.visitors().WithContext(ctx)).
		Select(expr + " AS bucket, COUNT(*) AS count").
		Group("bucket").
		Order("bucket ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, queryErr("trend", err)
	}

	buckets := make([]TrendBucket, 0, len(rows))
	for _, r := range rows {
		b := TrendBucket{Bucket: r.Bucket, Count: r.Count}
		if period != Daily {
			if n, err := strconv.Atoi(r.Bucket); err == nil {
				b.Bucket = n
			}
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// GrowthPoint is the number of visitors last seen in a calendar month.
type GrowthPoint struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

// MonthlyGrowth groups visitors by the YYYY-MM of their last visit, ascending.
func (e *Engine) MonthlyGrowth(ctx context.Context, project string) ([]GrowthPoint, error) {
	if err := requireProject(project); err != nil {
		return nil, err
	}

	points := []GrowthPoint{}
	err := visitors.Filter{ProjectName: project}.Apply(e.visitors().WithContext(ctx)).
		Select("strftime('%Y-%m', " + e.localLastVisit() + ") AS month, COUNT(*) AS count").
		Group("month").
		Order("month ASC").
		Scan(&points).Error
	if err != nil {
		return nil, queryErr("monthly growth", err)
	}
	return points, nil
}

// DauPoint is the number of distinct addresses whose latest visit fell on Date.
type DauPoint struct {
	Date           string `json:"date"`
	UniqueVisitors int64  `json:"uniqueVisitors"`
}

// DauPeriod echoes the resolved window.
type DauPeriod struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type DauReport struct {
	ProjectName      string     `json:"projectName"`
	Period           DauPeriod  `json:"period"`
	DailyActiveUsers []DauPoint `json:"dailyActiveUsers"`
}

// DailyActiveUsers counts distinct (day, address) pairs per day inside the
// window. Omitted dates default to the last 30 days through today. Each
// visitor row holds only its latest visit, so an address shows up on one day
// at most: the series is a "last seen" histogram, not a replay of history.
func (e *Engine) DailyActiveUsers(ctx context.Context, project, startDate, endDate string) (*DauReport, error) {
	if err := requireProject(project); err != nil {
		return nil, err
	}

	window, err := timeframe.ResolveRange(startDate, endDate, timeframe.DefaultLookbackDays, e.Now(), e.loc)
	if err != nil {
		return nil, ErrInvalidDateFormat
	}

	points, err := e.dailyActive(ctx, project, window)
	if err != nil {
		return nil, err
	}
	return &DauReport{
		ProjectName:      project,
		Period:           DauPeriod{StartDate: window.StartDate(), EndDate: window.EndDate()},
		DailyActiveUsers: points,
	}, nil
}

func (e *Engine) dailyActive(ctx context.Context, project string, window timeframe.DateRange) ([]DauPoint, error) {
	var rows []visitors.Visitor
	err := visitors.Filter{ProjectName: project, From: &window.From, To: &window.To}.
		Apply(e.visitors().WithContext(ctx)).
		Select("ip_address, last_visit").
		Scan(&rows).Error
	if err != nil {
		return nil, queryErr("daily active users", err)
	}

	// Days are taken in the configured zone so they line up with the window.
	perDay := make(map[string]map[string]struct{})
	for _, r := range rows {
		day := r.LastVisit.In(e.loc).Format(timeframe.DayLayout)
		if perDay[day] == nil {
			perDay[day] = make(map[string]struct{})
		}
		perDay[day][r.IPAddress] = struct{}{}
	}

	days := lo.Keys(perDay)
	slices.Sort(days)
	return lo.Map(days, func(day string, _ int) DauPoint {
		return DauPoint{Date: day, UniqueVisitors: int64(len(perDay[day]))}
	}), nil
}

// DailySeries is the DAU series for the last n days with empty days filled in.
func (e *Engine) DailySeries(ctx context.Context, project string, days int) ([]timeframe.DateStat, error) {
	window := timeframe.LastDays(days, e.Now(), e.loc)
	points, err := e.dailyActive(ctx, project, window)
	if err != nil {
		return nil, err
	}
	stats := make([]timeframe.DateStat, len(points))
	for i, p := range points {
		stats[i] = timeframe.DateStat{Date: p.Date, Count: p.UniqueVisitors}
	}
	return timeframe.FillDays(window, stats), nil
}
