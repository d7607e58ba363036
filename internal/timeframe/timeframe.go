// Package timeframe resolves calendar days and date ranges in the configured
// zone into the UTC instants the visitor store is queried with.
package timeframe

import (
	"fmt"
	"time"
)

// DayLayout is the wire format for dates in requests and buckets.
const DayLayout = "2006-01-02"

// DefaultLookbackDays is the window used when a range has no start.
const DefaultLookbackDays = 30

// DateStat is one day of a series.
type DateStat struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider reads the system clock.
type DefaultTimeProvider struct{}

func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// FixedTimeProvider always returns At, converted to the requested zone.
type FixedTimeProvider struct {
	At time.Time
}

func (p *FixedTimeProvider) Now(loc *time.Location) time.Time {
	return p.At.In(loc)
}

// ParseDay parses YYYY-MM-DD as midnight in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return d, nil
}

// StartOfDay is 00:00:00 of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay is the last representable instant of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, loc)
}

// DateRange is an inclusive pair of instants.
type DateRange struct {
	From time.Time
	To   time.Time
}

// StartDate and EndDate are the calendar days the range covers.
func (r DateRange) StartDate() string { return r.From.Format(DayLayout) }
func (r DateRange) EndDate() string { return r.To.Format(DayLayout) }

// Contains reports whether t falls inside the range, bounds included.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// DayRange spans whole calendar days: from 00:00 of start to the end of end.
func DayRange(start, end time.Time, loc *time.Location) DateRange {
	return DateRange{From: StartOfDay(start, loc), To: EndOfDay(end, loc)}
}

// ResolveRange parses optional day strings. A missing start defaults to
// lookbackDays before today and a missing end to today.
func ResolveRange(startStr, endStr string, lookbackDays int, now time.Time, loc *time.Location) (DateRange, error) {
	today := now.In(loc)
	start := today.AddDate(0, 0, -lookbackDays)
	end := today

	if startStr != "" {
		d, err := ParseDay(startStr, loc)
		if err != nil {
			return DateRange{}, err
		}
		start = d
	}
	if endStr != "" {
		d, err := ParseDay(endStr, loc)
		if err != nil {
			return DateRange{}, err
		}
		end = d
	}
	return DayRange(start, end, loc), nil
}

// LastDays covers the n calendar days ending with the day of now.
func LastDays(n int, now time.Time, loc *time.Location) DateRange {
	if n < 1 {
		n = 1
	}
	return DayRange(now.AddDate(0, 0, -(n-1)), now, loc)
}

// Yesterday is the full previous calendar day.
func Yesterday(now time.Time, loc *time.Location) DateRange {
	d := now.In(loc).AddDate(0, 0, -1)
	return DayRange(d, d, loc)
}

// HourWindows returns the current hour up to now plus the two full hours before it.
func HourWindows(now time.Time) (current, previous, earlier DateRange) {
	start := now.Truncate(time.Hour)
	current = DateRange{From: start, To: now}
	previous = DateRange{From: start.Add(-time.Hour), To: start.Add(-time.Nanosecond)}
	earlier = DateRange{From: start.Add(-2 * time.Hour), To: start.Add(-time.Hour - time.Nanosecond)}
	return current, previous, earlier
}

// FillDays returns one point per calendar day of r, using zero where stats
// has no entry.
func FillDays(r DateRange, stats []DateStat) []DateStat {
	counts := make(map[string]int64, len(stats))
	for _, s := range stats {
		counts[s.Date] += s.Count
	}

	var points []DateStat
	loc := r.From.Location()
	for d := StartOfDay(r.From, loc); !d.After(r.To); d = d.AddDate(0, 0, 1) {
		key := d.Format(DayLayout)
		points = append(points, DateStat{Date: key, Count: counts[key]})
	}
	return points
}

// Slope is the least squares slope of the series, in visitors per day.
func Slope(points []DateStat) float64 {
	if len(points) < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(points))
	for i, point := range points {
		x := float64(i)
		y := float64(point.Count)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	return (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
}
