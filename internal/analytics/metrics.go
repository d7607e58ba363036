package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"visitrack/internal/visitors"
)

// Dimension is a visitor attribute that can be broken down.
type Dimension string

const (
	DimensionLocation Dimension = "location"
	DimensionDevice   Dimension = "device"
	DimensionBrowser  Dimension = "browser"
)

var dimensionColumns = map[Dimension]string{
	DimensionLocation: "location",
	DimensionDevice:   "device",
	DimensionBrowser:  "browser",
}

// TopNEntry is one value of a dimension and how many visitors carry it.
type TopNEntry struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// TopN groups every visitor by the dimension. The result is unordered; use
// SortTopN to rank it.
func (e *Engine) TopN(ctx context.Context, dim Dimension) ([]TopNEntry, error) {
	column, ok := dimensionColumns[dim]
	if !ok {
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}
	return e.groupCount(ctx, "top "+string(dim), column)
}

func (e *Engine) groupCount(ctx context.Context, op, column string) ([]TopNEntry, error) {
	entries := []TopNEntry{}
	err := e.visitors().WithContext(ctx).
		Select(column + " AS value, COUNT(*) AS count").
		Group(column).
		Scan(&entries).Error
	if err != nil {
		return nil, queryErr(op, err)
	}
	return entries, nil
}

// SortTopN orders entries by count descending, then value, and keeps the
// first n. n <= 0 keeps all. The input slice is not modified.
func SortTopN(entries []TopNEntry, n int) []TopNEntry {
	sorted := make([]TopNEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].Value < sorted[j].Value
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// BrowserOSStats pairs the browser breakdown with the user agent summary
// breakdown, which carries the operating system.
type BrowserOSStats struct {
	BrowserStats []TopNEntry `json:"browserStats"`
	OSStats      []TopNEntry `json:"osStats"`
}

func (e *Engine) BrowserStats(ctx context.Context) (*BrowserOSStats, error) {
	browsers, err := e.groupCount(ctx, "browser stats", "browser")
	if err != nil {
		return nil, err
	}
	platforms, err := e.groupCount(ctx, "os stats", "user_agent")
	if err != nil {
		return nil, err
	}
	return &BrowserOSStats{BrowserStats: browsers, OSStats: platforms}, nil
}

// Statistics describes a project through one representative visitor.
type Statistics struct {
	MostUsedBrowser     string `json:"mostUsedBrowser"`
	MostUsedDevice      string `json:"mostUsedDevice"`
	MostVisitedLocation string `json:"mostVisitedLocation"`
}

// Statistics reports the details of the first visitor ever stored for the
// project (lowest id). Despite the field names this is not a mode: it is a
// cheap sample and callers rely on it staying cheap. The browser field carries
// the stored user agent summary.
func (e *Engine) Statistics(ctx context.Context, project string) (*Statistics, error) {
	if err := requireProject(project); err != nil {
		return nil, err
	}

	var first visitors.Visitor
	err := visitors.Filter{ProjectName: project}.Apply(e.visitors().WithContext(ctx)).
		Order("id ASC").
		First(&first).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &visitors.VisitorNotFoundError{Field: "project", Value: project}
	}
	if err != nil {
		return nil, queryErr("statistics", err)
	}
	return &Statistics{
		MostUsedBrowser:     first.UserAgent,
		MostUsedDevice:      first.Device,
		MostVisitedLocation: first.Location,
	}, nil
}

// ActiveNow returns visitors seen within the last window. A non-positive
// window falls back to five minutes.
func (e *Engine) ActiveNow(ctx context.Context, window time.Duration) ([]visitors.Visitor, error) {
	if window <= 0 {
		window = 5 * time.Minute
	}
	since := e.Now().Add(-window)
	return e.store.Find(ctx, visitors.Filter{From: &since}, 0, 0)
}
