package analytics

import (
	"context"
	"fmt"
	"math"

	"visitrack/internal/timeframe"
	"visitrack/internal/visitors"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// SearchFilters are exact-match filters. Empty values and "All" are ignored.
// StartDate and EndDate are YYYY-MM-DD days, both inclusive.
type SearchFilters struct {
	Device      string
	Browser     string
	ProjectName string
	Location    string
	StartDate   string
	EndDate     string
}

// Pagination is 1-indexed. Zero values take the defaults.
type Pagination struct {
	Page  int
	Limit int
}

func (p Pagination) normalized() Pagination {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	return p
}

type SearchPage struct {
	Visitors    []visitors.Visitor `json:"visitors"`
	TotalCount  int64              `json:"totalVisitors"`
	TotalPages  int                `json:"totalPages"`
	CurrentPage int                `json:"currentPage"`
}

// FilterSearch returns one page of matching visitors, most recent first.
func (e *Engine) FilterSearch(ctx context.Context, filters SearchFilters, pagination Pagination) (*SearchPage, error) {
	p := pagination.normalized()

	f := visitors.Filter{
		ProjectName: filters.ProjectName,
		Browser:     filters.Browser,
		Device:      filters.Device,
		Location:    filters.Location,
	}
	if filters.StartDate != "" {
		d, err := parseDay(filters.StartDate, e.loc)
		if err != nil {
			return nil, err
		}
		from := timeframe.StartOfDay(d, e.loc)
		f.From = &from
	}
	if filters.EndDate != "" {
		d, err := parseDay(filters.EndDate, e.loc)
		if err != nil {
			return nil, err
		}
		to := timeframe.EndOfDay(d, e.loc)
		f.To = &to
	}

	total, err := e.store.Count(ctx, f)
	if err != nil {
		return nil, err
	}
	page, err := e.store.Find(ctx, f, (p.Page-1)*p.Limit, p.Limit)
	if err != nil {
		return nil, err
	}

	return &SearchPage{
		Visitors:    page,
		TotalCount:  total,
		TotalPages:  int(math.Ceil(float64(total) / float64(p.Limit))),
		CurrentPage: p.Page,
	}, nil
}

type DateRangeResult struct {
	StartDate    string             `json:"startDate"`
	EndDate      string             `json:"endDate"`
	VisitorCount int                `json:"visitorCount"`
	Visitors     []visitors.Visitor `json:"visitors"`
}

// DateRangeSearch lists visitors last seen between two whole days.
func (e *Engine) DateRangeSearch(ctx context.Context, startDate, endDate string) (*DateRangeResult, error) {
	if startDate == "" || endDate == "" {
		return nil, fmt.Errorf("%w: start and end dates are required", ErrInvalidDateFormat)
	}
	start, err := parseDay(startDate, e.loc)
	if err != nil {
		return nil, err
	}
	end, err := parseDay(endDate, e.loc)
	if err != nil {
		return nil, err
	}

	window := timeframe.DayRange(start, end, e.loc)
	found, err := e.store.Find(ctx, visitors.Filter{From: &window.From, To: &window.To}, 0, 0)
	if err != nil {
		return nil, err
	}
	return &DateRangeResult{
		StartDate:    startDate,
		EndDate:      endDate,
		VisitorCount: len(found),
		Visitors:     found,
	}, nil
}
