// Package analytics answers read-only questions over the visitor store:
// counts, time buckets, growth, daily actives and dimension breakdowns.
package analytics

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"visitrack/internal/timeframe"
	"visitrack/internal/visitors"
)

var (
	ErrInvalidPeriod     = errors.New("invalid period, expected daily, weekly or monthly")
	ErrInvalidDateFormat = errors.New("invalid date format, use YYYY-MM-DD")
)

// Engine runs aggregation queries. It never writes.
type Engine struct {
	db    *gorm.DB
	store *visitors.Store
	loc   *time.Location
	clock timeframe.TimeProvider
}

func NewEngine(store *visitors.Store, loc *time.Location, clock timeframe.TimeProvider) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = &timeframe.DefaultTimeProvider{}
	}
	return &Engine{db: store.DB(), store: store, loc: loc, clock: clock}
}

// Now is the engine's current time in the configured zone.
func (e *Engine) Now() time.Time {
	return e.clock.Now(e.loc)
}

// Location is the zone used for calendar day bounds.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// localLastVisit is the SQL for last_visit shifted by the zone's current UTC
// offset, so strftime buckets fall on local calendar days.
func (e *Engine) localLastVisit() string {
	_, offset := e.Now().Zone()
	if offset == 0 {
		return "last_visit"
	}
	return fmt.Sprintf("datetime(last_visit, '%+d seconds')", offset)
}

func (e *Engine) visitors() *gorm.DB {
	return e.db.Model(&visitors.Visitor{})
}

func requireProject(project string) error {
	if project == "" {
		return visitors.ErrInvalidIdentity
	}
	return nil
}

// queryErr keeps StoreError for an unreachable database. Anything else is a
// fault in the query and surfaces as an internal error.
func queryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if visitors.Unavailable(err) {
		return &visitors.StoreError{Op: op, Err: err}
	}
	return fmt.Errorf("analytics %s: %w", op, err)
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	d, err := timeframe.ParseDay(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
	}
	return d, nil
}
