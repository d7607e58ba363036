package visitors

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Clock returns the current instant. Tests pin it.
type Clock func() time.Time

// Visit is the outcome of recording a hit.
type Visit struct {
	Visitor        *Visitor `json:"visitor"`
	UniqueVisitors int64    `json:"uniqueVisitors"`
}

// Resolver turns raw hits into visitor records.
type Resolver struct {
	store    *Store
	enricher Enricher
	now      Clock
	logger   *slog.Logger
}

func NewResolver(store *Store, enricher Enricher, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		enricher: enricher,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source.
func (r *Resolver) WithClock(now Clock) *Resolver {
	r.now = now
	return r
}

// RecordVisit creates or refreshes the visitor for (ipAddress, projectName)
// and returns it with the project's unique visitor count. An empty address is
// recorded as UnknownIP.
func (r *Resolver) RecordVisit(ctx context.Context, ipAddress, projectName, userAgent string) (*Visit, error) {
	if ipAddress == "" {
		ipAddress = UnknownIP
	}
	id, err := IdentityOf(ipAddress, projectName)
	if err != nil {
		return nil, err
	}

	enrichment := r.enrich(ipAddress, userAgent)

	visitor, count, err := r.store.Upsert(ctx, id, enrichment, r.now())
	if err != nil {
		r.logger.Error("Failed to record visit",
			slog.String("project", projectName),
			slog.Any("error", err))
		return nil, fmt.Errorf("recording visit: %w", err)
	}

	r.logger.Debug("Visit recorded",
		slog.String("project", projectName),
		slog.String("visitor", visitor.Alias),
		slog.Int64("unique_visitors", count))
	return &Visit{Visitor: visitor, UniqueVisitors: count}, nil
}

// enrich shields the write path from enricher panics.
func (r *Resolver) enrich(ipAddress, userAgent string) (out Enrichment) {
	if r.enricher == nil {
		return Enrichment{}
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("Enrichment failed, storing Unknown values", slog.Any("panic", rec))
			out = Enrichment{}
		}
	}()
	return r.enricher.Enrich(ipAddress, userAgent)
}
