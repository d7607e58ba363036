package internal

import (
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"visitrack/internal/analytics"
	"visitrack/internal/config"
	"visitrack/internal/insights"
	"visitrack/internal/jobs"
	"visitrack/internal/pkg/geoip"
	"visitrack/internal/timeframe"
	"visitrack/internal/visitors"
)

// Services holds the components route handlers and jobs share.
type Services struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *gorm.DB

	Locator   *geoip.Locator
	Store     *visitors.Store
	Resolver  *visitors.Resolver
	Engine    *analytics.Engine
	Collector *insights.Collector
	Insights  *insights.Service
	Alerts    *insights.AlertMonitor
	Schedule  *jobs.InsightsSchedule
	GeoLite   *jobs.GeoLiteUpdater
}

type serviceOptions struct {
	clock    timeframe.TimeProvider
	sender   insights.Sender
	enricher visitors.Enricher
}

// ServiceOption overrides a default dependency, mostly for tests.
type ServiceOption func(*serviceOptions)

// WithClock pins the time seen by the resolver and the analytics engine.
func WithClock(clock timeframe.TimeProvider) ServiceOption {
	return func(o *serviceOptions) { o.clock = clock }
}

// WithSender replaces the SMTP sender.
func WithSender(sender insights.Sender) ServiceOption {
	return func(o *serviceOptions) { o.sender = sender }
}

// WithEnricher replaces the GeoLite and user agent enrichment.
func WithEnricher(enricher visitors.Enricher) ServiceOption {
	return func(o *serviceOptions) { o.enricher = enricher }
}

func NewServices(cfg *config.Config, db *gorm.DB, logger *slog.Logger, opts ...ServiceOption) (*Services, error) {
	if db == nil {
		return nil, errors.New("database connection required")
	}

	o := serviceOptions{clock: &timeframe.DefaultTimeProvider{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sender == nil {
		o.sender = insights.NewSMTPSender(cfg, logger)
	}

	s := &Services{Config: cfg, Logger: logger, DB: db}
	s.Locator = geoip.New(cfg.GeoDBPath, logger)
	if o.enricher == nil {
		o.enricher = visitors.NewHitEnricher(s.Locator)
	}

	loc := cfg.Location()
	clock := o.clock
	s.Store = visitors.NewStore(db, logger)
	s.Resolver = visitors.NewResolver(s.Store, o.enricher, logger).
		WithClock(func() time.Time { return clock.Now(time.UTC) })
	s.Engine = analytics.NewEngine(s.Store, loc, clock)

	s.Collector = insights.NewCollector(s.Engine, logger)
	s.Insights = insights.NewService(cfg.AppName, s.Collector, o.sender, logger)
	s.Alerts = insights.NewAlertMonitor(cfg.AppName, s.Engine, o.sender, insights.Thresholds{
		SpikePercent: cfg.AlertSpikePercent,
		HighHourly:   cfg.AlertHighHourly,
		LowHourly:    cfg.AlertLowHourly,
	}, logger)
	s.Schedule = jobs.NewInsightsSchedule(s.Insights, loc, logger)
	s.GeoLite = jobs.NewGeoLiteUpdater(db, s.Locator, logger)
	return s, nil
}

// NewScheduler builds the background worker over these services.
func (s *Services) NewScheduler() *jobs.Scheduler {
	return jobs.NewScheduler(s.Config, s.DB, s.Alerts, s.GeoLite, s.Schedule, s.Logger)
}

// Close stops the insights schedule and releases the GeoLite reader.
func (s *Services) Close() {
	s.Schedule.Stop()
	if err := s.Locator.Close(); err != nil {
		s.Logger.Warn("Failed to close GeoLite database", slog.Any("error", err))
	}
}
