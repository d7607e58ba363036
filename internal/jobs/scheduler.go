package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"visitrack/internal/config"
	"visitrack/internal/insights"
	"visitrack/internal/settings"
)

const geoLiteCheckInterval = 24 * time.Hour

// Scheduler is responsible for running background jobs
type Scheduler struct {
	db        *gorm.DB
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	alerts   *insights.AlertMonitor
	geolite  *GeoLiteUpdater
	schedule *InsightsSchedule

	alertTicker   *time.Ticker
	geoliteTicker *time.Ticker
}

func NewScheduler(cfg *config.Config, db *gorm.DB, alerts *insights.AlertMonitor, geolite *GeoLiteUpdater, schedule *InsightsSchedule, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:       db,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		enabled:  true,
		cfg:      cfg,
		alerts:   alerts,
		geolite:  geolite,
		schedule: schedule,
	}
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}
	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	s.startTicker("traffic_alerts", time.Duration(s.cfg.JobIntervalSeconds)*time.Second, &s.alertTicker, s.checkTraffic)
	s.startTicker("geolite_update", geoLiteCheckInterval, &s.geoliteTicker, func() error {
		return s.geolite.Run(s.ctx)
	})

	if s.cfg.InsightsEnabled {
		recipients := settings.Recipients(s.db, settings.KeyInsightsRecipients, s.cfg.InsightsRecipientList())
		if err := s.schedule.Start(recipients, s.cfg.InsightsCron); err != nil {
			s.logger.Warn("Daily insights schedule not started", slog.Any("error", err))
		}
	}

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))
	return nil
}

func (s *Scheduler) startTicker(name string, interval time.Duration, ticker **time.Ticker, job func() error) {
	s.logger.Info("Starting job", slog.String("job", name), slog.Duration("interval", interval))
	t := time.NewTicker(interval)
	*ticker = t

	go func() {
		s.executeJobSafely(name, job)
		for {
			select {
			case <-t.C:
				s.executeJobSafely(name, job)
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", name))
				return
			}
		}
	}()
}

func (s *Scheduler) checkTraffic() error {
	recipients := settings.Recipients(s.db, settings.KeyAlertRecipients, s.cfg.AlertRecipientList())
	report, err := s.alerts.CheckTraffic(s.ctx, recipients)
	if err != nil {
		return err
	}
	s.logger.Debug("Traffic checked",
		slog.Int("projects", report.Projects),
		slog.Int("alerts", len(report.Alerts)))
	return nil
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.alertTicker != nil {
		s.alertTicker.Stop()
	}
	if s.geoliteTicker != nil {
		s.geoliteTicker.Stop()
	}
	s.schedule.Stop()

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
