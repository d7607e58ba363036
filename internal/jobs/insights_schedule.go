package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"visitrack/internal/config"
	"visitrack/internal/insights"
)

var ErrInvalidCronExpression = errors.New("invalid cron expression")

const insightsJobTimeout = 5 * time.Minute

// CronPreset is a named schedule offered to clients.
type CronPreset struct {
	Name        string `json:"name"`
	Expression  string `json:"expression"`
	Description string `json:"description"`
}

func CronPresets() []CronPreset {
	return []CronPreset{
		{Name: "daily-9am", Expression: "0 9 * * *", Description: "Every day at 9:00"},
		{Name: "daily-8am", Expression: "0 8 * * *", Description: "Every day at 8:00"},
		{Name: "daily-6pm", Expression: "0 18 * * *", Description: "Every day at 18:00"},
		{Name: "weekdays-9am", Expression: "0 9 * * 1-5", Description: "Monday to Friday at 9:00"},
		{Name: "weekly-monday", Expression: "0 9 * * 1", Description: "Every Monday at 9:00"},
		{Name: "test-every-minute", Expression: "* * * * *", Description: "Every minute, for testing"},
	}
}

// ScheduleStatus is a snapshot of the daily insights schedule.
type ScheduleStatus struct {
	Running    bool       `json:"running"`
	Expression string     `json:"expression,omitempty"`
	Recipients []string   `json:"recipients"`
	NextRun    *time.Time `json:"nextRun,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
}

// InsightsSchedule mails the daily report on a cron expression evaluated
// in the configured time zone. At most one schedule runs at a time.
type InsightsSchedule struct {
	service *insights.Service
	loc     *time.Location
	logger  *slog.Logger

	mu         sync.Mutex
	cron       *cron.Cron
	entry      cron.EntryID
	expression string
	recipients []string
	startedAt  time.Time
}

func NewInsightsSchedule(service *insights.Service, loc *time.Location, logger *slog.Logger) *InsightsSchedule {
	return &InsightsSchedule{service: service, loc: loc, logger: logger}
}

// Start replaces any running schedule. An empty expression means the daily
// 09:00 default.
func (s *InsightsSchedule) Start(recipients []string, expression string) error {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		expression = config.DefaultInsightsCron
	}
	if _, err := cron.ParseStandard(expression); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, expression, err)
	}

	recipients = lo.Uniq(lo.Compact(lo.Map(recipients, func(r string, _ int) string {
		return strings.TrimSpace(r)
	})))
	if len(recipients) == 0 {
		return insights.ErrNoRecipients
	}

	c := cron.New(cron.WithLocation(s.loc))
	entry, err := c.AddFunc(expression, func() { s.run(recipients) })
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, expression, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = c
	s.entry = entry
	s.expression = expression
	s.recipients = recipients
	s.startedAt = time.Now()
	c.Start()

	s.logger.Info("Daily insights schedule started",
		slog.String("expression", expression),
		slog.Int("recipients", len(recipients)))
	return nil
}

// Stop halts the schedule. It reports false when nothing was running.
func (s *InsightsSchedule) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return false
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("Daily insights schedule stopped")
	return true
}

func (s *InsightsSchedule) Status() ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ScheduleStatus{Recipients: []string{}}
	if s.cron == nil {
		return status
	}
	status.Running = true
	status.Expression = s.expression
	status.Recipients = append(status.Recipients, s.recipients...)
	started := s.startedAt
	status.StartedAt = &started
	if e := s.cron.Entry(s.entry); e.Valid() && !e.Next.IsZero() {
		next := e.Next
		status.NextRun = &next
	}
	return status
}

func (s *InsightsSchedule) run(recipients []string) {
	ctx, cancel := context.WithTimeout(context.Background(), insightsJobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in daily insights job", slog.Any("panic", r))
		}
	}()

	results, err := s.service.SendDailyInsights(ctx, recipients)
	if err != nil {
		s.logger.Error("Scheduled daily insights failed", slog.Any("error", err))
		return
	}
	failed := lo.Filter(results, func(r insights.DeliveryResult, _ int) bool { return !r.Success })
	if len(failed) > 0 {
		s.logger.Warn("Scheduled daily insights partially delivered",
			slog.Int("failed", len(failed)),
			slog.Int("recipients", len(results)))
	}
}
