package insights

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"visitrack/internal/analytics"
	"visitrack/internal/timeframe"
)

type AlertKind string

const (
	AlertSpike AlertKind = "spike"
	AlertHigh  AlertKind = "high"
	AlertLow   AlertKind = "low"
)

// Alert describes one rule that fired for one project.
type Alert struct {
	Kind        AlertKind `json:"kind"`
	ProjectName string    `json:"projectName"`
	Current     int64     `json:"current"`
	Average     float64   `json:"average"`
	Threshold   float64   `json:"threshold"`
	Message     string    `json:"message"`
	DetectedAt  time.Time `json:"detectedAt"`
}

// Thresholds configures the three alert rules.
type Thresholds struct {
	SpikePercent int
	HighHourly   int
	LowHourly    int
}

// Evaluate applies the spike, high and low rules to the visitor counts of
// the current hour and the two hours before it. Alerts come back in that
// rule order.
func Evaluate(project string, current, previous, earlier int64, th Thresholds, at time.Time) []Alert {
	avg := float64(previous+earlier) / 2
	var alerts []Alert

	if spike := avg * (1 + float64(th.SpikePercent)/100); avg > 0 && float64(current) > spike {
		alerts = append(alerts, Alert{
			Kind: AlertSpike, ProjectName: project, Current: current, Average: avg, Threshold: spike,
			Message: fmt.Sprintf("%s has %d visitors this hour, %.0f%% above the recent average of %.1f",
				project, current, (float64(current)/avg-1)*100, avg),
			DetectedAt: at,
		})
	}
	if current > int64(th.HighHourly) {
		alerts = append(alerts, Alert{
			Kind: AlertHigh, ProjectName: project, Current: current, Average: avg, Threshold: float64(th.HighHourly),
			Message:    fmt.Sprintf("%s passed %d visitors this hour (%d)", project, th.HighHourly, current),
			DetectedAt: at,
		})
	}
	if avg > float64(th.LowHourly) && current < int64(th.LowHourly) {
		alerts = append(alerts, Alert{
			Kind: AlertLow, ProjectName: project, Current: current, Average: avg, Threshold: float64(th.LowHourly),
			Message: fmt.Sprintf("%s dropped to %d visitors this hour, below %d (recent average %.1f)",
				project, current, th.LowHourly, math.Round(avg*10)/10),
			DetectedAt: at,
		})
	}
	return alerts
}

// AlertReport is the outcome of one traffic check.
type AlertReport struct {
	CheckedAt  time.Time        `json:"checkedAt"`
	Projects   int              `json:"projects"`
	Alerts     []Alert          `json:"alerts"`
	Deliveries []DeliveryResult `json:"deliveries"`
}

// AlertMonitor compares hourly traffic per project against Thresholds.
type AlertMonitor struct {
	appName    string
	engine     *analytics.Engine
	sender     Sender
	thresholds Thresholds
	logger     *slog.Logger
}

func NewAlertMonitor(appName string, engine *analytics.Engine, sender Sender, th Thresholds, logger *slog.Logger) *AlertMonitor {
	return &AlertMonitor{
		appName:    appName,
		engine:     engine,
		sender:     sender,
		thresholds: th,
		logger:     logger,
	}
}

// CheckTraffic evaluates every project and mails each alert to every
// recipient. With no recipients the alerts are only reported.
func (m *AlertMonitor) CheckTraffic(ctx context.Context, recipients []string) (*AlertReport, error) {
	now := m.engine.Now()
	current, previous, earlier := timeframe.HourWindows(now)

	projects, err := m.engine.Projects(ctx)
	if err != nil {
		return nil, err
	}

	report := &AlertReport{
		CheckedAt:  now,
		Projects:   len(projects),
		Alerts:     []Alert{},
		Deliveries: []DeliveryResult{},
	}
	for _, project := range projects {
		counts := make([]int64, 3)
		for i, window := range []timeframe.DateRange{current, previous, earlier} {
			n, err := m.engine.CountBetween(ctx, project, window.From, window.To)
			if err != nil {
				return nil, fmt.Errorf("counting %s: %w", project, err)
			}
			counts[i] = n
		}
		report.Alerts = append(report.Alerts, Evaluate(project, counts[0], counts[1], counts[2], m.thresholds, now)...)
	}

	if len(report.Alerts) > 0 {
		m.logger.Warn("Traffic alerts raised", slog.Int("count", len(report.Alerts)))
	}

	svc := &Service{appName: m.appName, sender: m.sender, logger: m.logger}
	for _, alert := range report.Alerts {
		for _, to := range recipients {
			report.Deliveries = append(report.Deliveries, svc.deliver(ctx, to, func(addr string) (Message, error) {
				return RenderAlert(m.appName, addr, alert)
			}))
		}
	}
	return report, nil
}
