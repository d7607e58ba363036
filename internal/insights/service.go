package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
)

var ErrNoRecipients = errors.New("no recipients configured")

// DeliveryResult is the outcome of sending to one recipient.
type DeliveryResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Service renders reports and hands them to a Sender.
type Service struct {
	appName   string
	collector *Collector
	sender    Sender
	logger    *slog.Logger
}

func NewService(appName string, collector *Collector, sender Sender, logger *slog.Logger) *Service {
	return &Service{
		appName:   appName,
		collector: collector,
		sender:    sender,
		logger:    logger,
	}
}

func (s *Service) Collector() *Collector { return s.collector }

// SendDailyInsights collects the report once and mails it to every
// recipient. A failed recipient is reported in its DeliveryResult and does
// not stop the others. The error is only set when nothing could be sent.
func (s *Service) SendDailyInsights(ctx context.Context, recipients []string) ([]DeliveryResult, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	report, err := s.collector.CollectDaily(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]DeliveryResult, 0, len(recipients))
	for _, to := range recipients {
		results = append(results, s.deliver(ctx, to, func(addr string) (Message, error) {
			return RenderDaily(s.appName, addr, report)
		}))
	}

	s.logger.Info("Daily insights sent",
		slog.Int("recipients", len(recipients)),
		slog.Int("failed", countFailed(results)))
	return results, nil
}

// SendTestEmail sends a short message to check the relay settings.
func (s *Service) SendTestEmail(ctx context.Context, to string) error {
	addr, err := validateRecipient(to)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, Message{
		To:      addr,
		Subject: fmt.Sprintf("%s test email", s.appName),
		Text:    fmt.Sprintf("This is a test email from %s. Your mail settings work.\n", s.appName),
		HTML:    fmt.Sprintf("<p>This is a test email from <strong>%s</strong>. Your mail settings work.</p>", s.appName),
	})
}

func (s *Service) deliver(ctx context.Context, to string, build func(addr string) (Message, error)) DeliveryResult {
	result := DeliveryResult{Recipient: strings.TrimSpace(to)}

	addr, err := validateRecipient(to)
	if err == nil {
		var msg Message
		if msg, err = build(addr); err == nil {
			err = s.sender.Send(ctx, msg)
		}
	}
	if err != nil {
		s.logger.Warn("Email delivery failed",
			slog.String("recipient", result.Recipient),
			slog.Any("error", err))
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

func validateRecipient(to string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(to))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	return addr.Address, nil
}

func countFailed(results []DeliveryResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
