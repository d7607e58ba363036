// Package seeder fills the visitor store with sample traffic for local
// development and demos.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"visitrack/internal/visitors"
)

// DefaultProjects are seeded by Run.
var DefaultProjects = []string{"blog", "docs", "shop"}

// Seeder writes visitors through the store's upsert, spreading last visits
// over the past Days days.
type Seeder struct {
	Store              *visitors.Store
	Logger             *slog.Logger
	VisitorsPerProject int
	Days               int

	enricher visitors.Enricher
	now      func() time.Time
}

// NewSeeder creates a new seeder instance
func NewSeeder(store *visitors.Store, logger *slog.Logger, visitorsPerProject int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		Store:              store,
		Logger:             logger,
		VisitorsPerProject: visitorsPerProject,
		Days:               30,
		enricher:           visitors.NewHitEnricher(nil),
		now:                func() time.Time { return time.Now().UTC() },
	}
}

// WithNow pins the reference time, mostly for tests.
func (s *Seeder) WithNow(now time.Time) *Seeder {
	s.now = func() time.Time { return now.UTC() }
	return s
}

// Run seeds every default project.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...",
		slog.Int("visitorsPerProject", s.VisitorsPerProject),
		slog.Int("days", s.Days))

	for _, project := range DefaultProjects {
		if err := s.SeedProject(ctx, project); err != nil {
			return fmt.Errorf("failed to seed %s: %w", project, err)
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// SeedProject creates VisitorsPerProject distinct visitors for project. About
// a fifth of them come back later, which overwrites their first visit.
func (s *Seeder) SeedProject(ctx context.Context, project string) error {
	if s.VisitorsPerProject <= 0 {
		return fmt.Errorf("visitor count must be positive, got %d", s.VisitorsPerProject)
	}
	now := s.now()
	window := time.Duration(max(s.Days, 1)) * 24 * time.Hour
	userAgents := getUserAgents()

	for _, ip := range generateIPPool(s.VisitorsPerProject) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		id, err := visitors.IdentityOf(ip, project)
		if err != nil {
			return err
		}
		e := s.enricher.Enrich(ip, userAgents[rand.IntN(len(userAgents))])
		e.Location = locations[rand.IntN(len(locations))]

		first := now.Add(-time.Duration(rand.Int64N(int64(window))))
		if _, _, err := s.Store.Upsert(ctx, id, e, first); err != nil {
			return err
		}

		if rand.IntN(5) == 0 {
			again := first.Add(time.Duration(rand.Int64N(int64(now.Sub(first)) + 1)))
			if _, _, err := s.Store.Upsert(ctx, id, e, again); err != nil {
				return err
			}
		}
	}

	s.Logger.Info("Seeded project", slog.String("project", project), slog.Int("visitors", s.VisitorsPerProject))
	return nil
}

var locations = []string{
	"Madrid, Spain",
	"Berlin, Germany",
	"Lyon, France",
	"New York, United States",
	"São Paulo, Brazil",
	"Tokyo, Japan",
	visitors.Unknown,
}

// generateIPPool returns count distinct public looking IPv4 addresses.
func generateIPPool(count int) []string {
	seen := make(map[string]bool, count)
	ips := make([]string, 0, count)
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(223)+1, rand.IntN(256), rand.IntN(256), rand.IntN(254)+1)
		if ip[:3] == "10." || ip[:4] == "127." || seen[ip] {
			continue
		}
		seen[ip] = true
		ips = append(ips, ip)
	}
	return ips
}

func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	}
}
