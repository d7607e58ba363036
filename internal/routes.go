package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "visitrack/api/v1"
	"visitrack/internal/http"
)

// publicCORSConfig lets tracking snippets on any site report visits.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, User-Agent, X-Forwarded-User-Agent",
}

// MountAppRoutes mounts the health check, the visitor API under /api and
// the admin endpoints.
func MountAppRoutes(srv *cartridge.Server, s *Services) {
	cfg := s.Config

	// Rate limiting only runs in production. It would get in the way of
	// tests and load runs everywhere else.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70/min per IP for the tracking endpoint
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	trackingConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	// Admin writes share the SQLite write slots.
	writeConfig := &cartridge.RouteConfig{WriteConcurrency: true}

	h := v1.NewHandler(v1.Deps{
		Config:   s.Config,
		Resolver: s.Resolver,
		Store:    s.Store,
		Engine:   s.Engine,
		Insights: s.Insights,
		Alerts:   s.Alerts,
		Schedule: s.Schedule,
	})

	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === TRACKING ===
	srv.Post("/api/visit", h.RecordVisit, trackingConfig)
	srv.Options("/api/visit", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, trackingConfig)

	// === VISITORS ===
	srv.Get("/api/visits", h.List)
	srv.Get("/api/visitor/:id", h.FindByID)
	srv.Put("/api/visit/:id", h.Update, writeConfig)
	srv.Delete("/api/visit/:id", h.Delete, writeConfig)
	srv.Get("/api/visit-ip/:ipAddress", h.FindByIP)
	srv.Get("/api/filter-visit", h.FilterSearch)
	srv.Get("/api/visits-by-date", h.DateRangeSearch)
	srv.Get("/api/export", h.Export)

	// === ANALYTICS ===
	srv.Get("/api/visit/:projectName", h.UniqueCount)
	srv.Get("/api/total-visits", h.TotalVisits)
	srv.Get("/api/growth", h.Growth)
	srv.Get("/api/growth/monthly/:projectName", h.MonthlyGrowth)
	srv.Get("/api/visit-trend/:projectName", h.Trend)
	srv.Get("/api/visit-statistics/:projectName", h.Statistics)
	srv.Get("/api/unique-visitors-daily/:projectName", h.DailyActiveUsers)
	srv.Get("/api/active-visitors", h.ActiveNow)
	srv.Get("/api/locations", h.Locations)
	srv.Get("/api/devices", h.Devices)
	srv.Get("/api/browsers", h.Browsers)
	srv.Get("/api/browser-os-stats", h.BrowserStats)

	// === INSIGHTS & ALERTS ===
	srv.Post("/api/insights/send", h.SendInsights, writeConfig)
	srv.Post("/api/insights/test", h.TestInsights, writeConfig)
	srv.Get("/api/insights/data", h.InsightsData)
	srv.Post("/api/test-config", h.TestConfig, writeConfig)
	srv.Post("/api/scheduler/start", h.StartSchedule, writeConfig)
	srv.Post("/api/scheduler/stop", h.StopSchedule, writeConfig)
	srv.Get("/api/scheduler/status", h.ScheduleStatus)
	srv.Get("/api/cron-expressions", h.CronExpressions)
	srv.Post("/api/alerts/check", h.CheckAlerts, writeConfig)

	// === ADMINISTRATION ===
	srv.Get("/api/settings", http.SettingsIndexAction)
	srv.Put("/api/settings/:key", http.SettingsUpdateAction, writeConfig)
	srv.Get("/api/system/status", http.SystemStatusAction(s.GeoLite))
	srv.Get("/api/system/export-database", http.SystemExportDatabaseAction)
	srv.Post("/api/system/purge-cache", http.SystemPurgeCacheAction, writeConfig)
	srv.Post("/api/system/geolite", http.SystemGeoLiteAction(s.GeoLite), writeConfig)
}
