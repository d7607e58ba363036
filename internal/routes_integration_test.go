package internal_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitrack/internal"
	"visitrack/internal/settings"
	"visitrack/internal/testsupport"
	"visitrack/internal/visitors"
)

var now = time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

func newApp(t *testing.T, opts ...internal.ServiceOption) (*fiber.App, *internal.Services) {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	testsupport.CleanAllTables(db)
	opts = append([]internal.ServiceOption{internal.WithClock(testsupport.FixedClock(now))}, opts...)
	return testsupport.CreateTestApp(t, db, opts...)
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func recordVisit(t *testing.T, app *fiber.App, ip, project string) map[string]any {
	t.Helper()
	resp, body := doJSON(t, app, fiber.MethodPost, "/api/visit",
		map[string]string{"projectName": project, "userAgent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0 Safari/537.36"},
		"X-Forwarded-For", ip)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestTrackingRouteRateLimited(t *testing.T) {
	app, _ := newApp(t)

	var visitRoute *fiber.Route
	for _, route := range app.GetRoutes(true) {
		if route.Method == fiber.MethodPost && route.Path == "/api/visit" {
			visitRoute = &route
			break
		}
	}
	require.NotNil(t, visitRoute, "expected tracking route to be registered")

	var handlerNames []string
	hasRateLimiter := false
	for _, handler := range visitRoute.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		if strings.Contains(name, "middleware/limiter") || strings.Contains(name, "MountAppRoutes.func") {
			hasRateLimiter = true
			break
		}
	}
	require.Truef(t, hasRateLimiter, "expected rate limiter middleware on the tracking route, handlers: %v", handlerNames)
}

func TestWritesWithoutSecFetchSite(t *testing.T) {
	require.False(t, internal.NewServerConfig().EnableSecFetchSite)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"A server side visit is recorded", fiber.MethodPost, "/api/visit", map[string]string{"projectName": "blog"}},
		{"A visitor update reaches the handler", fiber.MethodPut, "/api/visit/999", map[string]string{"device": "Desktop"}},
		{"A visitor delete reaches the handler", fiber.MethodDelete, "/api/visit/999", nil},
		{"The scheduler can be stopped", fiber.MethodPost, "/api/scheduler/stop", nil},
		{"The cache can be purged", fiber.MethodPost, "/api/system/purge-cache", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newApp(t)
			resp, body := doJSON(t, app, tt.method, tt.path, tt.body, "X-Forwarded-For", "8.8.8.8")
			assert.NotEqual(t, http.StatusForbidden, resp.StatusCode, string(body))
			assert.NotContains(t, string(body), "browser requests only")
		})
	}

	t.Run("A cross-site browser hit is recorded too", func(t *testing.T) {
		app, _ := newApp(t)
		resp, body := doJSON(t, app, fiber.MethodPost, "/api/visit", map[string]string{"projectName": "blog"},
			"X-Forwarded-For", "8.8.8.8", "Sec-Fetch-Site", "cross-site", "Origin", "https://example.com")
		assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	})
}

func TestRecordVisitRoute(t *testing.T) {
	t.Run("Repeated hits from one address count once", func(t *testing.T) {
		app, _ := newApp(t)

		first := recordVisit(t, app, "8.8.8.8", "blog")
		assert.Equal(t, "Visitor count updated successfully", first["message"])
		assert.EqualValues(t, 1, first["uniqueVisitors"])

		second := recordVisit(t, app, "8.8.8.8", "blog")
		assert.EqualValues(t, 1, second["uniqueVisitors"])

		third := recordVisit(t, app, "1.1.1.1", "blog")
		assert.EqualValues(t, 2, third["uniqueVisitors"])

		other := recordVisit(t, app, "8.8.8.8", "shop")
		assert.EqualValues(t, 1, other["uniqueVisitors"], "projects are counted separately")
	})

	t.Run("A missing project is rejected", func(t *testing.T) {
		app, _ := newApp(t)

		resp, body := doJSON(t, app, fiber.MethodPost, "/api/visit", map[string]string{}, "X-Forwarded-For", "8.8.8.8")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "INVALID_IDENTITY")
	})

	t.Run("Hits without a usable address are recorded as unknown", func(t *testing.T) {
		app, services := newApp(t)

		recordVisit(t, app, "10.0.0.1", "blog")

		list, err := services.Store.FindByIP(t.Context(), visitors.UnknownIP)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("Excluded addresses are ignored", func(t *testing.T) {
		app, services := newApp(t)
		_, err := settings.UpdateSetting(services.DB, settings.KeyExcludedIPs, "9.9.9.9")
		require.NoError(t, err)
		t.Cleanup(func() { settings.UpdateSetting(services.DB, settings.KeyExcludedIPs, "") })

		out := recordVisit(t, app, "9.9.9.9", "blog")
		assert.Equal(t, true, out["ignored"])

		count, err := services.Engine.UniqueCount(t.Context(), "blog")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestVisitorRoutes(t *testing.T) {
	app, services := newApp(t)
	db := services.DB
	v := testsupport.CreateVisitor(t, db, "8.8.8.8", "blog", now.Add(-time.Hour))
	testsupport.CreateVisitor(t, db, "1.1.1.1", "shop", now.Add(-2*time.Hour), testsupport.WithDevice("iPhone"))

	t.Run("Lists every visitor", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/api/visits", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list []visitors.Visitor
		require.NoError(t, json.Unmarshal(body, &list))
		assert.Len(t, list, 2)
	})

	t.Run("Unknown ids are not found", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/api/visitor/9999", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, string(body), "NOT_FOUND")
	})

	t.Run("Malformed ids are rejected", func(t *testing.T) {
		resp, _ := doJSON(t, app, fiber.MethodGet, "/api/visitor/abc", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Updates keep the identity", func(t *testing.T) {
		path := "/api/visit/" + jsonID(v.ID)
		resp, body := doJSON(t, app, fiber.MethodPut, path, map[string]string{
			"device":      "Tablet",
			"projectName": "hijacked",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var updated visitors.Visitor
		require.NoError(t, json.Unmarshal(body, &updated))
		assert.Equal(t, "Tablet", updated.Device)
		assert.Equal(t, "blog", updated.ProjectName)
	})

	t.Run("Finds visitors by address", func(t *testing.T) {
		resp, _ := doJSON(t, app, fiber.MethodGet, "/api/visit-ip/1.1.1.1", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = doJSON(t, app, fiber.MethodGet, "/api/visit-ip/4.4.4.4", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Deletes a visitor", func(t *testing.T) {
		path := "/api/visit/" + jsonID(v.ID)
		resp, _ := doJSON(t, app, fiber.MethodDelete, path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = doJSON(t, app, fiber.MethodDelete, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAnalyticsRoutes(t *testing.T) {
	app, services := newApp(t)
	db := services.DB
	testsupport.CreateVisitor(t, db, "8.8.8.8", "blog", now.Add(-time.Minute), testsupport.WithLocation("Madrid, Spain"))
	testsupport.CreateVisitor(t, db, "1.1.1.1", "blog", now.Add(-48*time.Hour), testsupport.WithLocation("Madrid, Spain"))
	testsupport.CreateVisitor(t, db, "2.2.2.2", "shop", now.Add(-72*time.Hour), testsupport.WithLocation("Lyon, France"))

	t.Run("Unique count per project and across all", func(t *testing.T) {
		_, body := doJSON(t, app, fiber.MethodGet, "/api/visit/blog", nil)
		assert.JSONEq(t, `{"projectName":"blog","uniqueVisitors":2}`, string(body))

		_, body = doJSON(t, app, fiber.MethodGet, "/api/visit/All", nil)
		assert.JSONEq(t, `{"projectName":"All","uniqueVisitors":3}`, string(body))
	})

	t.Run("Unknown trend periods are rejected", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/api/visit-trend/blog?period=hourly", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "INVALID_PERIOD")
	})

	t.Run("Daily trend buckets by date", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/api/visit-trend/blog", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Period string           `json:"period"`
			Trend  []map[string]any `json:"trend"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, "daily", out.Period)
		require.Len(t, out.Trend, 2)
		assert.Equal(t, "2024-03-13", out.Trend[0]["bucket"])
		assert.Equal(t, "2024-03-15", out.Trend[1]["bucket"])
	})

	t.Run("Active visitors use the requested window", func(t *testing.T) {
		_, body := doJSON(t, app, fiber.MethodGet, "/api/active-visitors?minutes=5", nil)

		var out map[string]any
		require.NoError(t, json.Unmarshal(body, &out))
		assert.EqualValues(t, 5, out["windowMinutes"])
		assert.EqualValues(t, 1, out["activeVisitors"])
	})

	t.Run("Locations are sorted and limited", func(t *testing.T) {
		_, body := doJSON(t, app, fiber.MethodGet, "/api/locations?limit=1", nil)
		assert.JSONEq(t, `[{"value":"Madrid, Spain","count":2}]`, string(body))
	})

	t.Run("Malformed dates are rejected", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/api/visits-by-date?startDate=15-03-2024&endDate=2024-03-15", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "INVALID_DATE")
	})

	t.Run("Filter search paginates", func(t *testing.T) {
		_, body := doJSON(t, app, fiber.MethodGet, "/api/filter-visit?projectName=All&limit=2", nil)

		var out map[string]any
		require.NoError(t, json.Unmarshal(body, &out))
		assert.EqualValues(t, 3, out["totalVisitors"])
		assert.EqualValues(t, 2, out["totalPages"])
		assert.EqualValues(t, 1, out["currentPage"])
	})

	t.Run("Exports CSV", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/api/export?format=csv&projectName=blog", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "visitors-20240315-123000.csv")

		rows, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("Unsupported export formats are rejected", func(t *testing.T) {
		resp, _ := doJSON(t, app, fiber.MethodGet, "/api/export?format=pdf", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestInsightsRoutes(t *testing.T) {
	recorder := testsupport.NewMailRecorder("down@example.com")
	app, services := newApp(t, internal.WithSender(recorder))
	testsupport.CreateVisitor(t, services.DB, "8.8.8.8", "blog", now.Add(-20*time.Hour))

	t.Run("Sends one message per recipient and reports failures", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodPost, "/api/insights/test", map[string]any{
			"recipients": []string{"ops@example.com", "down@example.com"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var out struct {
			Success bool `json:"success"`
			Summary struct {
				Total      int `json:"total"`
				Successful int `json:"successful"`
				Failed     int `json:"failed"`
			} `json:"summary"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.True(t, out.Success)
		assert.Equal(t, 2, out.Summary.Total)
		assert.Equal(t, 1, out.Summary.Successful)
		assert.Equal(t, 1, out.Summary.Failed)
		assert.Len(t, recorder.Messages(), 1)
	})

	t.Run("Test sends need recipients", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodPost, "/api/insights/test", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "NO_RECIPIENTS")
	})

	t.Run("Returns the report data", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/api/insights/data", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"yesterdayVisitors":1`)
	})

	t.Run("Schedule lifecycle", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodPost, "/api/scheduler/start", map[string]any{
			"recipients":     []string{"ops@example.com"},
			"cronExpression": "not a cron",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "INVALID_CRON_EXPRESSION")

		resp, _ = doJSON(t, app, fiber.MethodPost, "/api/scheduler/start", map[string]any{
			"recipients": []string{"ops@example.com"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, services.Schedule.Status().Running)

		_, body = doJSON(t, app, fiber.MethodGet, "/api/scheduler/status", nil)
		assert.Contains(t, string(body), `"expression":"0 9 * * *"`)

		_, body = doJSON(t, app, fiber.MethodPost, "/api/scheduler/stop", nil)
		assert.Contains(t, string(body), `"stopped":true`)
		assert.False(t, services.Schedule.Status().Running)
	})

	t.Run("Lists cron presets", func(t *testing.T) {
		_, body := doJSON(t, app, fiber.MethodGet, "/api/cron-expressions", nil)
		assert.Contains(t, string(body), "weekdays-9am")
	})

	t.Run("Test config without SMTP is unavailable", func(t *testing.T) {
		services.Config.SMTPHost = ""
		resp, body := doJSON(t, app, fiber.MethodPost, "/api/test-config", map[string]string{"to": "ops@example.com"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Contains(t, string(body), "MAILER_NOT_CONFIGURED")
	})

	t.Run("Alert checks answer with a report", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodPost, "/api/alerts/check", map[string]any{
			"recipients": []string{"ops@example.com"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), `"projects":1`)
	})
}

func TestAdminRoutes(t *testing.T) {
	app, services := newApp(t)
	require.NoError(t, settings.SetupDefaultSettings(services.DB))

	t.Run("Health reports the database", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodGet, "/_health", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"db_status":"ok"`)

		resp, _ = doJSON(t, app, fiber.MethodHead, "/_health", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Settings are validated", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodPut, "/api/settings/alert_recipients",
			map[string]string{"value": "ops@example.com, not-an-address"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

		resp, body = doJSON(t, app, fiber.MethodPut, "/api/settings/alert_recipients",
			map[string]string{"value": " ops@example.com ,ops@example.com"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.JSONEq(t, `{"key":"alert_recipients","value":"ops@example.com"}`, string(body))

		resp, _ = doJSON(t, app, fiber.MethodPut, "/api/settings/geolite_license_key",
			map[string]string{"value": "secret"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Lists settings", func(t *testing.T) {
		_, body := doJSON(t, app, fiber.MethodGet, "/api/settings", nil)
		assert.Contains(t, string(body), `"key":"excluded_ips"`)
	})

	t.Run("System status without GeoLite credentials is healthy", func(t *testing.T) {
		_, body := doJSON(t, app, fiber.MethodGet, "/api/system/status", nil)

		var out struct {
			Healthy bool `json:"healthy"`
			GeoLite struct {
				Configured bool `json:"configured"`
			} `json:"geolite"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.True(t, out.Healthy)
		assert.False(t, out.GeoLite.Configured)
	})

	t.Run("Purges the cache table", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodPost, "/api/system/purge-cache", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), `"success":true`)
	})

	t.Run("Saving partial GeoLite credentials does not download", func(t *testing.T) {
		resp, body := doJSON(t, app, fiber.MethodPost, "/api/system/geolite",
			map[string]string{"accountId": "12345"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), `"downloading":false`)

		accountID, licenseKey := settings.GetGeoLiteCredentials(services.DB)
		assert.Equal(t, "12345", accountID)
		assert.Empty(t, licenseKey)
	})
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
