package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitrack/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "visitrack", cfg.AppName)
	assert.Equal(t, 5*time.Minute, cfg.ActiveWindow())
	assert.Equal(t, config.DefaultInsightsCron, cfg.InsightsCron)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.False(t, cfg.SMTPConfigured())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("VISITRACK_ENV", "test")
	t.Setenv("VISITRACK_TIMEZONE", "Europe/Madrid")
	t.Setenv("VISITRACK_ALERT_RECIPIENTS", "ops@example.com, ,dev@example.com")
	t.Setenv("VISITRACK_SMTP_HOST", "mail.example.com")
	t.Setenv("VISITRACK_SMTP_FROM", "reports@example.com")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsTest())
	assert.Equal(t, "Europe/Madrid", cfg.Location().String())
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, cfg.AlertRecipientList())
	assert.True(t, cfg.SMTPConfigured())
	assert.Equal(t, "mail.example.com:587", cfg.SMTPAddr())
	assert.Equal(t, 1, cfg.GetMaxOpenConns())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown environment is rejected", map[string]string{"VISITRACK_ENV": "staging"}},
		{"default key is rejected in production", map[string]string{"VISITRACK_ENV": "production"}},
		{"unknown timezone is rejected", map[string]string{"VISITRACK_TIMEZONE": "Mars/Olympus"}},
		{"zero active window is rejected", map[string]string{"VISITRACK_ACTIVE_WINDOW_MINUTES": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			assert.Error(t, err)
		})
	}
}
