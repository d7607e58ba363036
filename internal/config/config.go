// Package config loads visitrack settings from the environment using Viper.
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// DefaultInsightsCron fires the daily report at 09:00.
const DefaultInsightsCron = "0 9 * * *"

// Config holds all configuration parameters for the application
type Config struct {
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`
	Timezone    string   `mapstructure:"timezone"`

	// File paths
	StoragePath  string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"`
	GeoDBPath    string `mapstructure:"geodbpath"`

	// Logging
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Analytics and jobs
	ActiveWindowMinutes int `mapstructure:"activewindowminutes"`
	JobIntervalSeconds  int `mapstructure:"jobintervalseconds"`

	// Daily insights
	InsightsEnabled    bool   `mapstructure:"insightsenabled"`
	InsightsCron       string `mapstructure:"insightscron"`
	InsightsRecipients string `mapstructure:"insightsrecipients"`

	// Traffic alerts
	AlertRecipients   string `mapstructure:"alertrecipients"`
	AlertSpikePercent int    `mapstructure:"alertspikepercent"`
	AlertHighHourly   int    `mapstructure:"alerthighhourly"`
	AlertLowHourly    int    `mapstructure:"alertlowhourly"`

	// Outgoing mail
	SMTPHost     string `mapstructure:"smtphost"`
	SMTPPort     int    `mapstructure:"smtpport"`
	SMTPUsername string `mapstructure:"smtpusername"`
	SMTPPassword string `mapstructure:"smtppassword"`
	SMTPFrom     string `mapstructure:"smtpfrom"`
	SMTPHello    string `mapstructure:"smtphello"`

	location *time.Location
}

var (
	cfg  *Config
	once sync.Once
)

var envBindings = map[string]string{
	"appname":             "VISITRACK_APP_NAME",
	"appport":             "VISITRACK_APP_PORT",
	"environment":         "VISITRACK_ENV",
	"loglevel":            "VISITRACK_LOG_LEVEL",
	"privatekey":          "VISITRACK_PRIVATE_KEY",
	"timezone":            "VISITRACK_TIMEZONE",
	"storagepath":         "VISITRACK_STORAGE_PATH",
	"geodbpath":           "VISITRACK_GEO_DB_PATH",
	"logsdir":             "VISITRACK_LOGS_DIR",
	"logsmaxsizeinmb":     "VISITRACK_LOGS_MAX_SIZE_IN_MB",
	"logsmaxbackups":      "VISITRACK_LOGS_MAX_BACKUPS",
	"logsmaxageindays":    "VISITRACK_LOGS_MAX_AGE_IN_DAYS",
	"dbmaxopenconns":      "VISITRACK_DB_MAX_OPEN_CONNS",
	"dbmaxidleconns":      "VISITRACK_DB_MAX_IDLE_CONNS",
	"activewindowminutes": "VISITRACK_ACTIVE_WINDOW_MINUTES",
	"jobintervalseconds":  "VISITRACK_JOB_INTERVAL_SECONDS",
	"insightsenabled":     "VISITRACK_INSIGHTS_ENABLED",
	"insightscron":        "VISITRACK_INSIGHTS_CRON",
	"insightsrecipients":  "VISITRACK_INSIGHTS_RECIPIENTS",
	"alertrecipients":     "VISITRACK_ALERT_RECIPIENTS",
	"alertspikepercent":   "VISITRACK_ALERT_SPIKE_PERCENT",
	"alerthighhourly":     "VISITRACK_ALERT_HIGH_HOURLY",
	"alertlowhourly":      "VISITRACK_ALERT_LOW_HOURLY",
	"smtphost":            "VISITRACK_SMTP_HOST",
	"smtpport":            "VISITRACK_SMTP_PORT",
	"smtpusername":        "VISITRACK_SMTP_USERNAME",
	"smtppassword":        "VISITRACK_SMTP_PASSWORD",
	"smtpfrom":            "VISITRACK_SMTP_FROM",
	"smtphello":           "VISITRACK_SMTP_HELLO",
}

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		c, err := Load()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = c
	})
	return cfg
}

// Load builds a fresh configuration from defaults and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("appname", "visitrack")
	v.SetDefault("appport", "3000")
	v.SetDefault("environment", Development)
	v.SetDefault("loglevel", string(LogLevelDebug))
	v.SetDefault("privatekey", defaultPrivateKey)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("storagepath", "storage")
	v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
	v.SetDefault("logsdir", "logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)
	v.SetDefault("dbmaxopenconns", 0)
	v.SetDefault("dbmaxidleconns", 0)
	v.SetDefault("activewindowminutes", 5)
	v.SetDefault("jobintervalseconds", 900)
	v.SetDefault("insightsenabled", false)
	v.SetDefault("insightscron", DefaultInsightsCron)
	v.SetDefault("insightsrecipients", "")
	v.SetDefault("alertrecipients", "")
	v.SetDefault("alertspikepercent", 200)
	v.SetDefault("alerthighhourly", 1000)
	v.SetDefault("alertlowhourly", 5)
	v.SetDefault("smtphost", "")
	v.SetDefault("smtpport", 587)
	v.SetDefault("smtpusername", "")
	v.SetDefault("smtppassword", "")
	v.SetDefault("smtpfrom", "")
	v.SetDefault("smtphello", "localhost")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c.DatabaseName = c.GetDatabasePath()
	return c, nil
}

func (c *Config) validate() error {
	switch c.Environment {
	case Development, Production, Test:
	default:
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.Environment == Production && c.PrivateKey == defaultPrivateKey {
		return fmt.Errorf("production requires a unique VISITRACK_PRIVATE_KEY")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.location = loc

	if c.ActiveWindowMinutes <= 0 {
		return fmt.Errorf("active window must be positive, got %d", c.ActiveWindowMinutes)
	}
	if c.JobIntervalSeconds <= 0 {
		return fmt.Errorf("job interval must be positive, got %d", c.JobIntervalSeconds)
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("invalid smtp port: %d", c.SMTPPort)
	}
	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.StoragePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

func (c *Config) IsDevelopment() bool { return c.Environment == Development }
func (c *Config) IsProduction() bool { return c.Environment == Production }
func (c *Config) IsTest() bool { return c.Environment == Test }

// Location is the zone used for day boundaries. Stored timestamps stay UTC.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// ActiveWindow is the default look-back for the active visitors query.
func (c *Config) ActiveWindow() time.Duration {
	return time.Duration(c.ActiveWindowMinutes) * time.Minute
}

// InsightsRecipientList splits the comma separated recipient setting.
func (c *Config) InsightsRecipientList() []string {
	return SplitList(c.InsightsRecipients)
}

// AlertRecipientList splits the comma separated alert recipient setting.
func (c *Config) AlertRecipientList() []string {
	return SplitList(c.AlertRecipients)
}

// SMTPConfigured reports whether enough is set to attempt a delivery.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// SMTPAddr is host:port for the mail relay.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}

// SplitList turns "a, b,,c" into [a b c].
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory implements cartridge.Config. visitrack serves no static assets.
func (c *Config) GetPublicDirectory() string {
	return ""
}

// GetAssetsPrefix implements cartridge.Config.
func (c *Config) GetAssetsPrefix() string {
	return "/"
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret implements cartridge.FactoryConfig.
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the configured pool size, or 1 under test and 10 otherwise.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}
	if c.Environment == Test {
		return 1
	}
	return 10
}

// GetMaxIdleConns mirrors GetMaxOpenConns with half the pool kept warm.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}
	if c.Environment == Test {
		return 1
	}
	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

func (c *Config) GetLogMaxSizeMB() int { return c.LogsMaxSizeInMb }
func (c *Config) GetLogMaxBackups() int { return c.LogsMaxBackups }
func (c *Config) GetLogMaxAgeDays() int { return c.LogsMaxAgeInDays }

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
