package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"visitrack/internal/pkg/geoip"
	"visitrack/internal/settings"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// MaxMind download URL template
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"
)

var ErrGeoLiteNotConfigured = errors.New("geolite credentials are not configured")

// GeoLiteUpdater keeps the GeoLite2 City database current and reloads the
// locator after each download.
type GeoLiteUpdater struct {
	db          *gorm.DB
	locator     *geoip.Locator
	logger      *slog.Logger
	client      *http.Client
	downloadURL string
}

func NewGeoLiteUpdater(db *gorm.DB, locator *geoip.Locator, logger *slog.Logger) *GeoLiteUpdater {
	return &GeoLiteUpdater{
		db:          db,
		locator:     locator,
		logger:      logger,
		client:      &http.Client{Timeout: 5 * time.Minute},
		downloadURL: MaxMindDownloadURL,
	}
}

// WithDownloadURL replaces the MaxMind URL template. It must contain one %s
// for the license key.
func (u *GeoLiteUpdater) WithDownloadURL(template string) *GeoLiteUpdater {
	u.downloadURL = template
	return u
}

// Configured reports whether credentials are stored.
func (u *GeoLiteUpdater) Configured() bool {
	accountID, licenseKey := settings.GetGeoLiteCredentials(u.db)
	return accountID != "" && licenseKey != ""
}

// Run downloads a new database when credentials are stored and the last
// update is older than GeoLiteUpdateInterval.
func (u *GeoLiteUpdater) Run(ctx context.Context) error {
	if !u.Configured() {
		u.logger.Debug("GeoLite credentials not configured, skipping update")
		return nil
	}

	lastUpdate := u.lastUpdate()
	if time.Since(lastUpdate) < GeoLiteUpdateInterval && u.locator.Available() {
		u.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate),
			slog.Duration("age", time.Since(lastUpdate)))
		return nil
	}

	u.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))
	return u.Download(ctx)
}

// Download fetches and installs the database now. The outcome is stored in
// settings so the status endpoint can report it.
func (u *GeoLiteUpdater) Download(ctx context.Context) error {
	_, licenseKey := settings.GetGeoLiteCredentials(u.db)
	if licenseKey == "" {
		return ErrGeoLiteNotConfigured
	}

	if err := u.downloadAndInstall(ctx, licenseKey); err != nil {
		u.logger.Error("Failed to update GeoLite database", slog.Any("error", err))
		if serr := settings.CreateOrUpdateSetting(u.db, settings.KeyGeoLiteDownloadError, err.Error()); serr != nil {
			u.logger.Error("Failed to record GeoLite download error", slog.Any("error", serr))
		}
		return err
	}

	if err := u.locator.Reload(); err != nil {
		return fmt.Errorf("reloading geolite database: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := settings.CreateOrUpdateSetting(u.db, settings.KeyGeoLiteLastUpdate, now); err != nil {
		u.logger.Error("Failed to update last update time", slog.Any("error", err))
	}
	if err := settings.CreateOrUpdateSetting(u.db, settings.KeyGeoLiteDownloadError, ""); err != nil {
		u.logger.Error("Failed to clear GeoLite download error", slog.Any("error", err))
	}

	u.logger.Info("GeoLite database updated successfully", slog.String("path", u.locator.Path()))
	return nil
}

// TriggerImmediateDownload runs Download in the background. Use it after
// saving new credentials to avoid waiting for the scheduled job.
func (u *GeoLiteUpdater) TriggerImmediateDownload() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := u.Download(ctx); err != nil {
			u.logger.Warn("Immediate GeoLite download failed", slog.Any("error", err))
		}
	}()
}

// GeoLiteStatus describes the database for the system status endpoint.
type GeoLiteStatus struct {
	Configured    bool       `json:"configured"`
	DatabaseFound bool       `json:"databaseFound"`
	Loaded        bool       `json:"loaded"`
	LastUpdate    *time.Time `json:"lastUpdate,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	Warning       string     `json:"warning,omitempty"`
}

func (u *GeoLiteUpdater) Status() GeoLiteStatus {
	status := GeoLiteStatus{
		Configured: u.Configured(),
		Loaded:     u.locator.Available(),
	}
	if _, err := os.Stat(u.locator.Path()); err == nil {
		status.DatabaseFound = true
	}
	if last := u.lastUpdate(); !last.IsZero() {
		status.LastUpdate = &last
	}
	status.LastError, _ = settings.GetSetting(u.db, settings.KeyGeoLiteDownloadError)

	switch {
	case status.LastError != "":
		status.Warning = "GeoLite database download failed"
	case status.Configured && !status.DatabaseFound:
		status.Warning = "GeoLite database not yet downloaded"
	}
	return status
}

func (u *GeoLiteUpdater) lastUpdate() time.Time {
	value, err := settings.GetSetting(u.db, settings.KeyGeoLiteLastUpdate)
	if err != nil || value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (u *GeoLiteUpdater) downloadAndInstall(ctx context.Context, licenseKey string) error {
	dest := u.locator.Path()
	if dest == "" {
		return errors.New("geoip database path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(u.downloadURL, licenseKey), nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// Extract next to the destination so the final rename stays on one filesystem.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := extractMMDB(resp.Body, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := geoip.Validate(tmp.Name()); err != nil {
		return fmt.Errorf("downloaded file is not a GeoLite2 database: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}

// extractMMDB copies the first .mmdb entry of a tar.gz stream to out.
func extractMMDB(archive io.Reader, out io.Writer) error {
	gzr, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if strings.HasSuffix(header.Name, ".mmdb") {
			if _, err := io.Copy(out, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("no .mmdb file found in archive")
}
