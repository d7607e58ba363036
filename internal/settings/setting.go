package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

const (
	KeyExcludedIPs        = "excluded_ips"
	KeyInsightsRecipients = "insights_recipients"
	KeyAlertRecipients    = "alert_recipients"

	KeyGeoLiteAccountID     = "geolite_account_id"
	KeyGeoLiteLicenseKey    = "geolite_license_key"
	KeyGeoLiteLastUpdate    = "geolite_last_update"
	KeyGeoLiteDownloadError = "geolite_download_error"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidValue   = errors.New("invalid setting value")
)

// editable are the keys the settings API may change.
var editable = map[string]bool{
	KeyExcludedIPs:        true,
	KeyInsightsRecipients: true,
	KeyAlertRecipients:    true,
}

var (
	excludedIPsCache   *cache.Cache[string, []string]
	excludedIPsCacheMu sync.RWMutex
)

// SetupDefaultSettings inserts missing keys and primes the excluded IP cache.
func SetupDefaultSettings(dbConn *gorm.DB) error {
	defaults := []Setting{
		{Key: KeyExcludedIPs, Value: ""},
		{Key: KeyInsightsRecipients, Value: ""},
		{Key: KeyAlertRecipients, Value: ""},
	}
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, setting := range defaults {
			err := tx.Exec(`
				INSERT INTO settings (key, value, created_at, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO NOTHING
			`, setting.Key, setting.Value, now, now).Error
			if err != nil {
				return fmt.Errorf("failed to insert setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})

	loadCache(dbConn, slog.Default())
	return err
}

// IsIPExcluded reports whether hits from ip should be dropped. It reads the
// cached list and answers false until the cache is loaded.
func IsIPExcluded(ip string) (bool, error) {
	excludedIPsCacheMu.RLock()
	c := excludedIPsCache
	excludedIPsCacheMu.RUnlock()
	if c == nil {
		return false, nil
	}

	excludedIPs, err := c.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}
	return lo.Contains(excludedIPs, ip), nil
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	if err := dbConn.Where("key = ?", key).First(&setting).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// CreateOrUpdateSetting writes key in one statement and refreshes the cache
// when the excluded IP list changes.
func CreateOrUpdateSetting(dbConn *gorm.DB, key, value string) error {
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Exec(`
			INSERT INTO settings (key, value, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, now, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}

	if key == KeyExcludedIPs {
		excludedIPsCacheMu.RLock()
		c := excludedIPsCache
		excludedIPsCacheMu.RUnlock()
		if c != nil {
			c.Clear()
		}
		loadCache(dbConn, slog.Default())
	}
	return nil
}

// UpdateSetting validates an API edit and stores its normalised form.
func UpdateSetting(dbConn *gorm.DB, key, value string) (string, error) {
	if !editable[key] {
		return "", fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	normalized, err := Normalize(key, value)
	if err != nil {
		return "", err
	}
	if err := CreateOrUpdateSetting(dbConn, key, normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// Normalize checks a list setting and rewrites it as a trimmed, de-duplicated,
// comma separated list.
func Normalize(key, value string) (string, error) {
	items := SplitList(value)

	switch key {
	case KeyExcludedIPs:
		if bad, found := lo.Find(items, func(ip string) bool { return net.ParseIP(ip) == nil }); found {
			return "", fmt.Errorf("%w: %q is not an IP address", ErrInvalidValue, bad)
		}
	case KeyInsightsRecipients, KeyAlertRecipients:
		if bad, found := lo.Find(items, func(addr string) bool {
			_, err := mail.ParseAddress(addr)
			return err != nil
		}); found {
			return "", fmt.Errorf("%w: %q is not an email address", ErrInvalidValue, bad)
		}
	}
	return strings.Join(items, ","), nil
}

// SplitList turns "a, b,,a" into [a b].
func SplitList(raw string) []string {
	items := lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Uniq(lo.Compact(items))
}

// Recipients returns the stored list for key, or fallback when the stored
// list is empty or missing.
func Recipients(dbConn *gorm.DB, key string, fallback []string) []string {
	value, err := GetSetting(dbConn, key)
	if err != nil {
		return fallback
	}
	if list := SplitList(value); len(list) > 0 {
		return list
	}
	return fallback
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).
			Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).
			Scan(&value).Error
		if err != nil {
			return nil, err
		}
		return SplitList(value), nil
	}

	excludedIPsCacheMu.Lock()
	excludedIPsCache = cache.NewCache[string, []string](logger, 5*time.Minute, fetchFunc)
	excludedIPsCacheMu.Unlock()
}

// GetGeoLiteCredentials retrieves GeoLite account ID and license key
func GetGeoLiteCredentials(db *gorm.DB) (accountID string, licenseKey string) {
	accountID, _ = GetSetting(db, KeyGeoLiteAccountID)
	licenseKey, _ = GetSetting(db, KeyGeoLiteLicenseKey)
	return accountID, licenseKey
}

// SaveGeoLiteCredentials saves GeoLite account ID and license key
func SaveGeoLiteCredentials(db *gorm.DB, accountID string, licenseKey string) error {
	if err := CreateOrUpdateSetting(db, KeyGeoLiteAccountID, strings.TrimSpace(accountID)); err != nil {
		return fmt.Errorf("failed to save GeoLite account ID: %w", err)
	}
	if err := CreateOrUpdateSetting(db, KeyGeoLiteLicenseKey, strings.TrimSpace(licenseKey)); err != nil {
		return fmt.Errorf("failed to save GeoLite license key: %w", err)
	}
	return nil
}

// SettingResponse represents a setting key-value pair for API responses
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetAllSettingsForDisplay lists every setting with secrets masked.
func GetAllSettingsForDisplay(db *gorm.DB) ([]SettingResponse, error) {
	var all []Setting
	if err := db.Order("key ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settings: %w", err)
	}

	return lo.Map(all, func(s Setting, _ int) SettingResponse {
		value := s.Value
		if s.Key == KeyGeoLiteLicenseKey && value != "" {
			value = strings.Repeat("*", len(value))
		}
		return SettingResponse{Key: s.Key, Value: value}
	}), nil
}
