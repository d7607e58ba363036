// Package geoip resolves client addresses to a "City, Country" label using a
// MaxMind GeoLite2 City database. The database is optional: without it every
// lookup misses and callers fall back to "Unknown".
package geoip

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"
)

// Location is the resolved place for an address.
type Location struct {
	City        string
	Country     string
	CountryCode string
}

// String renders "City, Country", or just the country when the city is unknown.
func (l Location) String() string {
	switch {
	case l.City != "" && l.Country != "":
		return l.City + ", " + l.Country
	case l.Country != "":
		return l.Country
	default:
		return l.City
	}
}

// Locator wraps a reloadable GeoLite2 reader.
type Locator struct {
	path      string
	logger    *slog.Logger
	countries *gountries.Query

	mu     sync.RWMutex
	reader *geoip2.Reader
}

// New opens the database at path when it exists. A missing file is not an error.
func New(path string, logger *slog.Logger) *Locator {
	l := &Locator{path: path, logger: logger, countries: gountries.New()}
	if err := l.Reload(); err != nil {
		logger.Info("GeoLite2 database not loaded, locations will be Unknown",
			slog.String("path", path),
			slog.Any("error", err))
	}
	return l
}

// Path is where the database is read from and downloaded to.
func (l *Locator) Path() string {
	return l.path
}

// Available reports whether a database is loaded.
func (l *Locator) Available() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reader != nil
}

// Reload reopens the database from disk, replacing the current reader.
// Call it after a fresh download.
func (l *Locator) Reload() error {
	if l.path == "" {
		return errors.New("geoip database path not configured")
	}
	if _, err := os.Stat(l.path); err != nil {
		return fmt.Errorf("geoip database: %w", err)
	}

	reader, err := geoip2.Open(l.path)
	if err != nil {
		return fmt.Errorf("opening geoip database: %w", err)
	}

	l.mu.Lock()
	old := l.reader
	l.reader = reader
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
	l.logger.Info("GeoLite2 database loaded", slog.String("path", l.path))
	return nil
}

// Validate checks that path holds a readable GeoLite2 database.
func Validate(path string) error {
	reader, err := geoip2.Open(path)
	if err != nil {
		return err
	}
	return reader.Close()
}

// Close releases the reader.
func (l *Locator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader == nil {
		return nil
	}
	err := l.reader.Close()
	l.reader = nil
	return err
}

// Lookup resolves ip. ok is false when the address is unparseable, private,
// absent from the database, or no database is loaded.
func (l *Locator) Lookup(ip string) (Location, bool) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return Location{}, false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.reader == nil {
		return Location{}, false
	}

	record, err := l.reader.City(parsed)
	if err != nil {
		l.logger.Debug("geoip lookup failed", slog.String("ip", ip), slog.Any("error", err))
		return Location{}, false
	}

	loc := Location{
		City:        record.City.Names["en"],
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
	}
	if loc.Country == "" {
		loc.Country = l.CountryName(loc.CountryCode)
	}
	if loc.Country == "" && loc.City == "" {
		return Location{}, false
	}
	return loc, true
}

// CountryName maps an ISO 3166 alpha-2 or alpha-3 code to its common name.
func (l *Locator) CountryName(code string) string {
	if code == "" || code == "--" {
		return ""
	}
	country, err := l.countries.FindCountryByAlpha(code)
	if err != nil {
		return ""
	}
	return country.Name.Common
}
