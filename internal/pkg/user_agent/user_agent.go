package user_agent

import (
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

const unknown = "Unknown"

// UserAgent is the parsed form of a User-Agent header.
type UserAgent struct {
	UserAgent      string
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Device         string
	Mobile         bool
	Tablet         bool
	Desktop        bool
	Bot            bool
}

// Agent is the browser name with its major.minor version, e.g. "Chrome 120.0".
func (u UserAgent) Agent() string {
	return withVersion(u.Browser, u.BrowserVersion)
}

// Platform is the operating system with its version, e.g. "Mac OS X 10.15".
func (u UserAgent) Platform() string {
	return withVersion(u.OS, u.OSVersion)
}

// String summarises browser and platform, e.g. "Chrome 120.0 / Mac OS X 10.15".
func (u UserAgent) String() string {
	if u.Browser == unknown && u.OS == unknown {
		return unknown
	}
	return u.Agent() + " / " + u.Platform()
}

func withVersion(name, version string) string {
	if version == "" {
		return name
	}
	return name + " " + version
}

//go:embed database/*.yml
var databaseFiles embed.FS

type entry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type deviceEntry struct {
	Regex string `yaml:"regex"`
	Type  string `yaml:"type"`
	Model string `yaml:"model"`
}

type regexCache struct {
	compiled map[string]*pcre.Regexp
	mu       sync.RWMutex
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mu.RLock()
	re, ok := rc.compiled[pattern]
	rc.mu.RUnlock()
	if ok {
		return re, nil
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if re, ok := rc.compiled[pattern]; ok {
		return re, nil
	}
	re, err := pcre.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = re
	return re, nil
}

// Parser matches user agents against the embedded regex database.
type Parser struct {
	bots     []entry
	browsers []entry
	oss      []entry
	devices  []deviceEntry
	regexes  *regexCache
}

var (
	defaultParser *Parser
	once          sync.Once
)

// NewParser loads the embedded database.
func NewParser() (*Parser, error) {
	p := &Parser{regexes: &regexCache{compiled: make(map[string]*pcre.Regexp)}}
	for file, dst := range map[string]any{
		"database/bots.yml":     &p.bots,
		"database/browsers.yml": &p.browsers,
		"database/oss.yml":      &p.oss,
		"database/devices.yml":  &p.devices,
	} {
		data, err := databaseFiles.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		if err := yaml.Unmarshal(data, dst); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	}
	return p, nil
}

func getParser() *Parser {
	once.Do(func() {
		p, err := NewParser()
		if err != nil {
			slog.Default().Error("user agent database failed to load", slog.Any("error", err))
			p = &Parser{regexes: &regexCache{compiled: make(map[string]*pcre.Regexp)}}
		}
		defaultParser = p
	})
	return defaultParser
}

// ParseUserAgent parses with the shared default parser.
func ParseUserAgent(userAgent string) UserAgent {
	return getParser().Parse(userAgent)
}

// Parse never fails: anything unrecognised is reported as "Unknown".
func (p *Parser) Parse(userAgent string) UserAgent {
	ua := UserAgent{UserAgent: userAgent, Browser: unknown, OS: unknown, Device: unknown}
	if strings.TrimSpace(userAgent) == "" {
		return ua
	}

	if name, _, ok := p.match(p.bots, userAgent); ok {
		ua.Browser = name
		ua.Device = "Bot"
		ua.Bot = true
		return ua
	}

	if name, version, ok := p.match(p.browsers, userAgent); ok {
		ua.Browser, ua.BrowserVersion = name, shortVersion(version)
	}
	if name, version, ok := p.match(p.oss, userAgent); ok {
		ua.OS, ua.OSVersion = name, shortVersion(version)
	}
	ua.Device, ua.Mobile, ua.Tablet, ua.Desktop = p.device(userAgent)
	return ua
}

func (p *Parser) match(entries []entry, userAgent string) (string, string, bool) {
	for _, e := range entries {
		re, err := p.regexes.get(e.Regex)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(userAgent); len(m) > 0 {
			return e.Name, expand(e.Version, m), true
		}
	}
	return "", "", false
}

func (p *Parser) device(userAgent string) (string, bool, bool, bool) {
	for _, d := range p.devices {
		re, err := p.regexes.get(d.Regex)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(userAgent); len(m) > 0 {
			mobile := d.Type == "smartphone" || d.Type == "feature phone" || d.Type == "portable media player"
			tablet := d.Type == "tablet"
			return expand(d.Model, m), mobile, tablet, false
		}
	}

	lower := strings.ToLower(userAgent)
	switch {
	case strings.Contains(lower, "tablet"):
		return "Tablet", false, true, false
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "android") ||
		strings.Contains(lower, "blackberry") || strings.Contains(lower, "windows phone"):
		return "Mobile", true, false, false
	default:
		return "Desktop", false, false, true
	}
}

// expand replaces $1..$n in tmpl with the submatches of m.
func expand(tmpl string, m []string) string {
	for i := len(m) - 1; i >= 1; i-- {
		tmpl = strings.ReplaceAll(tmpl, fmt.Sprintf("$%d", i), m[i])
	}
	return strings.TrimSpace(tmpl)
}

// shortVersion keeps major.minor, so "10_15_7" becomes "10.15".
func shortVersion(v string) string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '.' || r == '_' })
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ".")
}
