package visitors

import (
	"visitrack/internal/pkg/geoip"
	"visitrack/internal/pkg/user_agent"
)

// Enricher derives location and client details for a hit. Implementations
// must not fail: anything they cannot resolve is left empty or "Unknown".
type Enricher interface {
	Enrich(ipAddress, userAgent string) Enrichment
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ipAddress, userAgent string) Enrichment

func (f EnricherFunc) Enrich(ipAddress, userAgent string) Enrichment {
	return f(ipAddress, userAgent)
}

// HitEnricher combines the GeoLite locator with the user agent database.
type HitEnricher struct {
	locator *geoip.Locator
}

func NewHitEnricher(locator *geoip.Locator) *HitEnricher {
	return &HitEnricher{locator: locator}
}

func (e *HitEnricher) Enrich(ipAddress, userAgent string) Enrichment {
	ua := user_agent.ParseUserAgent(userAgent)
	out := Enrichment{
		UserAgent: ua.String(),
		Browser:   ua.Agent(),
		Device:    ua.Device,
		Location:  Unknown,
	}
	if e.locator != nil {
		if loc, ok := e.locator.Lookup(ipAddress); ok {
			out.Location = loc.String()
		}
	}
	return out
}
