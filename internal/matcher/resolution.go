package matcher

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// SourceInfo describes a resolution authority.
type SourceInfo struct {
	Name        string
	Reliability float64
	DelayHours  float64
	Platforms   []domain.VenueID
}

func (s SourceInfo) usedOn(v domain.VenueID) bool {
	for _, p := range s.Platforms {
		if p == v {
			return true
		}
	}
	return false
}

// Sources is the table of known resolution authorities keyed by canonical
// name.
var Sources = map[string]SourceInfo{
	"UMA":           {Name: "UMA", Reliability: 0.95, DelayHours: 2, Platforms: []domain.VenueID{domain.VenuePolymarket}},
	"Kalshi":        {Name: "Kalshi", Reliability: 0.98, DelayHours: 1, Platforms: []domain.VenueID{domain.VenueKalshi}},
	"Manifold":      {Name: "Manifold", Reliability: 0.75, DelayHours: 0, Platforms: []domain.VenueID{"manifold"}},
	"Reuters":       {Name: "Reuters", Reliability: 0.99, DelayHours: 0.5, Platforms: []domain.VenueID{domain.VenuePolymarket, domain.VenueKalshi}},
	"AP":            {Name: "AP", Reliability: 0.99, DelayHours: 0.5, Platforms: []domain.VenueID{domain.VenuePolymarket, domain.VenueKalshi}},
	"NYT":           {Name: "NYT", Reliability: 0.97, DelayHours: 1, Platforms: []domain.VenueID{domain.VenuePolymarket}},
	"CoinMarketCap": {Name: "CoinMarketCap", Reliability: 0.95, DelayHours: 0.1, Platforms: []domain.VenueID{domain.VenuePolymarket, "manifold"}},
	"CoinGecko":     {Name: "CoinGecko", Reliability: 0.95, DelayHours: 0.1, Platforms: []domain.VenueID{domain.VenuePolymarket, "manifold"}},
	"Opinion":       {Name: "Opinion", Reliability: 0.90, DelayHours: 1, Platforms: []domain.VenueID{domain.VenueOpinion}},
}

// aliases maps lowercase spellings seen in venue metadata to canonical names.
var aliases = map[string]string{
	"uma":                   "UMA",
	"uma optimistic oracle": "UMA",
	"kalshi":                "Kalshi",
	"manifold":              "Manifold",
	"reuters":               "Reuters",
	"ap":                    "AP",
	"associated press":      "AP",
	"nyt":                   "NYT",
	"new york times":        "NYT",
	"the new york times":    "NYT",
	"coinmarketcap":         "CoinMarketCap",
	"coingecko":             "CoinGecko",
	"opinion":               "Opinion",
}

// sourceHosts maps the web hosts venues link as a resolution source.
var sourceHosts = map[string]string{
	"reuters.com":       "Reuters",
	"apnews.com":        "AP",
	"nytimes.com":       "NYT",
	"coinmarketcap.com": "CoinMarketCap",
	"coingecko.com":     "CoinGecko",
	"kalshi.com":        "Kalshi",
	"manifold.markets":  "Manifold",
}

// DefaultSource is the source assumed for a venue whose market carries none.
func DefaultSource(v domain.VenueID) string {
	switch v {
	case domain.VenueKalshi:
		return "Kalshi"
	case domain.VenuePolymarket:
		return "UMA"
	case domain.VenueOpinion:
		return "Opinion"
	}
	return ""
}

// CanonicalSource maps free-form source text or a source URL to a canonical
// table name. Empty input falls back to the venue default; unrecognized text
// is returned trimmed.
func CanonicalSource(raw string, v domain.VenueID) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultSource(v)
	}
	if c, ok := aliases[strings.ToLower(s)]; ok {
		return c
	}
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if c, ok := sourceHosts[host]; ok {
			return c
		}
	}
	return s
}

// ResolutionCompatibility scores how likely two markets resolve identically
// given their sources. Warnings explain deductions.
func ResolutionCompatibility(a, b domain.Market) (float64, []string) {
	sa := CanonicalSource(a.ResolutionSource, a.Key.Venue)
	sb := CanonicalSource(b.ResolutionSource, b.Key.Venue)

	ia, okA := Sources[sa]
	ib, okB := Sources[sb]
	var warnings []string
	if !okA {
		warnings = append(warnings, fmt.Sprintf("unknown resolution source: %q", sa))
	}
	if !okB {
		warnings = append(warnings, fmt.Sprintf("unknown resolution source: %q", sb))
	}
	if !okA || !okB {
		return 0, warnings
	}
	if sa == sb {
		return 1, warnings
	}

	reliability := 1 - math.Abs(ia.Reliability-ib.Reliability)

	delayGap := math.Abs(ia.DelayHours - ib.DelayHours)
	delay := 1 - delayGap/12
	if delayGap > 6 {
		delay = 0.5
		warnings = append(warnings, fmt.Sprintf("large resolution delay difference: %.1f hours", delayGap))
	}

	platform := 0.7
	if ib.usedOn(a.Key.Venue) || ia.usedOn(b.Key.Venue) {
		platform = 0.9
	} else {
		warnings = append(warnings, "resolution sources are typically used on different venues")
	}

	return reliability*0.4 + delay*0.3 + platform*0.3, warnings
}
