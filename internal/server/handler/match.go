package handler

import (
	"net/http"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/matcher"
)

// MatchSource exposes the accepted match set.
type MatchSource interface {
	Current() *matcher.Set
}

// MarketLookup resolves market metadata.
type MarketLookup func(domain.MarketKey) (domain.Market, bool)

// MatchHandler lists accepted cross-venue matches.
type MatchHandler struct {
	matches MatchSource
	lookup  MarketLookup
}

// NewMatchHandler creates a MatchHandler. lookup may be nil.
func NewMatchHandler(matches MatchSource, lookup MarketLookup) *MatchHandler {
	return &MatchHandler{matches: matches, lookup: lookup}
}

type matchView struct {
	domain.MatchCandidate
	QuestionA string `json:"question_a,omitempty"`
	QuestionB string `json:"question_b,omitempty"`
}

// List returns accepted candidates, best first.
// GET /api/matches?min_confidence=0.5&venue=kalshi&limit=50
func (h *MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	set := h.matches.Current()
	minConf := queryFloat(r, "min_confidence", 0)
	venue := domain.VenueID(r.URL.Query().Get("venue"))
	limit := queryLimit(r)

	out := make([]matchView, 0, min(limit, set.Len()))
	for _, c := range set.Candidates {
		if len(out) == limit {
			break
		}
		if c.Confidence < minConf {
			continue
		}
		if venue != "" && c.A.Venue != venue && c.B.Venue != venue {
			continue
		}
		v := matchView{MatchCandidate: c}
		if h.lookup != nil {
			if m, ok := h.lookup(c.A); ok {
				v.QuestionA = m.Question
			}
			if m, ok := h.lookup(c.B); ok {
				v.QuestionB = m.Question
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"matches":  out,
		"total":    set.Len(),
		"built_at": set.BuiltAt,
	})
}
