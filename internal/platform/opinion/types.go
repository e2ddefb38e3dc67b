package opinion

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// envelope wraps every Opinion API response. errno 0 means success.
type envelope struct {
	Errno  int             `json:"errno"`
	Errmsg string          `json:"errmsg"`
	Result json.RawMessage `json:"result"`
}

// marketList is the result of GET /markets.
type marketList struct {
	Total int             `json:"total"`
	List  []OpinionMarket `json:"list"`
}

// dataResult is the result shape of single-object endpoints.
type dataResult[T any] struct {
	Data T `json:"data"`
}

// OpinionMarket is a binary market as listed by the Opinion API.
type OpinionMarket struct {
	MarketID         string `json:"market_id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	EndAt            int64  `json:"end_at"` // unix seconds
	TokenYesID       string `json:"token_yes_id"`
	TokenNoID        string `json:"token_no_id"`
	Status           string `json:"status"`
	ResolutionSource string `json:"resolution_source,omitempty"`
}

// ToDomainMarket converts the listing into the venue-neutral form.
func (m *OpinionMarket) ToDomainMarket(tz string) domain.Market {
	dm := domain.Market{
		Key:              domain.MarketKey{Venue: domain.VenueOpinion, ID: m.MarketID},
		Question:         m.Title,
		ResolutionSource: m.ResolutionSource,
		Timezone:         tz,
		OutcomeTokens:    [2]string{m.TokenYesID, m.TokenNoID},
		Active:           m.Status == "" || strings.EqualFold(m.Status, "active"),
		UpdatedAt:        time.Now().UTC(),
	}
	if m.EndAt > 0 {
		dm.Expiry = time.Unix(m.EndAt, 0).UTC()
	}
	return dm
}

// Level is one price level. Opinion sends prices as numbers or strings.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OpinionOrderbook is the book for one outcome token.
type OpinionOrderbook struct {
	MarketID string  `json:"market_id"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`
}

// Quote renders the book with best levels first.
func (b OpinionOrderbook) Quote() domain.Quote {
	q := domain.Quote{
		Bids: levels(b.Bids),
		Asks: levels(b.Asks),
	}
	sort.Slice(q.Bids, func(i, j int) bool { return q.Bids[i].Price.GreaterThan(q.Bids[j].Price) })
	sort.Slice(q.Asks, func(i, j int) bool { return q.Asks[i].Price.LessThan(q.Asks[j].Price) })
	if len(q.Bids) > 0 {
		q.BestBid = q.Bids[0].Price
	}
	if len(q.Asks) > 0 {
		q.BestAsk = q.Asks[0].Price
	}
	return q
}

func levels(in []Level) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		if l.Price.IsPositive() && l.Size.IsPositive() {
			out = append(out, domain.PriceLevel{Price: l.Price, Size: l.Size})
		}
	}
	return out
}

// FeeRates are the maker and taker rates for one token as fractions.
type FeeRates struct {
	MakerFee decimal.Decimal `json:"maker_fee"`
	TakerFee decimal.Decimal `json:"taker_fee"`
}
