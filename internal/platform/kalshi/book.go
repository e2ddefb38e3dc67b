package kalshi

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Book is the local order book for one Kalshi market. Kalshi publishes only
// bids for each side; an ask on YES is a bid on NO at 100 minus its price,
// and the other way round.
type Book struct {
	ticker string
	yes    map[int64]int64 // price cents -> contracts
	no     map[int64]int64
}

// NewBook returns an empty book for ticker.
func NewBook(ticker string) *Book {
	return &Book{ticker: ticker, yes: map[int64]int64{}, no: map[int64]int64{}}
}

// ApplySnapshot replaces every level.
func (b *Book) ApplySnapshot(s KalshiWSSnapshot) {
	b.yes = make(map[int64]int64, len(s.Yes))
	b.no = make(map[int64]int64, len(s.No))
	for _, lvl := range s.Yes {
		if lvl[1] > 0 {
			b.yes[lvl[0]] = lvl[1]
		}
	}
	for _, lvl := range s.No {
		if lvl[1] > 0 {
			b.no[lvl[0]] = lvl[1]
		}
	}
}

// ApplyDelta adjusts one level; a level at or below zero is removed.
func (b *Book) ApplyDelta(d KalshiWSDelta) {
	side := b.yes
	if d.Side == "no" {
		side = b.no
	}
	qty := side[d.Price] + d.Delta
	if qty <= 0 {
		delete(side, d.Price)
		return
	}
	side[d.Price] = qty
}

// Snapshot renders the book as a two-outcome snapshot with dollar prices.
func (b *Book) Snapshot(seq uint64, at time.Time) domain.OrderbookSnapshot {
	yesBids := bidLevels(b.yes)
	noBids := bidLevels(b.no)
	return domain.OrderbookSnapshot{
		Market:    domain.MarketKey{Venue: domain.VenueKalshi, ID: b.ticker},
		Yes:       quote(yesBids, impliedAsks(noBids)),
		No:        quote(noBids, impliedAsks(yesBids)),
		Sequence:  seq,
		Timestamp: at,
	}
}

func cents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// bidLevels returns levels sorted best (highest) first.
func bidLevels(side map[int64]int64) [][2]int64 {
	out := make([][2]int64, 0, len(side))
	for p, q := range side {
		out = append(out, [2]int64{p, q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] > out[j][0] })
	return out
}

// impliedAsks maps the opposite side's bids to asks, best (lowest) first.
func impliedAsks(oppositeBids [][2]int64) [][2]int64 {
	out := make([][2]int64, len(oppositeBids))
	for i, lvl := range oppositeBids {
		out[i] = [2]int64{100 - lvl[0], lvl[1]}
	}
	return out
}

func quote(bids, asks [][2]int64) domain.Quote {
	q := domain.Quote{
		Bids: make([]domain.PriceLevel, len(bids)),
		Asks: make([]domain.PriceLevel, len(asks)),
	}
	for i, lvl := range bids {
		q.Bids[i] = domain.PriceLevel{Price: cents(lvl[0]), Size: decimal.NewFromInt(lvl[1])}
	}
	for i, lvl := range asks {
		q.Asks[i] = domain.PriceLevel{Price: cents(lvl[0]), Size: decimal.NewFromInt(lvl[1])}
	}
	if len(bids) > 0 {
		q.BestBid = q.Bids[0].Price
	}
	if len(asks) > 0 {
		q.BestAsk = q.Asks[0].Price
	}
	return q
}
