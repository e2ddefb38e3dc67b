package matcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/matcher"
)

func TestCatalog_UpsertReportsCanonicalSourceChanges(t *testing.T) {
	c := matcher.NewCatalog()
	m := mkt(domain.VenuePolymarket, "P", "")
	assert.Empty(t, c.Upsert([]domain.Market{m}))

	m.ResolutionSource = "uma"
	assert.Empty(t, c.Upsert([]domain.Market{m}), "alias of the venue default is not a change")

	m.ResolutionSource = "Reuters"
	changes := c.Upsert([]domain.Market{m})
	assert.Equal(t, []matcher.SourceChange{{Market: m.Key, Old: "UMA", New: "Reuters"}}, changes)
}

func TestCatalog_PruneAndActive(t *testing.T) {
	c := matcher.NewCatalog()
	a := mkt(domain.VenueKalshi, "A", "")
	a.Active = true
	b := mkt(domain.VenueKalshi, "B", "")
	b.Active = true
	p := mkt(domain.VenuePolymarket, "P", "")
	p.Active = true
	c.Upsert([]domain.Market{a, b, p})

	assert.Equal(t, 1, c.Prune(domain.VenueKalshi, []domain.Market{a}))
	assert.Equal(t, 2, c.Len())

	active := c.Active(func(v domain.VenueID) bool { return v == domain.VenueKalshi })
	assert.Len(t, active, 1)
	assert.Equal(t, a.Key, active[0].Key)
	assert.Len(t, c.Active(nil), 2)
}
