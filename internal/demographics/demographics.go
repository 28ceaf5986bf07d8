package demographics

import (
	"errors"
	"fmt"

	"github.com/talgya/demesne/internal/culture"
)

// ErrNoCommunities is returned when building Demographics from nothing.
var ErrNoCommunities = errors.New("demographics: no communities")

// Demographics is a read-only snapshot of all communities in one province.
// Totals are computed once from private copies of the members, so they
// cannot drift from the data. Changes go through Advance or Map, which
// return a new snapshot.
type Demographics struct {
	communities     []Community
	totalPopulation uint64
	averageCulture  culture.Culture
}

// New builds a snapshot over communities. Order is kept for display only.
func New(communities ...Community) (Demographics, error) {
	if len(communities) == 0 {
		return Demographics{}, ErrNoCommunities
	}

	members := make([]Community, len(communities))
	copy(members, communities)

	cultures := make([]culture.Culture, len(members))
	var total uint64
	for i := range members {
		cultures[i] = members[i].culture
		total = saturatingAdd(total, members[i].Population())
	}

	// Each community counts once regardless of size.
	avg, err := culture.Average(cultures...)
	if err != nil {
		return Demographics{}, fmt.Errorf("average culture: %w", err)
	}

	return Demographics{
		communities:     members,
		totalPopulation: total,
		averageCulture:  avg,
	}, nil
}

// Communities returns a copy of the members.
func (d Demographics) Communities() []Community {
	out := make([]Community, len(d.communities))
	copy(out, d.communities)
	return out
}

// Community looks up a member by ID.
func (d Demographics) Community(id CommunityID) (Community, bool) {
	for _, c := range d.communities {
		if c.id == id {
			return c, true
		}
	}
	return Community{}, false
}

// Len returns the number of communities.
func (d Demographics) Len() int { return len(d.communities) }

// TotalPopulation returns the summed population of all members.
func (d Demographics) TotalPopulation() uint64 { return d.totalPopulation }

// AverageCulture returns the unweighted mean of member cultures.
func (d Demographics) AverageCulture() culture.Culture { return d.averageCulture }

// WeightedCulture returns the population-weighted mean of member cultures.
// Falls back to AverageCulture when nobody is alive.
func (d Demographics) WeightedCulture() culture.Culture {
	if d.totalPopulation == 0 {
		return d.averageCulture
	}
	cultures := make([]culture.Culture, len(d.communities))
	weights := make([]float64, len(d.communities))
	for i := range d.communities {
		cultures[i] = d.communities[i].culture
		weights[i] = float64(d.communities[i].Population())
	}
	avg, err := culture.WeightedAverage(cultures, weights)
	if err != nil {
		return d.averageCulture
	}
	return avg
}

// Advance returns the snapshot one year later.
func (d Demographics) Advance() Demographics {
	return d.Map(func(c *Community) { c.StepYear() })
}

// Map applies fn to a copy of every member and rebuilds the snapshot.
func (d Demographics) Map(fn func(*Community)) Demographics {
	members := d.Communities()
	for i := range members {
		fn(&members[i])
	}
	next, err := New(members...)
	if err != nil {
		// Only reachable on a zero-value snapshot.
		return d
	}
	return next
}
