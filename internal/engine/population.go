// Population dynamics — yearly cohort stepping for every province.
package engine

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/talgya/demesne/internal/demographics"
)

// milestones are the population sizes announced when a province first reaches them.
var milestones = []uint64{1_000, 10_000, 100_000, 1_000_000, 10_000_000}

// processPopulation steps each province's communities one year and swaps
// in the rebuilt snapshot.
func (s *Simulation) processPopulation(year uint64) {
	for _, p := range s.Registry.Provinces() {
		before := p.Population.TotalPopulation()
		next := p.Population.Advance()
		if err := s.Registry.SetPopulation(p.ID, next); err != nil {
			slog.Error("population update failed", "province", p.ID, "error", err)
			continue
		}
		after := next.TotalPopulation()

		if before > 0 && after == 0 {
			s.emit(Event{
				Year:        year,
				Description: fmt.Sprintf("The last of the people of %s are gone", p.Name),
				Category:    "population",
				Meta:        map[string]any{"province_id": p.ID},
			})
		}

		for _, m := range milestones {
			if before < m && after >= m {
				s.emit(Event{
					Year:        year,
					Description: fmt.Sprintf("%s has grown to %s souls", p.Name, humanize.Comma(int64(m))),
					Category:    "population",
					Meta:        map[string]any{"province_id": p.ID, "milestone": m},
				})
			}
		}

		if !s.saturated[p.ID] && saturated(next) {
			s.saturated[p.ID] = true
			s.emit(Event{
				Year:        year,
				Description: fmt.Sprintf("%s has outgrown all counting", p.Name),
				Category:    "population",
				Meta:        map[string]any{"province_id": p.ID},
			})
			slog.Warn("province population saturated", "province", p.Name, "year", year)
		}
	}
}

// saturated reports whether any cohort in the province has hit the ceiling.
func saturated(d demographics.Demographics) bool {
	for _, c := range d.Communities() {
		ages := c.Ages()
		if ages.Saturated() {
			return true
		}
	}
	return false
}

func addCapped(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
