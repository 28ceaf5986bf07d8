// Simulation ties the registry to the yearly systems and records what happened.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/talgya/demesne/internal/culture"
	"github.com/talgya/demesne/internal/social"
)

const (
	maxHistory = 200 // yearly stats kept in memory
)

// MaxEvents is the number of events kept in memory.
const MaxEvents = 1000

// Simulation holds the complete world state and wires systems together.
// Readers use View; anything that changes state holds the write lock.
type Simulation struct {
	mu sync.RWMutex

	Registry *social.Registry
	Year     uint64  // Most recent year processed
	Events   []Event // Recent events, oldest first
	Stats    SimStats
	History  []SimStats

	// Provinces already reported as saturated, so the event fires once.
	saturated map[social.ProvinceID]bool
	nextSeq   uint64
}

// Event is a notable occurrence in the world.
type Event struct {
	Seq         uint64         `json:"seq"` // assigned on emit, unique per world
	Year        uint64         `json:"year"`
	Description string         `json:"description"`
	Category    string         `json:"category"` // "population", "culture", "intervention", etc.
	Meta        map[string]any `json:"meta,omitempty"`
}

// SimStats tracks aggregate world statistics for one year.
type SimStats struct {
	Year            uint64  `json:"year"`
	TotalPopulation uint64  `json:"total_population"`
	Births          uint64  `json:"births"`
	Nations         int     `json:"nations"`
	Provinces       int     `json:"provinces"`
	Communities     int     `json:"communities"`
	Extinct         int     `json:"extinct_provinces"`
	Saturated       int     `json:"saturated_provinces"`
	CultureSpread   float64 `json:"culture_spread"` // mean distance of provinces from the world culture
}

// NewSimulation creates a Simulation over a populated registry.
func NewSimulation(reg *social.Registry) *Simulation {
	sim := &Simulation{
		Registry:  reg,
		saturated: make(map[social.ProvinceID]bool),
		nextSeq:   1,
	}
	for _, p := range reg.Provinces() {
		if saturated(p.Population) {
			sim.saturated[p.ID] = true
		}
	}
	sim.updateStats(0)
	return sim
}

// CurrentYear returns the most recently processed year.
func (s *Simulation) CurrentYear() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Year
}

// View runs fn with a read lock held. fn must not keep references past return.
func (s *Simulation) View(fn func(reg *social.Registry)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.Registry)
}

// Snapshot runs fn with the year, registry and events read under one read
// lock, so a concurrent tick cannot land between them. fn must not keep
// reg past return; events is a copy.
func (s *Simulation) Snapshot(fn func(year uint64, reg *social.Registry, events []Event)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	fn(s.Year, s.Registry, events)
}

// CurrentStats returns the latest statistics.
func (s *Simulation) CurrentStats() SimStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// StatsHistory returns a copy of the yearly statistics history.
func (s *Simulation) StatsHistory() []SimStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SimStats, len(s.History))
	copy(out, s.History)
	return out
}

// EmitEvent records an event.
func (s *Simulation) EmitEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(e)
}

// Resume puts a reloaded world back at year with its stored events (oldest
// first). Numbering continues after lastSeq or the newest event, whichever
// is higher, and stats are recomputed for year.
func (s *Simulation) Resume(year uint64, events []Event, lastSeq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Year = year
	if len(events) > MaxEvents {
		events = events[len(events)-MaxEvents:]
	}
	s.Events = make([]Event, len(events))
	copy(s.Events, events)
	for _, e := range events {
		lastSeq = max(lastSeq, e.Seq)
	}
	if lastSeq >= s.nextSeq {
		s.nextSeq = lastSeq + 1
	}

	s.History = nil
	s.updateStats(year)
}

func (s *Simulation) emit(e Event) {
	e.Seq = s.nextSeq
	s.nextSeq++
	s.Events = append(s.Events, e)
	if len(s.Events) > MaxEvents {
		s.Events = s.Events[len(s.Events)-MaxEvents:]
	}
}

// RecentEvents returns up to limit of the newest events, optionally only
// those whose description mentions filter.
func (s *Simulation) RecentEvents(limit int, filter string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.Events
	if filter != "" {
		var filtered []Event
		for _, e := range events {
			if strings.Contains(e.Description, filter) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}
	out := make([]Event, len(events)-start)
	copy(out, events[start:])
	return out
}

// TickYear advances every province by one year and records the outcome.
func (s *Simulation) TickYear(year uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Year = year
	s.processPopulation(year)
	s.updateStats(year)

	slog.Info("yearly report",
		"year", year,
		"population", humanize.Comma(clampInt64(s.Stats.TotalPopulation)),
		"births", humanize.Comma(clampInt64(s.Stats.Births)),
		"communities", s.Stats.Communities,
		"extinct", s.Stats.Extinct,
		"saturated", s.Stats.Saturated,
		"culture_spread", fmt.Sprintf("%.3f", s.Stats.CultureSpread),
	)
}

func (s *Simulation) updateStats(year uint64) {
	provinces := s.Registry.Provinces()

	stats := SimStats{
		Year:            year,
		TotalPopulation: s.Registry.TotalPopulation(),
		Nations:         len(s.Registry.Nations()),
		Provinces:       len(provinces),
		Communities:     s.Registry.CommunityCount(),
		Saturated:       len(s.saturated),
	}

	cultures := make([]culture.Culture, 0, len(provinces))
	for _, p := range provinces {
		if p.Population.TotalPopulation() == 0 {
			stats.Extinct++
		}
		for _, c := range p.Population.Communities() {
			ages := c.Ages()
			stats.Births = addCapped(stats.Births, ages.Births())
		}
		cultures = append(cultures, p.Population.AverageCulture())
	}

	if world, err := culture.Average(cultures...); err == nil {
		total := 0.0
		for _, c := range cultures {
			total += culture.Distance(c, world)
		}
		stats.CultureSpread = total / float64(len(cultures))
	}

	s.Stats = stats
	s.History = append(s.History, stats)
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
}

func clampInt64(n uint64) int64 {
	if n > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(n)
}
