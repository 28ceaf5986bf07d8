package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/demesne/internal/culture"
	"github.com/talgya/demesne/internal/demographics"
	"github.com/talgya/demesne/internal/social"
)

// ErrMagnitude is returned for a negative or non-finite drift magnitude.
var ErrMagnitude = errors.New("magnitude must be a finite non-negative number")

// Assimilate pulls every community of a province towards the province's
// average culture. No community moves past the average.
func (s *Simulation) Assimilate(provinceID social.ProvinceID, magnitude float64) (string, error) {
	if err := checkMagnitude(magnitude); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Registry.Province(provinceID)
	if err != nil {
		return "", err
	}
	target := p.Population.AverageCulture()
	before := meanDistance(p.Population, target)

	next := p.Population.Map(func(c *demographics.Community) {
		c.ShiftCulture(target, math.Min(magnitude, culture.Distance(c.Culture(), target)))
	})
	if err := s.Registry.SetPopulation(provinceID, next); err != nil {
		return "", err
	}

	desc := fmt.Sprintf("The communities of %s draw closer together", p.Name)
	s.emit(Event{
		Year:        s.Year,
		Description: desc,
		Category:    "intervention",
		Meta: map[string]any{
			"province_id":   provinceID,
			"magnitude":     magnitude,
			"spread_before": before,
			"spread_after":  meanDistance(next, next.AverageCulture()),
		},
	})

	slog.Info("assimilate intervention", "province", p.Name, "magnitude", magnitude)
	return desc, nil
}

// Influence pulls every community of a province towards target by
// magnitude, stopping at target.
func (s *Simulation) Influence(provinceID social.ProvinceID, target culture.Culture, magnitude float64) (string, error) {
	if err := checkMagnitude(magnitude); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Registry.Province(provinceID)
	if err != nil {
		return "", err
	}

	next := p.Population.Map(func(c *demographics.Community) {
		c.ShiftCulture(target, math.Min(magnitude, culture.Distance(c.Culture(), target)))
	})
	if err := s.Registry.SetPopulation(provinceID, next); err != nil {
		return "", err
	}

	desc := fmt.Sprintf("Foreign customs take hold in %s", p.Name)
	s.emit(Event{
		Year:        s.Year,
		Description: desc,
		Category:    "intervention",
		Meta: map[string]any{
			"province_id": provinceID,
			"magnitude":   magnitude,
			"distance":    culture.Distance(next.AverageCulture(), target),
		},
	})

	slog.Info("influence intervention", "province", p.Name, "magnitude", magnitude)
	return desc, nil
}

// meanDistance is the average distance of a province's communities from c.
func meanDistance(d demographics.Demographics, c culture.Culture) float64 {
	members := d.Communities()
	if len(members) == 0 {
		return 0
	}
	total := 0.0
	for i := range members {
		total += culture.Distance(members[i].Culture(), c)
	}
	return total / float64(len(members))
}

func checkMagnitude(m float64) error {
	if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return fmt.Errorf("%w: %v", ErrMagnitude, m)
	}
	return nil
}
