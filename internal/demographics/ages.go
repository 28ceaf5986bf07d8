// Package demographics provides the age-cohort population model and the
// community aggregates built on top of it.
package demographics

import "math"

// MaxLifespan is the number of tracked ages. Nobody survives past age MaxLifespan-1.
const MaxLifespan = 120

// Cohorts holds the number of people at each age.
type Cohorts [MaxLifespan]uint64

// Rates holds a per-age fractional rate.
type Rates [MaxLifespan]float64

// Ages is an age distribution with its per-age birth and death rates.
type Ages struct {
	Counts     Cohorts `json:"counts"`
	BirthRates Rates   `json:"birth_rates"`
	DeathRates Rates   `json:"death_rates"`
}

// NewAges builds an age table from explicit initial data.
func NewAges(counts Cohorts, births, deaths Rates) Ages {
	return Ages{
		Counts:     counts,
		BirthRates: births,
		DeathRates: deaths,
	}
}

// StepYear advances the table by one year. Births land in age 0, every
// other cohort ages by one year less its deaths, and the oldest cohort
// drops off. Counts saturate instead of wrapping.
func (a *Ages) StepYear() {
	var next Cohorts

	var births uint64
	for i, n := range a.Counts {
		births = saturatingAdd(births, truncate(float64(n)*a.BirthRates[i]))
	}
	next[0] = births

	for i := 1; i < MaxLifespan; i++ {
		prev := a.Counts[i-1]
		next[i] = saturatingSub(prev, truncate(float64(prev)*a.DeathRates[i-1]))
	}

	a.Counts = next
}

// Population returns the total across all ages.
func (a *Ages) Population() uint64 {
	var total uint64
	for _, n := range a.Counts {
		total = saturatingAdd(total, n)
	}
	return total
}

// Births returns the size of the age-0 cohort.
func (a *Ages) Births() uint64 {
	return a.Counts[0]
}

// MedianAge returns the age at which half the population is younger.
// Returns 0 for an empty table.
func (a *Ages) MedianAge() int {
	total := a.Population()
	if total == 0 {
		return 0
	}
	half := total / 2
	var seen uint64
	for age, n := range a.Counts {
		seen = saturatingAdd(seen, n)
		if seen > half {
			return age
		}
	}
	return MaxLifespan - 1
}

// Saturated reports whether any cohort has hit the count ceiling.
func (a *Ages) Saturated() bool {
	for _, n := range a.Counts {
		if n == math.MaxUint64 {
			return true
		}
	}
	return false
}

// truncate converts a real head count to an integer count, rounding toward
// zero. NaN and negatives become 0, anything past the ceiling saturates.
func truncate(x float64) uint64 {
	switch {
	case math.IsNaN(x) || x <= 0:
		return 0
	case x >= 1<<64:
		return math.MaxUint64
	default:
		return uint64(x)
	}
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
