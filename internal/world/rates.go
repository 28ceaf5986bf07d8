package world

import (
	"math"

	"github.com/talgya/demesne/internal/demographics"
)

// Fertility window and mortality curve used for freshly generated communities.
const (
	FertileFrom   = 16
	FertileUntil  = 45
	FertilityRate = 0.065 // births per person per year inside the window
	InfantDeaths  = 0.03
	AdultDeaths   = 0.002
	AgingFrom     = 50
	AgingSlope    = 0.085 // exponential growth of mortality past AgingFrom
)

// DefaultRates returns per-age birth and death rates. Mortality reaches 1.0
// at the final age.
func DefaultRates() (births, deaths demographics.Rates) {
	for age := 0; age < demographics.MaxLifespan; age++ {
		if age >= FertileFrom && age <= FertileUntil {
			births[age] = FertilityRate
		}

		switch {
		case age == 0:
			deaths[age] = InfantDeaths
		case age < 5:
			deaths[age] = 0.005
		case age < 15:
			deaths[age] = 0.001
		case age < AgingFrom:
			deaths[age] = AdultDeaths
		default:
			deaths[age] = math.Min(1, AdultDeaths*math.Exp(AgingSlope*float64(age-AgingFrom)))
		}
	}
	deaths[demographics.MaxLifespan-1] = 1
	return births, deaths
}

// InitialCohorts spreads total people over ages following the survivorship
// implied by deaths. Cumulative rounding keeps the sum exactly total.
func InitialCohorts(total uint64, deaths demographics.Rates) demographics.Cohorts {
	var survival [demographics.MaxLifespan]float64
	survival[0] = 1
	sum := 1.0
	for age := 1; age < demographics.MaxLifespan; age++ {
		survival[age] = math.Max(0, survival[age-1]*(1-deaths[age-1]))
		sum += survival[age]
	}

	var counts demographics.Cohorts
	var cum float64
	var placed uint64
	for age, s := range survival {
		cum += s
		target := uint64(math.Round(float64(total) * cum / sum))
		if target > total || age == demographics.MaxLifespan-1 {
			target = total
		}
		if target < placed {
			target = placed
		}
		counts[age] = target - placed
		placed = target
	}
	return counts
}
