// World generation — nations, provinces and communities with layered noise
// over cultural axes.
package world

import (
	"fmt"
	"log/slog"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/demesne/internal/culture"
	"github.com/talgya/demesne/internal/demographics"
	"github.com/talgya/demesne/internal/social"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Seed               int64   // Random seed (0 = random)
	Nations            int     // Number of nations
	ProvincesPerNation int     // Provinces in each nation
	MinCommunities     int     // Fewest communities per province
	MaxCommunities     int     // Most communities per province
	CultureSpread      float64 // How far communities stray from their nation (0.0–1.0)
	NoiseScale         float64 // Noise frequency between neighbouring provinces
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:               0,
		Nations:            5,
		ProvincesPerNation: 6,
		MinCommunities:     3,
		MaxCommunities:     8,
		CultureSpread:      0.35,
		NoiseScale:         0.45,
	}
}

// SmallTestConfig returns a tiny world for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Seed:               42,
		Nations:            2,
		ProvincesPerNation: 2,
		MinCommunities:     1,
		MaxCommunities:     3,
		CultureSpread:      0.35,
		NoiseScale:         0.45,
	}
}

// Validate checks that the configuration can produce a world.
func (c GenConfig) Validate() error {
	switch {
	case c.Nations < 1:
		return fmt.Errorf("nations must be at least 1, got %d", c.Nations)
	case c.ProvincesPerNation < 1:
		return fmt.Errorf("provinces per nation must be at least 1, got %d", c.ProvincesPerNation)
	case c.MinCommunities < 1:
		return fmt.Errorf("min communities must be at least 1, got %d", c.MinCommunities)
	case c.MaxCommunities < c.MinCommunities:
		return fmt.Errorf("max communities %d below min %d", c.MaxCommunities, c.MinCommunities)
	case c.CultureSpread < 0:
		return fmt.Errorf("culture spread must not be negative, got %f", c.CultureSpread)
	}
	return nil
}

// Generate creates a complete world: nations, their provinces, and the
// communities of each province.
func Generate(cfg GenConfig) (*social.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gen config: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))

	// Two noise layers: a province-wide drift and a per-community wobble.
	provinceNoise := opensimplex.New(seed + 1)
	communityNoise := opensimplex.New(seed + 2)

	births, deaths := DefaultRates()
	reg := social.NewRegistry()
	SeedResources(reg)

	names := generateNames(rng, cfg.Nations*(cfg.ProvincesPerNation+1))
	nextName := func() string {
		name := names[0]
		names = names[1:]
		return name
	}

	provinceIdx := 0
	for n := 0; n < cfg.Nations; n++ {
		nationName := nextName()
		nation := reg.AddNation(nationName, fmt.Sprintf("The realm of %s.", nationName))
		base := culture.Random(rng)

		for p := 0; p < cfg.ProvincesPerNation; p++ {
			px := float64(provinceIdx) * cfg.NoiseScale

			var provinceCulture culture.Culture
			for k := range provinceCulture {
				drift := provinceNoise.Eval2(px, float64(k)*1.7)
				provinceCulture[k] = base[k] + drift*cfg.CultureSpread
			}

			count := cfg.MinCommunities + rng.Intn(cfg.MaxCommunities-cfg.MinCommunities+1)
			members := make([]demographics.Community, 0, count)
			for c := 0; c < count; c++ {
				cy := float64(c) * cfg.NoiseScale

				var cult culture.Culture
				for k := range cult {
					wobble := communityNoise.Eval3(px, cy, float64(k)*1.7)
					cult[k] = provinceCulture[k] + wobble*cfg.CultureSpread*0.5
				}

				size := drawSize(rng)
				counts := InitialCohorts(PopulationForSize(size, rng), deaths)
				ages := demographics.NewAges(counts, births, deaths)
				members = append(members, demographics.NewCommunity(reg.NextCommunityID(), cult.Clamp(), ages))
			}

			pop, err := demographics.New(members...)
			if err != nil {
				return nil, fmt.Errorf("province %d: %w", provinceIdx, err)
			}

			provinceName := nextName()
			if _, err := reg.AddProvince(nation.ID, provinceName,
				fmt.Sprintf("A province of %s.", nationName), pop); err != nil {
				return nil, err
			}
			provinceIdx++
		}
	}

	slog.Info("world generated",
		"seed", seed,
		"nations", len(reg.Nations()),
		"provinces", len(reg.Provinces()),
		"communities", reg.CommunityCount(),
		"population", reg.TotalPopulation(),
	)
	return reg, nil
}

// CommunitySize categorizes community scale.
type CommunitySize uint8

const (
	SizeHamlet  CommunitySize = iota // 20–200 people
	SizeVillage                      // 200–2,000 people
	SizeTown                         // 2,000–10,000 people
)

// drawSize picks a community size: mostly hamlets, few towns.
func drawSize(rng *rand.Rand) CommunitySize {
	roll := rng.Float64()
	switch {
	case roll < 0.15:
		return SizeTown
	case roll < 0.50:
		return SizeVillage
	default:
		return SizeHamlet
	}
}

// PopulationForSize returns the initial population for a community size.
func PopulationForSize(size CommunitySize, rng *rand.Rand) uint64 {
	switch size {
	case SizeTown:
		return 2000 + uint64(rng.Intn(8000))
	case SizeVillage:
		return 200 + uint64(rng.Intn(1800))
	case SizeHamlet:
		return 20 + uint64(rng.Intn(180))
	default:
		return 50
	}
}
