package world

import "github.com/talgya/demesne/internal/social"

// resourceCatalog lists the goods every generated world starts with.
var resourceCatalog = []struct {
	name, description string
}{
	{"Grain", "Staple crop feeding most communities."},
	{"Timber", "Wood for building and fuel."},
	{"Stone", "Quarried building material."},
	{"Iron", "Ore smelted into tools and arms."},
	{"Salt", "Preserves food; traded over long distances."},
	{"Wool", "Spun into cloth."},
	{"Fish", "Caught along coasts and rivers."},
}

// SeedResources registers the standard resource catalog.
func SeedResources(reg *social.Registry) {
	for _, r := range resourceCatalog {
		reg.AddResource(r.name, r.description)
	}
}
