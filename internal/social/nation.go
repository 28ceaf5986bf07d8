// Package social provides the containers that own communities: nations,
// provinces, resources, and the registry that allocates their IDs.
package social

// NationID is a unique identifier for a nation.
type NationID = uint32

// Nation is a named group of provinces.
type Nation struct {
	ID          NationID     `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Provinces   []ProvinceID `json:"provinces"`
}

// HasProvince reports whether the nation contains the province.
func (n *Nation) HasProvince(id ProvinceID) bool {
	for _, p := range n.Provinces {
		if p == id {
			return true
		}
	}
	return false
}
