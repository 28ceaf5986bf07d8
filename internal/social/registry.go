package social

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/talgya/demesne/internal/culture"
	"github.com/talgya/demesne/internal/demographics"
)

// ErrNotFound is returned when an ID does not name a known entity.
var ErrNotFound = errors.New("not found")

// Relation summarizes how two cultures stand towards each other.
type Relation struct {
	Distance   float64 `json:"distance"`
	Agreement  float64 `json:"agreement"`
	Antagonism float64 `json:"antagonism"`
}

// Relate compares two cultures.
func Relate(a, b culture.Culture) Relation {
	return Relation{
		Distance:   culture.Distance(a, b),
		Agreement:  culture.Agreement(a, b),
		Antagonism: culture.Antagonism(a, b),
	}
}

// Registry owns every nation, province and resource, and hands out IDs.
// It is not safe for concurrent use; the engine serializes access.
type Registry struct {
	nations   map[NationID]*Nation
	provinces map[ProvinceID]*Province
	resources map[ResourceID]*Resource

	nextNation    NationID
	nextProvince  ProvinceID
	nextResource  ResourceID
	nextCommunity demographics.CommunityID
}

// NewRegistry creates an empty registry. IDs start at 1.
func NewRegistry() *Registry {
	return &Registry{
		nations:       make(map[NationID]*Nation),
		provinces:     make(map[ProvinceID]*Province),
		resources:     make(map[ResourceID]*Resource),
		nextNation:    1,
		nextProvince:  1,
		nextResource:  1,
		nextCommunity: 1,
	}
}

// AddNation registers a new nation with no provinces.
func (r *Registry) AddNation(name, description string) *Nation {
	n := &Nation{ID: r.nextNation, Name: name, Description: description}
	r.nextNation++
	r.nations[n.ID] = n
	return n
}

// AddProvince registers a province under an existing nation.
func (r *Registry) AddProvince(nationID NationID, name, description string, pop demographics.Demographics) (*Province, error) {
	n, ok := r.nations[nationID]
	if !ok {
		return nil, fmt.Errorf("nation %d: %w", nationID, ErrNotFound)
	}
	p := &Province{
		ID:          r.nextProvince,
		NationID:    nationID,
		Name:        name,
		Description: description,
		Population:  pop,
	}
	r.nextProvince++
	r.provinces[p.ID] = p
	n.Provinces = append(n.Provinces, p.ID)
	return p, nil
}

// AddResource registers a new resource.
func (r *Registry) AddResource(name, description string) *Resource {
	res := &Resource{ID: r.nextResource, Name: name, Description: description}
	r.nextResource++
	r.resources[res.ID] = res
	return res
}

// NextCommunityID allocates a community identifier.
func (r *Registry) NextCommunityID() demographics.CommunityID {
	id := r.nextCommunity
	r.nextCommunity++
	return id
}

// RestoreNation inserts a nation with a fixed ID, as read from storage.
// Its province list is rebuilt by RestoreProvince.
func (r *Registry) RestoreNation(n Nation) {
	n.Provinces = nil
	r.nations[n.ID] = &n
	if n.ID >= r.nextNation {
		r.nextNation = n.ID + 1
	}
}

// RestoreProvince inserts a province with a fixed ID under its nation.
func (r *Registry) RestoreProvince(p Province) error {
	n, ok := r.nations[p.NationID]
	if !ok {
		return fmt.Errorf("province %d nation %d: %w", p.ID, p.NationID, ErrNotFound)
	}
	r.provinces[p.ID] = &p
	if !n.HasProvince(p.ID) {
		n.Provinces = append(n.Provinces, p.ID)
		sort.Slice(n.Provinces, func(i, j int) bool { return n.Provinces[i] < n.Provinces[j] })
	}
	if p.ID >= r.nextProvince {
		r.nextProvince = p.ID + 1
	}
	for _, c := range p.Population.Communities() {
		if c.ID() >= r.nextCommunity {
			r.nextCommunity = c.ID() + 1
		}
	}
	return nil
}

// RestoreResource inserts a resource with a fixed ID.
func (r *Registry) RestoreResource(res Resource) {
	r.resources[res.ID] = &res
	if res.ID >= r.nextResource {
		r.nextResource = res.ID + 1
	}
}

// Nation looks up a nation by ID.
func (r *Registry) Nation(id NationID) (*Nation, error) {
	n, ok := r.nations[id]
	if !ok {
		return nil, fmt.Errorf("nation %d: %w", id, ErrNotFound)
	}
	return n, nil
}

// Province looks up a province by ID.
func (r *Registry) Province(id ProvinceID) (*Province, error) {
	p, ok := r.provinces[id]
	if !ok {
		return nil, fmt.Errorf("province %d: %w", id, ErrNotFound)
	}
	return p, nil
}

// SetPopulation replaces a province's demographics snapshot.
func (r *Registry) SetPopulation(id ProvinceID, pop demographics.Demographics) error {
	p, err := r.Province(id)
	if err != nil {
		return err
	}
	p.Population = pop
	return nil
}

// Nations returns all nations in ID order.
func (r *Registry) Nations() []*Nation {
	out := make([]*Nation, 0, len(r.nations))
	for _, n := range r.nations {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Provinces returns all provinces in ID order.
func (r *Registry) Provinces() []*Province {
	out := make([]*Province, 0, len(r.provinces))
	for _, p := range r.provinces {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resources returns all resources in ID order.
func (r *Registry) Resources() []*Resource {
	out := make([]*Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NationProvinces returns the provinces of a nation in ID order.
func (r *Registry) NationProvinces(id NationID) ([]*Province, error) {
	n, err := r.Nation(id)
	if err != nil {
		return nil, err
	}
	out := make([]*Province, 0, len(n.Provinces))
	for _, pid := range n.Provinces {
		if p, ok := r.provinces[pid]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// NationPopulation sums the populations of a nation's provinces.
func (r *Registry) NationPopulation(id NationID) (uint64, error) {
	provinces, err := r.NationProvinces(id)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, p := range provinces {
		total = addCapped(total, p.Population.TotalPopulation())
	}
	return total, nil
}

// NationCulture averages the average cultures of a nation's provinces,
// one vote per province.
func (r *Registry) NationCulture(id NationID) (culture.Culture, error) {
	provinces, err := r.NationProvinces(id)
	if err != nil {
		return culture.Culture{}, err
	}
	cultures := make([]culture.Culture, len(provinces))
	for i, p := range provinces {
		cultures[i] = p.Population.AverageCulture()
	}
	avg, err := culture.Average(cultures...)
	if err != nil {
		return culture.Culture{}, fmt.Errorf("nation %d culture: %w", id, err)
	}
	return avg, nil
}

// Compare relates the cultures of two nations.
func (r *Registry) Compare(a, b NationID) (Relation, error) {
	ca, err := r.NationCulture(a)
	if err != nil {
		return Relation{}, err
	}
	cb, err := r.NationCulture(b)
	if err != nil {
		return Relation{}, err
	}
	return Relate(ca, cb), nil
}

// TotalPopulation sums every province.
func (r *Registry) TotalPopulation() uint64 {
	var total uint64
	for _, p := range r.provinces {
		total = addCapped(total, p.Population.TotalPopulation())
	}
	return total
}

// CommunityCount returns the number of communities across all provinces.
func (r *Registry) CommunityCount() int {
	n := 0
	for _, p := range r.provinces {
		n += p.Population.Len()
	}
	return n
}

func addCapped(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
