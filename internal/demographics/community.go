package demographics

import "github.com/talgya/demesne/internal/culture"

// CommunityID is a unique community identifier, assigned by the owner.
type CommunityID = uint32

// Community is the smallest population unit: one culture, one age table.
type Community struct {
	id      CommunityID
	culture culture.Culture
	ages    Ages
}

// NewCommunity builds a community from already-built parts.
func NewCommunity(id CommunityID, c culture.Culture, ages Ages) Community {
	return Community{id: id, culture: c, ages: ages}
}

// ID returns the community identifier.
func (c *Community) ID() CommunityID { return c.id }

// Culture returns the community's culture.
func (c *Community) Culture() culture.Culture { return c.culture }

// Ages returns a copy of the age table.
func (c *Community) Ages() Ages { return c.ages }

// Population is always derived from the current age table.
func (c *Community) Population() uint64 {
	return c.ages.Population()
}

// StepYear ages the community by one year.
func (c *Community) StepYear() {
	c.ages.StepYear()
}

// ShiftCulture drifts the community's culture towards target.
func (c *Community) ShiftCulture(target culture.Culture, magnitude float64) {
	c.culture.ShiftTowards(target, magnitude)
}
