package social

import "github.com/talgya/demesne/internal/demographics"

// ProvinceID is a unique identifier for a province.
type ProvinceID = uint32

// Province is one region of a nation and the communities living in it.
type Province struct {
	ID          ProvinceID `json:"id"`
	NationID    NationID   `json:"nation_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`

	// Replaced wholesale each year; never edited in place.
	Population demographics.Demographics `json:"-"`
}
