package social

// ResourceID is a unique identifier for a resource.
type ResourceID = uint32

// Resource is a named good known to the world.
type Resource struct {
	ID          ResourceID `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
}
