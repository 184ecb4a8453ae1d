package models

// Owner represents the organization under which pools are scoped. Products and
// content referenced by an owner's pools may be shared with other owners when
// they are structurally identical (version-shared).
type Owner struct {
	ID          string
	Key         string
	DisplayName string
}

// NewOwner creates a new owner with the given id and key
func NewOwner(id, key string) *Owner {
	return &Owner{
		ID:  id,
		Key: key,
	}
}
