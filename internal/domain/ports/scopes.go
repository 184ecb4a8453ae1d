package ports

import (
	"fmt"
	"strings"
)

// EmptyScope represents an unrestricted scope
type EmptyScope struct{}

// IsEmpty returns true for EmptyScope
func (EmptyScope) IsEmpty() bool {
	return true
}

// String returns a string representation of EmptyScope
func (EmptyScope) String() string {
	return "empty"
}

// OwnerScope restricts an operation to entities referenced by a single owner
type OwnerScope struct {
	OwnerID string
}

// IsEmpty returns true if no owner is set
func (s OwnerScope) IsEmpty() bool {
	return s.OwnerID == ""
}

// String returns a string representation of OwnerScope
func (s OwnerScope) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("owner(%s)", s.OwnerID)
}

// NewOwnerScope creates a new OwnerScope for the given owner ID
func NewOwnerScope(ownerID string) OwnerScope {
	return OwnerScope{OwnerID: ownerID}
}

// IDScope restricts an operation to entities with the given upstream IDs
type IDScope struct {
	IDs []string
}

// IsEmpty returns true if IDScope holds no IDs
func (s IDScope) IsEmpty() bool {
	return len(s.IDs) == 0
}

// String returns a string representation of IDScope
func (s IDScope) String() string {
	if s.IsEmpty() {
		return "empty"
	}
	return fmt.Sprintf("ids(%s)", strings.Join(s.IDs, ","))
}

// NewIDScope creates a new IDScope with the given IDs
func NewIDScope(ids ...string) IDScope {
	return IDScope{IDs: ids}
}
