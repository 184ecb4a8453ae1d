package models

// Content represents a persisted content entity. Content rows are globally
// deduplicated: two owners whose imports produce structurally identical content
// resolve to a single row, linked through their owner-content references.
type Content struct {
	// UUID is the system-generated surrogate key of the persisted row.
	UUID string

	// ID is the stable upstream (Red Hat style) content identifier.
	ID string

	Type           string
	Label          string
	Name           string
	Vendor         string
	ContentURL     string
	GPGURL         string
	Arches         string
	ReleaseVer     string
	RequiredTags   string
	MetadataExpire int64

	ModifiedProductIDs []string

	// Locked is set on rows managed by refresh. Unlocked rows are custom,
	// locally-created entities and are never removed by orphan cleanup.
	Locked bool
}

// EntityID returns the upstream content identifier. Nil-safe.
func (c *Content) EntityID() string {
	if c == nil {
		return ""
	}
	return c.ID
}

// EntityVersion returns the structural version signature of this content
func (c *Content) EntityVersion() uint64 {
	return hashPayload(c.versionPayload())
}

// DeepCopy creates a deep copy of the content
func (c *Content) DeepCopy() *Content {
	if c == nil {
		return nil
	}

	out := *c
	if c.ModifiedProductIDs != nil {
		out.ModifiedProductIDs = append([]string(nil), c.ModifiedProductIDs...)
	}

	return &out
}
