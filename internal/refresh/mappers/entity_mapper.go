package mappers

import (
	"sort"

	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/ports"
)

// Identifiable is implemented by every entity an EntityMapper can hold. The
// comparable constraint lets the mapper detect nil pointers and identical
// re-adds without reflection.
type Identifiable interface {
	comparable
	EntityID() string
}

// EntityMapper is a per-entity-type bidirectional index of existing
// (persisted) and imported (incoming) entities by upstream ID, plus a side
// index of candidate (version-sharing) entities referenced by other owners.
//
// A mapper instance is cleared and repopulated for each refresh invocation; it
// holds no state across refreshes.
type EntityMapper[E Identifiable, I Identifiable] struct {
	existing   map[string]E
	imported   map[string]I
	candidates map[string][]E

	// dirty is set when an existing-entity mapping is overwritten with a
	// different entity, which indicates duplicate or stale owner references
	// in the backing store
	dirty bool
}

// NewEntityMapper creates an empty entity mapper
func NewEntityMapper[E Identifiable, I Identifiable]() *EntityMapper[E, I] {
	return &EntityMapper[E, I]{
		existing: make(map[string]E),
		imported: make(map[string]I),
	}
}

// AddExistingEntity adds a persisted entity keyed by its own declared ID.
// Returns whether a new mapping was created; overwriting a mapping with an
// identical entity returns false.
func (m *EntityMapper[E, I]) AddExistingEntity(entity E) (bool, error) {
	return m.AddExistingEntityWithID(entity.EntityID(), entity)
}

// AddExistingEntityWithID adds a persisted entity under the given ID
func (m *EntityMapper[E, I]) AddExistingEntityWithID(id string, entity E) (bool, error) {
	var zero E
	if entity == zero {
		return false, errors.Wrap(ports.ErrInvalidArgument, "entity is nil")
	}

	if id == "" {
		return false, errors.Wrap(ports.ErrInvalidArgument, "entity ID is null or empty")
	}

	previous, present := m.existing[id]
	if present && previous == entity {
		return false, nil
	}

	if present {
		m.dirty = true
	}

	m.existing[id] = entity
	return !present, nil
}

// AddExistingEntities adds a collection of persisted entities, silently
// skipping nil elements. Returns the number of new mappings created.
func (m *EntityMapper[E, I]) AddExistingEntities(entities []E) (int, error) {
	var zero E
	count := 0

	for _, entity := range entities {
		if entity == zero {
			continue
		}

		created, err := m.AddExistingEntity(entity)
		if err != nil {
			return count, err
		}

		if created {
			count++
		}
	}

	return count, nil
}

// AddImportedEntity adds an imported entity keyed by its own declared ID.
// Returns whether a new mapping was created; overwriting a mapping with an
// identical entity returns false.
func (m *EntityMapper[E, I]) AddImportedEntity(entity I) (bool, error) {
	var zero I
	if entity == zero {
		return false, errors.Wrap(ports.ErrInvalidArgument, "entity is nil")
	}

	id := entity.EntityID()
	if id == "" {
		return false, errors.Wrap(ports.ErrInvalidArgument, "entity ID is null or empty")
	}

	previous, present := m.imported[id]
	if present && previous == entity {
		return false, nil
	}

	m.imported[id] = entity
	return !present, nil
}

// AddImportedEntities adds a collection of imported entities, silently
// skipping nil elements. Returns the number of new mappings created.
func (m *EntityMapper[E, I]) AddImportedEntities(entities []I) (int, error) {
	var zero I
	count := 0

	for _, entity := range entities {
		if entity == zero {
			continue
		}

		created, err := m.AddImportedEntity(entity)
		if err != nil {
			return count, err
		}

		if created {
			count++
		}
	}

	return count, nil
}

// GetExistingEntity returns the persisted entity mapped to the given ID, or
// the zero value when no mapping exists
func (m *EntityMapper[E, I]) GetExistingEntity(id string) E {
	return m.existing[id]
}

// GetImportedEntity returns the imported entity mapped to the given ID, or
// the zero value when no mapping exists
func (m *EntityMapper[E, I]) GetImportedEntity(id string) I {
	return m.imported[id]
}

// ExistingEntities returns the full existing-entity mapping. The returned map
// is the mapper's own index and must not be modified.
func (m *EntityMapper[E, I]) ExistingEntities() map[string]E {
	return m.existing
}

// ImportedEntities returns the full imported-entity mapping. The returned map
// is the mapper's own index and must not be modified.
func (m *EntityMapper[E, I]) ImportedEntities() map[string]I {
	return m.imported
}

// EntityIDs returns the sorted union of existing and imported entity IDs
func (m *EntityMapper[E, I]) EntityIDs() []string {
	seen := make(map[string]struct{}, len(m.existing)+len(m.imported))
	for id := range m.existing {
		seen[id] = struct{}{}
	}
	for id := range m.imported {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// GetCandidateEntities returns the cross-owner version-candidate set for the
// given ID, or nil if none is configured
func (m *EntityMapper[E, I]) GetCandidateEntities(id string) []E {
	if m.candidates == nil {
		return nil
	}
	return m.candidates[id]
}

// SetCandidateEntitiesMap replaces the candidate side index wholesale.
// Returns whether the stored index changed as a result.
func (m *EntityMapper[E, I]) SetCandidateEntitiesMap(candidates map[string][]E) bool {
	changed := len(m.candidates) != 0 || len(candidates) != 0
	m.candidates = candidates
	return changed
}

// ClearExistingEntities wipes the existing-entity side of the mapper,
// preserving accumulated imports. Called at the start of each execution so a
// reused worker re-reads persisted state.
func (m *EntityMapper[E, I]) ClearExistingEntities() {
	m.existing = make(map[string]E)
	m.dirty = false
}

// Clear wipes the existing, imported, and candidate indexes
func (m *EntityMapper[E, I]) Clear() {
	m.existing = make(map[string]E)
	m.imported = make(map[string]I)
	m.candidates = nil
	m.dirty = false
}

// IsDirty reports whether any existing-entity mapping was overwritten with a
// different entity since the mapper was last cleared
func (m *EntityMapper[E, I]) IsDirty() bool {
	return m.dirty
}

// ContainsOnlyExistingEntities reports whether the mapper's existing-entity
// index holds exactly the given entities and nothing else
func (m *EntityMapper[E, I]) ContainsOnlyExistingEntities(entities []E) bool {
	var zero E

	matched := 0
	for _, entity := range entities {
		if entity == zero {
			continue
		}

		mapped, present := m.existing[entity.EntityID()]
		if !present || mapped != entity {
			return false
		}
		matched++
	}

	return matched == len(m.existing)
}
