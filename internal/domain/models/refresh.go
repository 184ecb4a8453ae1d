package models

import "fmt"

// EntityState describes the outcome of reconciling one logical entity
type EntityState int

const (
	// EntityStateUnset marks a node that has not been processed yet
	EntityStateUnset EntityState = iota

	// EntityStateCreated marks an entity that did not exist locally and was created
	EntityStateCreated

	// EntityStateUpdated marks an entity whose local representation was replaced or updated
	EntityStateUpdated

	// EntityStateDeleted marks an entity that was removed during orphan cleanup
	EntityStateDeleted

	// EntityStateUnchanged marks an entity left as-is, including entities
	// resolved to an existing version-shared row
	EntityStateUnchanged
)

// String returns a string representation of the entity state
func (s EntityState) String() string {
	switch s {
	case EntityStateCreated:
		return "created"
	case EntityStateUpdated:
		return "updated"
	case EntityStateDeleted:
		return "deleted"
	case EntityStateUnchanged:
		return "unchanged"
	default:
		return "unset"
	}
}

// RefreshCounts holds per-state entity counts for one entity type
type RefreshCounts struct {
	Created   int
	Updated   int
	Deleted   int
	Unchanged int
}

// String returns a string representation of the counts
func (c RefreshCounts) String() string {
	return fmt.Sprintf("created=%d updated=%d deleted=%d unchanged=%d",
		c.Created, c.Updated, c.Deleted, c.Unchanged)
}

func (c *RefreshCounts) add(state EntityState) {
	switch state {
	case EntityStateCreated:
		c.Created++
	case EntityStateUpdated:
		c.Updated++
	case EntityStateDeleted:
		c.Deleted++
	case EntityStateUnchanged:
		c.Unchanged++
	}
}

// RefreshedEntity pairs a finalized entity with its reconciliation outcome
type RefreshedEntity[T any] struct {
	Entity T
	State  EntityState
}

// RefreshResult is the outcome of one refresh execution: the finalized
// entities keyed by upstream ID, each paired with its reconciliation state
type RefreshResult struct {
	Pools    map[string]RefreshedEntity[*Pool]
	Products map[string]RefreshedEntity[*Product]
	Content  map[string]RefreshedEntity[*Content]
}

// NewRefreshResult creates an empty refresh result
func NewRefreshResult() *RefreshResult {
	return &RefreshResult{
		Pools:    make(map[string]RefreshedEntity[*Pool]),
		Products: make(map[string]RefreshedEntity[*Product]),
		Content:  make(map[string]RefreshedEntity[*Content]),
	}
}

// AddPool records the reconciliation outcome for a pool
func (r *RefreshResult) AddPool(id string, pool *Pool, state EntityState) {
	r.Pools[id] = RefreshedEntity[*Pool]{Entity: pool, State: state}
}

// AddProduct records the reconciliation outcome for a product
func (r *RefreshResult) AddProduct(id string, product *Product, state EntityState) {
	r.Products[id] = RefreshedEntity[*Product]{Entity: product, State: state}
}

// AddContent records the reconciliation outcome for a content entity
func (r *RefreshResult) AddContent(id string, content *Content, state EntityState) {
	r.Content[id] = RefreshedEntity[*Content]{Entity: content, State: state}
}

// PoolCounts returns per-state counts for pools
func (r *RefreshResult) PoolCounts() RefreshCounts {
	var counts RefreshCounts
	for _, e := range r.Pools {
		counts.add(e.State)
	}
	return counts
}

// ProductCounts returns per-state counts for products
func (r *RefreshResult) ProductCounts() RefreshCounts {
	var counts RefreshCounts
	for _, e := range r.Products {
		counts.add(e.State)
	}
	return counts
}

// ContentCounts returns per-state counts for content
func (r *RefreshResult) ContentCounts() RefreshCounts {
	var counts RefreshCounts
	for _, e := range r.Content {
		counts.add(e.State)
	}
	return counts
}

// ProductUUIDMap returns the upstream-ID to surrogate-UUID mapping for all
// products in one of the given states. Used to rebuild owner-product
// references when dirty mappings are detected.
func (r *RefreshResult) ProductUUIDMap(states ...EntityState) map[string]string {
	out := make(map[string]string)
	for id, e := range r.Products {
		if e.Entity != nil && stateIn(e.State, states) {
			out[id] = e.Entity.UUID
		}
	}
	return out
}

// ContentUUIDMap returns the upstream-ID to surrogate-UUID mapping for all
// content entities in one of the given states
func (r *RefreshResult) ContentUUIDMap(states ...EntityState) map[string]string {
	out := make(map[string]string)
	for id, e := range r.Content {
		if e.Entity != nil && stateIn(e.State, states) {
			out[id] = e.Entity.UUID
		}
	}
	return out
}

func stateIn(state EntityState, states []EntityState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
