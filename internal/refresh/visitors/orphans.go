package visitors

import (
	"context"
	"time"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/refresh/nodes"
)

// orphanTracker implements the grace-period bookkeeping shared by the product
// and content visitors. Orphan dates live on the owner's reference rows; the
// tracker bulk-fetches them lazily from the IDs precached during the process
// phase and accumulates the set/clear operations for the completion step.
//
// Grace period semantics: positive N deletes entities orphaned for more than
// N days, zero deletes on the refresh the entity becomes orphaned, negative
// never auto-deletes.
type orphanTracker struct {
	gracePeriod int
	now         func() time.Time
	fetch       func(ctx context.Context, ids []string) (map[string]time.Time, error)
	nodeLookup  func(nodes.Key) *nodes.Node

	precache map[string]struct{}
	dates    map[string]time.Time
	loaded   bool

	newlyOrphaned []string
	unorphaned    []string
}

func newOrphanTracker(gracePeriod int, now func() time.Time,
	fetch func(ctx context.Context, ids []string) (map[string]time.Time, error),
	nodeLookup func(nodes.Key) *nodes.Node) *orphanTracker {

	return &orphanTracker{
		gracePeriod: gracePeriod,
		now:         now,
		fetch:       fetch,
		nodeLookup:  nodeLookup,
		precache:    make(map[string]struct{}),
	}
}

// precacheID registers an existing entity ID for the bulk orphan-date fetch
func (t *orphanTracker) precacheID(id string) {
	t.precache[id] = struct{}{}
}

func (t *orphanTracker) orphanDate(ctx context.Context, id string) (*time.Time, error) {
	if !t.loaded {
		ids := make([]string, 0, len(t.precache))
		for pid := range t.precache {
			ids = append(ids, pid)
		}

		dates, err := t.fetch(ctx, ids)
		if err != nil {
			return nil, err
		}

		t.dates = dates
		t.loaded = true
	}

	if date, present := t.dates[id]; present {
		return &date, nil
	}
	return nil, nil
}

// clearedForDeletion checks whether the entity represented by the given node
// may be removed: it must be refresh-managed (locked), absent upstream, not
// referenced by any surviving parent, and past its orphan grace period.
// Entities failing the basic checks get any stale orphan date cleared;
// entities waiting out a positive grace period get their date stamped on the
// refresh that first orphans them.
func (t *orphanTracker) clearedForDeletion(ctx context.Context, node *nodes.Node, locked bool) (bool, error) {
	// Custom (unlocked) entities are never deleted by refresh.
	cleared := locked

	cleared = cleared && !node.HasImported()
	cleared = cleared && !t.hasLiveParent(node)
	cleared = cleared && t.gracePeriod >= 0

	if !cleared {
		// Entity is staying. Drop its orphaned date if one was set.
		date, err := t.orphanDate(ctx, node.Key.ID)
		if err != nil {
			return false, err
		}

		if date != nil {
			t.unorphaned = append(t.unorphaned, node.Key.ID)
		}

		return false, nil
	}

	if t.gracePeriod > 0 {
		date, err := t.orphanDate(ctx, node.Key.ID)
		if err != nil {
			return false, err
		}

		if date == nil {
			// First refresh to orphan this entity; stamp it and wait.
			t.newlyOrphaned = append(t.newlyOrphaned, node.Key.ID)
			return false, nil
		}

		cutoff := t.now().Add(-time.Duration(t.gracePeriod) * 24 * time.Hour)
		cleared = date.Before(cutoff)
	}

	return cleared, nil
}

// hasLiveParent reports whether any parent of the node survived pruning.
// Parents are pruned before their children, so parent states are final here.
func (t *orphanTracker) hasLiveParent(node *nodes.Node) bool {
	for _, key := range node.Parents() {
		if parent := t.nodeLookup(key); parent != nil && parent.State != models.EntityStateDeleted {
			return true
		}
	}
	return false
}
