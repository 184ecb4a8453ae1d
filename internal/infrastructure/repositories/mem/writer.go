package mem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
)

// Compile-time check that Writer implements ports.Writer
var _ ports.Writer = (*Writer)(nil)

// Writer is an in-memory transaction. Every operation is applied to the
// writer's private overlay immediately, recorded in an operation log, and
// replayed against the live store on Commit. The log doubles as a
// persistence-order trace, exported through Ops for tests asserting write
// ordering.
type Writer struct {
	db      *MemDB
	overlay *state

	ops  []op
	held map[string]*sync.Mutex
	done bool
}

type op struct {
	desc  string
	apply func(s *state)
}

func (w *Writer) record(desc string, apply func(s *state)) {
	apply(w.overlay)
	w.ops = append(w.ops, op{desc: desc, apply: apply})
}

// Ops returns the descriptions of all operations recorded so far, in
// execution order
func (w *Writer) Ops() []string {
	out := make([]string, 0, len(w.ops))
	for _, o := range w.ops {
		out = append(out, o.desc)
	}
	return out
}

// GetSystemLock acquires the named coarse lock until Commit or Abort
func (w *Writer) GetSystemLock(_ context.Context, name string) error {
	if _, holding := w.held[name]; holding {
		return nil
	}

	lock := w.db.systemLock(name)
	lock.Lock()
	w.held[name] = lock
	return nil
}

func (w *Writer) EnsureOwner(_ context.Context, owner *models.Owner) error {
	row := *owner
	w.record(fmt.Sprintf("ensure owner %s", owner.ID), func(s *state) {
		if _, present := s.owners[row.ID]; !present {
			s.owners[row.ID] = row
		}
	})
	return nil
}

func (w *Writer) CreateProduct(_ context.Context, product *models.Product) error {
	row := product.DeepCopy()
	w.record(fmt.Sprintf("create product %s", product.ID), func(s *state) {
		s.products[row.UUID] = row
		delete(s.clearedProductVersions, row.UUID)
	})
	return nil
}

func (w *Writer) CreateContent(_ context.Context, content *models.Content) error {
	row := content.DeepCopy()
	w.record(fmt.Sprintf("create content %s", content.ID), func(s *state) {
		s.contents[row.UUID] = row
		delete(s.clearedContentVersions, row.UUID)
	})
	return nil
}

func (w *Writer) CreatePool(_ context.Context, pool *models.Pool) error {
	row := pool.DeepCopy()
	w.record(fmt.Sprintf("create pool %s", pool.SubscriptionID), func(s *state) {
		s.pools[row.ID] = row
	})
	return nil
}

func (w *Writer) UpdateProduct(_ context.Context, product *models.Product) error {
	if _, present := w.overlay.products[product.UUID]; !present {
		return errors.Wrapf(ports.ErrNotFound, "product row %s", product.UUID)
	}

	row := product.DeepCopy()
	w.record(fmt.Sprintf("update product %s", product.ID), func(s *state) {
		s.products[row.UUID] = row
		delete(s.clearedProductVersions, row.UUID)
	})
	return nil
}

func (w *Writer) UpdateContent(_ context.Context, content *models.Content) error {
	if _, present := w.overlay.contents[content.UUID]; !present {
		return errors.Wrapf(ports.ErrNotFound, "content row %s", content.UUID)
	}

	row := content.DeepCopy()
	w.record(fmt.Sprintf("update content %s", content.ID), func(s *state) {
		s.contents[row.UUID] = row
		delete(s.clearedContentVersions, row.UUID)
	})
	return nil
}

func (w *Writer) UpdatePool(_ context.Context, pool *models.Pool) error {
	if _, present := w.overlay.pools[pool.ID]; !present {
		return errors.Wrapf(ports.ErrNotFound, "pool row %s", pool.ID)
	}

	row := pool.DeepCopy()
	w.record(fmt.Sprintf("update pool %s", pool.SubscriptionID), func(s *state) {
		s.pools[row.ID] = row
	})
	return nil
}

func (w *Writer) DeletePoolsByIDs(_ context.Context, ids []string) error {
	rowIDs := append([]string(nil), ids...)
	w.record(fmt.Sprintf("delete pools %v", ids), func(s *state) {
		for _, id := range rowIDs {
			delete(s.pools, id)
		}
	})
	return nil
}

func (w *Writer) ClearProductEntityVersion(_ context.Context, rowUUID string) error {
	w.record(fmt.Sprintf("clear product version %s", rowUUID), func(s *state) {
		s.clearedProductVersions[rowUUID] = struct{}{}
	})
	return nil
}

func (w *Writer) ClearContentEntityVersion(_ context.Context, rowUUID string) error {
	w.record(fmt.Sprintf("clear content version %s", rowUUID), func(s *state) {
		s.clearedContentVersions[rowUUID] = struct{}{}
	})
	return nil
}

func (w *Writer) DeleteProductsByUUIDs(_ context.Context, uuids []string) error {
	rowUUIDs := append([]string(nil), uuids...)
	w.record(fmt.Sprintf("delete products %v", uuids), func(s *state) {
		for _, rowUUID := range rowUUIDs {
			if s.productReferenced(rowUUID) {
				continue
			}
			delete(s.products, rowUUID)
			delete(s.clearedProductVersions, rowUUID)
		}
	})
	return nil
}

func (w *Writer) DeleteContentByUUIDs(_ context.Context, uuids []string) error {
	rowUUIDs := append([]string(nil), uuids...)
	w.record(fmt.Sprintf("delete content %v", uuids), func(s *state) {
		for _, rowUUID := range rowUUIDs {
			if s.contentReferenced(rowUUID) {
				continue
			}
			delete(s.contents, rowUUID)
			delete(s.clearedContentVersions, rowUUID)
		}
	})
	return nil
}

func (w *Writer) UpsertOwnerProductRefs(_ context.Context, ownerID string, refs map[string]string) error {
	staged := make(map[string]string, len(refs))
	for id, rowUUID := range refs {
		staged[id] = rowUUID
	}

	w.record(fmt.Sprintf("upsert owner %s product refs", ownerID), func(s *state) {
		upsertRefs(s.ownerProductRefs, ownerID, staged)
	})
	return nil
}

func (w *Writer) UpsertOwnerContentRefs(_ context.Context, ownerID string, refs map[string]string) error {
	staged := make(map[string]string, len(refs))
	for id, rowUUID := range refs {
		staged[id] = rowUUID
	}

	w.record(fmt.Sprintf("upsert owner %s content refs", ownerID), func(s *state) {
		upsertRefs(s.ownerContentRefs, ownerID, staged)
	})
	return nil
}

func (w *Writer) RemoveOwnerProductRefs(_ context.Context, ownerID string, ids []string) error {
	staged := append([]string(nil), ids...)
	w.record(fmt.Sprintf("remove owner %s product refs", ownerID), func(s *state) {
		for _, id := range staged {
			delete(s.ownerProductRefs[ownerID], id)
		}
	})
	return nil
}

func (w *Writer) RemoveOwnerContentRefs(_ context.Context, ownerID string, ids []string) error {
	staged := append([]string(nil), ids...)
	w.record(fmt.Sprintf("remove owner %s content refs", ownerID), func(s *state) {
		for _, id := range staged {
			delete(s.ownerContentRefs[ownerID], id)
		}
	})
	return nil
}

func (w *Writer) SetProductOrphanDates(_ context.Context, ownerID string, ids []string, orphanedSince *time.Time) error {
	staged := append([]string(nil), ids...)
	stamp := copyStamp(orphanedSince)
	w.record(fmt.Sprintf("set owner %s product orphan dates", ownerID), func(s *state) {
		setOrphanDates(s.ownerProductRefs, ownerID, staged, stamp)
	})
	return nil
}

func (w *Writer) SetContentOrphanDates(_ context.Context, ownerID string, ids []string, orphanedSince *time.Time) error {
	staged := append([]string(nil), ids...)
	stamp := copyStamp(orphanedSince)
	w.record(fmt.Sprintf("set owner %s content orphan dates", ownerID), func(s *state) {
		setOrphanDates(s.ownerContentRefs, ownerID, staged, stamp)
	})
	return nil
}

func (w *Writer) RebuildOwnerProductRefs(_ context.Context, ownerID string, refs map[string]string) error {
	staged := make(map[string]string, len(refs))
	for id, rowUUID := range refs {
		staged[id] = rowUUID
	}

	w.record(fmt.Sprintf("rebuild owner %s product refs", ownerID), func(s *state) {
		s.ownerProductRefs[ownerID] = make(map[string]ownerRef, len(staged))
		upsertRefs(s.ownerProductRefs, ownerID, staged)
	})
	return nil
}

func (w *Writer) RebuildOwnerContentRefs(_ context.Context, ownerID string, refs map[string]string) error {
	staged := make(map[string]string, len(refs))
	for id, rowUUID := range refs {
		staged[id] = rowUUID
	}

	w.record(fmt.Sprintf("rebuild owner %s content refs", ownerID), func(s *state) {
		s.ownerContentRefs[ownerID] = make(map[string]ownerRef, len(staged))
		upsertRefs(s.ownerContentRefs, ownerID, staged)
	})
	return nil
}

// Commit replays the operation log against the live store and enforces the
// version constraint over the result. On a violation the store is restored
// and ErrEntityVersionConstraint surfaces, mirroring a pg 23505.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}

	w.db.mu.Lock()
	defer w.db.mu.Unlock()

	backup := w.db.state.clone()
	for _, o := range w.ops {
		o.apply(w.db.state)
	}

	if err := w.db.state.checkVersionConstraints(); err != nil {
		w.db.state = backup
		w.release()
		return err
	}

	w.release()
	return nil
}

// Abort releases the transaction without applying anything. Safe after
// Commit.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.release()
}

func (w *Writer) release() {
	w.done = true
	for _, lock := range w.held {
		lock.Unlock()
	}
	w.held = make(map[string]*sync.Mutex)
}

func upsertRefs(refsByOwner map[string]map[string]ownerRef, ownerID string, refs map[string]string) {
	ownerRefs := refsByOwner[ownerID]
	if ownerRefs == nil {
		ownerRefs = make(map[string]ownerRef, len(refs))
		refsByOwner[ownerID] = ownerRefs
	}

	for id, rowUUID := range refs {
		ref := ownerRefs[id]
		ref.RowUUID = rowUUID
		ownerRefs[id] = ref
	}
}

func setOrphanDates(refsByOwner map[string]map[string]ownerRef, ownerID string, ids []string, stamp *time.Time) {
	ownerRefs := refsByOwner[ownerID]
	if ownerRefs == nil {
		return
	}

	for _, id := range ids {
		ref, present := ownerRefs[id]
		if !present {
			continue
		}
		ref.OrphanedSince = copyStamp(stamp)
		ownerRefs[id] = ref
	}
}

func copyStamp(stamp *time.Time) *time.Time {
	if stamp == nil {
		return nil
	}
	out := *stamp
	return &out
}
