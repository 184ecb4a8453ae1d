package mem

import (
	"context"
	"time"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
)

// Compile-time check that reader implements ports.Reader
var _ ports.Reader = (*reader)(nil)

// reader reads either the committed store state or, when derived from a
// writer, that writer's uncommitted overlay
type reader struct {
	db      *MemDB
	overlay *state
}

// view runs fn against the reader's state under the appropriate locking.
// Overlay readers are used from the single goroutine owning the writer and
// need no lock.
func (r *reader) view(fn func(s *state) error) error {
	if r.overlay != nil {
		return fn(r.overlay)
	}

	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return fn(r.db.state)
}

func (r *reader) ListPools(_ context.Context, consume func(models.Pool) error, scope ports.Scope) error {
	return r.view(func(s *state) error {
		for _, pool := range s.pools {
			if !poolInScope(pool, scope) {
				continue
			}
			if err := consume(*pool.DeepCopy()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *reader) ListProducts(_ context.Context, consume func(models.Product) error, scope ports.Scope) error {
	return r.view(func(s *state) error {
		for rowUUID, product := range s.products {
			if !rowInScope(s.ownerProductRefs, rowUUID, product.ID, scope) {
				continue
			}
			if err := consume(*product.DeepCopy()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *reader) ListContent(_ context.Context, consume func(models.Content) error, scope ports.Scope) error {
	return r.view(func(s *state) error {
		for rowUUID, content := range s.contents {
			if !rowInScope(s.ownerContentRefs, rowUUID, content.ID, scope) {
				continue
			}
			if err := consume(*content.DeepCopy()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *reader) GetVersionedProducts(_ context.Context, excludeOwnerID string, ids []string) (map[string][]*models.Product, error) {
	idSet := stringSet(ids)
	out := make(map[string][]*models.Product)

	err := r.view(func(s *state) error {
		excluded := s.ownerProductRefs[excludeOwnerID]

		for rowUUID, product := range s.products {
			if _, wanted := idSet[product.ID]; !wanted {
				continue
			}
			if _, cleared := s.clearedProductVersions[rowUUID]; cleared {
				continue
			}
			if ref, present := excluded[product.ID]; present && ref.RowUUID == rowUUID {
				continue
			}
			out[product.ID] = append(out[product.ID], product.DeepCopy())
		}
		return nil
	})

	return out, err
}

func (r *reader) GetVersionedContent(_ context.Context, excludeOwnerID string, ids []string) (map[string][]*models.Content, error) {
	idSet := stringSet(ids)
	out := make(map[string][]*models.Content)

	err := r.view(func(s *state) error {
		excluded := s.ownerContentRefs[excludeOwnerID]

		for rowUUID, content := range s.contents {
			if _, wanted := idSet[content.ID]; !wanted {
				continue
			}
			if _, cleared := s.clearedContentVersions[rowUUID]; cleared {
				continue
			}
			if ref, present := excluded[content.ID]; present && ref.RowUUID == rowUUID {
				continue
			}
			out[content.ID] = append(out[content.ID], content.DeepCopy())
		}
		return nil
	})

	return out, err
}

func (r *reader) GetProductOwnerCounts(_ context.Context, uuids []string) (map[string]int, error) {
	return r.ownerCounts(uuids, func(s *state) map[string]map[string]ownerRef {
		return s.ownerProductRefs
	})
}

func (r *reader) GetContentOwnerCounts(_ context.Context, uuids []string) (map[string]int, error) {
	return r.ownerCounts(uuids, func(s *state) map[string]map[string]ownerRef {
		return s.ownerContentRefs
	})
}

func (r *reader) ownerCounts(uuids []string,
	refs func(s *state) map[string]map[string]ownerRef) (map[string]int, error) {

	uuidSet := stringSet(uuids)
	out := make(map[string]int, len(uuids))

	err := r.view(func(s *state) error {
		for _, ownerRefs := range refs(s) {
			counted := make(map[string]struct{}, len(ownerRefs))
			for _, ref := range ownerRefs {
				if _, wanted := uuidSet[ref.RowUUID]; !wanted {
					continue
				}
				// One owner counts once per row, however many IDs map to it.
				if _, done := counted[ref.RowUUID]; done {
					continue
				}
				counted[ref.RowUUID] = struct{}{}
				out[ref.RowUUID]++
			}
		}
		return nil
	})

	return out, err
}

func (r *reader) GetProductOrphanDates(_ context.Context, ownerID string, ids []string) (map[string]time.Time, error) {
	return r.orphanDates(ownerID, ids, func(s *state) map[string]map[string]ownerRef {
		return s.ownerProductRefs
	})
}

func (r *reader) GetContentOrphanDates(_ context.Context, ownerID string, ids []string) (map[string]time.Time, error) {
	return r.orphanDates(ownerID, ids, func(s *state) map[string]map[string]ownerRef {
		return s.ownerContentRefs
	})
}

func (r *reader) orphanDates(ownerID string, ids []string,
	refs func(s *state) map[string]map[string]ownerRef) (map[string]time.Time, error) {

	out := make(map[string]time.Time)

	err := r.view(func(s *state) error {
		ownerRefs := refs(s)[ownerID]
		for _, id := range ids {
			if ref, present := ownerRefs[id]; present && ref.OrphanedSince != nil {
				out[id] = *ref.OrphanedSince
			}
		}
		return nil
	})

	return out, err
}

func (r *reader) Close() error {
	return nil
}

func poolInScope(pool *models.Pool, scope ports.Scope) bool {
	switch s := scope.(type) {
	case ports.OwnerScope:
		return pool.OwnerID == s.OwnerID
	case ports.IDScope:
		for _, id := range s.IDs {
			if pool.SubscriptionID == id {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// rowInScope resolves owner scoping through the owner reference table
func rowInScope(refsByOwner map[string]map[string]ownerRef, rowUUID, entityID string, scope ports.Scope) bool {
	switch s := scope.(type) {
	case ports.OwnerScope:
		ref, present := refsByOwner[s.OwnerID][entityID]
		return present && ref.RowUUID == rowUUID
	case ports.IDScope:
		for _, id := range s.IDs {
			if entityID == id {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func stringSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
