package mem

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
)

// ownerRef is one owner-to-row reference with its orphan bookkeeping
type ownerRef struct {
	RowUUID       string
	OrphanedSince *time.Time
}

// state is the full entity store content. Product and content rows are keyed
// by surrogate UUID, pools by their row ID, owner references by owner then
// upstream entity ID.
type state struct {
	owners   map[string]models.Owner
	products map[string]*models.Product
	contents map[string]*models.Content
	pools    map[string]*models.Pool

	ownerProductRefs map[string]map[string]ownerRef
	ownerContentRefs map[string]map[string]ownerRef

	// Rows whose stored version stamp was cleared after a collision; exempt
	// from the uniqueness check until rewritten.
	clearedProductVersions map[string]struct{}
	clearedContentVersions map[string]struct{}
}

func newState() *state {
	return &state{
		owners:                 make(map[string]models.Owner),
		products:               make(map[string]*models.Product),
		contents:               make(map[string]*models.Content),
		pools:                  make(map[string]*models.Pool),
		ownerProductRefs:       make(map[string]map[string]ownerRef),
		ownerContentRefs:       make(map[string]map[string]ownerRef),
		clearedProductVersions: make(map[string]struct{}),
		clearedContentVersions: make(map[string]struct{}),
	}
}

func (s *state) clone() *state {
	out := newState()

	for k, v := range s.owners {
		out.owners[k] = v
	}
	for k, v := range s.products {
		out.products[k] = v.DeepCopy()
	}
	for k, v := range s.contents {
		out.contents[k] = v.DeepCopy()
	}
	for k, v := range s.pools {
		out.pools[k] = v.DeepCopy()
	}

	for owner, refs := range s.ownerProductRefs {
		out.ownerProductRefs[owner] = cloneRefs(refs)
	}
	for owner, refs := range s.ownerContentRefs {
		out.ownerContentRefs[owner] = cloneRefs(refs)
	}

	for k := range s.clearedProductVersions {
		out.clearedProductVersions[k] = struct{}{}
	}
	for k := range s.clearedContentVersions {
		out.clearedContentVersions[k] = struct{}{}
	}

	return out
}

func cloneRefs(refs map[string]ownerRef) map[string]ownerRef {
	out := make(map[string]ownerRef, len(refs))
	for k, v := range refs {
		if v.OrphanedSince != nil {
			stamp := *v.OrphanedSince
			v.OrphanedSince = &stamp
		}
		out[k] = v
	}
	return out
}

// checkVersionConstraints enforces the unique (upstream ID, entity version)
// index the pg store carries. Rows with a cleared version stamp are exempt.
func (s *state) checkVersionConstraints() error {
	type versionKey struct {
		id      string
		version uint64
	}

	seen := make(map[versionKey]string, len(s.products))
	for rowUUID, product := range s.products {
		if _, cleared := s.clearedProductVersions[rowUUID]; cleared {
			continue
		}

		key := versionKey{id: product.ID, version: product.EntityVersion()}
		if prior, present := seen[key]; present && prior != rowUUID {
			return errors.Wrapf(ports.ErrEntityVersionConstraint,
				"duplicate version for product %q", product.ID)
		}
		seen[key] = rowUUID
	}

	seen = make(map[versionKey]string, len(s.contents))
	for rowUUID, content := range s.contents {
		if _, cleared := s.clearedContentVersions[rowUUID]; cleared {
			continue
		}

		key := versionKey{id: content.ID, version: content.EntityVersion()}
		if prior, present := seen[key]; present && prior != rowUUID {
			return errors.Wrapf(ports.ErrEntityVersionConstraint,
				"duplicate version for content %q", content.ID)
		}
		seen[key] = rowUUID
	}

	return nil
}

// productReferenced reports whether any owner references the given row
func (s *state) productReferenced(rowUUID string) bool {
	for _, refs := range s.ownerProductRefs {
		for _, ref := range refs {
			if ref.RowUUID == rowUUID {
				return true
			}
		}
	}
	return false
}

func (s *state) contentReferenced(rowUUID string) bool {
	for _, refs := range s.ownerContentRefs {
		for _, ref := range refs {
			if ref.RowUUID == rowUUID {
				return true
			}
		}
	}
	return false
}

// MemDB is an in-memory entity store
type MemDB struct {
	state *state
	mu    sync.RWMutex

	locks  map[string]*sync.Mutex
	lockMu sync.Mutex
}

// NewMemDB creates an empty in-memory database
func NewMemDB() *MemDB {
	return &MemDB{
		state: newState(),
		locks: make(map[string]*sync.Mutex),
	}
}

// systemLock returns the named coarse lock, creating it on first use
func (db *MemDB) systemLock(name string) *sync.Mutex {
	db.lockMu.Lock()
	defer db.lockMu.Unlock()

	lock, present := db.locks[name]
	if !present {
		lock = &sync.Mutex{}
		db.locks[name] = lock
	}
	return lock
}
