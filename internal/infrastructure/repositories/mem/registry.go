package mem

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/ports"
)

// Compile-time check that Registry implements ports.Registry
var _ ports.Registry = (*Registry)(nil)

// Registry is an in-memory implementation of the Registry interface, used by
// tests and the CLI's memory mode. Writers are snapshot-isolated: each writer
// works on a private copy of the store and replays its operations against the
// live state on Commit, where the version constraint is enforced the way the
// pg unique index would.
type Registry struct {
	db     *MemDB
	mu     sync.RWMutex
	closed bool
}

// NewRegistry creates a new in-memory registry
func NewRegistry() *Registry {
	return &Registry{
		db: NewMemDB(),
	}
}

// Writer returns a new writer over a private snapshot of the store
func (r *Registry) Writer(ctx context.Context) (ports.Writer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errors.New("registry is closed")
	}

	r.db.mu.RLock()
	overlay := r.db.state.clone()
	r.db.mu.RUnlock()

	return &Writer{
		db:      r.db,
		overlay: overlay,
		held:    make(map[string]*sync.Mutex),
	}, nil
}

// Reader returns a reader over the committed store state
func (r *Registry) Reader(ctx context.Context) (ports.Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errors.New("registry is closed")
	}

	return &reader{db: r.db}, nil
}

// ReaderFromWriter returns a reader that observes the writer's uncommitted
// changes
func (r *Registry) ReaderFromWriter(ctx context.Context, writer ports.Writer) (ports.Reader, error) {
	w, ok := writer.(*Writer)
	if !ok {
		return nil, errors.New("writer does not belong to this registry")
	}

	return &reader{db: r.db, overlay: w.overlay}, nil
}

// Close closes the registry
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
