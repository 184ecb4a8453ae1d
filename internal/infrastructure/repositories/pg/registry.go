package pg

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"entitle-pg-backend/internal/domain/ports"
)

// Compile-time check that Registry implements ports.Registry
var _ ports.Registry = (*Registry)(nil)

// Registry is the PostgreSQL-backed registry. Writers run in RepeatableRead
// transactions; the unique index on (entity id, entity_version) arbitrates
// concurrent refreshes racing on shared rows.
type Registry struct {
	pool *pgxpool.Pool
	mu   sync.RWMutex
}

// NewRegistryFromURI creates a PostgreSQL registry from a connection URI
func NewRegistryFromURI(ctx context.Context, uri string) (*Registry, error) {
	conf, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parsing PostgreSQL URI")
	}

	conf.MaxConns = 16
	conf.MinConns = 2
	conf.MaxConnLifetime = 2 * time.Hour
	conf.MaxConnIdleTime = 15 * time.Minute
	conf.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, errors.Wrap(err, "creating PostgreSQL pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging PostgreSQL")
	}

	klog.V(4).Infof("PostgreSQL registry connected to %s", conf.ConnConfig.Host)

	return &Registry{pool: pool}, nil
}

// Writer begins a RepeatableRead transaction and returns a writer over it
func (r *Registry) Writer(ctx context.Context) (ports.Writer, error) {
	r.mu.RLock()
	pool := r.pool
	r.mu.RUnlock()

	if pool == nil {
		return nil, errors.New("registry is closed")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}

	return &Writer{tx: tx}, nil
}

// Reader returns a pool-backed reader over committed state
func (r *Registry) Reader(ctx context.Context) (ports.Reader, error) {
	r.mu.RLock()
	pool := r.pool
	r.mu.RUnlock()

	if pool == nil {
		return nil, errors.New("registry is closed")
	}

	return &reader{pool: pool}, nil
}

// ReaderFromWriter returns a reader sharing the writer's transaction, so it
// observes the writer's uncommitted changes
func (r *Registry) ReaderFromWriter(ctx context.Context, writer ports.Writer) (ports.Reader, error) {
	w, ok := writer.(*Writer)
	if !ok {
		return nil, errors.New("writer does not belong to this registry")
	}

	return &reader{tx: w.tx}, nil
}

// Close closes the backing connection pool
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	return nil
}
