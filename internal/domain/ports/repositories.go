package ports

import (
	"context"
	"time"

	"entitle-pg-backend/internal/domain/models"
)

// System lock names serializing refresh against concurrent orphan cleanup
const (
	ProductSystemLock = "products"
	ContentSystemLock = "content"
)

type (
	// Scope defines the scope of list operations
	Scope interface {
		IsEmpty() bool
		String() string
	}

	// Reader defines read operations against the entity store
	Reader interface {
		// List methods with scope. Product and content listings resolve child
		// references, so listed products carry fully wired subtrees.
		ListPools(ctx context.Context, consume func(models.Pool) error, scope Scope) error
		ListProducts(ctx context.Context, consume func(models.Product) error, scope Scope) error
		ListContent(ctx context.Context, consume func(models.Content) error, scope Scope) error

		// GetVersionedProducts returns, for each of the given upstream product
		// IDs, the persisted candidate rows that another owner may already
		// share. Rows currently referenced by excludeOwnerID are omitted.
		GetVersionedProducts(ctx context.Context, excludeOwnerID string, ids []string) (map[string][]*models.Product, error)

		// GetVersionedContent is the content analog of GetVersionedProducts
		GetVersionedContent(ctx context.Context, excludeOwnerID string, ids []string) (map[string][]*models.Content, error)

		// GetProductOwnerCounts returns the number of owners referencing each
		// of the given product rows
		GetProductOwnerCounts(ctx context.Context, uuids []string) (map[string]int, error)

		// GetContentOwnerCounts is the content analog of GetProductOwnerCounts
		GetContentOwnerCounts(ctx context.Context, uuids []string) (map[string]int, error)

		// GetProductOrphanDates returns the orphaned-since stamps recorded on
		// the owner's product references, keyed by upstream product ID.
		// Entities without a stamp are absent from the result.
		GetProductOrphanDates(ctx context.Context, ownerID string, ids []string) (map[string]time.Time, error)

		// GetContentOrphanDates is the content analog of GetProductOrphanDates
		GetContentOrphanDates(ctx context.Context, ownerID string, ids []string) (map[string]time.Time, error)

		Close() error
	}

	// Writer defines write operations against the entity store. A writer
	// represents one transaction; nothing is visible to other readers until
	// Commit.
	Writer interface {
		// GetSystemLock acquires the named coarse advisory lock for the
		// remainder of the transaction (pessimistic read)
		GetSystemLock(ctx context.Context, name string) error

		// EnsureOwner creates the owner row if it does not exist yet
		EnsureOwner(ctx context.Context, owner *models.Owner) error

		CreateProduct(ctx context.Context, product *models.Product) error
		CreateContent(ctx context.Context, content *models.Content) error
		CreatePool(ctx context.Context, pool *models.Pool) error

		// UpdateProduct replaces the stored row identified by product.UUID in
		// place. Only legal when the row is referenced by a single owner.
		UpdateProduct(ctx context.Context, product *models.Product) error
		UpdateContent(ctx context.Context, content *models.Content) error
		UpdatePool(ctx context.Context, pool *models.Pool) error

		DeletePoolsByIDs(ctx context.Context, ids []string) error

		// ClearProductEntityVersion nulls the stored version signature on the
		// given row. Used to self-heal when a persisted row's signature
		// collides with a structurally different incoming entity; the row is
		// recomputed on its next refresh.
		ClearProductEntityVersion(ctx context.Context, rowUUID string) error
		ClearContentEntityVersion(ctx context.Context, rowUUID string) error

		// DeleteProductsByUUIDs removes the given product rows, skipping any
		// row still referenced by an owner. Safe to call with rows that may
		// have been picked up by a concurrent refresh.
		DeleteProductsByUUIDs(ctx context.Context, uuids []string) error
		DeleteContentByUUIDs(ctx context.Context, uuids []string) error

		// UpsertOwnerProductRefs points the owner's references at the given
		// rows: refs maps upstream product ID to row UUID
		UpsertOwnerProductRefs(ctx context.Context, ownerID string, refs map[string]string) error
		UpsertOwnerContentRefs(ctx context.Context, ownerID string, refs map[string]string) error

		RemoveOwnerProductRefs(ctx context.Context, ownerID string, ids []string) error
		RemoveOwnerContentRefs(ctx context.Context, ownerID string, ids []string) error

		// SetProductOrphanDates stamps (or clears, when orphanedSince is nil)
		// the orphaned-since date on the owner's references to the given IDs
		SetProductOrphanDates(ctx context.Context, ownerID string, ids []string, orphanedSince *time.Time) error
		SetContentOrphanDates(ctx context.Context, ownerID string, ids []string, orphanedSince *time.Time) error

		// RebuildOwnerProductRefs replaces the owner's product reference set
		// wholesale with the given upstream-ID to UUID mapping
		RebuildOwnerProductRefs(ctx context.Context, ownerID string, refs map[string]string) error
		RebuildOwnerContentRefs(ctx context.Context, ownerID string, refs map[string]string) error

		Commit() error
		Abort()
	}

	// Registry defines the registry interface
	Registry interface {
		Writer(ctx context.Context) (Writer, error)
		Reader(ctx context.Context) (Reader, error)
		// ReaderFromWriter returns a reader that can see changes made in the
		// writer's transaction
		ReaderFromWriter(ctx context.Context, writer Writer) (Reader, error)
		Close() error
	}
)
