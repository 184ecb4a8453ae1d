package refresh

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/refresh/builders"
	"entitle-pg-backend/internal/refresh/mappers"
	"entitle-pg-backend/internal/refresh/nodes"
	"entitle-pg-backend/internal/refresh/visitors"
)

// DefaultGracePeriod never auto-deletes orphaned entities
const DefaultGracePeriod = -1

// Worker accumulates imported upstream entities and reconciles them against
// an owner's persisted state in one transactional Execute call. Accumulation
// is transitive: adding a subscription registers its whole product tree, and
// adding a product registers its children and content.
//
// A worker is not safe for concurrent use; each refresh invocation owns one.
type Worker struct {
	registry ports.Registry

	gracePeriod int
	now         func() time.Time
	warnf       func(format string, args ...interface{})

	subscriptions map[string]*models.SubscriptionInfo
	products      map[string]*models.ProductInfo
	content       map[string]*models.ContentInfo
}

// NewWorker creates a refresh worker over the given registry
func NewWorker(registry ports.Registry) *Worker {
	return &Worker{
		registry:      registry,
		gracePeriod:   DefaultGracePeriod,
		now:           time.Now,
		warnf:         klog.Warningf,
		subscriptions: make(map[string]*models.SubscriptionInfo),
		products:      make(map[string]*models.ProductInfo),
		content:       make(map[string]*models.ContentInfo),
	}
}

// SetOrphanedEntityGracePeriod sets the orphan deletion policy: positive N
// deletes entities orphaned for more than N days, zero deletes immediately,
// negative never deletes
func (w *Worker) SetOrphanedEntityGracePeriod(days int) *Worker {
	w.gracePeriod = days
	return w
}

// SetClock overrides the time source. Tests use this to exercise grace-period
// boundaries.
func (w *Worker) SetClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// SetWarningSink overrides the destination of accumulation warnings
func (w *Worker) SetWarningSink(warnf func(format string, args ...interface{})) *Worker {
	w.warnf = warnf
	return w
}

// AddSubscriptions accumulates imported subscriptions, transitively
// registering each subscription's product tree. Fails with ErrInvalidArgument
// on a nil element or one without an upstream ID.
func (w *Worker) AddSubscriptions(subscriptions ...*models.SubscriptionInfo) (*Worker, error) {
	for _, sub := range subscriptions {
		if sub == nil || sub.ID == "" {
			return w, errors.Wrap(ports.ErrInvalidArgument, "subscription has no mappable ID")
		}

		if prior, present := w.subscriptions[sub.ID]; present && !prior.Equals(sub) {
			w.warnf("Duplicate subscription ID %q with differing content; later value wins", sub.ID)
		}
		w.subscriptions[sub.ID] = sub

		if sub.Product != nil {
			if _, err := w.AddProducts(sub.Product); err != nil {
				return w, err
			}
		}
	}

	return w, nil
}

// AddProducts accumulates imported products, transitively registering each
// product's derived product, provided products, and content
func (w *Worker) AddProducts(products ...*models.ProductInfo) (*Worker, error) {
	for _, product := range products {
		if product == nil || product.ID == "" {
			return w, errors.Wrap(ports.ErrInvalidArgument, "product has no mappable ID")
		}

		if prior, present := w.products[product.ID]; present && !prior.Equals(product) {
			w.warnf("Duplicate product ID %q with differing content; later value wins", product.ID)
		}
		w.products[product.ID] = product

		if product.DerivedProduct != nil {
			if _, err := w.AddProducts(product.DerivedProduct); err != nil {
				return w, err
			}
		}

		for _, child := range product.ProvidedProducts {
			if _, err := w.AddProducts(child); err != nil {
				return w, err
			}
		}

		if _, err := w.AddProductContent(product.ProductContent...); err != nil {
			return w, err
		}
	}

	return w, nil
}

// AddContent accumulates imported content
func (w *Worker) AddContent(contents ...*models.ContentInfo) (*Worker, error) {
	for _, content := range contents {
		if content == nil || content.ID == "" {
			return w, errors.Wrap(ports.ErrInvalidArgument, "content has no mappable ID")
		}

		if prior, present := w.content[content.ID]; present && !prior.Equals(content) {
			w.warnf("Duplicate content ID %q with differing content; later value wins", content.ID)
		}
		w.content[content.ID] = content
	}

	return w, nil
}

// AddProductContent accumulates the content side of imported product-content
// links
func (w *Worker) AddProductContent(links ...*models.ProductContentInfo) (*Worker, error) {
	for _, link := range links {
		if link == nil || link.Content == nil {
			return w, errors.Wrap(ports.ErrInvalidArgument, "product-content link has no content")
		}

		if _, err := w.AddContent(link.Content); err != nil {
			return w, err
		}
	}

	return w, nil
}

// Clear drops all accumulated imported entities
func (w *Worker) Clear() {
	w.subscriptions = make(map[string]*models.SubscriptionInfo)
	w.products = make(map[string]*models.ProductInfo)
	w.content = make(map[string]*models.ContentInfo)
}

// Subscriptions returns a copy of the accumulated subscription map
func (w *Worker) Subscriptions() map[string]*models.SubscriptionInfo {
	out := make(map[string]*models.SubscriptionInfo, len(w.subscriptions))
	for id, sub := range w.subscriptions {
		out[id] = sub
	}
	return out
}

// Products returns a copy of the accumulated product map
func (w *Worker) Products() map[string]*models.ProductInfo {
	out := make(map[string]*models.ProductInfo, len(w.products))
	for id, product := range w.products {
		out[id] = product
	}
	return out
}

// Content returns a copy of the accumulated content map
func (w *Worker) Content() map[string]*models.ContentInfo {
	out := make(map[string]*models.ContentInfo, len(w.content))
	for id, content := range w.content {
		out[id] = content
	}
	return out
}

// Execute reconciles the accumulated imports against the owner's persisted
// state in one transaction. A versioning-constraint violation raised by a
// concurrent refresh aborts the transaction and retries the whole execution
// with mapper state rebuilt from the store.
func (w *Worker) Execute(ctx context.Context, owner *models.Owner) (*models.RefreshResult, error) {
	if owner == nil || owner.ID == "" {
		return nil, errors.Wrap(ports.ErrInvalidArgument, "owner has no ID")
	}

	var result *models.RefreshResult

	err := withVersionRetry(ctx, func() error {
		writer, err := w.registry.Writer(ctx)
		if err != nil {
			return errors.Wrap(err, "opening refresh transaction")
		}
		defer writer.Abort()

		result, err = w.ExecuteIn(ctx, owner, writer)
		if err != nil {
			return err
		}

		return errors.Wrap(writer.Commit(), "committing refresh")
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ExecuteIn reconciles within an ambient transaction represented by the given
// writer. The caller owns commit and abort; failures, including versioning
// conflicts, propagate without retry.
func (w *Worker) ExecuteIn(ctx context.Context, owner *models.Owner, writer ports.Writer) (*models.RefreshResult, error) {
	if owner == nil || owner.ID == "" {
		return nil, errors.Wrap(ports.ErrInvalidArgument, "owner has no ID")
	}

	klog.V(4).Infof("Refreshing owner %q: %d subscriptions, %d products, %d content",
		owner.Key, len(w.subscriptions), len(w.products), len(w.content))

	// Serialize against concurrent orphan cleanup for the whole transaction.
	if err := writer.GetSystemLock(ctx, ports.ProductSystemLock); err != nil {
		return nil, errors.Wrap(err, "acquiring product system lock")
	}
	if err := writer.GetSystemLock(ctx, ports.ContentSystemLock); err != nil {
		return nil, errors.Wrap(err, "acquiring content system lock")
	}

	reader, err := w.registry.ReaderFromWriter(ctx, writer)
	if err != nil {
		return nil, errors.Wrap(err, "opening transaction reader")
	}

	poolMapper, productMapper, contentMapper, err := w.buildMappers(ctx, owner, reader)
	if err != nil {
		return nil, err
	}

	if err := w.loadCandidates(ctx, owner, reader, productMapper, contentMapper); err != nil {
		return nil, err
	}

	nodeMapper := nodes.NewMapper()
	factory := builders.NewNodeFactory(nodeMapper, poolMapper, productMapper, contentMapper)
	if err := factory.BuildNodes(owner.ID); err != nil {
		return nil, err
	}

	lookup := nodeMapper.Node
	processor := visitors.NewNodeProcessor(nodeMapper,
		visitors.NewPoolVisitor(owner.ID, writer, lookup),
		visitors.NewProductVisitor(owner.ID, reader, writer, productMapper, lookup, w.gracePeriod, w.now),
		visitors.NewContentVisitor(owner.ID, reader, writer, contentMapper, lookup, w.gracePeriod, w.now))

	result, err := processor.Run(ctx)
	if err != nil {
		return nil, err
	}

	if err := w.repairMappings(ctx, owner, writer, productMapper, contentMapper, result); err != nil {
		return nil, err
	}

	klog.V(4).Infof("Refreshed owner %q: pools %s, products %s, content %s",
		owner.Key, result.PoolCounts(), result.ProductCounts(), result.ContentCounts())

	return result, nil
}

// buildMappers populates the entity mappers for this execution: accumulated
// imports on one side, the owner's persisted entities on the other
func (w *Worker) buildMappers(ctx context.Context, owner *models.Owner,
	reader ports.Reader) (*mappers.PoolMapper, *mappers.ProductMapper, *mappers.ContentMapper, error) {

	poolMapper := mappers.NewPoolMapper()
	productMapper := mappers.NewProductMapper()
	contentMapper := mappers.NewContentMapper()

	for _, sub := range w.subscriptions {
		if _, err := poolMapper.AddImportedEntity(sub); err != nil {
			return nil, nil, nil, err
		}
	}
	for _, product := range w.products {
		if _, err := productMapper.AddImportedEntity(product); err != nil {
			return nil, nil, nil, err
		}
	}
	for _, content := range w.content {
		if _, err := contentMapper.AddImportedEntity(content); err != nil {
			return nil, nil, nil, err
		}
	}

	scope := ports.NewOwnerScope(owner.ID)

	err := reader.ListPools(ctx, func(pool models.Pool) error {
		_, err := poolMapper.AddExistingEntity(&pool)
		return err
	}, scope)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "loading existing pools")
	}

	err = reader.ListProducts(ctx, func(product models.Product) error {
		_, err := productMapper.AddExistingEntity(&product)
		return err
	}, scope)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "loading existing products")
	}

	err = reader.ListContent(ctx, func(content models.Content) error {
		_, err := contentMapper.AddExistingEntity(&content)
		return err
	}, scope)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "loading existing content")
	}

	return poolMapper, productMapper, contentMapper, nil
}

// loadCandidates snapshots the cross-owner version-sharing candidates for
// every product and content ID known to this execution. The snapshot is
// per-execute; concurrent refreshes racing on the same signatures are settled
// by the store's version constraint, not by this cache.
func (w *Worker) loadCandidates(ctx context.Context, owner *models.Owner, reader ports.Reader,
	productMapper *mappers.ProductMapper, contentMapper *mappers.ContentMapper) error {

	productCandidates, err := reader.GetVersionedProducts(ctx, owner.ID, productMapper.EntityIDs())
	if err != nil {
		return errors.Wrap(err, "loading product version candidates")
	}
	productMapper.SetCandidateEntitiesMap(productCandidates)

	contentCandidates, err := reader.GetVersionedContent(ctx, owner.ID, contentMapper.EntityIDs())
	if err != nil {
		return errors.Wrap(err, "loading content version candidates")
	}
	contentMapper.SetCandidateEntitiesMap(contentCandidates)

	return nil
}

// repairMappings rebuilds the owner's reference sets wholesale when mapper
// state indicates they drifted out of sync with the persisted rows
func (w *Worker) repairMappings(ctx context.Context, owner *models.Owner, writer ports.Writer,
	productMapper *mappers.ProductMapper, contentMapper *mappers.ContentMapper,
	result *models.RefreshResult) error {

	live := []models.EntityState{
		models.EntityStateCreated,
		models.EntityStateUpdated,
		models.EntityStateUnchanged,
	}

	if productMapper.IsDirty() {
		klog.Warningf("Owner %q product mapping out of sync; rebuilding", owner.Key)

		if err := writer.RebuildOwnerProductRefs(ctx, owner.ID, result.ProductUUIDMap(live...)); err != nil {
			return errors.Wrap(err, "rebuilding owner product mapping")
		}
	}

	if contentMapper.IsDirty() {
		klog.Warningf("Owner %q content mapping out of sync; rebuilding", owner.Key)

		if err := writer.RebuildOwnerContentRefs(ctx, owner.ID, result.ContentUUIDMap(live...)); err != nil {
			return errors.Wrap(err, "rebuilding owner content mapping")
		}
	}

	return nil
}
