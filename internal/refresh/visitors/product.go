package visitors

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/refresh/mappers"
	"entitle-pg-backend/internal/refresh/nodes"
)

// ProductVisitor reconciles product nodes. Products carry subtrees (derived
// product, provided products, content links), and their version signatures are
// recursive, so a structural change anywhere in the subtree surfaces as a
// change on every ancestor. Merged products are assembled from the already
// resolved child nodes, never from raw imported data, so they reference the
// exact rows persisted this execution.
type ProductVisitor struct {
	ownerID string
	reader  ports.Reader
	writer  ports.Writer
	mapper  *mappers.ProductMapper
	lookup  func(nodes.Key) *nodes.Node

	orphans *orphanTracker

	ownerCounts map[string]int
	countsKnown bool

	ownerRefs     map[string]string
	deletedIDs    []string
	deletedUUIDs  []string
	replacedUUIDs []string
}

// NewProductVisitor creates a product visitor for one refresh execution
func NewProductVisitor(ownerID string, reader ports.Reader, writer ports.Writer,
	mapper *mappers.ProductMapper, lookup func(nodes.Key) *nodes.Node,
	gracePeriod int, now func() time.Time) *ProductVisitor {

	v := &ProductVisitor{
		ownerID:   ownerID,
		reader:    reader,
		writer:    writer,
		mapper:    mapper,
		lookup:    lookup,
		ownerRefs: make(map[string]string),
	}

	fetch := func(ctx context.Context, ids []string) (map[string]time.Time, error) {
		return reader.GetProductOrphanDates(ctx, ownerID, ids)
	}
	v.orphans = newOrphanTracker(gracePeriod, now, fetch, lookup)

	return v
}

// Process decides the preliminary state of a product node. Version signatures
// are recursive, so a changed child subtree marks this product updated even if
// its own fields are untouched.
func (v *ProductVisitor) Process(node *nodes.Node) {
	if node.State != models.EntityStateUnset {
		return
	}

	existing := node.ExistingProduct
	imported := node.ImportedProduct

	node.State = models.EntityStateUnchanged

	if existing != nil {
		v.orphans.precacheID(node.Key.ID)

		if imported != nil && !existing.StructurallyEqual(importedAsProduct(imported)) {
			node.State = models.EntityStateUpdated
		}
	} else if imported != nil {
		node.State = models.EntityStateCreated
	}
}

// Prune checks whether an existing product that vanished upstream is cleared
// for deletion under the orphan policy. Products referenced by a surviving
// pool or product are kept regardless.
func (v *ProductVisitor) Prune(ctx context.Context, node *nodes.Node) error {
	existing := node.ExistingProduct
	if existing == nil {
		return nil
	}

	cleared, err := v.orphans.clearedForDeletion(ctx, node, existing.Locked)
	if err != nil {
		return errors.Wrapf(err, "pruning product %q", node.Key.ID)
	}

	if cleared {
		node.State = models.EntityStateDeleted
		v.deletedIDs = append(v.deletedIDs, node.Key.ID)
		v.deletedUUIDs = append(v.deletedUUIDs, existing.UUID)
	}

	return nil
}

// Apply persists the node. The merged product is assembled from the resolved
// child nodes first; an unchanged node whose children were remapped to new
// rows is promoted to updated so the stored references stay valid.
func (v *ProductVisitor) Apply(ctx context.Context, node *nodes.Node) error {
	if node.State == models.EntityStateUnchanged && node.ExistingProduct != nil &&
		v.childrenRemapped(node) {
		node.State = models.EntityStateUpdated
	}

	switch node.State {
	case models.EntityStateCreated:
		merged := v.buildMerged(node)

		candidate, err := v.resolveVersion(ctx, merged)
		if err != nil {
			return err
		}

		if candidate != nil {
			node.MergedProduct = candidate
			node.State = models.EntityStateUnchanged
		} else {
			merged.UUID = uuid.NewString()
			if err := v.writer.CreateProduct(ctx, merged); err != nil {
				return errors.Wrapf(err, "creating product %q", node.Key.ID)
			}
			node.MergedProduct = merged
		}

		v.ownerRefs[node.Key.ID] = node.MergedProduct.UUID

	case models.EntityStateUpdated:
		existing := node.ExistingProduct
		merged := v.buildMerged(node)

		candidate, err := v.resolveVersion(ctx, merged)
		if err != nil {
			return err
		}

		switch {
		case candidate != nil:
			node.MergedProduct = candidate

		default:
			shared, err := v.rowShared(ctx, existing.UUID)
			if err != nil {
				return err
			}

			if shared {
				merged.UUID = uuid.NewString()
				if err := v.writer.CreateProduct(ctx, merged); err != nil {
					return errors.Wrapf(err, "creating product %q", node.Key.ID)
				}
			} else {
				merged.UUID = existing.UUID
				if err := v.writer.UpdateProduct(ctx, merged); err != nil {
					return errors.Wrapf(err, "updating product %q", node.Key.ID)
				}
			}

			node.MergedProduct = merged
		}

		if node.MergedProduct.UUID != existing.UUID {
			v.ownerRefs[node.Key.ID] = node.MergedProduct.UUID
			v.replacedUUIDs = append(v.replacedUUIDs, existing.UUID)
		}
	}

	return nil
}

// Complete flushes the accumulated bulk operations for products
func (v *ProductVisitor) Complete(ctx context.Context) error {
	now := v.orphans.now()

	if len(v.orphans.newlyOrphaned) > 0 {
		if err := v.writer.SetProductOrphanDates(ctx, v.ownerID, v.orphans.newlyOrphaned, &now); err != nil {
			return errors.Wrap(err, "stamping orphaned products")
		}
	}

	if len(v.orphans.unorphaned) > 0 {
		if err := v.writer.SetProductOrphanDates(ctx, v.ownerID, v.orphans.unorphaned, nil); err != nil {
			return errors.Wrap(err, "unstamping products")
		}
	}

	if len(v.ownerRefs) > 0 {
		if err := v.writer.UpsertOwnerProductRefs(ctx, v.ownerID, v.ownerRefs); err != nil {
			return errors.Wrap(err, "updating owner product references")
		}
	}

	if len(v.deletedIDs) > 0 {
		if err := v.writer.RemoveOwnerProductRefs(ctx, v.ownerID, v.deletedIDs); err != nil {
			return errors.Wrap(err, "removing owner product references")
		}
	}

	obsolete := append(append([]string(nil), v.deletedUUIDs...), v.replacedUUIDs...)
	if len(obsolete) > 0 {
		if err := v.writer.DeleteProductsByUUIDs(ctx, obsolete); err != nil {
			return errors.Wrap(err, "deleting obsolete product rows")
		}
	}

	return nil
}

// childrenRemapped reports whether any child of the node was persisted under a
// row different from the one the existing product subtree references
func (v *ProductVisitor) childrenRemapped(node *nodes.Node) bool {
	for _, key := range node.Children() {
		child := v.lookup(key)
		if child == nil {
			continue
		}

		switch key.Kind {
		case nodes.KindContent:
			if child.MergedContent != nil && child.ExistingContent != nil &&
				child.MergedContent.UUID != child.ExistingContent.UUID {
				return true
			}
		case nodes.KindProduct:
			if child.MergedProduct != nil && child.ExistingProduct != nil &&
				child.MergedProduct.UUID != child.ExistingProduct.UUID {
				return true
			}
		}
	}

	return false
}

// buildMerged assembles the merged product from the imported view, rewiring
// every child reference through the graph so it points at the entity actually
// persisted for that child this execution
func (v *ProductVisitor) buildMerged(node *nodes.Node) *models.Product {
	imported := node.ImportedProduct
	if imported == nil {
		// No upstream view; keep the existing subtree but rewire children.
		merged := node.ExistingProduct.DeepCopy()
		merged.UUID = ""
		merged.DerivedProduct = v.resolveChildProduct(merged.DerivedProduct.EntityID(), merged.DerivedProduct)
		for i, child := range merged.ProvidedProducts {
			merged.ProvidedProducts[i] = v.resolveChildProduct(child.EntityID(), child)
		}
		for i, pc := range merged.ProductContent {
			merged.ProductContent[i].Content = v.resolveChildContent(pc.Content.EntityID(), pc.Content)
		}
		return merged
	}

	merged := &models.Product{
		ID:         imported.ID,
		Name:       imported.Name,
		Multiplier: imported.Multiplier,
		Locked:     true,
	}

	if imported.Attributes != nil {
		merged.Attributes = make(map[string]string, len(imported.Attributes))
		for k, val := range imported.Attributes {
			merged.Attributes[k] = val
		}
	}

	merged.DependentProductIDs = append([]string(nil), imported.DependentProductIDs...)

	if imported.DerivedProduct != nil {
		merged.DerivedProduct = v.resolveChildProduct(imported.DerivedProduct.ID, nil)
	}

	for _, child := range imported.ProvidedProducts {
		if child == nil {
			continue
		}
		merged.ProvidedProducts = append(merged.ProvidedProducts,
			v.resolveChildProduct(child.ID, nil))
	}

	for _, pc := range imported.ProductContent {
		if pc == nil || pc.Content == nil {
			continue
		}
		merged.ProductContent = append(merged.ProductContent, models.ProductContent{
			Content: v.resolveChildContent(pc.Content.ID, nil),
			Enabled: pc.Enabled,
		})
	}

	return merged
}

func (v *ProductVisitor) resolveChildProduct(id string, fallback *models.Product) *models.Product {
	if node := v.lookup(nodes.Key{Kind: nodes.KindProduct, ID: id}); node != nil {
		if node.MergedProduct != nil {
			return node.MergedProduct
		}
		if node.ExistingProduct != nil {
			return node.ExistingProduct
		}
	}
	return fallback
}

func (v *ProductVisitor) resolveChildContent(id string, fallback *models.Content) *models.Content {
	if node := v.lookup(nodes.Key{Kind: nodes.KindContent, ID: id}); node != nil {
		if node.MergedContent != nil {
			return node.MergedContent
		}
		if node.ExistingContent != nil {
			return node.ExistingContent
		}
	}
	return fallback
}

// resolveVersion checks the candidate set for a structurally identical product
// row persisted for another owner, clearing stale versions on signature
// collisions the same way the content visitor does
func (v *ProductVisitor) resolveVersion(ctx context.Context, merged *models.Product) (*models.Product, error) {
	for _, candidate := range v.mapper.GetCandidateEntities(merged.ID) {
		if candidate.StructurallyEqual(merged) {
			return candidate, nil
		}

		if candidate.EntityVersion() == merged.EntityVersion() {
			klog.Errorf("Product version collision detected for %q; clearing stale version on %s",
				merged.ID, candidate.UUID)

			if err := v.writer.ClearProductEntityVersion(ctx, candidate.UUID); err != nil {
				return nil, errors.Wrapf(err, "clearing product entity version on %s", candidate.UUID)
			}
		}
	}

	return nil, nil
}

func (v *ProductVisitor) rowShared(ctx context.Context, rowUUID string) (bool, error) {
	if !v.countsKnown {
		uuids := make([]string, 0, len(v.orphans.precache))
		for id := range v.orphans.precache {
			if existing := v.mapper.GetExistingEntity(id); existing != nil {
				uuids = append(uuids, existing.UUID)
			}
		}

		counts, err := v.reader.GetProductOwnerCounts(ctx, uuids)
		if err != nil {
			return false, errors.Wrap(err, "fetching product owner counts")
		}

		v.ownerCounts = counts
		v.countsKnown = true
	}

	return v.ownerCounts[rowUUID] > 1, nil
}

// importedAsProduct materializes a persisted-entity view of an imported
// product projection, recursively over the whole subtree. Nil-safe. Used for
// structural comparison only; child references are rewired separately when
// building the merged product for persistence.
func importedAsProduct(info *models.ProductInfo) *models.Product {
	if info == nil {
		return nil
	}

	out := &models.Product{
		ID:         info.ID,
		Name:       info.Name,
		Multiplier: info.Multiplier,
		Locked:     true,
	}

	if info.Attributes != nil {
		out.Attributes = make(map[string]string, len(info.Attributes))
		for k, val := range info.Attributes {
			out.Attributes[k] = val
		}
	}

	out.DependentProductIDs = append([]string(nil), info.DependentProductIDs...)
	out.DerivedProduct = importedAsProduct(info.DerivedProduct)

	for _, child := range info.ProvidedProducts {
		if child == nil {
			continue
		}
		out.ProvidedProducts = append(out.ProvidedProducts, importedAsProduct(child))
	}

	for _, pc := range info.ProductContent {
		if pc == nil || pc.Content == nil {
			continue
		}
		out.ProductContent = append(out.ProductContent, models.ProductContent{
			Content: importedAsContent(pc.Content),
			Enabled: pc.Enabled,
		})
	}

	return out
}
