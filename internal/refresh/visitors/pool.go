package visitors

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/refresh/nodes"
)

// PoolVisitor reconciles pool nodes. Pools are owner-private rows keyed by
// upstream subscription ID: no cross-owner sharing, no copy-on-write, and no
// orphan grace period. A pool whose subscription vanished upstream is deleted
// on the same refresh.
type PoolVisitor struct {
	ownerID string
	writer  ports.Writer
	lookup  func(nodes.Key) *nodes.Node

	deletedIDs []string
}

// NewPoolVisitor creates a pool visitor for one refresh execution
func NewPoolVisitor(ownerID string, writer ports.Writer, lookup func(nodes.Key) *nodes.Node) *PoolVisitor {
	return &PoolVisitor{
		ownerID: ownerID,
		writer:  writer,
		lookup:  lookup,
	}
}

// Process decides the preliminary state of a pool node from the pool's own
// attributes. Product reference changes surface during apply, once the
// product rows have been resolved.
func (v *PoolVisitor) Process(node *nodes.Node) {
	if node.State != models.EntityStateUnset {
		return
	}

	existing := node.ExistingPool
	imported := node.ImportedPool

	node.State = models.EntityStateUnchanged

	if existing != nil {
		if imported != nil && existing.ChangedBy(imported) {
			node.State = models.EntityStateUpdated
		}
	} else if imported != nil {
		node.State = models.EntityStateCreated
	}
}

// Prune marks pools whose subscriptions vanished upstream for deletion
func (v *PoolVisitor) Prune(_ context.Context, node *nodes.Node) error {
	existing := node.ExistingPool
	if existing == nil || node.HasImported() {
		return nil
	}

	node.State = models.EntityStateDeleted
	v.deletedIDs = append(v.deletedIDs, existing.ID)

	return nil
}

// Apply persists the pool, wiring it to the product row resolved for its
// product child. An unchanged pool whose product was remapped is promoted to
// updated.
func (v *PoolVisitor) Apply(ctx context.Context, node *nodes.Node) error {
	if node.State == models.EntityStateUnchanged && node.ExistingPool != nil &&
		v.productRemapped(node) {
		node.State = models.EntityStateUpdated
	}

	switch node.State {
	case models.EntityStateCreated:
		merged := v.buildMerged(node)
		merged.ID = uuid.NewString()

		if err := v.writer.CreatePool(ctx, merged); err != nil {
			return errors.Wrapf(err, "creating pool for subscription %q", node.Key.ID)
		}
		node.MergedPool = merged

	case models.EntityStateUpdated:
		merged := v.buildMerged(node)
		merged.ID = node.ExistingPool.ID

		if err := v.writer.UpdatePool(ctx, merged); err != nil {
			return errors.Wrapf(err, "updating pool for subscription %q", node.Key.ID)
		}
		node.MergedPool = merged
	}

	return nil
}

// Complete deletes the pools marked during pruning
func (v *PoolVisitor) Complete(ctx context.Context) error {
	if len(v.deletedIDs) == 0 {
		return nil
	}

	if err := v.writer.DeletePoolsByIDs(ctx, v.deletedIDs); err != nil {
		return errors.Wrap(err, "deleting pools")
	}

	return nil
}

func (v *PoolVisitor) productRemapped(node *nodes.Node) bool {
	existing := node.ExistingPool.Product
	if existing == nil {
		return false
	}

	resolved := v.resolveProduct(node, existing.ID)
	return resolved != nil && resolved.UUID != existing.UUID
}

func (v *PoolVisitor) buildMerged(node *nodes.Node) *models.Pool {
	imported := node.ImportedPool
	if imported == nil {
		merged := node.ExistingPool.DeepCopy()
		merged.Product = v.resolveProduct(node, merged.Product.EntityID())
		return merged
	}

	merged := &models.Pool{
		SubscriptionID: imported.ID,
		OwnerID:        v.ownerID,
		Quantity:       imported.Quantity,
		StartDate:      imported.StartDate,
		EndDate:        imported.EndDate,
		ContractNumber: imported.ContractNumber,
		AccountNumber:  imported.AccountNumber,
		OrderNumber:    imported.OrderNumber,
	}

	if imported.Product != nil {
		merged.Product = v.resolveProduct(node, imported.Product.ID)
	}

	return merged
}

// resolveProduct returns the product row persisted this execution for the
// pool's product child
func (v *PoolVisitor) resolveProduct(node *nodes.Node, productID string) *models.Product {
	if child := v.lookup(nodes.Key{Kind: nodes.KindProduct, ID: productID}); child != nil {
		if child.MergedProduct != nil {
			return child.MergedProduct
		}
		if child.ExistingProduct != nil {
			return child.ExistingProduct
		}
	}

	if node.ExistingPool != nil {
		return node.ExistingPool.Product
	}
	return nil
}
