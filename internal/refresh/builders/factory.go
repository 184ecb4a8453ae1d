package builders

import (
	"github.com/pkg/errors"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/refresh/mappers"
	"entitle-pg-backend/internal/refresh/nodes"
)

// NodeFactory assembles the flat mapper contents into a connected graph
// reflecting the real parent-child relationships: pools reference their
// product, products reference their derived product, provided products, and
// content. Each logical entity materializes exactly one node regardless of
// how many parents reach it.
type NodeFactory struct {
	nodeMapper *nodes.Mapper

	pools    *mappers.PoolMapper
	products *mappers.ProductMapper
	content  *mappers.ContentMapper
}

// NewNodeFactory creates a node factory over the given node mapper and entity
// mappers
func NewNodeFactory(nodeMapper *nodes.Mapper, pools *mappers.PoolMapper,
	products *mappers.ProductMapper, content *mappers.ContentMapper) *NodeFactory {

	return &NodeFactory{
		nodeMapper: nodeMapper,
		pools:      pools,
		products:   products,
		content:    content,
	}
}

// BuildNodes materializes nodes for every entity known to the mappers and
// wires the parent-child edges between them. The entity model is a DAG by
// construction; a descent that revisits a node already on the current path
// indicates malformed input and fails with ErrGraphConstruction.
func (f *NodeFactory) BuildNodes(ownerID string) error {
	path := make(map[nodes.Key]bool)

	for _, id := range f.pools.EntityIDs() {
		if _, err := f.buildPoolNode(ownerID, id, path); err != nil {
			return err
		}
	}

	for _, id := range f.products.EntityIDs() {
		if _, err := f.buildProductNode(ownerID, id, path); err != nil {
			return err
		}
	}

	for _, id := range f.content.EntityIDs() {
		if _, err := f.buildContentNode(ownerID, id); err != nil {
			return err
		}
	}

	return nil
}

func (f *NodeFactory) buildPoolNode(ownerID, id string, path map[nodes.Key]bool) (*nodes.Node, error) {
	key := nodes.Key{Kind: nodes.KindPool, ID: id}

	if node := f.nodeMapper.Node(key); node != nil {
		return node, nil
	}

	existing := f.pools.GetExistingEntity(id)
	imported := f.pools.GetImportedEntity(id)

	if existing == nil && imported == nil {
		return nil, errors.Wrapf(ports.ErrGraphConstruction,
			"subscription %q is referenced but not present in any mapper", id)
	}

	node := f.nodeMapper.AddNode(nodes.NewPoolNode(ownerID, id, existing, imported))

	path[key] = true
	defer delete(path, key)

	// The pool's product child comes from the imported view when present;
	// otherwise from the persisted pool.
	var productID string
	switch {
	case imported != nil && imported.Product != nil:
		productID = imported.Product.ID
	case imported == nil && existing.Product != nil:
		productID = existing.Product.ID
	}

	if productID != "" {
		child, err := f.buildProductNode(ownerID, productID, path)
		if err != nil {
			return nil, err
		}

		node.AddChild(child.Key)
		child.AddParent(node.Key)
	}

	return node, nil
}

func (f *NodeFactory) buildProductNode(ownerID, id string, path map[nodes.Key]bool) (*nodes.Node, error) {
	key := nodes.Key{Kind: nodes.KindProduct, ID: id}

	if path[key] {
		return nil, errors.Wrapf(ports.ErrGraphConstruction,
			"product %q is a descendant of itself", id)
	}

	if node := f.nodeMapper.Node(key); node != nil {
		return node, nil
	}

	existing := f.products.GetExistingEntity(id)
	imported := f.products.GetImportedEntity(id)

	if existing == nil && imported == nil {
		return nil, errors.Wrapf(ports.ErrGraphConstruction,
			"product %q is referenced but not present in any mapper", id)
	}

	node := f.nodeMapper.AddNode(nodes.NewProductNode(ownerID, id, existing, imported))

	path[key] = true
	defer delete(path, key)

	for _, childID := range f.childProductIDs(existing, imported) {
		child, err := f.buildProductNode(ownerID, childID, path)
		if err != nil {
			return nil, err
		}

		node.AddChild(child.Key)
		child.AddParent(node.Key)
	}

	for _, contentID := range f.childContentIDs(existing, imported) {
		child, err := f.buildContentNode(ownerID, contentID)
		if err != nil {
			return nil, err
		}

		node.AddChild(child.Key)
		child.AddParent(node.Key)
	}

	return node, nil
}

func (f *NodeFactory) buildContentNode(ownerID, id string) (*nodes.Node, error) {
	key := nodes.Key{Kind: nodes.KindContent, ID: id}

	if node := f.nodeMapper.Node(key); node != nil {
		return node, nil
	}

	existing := f.content.GetExistingEntity(id)
	imported := f.content.GetImportedEntity(id)

	if existing == nil && imported == nil {
		return nil, errors.Wrapf(ports.ErrGraphConstruction,
			"content %q is referenced but not present in any mapper", id)
	}

	return f.nodeMapper.AddNode(nodes.NewContentNode(ownerID, id, existing, imported)), nil
}

// childProductIDs returns the derived and provided product IDs of the node's
// effective source view (imported when present, existing otherwise)
func (f *NodeFactory) childProductIDs(existing *models.Product, imported *models.ProductInfo) []string {
	var ids []string

	if imported != nil {
		if imported.DerivedProduct != nil {
			ids = append(ids, imported.DerivedProduct.ID)
		}
		for _, provided := range imported.ProvidedProducts {
			if provided != nil {
				ids = append(ids, provided.ID)
			}
		}
		return ids
	}

	if existing.DerivedProduct != nil {
		ids = append(ids, existing.DerivedProduct.ID)
	}
	for _, provided := range existing.ProvidedProducts {
		if provided != nil {
			ids = append(ids, provided.ID)
		}
	}
	return ids
}

// childContentIDs returns the product-content link content IDs of the node's
// effective source view
func (f *NodeFactory) childContentIDs(existing *models.Product, imported *models.ProductInfo) []string {
	var ids []string

	if imported != nil {
		for _, pc := range imported.ProductContent {
			if pc != nil && pc.Content != nil {
				ids = append(ids, pc.Content.ID)
			}
		}
		return ids
	}

	for _, pc := range existing.ProductContent {
		if pc.Content != nil {
			ids = append(ids, pc.Content.ID)
		}
	}
	return ids
}
