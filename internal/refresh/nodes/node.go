package nodes

import (
	"fmt"

	"entitle-pg-backend/internal/domain/models"
)

// Kind identifies one of the three entity kinds in the reconciliation graph.
// The set is closed: processors dispatch with an exhaustive switch rather than
// a runtime type registry.
type Kind int

const (
	// KindContent identifies content nodes
	KindContent Kind = iota

	// KindProduct identifies product nodes
	KindProduct

	// KindPool identifies pool nodes
	KindPool
)

// String returns a string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindProduct:
		return "product"
	case KindPool:
		return "pool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Key addresses one logical entity in the graph by (kind, upstream ID)
type Key struct {
	Kind Kind
	ID   string
}

// String returns a string representation of the key
func (k Key) String() string {
	return k.Kind.String() + "/" + k.ID
}

// Node is a graph vertex wrapping one logical entity: its existing (persisted)
// and/or imported view, its adjacency lists, its computed state, and the
// merged entity produced by the visitor pass. Exactly one existing/imported/
// merged field group is populated, matching the node's kind.
type Node struct {
	Key     Key
	OwnerID string

	State models.EntityState

	ExistingContent *models.Content
	ImportedContent *models.ContentInfo
	MergedContent   *models.Content

	ExistingProduct *models.Product
	ImportedProduct *models.ProductInfo
	MergedProduct   *models.Product

	ExistingPool *models.Pool
	ImportedPool *models.SubscriptionInfo
	MergedPool   *models.Pool

	parents  []Key
	children []Key
}

// NewContentNode creates a content node for the given owner and entity views
func NewContentNode(ownerID, id string, existing *models.Content, imported *models.ContentInfo) *Node {
	return &Node{
		Key:             Key{Kind: KindContent, ID: id},
		OwnerID:         ownerID,
		ExistingContent: existing,
		ImportedContent: imported,
	}
}

// NewProductNode creates a product node for the given owner and entity views
func NewProductNode(ownerID, id string, existing *models.Product, imported *models.ProductInfo) *Node {
	return &Node{
		Key:             Key{Kind: KindProduct, ID: id},
		OwnerID:         ownerID,
		ExistingProduct: existing,
		ImportedProduct: imported,
	}
}

// NewPoolNode creates a pool node for the given owner and entity views
func NewPoolNode(ownerID, id string, existing *models.Pool, imported *models.SubscriptionInfo) *Node {
	return &Node{
		Key:          Key{Kind: KindPool, ID: id},
		OwnerID:      ownerID,
		ExistingPool: existing,
		ImportedPool: imported,
	}
}

// HasExisting reports whether this node carries a persisted entity view
func (n *Node) HasExisting() bool {
	switch n.Key.Kind {
	case KindContent:
		return n.ExistingContent != nil
	case KindProduct:
		return n.ExistingProduct != nil
	default:
		return n.ExistingPool != nil
	}
}

// HasImported reports whether this node carries an imported entity view
func (n *Node) HasImported() bool {
	switch n.Key.Kind {
	case KindContent:
		return n.ImportedContent != nil
	case KindProduct:
		return n.ImportedProduct != nil
	default:
		return n.ImportedPool != nil
	}
}

// Changed reports whether this node resolved to a state that alters the
// owner's persisted view of the entity
func (n *Node) Changed() bool {
	return n.State == models.EntityStateCreated || n.State == models.EntityStateUpdated
}

// IsRoot reports whether this node has no parent edges
func (n *Node) IsRoot() bool {
	return len(n.parents) == 0
}

// AddParent records a parent edge, deduplicating repeats
func (n *Node) AddParent(key Key) {
	for _, existing := range n.parents {
		if existing == key {
			return
		}
	}
	n.parents = append(n.parents, key)
}

// AddChild records a child edge, deduplicating repeats
func (n *Node) AddChild(key Key) {
	for _, existing := range n.children {
		if existing == key {
			return
		}
	}
	n.children = append(n.children, key)
}

// Parents returns the parent adjacency list in insertion order
func (n *Node) Parents() []Key {
	return n.parents
}

// Children returns the child adjacency list in insertion order
func (n *Node) Children() []Key {
	return n.children
}

// String returns a string representation of the node
func (n *Node) String() string {
	return fmt.Sprintf("node(%s, owner=%s, state=%s)", n.Key, n.OwnerID, n.State)
}
