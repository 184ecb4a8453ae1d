package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle-pg-backend/internal/domain/models"
)

func TestNodeViews(t *testing.T) {
	content := NewContentNode("o1", "C1", &models.Content{UUID: "u1", ID: "C1"}, nil)
	assert.True(t, content.HasExisting())
	assert.False(t, content.HasImported())

	product := NewProductNode("o1", "P1", nil, &models.ProductInfo{ID: "P1"})
	assert.False(t, product.HasExisting())
	assert.True(t, product.HasImported())

	pool := NewPoolNode("o1", "S1", nil, nil)
	assert.False(t, pool.HasExisting())
	assert.False(t, pool.HasImported())
}

func TestNodeEdgesDeduplicate(t *testing.T) {
	product := NewProductNode("o1", "P1", nil, &models.ProductInfo{ID: "P1"})
	contentKey := Key{Kind: KindContent, ID: "C1"}

	product.AddChild(contentKey)
	product.AddChild(contentKey)
	assert.Len(t, product.Children(), 1)

	poolKey := Key{Kind: KindPool, ID: "S1"}
	product.AddParent(poolKey)
	product.AddParent(poolKey)
	assert.Len(t, product.Parents(), 1)

	assert.False(t, product.IsRoot())
}

func TestNodeChanged(t *testing.T) {
	node := NewContentNode("o1", "C1", nil, &models.ContentInfo{ID: "C1"})
	assert.False(t, node.Changed())

	node.State = models.EntityStateCreated
	assert.True(t, node.Changed())

	node.State = models.EntityStateUnchanged
	assert.False(t, node.Changed())
}

func TestMapperKeepsInsertionOrder(t *testing.T) {
	mapper := NewMapper()

	c := mapper.AddNode(NewContentNode("o1", "C1", nil, &models.ContentInfo{ID: "C1"}))
	p := mapper.AddNode(NewProductNode("o1", "P1", nil, &models.ProductInfo{ID: "P1"}))
	s := mapper.AddNode(NewPoolNode("o1", "S1", nil, &models.SubscriptionInfo{ID: "S1"}))

	require.Equal(t, 3, mapper.Len())
	assert.Equal(t, []*Node{c, p, s}, mapper.Nodes())

	// Adding a node under an occupied key returns the registered node.
	dup := mapper.AddNode(NewContentNode("o1", "C1", nil, nil))
	assert.Same(t, c, dup)
	assert.Equal(t, 3, mapper.Len())

	assert.Same(t, p, mapper.Node(Key{Kind: KindProduct, ID: "P1"}))
	assert.Nil(t, mapper.Node(Key{Kind: KindProduct, ID: "absent"}))
}

func TestMapperRootNodes(t *testing.T) {
	mapper := NewMapper()

	pool := mapper.AddNode(NewPoolNode("o1", "S1", nil, &models.SubscriptionInfo{ID: "S1"}))
	product := mapper.AddNode(NewProductNode("o1", "P1", nil, &models.ProductInfo{ID: "P1"}))

	pool.AddChild(product.Key)
	product.AddParent(pool.Key)

	roots := mapper.RootNodes()
	require.Len(t, roots, 1)
	assert.Same(t, pool, roots[0])
}
