package builders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/domain/ports"
	"entitle-pg-backend/internal/refresh/mappers"
	"entitle-pg-backend/internal/refresh/nodes"
)

func newFactory(t *testing.T) (*NodeFactory, *nodes.Mapper, *mappers.PoolMapper, *mappers.ProductMapper, *mappers.ContentMapper) {
	t.Helper()

	nodeMapper := nodes.NewMapper()
	pools := mappers.NewPoolMapper()
	products := mappers.NewProductMapper()
	content := mappers.NewContentMapper()

	return NewNodeFactory(nodeMapper, pools, products, content), nodeMapper, pools, products, content
}

func TestBuildNodesWiresPoolProductContent(t *testing.T) {
	factory, nodeMapper, pools, products, content := newFactory(t)

	contentInfo := &models.ContentInfo{ID: "C1", Label: "c-one"}
	productInfo := &models.ProductInfo{
		ID:   "P1",
		Name: "product one",
		ProductContent: []*models.ProductContentInfo{
			{Content: contentInfo, Enabled: true},
		},
	}
	sub := &models.SubscriptionInfo{ID: "S1", Quantity: 5, Product: productInfo}

	_, err := pools.AddImportedEntity(sub)
	require.NoError(t, err)
	_, err = products.AddImportedEntity(productInfo)
	require.NoError(t, err)
	_, err = content.AddImportedEntity(contentInfo)
	require.NoError(t, err)

	require.NoError(t, factory.BuildNodes("o1"))
	require.Equal(t, 3, nodeMapper.Len())

	poolNode := nodeMapper.Node(nodes.Key{Kind: nodes.KindPool, ID: "S1"})
	productNode := nodeMapper.Node(nodes.Key{Kind: nodes.KindProduct, ID: "P1"})
	contentNode := nodeMapper.Node(nodes.Key{Kind: nodes.KindContent, ID: "C1"})
	require.NotNil(t, poolNode)
	require.NotNil(t, productNode)
	require.NotNil(t, contentNode)

	assert.Equal(t, []nodes.Key{productNode.Key}, poolNode.Children())
	assert.Equal(t, []nodes.Key{poolNode.Key}, productNode.Parents())
	assert.Equal(t, []nodes.Key{contentNode.Key}, productNode.Children())
	assert.Equal(t, []nodes.Key{productNode.Key}, contentNode.Parents())

	assert.True(t, poolNode.IsRoot())
	assert.False(t, contentNode.IsRoot())
}

func TestBuildNodesSharedChildGetsOneNode(t *testing.T) {
	factory, nodeMapper, _, products, content := newFactory(t)

	contentInfo := &models.ContentInfo{ID: "C1"}
	p1 := &models.ProductInfo{
		ID:             "P1",
		ProductContent: []*models.ProductContentInfo{{Content: contentInfo, Enabled: true}},
	}
	p2 := &models.ProductInfo{
		ID:             "P2",
		ProductContent: []*models.ProductContentInfo{{Content: contentInfo, Enabled: false}},
	}

	for _, p := range []*models.ProductInfo{p1, p2} {
		_, err := products.AddImportedEntity(p)
		require.NoError(t, err)
	}
	_, err := content.AddImportedEntity(contentInfo)
	require.NoError(t, err)

	require.NoError(t, factory.BuildNodes("o1"))
	require.Equal(t, 3, nodeMapper.Len())

	contentNode := nodeMapper.Node(nodes.Key{Kind: nodes.KindContent, ID: "C1"})
	require.NotNil(t, contentNode)
	assert.Len(t, contentNode.Parents(), 2)
}

func TestBuildNodesDerivedAndProvidedProducts(t *testing.T) {
	factory, nodeMapper, _, products, _ := newFactory(t)

	derived := &models.ProductInfo{ID: "PD"}
	provided := &models.ProductInfo{ID: "PP"}
	parent := &models.ProductInfo{
		ID:               "P1",
		DerivedProduct:   derived,
		ProvidedProducts: []*models.ProductInfo{provided},
	}

	for _, p := range []*models.ProductInfo{parent, derived, provided} {
		_, err := products.AddImportedEntity(p)
		require.NoError(t, err)
	}

	require.NoError(t, factory.BuildNodes("o1"))

	parentNode := nodeMapper.Node(nodes.Key{Kind: nodes.KindProduct, ID: "P1"})
	require.NotNil(t, parentNode)
	assert.Len(t, parentNode.Children(), 2)
}

func TestBuildNodesCycleFails(t *testing.T) {
	factory, _, _, products, _ := newFactory(t)

	// P1 provides P2, P2 provides P1.
	p1 := &models.ProductInfo{ID: "P1"}
	p2 := &models.ProductInfo{ID: "P2"}
	p1.ProvidedProducts = []*models.ProductInfo{p2}
	p2.ProvidedProducts = []*models.ProductInfo{p1}

	for _, p := range []*models.ProductInfo{p1, p2} {
		_, err := products.AddImportedEntity(p)
		require.NoError(t, err)
	}

	err := factory.BuildNodes("o1")
	assert.ErrorIs(t, err, ports.ErrGraphConstruction)
	assert.Contains(t, err.Error(), "descendant of itself")
}

func TestBuildNodesUnresolvedReferenceFails(t *testing.T) {
	factory, _, _, products, _ := newFactory(t)

	// P1 links content that no mapper holds.
	p1 := &models.ProductInfo{
		ID: "P1",
		ProductContent: []*models.ProductContentInfo{
			{Content: &models.ContentInfo{ID: "C-missing"}, Enabled: true},
		},
	}
	_, err := products.AddImportedEntity(p1)
	require.NoError(t, err)

	err = factory.BuildNodes("o1")
	assert.ErrorIs(t, err, ports.ErrGraphConstruction)
	assert.Contains(t, err.Error(), "referenced but not present")
}
