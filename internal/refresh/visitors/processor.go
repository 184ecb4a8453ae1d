package visitors

import (
	"context"

	"k8s.io/klog/v2"

	"entitle-pg-backend/internal/domain/models"
	"entitle-pg-backend/internal/refresh/nodes"
)

// NodeProcessor walks a reconciliation graph through the four phases of a
// refresh: process (state assignment, bottom-up), prune (orphan deletion,
// top-down), apply (persistence, bottom-up), and complete (bulk flushes in
// pool, product, content order). Dispatch is an exhaustive switch over the
// closed node kind set.
type NodeProcessor struct {
	nodeMapper *nodes.Mapper

	pools    *PoolVisitor
	products *ProductVisitor
	content  *ContentVisitor
}

// NewNodeProcessor creates a processor over the given graph and visitors
func NewNodeProcessor(nodeMapper *nodes.Mapper, pools *PoolVisitor,
	products *ProductVisitor, content *ContentVisitor) *NodeProcessor {

	return &NodeProcessor{
		nodeMapper: nodeMapper,
		pools:      pools,
		products:   products,
		content:    content,
	}
}

// Run executes all four phases over the graph and compiles the per-entity
// refresh result
func (p *NodeProcessor) Run(ctx context.Context) (*models.RefreshResult, error) {
	order := p.bottomUpOrder()

	klog.V(4).Infof("Processing %d nodes", len(order))

	for _, node := range order {
		p.processNode(node)
	}

	// Prune walks parents before children so orphan checks see final parent
	// states.
	for i := len(order) - 1; i >= 0; i-- {
		if err := p.pruneNode(ctx, order[i]); err != nil {
			return nil, err
		}
	}

	for _, node := range order {
		if err := p.applyNode(ctx, node); err != nil {
			return nil, err
		}
	}

	if err := p.pools.Complete(ctx); err != nil {
		return nil, err
	}
	if err := p.products.Complete(ctx); err != nil {
		return nil, err
	}
	if err := p.content.Complete(ctx); err != nil {
		return nil, err
	}

	return p.compileResult(order), nil
}

// bottomUpOrder returns every node in post-order from the graph roots:
// children always precede their parents. Roots are visited in insertion
// order, so the walk is deterministic for a given input.
func (p *NodeProcessor) bottomUpOrder() []*nodes.Node {
	visited := make(map[nodes.Key]struct{}, p.nodeMapper.Len())
	order := make([]*nodes.Node, 0, p.nodeMapper.Len())

	var walk func(node *nodes.Node)
	walk = func(node *nodes.Node) {
		if _, seen := visited[node.Key]; seen {
			return
		}
		visited[node.Key] = struct{}{}

		for _, key := range node.Children() {
			if child := p.nodeMapper.Node(key); child != nil {
				walk(child)
			}
		}

		order = append(order, node)
	}

	for _, root := range p.nodeMapper.RootNodes() {
		walk(root)
	}

	// Cycle-free graphs are fully reachable from roots; anything left over
	// would indicate a construction bug.
	for _, node := range p.nodeMapper.Nodes() {
		walk(node)
	}

	return order
}

func (p *NodeProcessor) processNode(node *nodes.Node) {
	switch node.Key.Kind {
	case nodes.KindPool:
		p.pools.Process(node)
	case nodes.KindProduct:
		p.products.Process(node)
	case nodes.KindContent:
		p.content.Process(node)
	}
}

func (p *NodeProcessor) pruneNode(ctx context.Context, node *nodes.Node) error {
	switch node.Key.Kind {
	case nodes.KindPool:
		return p.pools.Prune(ctx, node)
	case nodes.KindProduct:
		return p.products.Prune(ctx, node)
	case nodes.KindContent:
		return p.content.Prune(ctx, node)
	}
	return nil
}

func (p *NodeProcessor) applyNode(ctx context.Context, node *nodes.Node) error {
	if node.State == models.EntityStateDeleted {
		return nil
	}

	switch node.Key.Kind {
	case nodes.KindPool:
		return p.pools.Apply(ctx, node)
	case nodes.KindProduct:
		return p.products.Apply(ctx, node)
	case nodes.KindContent:
		return p.content.Apply(ctx, node)
	}
	return nil
}

func (p *NodeProcessor) compileResult(order []*nodes.Node) *models.RefreshResult {
	result := models.NewRefreshResult()

	for _, node := range order {
		switch node.Key.Kind {
		case nodes.KindPool:
			pool := node.MergedPool
			if pool == nil {
				pool = node.ExistingPool
			}
			result.AddPool(node.Key.ID, pool, node.State)

		case nodes.KindProduct:
			product := node.MergedProduct
			if product == nil {
				product = node.ExistingProduct
			}
			result.AddProduct(node.Key.ID, product, node.State)

		case nodes.KindContent:
			content := node.MergedContent
			if content == nil {
				content = node.ExistingContent
			}
			result.AddContent(node.Key.ID, content, node.State)
		}
	}

	return result
}
