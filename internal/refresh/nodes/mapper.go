package nodes

// Mapper is the registry of all nodes in one reconciliation graph, addressed
// by (kind, ID) key. Nodes are held in an arena with insertion-order
// iteration, keeping walks deterministic for a given input.
type Mapper struct {
	nodes map[Key]*Node
	order []Key
}

// NewMapper creates an empty node mapper
func NewMapper() *Mapper {
	return &Mapper{
		nodes: make(map[Key]*Node),
	}
}

// AddNode registers the given node and returns it. If a node with the same
// key is already registered, the existing node is returned instead: node
// identity is unique per (kind, ID) within one mapper.
func (m *Mapper) AddNode(node *Node) *Node {
	if existing, present := m.nodes[node.Key]; present {
		return existing
	}

	m.nodes[node.Key] = node
	m.order = append(m.order, node.Key)
	return node
}

// Node returns the node registered under the given key, or nil
func (m *Mapper) Node(key Key) *Node {
	return m.nodes[key]
}

// Len returns the number of registered nodes
func (m *Mapper) Len() int {
	return len(m.nodes)
}

// Nodes returns all registered nodes in insertion order
func (m *Mapper) Nodes() []*Node {
	out := make([]*Node, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.nodes[key])
	}
	return out
}

// RootNodes returns all registered nodes without parent edges, in insertion
// order
func (m *Mapper) RootNodes() []*Node {
	var out []*Node
	for _, key := range m.order {
		if node := m.nodes[key]; node.IsRoot() {
			out = append(out, node)
		}
	}
	return out
}
