package world

import "fmt"

// NodeSpec describes a location in a hand-authored route file.
type NodeSpec struct {
	ID      NodeID  `yaml:"id"`
	Name    string  `yaml:"name"`
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Terrain string  `yaml:"terrain"`
}

// EdgeSpec describes a path in a hand-authored route file. A zero cost means
// the Euclidean length.
type EdgeSpec struct {
	From NodeID  `yaml:"from"`
	To   NodeID  `yaml:"to"`
	Cost float64 `yaml:"cost"`
}

// FromSpec builds a graph from explicit nodes and edges.
func FromSpec(nodes []NodeSpec, edges []EdgeSpec) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("world: route has no nodes")
	}
	g := NewGraph()
	for _, n := range nodes {
		name := n.Name
		if name == "" {
			name = fmt.Sprintf("Node %d", n.ID)
		}
		if err := g.AddNode(Node{
			ID:      n.ID,
			Name:    name,
			Pos:     Point{X: n.X, Y: n.Y},
			Terrain: ParseTerrain(n.Terrain),
		}); err != nil {
			return nil, err
		}
	}
	for _, e := range edges {
		if err := g.Connect(e.From, e.To, e.Cost); err != nil {
			return nil, fmt.Errorf("world: edge %d-%d: %w", e.From, e.To, err)
		}
	}
	return g, nil
}
