package world

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNoRoute is returned when no path connects two locations.
	ErrNoRoute = errors.New("world: no route")
	// ErrUnknownNode is returned for node IDs absent from the graph.
	ErrUnknownNode = errors.New("world: unknown node")
)

// NodeID identifies a location on the route graph.
type NodeID uint32

// Terrain describes the ground at a location. It feeds edge cost.
type Terrain uint8

const (
	TerrainRoad Terrain = iota
	TerrainForest
	TerrainHills
	TerrainVillage
	TerrainBridge
)

var terrainNames = [...]string{"road", "forest", "hills", "village", "bridge"}

func (t Terrain) String() string {
	if int(t) < len(terrainNames) {
		return terrainNames[t]
	}
	return "unknown"
}

// ParseTerrain maps a terrain name back to its value. Unknown names are road.
func ParseTerrain(name string) Terrain {
	for i, n := range terrainNames {
		if n == name {
			return Terrain(i)
		}
	}
	return TerrainRoad
}

// Node is a single location.
type Node struct {
	ID      NodeID  `json:"id"`
	Name    string  `json:"name"`
	Pos     Point   `json:"pos"`
	Terrain Terrain `json:"terrain"`
}

// Edge is one direction of an undirected path between two nodes.
type Edge struct {
	From   NodeID  `json:"from"`
	To     NodeID  `json:"to"`
	Length float64 `json:"length"` // Euclidean length, used by movement
	Cost   float64 `json:"cost"`   // Traversal cost, used by routing
}

// Graph holds the complete route network. It is built once at load time and
// treated as immutable afterwards.
type Graph struct {
	nodes map[NodeID]*Node
	adj   map[NodeID][]Edge
	ids   []NodeID
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[NodeID]*Node),
		adj:   make(map[NodeID][]Edge),
	}
}

// AddNode inserts a location. IDs must be unique.
func (g *Graph) AddNode(n Node) error {
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("world: duplicate node %d", n.ID)
	}
	node := n
	g.nodes[n.ID] = &node
	i := sort.Search(len(g.ids), func(i int) bool { return g.ids[i] >= n.ID })
	g.ids = append(g.ids, 0)
	copy(g.ids[i+1:], g.ids[i:])
	g.ids[i] = n.ID
	return nil
}

// Connect adds an undirected path between a and b. A non-positive cost
// defaults to the Euclidean length.
func (g *Graph) Connect(a, b NodeID, cost float64) error {
	na, ok := g.nodes[a]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, a)
	}
	nb, ok := g.nodes[b]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, b)
	}
	if a == b {
		return fmt.Errorf("world: self loop on node %d", a)
	}
	length := Distance(na.Pos, nb.Pos)
	if cost <= 0 {
		cost = length
	}
	g.insertEdge(Edge{From: a, To: b, Length: length, Cost: cost})
	g.insertEdge(Edge{From: b, To: a, Length: length, Cost: cost})
	return nil
}

// insertEdge keeps adjacency lists sorted by destination so traversal order
// is stable.
func (g *Graph) insertEdge(e Edge) {
	list := g.adj[e.From]
	i := sort.Search(len(list), func(i int) bool { return list[i].To >= e.To })
	if i < len(list) && list[i].To == e.To {
		list[i] = e
		return
	}
	list = append(list, Edge{})
	copy(list[i+1:], list[i:])
	list[i] = e
	g.adj[e.From] = list
}

// Node returns the location with the given ID.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Neighbors returns the outgoing edges of a node ordered by destination ID.
func (g *Graph) Neighbors(id NodeID) []Edge {
	return g.adj[id]
}

// EdgeLength returns the length of the direct path between a and b.
func (g *Graph) EdgeLength(a, b NodeID) (float64, bool) {
	for _, e := range g.adj[a] {
		if e.To == b {
			return e.Length, true
		}
	}
	return 0, false
}

// NodeIDs returns all node IDs in ascending order.
func (g *Graph) NodeIDs() []NodeID {
	out := make([]NodeID, len(g.ids))
	copy(out, g.ids)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Position interpolates a point a distance progress along the edge from a to
// b. When b is not adjacent to a, the position of a is returned.
func (g *Graph) Position(a, b NodeID, progress float64) Point {
	na, ok := g.nodes[a]
	if !ok {
		return Point{}
	}
	if a == b || progress <= 0 {
		return na.Pos
	}
	nb, ok := g.nodes[b]
	if !ok {
		return na.Pos
	}
	length, ok := g.EdgeLength(a, b)
	if !ok || length == 0 {
		return na.Pos
	}
	return Lerp(na.Pos, nb.Pos, progress/length)
}

// String returns a summary of the graph.
func (g *Graph) String() string {
	edges := 0
	for _, list := range g.adj {
		edges += len(list)
	}
	return fmt.Sprintf("Graph(nodes=%d, paths=%d)", len(g.ids), edges/2)
}
