package world

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond builds 1 -> {2,3} -> 4 with equal costs on both branches.
func diamond(t *testing.T) *Graph {
	t.Helper()
	g, err := FromSpec([]NodeSpec{
		{ID: 1, X: 0, Y: 0},
		{ID: 2, X: 1, Y: 1},
		{ID: 3, X: 1, Y: -1},
		{ID: 4, X: 2, Y: 0},
	}, []EdgeSpec{
		{From: 1, To: 3, Cost: 1},
		{From: 1, To: 2, Cost: 1},
		{From: 3, To: 4, Cost: 1},
		{From: 2, To: 4, Cost: 1},
	})
	require.NoError(t, err)
	return g
}

func TestShortestPath(t *testing.T) {
	g := diamond(t)

	path, cost, err := g.ShortestPath(1, 4)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{2, 4}, path, "ties resolve toward the lower node ID")
	assert.InDelta(t, 2.0, cost, 1e-9)

	path, cost, err = g.ShortestPath(4, 4)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, cost)
}

func TestShortestPathPrefersCheaperBranch(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.Connect(2, 4, 5))

	path, cost, err := g.ShortestPath(1, 4)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{3, 4}, path)
	assert.InDelta(t, 2.0, cost, 1e-9)
}

func TestShortestPathDeterministic(t *testing.T) {
	g := diamond(t)
	first, _, err := g.ShortestPath(4, 1)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, _, err := g.ShortestPath(4, 1)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestShortestPathErrors(t *testing.T) {
	g := diamond(t)
	require.NoError(t, g.AddNode(Node{ID: 9, Pos: Point{X: 50, Y: 50}}))

	_, _, err := g.ShortestPath(1, 9)
	assert.True(t, errors.Is(err, ErrNoRoute))

	_, _, err = g.ShortestPath(1, 42)
	assert.True(t, errors.Is(err, ErrUnknownNode))
}

func TestGraphConnect(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode(Node{ID: 1, Pos: Point{X: 0, Y: 0}}))
	require.NoError(t, g.AddNode(Node{ID: 2, Pos: Point{X: 3, Y: 4}}))
	assert.Error(t, g.AddNode(Node{ID: 1}))
	assert.Error(t, g.Connect(1, 1, 0))

	require.NoError(t, g.Connect(2, 1, 0))
	length, ok := g.EdgeLength(1, 2)
	require.True(t, ok)
	assert.InDelta(t, 5.0, length, 1e-9)
	assert.Equal(t, g.Neighbors(1)[0].Cost, length, "zero cost defaults to length")

	mid := g.Position(1, 2, 2.5)
	assert.InDelta(t, 1.5, mid.X, 1e-9)
	assert.InDelta(t, 2.0, mid.Y, 1e-9)
	assert.Equal(t, Point{}, g.Position(1, 2, 0))
}

func TestGenerate(t *testing.T) {
	cfg := SmallTestConfig()
	g, err := Generate(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Waypoints+cfg.Villages, g.Len())

	// Same seed, same route.
	again, err := Generate(cfg)
	require.NoError(t, err)
	for _, id := range g.NodeIDs() {
		a, _ := g.Node(id)
		b, _ := again.Node(id)
		assert.Equal(t, a, b)
	}

	// Every node is reachable from the trailhead.
	for _, id := range g.NodeIDs()[1:] {
		_, cost, err := g.ShortestPath(1, id)
		require.NoError(t, err, "node %d", id)
		assert.Greater(t, cost, 0.0)
	}

	first, _ := g.Node(1)
	assert.Equal(t, TerrainVillage, first.Terrain)

	_, err = Generate(GenConfig{Waypoints: 1, Spacing: 1})
	assert.Error(t, err)
}

func TestTerrainNames(t *testing.T) {
	for _, tr := range []Terrain{TerrainRoad, TerrainForest, TerrainHills, TerrainVillage, TerrainBridge} {
		assert.Equal(t, tr, ParseTerrain(tr.String()))
	}
	assert.Equal(t, TerrainRoad, ParseTerrain("swamp"))
}
