// Route generation using layered simplex noise.
// Lays out a long winding road, assigns terrain along it, and branches side
// villages that rejoin the road further on so walkers have alternate routes.
package world

import (
	"fmt"
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds route generation parameters.
type GenConfig struct {
	Seed      int64   `yaml:"seed"`
	Waypoints int     `yaml:"waypoints"` // Nodes along the main road
	Spacing   float64 `yaml:"spacing"`   // Distance between consecutive waypoints
	Wiggle    float64 `yaml:"wiggle"`    // Lateral amplitude of the road
	Villages  int     `yaml:"villages"`  // Side villages branching off the road
	Rugged    float64 `yaml:"rugged"`    // How strongly terrain inflates path cost
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:      0,
		Waypoints: 24,
		Spacing:   10,
		Wiggle:    18,
		Villages:  4,
		Rugged:    0.8,
	}
}

// SmallTestConfig returns a short road for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Seed:      42,
		Waypoints: 6,
		Spacing:   5,
		Wiggle:    4,
		Villages:  1,
		Rugged:    0.5,
	}
}

// Generate creates a route graph from the configuration.
func Generate(cfg GenConfig) (*Graph, error) {
	if cfg.Waypoints < 2 {
		return nil, fmt.Errorf("world: need at least 2 waypoints, got %d", cfg.Waypoints)
	}
	if cfg.Spacing <= 0 {
		return nil, fmt.Errorf("world: spacing must be positive")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	pathNoise := opensimplex.NewNormalized(seed)
	terrainNoise := opensimplex.NewNormalized(seed + 1)
	riverNoise := opensimplex.NewNormalized(seed + 2)
	rng := rand.New(rand.NewSource(seed + 100))

	g := NewGraph()
	names := generateNames(rng, cfg.Waypoints/6+cfg.Villages+2)
	nameIdx := 0
	nextName := func() string {
		n := names[nameIdx%len(names)]
		nameIdx++
		return n
	}

	// Main road.
	prevRiver := 0.0
	for i := 0; i < cfg.Waypoints; i++ {
		x := float64(i) * cfg.Spacing
		y := (octaveNoise(pathNoise, x, 0, 3, 0.04, 0.5)*2 - 1) * cfg.Wiggle

		t := octaveNoise(terrainNoise, x, y, 3, 0.06, 0.5)
		terrain := TerrainRoad
		switch {
		case t < 0.35:
			terrain = TerrainForest
		case t > 0.65:
			terrain = TerrainHills
		}

		river := riverNoise.Eval2(x*0.05, 0)
		if i > 0 && (river-0.5)*(prevRiver-0.5) < 0 {
			terrain = TerrainBridge
		}
		prevRiver = river

		name := fmt.Sprintf("Mile %d", i*int(math.Round(cfg.Spacing)))
		if i == 0 || i == cfg.Waypoints-1 || i%6 == 0 {
			terrain = TerrainVillage
			name = nextName()
		}

		id := NodeID(i + 1)
		if err := g.AddNode(Node{ID: id, Name: name, Pos: Point{X: x, Y: y}, Terrain: terrain}); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := g.Connect(id-1, id, 0); err != nil {
				return nil, err
			}
		}
	}
	for i := 1; i < cfg.Waypoints; i++ {
		a, b := NodeID(i), NodeID(i+1)
		if err := reweigh(g, a, b, cfg.Rugged); err != nil {
			return nil, err
		}
	}

	// Side villages: a spur off waypoint k that rejoins at k+2.
	if cfg.Villages > 0 && cfg.Waypoints >= 3 {
		stride := (cfg.Waypoints - 2) / cfg.Villages
		if stride < 1 {
			stride = 1
		}
		next := NodeID(cfg.Waypoints + 1)
		for v := 0; v < cfg.Villages; v++ {
			k := 1 + v*stride
			if k+2 > cfg.Waypoints {
				break
			}
			base, _ := g.Node(NodeID(k))
			side := 1.0
			if rng.Float64() < 0.5 {
				side = -1
			}
			pos := Point{
				X: base.Pos.X + cfg.Spacing,
				Y: base.Pos.Y + side*cfg.Spacing*(1+rng.Float64()),
			}
			if err := g.AddNode(Node{ID: next, Name: nextName(), Pos: pos, Terrain: TerrainVillage}); err != nil {
				return nil, err
			}
			for _, end := range []NodeID{NodeID(k), NodeID(k + 2)} {
				if err := g.Connect(next, end, 0); err != nil {
					return nil, err
				}
				if err := reweigh(g, next, end, cfg.Rugged); err != nil {
					return nil, err
				}
			}
			next++
		}
	}

	return g, nil
}

// reweigh sets the cost of the path between a and b from the terrain at both
// ends.
func reweigh(g *Graph, a, b NodeID, rugged float64) error {
	na, _ := g.Node(a)
	nb, _ := g.Node(b)
	length, ok := g.EdgeLength(a, b)
	if !ok {
		return fmt.Errorf("%w: %d -> %d", ErrNoRoute, a, b)
	}
	difficulty := (terrainDifficulty(na.Terrain) + terrainDifficulty(nb.Terrain)) / 2
	return g.Connect(a, b, length*(1+rugged*difficulty))
}

func terrainDifficulty(t Terrain) float64 {
	switch t {
	case TerrainForest:
		return 0.5
	case TerrainHills:
		return 1.0
	case TerrainBridge:
		return 0.2
	default:
		return 0
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// generateNames produces procedural village names by combining syllables.
func generateNames(rng *rand.Rand, count int) []string {
	prefixes := []string{
		"Iron", "Green", "Ash", "Stone", "Mill", "Cross", "Black",
		"Silver", "Red", "White", "Dark", "Bright", "High", "Low",
		"Old", "New", "Far", "Deep", "Long", "Broad", "Gold", "Frost",
		"Storm", "Thorn", "Elm", "Oak", "Pine", "Copper", "River",
	}
	suffixes := []string{
		"haven", "ford", "hollow", "wick", "bridge", "gate", "keep",
		"stead", "wood", "field", "dale", "crest", "vale", "port",
		"town", "bury", "marsh", "well", "brook", "cliff", "moor",
		"ridge", "watch", "fall", "rest", "point", "reach", "helm",
	}

	used := make(map[string]bool)
	names := make([]string, 0, count)

	for attempts := 0; len(names) < count; attempts++ {
		name := prefixes[rng.Intn(len(prefixes))] + suffixes[rng.Intn(len(suffixes))]
		if used[name] {
			if attempts < count*20 {
				continue
			}
			name = fmt.Sprintf("%s %d", name, attempts)
		}
		used[name] = true
		names = append(names, name)
	}

	return names
}
