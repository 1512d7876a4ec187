// Walker spawning: creates the initial population with names and traits.
package agents

import (
	"math/rand"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// Spec describes a hand-authored walker.
type Spec struct {
	Name   string       `yaml:"name"`
	Start  world.NodeID `yaml:"start"`
	Traits Traits       `yaml:"traits"`
}

// Spawner creates walkers for the simulation.
type Spawner struct {
	rng    *rand.Rand
	nextID ID
}

// NewSpawner creates a walker spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
	}
}

// SetNextID sets the next walker ID to be issued (used when restoring from DB).
func (s *Spawner) SetNextID(id ID) {
	s.nextID = id
}

// Spawn creates count walkers at the given nodes, cycling through them.
func (s *Spawner) Spawn(count int, starts []world.NodeID, tick uint64) []*Agent {
	if len(starts) == 0 {
		return nil
	}
	out := make([]*Agent, 0, count)
	used := make(map[string]bool)
	for i := 0; i < count; i++ {
		name := s.generateName()
		for tries := 0; used[name] && tries < 10; tries++ {
			name = s.generateName()
		}
		used[name] = true
		out = append(out, s.build(name, s.generateTraits(), starts[i%len(starts)], tick))
	}
	return out
}

// FromSpecs creates walkers from explicit descriptions.
func (s *Spawner) FromSpecs(specs []Spec, tick uint64) []*Agent {
	out := make([]*Agent, 0, len(specs))
	for _, sp := range specs {
		name := sp.Name
		if name == "" {
			name = s.generateName()
		}
		out = append(out, s.build(name, sp.Traits.Clamped(), sp.Start, tick))
	}
	return out
}

func (s *Spawner) build(name string, traits Traits, start world.NodeID, tick uint64) *Agent {
	id := s.nextID
	s.nextID++
	return &Agent{
		ID:         id,
		Name:       name,
		Traits:     traits,
		Activity:   ActivityIdle,
		At:         start,
		Next:       start,
		Goal:       start,
		JoinedTick: tick,
	}
}

// generateTraits draws each trait from a bell curve around the middle so
// extremes stay rare.
func (s *Spawner) generateTraits() Traits {
	draw := func() float64 {
		return 0.5 + s.rng.NormFloat64()*0.18
	}
	return Traits{
		Sociability: draw(),
		Openness:    draw(),
		Warmth:      draw(),
		Courage:     draw(),
		Perception:  draw(),
		Temper:      draw(),
	}.Clamped()
}

func (s *Spawner) generateName() string {
	var firsts []string
	if s.rng.Float32() < 0.5 {
		firsts = maleNames
	} else {
		firsts = femaleNames
	}
	first := firsts[s.rng.Intn(len(firsts))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

var maleNames = []string{
	"Aldric", "Bram", "Cedric", "Doran", "Erik", "Finn", "Gareth",
	"Halvard", "Ivan", "Jasper", "Kael", "Leif", "Magnus", "Nils",
	"Oswin", "Per", "Quinn", "Rowan", "Stellan", "Theron", "Ulric",
}

var femaleNames = []string{
	"Astrid", "Brenna", "Calla", "Daria", "Elara", "Freya", "Greta",
	"Helene", "Iris", "Juno", "Kira", "Lena", "Mira", "Nessa",
	"Olwen", "Petra", "Runa", "Senna", "Thea", "Una", "Vera",
}

var lastNames = []string{
	"Voss", "Thornwood", "Blackwood", "Ashford", "Dunmore", "Greenvale",
	"Stormcrow", "Hearthstone", "Millward", "Ravenmoor", "Silverdale",
	"Deepwell", "Brightwater", "Redforge", "Windholm", "Marshwood",
	"Holloway", "Dawnridge", "Farrow", "Thatcher", "Briar", "Harper",
}
