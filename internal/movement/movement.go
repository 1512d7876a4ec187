// Package movement walks walkers along their routes and works out who is near
// whom.
package movement

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// Config holds movement parameters.
type Config struct {
	Speed           float64 `yaml:"speed"`            // Distance covered per tick
	ProximityRadius float64 `yaml:"proximity_radius"` // Walkers this close are proximate
	WanderChance    float64 `yaml:"wander_chance"`    // Chance per tick an idle walker picks a new goal
}

// DefaultConfig returns the standard movement parameters.
func DefaultConfig() Config {
	return Config{
		Speed:           4,
		ProximityRadius: 6,
		WanderChance:    0.3,
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.Speed <= 0 {
		return fmt.Errorf("movement: speed must be positive")
	}
	if c.ProximityRadius < 0 {
		return fmt.Errorf("movement: proximity_radius must not be negative")
	}
	if c.WanderChance < 0 || c.WanderChance > 1 {
		return fmt.Errorf("movement: wander_chance must be in [0,1]")
	}
	return nil
}

// Walker moves every free walker once per tick.
type Walker struct {
	cfg Config
	rng *rand.Rand
	log *slog.Logger
}

// New creates a mover with its own seeded goal picker.
func New(cfg Config, seed int64, log *slog.Logger) *Walker {
	if log == nil {
		log = slog.Default()
	}
	return &Walker{cfg: cfg, rng: rand.New(rand.NewSource(seed + 500)), log: log}
}

// Config returns the movement parameters.
func (w *Walker) Config() Config {
	return w.cfg
}

// SetGoal plans a route for a walker. On a routing failure the goal is
// dropped and the walker goes idle.
func SetGoal(st *state.Store, a *agents.Agent, goal world.NodeID) error {
	path, _, err := st.Graph.ShortestPath(a.At, goal)
	if err != nil {
		a.Path = nil
		a.Goal = a.At
		a.Next = a.At
		a.Progress = 0
		if a.Activity == agents.ActivityWalking {
			a.Activity = agents.ActivityIdle
		}
		return err
	}
	a.Goal = goal
	a.Path = path
	a.Progress = 0
	if len(path) == 0 {
		a.Next = a.At
		return nil
	}
	a.Next = path[0]
	if a.Activity == agents.ActivityIdle {
		a.Activity = agents.ActivityWalking
	}
	return nil
}

// Step advances every walker that is not busy or inactive, in ascending ID
// order. It returns walkers that reached their goal this tick.
func (w *Walker) Step(st *state.Store) []agents.ID {
	var arrived []agents.ID
	nodes := st.Graph.NodeIDs()

	for _, a := range st.Agents() {
		if a.Activity == agents.ActivityInactive || a.Busy() {
			continue
		}

		if a.Activity == agents.ActivityIdle {
			if len(a.Path) > 0 {
				a.Activity = agents.ActivityWalking
			} else if w.rng.Float64() < w.cfg.WanderChance && len(nodes) > 1 {
				goal := nodes[w.rng.Intn(len(nodes))]
				if goal == a.At {
					continue
				}
				if err := SetGoal(st, a, goal); err != nil {
					w.routeFailed(st, a, goal, err)
					continue
				}
			}
		}

		if a.Activity != agents.ActivityWalking {
			continue
		}
		if w.advance(st, a) {
			arrived = append(arrived, a.ID)
		}
	}
	return arrived
}

// advance moves a walker Speed units along its path. It reports arrival.
func (w *Walker) advance(st *state.Store, a *agents.Agent) bool {
	budget := w.cfg.Speed
	for budget > 0 {
		if len(a.Path) == 0 {
			a.Next = a.At
			a.Progress = 0
			a.Activity = agents.ActivityIdle
			return true
		}
		length, ok := st.Graph.EdgeLength(a.At, a.Next)
		if !ok {
			err := fmt.Errorf("%w: %d -> %d", world.ErrNoRoute, a.At, a.Next)
			w.routeFailed(st, a, a.Goal, err)
			return false
		}
		remaining := length - a.Progress
		if budget < remaining {
			a.Progress += budget
			return false
		}
		budget -= remaining
		a.At = a.Next
		a.Progress = 0
		a.Path = a.Path[1:]
		if len(a.Path) == 0 {
			a.Next = a.At
			a.Activity = agents.ActivityIdle
			return true
		}
		a.Next = a.Path[0]
	}
	return false
}

func (w *Walker) routeFailed(st *state.Store, a *agents.Agent, goal world.NodeID, err error) {
	a.Path = nil
	a.Goal = a.At
	a.Next = a.At
	a.Progress = 0
	a.Activity = agents.ActivityIdle
	if !errors.Is(err, world.ErrNoRoute) && !errors.Is(err, world.ErrUnknownNode) {
		w.log.Warn("movement: unexpected routing error", "walker", a.ID, "error", err)
	}
	st.Stage(narrative.KindRouteFailed, []agents.ID{a.ID}, map[string]string{
		"goal":  fmt.Sprintf("%d", goal),
		"error": err.Error(),
	})
}

// Proximity returns every pair of active walkers that share a node or stand
// within radius of each other, in pair order. It is recomputed from current
// positions each call.
func Proximity(st *state.Store, radius float64) []state.Pair {
	type placed struct {
		id         agents.ID
		at         world.NodeID
		stationary bool
		pos        world.Point
	}
	var ps []placed
	for _, a := range st.Agents() {
		if a.Activity == agents.ActivityInactive {
			continue
		}
		ps = append(ps, placed{id: a.ID, at: a.At, stationary: a.Stationary(), pos: a.Position(st.Graph)})
	}

	var pairs []state.Pair
	for i := 0; i < len(ps); i++ {
		for j := i + 1; j < len(ps); j++ {
			a, b := ps[i], ps[j]
			sameNode := a.stationary && b.stationary && a.at == b.at
			if sameNode || world.Distance(a.pos, b.pos) <= radius {
				pairs = append(pairs, state.MakePair(a.id, b.id))
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })
	return pairs
}

// Within returns walkers other than the excluded ones whose position lies
// within radius of p, in ascending ID order.
func Within(st *state.Store, p world.Point, radius float64, exclude ...agents.ID) []agents.ID {
	var out []agents.ID
outer:
	for _, a := range st.Agents() {
		if a.Activity == agents.ActivityInactive {
			continue
		}
		for _, x := range exclude {
			if a.ID == x {
				continue outer
			}
		}
		if world.Distance(a.Position(st.Graph), p) <= radius {
			out = append(out, a.ID)
		}
	}
	return out
}
