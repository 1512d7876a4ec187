// Package cupid scores walker compatibility and moves relationships through
// their stages. It never starts an interaction; it only reacts to the
// interactions other subsystems queue on the store.
package cupid

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
)

// Band is a stage's entry and exit thresholds. Up must exceed Down so a pair
// hovering near one value cannot flip back and forth.
type Band struct {
	Up   float64 `yaml:"up"`
	Down float64 `yaml:"down"`
}

// Config holds the scoring policy.
type Config struct {
	CompatWeight   float64 `yaml:"compat_weight"` // Share of affinity from traits alone
	HalfLife       float64 `yaml:"half_life"`     // Ticks for an outcome to lose half its weight; 0 disables decay
	Acquainted     Band    `yaml:"acquainted"`
	Attracted      Band    `yaml:"attracted"`
	Committed      Band    `yaml:"committed"`
	BreakThreshold float64 `yaml:"break_threshold"` // Affinity at or below this breaks the pair for good
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		CompatWeight:   0.3,
		HalfLife:       60,
		Acquainted:     Band{Up: 0.0, Down: -0.2},
		Attracted:      Band{Up: 0.45, Down: 0.25},
		Committed:      Band{Up: 0.75, Down: 0.55},
		BreakThreshold: -0.6,
	}
}

// Validate checks band ordering.
func (c Config) Validate() error {
	bands := []struct {
		name string
		b    Band
	}{{"acquainted", c.Acquainted}, {"attracted", c.Attracted}, {"committed", c.Committed}}
	for i, b := range bands {
		if b.b.Up <= b.b.Down {
			return fmt.Errorf("cupid: %s up threshold %.2f must exceed down %.2f", b.name, b.b.Up, b.b.Down)
		}
		if i > 0 && b.b.Up <= bands[i-1].b.Up {
			return fmt.Errorf("cupid: %s up threshold must exceed %s", b.name, bands[i-1].name)
		}
	}
	if c.BreakThreshold >= c.Acquainted.Down {
		return fmt.Errorf("cupid: break threshold %.2f must be below acquainted down %.2f", c.BreakThreshold, c.Acquainted.Down)
	}
	if c.HalfLife < 0 {
		return fmt.Errorf("cupid: half_life must not be negative")
	}
	return nil
}

func (c Config) band(s state.Stage) Band {
	switch s {
	case state.StageAcquainted:
		return c.Acquainted
	case state.StageAttracted:
		return c.Attracted
	case state.StageCommitted:
		return c.Committed
	}
	return Band{}
}

// Compatibility scores how well two trait records suit each other, in [-1,1].
// Similar openness, warmth and sociability help; warmth helps on its own and
// temper hurts.
func Compatibility(a, b agents.Traits) float64 {
	similarity := 1 - (math.Abs(a.Openness-b.Openness)+
		math.Abs(a.Warmth-b.Warmth)+
		math.Abs(a.Sociability-b.Sociability))/3
	warmth := (a.Warmth + b.Warmth) / 2
	temper := (a.Temper + b.Temper) / 2
	raw := 0.6*similarity + 0.4*warmth - 0.4*temper
	return clamp(2*raw-1, -1, 1)
}

// Decay returns the weight of an outcome age ticks old.
func (c Config) Decay(age uint64) float64 {
	if c.HalfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/c.HalfLife)
}

// Affinity combines compatibility with the decayed interaction history.
func (c Config) Affinity(compat float64, history []state.Interaction, now uint64) float64 {
	sum := c.CompatWeight * compat
	for _, in := range history {
		age := uint64(0)
		if now > in.Tick {
			age = now - in.Tick
		}
		sum += in.Outcome * c.Decay(age)
	}
	return clamp(sum, -1, 1)
}

// Transition returns the stage after one re-score. It moves at most one step.
func (c Config) Transition(cur state.Stage, affinity float64, interacted bool) state.Stage {
	if cur == state.StageBroken {
		return cur
	}
	if affinity <= c.BreakThreshold {
		return state.StageBroken
	}
	if cur < state.StageCommitted {
		next := cur + 1
		if affinity >= c.band(next).Up && (cur != state.StageUnacquainted || interacted) {
			return next
		}
	}
	if cur > state.StageUnacquainted && affinity < c.band(cur).Down {
		return cur - 1
	}
	return cur
}

// Engine re-scores relationships touched during a tick.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// New creates a relationship engine.
func New(cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, log: log}
}

// Config returns the scoring policy.
func (e *Engine) Config() Config {
	return e.cfg
}

// Affinity returns a pair's current affinity, computed from traits alone when
// no record exists yet.
func (e *Engine) Affinity(st *state.Store, p state.Pair) float64 {
	if r, ok := st.Relationship(p); ok {
		return r.Affinity
	}
	a, okA := st.Agent(p.A)
	b, okB := st.Agent(p.B)
	if !okA || !okB {
		return 0
	}
	return e.cfg.Affinity(Compatibility(a.Traits, b.Traits), nil, st.Tick)
}

// Rescore applies queued interactions and re-scores every touched pair in
// pair order. It returns the pairs whose stage changed.
func (e *Engine) Rescore(st *state.Store) []state.Pair {
	touches := st.DrainTouches()
	if len(touches) == 0 {
		return nil
	}

	touched := make(map[state.Pair]bool)
	for _, t := range touches {
		r, err := st.EnsureRelationship(t.Pair)
		if err != nil {
			e.log.Warn("cupid: dropping interaction", "pair", t.Pair.String(), "error", err)
			st.Diagnose(err, []agents.ID{t.Pair.A, t.Pair.B}, t.Interaction.Ref)
			continue
		}
		r.Append(t.Interaction)
		touched[t.Pair] = true
	}

	pairs := make([]state.Pair, 0, len(touched))
	for p := range touched {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })

	var changed []state.Pair
	for _, p := range pairs {
		r, _ := st.Relationship(p)
		a, _ := st.Agent(p.A)
		b, _ := st.Agent(p.B)

		r.Affinity = e.cfg.Affinity(Compatibility(a.Traits, b.Traits), r.History, st.Tick)
		r.ScoredTick = st.Tick
		next := e.cfg.Transition(r.Stage, r.Affinity, len(r.History) > 0)
		if next == r.Stage {
			continue
		}

		e.log.Debug("relationship stage changed",
			"pair", p.String(),
			"from", r.Stage.String(),
			"to", next.String(),
			"affinity", fmt.Sprintf("%.3f", r.Affinity),
		)
		st.Stage(narrative.KindRelationshipStage, []agents.ID{p.A, p.B}, map[string]string{
			"from":     r.Stage.String(),
			"to":       next.String(),
			"affinity": fmt.Sprintf("%.3f", r.Affinity),
		})
		r.Stage = next
		changed = append(changed, p)
	}
	return changed
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
