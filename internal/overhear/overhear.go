// Package overhear lets walkers near a conversation pick up lossy copies of
// what was said. The conversation itself is only ever read.
package overhear

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/movement"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// Config shapes the comprehension curve.
//
// A listener at distance d from a speaker whose session has radius r hears a
// line in full with probability Perception × (1 − (d/r)^Falloff), and in part
// with a further PartialBand × (1 − d/r).
type Config struct {
	Falloff        float64 `yaml:"falloff"`
	PartialBand    float64 `yaml:"partial_band"`
	KeepWords      float64 `yaml:"keep_words"`      // Share of words surviving a partial hearing
	JealousyWeight float64 `yaml:"jealousy_weight"` // Scales the negative outcome for a jealous listener
}

// DefaultConfig returns the standard curve.
func DefaultConfig() Config {
	return Config{
		Falloff:        2,
		PartialBand:    0.35,
		KeepWords:      0.5,
		JealousyWeight: 0.4,
	}
}

// Validate checks the curve parameters.
func (c Config) Validate() error {
	if c.Falloff <= 0 {
		return fmt.Errorf("overhear: falloff must be positive")
	}
	if c.PartialBand < 0 || c.PartialBand > 1 {
		return fmt.Errorf("overhear: partial_band must be in [0,1]")
	}
	if c.KeepWords < 0 || c.KeepWords > 1 {
		return fmt.Errorf("overhear: keep_words must be in [0,1]")
	}
	return nil
}

// Comprehension returns the full and partial hearing probabilities for a
// listener with the given perception at distance d from a speaker.
func (c Config) Comprehension(perception, d, radius float64) (full, partial float64) {
	if radius <= 0 || d > radius {
		return 0, 0
	}
	ratio := d / radius
	full = clamp(perception*(1-math.Pow(ratio, c.Falloff)), 0, 1)
	partial = clamp(c.PartialBand*(1-ratio), 0, 1-full)
	return full, partial
}

// Listener propagates overheard lines.
type Listener struct {
	cfg Config
	rng *rand.Rand
	log *slog.Logger
}

// New creates an overhear processor.
func New(cfg Config, seed int64, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{cfg: cfg, rng: rand.New(rand.NewSource(seed + 700)), log: log}
}

// Process handles every line spoken during the previous tick. Listeners are
// the walkers within each session's radius of the speaker, excluding the
// participants. It returns the number of fragments stored.
func (l *Listener) Process(st *state.Store) int {
	if st.Tick == 0 {
		return 0
	}
	prev := st.Tick - 1
	stored := 0

	for _, s := range st.Sessions() {
		if !s.Open && s.ClosedTick < prev {
			continue
		}
		turns := s.TurnsAt(prev)
		if len(turns) == 0 {
			continue
		}
		jealous := make(map[agents.ID]bool)

		for _, t := range turns {
			speaker, ok := st.Agent(t.Speaker)
			if !ok {
				continue
			}
			origin := speaker.Position(st.Graph)
			partner := s.Participants[0]
			if partner == t.Speaker {
				partner = s.Participants[1]
			}

			for _, id := range movement.Within(st, origin, s.Radius, s.Participants[0], s.Participants[1]) {
				listener, _ := st.Agent(id)
				d := world.Distance(listener.Position(st.Graph), origin)
				full, partial := l.cfg.Comprehension(listener.Traits.Perception, d, s.Radius)

				roll := l.rng.Float64()
				var clarity agents.Clarity
				switch {
				case roll < full:
					clarity = agents.ClarityFull
				case roll < full+partial:
					clarity = agents.ClarityPartial
				default:
					continue
				}

				text := t.Utterance
				importance := 0.6
				if clarity == agents.ClarityPartial {
					text = l.degrade(text)
					importance = 0.3
				}
				pair := state.MakePair(id, t.Speaker)
				romantic := st.StageOf(pair).Romantic()
				if romantic {
					importance += 0.3
				}

				agents.Remember(listener, agents.Fragment{
					Tick:       prev,
					Session:    s.ID,
					Speaker:    t.Speaker,
					Text:       text,
					Clarity:    clarity,
					Importance: importance,
				})
				stored++

				st.Stage(narrative.KindOverheard, []agents.ID{id, t.Speaker, partner}, map[string]string{
					"session": s.ID,
					"clarity": clarity.String(),
					"text":    text,
				})

				if romantic && t.Sentiment > 0 && !jealous[id] {
					jealous[id] = true
					st.Touch(pair, state.Interaction{
						Kind:    state.InteractionOverheard,
						Outcome: -l.cfg.JealousyWeight * t.Sentiment,
						Ref:     s.ID,
					})
				}
			}
		}
	}

	if stored > 0 {
		l.log.Debug("overheard", "tick", st.Tick, "fragments", stored)
	}
	return stored
}

// degrade drops words from a line, collapsing gaps into a single ellipsis.
func (l *Listener) degrade(text string) string {
	words := strings.Fields(text)
	var out []string
	gap := false
	for _, w := range words {
		if l.rng.Float64() < l.cfg.KeepWords {
			out = append(out, w)
			gap = false
			continue
		}
		if !gap {
			out = append(out, "...")
			gap = true
		}
	}
	return strings.Join(out, " ")
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
