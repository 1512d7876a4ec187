// Simulation ties together all walk systems and advances them one tick at a
// time in a fixed order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/approach"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cognition"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/crisis"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cupid"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/dialogue"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/movement"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/overhear"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/telemetry"
)

// ErrUnknownWalker is returned when retiring a walker that does not exist.
var ErrUnknownWalker = errors.New("engine: unknown walker")

// Config holds simulation policy for every subsystem.
type Config struct {
	Seed          int64  `yaml:"seed"`
	ReportEvery   uint64 `yaml:"report_every"`   // Ticks between summary log lines; 0 disables
	KeepSessions  int    `yaml:"keep_sessions"`  // Closed sessions held in memory
	ViewNarrative int    `yaml:"view_narrative"` // Recent entries published for readers

	Movement movement.Config  `yaml:"movement"`
	Approach approach.Config  `yaml:"approach"`
	Dialogue dialogue.Config  `yaml:"dialogue"`
	Overhear overhear.Config  `yaml:"overhear"`
	Crisis   crisis.Config    `yaml:"crisis"`
	Cupid    cupid.Config     `yaml:"cupid"`
	Context  cognition.Limits `yaml:"context"`
	Client   cognition.Config `yaml:"agent_client"`
}

// DefaultConfig returns the standard simulation policy.
func DefaultConfig() Config {
	return Config{
		Seed:          42,
		ReportEvery:   100,
		KeepSessions:  64,
		ViewNarrative: 200,
		Movement:      movement.DefaultConfig(),
		Approach:      approach.DefaultConfig(),
		Dialogue:      dialogue.DefaultConfig(),
		Overhear:      overhear.DefaultConfig(),
		Crisis:        crisis.DefaultConfig(),
		Cupid:         cupid.DefaultConfig(),
		Context:       cognition.DefaultLimits(),
		Client:        cognition.DefaultConfig(),
	}
}

// Validate checks every subsystem's policy.
func (c Config) Validate() error {
	if c.KeepSessions < 0 || c.ViewNarrative < 0 {
		return fmt.Errorf("engine: retention bounds must not be negative")
	}
	return errors.Join(
		c.Movement.Validate(),
		c.Approach.Validate(),
		c.Dialogue.Validate(),
		c.Overhear.Validate(),
		c.Crisis.Validate(),
		c.Cupid.Validate(),
		c.Client.Validate(),
	)
}

// Simulation owns the world state and the subsystems that mutate it.
type Simulation struct {
	Store *state.Store

	// OnCommit, when set, receives each tick's committed narrative entries
	// from the goroutine driving Advance.
	OnCommit func(tick uint64, entries []narrative.Entry)

	cfg        Config
	client     *cognition.Client
	walker     *movement.Walker
	listener   *overhear.Listener
	negotiator *approach.Negotiator
	dialogues  *dialogue.Manager
	director   *crisis.Director
	cupid      *cupid.Engine
	log        *slog.Logger

	mu        sync.Mutex // Serializes Advance and Retire
	snapshot  atomic.Pointer[state.Snapshot]
	recent    atomic.Pointer[[]narrative.Entry]
	tickDur   metric.Float64Histogram
	committed metric.Int64Counter
}

// New wires a simulation over a populated store. A nil reasoner runs every
// decision through the local fallbacks.
func New(cfg Config, st *state.Store, r cognition.Reasoner, log *slog.Logger) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	builder := cognition.NewBuilder(cfg.Context)
	client := cognition.NewClient(r, cfg.Client, log.With("component", "agent_client"))
	scorer := cupid.New(cfg.Cupid, log.With("component", "cupid"))
	dialogues := dialogue.New(cfg.Dialogue, builder, client, log.With("component", "dialogue"))

	meter := telemetry.Meter(telemetry.ScopeEngine)
	tickDur, _ := meter.Float64Histogram("walk.tick.duration",
		metric.WithDescription("Wall time to advance one tick (ms)"),
		metric.WithUnit("ms"),
	)
	committed, _ := meter.Int64Counter("walk.narrative.entries",
		metric.WithDescription("Narrative entries committed"),
	)

	s := &Simulation{
		Store:      st,
		cfg:        cfg,
		client:     client,
		walker:     movement.New(cfg.Movement, cfg.Seed, log.With("component", "movement")),
		listener:   overhear.New(cfg.Overhear, cfg.Seed, log.With("component", "overhear")),
		negotiator: approach.New(cfg.Approach, scorer, builder, client, dialogues, log.With("component", "approach")),
		dialogues:  dialogues,
		director:   crisis.New(cfg.Crisis, builder, client, cfg.Seed, log.With("component", "crisis")),
		cupid:      scorer,
		log:        log,
		tickDur:    tickDur,
		committed:  committed,
	}
	s.publish()
	return s, nil
}

// Config returns the simulation policy.
func (s *Simulation) Config() Config {
	return s.cfg
}

// Reasoning reports whether decisions go to the reasoning service.
func (s *Simulation) Reasoning() bool {
	return s.client.Enabled()
}

// Advance runs one tick and returns the narrative entries it committed.
//
// Order: movement and proximity, overhear then approach, dialogue turns,
// crises, relationship re-scoring, narrative commit, tick increment. A
// failing step is logged and recorded as a diagnostic; the rest of the tick
// still runs.
func (s *Simulation) Advance(ctx context.Context) []narrative.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	st := s.Store

	s.guard("movement", func() {
		s.walker.Step(st)
		st.SetProximity(movement.Proximity(st, s.cfg.Movement.ProximityRadius))
	})
	s.guard("overhear", func() { s.listener.Process(st) })
	s.guard("approach", func() { s.negotiator.Step(ctx, st) })
	s.guard("dialogue", func() {
		closed := s.dialogues.Step(ctx, st)
		s.negotiator.Release(st, closed)
	})
	s.guard("crisis", func() { s.director.Step(ctx, st) })
	s.guard("cupid", func() { s.cupid.Rescore(st) })

	entries := st.Narrative.Commit()
	st.PruneSessions(s.cfg.KeepSessions)
	tick := st.Tick
	st.Tick++

	s.publish()
	s.tickDur.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	s.committed.Add(ctx, int64(len(entries)))

	if s.OnCommit != nil {
		s.OnCommit(tick, entries)
	}
	if s.cfg.ReportEvery > 0 && st.Tick%s.cfg.ReportEvery == 0 {
		s.report()
	}
	return entries
}

// AdvanceN runs n ticks, stopping early if ctx is done, and returns every
// entry committed.
func (s *Simulation) AdvanceN(ctx context.Context, n int) []narrative.Entry {
	var all []narrative.Entry
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		all = append(all, s.Advance(ctx)...)
	}
	return all
}

func (s *Simulation) guard(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %s step panicked: %v", state.ErrInvariant, step, r)
			s.log.Error("tick step failed", "step", step, "tick", s.Store.Tick, "error", err)
			s.Store.Diagnose(err, nil, step)
		}
	}()
	fn()
}

// publish refreshes the copies concurrent readers see.
func (s *Simulation) publish() {
	snap := s.Store.Snapshot()
	s.snapshot.Store(&snap)
	recent := s.Store.Narrative.Recent(s.cfg.ViewNarrative)
	s.recent.Store(&recent)
}

// Snapshot returns a private copy of the state as of the last completed
// tick. Safe to call from any goroutine.
func (s *Simulation) Snapshot() state.Snapshot {
	return s.snapshot.Load().Clone()
}

// Latest returns the published snapshot itself. Every caller shares it, so it
// must not be modified.
func (s *Simulation) Latest() *state.Snapshot {
	return s.snapshot.Load()
}

// Recent returns up to n of the most recently committed entries matching all
// filters, most recent first. Safe to call from any goroutine.
func (s *Simulation) Recent(n int, filters ...narrative.Filter) []narrative.Entry {
	var out []narrative.Entry
	for _, e := range *s.recent.Load() {
		if len(out) >= n {
			break
		}
		ok := true
		for _, f := range filters {
			if !f(e) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, e)
		}
	}
	return out
}

// CurrentTick returns the next tick to be processed.
func (s *Simulation) CurrentTick() uint64 {
	return s.Latest().Tick
}

// Retire takes a walker out of the simulation. It stays in the store for
// narrative consistency; sessions, proposals and crisis offers involving it
// are dropped as they come up.
func (s *Simulation) Retire(id agents.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.Store.Agent(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWalker, id)
	}
	a.Activity = agents.ActivityInactive
	a.Path = nil
	s.log.Info("walker retired", "walker", id, "name", a.Name, "tick", s.Store.Tick)
	s.publish()
	return nil
}

// WithStore runs fn with exclusive access to the store between ticks.
func (s *Simulation) WithStore(fn func(st *state.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.Store)
}

// InFlight returns the number of reasoning calls not yet finished.
func (s *Simulation) InFlight() int64 {
	return s.client.InFlight()
}

func (s *Simulation) report() {
	snap := s.Latest()
	activity := make(map[string]int)
	for _, a := range snap.Agents {
		activity[a.Activity]++
	}
	stages := make(map[string]int)
	for _, r := range snap.Relationships {
		stages[r.Stage]++
	}

	s.log.Info("walk report",
		"tick", snap.Tick,
		"walkers", len(snap.Agents),
		"walking", activity[agents.ActivityWalking.String()],
		"talking", activity[agents.ActivityTalking.String()],
		"inactive", activity[agents.ActivityInactive.String()],
		"dialogues", len(snap.Dialogues),
		"active_crises", len(snap.Crises),
		"acquainted", stages[state.StageAcquainted.String()],
		"attracted", stages[state.StageAttracted.String()],
		"committed", stages[state.StageCommitted.String()],
		"broken", stages[state.StageBroken.String()],
		"narrative", s.Store.Narrative.LastSeq(),
		"in_flight", s.client.InFlight(),
	)
}
