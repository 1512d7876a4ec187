// Package crisis runs time-bounded world events that walkers may answer.
//
// A crisis stays dormant as a schedule entry or trigger condition until it
// fires. It then moves Triggered → Escalating and ends Resolved when enough
// walkers respond before its deadline, Failed when some but not enough did,
// or TimedOut when nobody did.
package crisis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cognition"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/movement"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// Scheduled is a scripted crisis. Zero Quota, Deadline or Severity take the
// configured defaults; a zero Location picks the first node.
type Scheduled struct {
	Tick     uint64       `yaml:"tick"`
	Kind     string       `yaml:"kind"`
	Quota    int          `yaml:"quota"`
	Deadline uint64       `yaml:"deadline"` // Ticks after triggering
	Severity int          `yaml:"severity"`
	Location world.NodeID `yaml:"location"`
}

// Config holds crisis policy.
type Config struct {
	MaxActive        int         `yaml:"max_active"`
	Deadline         uint64      `yaml:"deadline"`
	Quota            int         `yaml:"quota"`
	Radius           float64     `yaml:"radius"` // Walkers this close to the location are offered a response
	EscalateEvery    uint64      `yaml:"escalate_every"`
	MaxSeverity      int         `yaml:"max_severity"`
	OffersPerTick    int         `yaml:"offers_per_tick"`
	OfferEvery       uint64      `yaml:"offer_every"` // Ticks before a walker who declined is asked again
	Chance           float64     `yaml:"chance"`      // Per-tick probability of a random crisis
	TensionThreshold int         `yaml:"tension_threshold"`
	TensionAffinity  float64     `yaml:"tension_affinity"` // Relationships at or below count as tense
	FallbackCourage  float64     `yaml:"fallback_courage"`
	SharedOutcome    float64     `yaml:"shared_outcome"`
	FailedOutcome    float64     `yaml:"failed_outcome"`
	Kinds            []string    `yaml:"kinds"`
	Schedule         []Scheduled `yaml:"schedule"`
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		MaxActive:        2,
		Deadline:         12,
		Quota:            2,
		Radius:           25,
		EscalateEvery:    4,
		MaxSeverity:      5,
		OffersPerTick:    3,
		OfferEvery:       3,
		Chance:           0.01,
		TensionThreshold: 3,
		TensionAffinity:  -0.3,
		FallbackCourage:  0.6,
		SharedOutcome:    0.25,
		FailedOutcome:    -0.1,
		Kinds:            []string{"storm", "injured walker", "washed-out bridge", "wolves", "lost child"},
	}
}

// Validate checks the policy.
func (c Config) Validate() error {
	if c.MaxActive < 0 {
		return fmt.Errorf("crisis: max_active must not be negative")
	}
	if c.Deadline < 1 {
		return fmt.Errorf("crisis: deadline must be at least 1 tick")
	}
	if c.Quota < 1 {
		return fmt.Errorf("crisis: quota must be at least 1")
	}
	if c.OffersPerTick < 1 {
		return fmt.Errorf("crisis: offers_per_tick must be at least 1")
	}
	if c.Chance < 0 || c.Chance > 1 {
		return fmt.Errorf("crisis: chance must be in [0,1]")
	}
	if c.Chance > 0 && len(c.Kinds) == 0 {
		return fmt.Errorf("crisis: random crises need at least one kind")
	}
	for i, s := range c.Schedule {
		if s.Kind == "" {
			return fmt.Errorf("crisis: schedule[%d] has no kind", i)
		}
	}
	return nil
}

type offerKey struct {
	crisis string
	walker agents.ID
}

// Director owns every crisis.
type Director struct {
	cfg     Config
	builder *cognition.Builder
	client  *cognition.Client
	rng     *rand.Rand
	log     *slog.Logger

	pending     map[offerKey]*cognition.Call
	lastTension int
}

// New creates a crisis director.
func New(cfg Config, b *cognition.Builder, client *cognition.Client, seed int64, log *slog.Logger) *Director {
	if log == nil {
		log = slog.Default()
	}
	return &Director{
		cfg:     cfg,
		builder: b,
		client:  client,
		rng:     rand.New(rand.NewSource(seed + 900)),
		log:     log,
		pending: make(map[offerKey]*cognition.Call),
	}
}

// Step advances active crises, offers response opportunities, closes crises
// that met their quota or deadline and finally evaluates triggers. A crisis
// triggered this tick is first offered to walkers on the next.
func (d *Director) Step(ctx context.Context, st *state.Store) {
	d.harvest(st)

	var calls []*cognition.Call
	for _, c := range st.ActiveCrises() {
		d.advance(st, c)
		calls = append(calls, d.offer(ctx, st, c)...)
	}
	for _, call := range d.pending {
		calls = append(calls, call)
	}

	d.client.Await(ctx, calls...)
	d.harvest(st)

	for _, c := range st.ActiveCrises() {
		d.settle(st, c)
	}

	d.trigger(st)
}

// advance moves a crisis out of Triggered and raises its severity on schedule.
func (d *Director) advance(st *state.Store, c *state.Crisis) {
	if st.Tick <= c.TriggeredTick {
		return
	}
	if c.State == state.CrisisTriggered {
		c.State = state.CrisisEscalating
	}
	if d.cfg.EscalateEvery == 0 || c.Severity >= d.cfg.MaxSeverity {
		return
	}
	if (st.Tick-c.TriggeredTick)%d.cfg.EscalateEvery == 0 {
		c.Severity++
		st.Stage(narrative.KindCrisisEscalated, c.Responders(), map[string]string{
			"crisis":   c.ID,
			"kind":     c.Kind,
			"severity": fmt.Sprintf("%d", c.Severity),
		})
	}
}

// offer dispatches response requests to eligible walkers near the crisis.
func (d *Director) offer(ctx context.Context, st *state.Store, c *state.Crisis) []*cognition.Call {
	node, ok := st.Graph.Node(c.Location)
	if !ok {
		return nil
	}
	var calls []*cognition.Call
	for _, id := range movement.Within(st, node.Pos, c.Radius) {
		if len(calls) >= d.cfg.OffersPerTick {
			break
		}
		key := offerKey{crisis: c.ID, walker: id}
		if _, waiting := d.pending[key]; waiting {
			continue
		}
		if r, answered := c.Responses[id]; answered && r.Qualifying {
			continue
		}
		if last, offered := c.Offered[id]; offered && st.Tick < last+d.cfg.OfferEvery {
			continue
		}
		a, _ := st.Agent(id)
		if !a.Available() {
			continue
		}

		payload, err := d.builder.ForCrisis(st, c, id)
		if err != nil {
			d.log.Warn("crisis: building response context", "crisis", c.ID, "walker", id, "error", err)
			continue
		}
		c.Offered[id] = st.Tick
		call := d.client.Dispatch(ctx, cognition.Request{
			Task:    cognition.TaskCrisisResponse,
			Payload: payload,
			Ticket:  ticket(c, id),
		})
		d.pending[key] = call
		calls = append(calls, call)
	}
	return calls
}

func ticket(c *state.Crisis, walker agents.ID) cognition.Ticket {
	return cognition.Ticket{Owner: "crisis/" + c.ID, Subject: walker, Version: c.Offered[walker]}
}

// Valid reports whether a walker's answer may still be applied to a crisis.
func Valid(st *state.Store, c *state.Crisis, t cognition.Ticket) error {
	if c.State.Terminal() || t.Owner != "crisis/"+c.ID {
		return cognition.ErrStaleResult
	}
	if last, ok := c.Offered[t.Subject]; !ok || last != t.Version {
		return cognition.ErrStaleResult
	}
	if r, ok := c.Responses[t.Subject]; ok && r.Qualifying {
		return cognition.ErrStaleResult
	}
	a, ok := st.Agent(t.Subject)
	if !ok || a.Activity == agents.ActivityInactive {
		return cognition.ErrStaleResult
	}
	return nil
}

// harvest applies finished calls in crisis then walker order.
func (d *Director) harvest(st *state.Store) {
	for _, c := range st.Crises() {
		for _, id := range st.AgentIDs() {
			key := offerKey{crisis: c.ID, walker: id}
			call, ok := d.pending[key]
			if !ok {
				continue
			}
			if c.State.Terminal() {
				call.Cancel()
				delete(d.pending, key)
				continue
			}
			if !call.Done() {
				continue
			}
			delete(d.pending, key)
			if err := Valid(st, c, call.Request.Ticket); err != nil {
				d.log.Debug("crisis: discarding stale response", "crisis", c.ID, "walker", id)
				continue
			}
			d.respond(st, c, id, call)
		}
	}
}

func (d *Director) respond(st *state.Store, c *state.Crisis, id agents.ID, call *cognition.Call) {
	a, _ := st.Agent(id)
	resp := state.Response{Tick: st.Tick}

	dec, err := call.Result()
	switch {
	case errors.Is(err, cognition.ErrStaleResult):
		return
	case err != nil:
		resp.Fallback = true
		resp.Qualifying = a.Traits.Courage >= d.cfg.FallbackCourage
		if resp.Qualifying {
			resp.Action = "steps in to help"
		}
	default:
		resp.Qualifying = dec.Respond
		resp.Action = dec.Action
	}
	c.Responses[id] = resp
	if !resp.Qualifying {
		return
	}

	if !a.Busy() && a.At != c.Location {
		if err := movement.SetGoal(st, a, c.Location); err != nil {
			d.log.Debug("crisis: responder cannot reach crisis", "walker", id, "error", err)
		}
	}
	st.Stage(narrative.KindCrisisResponse, []agents.ID{id}, map[string]string{
		"crisis":   c.ID,
		"kind":     c.Kind,
		"action":   resp.Action,
		"fallback": fmt.Sprintf("%t", resp.Fallback),
	})
}

// settle ends a crisis that met its quota or reached its deadline. The quota
// must be met before the deadline tick; a response landing on it is too late.
func (d *Director) settle(st *state.Store, c *state.Crisis) {
	switch {
	case c.Qualifying() >= c.Quota && st.Tick < c.Deadline:
		d.close(st, c, state.CrisisResolved, narrative.KindCrisisResolved, state.InteractionCrisisShared, d.cfg.SharedOutcome)
	case st.Tick >= c.Deadline && c.Qualifying() > 0:
		d.close(st, c, state.CrisisFailed, narrative.KindCrisisFailed, state.InteractionCrisisFailed, d.cfg.FailedOutcome)
	case st.Tick >= c.Deadline:
		d.close(st, c, state.CrisisTimedOut, narrative.KindCrisisTimedOut, "", 0)
	}
}

func (d *Director) close(st *state.Store, c *state.Crisis, to state.CrisisState, kind narrative.Kind, in state.InteractionKind, outcome float64) {
	c.State = to
	c.ClosedTick = st.Tick
	responders := c.Responders()

	if in != "" {
		for i := 0; i < len(responders); i++ {
			for j := i + 1; j < len(responders); j++ {
				st.Touch(state.MakePair(responders[i], responders[j]), state.Interaction{Kind: in, Outcome: outcome, Ref: c.ID})
			}
		}
	}
	for key, call := range d.pending {
		if key.crisis == c.ID {
			call.Cancel()
			delete(d.pending, key)
		}
	}

	st.Stage(kind, responders, map[string]string{
		"crisis":     c.ID,
		"kind":       c.Kind,
		"severity":   fmt.Sprintf("%d", c.Severity),
		"responders": fmt.Sprintf("%d", len(responders)),
		"quota":      fmt.Sprintf("%d", c.Quota),
	})
	d.log.Info("crisis closed",
		"crisis", c.ID,
		"kind", c.Kind,
		"state", to.String(),
		"responders", len(responders),
		"quota", c.Quota,
	)
}

// trigger evaluates the schedule, relationship tension and chance, in that
// order, while fewer than MaxActive crises are open.
func (d *Director) trigger(st *state.Store) {
	room := d.cfg.MaxActive - len(st.ActiveCrises())

	for _, s := range d.cfg.Schedule {
		if s.Tick != st.Tick || room <= 0 {
			continue
		}
		d.start(st, s)
		room--
	}

	tense, where := d.tension(st)
	if tense >= d.cfg.TensionThreshold && tense > d.lastTension && room > 0 && d.cfg.TensionThreshold > 0 {
		d.start(st, Scheduled{Kind: "quarrel", Location: where})
		room--
	}
	d.lastTension = tense

	if d.cfg.Chance > 0 && len(d.cfg.Kinds) > 0 {
		if d.rng.Float64() < d.cfg.Chance && room > 0 {
			nodes := st.Graph.NodeIDs()
			if len(nodes) > 0 {
				d.start(st, Scheduled{
					Kind:     d.cfg.Kinds[d.rng.Intn(len(d.cfg.Kinds))],
					Location: nodes[d.rng.Intn(len(nodes))],
				})
			}
		}
	}
}

// tension counts broken or strongly negative relationships and returns the
// location of a walker in the first one.
func (d *Director) tension(st *state.Store) (int, world.NodeID) {
	n := 0
	var where world.NodeID
	for _, r := range st.Relationships() {
		if r.Stage != state.StageBroken && r.Affinity > d.cfg.TensionAffinity {
			continue
		}
		if n == 0 {
			if a, ok := st.Agent(r.Pair.A); ok {
				where = a.At
			}
		}
		n++
	}
	return n, where
}

// Trigger starts a crisis immediately, ignoring the active cap.
func (d *Director) Trigger(st *state.Store, s Scheduled) *state.Crisis {
	return d.start(st, s)
}

func (d *Director) start(st *state.Store, s Scheduled) *state.Crisis {
	if s.Quota <= 0 {
		s.Quota = d.cfg.Quota
	}
	if s.Deadline == 0 {
		s.Deadline = d.cfg.Deadline
	}
	if s.Severity <= 0 {
		s.Severity = 1
	}
	if _, ok := st.Graph.Node(s.Location); !ok {
		if nodes := st.Graph.NodeIDs(); len(nodes) > 0 {
			s.Location = nodes[0]
		}
	}

	c := &state.Crisis{
		Kind:          s.Kind,
		Severity:      s.Severity,
		State:         state.CrisisTriggered,
		TriggeredTick: st.Tick,
		Deadline:      st.Tick + s.Deadline,
		Quota:         s.Quota,
		Location:      s.Location,
		Radius:        d.cfg.Radius,
	}
	st.AddCrisis(c)

	place := ""
	if n, ok := st.Graph.Node(c.Location); ok {
		place = n.Name
	}
	st.Stage(narrative.KindCrisisTriggered, nil, map[string]string{
		"crisis":   c.ID,
		"kind":     c.Kind,
		"location": place,
		"deadline": fmt.Sprintf("%d", c.Deadline),
		"quota":    fmt.Sprintf("%d", c.Quota),
	})
	d.log.Info("crisis triggered", "crisis", c.ID, "kind", c.Kind, "location", place, "deadline", c.Deadline)
	return c
}

// Pending returns the number of responses awaiting the reasoning service.
func (d *Director) Pending() int {
	return len(d.pending)
}
