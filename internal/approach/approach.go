// Package approach negotiates whether two nearby walkers start talking.
//
// A pair moves Idle → ProposalSent → Accepted/Declined → DialogueOpen →
// Closed. The responder's answer comes from the reasoning service when it
// is reachable and from a local heuristic when it is not.
package approach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cognition"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cupid"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
)

// Config holds approach policy.
type Config struct {
	ProposeThreshold float64 `yaml:"propose_threshold"` // Minimum desire to start an approach
	CooldownTicks    uint64  `yaml:"cooldown_ticks"`    // After a decline
	ReleaseCooldown  uint64  `yaml:"release_cooldown"`  // After a dialogue closes
	FallbackAccept   float64 `yaml:"fallback_accept"`   // Heuristic acceptance threshold
	DeclineOutcome   float64 `yaml:"decline_outcome"`   // Interaction outcome of a decline
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		ProposeThreshold: 0.45,
		CooldownTicks:    12,
		ReleaseCooldown:  20,
		FallbackAccept:   0.5,
		DeclineOutcome:   -0.05,
	}
}

// Validate checks the policy.
func (c Config) Validate() error {
	if c.ProposeThreshold < 0 || c.ProposeThreshold > 1 {
		return fmt.Errorf("approach: propose_threshold must be in [0,1]")
	}
	if c.DeclineOutcome > 0 {
		return fmt.Errorf("approach: decline_outcome must not be positive")
	}
	return nil
}

// Opener starts a dialogue session for an accepted approach.
type Opener interface {
	Open(st *state.Store, first, second agents.ID) (*state.Session, error)
}

// Negotiator runs the approach protocol.
type Negotiator struct {
	cfg     Config
	cupid   *cupid.Engine
	builder *cognition.Builder
	client  *cognition.Client
	opener  Opener
	log     *slog.Logger

	pending map[state.Pair]*cognition.Call
}

// New creates a negotiator.
func New(cfg Config, c *cupid.Engine, b *cognition.Builder, client *cognition.Client, opener Opener, log *slog.Logger) *Negotiator {
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{
		cfg:     cfg,
		cupid:   c,
		builder: b,
		client:  client,
		opener:  opener,
		log:     log,
		pending: make(map[state.Pair]*cognition.Call),
	}
}

// Desire scores how much the initiator wants to talk to the responder.
// Broken pairs never approach each other.
func (n *Negotiator) Desire(st *state.Store, initiator, responder *agents.Agent) float64 {
	p := state.MakePair(initiator.ID, responder.ID)
	if st.StageOf(p) == state.StageBroken {
		return 0
	}
	affinity := n.cupid.Affinity(st, p)
	return 0.5*initiator.Traits.Sociability + 0.5*(affinity+1)/2
}

// Initiator picks who proposes: the more sociable walker, the lower ID on a
// tie.
func Initiator(a, b *agents.Agent) (initiator, responder *agents.Agent) {
	if b.Traits.Sociability > a.Traits.Sociability ||
		(b.Traits.Sociability == a.Traits.Sociability && b.ID < a.ID) {
		return b, a
	}
	return a, b
}

// Step sends new proposals for proximate available pairs, waits for the
// responses within the tick budget and applies whatever has arrived.
// Proposals still waiting carry over to the next tick.
func (n *Negotiator) Step(ctx context.Context, st *state.Store) {
	var calls []*cognition.Call
	for _, c := range n.pending {
		calls = append(calls, c)
	}

	for _, p := range st.Proximity() {
		if call := n.propose(ctx, st, p); call != nil {
			calls = append(calls, call)
		}
	}

	n.client.Await(ctx, calls...)

	for _, pr := range st.Proposals() {
		if pr.State == state.ProposalSent {
			n.resolve(st, pr)
		}
	}
}

func (n *Negotiator) propose(ctx context.Context, st *state.Store, p state.Pair) *cognition.Call {
	if _, exists := st.Proposal(p); exists || st.CoolingDown(p) {
		return nil
	}
	a, okA := st.Agent(p.A)
	b, okB := st.Agent(p.B)
	if !okA || !okB || !a.Available() || !b.Available() {
		return nil
	}
	initiator, responder := Initiator(a, b)
	desire := n.Desire(st, initiator, responder)
	if desire < n.cfg.ProposeThreshold {
		return nil
	}

	pr := &state.Proposal{
		Pair:      p,
		Initiator: initiator.ID,
		Responder: responder.ID,
		State:     state.ProposalSent,
		SentTick:  st.Tick,
	}
	st.PutProposal(pr)
	initiator.Activity = agents.ActivityNegotiating
	responder.Activity = agents.ActivityNegotiating
	st.Stage(narrative.KindProposal, []agents.ID{initiator.ID, responder.ID}, map[string]string{
		"desire": fmt.Sprintf("%.3f", desire),
	})

	payload, err := n.builder.ForProposal(st, pr)
	if err != nil {
		// Decide locally on the next resolve.
		n.log.Warn("approach: building proposal context", "pair", p.String(), "error", err)
		return nil
	}
	call := n.client.Dispatch(ctx, cognition.Request{
		Task:    cognition.TaskRespondProposal,
		Payload: payload,
		Ticket:  ticket(pr),
	})
	n.pending[p] = call
	return call
}

func ticket(pr *state.Proposal) cognition.Ticket {
	return cognition.Ticket{Owner: "proposal/" + pr.Pair.String(), Subject: pr.Responder, Version: pr.SentTick}
}

// Valid reports whether a proposal's answer may still be applied.
func Valid(st *state.Store, t cognition.Ticket, p state.Pair) error {
	pr, ok := st.Proposal(p)
	if !ok || pr.State != state.ProposalSent || pr.SentTick != t.Version || pr.Responder != t.Subject {
		return cognition.ErrStaleResult
	}
	for _, id := range []agents.ID{pr.Initiator, pr.Responder} {
		a, ok := st.Agent(id)
		if !ok || a.Activity != agents.ActivityNegotiating {
			return cognition.ErrStaleResult
		}
	}
	return nil
}

func (n *Negotiator) resolve(st *state.Store, pr *state.Proposal) {
	call, hasCall := n.pending[pr.Pair]
	if hasCall && !call.Done() {
		if err := Valid(st, ticket(pr), pr.Pair); err != nil {
			call.Cancel()
			delete(n.pending, pr.Pair)
			n.abandon(st, pr)
		}
		return
	}
	delete(n.pending, pr.Pair)

	if err := Valid(st, ticket(pr), pr.Pair); err != nil {
		n.log.Debug("approach: discarding stale answer", "pair", pr.Pair.String())
		n.abandon(st, pr)
		return
	}

	var accept bool
	if hasCall {
		d, err := call.Result()
		if err != nil {
			if errors.Is(err, cognition.ErrStaleResult) {
				n.abandon(st, pr)
				return
			}
			n.log.Debug("approach: falling back", "pair", pr.Pair.String(), "error", err)
			accept = n.fallback(st, pr)
			pr.Fallback = true
		} else {
			accept = d.Accept
		}
	} else {
		accept = n.fallback(st, pr)
		pr.Fallback = true
	}
	pr.DecidedTick = st.Tick

	if !accept {
		n.decline(st, pr)
		return
	}

	pr.State = state.ProposalAccepted
	st.Stage(narrative.KindProposalAccepted, []agents.ID{pr.Initiator, pr.Responder}, map[string]string{
		"fallback": fmt.Sprintf("%t", pr.Fallback),
	})
	s, err := n.opener.Open(st, pr.Initiator, pr.Responder)
	if err != nil {
		n.log.Warn("approach: opening dialogue", "pair", pr.Pair.String(), "error", err)
		st.Diagnose(err, []agents.ID{pr.Initiator, pr.Responder}, pr.Pair.String())
		n.abandon(st, pr)
		return
	}
	pr.State = state.ProposalDialogueOpen
	pr.Session = s.ID
}

// fallback is the local acceptance heuristic.
func (n *Negotiator) fallback(st *state.Store, pr *state.Proposal) bool {
	r, ok := st.Agent(pr.Responder)
	if !ok {
		return false
	}
	affinity := n.cupid.Affinity(st, pr.Pair)
	score := (r.Traits.Openness+r.Traits.Sociability)/2 + 0.5*affinity
	return score >= n.cfg.FallbackAccept
}

func (n *Negotiator) decline(st *state.Store, pr *state.Proposal) {
	pr.State = state.ProposalDeclined
	st.SetCooldown(pr.Pair, st.Tick+n.cfg.CooldownTicks)
	st.Touch(pr.Pair, state.Interaction{Kind: state.InteractionDeclined, Outcome: n.cfg.DeclineOutcome})
	st.Stage(narrative.KindProposalDeclined, []agents.ID{pr.Initiator, pr.Responder}, map[string]string{
		"fallback": fmt.Sprintf("%t", pr.Fallback),
	})
	n.free(st, pr)
	st.DeleteProposal(pr.Pair)
}

// abandon drops a proposal whose context no longer holds.
func (n *Negotiator) abandon(st *state.Store, pr *state.Proposal) {
	n.free(st, pr)
	st.DeleteProposal(pr.Pair)
}

func (n *Negotiator) free(st *state.Store, pr *state.Proposal) {
	for _, id := range []agents.ID{pr.Initiator, pr.Responder} {
		if a, ok := st.Agent(id); ok && a.Activity == agents.ActivityNegotiating {
			a.Activity = agents.ActivityIdle
		}
	}
}

// Release closes out the proposals behind sessions that ended and starts the
// pair's cooldown.
func (n *Negotiator) Release(st *state.Store, closed []*state.Session) {
	for _, s := range closed {
		p := s.Pair()
		pr, ok := st.Proposal(p)
		if !ok || pr.Session != s.ID {
			continue
		}
		pr.State = state.ProposalClosed
		st.SetCooldown(p, st.Tick+n.cfg.ReleaseCooldown)
		st.DeleteProposal(p)
	}
}

// Pending returns the number of proposals awaiting an answer.
func (n *Negotiator) Pending() int {
	return len(n.pending)
}
