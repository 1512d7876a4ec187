// Package state holds the authoritative world state: walkers, relationships,
// dialogue sessions, crises, proposals and the tick counter.
//
// The store is not safe for concurrent use. The engine advances it from a
// single goroutine and each subsystem writes only the entities it owns.
package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// ErrInvariant marks an internal consistency failure. The offending entity is
// force-closed; the simulation carries on.
var ErrInvariant = errors.New("state: invariant violation")

// Store is the world state.
type Store struct {
	Tick      uint64
	Graph     *world.Graph
	Narrative *narrative.Tracker

	agents   map[agents.ID]*agents.Agent
	agentIDs []agents.ID

	relationships map[Pair]*Relationship
	touches       []Touch

	sessions     map[string]*Session
	sessionOrder []string
	inSession    map[agents.ID]string
	sessionSeq   uint64

	crises      map[string]*Crisis
	crisisOrder []string
	crisisSeq   uint64

	proposals map[Pair]*Proposal
	cooldowns map[Pair]uint64

	proximity []Pair
}

// NewStore creates an empty store over a route graph.
func NewStore(g *world.Graph, tracker *narrative.Tracker) *Store {
	if tracker == nil {
		tracker = narrative.NewTracker(0)
	}
	return &Store{
		Graph:         g,
		Narrative:     tracker,
		agents:        make(map[agents.ID]*agents.Agent),
		relationships: make(map[Pair]*Relationship),
		sessions:      make(map[string]*Session),
		inSession:     make(map[agents.ID]string),
		crises:        make(map[string]*Crisis),
		proposals:     make(map[Pair]*Proposal),
		cooldowns:     make(map[Pair]uint64),
	}
}

// Stage queues a narrative entry stamped with the current tick.
func (st *Store) Stage(kind narrative.Kind, ids []agents.ID, payload map[string]string) {
	st.Narrative.Stage(narrative.Entry{Tick: st.Tick, Kind: kind, Agents: ids, Payload: payload})
}

// Diagnose records an invariant violation as a narrative entry.
func (st *Store) Diagnose(err error, ids []agents.ID, ref string) {
	st.Stage(narrative.KindDiagnostic, ids, map[string]string{"error": err.Error(), "ref": ref})
}

// --- Walkers ---

// AddAgent registers a walker. Its starting node must exist.
func (st *Store) AddAgent(a *agents.Agent) error {
	if _, exists := st.agents[a.ID]; exists {
		return fmt.Errorf("state: duplicate walker %d", a.ID)
	}
	if st.Graph != nil {
		if _, ok := st.Graph.Node(a.At); !ok {
			return fmt.Errorf("state: walker %d: %w: %d", a.ID, world.ErrUnknownNode, a.At)
		}
	}
	st.agents[a.ID] = a
	i := sort.Search(len(st.agentIDs), func(i int) bool { return st.agentIDs[i] >= a.ID })
	st.agentIDs = append(st.agentIDs, 0)
	copy(st.agentIDs[i+1:], st.agentIDs[i:])
	st.agentIDs[i] = a.ID
	return nil
}

// Agent looks up a walker.
func (st *Store) Agent(id agents.ID) (*agents.Agent, bool) {
	a, ok := st.agents[id]
	return a, ok
}

// AgentIDs returns walker IDs in ascending order.
func (st *Store) AgentIDs() []agents.ID {
	return append([]agents.ID(nil), st.agentIDs...)
}

// Agents returns walkers in ascending ID order.
func (st *Store) Agents() []*agents.Agent {
	out := make([]*agents.Agent, len(st.agentIDs))
	for i, id := range st.agentIDs {
		out[i] = st.agents[id]
	}
	return out
}

// --- Relationships ---

// Relationship looks up a pair's relationship.
func (st *Store) Relationship(p Pair) (*Relationship, bool) {
	r, ok := st.relationships[p]
	return r, ok
}

// StageOf returns the pair's stage, Unacquainted when no record exists.
func (st *Store) StageOf(p Pair) Stage {
	if r, ok := st.relationships[p]; ok {
		return r.Stage
	}
	return StageUnacquainted
}

// EnsureRelationship returns the pair's relationship, creating it on first
// use. Both walkers must exist.
func (st *Store) EnsureRelationship(p Pair) (*Relationship, error) {
	if r, ok := st.relationships[p]; ok {
		return r, nil
	}
	a, okA := st.agents[p.A]
	b, okB := st.agents[p.B]
	if !okA || !okB || p.A == p.B {
		return nil, fmt.Errorf("%w: relationship %s references unknown walker", ErrInvariant, p)
	}
	r := &Relationship{Pair: p, CreatedTick: st.Tick}
	st.relationships[p] = r
	a.AddRelation(p.B)
	b.AddRelation(p.A)
	return r, nil
}

// RestoreRelationship installs a relationship loaded from storage. Both
// walkers must exist and the pair must not be known yet.
func (st *Store) RestoreRelationship(r *Relationship) error {
	if _, exists := st.relationships[r.Pair]; exists {
		return fmt.Errorf("state: duplicate relationship %s", r.Pair)
	}
	a, okA := st.agents[r.Pair.A]
	b, okB := st.agents[r.Pair.B]
	if !okA || !okB || r.Pair.A == r.Pair.B {
		return fmt.Errorf("%w: relationship %s references unknown walker", ErrInvariant, r.Pair)
	}
	st.relationships[r.Pair] = r
	a.AddRelation(r.Pair.B)
	b.AddRelation(r.Pair.A)
	return nil
}

// Relationships returns all relationships ordered by pair.
func (st *Store) Relationships() []*Relationship {
	out := make([]*Relationship, 0, len(st.relationships))
	for _, r := range st.relationships {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.Less(out[j].Pair) })
	return out
}

// Touch queues an interaction for the relationship engine. Subsystems other
// than the relationship engine never write relationships directly.
func (st *Store) Touch(p Pair, in Interaction) {
	if in.Tick == 0 {
		in.Tick = st.Tick
	}
	st.touches = append(st.touches, Touch{Pair: p, Interaction: in})
}

// DrainTouches returns and clears the queued interactions in arrival order.
func (st *Store) DrainTouches() []Touch {
	out := st.touches
	st.touches = nil
	return out
}

// --- Sessions ---

// OpenSession starts a dialogue. Neither walker may already be in an open
// session.
func (st *Store) OpenSession(first, second agents.ID, radius float64) (*Session, error) {
	if first == second {
		return nil, fmt.Errorf("%w: session with self %d", ErrInvariant, first)
	}
	for _, id := range []agents.ID{first, second} {
		if _, ok := st.agents[id]; !ok {
			return nil, fmt.Errorf("%w: session references unknown walker %d", ErrInvariant, id)
		}
		if sid, busy := st.inSession[id]; busy {
			return nil, fmt.Errorf("%w: walker %d already in session %s", ErrInvariant, id, sid)
		}
	}
	st.sessionSeq++
	s := &Session{
		ID:           uuid.NewString(),
		Seq:          st.sessionSeq,
		Participants: [2]agents.ID{first, second},
		Open:         true,
		Radius:       radius,
		OpenedTick:   st.Tick,
	}
	st.sessions[s.ID] = s
	st.sessionOrder = append(st.sessionOrder, s.ID)
	st.inSession[first] = s.ID
	st.inSession[second] = s.ID
	return s, nil
}

// CloseSession ends a dialogue. Closing twice is a no-op.
func (st *Store) CloseSession(id string, reason CloseReason) {
	s, ok := st.sessions[id]
	if !ok || !s.Open {
		return
	}
	s.Open = false
	s.Reason = reason
	s.ClosedTick = st.Tick
	for _, p := range s.Participants {
		if st.inSession[p] == id {
			delete(st.inSession, p)
		}
	}
}

// Session looks up a dialogue.
func (st *Store) Session(id string) (*Session, bool) {
	s, ok := st.sessions[id]
	return s, ok
}

// SessionOf returns the open session a walker is in.
func (st *Store) SessionOf(id agents.ID) (*Session, bool) {
	sid, ok := st.inSession[id]
	if !ok {
		return nil, false
	}
	return st.sessions[sid], true
}

// OpenSessions returns open dialogues in open order.
func (st *Store) OpenSessions() []*Session {
	var out []*Session
	for _, id := range st.sessionOrder {
		if s := st.sessions[id]; s.Open {
			out = append(out, s)
		}
	}
	return out
}

// Sessions returns every dialogue held in memory in open order.
func (st *Store) Sessions() []*Session {
	out := make([]*Session, 0, len(st.sessionOrder))
	for _, id := range st.sessionOrder {
		out = append(out, st.sessions[id])
	}
	return out
}

// PruneSessions forgets the longest-closed sessions beyond the newest keep.
// Sessions closed during the current tick are always kept so their last
// turns can still be overheard.
func (st *Store) PruneSessions(keep int) int {
	var closed, candidates []*Session
	for _, id := range st.sessionOrder {
		if s := st.sessions[id]; !s.Open {
			closed = append(closed, s)
			if s.ClosedTick < st.Tick {
				candidates = append(candidates, s)
			}
		}
	}
	drop := min(len(closed)-keep, len(candidates))
	if drop <= 0 {
		return 0
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ClosedTick < candidates[j].ClosedTick
	})
	for _, s := range candidates[:drop] {
		delete(st.sessions, s.ID)
	}
	order := st.sessionOrder[:0]
	for _, id := range st.sessionOrder {
		if _, ok := st.sessions[id]; ok {
			order = append(order, id)
		}
	}
	st.sessionOrder = order
	return drop
}

// VerifySession checks that a session's participants still exist and are not
// claimed by another session.
func (st *Store) VerifySession(s *Session) error {
	for _, id := range s.Participants {
		a, ok := st.agents[id]
		if !ok {
			return fmt.Errorf("%w: session %s references unknown walker %d", ErrInvariant, s.ID, id)
		}
		if s.Open {
			if a.Activity == agents.ActivityInactive {
				return fmt.Errorf("%w: session %s participant %d is inactive", ErrInvariant, s.ID, id)
			}
			if st.inSession[id] != s.ID {
				return fmt.Errorf("%w: walker %d is claimed by session %s", ErrInvariant, id, st.inSession[id])
			}
		}
	}
	return nil
}

// --- Crises ---

// AddCrisis registers a crisis, assigning its ID and sequence.
func (st *Store) AddCrisis(c *Crisis) {
	st.crisisSeq++
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Seq = st.crisisSeq
	if c.Responses == nil {
		c.Responses = make(map[agents.ID]Response)
	}
	if c.Offered == nil {
		c.Offered = make(map[agents.ID]uint64)
	}
	st.crises[c.ID] = c
	st.crisisOrder = append(st.crisisOrder, c.ID)
}

// Crisis looks up a crisis.
func (st *Store) Crisis(id string) (*Crisis, bool) {
	c, ok := st.crises[id]
	return c, ok
}

// Crises returns every crisis in trigger order.
func (st *Store) Crises() []*Crisis {
	out := make([]*Crisis, 0, len(st.crisisOrder))
	for _, id := range st.crisisOrder {
		out = append(out, st.crises[id])
	}
	return out
}

// ActiveCrises returns crises that have not reached a terminal state.
func (st *Store) ActiveCrises() []*Crisis {
	var out []*Crisis
	for _, id := range st.crisisOrder {
		if c := st.crises[id]; !c.State.Terminal() {
			out = append(out, c)
		}
	}
	return out
}

// --- Proposals ---

// Proposal looks up a pair's pending approach.
func (st *Store) Proposal(p Pair) (*Proposal, bool) {
	pr, ok := st.proposals[p]
	return pr, ok
}

// PutProposal stores or replaces a pair's approach.
func (st *Store) PutProposal(pr *Proposal) {
	st.proposals[pr.Pair] = pr
}

// DeleteProposal forgets a pair's approach.
func (st *Store) DeleteProposal(p Pair) {
	delete(st.proposals, p)
}

// Proposals returns pending approaches ordered by pair.
func (st *Store) Proposals() []*Proposal {
	out := make([]*Proposal, 0, len(st.proposals))
	for _, pr := range st.proposals {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.Less(out[j].Pair) })
	return out
}

// SetCooldown blocks proposals between a pair until the given tick.
func (st *Store) SetCooldown(p Pair, until uint64) {
	st.cooldowns[p] = until
}

// CoolingDown reports whether the pair may not propose at the current tick.
func (st *Store) CoolingDown(p Pair) bool {
	until, ok := st.cooldowns[p]
	if !ok {
		return false
	}
	if st.Tick >= until {
		delete(st.cooldowns, p)
		return false
	}
	return true
}

// --- Proximity ---

// SetProximity replaces the current tick's proximate pairs.
func (st *Store) SetProximity(pairs []Pair) {
	st.proximity = pairs
}

// Proximity returns the current tick's proximate pairs in pair order.
func (st *Store) Proximity() []Pair {
	return st.proximity
}

// Proximate reports whether two walkers are near each other this tick.
func (st *Store) Proximate(p Pair) bool {
	i := sort.Search(len(st.proximity), func(i int) bool { return !st.proximity[i].Less(p) })
	return i < len(st.proximity) && st.proximity[i] == p
}
