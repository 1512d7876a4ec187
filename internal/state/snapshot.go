package state

import (
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// Snapshot is a read-only copy of the world for presentation. It shares no
// memory with the store.
type Snapshot struct {
	Tick          uint64             `json:"tick"`
	Agents        []AgentView        `json:"agents"`
	Dialogues     []DialogueView     `json:"dialogues"`
	Relationships []RelationshipView `json:"relationships"`
	Crises        []CrisisView       `json:"crises"`
	Proposals     []Proposal         `json:"proposals"`
}

// AgentView is a walker as seen by presentation.
type AgentView struct {
	ID        agents.ID     `json:"id"`
	Name      string        `json:"name"`
	Activity  string        `json:"activity"`
	Traits    agents.Traits `json:"traits"`
	At        world.NodeID  `json:"at"`
	Next      world.NodeID  `json:"next"`
	Progress  float64       `json:"progress"`
	Pos       world.Point   `json:"pos"`
	Goal      world.NodeID  `json:"goal"`
	Session   string        `json:"session,omitempty"`
	Knowledge int           `json:"knowledge"`
}

// DialogueView is an open dialogue's visible text.
type DialogueView struct {
	ID           string       `json:"id"`
	Participants [2]agents.ID `json:"participants"`
	Turns        []Turn       `json:"turns"`
	OpenedTick   uint64       `json:"opened_tick"`
}

// RelationshipView is a pair's current standing.
type RelationshipView struct {
	Pair         Pair    `json:"pair"`
	Stage        string  `json:"stage"`
	Affinity     float64 `json:"affinity"`
	Interactions int     `json:"interactions"`
}

// CrisisView is an active crisis.
type CrisisView struct {
	ID            string       `json:"id"`
	Kind          string       `json:"kind"`
	State         string       `json:"state"`
	Severity      int          `json:"severity"`
	TriggeredTick uint64       `json:"triggered_tick"`
	Deadline      uint64       `json:"deadline"`
	Quota         int          `json:"quota"`
	Responses     int          `json:"responses"`
	Location      world.NodeID `json:"location"`
}

// Snapshot builds a deep copy of the current state.
func (st *Store) Snapshot() Snapshot {
	snap := Snapshot{Tick: st.Tick}

	for _, a := range st.Agents() {
		v := AgentView{
			ID:        a.ID,
			Name:      a.Name,
			Activity:  a.Activity.String(),
			Traits:    a.Traits,
			At:        a.At,
			Next:      a.Next,
			Progress:  a.Progress,
			Goal:      a.Goal,
			Knowledge: len(a.Knowledge),
		}
		if st.Graph != nil {
			v.Pos = a.Position(st.Graph)
		}
		if s, ok := st.SessionOf(a.ID); ok {
			v.Session = s.ID
		}
		snap.Agents = append(snap.Agents, v)
	}

	for _, s := range st.OpenSessions() {
		c := s.clone()
		snap.Dialogues = append(snap.Dialogues, DialogueView{
			ID:           c.ID,
			Participants: c.Participants,
			Turns:        c.Turns,
			OpenedTick:   c.OpenedTick,
		})
	}

	for _, r := range st.Relationships() {
		snap.Relationships = append(snap.Relationships, RelationshipView{
			Pair:         r.Pair,
			Stage:        r.Stage.String(),
			Affinity:     r.Affinity,
			Interactions: len(r.History),
		})
	}

	for _, c := range st.ActiveCrises() {
		snap.Crises = append(snap.Crises, CrisisView{
			ID:            c.ID,
			Kind:          c.Kind,
			State:         c.State.String(),
			Severity:      c.Severity,
			TriggeredTick: c.TriggeredTick,
			Deadline:      c.Deadline,
			Quota:         c.Quota,
			Responses:     c.Qualifying(),
			Location:      c.Location,
		})
	}

	for _, p := range st.Proposals() {
		snap.Proposals = append(snap.Proposals, *p)
	}

	return snap
}

// Clone returns a copy that shares no slices with snap.
func (snap Snapshot) Clone() Snapshot {
	out := snap
	out.Agents = append([]AgentView(nil), snap.Agents...)
	out.Relationships = append([]RelationshipView(nil), snap.Relationships...)
	out.Crises = append([]CrisisView(nil), snap.Crises...)
	out.Proposals = append([]Proposal(nil), snap.Proposals...)
	out.Dialogues = make([]DialogueView, len(snap.Dialogues))
	for i, d := range snap.Dialogues {
		d.Turns = append([]Turn(nil), d.Turns...)
		out.Dialogues[i] = d
	}
	if snap.Dialogues == nil {
		out.Dialogues = nil
	}
	return out
}

// CloneSession returns a deep copy of a session.
func CloneSession(s *Session) *Session { return s.clone() }

// CloneCrisis returns a deep copy of a crisis.
func CloneCrisis(c *Crisis) *Crisis { return c.clone() }

// CloneRelationship returns a deep copy of a relationship.
func CloneRelationship(r *Relationship) *Relationship { return r.clone() }
