package cognition

import (
	"fmt"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
)

// Limits bound the size of a payload.
type Limits struct {
	MaxHistory   int `yaml:"max_history"`   // Dialogue turns
	MaxNarrative int `yaml:"max_narrative"` // Narrative entries, most recent first
	MaxKnowledge int `yaml:"max_knowledge"` // Overheard fragments
}

// DefaultLimits returns the standard payload bounds.
func DefaultLimits() Limits {
	return Limits{MaxHistory: 8, MaxNarrative: 6, MaxKnowledge: 4}
}

var descriptors = map[Task]string{
	TaskPropose:         "You have just started walking alongside someone. Open the conversation in one or two sentences.",
	TaskRespondProposal: "Someone nearby wants to talk with you. Decide whether to accept.",
	TaskRespondDialogue: "Continue the conversation with one or two sentences. Set end when the exchange has run its course.",
	TaskCrisisResponse:  "Something has gone wrong on the road. Decide whether you step in and what you do.",
}

// Participant is a walker as described to the reasoning service.
type Participant struct {
	ID       agents.ID     `json:"id"`
	Name     string        `json:"name"`
	Traits   agents.Traits `json:"traits"`
	Activity string        `json:"activity"`
}

// Line is one dialogue turn.
type Line struct {
	Speaker agents.ID `json:"speaker"`
	Name    string    `json:"name"`
	Text    string    `json:"text"`
	Tick    uint64    `json:"tick"`
}

// Event is a narrative entry.
type Event struct {
	Tick    uint64            `json:"tick"`
	Kind    string            `json:"kind"`
	Agents  []agents.ID       `json:"agents"`
	Details map[string]string `json:"details,omitempty"`
}

// Rumor is something the deciding walker overheard.
type Rumor struct {
	Tick    uint64    `json:"tick"`
	Speaker agents.ID `json:"speaker"`
	Text    string    `json:"text"`
	Clarity string    `json:"clarity"`
}

// CrisisBrief describes a crisis to a potential responder.
type CrisisBrief struct {
	Kind      string `json:"kind"`
	Severity  int    `json:"severity"`
	TicksLeft uint64 `json:"ticks_left"`
	Quota     int    `json:"quota"`
	Responses int    `json:"responses"`
	Location  string `json:"location"`
}

// Payload is the bounded, serializable context for one decision.
type Payload struct {
	Task       Task          `json:"task"`
	Descriptor string        `json:"descriptor"`
	Tick       uint64        `json:"tick"`
	Self       Participant   `json:"self"`
	Others     []Participant `json:"others,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	Affinity   float64       `json:"affinity"`
	Location   string        `json:"location,omitempty"`
	History    []Line        `json:"history,omitempty"`
	Narrative  []Event       `json:"narrative,omitempty"`
	Knowledge  []Rumor       `json:"knowledge,omitempty"`
	Crisis     *CrisisBrief  `json:"crisis,omitempty"`
}

// Builder projects world state into payloads.
type Builder struct {
	lim Limits
}

// NewBuilder creates a context builder.
func NewBuilder(lim Limits) *Builder {
	return &Builder{lim: lim}
}

// Build assembles the common part of a payload for a walker deciding about
// the given others.
func (b *Builder) Build(st *state.Store, task Task, self agents.ID, others ...agents.ID) (Payload, error) {
	me, ok := st.Agent(self)
	if !ok {
		return Payload{}, fmt.Errorf("%w: payload for unknown walker %d", state.ErrInvariant, self)
	}
	p := Payload{
		Task:       task,
		Descriptor: descriptors[task],
		Tick:       st.Tick,
		Self:       participant(me),
	}
	if n, ok := st.Graph.Node(me.At); ok {
		p.Location = n.Name
	}

	involved := []agents.ID{self}
	for _, id := range others {
		o, ok := st.Agent(id)
		if !ok {
			return Payload{}, fmt.Errorf("%w: payload references unknown walker %d", state.ErrInvariant, id)
		}
		p.Others = append(p.Others, participant(o))
		involved = append(involved, id)
	}
	if len(others) == 1 {
		pair := state.MakePair(self, others[0])
		p.Stage = st.StageOf(pair).String()
		if r, ok := st.Relationship(pair); ok {
			p.Affinity = r.Affinity
		}
	}

	for _, e := range st.Narrative.Recent(b.lim.MaxNarrative, narrative.Involving(involved...)) {
		p.Narrative = append(p.Narrative, Event{
			Tick:    e.Tick,
			Kind:    string(e.Kind),
			Agents:  e.Agents,
			Details: e.Payload,
		})
	}
	for _, f := range agents.RecentKnowledge(me, b.lim.MaxKnowledge) {
		p.Knowledge = append(p.Knowledge, Rumor{
			Tick:    f.Tick,
			Speaker: f.Speaker,
			Text:    f.Text,
			Clarity: f.Clarity.String(),
		})
	}
	return p, nil
}

// ForProposal builds the responder's payload for an approach.
func (b *Builder) ForProposal(st *state.Store, pr *state.Proposal) (Payload, error) {
	return b.Build(st, TaskRespondProposal, pr.Responder, pr.Initiator)
}

// ForDialogue builds the next speaker's payload. The opening line of a
// session is a propose task.
func (b *Builder) ForDialogue(st *state.Store, s *state.Session) (Payload, error) {
	task := TaskRespondDialogue
	if len(s.Turns) == 0 {
		task = TaskPropose
	}
	p, err := b.Build(st, task, s.NextSpeaker(), s.Listener())
	if err != nil {
		return Payload{}, err
	}
	for _, t := range s.LastTurns(b.lim.MaxHistory) {
		name := ""
		if a, ok := st.Agent(t.Speaker); ok {
			name = a.Name
		}
		p.History = append(p.History, Line{Speaker: t.Speaker, Name: name, Text: t.Utterance, Tick: t.Tick})
	}
	return p, nil
}

// ForCrisis builds a potential responder's payload.
func (b *Builder) ForCrisis(st *state.Store, c *state.Crisis, responder agents.ID) (Payload, error) {
	p, err := b.Build(st, TaskCrisisResponse, responder)
	if err != nil {
		return Payload{}, err
	}
	left := uint64(0)
	if c.Deadline > st.Tick {
		left = c.Deadline - st.Tick
	}
	brief := &CrisisBrief{
		Kind:      c.Kind,
		Severity:  c.Severity,
		TicksLeft: left,
		Quota:     c.Quota,
		Responses: c.Qualifying(),
	}
	if n, ok := st.Graph.Node(c.Location); ok {
		brief.Location = n.Name
	}
	p.Crisis = brief
	return p, nil
}

func participant(a *agents.Agent) Participant {
	return Participant{ID: a.ID, Name: a.Name, Traits: a.Traits, Activity: a.Activity.String()}
}
