// Package agents provides the walker data model: identity, fixed traits,
// activity state, route progress and private knowledge.
package agents

import (
	"sort"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// ID is a unique identifier for a walker.
type ID uint64

// Activity is what a walker is currently doing.
type Activity uint8

const (
	ActivityIdle        Activity = iota // Free for goals and proposals
	ActivityWalking                     // Following a path
	ActivityNegotiating                 // Party to a pending proposal
	ActivityTalking                     // Party to an open dialogue
	ActivityInactive                    // Retained for narrative, takes no part
)

var activityNames = [...]string{"idle", "walking", "negotiating", "talking", "inactive"}

func (a Activity) String() string {
	if int(a) < len(activityNames) {
		return activityNames[a]
	}
	return "unknown"
}

// Traits is the fixed personality record. Every field is in [0,1].
type Traits struct {
	Sociability float64 `json:"sociability" yaml:"sociability"` // Drive to start conversations
	Openness    float64 `json:"openness" yaml:"openness"`       // Receptiveness to others
	Warmth      float64 `json:"warmth" yaml:"warmth"`           // Kindness in exchanges
	Courage     float64 `json:"courage" yaml:"courage"`         // Willingness to face a crisis
	Perception  float64 `json:"perception" yaml:"perception"`   // Ability to overhear
	Temper      float64 `json:"temper" yaml:"temper"`           // Volatility
}

// Vector returns the traits in declaration order.
func (t Traits) Vector() [6]float64 {
	return [6]float64{t.Sociability, t.Openness, t.Warmth, t.Courage, t.Perception, t.Temper}
}

// Clamped returns a copy with every trait held to [0,1].
func (t Traits) Clamped() Traits {
	c := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return Traits{
		Sociability: c(t.Sociability),
		Openness:    c(t.Openness),
		Warmth:      c(t.Warmth),
		Courage:     c(t.Courage),
		Perception:  c(t.Perception),
		Temper:      c(t.Temper),
	}
}

// Agent is a walker.
type Agent struct {
	ID       ID       `json:"id"`
	Name     string   `json:"name"`
	Traits   Traits   `json:"traits"`
	Activity Activity `json:"activity"`

	// Route progress. At is the last node reached; Next is the node being
	// walked toward (equal to At when stationary) and Progress the distance
	// covered along that edge.
	At       world.NodeID   `json:"at"`
	Next     world.NodeID   `json:"next"`
	Progress float64        `json:"progress"`
	Path     []world.NodeID `json:"path,omitempty"`
	Goal     world.NodeID   `json:"goal"`

	// Partners with a relationship record, resolved through the store.
	Relations map[ID]struct{} `json:"-"`

	Knowledge []Fragment `json:"knowledge,omitempty"`

	JoinedTick uint64 `json:"joined_tick"`
}

// Busy reports whether the walker is negotiating or talking.
func (a *Agent) Busy() bool {
	return a.Activity == ActivityNegotiating || a.Activity == ActivityTalking
}

// Available reports whether the walker may be approached.
func (a *Agent) Available() bool {
	return a.Activity == ActivityIdle || a.Activity == ActivityWalking
}

// Stationary reports whether the walker stands on a node.
func (a *Agent) Stationary() bool {
	return a.Next == a.At || a.Progress <= 0
}

// Position returns the walker's point on the map.
func (a *Agent) Position(g *world.Graph) world.Point {
	return g.Position(a.At, a.Next, a.Progress)
}

// AddRelation records a partner in the back-reference set.
func (a *Agent) AddRelation(other ID) {
	if a.Relations == nil {
		a.Relations = make(map[ID]struct{})
	}
	a.Relations[other] = struct{}{}
}

// RelationIDs returns the partner set in ascending order.
func (a *Agent) RelationIDs() []ID {
	out := make([]ID, 0, len(a.Relations))
	for id := range a.Relations {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Path = append([]world.NodeID(nil), a.Path...)
	c.Knowledge = append([]Fragment(nil), a.Knowledge...)
	if a.Relations != nil {
		c.Relations = make(map[ID]struct{}, len(a.Relations))
		for id := range a.Relations {
			c.Relations[id] = struct{}{}
		}
	}
	return &c
}
