package state

import (
	"fmt"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
)

// MaxHistory bounds the interactions kept on a relationship.
const MaxHistory = 32

// Pair is an unordered pair of walkers, stored low ID first.
type Pair struct {
	A agents.ID `json:"a"`
	B agents.ID `json:"b"`
}

// MakePair orders two walker IDs into a pair.
func MakePair(x, y agents.ID) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Other returns the partner of id within the pair.
func (p Pair) Other(id agents.ID) agents.ID {
	if p.A == id {
		return p.B
	}
	return p.A
}

// Has reports whether id is one of the pair.
func (p Pair) Has(id agents.ID) bool {
	return p.A == id || p.B == id
}

// Less orders pairs by low ID, then high ID.
func (p Pair) Less(q Pair) bool {
	if p.A != q.A {
		return p.A < q.A
	}
	return p.B < q.B
}

func (p Pair) String() string {
	return fmt.Sprintf("%d-%d", p.A, p.B)
}

// Stage is a relationship's position in the courtship ladder.
type Stage uint8

const (
	StageUnacquainted Stage = iota
	StageAcquainted
	StageAttracted
	StageCommitted
	StageBroken // Absorbing
)

var stageNames = [...]string{"unacquainted", "acquainted", "attracted", "committed", "broken"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Romantic reports whether a third party talking to one side could provoke
// jealousy.
func (s Stage) Romantic() bool {
	return s == StageAttracted || s == StageCommitted
}

// InteractionKind tags what produced an interaction outcome.
type InteractionKind string

const (
	InteractionDialogue     InteractionKind = "dialogue"
	InteractionDeclined     InteractionKind = "declined"
	InteractionOverheard    InteractionKind = "overheard"
	InteractionCrisisShared InteractionKind = "crisis_shared"
	InteractionCrisisFailed InteractionKind = "crisis_failed"
)

// Interaction is one contributing event. Outcome is in [-1,1].
type Interaction struct {
	Tick    uint64          `json:"tick"`
	Kind    InteractionKind `json:"kind"`
	Outcome float64         `json:"outcome"`
	Ref     string          `json:"ref,omitempty"` // Session or crisis ID
}

// Relationship tracks a pair's stage and affinity.
type Relationship struct {
	Pair        Pair          `json:"pair"`
	Stage       Stage         `json:"stage"`
	Affinity    float64       `json:"affinity"`
	History     []Interaction `json:"history,omitempty"`
	CreatedTick uint64        `json:"created_tick"`
	ScoredTick  uint64        `json:"scored_tick"`
}

// Append adds an interaction, dropping the oldest beyond MaxHistory.
func (r *Relationship) Append(in Interaction) {
	r.History = append(r.History, in)
	if len(r.History) > MaxHistory {
		r.History = append([]Interaction(nil), r.History[len(r.History)-MaxHistory:]...)
	}
}

func (r *Relationship) clone() *Relationship {
	c := *r
	c.History = append([]Interaction(nil), r.History...)
	return &c
}

// Touch is an interaction waiting for the relationship engine.
type Touch struct {
	Pair        Pair
	Interaction Interaction
}
