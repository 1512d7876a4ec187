package state

import (
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
)

// CloseReason records why a dialogue ended.
type CloseReason string

const (
	ReasonEnded     CloseReason = "ended"
	ReasonMaxTurns  CloseReason = "max_turns"
	ReasonFailed    CloseReason = "failed"
	ReasonInvariant CloseReason = "invariant"
)

// Turn is one utterance in a dialogue.
type Turn struct {
	Speaker   agents.ID `json:"speaker"`
	Utterance string    `json:"utterance"`
	Tick      uint64    `json:"tick"`
	Sentiment float64   `json:"sentiment"` // -1.0 to 1.0
	Fallback  bool      `json:"fallback,omitempty"`
}

// Session is a dialogue between two walkers. Participants[0] speaks first.
type Session struct {
	ID           string       `json:"id"`
	Seq          uint64       `json:"seq"` // Open order
	Participants [2]agents.ID `json:"participants"`
	Turns        []Turn       `json:"turns"`
	Open         bool         `json:"open"`
	Reason       CloseReason  `json:"reason,omitempty"`
	Radius       float64      `json:"radius"` // Overhear visibility
	OpenedTick   uint64       `json:"opened_tick"`
	ClosedTick   uint64       `json:"closed_tick,omitempty"`

	// Failure accounting for the turn currently being produced.
	Retries     int `json:"retries"`
	FailedTurns int `json:"failed_turns"`
}

// Pair returns the participants as a pair.
func (s *Session) Pair() Pair {
	return MakePair(s.Participants[0], s.Participants[1])
}

// NextSpeaker returns whose turn it is. Speakers strictly alternate.
func (s *Session) NextSpeaker() agents.ID {
	return s.Participants[len(s.Turns)%2]
}

// Listener returns the participant who is not speaking next.
func (s *Session) Listener() agents.ID {
	return s.Participants[(len(s.Turns)+1)%2]
}

// Has reports whether id participates.
func (s *Session) Has(id agents.ID) bool {
	return s.Participants[0] == id || s.Participants[1] == id
}

// TurnsAt returns the turns spoken at the given tick.
func (s *Session) TurnsAt(tick uint64) []Turn {
	var out []Turn
	for _, t := range s.Turns {
		if t.Tick == tick {
			out = append(out, t)
		}
	}
	return out
}

// LastTurns returns up to n of the most recent turns in spoken order.
func (s *Session) LastTurns(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if n > len(s.Turns) {
		n = len(s.Turns)
	}
	return append([]Turn(nil), s.Turns[len(s.Turns)-n:]...)
}

func (s *Session) clone() *Session {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	return &c
}
