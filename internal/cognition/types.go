// Package cognition assembles bounded decision contexts and carries them to an
// external reasoning service. Calls run concurrently with the tick; their
// results come back as values the owning subsystem validates before applying.
package cognition

import (
	"context"
	"fmt"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
)

// Task names the decision being asked for.
type Task string

const (
	TaskPropose         Task = "propose"             // Opening line of a dialogue
	TaskRespondProposal Task = "respond-to-proposal" // Accept or decline an approach
	TaskRespondDialogue Task = "respond-to-dialogue" // Next line in a dialogue
	TaskCrisisResponse  Task = "crisis-response"     // Whether and how to answer a crisis
)

// Ticket identifies the state a request was built against. Owner is the
// session, pair or crisis the call belongs to, Subject the deciding walker,
// and Version a counter the owner bumps whenever the context moves on.
type Ticket struct {
	Owner   string    `json:"owner"`
	Subject agents.ID `json:"subject"`
	Version uint64    `json:"version"`
}

func (t Ticket) String() string {
	return fmt.Sprintf("%s/%d@%d", t.Owner, t.Subject, t.Version)
}

// Request is one call to the reasoning service.
type Request struct {
	ID      string  `json:"id"`
	Task    Task    `json:"task"`
	Payload Payload `json:"payload"`
	Schema  string  `json:"schema,omitempty"`
	Ticket  Ticket  `json:"ticket"`
}

// Decision is the structured answer. Which fields matter depends on the task.
type Decision struct {
	Accept    bool    `json:"accept"`              // respond-to-proposal
	Utterance string  `json:"utterance,omitempty"` // propose, respond-to-dialogue
	End       bool    `json:"end"`                 // respond-to-dialogue
	Sentiment float64 `json:"sentiment"`           // -1.0 to 1.0
	Respond   bool    `json:"respond"`             // crisis-response
	Action    string  `json:"action,omitempty"`    // crisis-response
	Reasoning string  `json:"reasoning,omitempty"`
}

// Reasoner makes decisions. Implementations must honour ctx cancellation.
type Reasoner interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// ReasonerFunc adapts a function to Reasoner.
type ReasonerFunc func(ctx context.Context, req Request) (Decision, error)

// Decide calls f.
func (f ReasonerFunc) Decide(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Schemas describe the decision fields each task expects.
var Schemas = map[Task]string{
	TaskPropose:         `{"utterance": string, "sentiment": number}`,
	TaskRespondProposal: `{"accept": bool, "reasoning": string}`,
	TaskRespondDialogue: `{"utterance": string, "end": bool, "sentiment": number}`,
	TaskCrisisResponse:  `{"respond": bool, "action": string, "reasoning": string}`,
}
