package state

import (
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
)

// ProposalState is a pair's position in the approach protocol.
type ProposalState uint8

const (
	ProposalIdle ProposalState = iota
	ProposalSent
	ProposalAccepted
	ProposalDeclined
	ProposalDialogueOpen
	ProposalClosed
)

var proposalStateNames = [...]string{"idle", "proposal_sent", "accepted", "declined", "dialogue_open", "closed"}

func (s ProposalState) String() string {
	if int(s) < len(proposalStateNames) {
		return proposalStateNames[s]
	}
	return "unknown"
}

// Proposal is an in-progress approach between two walkers.
type Proposal struct {
	Pair        Pair          `json:"pair"`
	Initiator   agents.ID     `json:"initiator"`
	Responder   agents.ID     `json:"responder"`
	State       ProposalState `json:"state"`
	SentTick    uint64        `json:"sent_tick"`
	DecidedTick uint64        `json:"decided_tick,omitempty"`
	Session     string        `json:"session,omitempty"`
	Fallback    bool          `json:"fallback,omitempty"`
}
