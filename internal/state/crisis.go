package state

import (
	"sort"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// CrisisState is a crisis lifecycle stage. A crisis is dormant until a
// trigger fires and is only registered from Triggered on.
type CrisisState uint8

const (
	CrisisTriggered CrisisState = iota
	CrisisEscalating
	CrisisResolved
	CrisisFailed
	CrisisTimedOut
)

var crisisStateNames = [...]string{"triggered", "escalating", "resolved", "failed", "timed_out"}

func (s CrisisState) String() string {
	if int(s) < len(crisisStateNames) {
		return crisisStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the crisis is over.
func (s CrisisState) Terminal() bool {
	return s >= CrisisResolved
}

// Response is one walker's answer to a crisis.
type Response struct {
	Tick       uint64 `json:"tick"`
	Action     string `json:"action"`
	Qualifying bool   `json:"qualifying"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// Crisis is a time-bounded world event.
type Crisis struct {
	ID            string                 `json:"id"`
	Seq           uint64                 `json:"seq"`
	Kind          string                 `json:"kind"`
	Severity      int                    `json:"severity"`
	State         CrisisState            `json:"state"`
	TriggeredTick uint64                 `json:"triggered_tick"`
	Deadline      uint64                 `json:"deadline"`
	Quota         int                    `json:"quota"`
	Location      world.NodeID           `json:"location"`
	Radius        float64                `json:"radius"` // Walkers within reach may respond
	Responses     map[agents.ID]Response `json:"responses"`
	ClosedTick    uint64                 `json:"closed_tick,omitempty"`
	Offered       map[agents.ID]uint64   `json:"-"` // Walker -> tick of last offer
}

// Qualifying returns the number of responses that count toward the quota.
func (c *Crisis) Qualifying() int {
	n := 0
	for _, r := range c.Responses {
		if r.Qualifying {
			n++
		}
	}
	return n
}

// Responders returns walkers with qualifying responses in ascending order.
func (c *Crisis) Responders() []agents.ID {
	var out []agents.ID
	for id, r := range c.Responses {
		if r.Qualifying {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Crisis) clone() *Crisis {
	cp := *c
	cp.Responses = make(map[agents.ID]Response, len(c.Responses))
	for id, r := range c.Responses {
		cp.Responses[id] = r
	}
	cp.Offered = make(map[agents.ID]uint64, len(c.Offered))
	for id, t := range c.Offered {
		cp.Offered[id] = t
	}
	return &cp
}
