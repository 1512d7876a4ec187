// Package narrative keeps the append-only log of significant events.
// Entries are staged while a tick runs and become visible on Commit, so every
// reader within a tick sees the same prior-tick history.
package narrative

import (
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
)

// Kind tags what an entry records.
type Kind string

const (
	KindProposal          Kind = "proposal"
	KindProposalAccepted  Kind = "proposal_accepted"
	KindProposalDeclined  Kind = "proposal_declined"
	KindDialogueOpened    Kind = "dialogue_opened"
	KindDialogueClosed    Kind = "dialogue_closed"
	KindOverheard         Kind = "overheard"
	KindRelationshipStage Kind = "relationship_stage"
	KindCrisisTriggered   Kind = "crisis_triggered"
	KindCrisisEscalated   Kind = "crisis_escalated"
	KindCrisisResponse    Kind = "crisis_response"
	KindCrisisResolved    Kind = "crisis_resolved"
	KindCrisisFailed      Kind = "crisis_failed"
	KindCrisisTimedOut    Kind = "crisis_timed_out"
	KindRouteFailed       Kind = "route_failed"
	KindDiagnostic        Kind = "diagnostic"
)

// Entry is one significant event.
type Entry struct {
	Seq     uint64            `json:"seq"`
	Tick    uint64            `json:"tick"`
	Kind    Kind              `json:"kind"`
	Agents  []agents.ID       `json:"agents,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Involves reports whether any of the given walkers took part.
func (e Entry) Involves(ids ...agents.ID) bool {
	for _, a := range e.Agents {
		for _, id := range ids {
			if a == id {
				return true
			}
		}
	}
	return false
}

// Filter selects entries.
type Filter func(Entry) bool

// Involving matches entries that include any of the given walkers.
func Involving(ids ...agents.ID) Filter {
	return func(e Entry) bool { return e.Involves(ids...) }
}

// OfKind matches entries of any of the given kinds.
func OfKind(kinds ...Kind) Filter {
	return func(e Entry) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}

// Tracker owns the narrative log.
type Tracker struct {
	entries []Entry
	pending []Entry
	nextSeq uint64
	retain  int
}

// NewTracker creates a tracker keeping at most retain committed entries in
// memory. Zero keeps everything.
func NewTracker(retain int) *Tracker {
	return &Tracker{nextSeq: 1, retain: retain}
}

// Stage queues an entry for the current tick.
func (t *Tracker) Stage(e Entry) {
	e.Agents = append([]agents.ID(nil), e.Agents...)
	t.pending = append(t.pending, e)
}

// Pending returns the number of staged entries.
func (t *Tracker) Pending() int {
	return len(t.pending)
}

// Commit appends staged entries to the log in staging order and returns them.
func (t *Tracker) Commit() []Entry {
	if len(t.pending) == 0 {
		return nil
	}
	committed := make([]Entry, len(t.pending))
	for i, e := range t.pending {
		e.Seq = t.nextSeq
		t.nextSeq++
		committed[i] = e
	}
	t.pending = t.pending[:0]
	t.entries = append(t.entries, committed...)
	if t.retain > 0 && len(t.entries) > t.retain {
		t.entries = append([]Entry(nil), t.entries[len(t.entries)-t.retain:]...)
	}
	return committed
}

// Recent returns up to n committed entries matching all filters, most recent
// first.
func (t *Tracker) Recent(n int, filters ...Filter) []Entry {
	if n <= 0 {
		return nil
	}
	var out []Entry
	for i := len(t.entries) - 1; i >= 0 && len(out) < n; i-- {
		e := t.entries[i]
		if matches(e, filters) {
			out = append(out, e)
		}
	}
	return out
}

// Since returns committed entries with Seq greater than seq, oldest first.
func (t *Tracker) Since(seq uint64) []Entry {
	var out []Entry
	for _, e := range t.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Resume continues numbering after lastSeq, for a log restored from an
// archive. It has no effect once entries are committed.
func (t *Tracker) Resume(lastSeq uint64) {
	if len(t.entries) == 0 && lastSeq >= t.nextSeq {
		t.nextSeq = lastSeq + 1
	}
}

// Len returns the number of committed entries held in memory.
func (t *Tracker) Len() int {
	return len(t.entries)
}

// LastSeq returns the sequence number of the newest committed entry.
func (t *Tracker) LastSeq() uint64 {
	return t.nextSeq - 1
}

func matches(e Entry, filters []Filter) bool {
	for _, f := range filters {
		if !f(e) {
			return false
		}
	}
	return true
}
