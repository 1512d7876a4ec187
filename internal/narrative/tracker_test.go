package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
)

func TestCommitAssignsSequence(t *testing.T) {
	tr := NewTracker(0)
	tr.Stage(Entry{Tick: 1, Kind: KindProposal, Agents: []agents.ID{1, 2}})
	tr.Stage(Entry{Tick: 1, Kind: KindOverheard, Agents: []agents.ID{3}})

	assert.Zero(t, tr.Len(), "staged entries are not visible before commit")
	assert.Empty(t, tr.Recent(5))

	got := tr.Commit()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, uint64(2), tr.LastSeq())
	assert.Nil(t, tr.Commit())
}

func TestRecentMostRecentFirst(t *testing.T) {
	tr := NewTracker(0)
	for i := 0; i < 5; i++ {
		tr.Stage(Entry{Tick: uint64(i), Kind: KindDialogueClosed, Agents: []agents.ID{agents.ID(i % 2)}})
		tr.Commit()
	}

	recent := tr.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(4), recent[0].Tick)
	assert.Equal(t, uint64(3), recent[1].Tick)

	odd := tr.Recent(10, Involving(1))
	require.Len(t, odd, 2)
	assert.Equal(t, uint64(3), odd[0].Tick)

	assert.Empty(t, tr.Recent(10, OfKind(KindCrisisFailed)))
	assert.Len(t, tr.Since(3), 2)
}

func TestRetainBound(t *testing.T) {
	tr := NewTracker(3)
	for i := 0; i < 10; i++ {
		tr.Stage(Entry{Tick: uint64(i), Kind: KindProposal})
	}
	tr.Commit()
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, uint64(10), tr.Recent(1)[0].Seq)
}

func TestStageCopiesAgents(t *testing.T) {
	tr := NewTracker(0)
	ids := []agents.ID{1, 2}
	tr.Stage(Entry{Kind: KindProposal, Agents: ids})
	ids[0] = 9
	got := tr.Commit()
	assert.Equal(t, agents.ID(1), got[0].Agents[0])
}

func TestResumeContinuesNumbering(t *testing.T) {
	tr := NewTracker(0)
	tr.Resume(41)
	tr.Stage(Entry{Kind: KindProposal})
	got := tr.Commit()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(42), got[0].Seq)

	tr.Resume(100)
	tr.Stage(Entry{Kind: KindProposal})
	assert.Equal(t, uint64(43), tr.Commit()[0].Seq, "ignored once entries exist")
}
