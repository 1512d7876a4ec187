package cognition

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

func newStore(t *testing.T) *state.Store {
	t.Helper()
	g, err := world.FromSpec([]world.NodeSpec{{ID: 1, Name: "Ashford"}}, nil)
	require.NoError(t, err)
	st := state.NewStore(g, narrative.NewTracker(0))
	for i := 1; i <= 3; i++ {
		require.NoError(t, st.AddAgent(&agents.Agent{ID: agents.ID(i), Name: fmt.Sprintf("W%d", i), At: 1, Next: 1}))
	}
	return st
}

func TestForDialogueBoundsHistory(t *testing.T) {
	st := newStore(t)
	s, err := st.OpenSession(1, 2, 5)
	require.NoError(t, err)

	b := NewBuilder(Limits{MaxHistory: 3, MaxNarrative: 2, MaxKnowledge: 1})

	p, err := b.ForDialogue(st, s)
	require.NoError(t, err)
	assert.Equal(t, TaskPropose, p.Task)
	assert.Equal(t, agents.ID(1), p.Self.ID)
	assert.Equal(t, "Ashford", p.Location)

	for i := 0; i < 5; i++ {
		s.Turns = append(s.Turns, state.Turn{Speaker: s.NextSpeaker(), Utterance: fmt.Sprintf("line %d", i), Tick: uint64(i)})
	}
	p, err = b.ForDialogue(st, s)
	require.NoError(t, err)
	assert.Equal(t, TaskRespondDialogue, p.Task)
	assert.Equal(t, agents.ID(2), p.Self.ID)
	require.Len(t, p.History, 3)
	assert.Equal(t, "line 2", p.History[0].Text)
	assert.Equal(t, "line 4", p.History[2].Text)
	require.Len(t, p.Others, 1)
	assert.Equal(t, "unacquainted", p.Stage)
}

func TestBuildNarrativeMostRecentFirst(t *testing.T) {
	st := newStore(t)
	for i := 0; i < 4; i++ {
		st.Tick = uint64(i)
		st.Stage(narrative.KindDialogueClosed, []agents.ID{1, 2}, nil)
		st.Stage(narrative.KindDialogueClosed, []agents.ID{3}, nil)
		st.Narrative.Commit()
	}
	a, _ := st.Agent(1)
	agents.Remember(a, agents.Fragment{Tick: 1, Speaker: 3, Text: "old", Importance: 0.5})
	agents.Remember(a, agents.Fragment{Tick: 2, Speaker: 3, Text: "new", Importance: 0.5})

	b := NewBuilder(Limits{MaxHistory: 3, MaxNarrative: 2, MaxKnowledge: 1})
	p, err := b.Build(st, TaskRespondProposal, 1, 2)
	require.NoError(t, err)
	require.Len(t, p.Narrative, 2)
	assert.Equal(t, uint64(3), p.Narrative[0].Tick)
	assert.Equal(t, uint64(2), p.Narrative[1].Tick)
	require.Len(t, p.Knowledge, 1)
	assert.Equal(t, "new", p.Knowledge[0].Text)

	_, err = json.Marshal(p)
	assert.NoError(t, err, "payloads are serializable")
}

func TestForCrisis(t *testing.T) {
	st := newStore(t)
	st.Tick = 3
	c := &state.Crisis{Kind: "storm", Severity: 2, Deadline: 8, Quota: 2, Location: 1}
	st.AddCrisis(c)

	p, err := NewBuilder(DefaultLimits()).ForCrisis(st, c, 2)
	require.NoError(t, err)
	require.NotNil(t, p.Crisis)
	assert.Equal(t, uint64(5), p.Crisis.TicksLeft)
	assert.Equal(t, "Ashford", p.Crisis.Location)
	assert.Empty(t, p.Others)
}

func TestBuildUnknownWalker(t *testing.T) {
	st := newStore(t)
	_, err := NewBuilder(DefaultLimits()).Build(st, TaskPropose, 9)
	assert.True(t, errors.Is(err, state.ErrInvariant))
	_, err = NewBuilder(DefaultLimits()).Build(st, TaskPropose, 1, 9)
	assert.True(t, errors.Is(err, state.ErrInvariant))
}
