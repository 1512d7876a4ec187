package state

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

func newStore(t *testing.T, n int) *Store {
	t.Helper()
	g, err := world.FromSpec([]world.NodeSpec{{ID: 1}, {ID: 2, X: 10}}, []world.EdgeSpec{{From: 1, To: 2}})
	require.NoError(t, err)
	st := NewStore(g, nil)
	for i := 1; i <= n; i++ {
		require.NoError(t, st.AddAgent(&agents.Agent{ID: agents.ID(i), At: 1, Next: 1}))
	}
	return st
}

func TestAddAgent(t *testing.T) {
	st := newStore(t, 0)
	require.NoError(t, st.AddAgent(&agents.Agent{ID: 3, At: 1, Next: 1}))
	require.NoError(t, st.AddAgent(&agents.Agent{ID: 1, At: 2, Next: 2}))
	assert.Error(t, st.AddAgent(&agents.Agent{ID: 1, At: 1}))
	assert.Error(t, st.AddAgent(&agents.Agent{ID: 5, At: 99}))
	assert.Equal(t, []agents.ID{1, 3}, st.AgentIDs())
}

func TestSessionMutualExclusion(t *testing.T) {
	st := newStore(t, 3)

	s, err := st.OpenSession(1, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, agents.ID(1), s.NextSpeaker())

	_, err = st.OpenSession(2, 3, 5)
	assert.True(t, errors.Is(err, ErrInvariant))
	_, err = st.OpenSession(3, 9, 5)
	assert.True(t, errors.Is(err, ErrInvariant))

	st.CloseSession(s.ID, ReasonEnded)
	assert.False(t, s.Open)
	_, err = st.OpenSession(2, 3, 5)
	assert.NoError(t, err)
	assert.Len(t, st.OpenSessions(), 1)
	assert.Len(t, st.Sessions(), 2)
}

func TestVerifySession(t *testing.T) {
	st := newStore(t, 2)
	s, err := st.OpenSession(1, 2, 5)
	require.NoError(t, err)
	assert.NoError(t, st.VerifySession(s))

	a, _ := st.Agent(2)
	a.Activity = agents.ActivityInactive
	assert.True(t, errors.Is(st.VerifySession(s), ErrInvariant))
}

func TestPruneSessions(t *testing.T) {
	st := newStore(t, 2)
	var first string
	for i := 0; i < 4; i++ {
		s, err := st.OpenSession(1, 2, 5)
		require.NoError(t, err)
		if i == 0 {
			first = s.ID
		}
		st.CloseSession(s.ID, ReasonEnded)
		st.Tick++
	}
	assert.Equal(t, 2, st.PruneSessions(2))
	assert.Len(t, st.Sessions(), 2)
	_, ok := st.Session(first)
	assert.False(t, ok)
}

func TestPruneSessionsByCloseTick(t *testing.T) {
	st := newStore(t, 4)
	long, err := st.OpenSession(1, 2, 5)
	require.NoError(t, err)
	short, err := st.OpenSession(3, 4, 5)
	require.NoError(t, err)

	st.Tick = 3
	st.CloseSession(short.ID, ReasonEnded)
	st.Tick = 9
	st.CloseSession(long.ID, ReasonEnded)

	assert.Zero(t, st.PruneSessions(0), "sessions closed this tick stay")

	st.Tick = 10
	assert.Equal(t, 1, st.PruneSessions(1))
	_, ok := st.Session(long.ID)
	assert.True(t, ok, "the most recently closed session survives")
	_, ok = st.Session(short.ID)
	assert.False(t, ok)
}

func TestEnsureRelationship(t *testing.T) {
	st := newStore(t, 2)
	p := MakePair(2, 1)
	assert.Equal(t, Pair{A: 1, B: 2}, p)
	assert.Equal(t, StageUnacquainted, st.StageOf(p))

	r, err := st.EnsureRelationship(p)
	require.NoError(t, err)
	again, err := st.EnsureRelationship(p)
	require.NoError(t, err)
	assert.Same(t, r, again)

	a, _ := st.Agent(1)
	assert.Equal(t, []agents.ID{2}, a.RelationIDs())

	_, err = st.EnsureRelationship(MakePair(1, 7))
	assert.True(t, errors.Is(err, ErrInvariant))
}

func TestCooldown(t *testing.T) {
	st := newStore(t, 2)
	p := MakePair(1, 2)
	st.SetCooldown(p, 3)
	assert.True(t, st.CoolingDown(p))
	st.Tick = 3
	assert.False(t, st.CoolingDown(p))
}

func TestProximate(t *testing.T) {
	st := newStore(t, 3)
	st.SetProximity([]Pair{MakePair(1, 2), MakePair(2, 3)})
	assert.True(t, st.Proximate(MakePair(2, 1)))
	assert.False(t, st.Proximate(MakePair(1, 3)))
}

func TestSnapshotIsDetached(t *testing.T) {
	st := newStore(t, 2)
	s, err := st.OpenSession(1, 2, 5)
	require.NoError(t, err)
	s.Turns = append(s.Turns, Turn{Speaker: 1, Utterance: "hello"})

	snap := st.Snapshot()
	require.Len(t, snap.Dialogues, 1)
	snap.Dialogues[0].Turns[0].Utterance = "changed"
	assert.Equal(t, "hello", s.Turns[0].Utterance)
	assert.Equal(t, s.ID, snap.Agents[0].Session)
}

func TestRestoreRelationship(t *testing.T) {
	st := newStore(t, 3)
	r := &Relationship{Pair: MakePair(1, 3), Stage: StageAttracted, Affinity: 0.4}
	require.NoError(t, st.RestoreRelationship(r))

	got, ok := st.Relationship(MakePair(3, 1))
	require.True(t, ok)
	assert.Same(t, r, got)
	c, _ := st.Agent(3)
	assert.Equal(t, []agents.ID{1}, c.RelationIDs())

	assert.Error(t, st.RestoreRelationship(&Relationship{Pair: MakePair(1, 3)}))
	assert.ErrorIs(t, st.RestoreRelationship(&Relationship{Pair: MakePair(2, 9)}), ErrInvariant)
}

func TestCrisisLifecycle(t *testing.T) {
	st := newStore(t, 1)
	c := &Crisis{Kind: "storm", Deadline: 5, Quota: 1}
	st.AddCrisis(c)

	assert.Equal(t, CrisisTriggered, c.State, "registered crises start triggered")
	assert.Equal(t, "triggered", c.State.String())
	assert.Len(t, st.ActiveCrises(), 1)

	for _, end := range []CrisisState{CrisisResolved, CrisisFailed, CrisisTimedOut} {
		assert.True(t, end.Terminal(), end.String())
	}
	assert.False(t, CrisisEscalating.Terminal())
	assert.Equal(t, "timed_out", CrisisTimedOut.String())

	c.State = CrisisFailed
	assert.Empty(t, st.ActiveCrises())
}
