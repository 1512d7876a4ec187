package cupid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Attracted = Band{Up: 0.2, Down: 0.3}
	assert.Error(t, bad.Validate())
}

func TestCompatibilityBounds(t *testing.T) {
	same := agents.Traits{Openness: 0.5, Warmth: 1, Sociability: 0.5}
	assert.InDelta(t, 1.0, Compatibility(same, same), 1e-9)

	hot := agents.Traits{Openness: 0, Warmth: 0, Sociability: 0, Temper: 1}
	cold := agents.Traits{Openness: 1, Warmth: 0, Sociability: 1, Temper: 1}
	assert.InDelta(t, -1.0, Compatibility(hot, cold), 1e-9)

	assert.Equal(t, Compatibility(hot, same), Compatibility(same, hot))
}

func TestDecayHalvesPerHalfLife(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HalfLife = 10
	assert.InDelta(t, 1.0, cfg.Decay(0), 1e-9)
	assert.InDelta(t, 0.5, cfg.Decay(10), 1e-9)
	assert.InDelta(t, 0.25, cfg.Decay(20), 1e-9)

	cfg.HalfLife = 0
	assert.Equal(t, 1.0, cfg.Decay(1000))
}

func TestTransitionHysteresis(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		from     state.Stage
		affinity float64
		want     state.Stage
	}{
		{"climbs one step", state.StageAcquainted, 0.9, state.StageAttracted},
		{"holds between bands", state.StageAttracted, 0.35, state.StageAttracted},
		{"committed holds above down", state.StageCommitted, 0.6, state.StageCommitted},
		{"committed steps down once", state.StageCommitted, 0.0, state.StageAttracted},
		{"broken absorbs", state.StageBroken, 1.0, state.StageBroken},
		{"break from anywhere", state.StageAttracted, -0.6, state.StageBroken},
		{"unacquainted waits for contact", state.StageUnacquainted, 0.5, state.StageAcquainted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Transition(tt.from, tt.affinity, true))
		})
	}

	assert.Equal(t, state.StageUnacquainted, cfg.Transition(state.StageUnacquainted, 0.5, false))
}

func TestCommittedNeverDropsStraightToUnacquainted(t *testing.T) {
	cfg := DefaultConfig()
	for a := cfg.BreakThreshold + 0.01; a <= 1; a += 0.01 {
		next := cfg.Transition(state.StageCommitted, a, true)
		assert.NotEqual(t, state.StageUnacquainted, next, "affinity %.2f", a)
		assert.NotEqual(t, state.StageAcquainted, next, "affinity %.2f", a)
	}
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	g, err := world.FromSpec([]world.NodeSpec{{ID: 1}}, nil)
	require.NoError(t, err)
	st := state.NewStore(g, narrative.NewTracker(0))
	mid := agents.Traits{Sociability: 0.5, Openness: 0.5, Warmth: 0.5, Courage: 0.5, Perception: 0.5, Temper: 0.5}
	for i := 1; i <= 3; i++ {
		require.NoError(t, st.AddAgent(&agents.Agent{ID: agents.ID(i), At: 1, Next: 1, Traits: mid}))
	}
	return st
}

func TestRescoreDrainsTouches(t *testing.T) {
	st := newStore(t)
	e := New(DefaultConfig(), nil)

	p := state.MakePair(1, 2)
	st.Touch(p, state.Interaction{Kind: state.InteractionDialogue, Outcome: 0.3})
	changed := e.Rescore(st)
	assert.Equal(t, []state.Pair{p}, changed)

	r, ok := st.Relationship(p)
	require.True(t, ok)
	assert.Equal(t, state.StageAcquainted, r.Stage)
	assert.Len(t, r.History, 1)
	assert.Equal(t, 1, st.Narrative.Pending())

	// Nothing queued, nothing to do.
	assert.Nil(t, e.Rescore(st))

	// Untouched pairs are not created.
	_, ok = st.Relationship(state.MakePair(1, 3))
	assert.False(t, ok)
}

func TestSingleNegativeEventFromCommitted(t *testing.T) {
	st := newStore(t)
	e := New(DefaultConfig(), nil)
	p := state.MakePair(1, 2)

	r, err := st.EnsureRelationship(p)
	require.NoError(t, err)
	r.Stage = state.StageCommitted
	for i := 0; i < 3; i++ {
		r.Append(state.Interaction{Tick: 0, Outcome: 0.3})
	}

	st.Touch(p, state.Interaction{Kind: state.InteractionOverheard, Outcome: -0.5})
	e.Rescore(st)
	assert.Equal(t, state.StageAttracted, r.Stage)
}

func TestRescoreUnknownPairIsDiagnosed(t *testing.T) {
	st := newStore(t)
	e := New(DefaultConfig(), nil)
	st.Touch(state.MakePair(1, 9), state.Interaction{Outcome: 1})
	assert.Empty(t, e.Rescore(st))
	entries := st.Narrative.Commit()
	require.Len(t, entries, 1)
	assert.Equal(t, narrative.KindDiagnostic, entries[0].Kind)
}
