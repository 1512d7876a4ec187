package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cognition"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/crisis"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReportEvery = 0
	cfg.Movement.WanderChance = 0
	cfg.Crisis.Chance = 0
	cfg.Crisis.TensionThreshold = 0
	cfg.Client = cognition.Config{Timeout: 5 * time.Second, TickBudget: time.Second, MaxInFlight: 8}
	return cfg
}

// crowd puts n walkers with the given traits at the same village.
func crowd(t *testing.T, n int, traits agents.Traits) *state.Store {
	t.Helper()
	g, err := world.FromSpec(
		[]world.NodeSpec{{ID: 1, Name: "Ashford", Terrain: "village"}, {ID: 2, Name: "Millbrook", X: 40, Terrain: "village"}},
		[]world.EdgeSpec{{From: 1, To: 2}},
	)
	require.NoError(t, err)
	st := state.NewStore(g, narrative.NewTracker(0))
	for i := 1; i <= n; i++ {
		require.NoError(t, st.AddAgent(&agents.Agent{
			ID: agents.ID(i), Name: fmt.Sprintf("W%d", i), At: 1, Next: 1, Goal: 1, Traits: traits,
		}))
	}
	return st
}

func newSim(t *testing.T, cfg Config, st *state.Store, r cognition.Reasoner) *Simulation {
	t.Helper()
	sim, err := New(cfg, st, r, nil)
	require.NoError(t, err)
	return sim
}

func hasKind(entries []narrative.Entry, k narrative.Kind) bool {
	for _, e := range entries {
		if e.Kind == k {
			return true
		}
	}
	return false
}

var social = agents.Traits{Sociability: 0.9, Openness: 0.8, Warmth: 0.7, Courage: 0.5, Perception: 0.5}

func TestTickAdvancesByOne(t *testing.T) {
	st := crowd(t, 4, social)
	sim := newSim(t, testConfig(), st, nil)

	for want := uint64(0); want < 20; want++ {
		require.Equal(t, want, sim.CurrentTick())
		for _, e := range sim.Advance(context.Background()) {
			assert.Equal(t, want, e.Tick, "entries carry the tick that produced them")
		}
		assert.Equal(t, want+1, st.Tick)
	}
}

func TestNoWalkerInTwoDialogues(t *testing.T) {
	st := crowd(t, 7, social)
	cfg := testConfig()
	cfg.Movement.WanderChance = 0.5
	sim := newSim(t, cfg, st, nil)

	opened := 0
	for i := 0; i < 80; i++ {
		entries := sim.Advance(context.Background())
		for _, e := range entries {
			if e.Kind == narrative.KindDialogueOpened {
				opened++
			}
		}

		seen := make(map[agents.ID]string)
		for _, s := range st.OpenSessions() {
			for _, id := range s.Participants {
				other, dup := seen[id]
				require.False(t, dup, "walker %d in sessions %s and %s", id, other, s.ID)
				seen[id] = s.ID
				a, _ := st.Agent(id)
				assert.Equal(t, agents.ActivityTalking, a.Activity)
			}
		}
		for _, a := range st.Agents() {
			if a.Activity == agents.ActivityTalking {
				assert.Contains(t, seen, a.ID, "walker %d talking outside a session", a.ID)
			}
		}
	}
	assert.Positive(t, opened)
}

func TestProposalOpensDialogue(t *testing.T) {
	st := crowd(t, 2, social)
	var line atomic.Int32
	sim := newSim(t, testConfig(), st, cognition.ReasonerFunc(func(ctx context.Context, req cognition.Request) (cognition.Decision, error) {
		switch req.Task {
		case cognition.TaskRespondProposal:
			return cognition.Decision{Accept: true}, nil
		case cognition.TaskPropose, cognition.TaskRespondDialogue:
			n := line.Add(1)
			return cognition.Decision{Utterance: fmt.Sprintf("line %d", n), Sentiment: 0.8, End: n == 4}, nil
		}
		return cognition.Decision{}, nil
	}))

	first := sim.Advance(context.Background())
	require.True(t, hasKind(first, narrative.KindProposal), "proposal by the first tick")
	second := sim.Advance(context.Background())
	require.True(t, hasKind(append(first, second...), narrative.KindDialogueOpened), "dialogue open by the second tick")

	var all []narrative.Entry
	for i := 0; i < 10; i++ {
		all = append(all, sim.Advance(context.Background())...)
	}
	require.True(t, hasKind(all, narrative.KindDialogueClosed))

	r, ok := st.Relationship(state.MakePair(1, 2))
	require.True(t, ok)
	assert.NotEmpty(t, r.History)
	assert.Greater(t, r.Affinity, 0.0)
	assert.NotEqual(t, state.StageUnacquainted, r.Stage)

	for _, a := range st.Agents() {
		assert.NotEqual(t, agents.ActivityTalking, a.Activity)
	}
}

func TestFailingServiceNeverStalls(t *testing.T) {
	st := crowd(t, 6, social)
	cfg := testConfig()
	sim := newSim(t, cfg, st, cognition.ReasonerFunc(func(ctx context.Context, req cognition.Request) (cognition.Decision, error) {
		return cognition.Decision{}, errors.New("service down")
	}))

	sim.AdvanceN(context.Background(), 60)
	assert.Equal(t, uint64(60), st.Tick)

	bound := uint64((cfg.Dialogue.TurnRetries+1)*(cfg.Dialogue.MaxFailedTurns+1) + 1)
	closed := 0
	for _, s := range st.Sessions() {
		if s.Open {
			assert.LessOrEqual(t, st.Tick-s.OpenedTick, bound)
			continue
		}
		closed++
		assert.LessOrEqual(t, len(s.Turns), cfg.Dialogue.MaxTurns)
		assert.LessOrEqual(t, s.ClosedTick-s.OpenedTick, bound)
		for _, turn := range s.Turns {
			assert.True(t, turn.Fallback)
		}
	}
	assert.Positive(t, closed)
}

func TestScheduledCrisisResolves(t *testing.T) {
	loner := agents.Traits{Courage: 0.2, Perception: 0.5}
	st := crowd(t, 3, loner)
	cfg := testConfig()
	cfg.Approach.ProposeThreshold = 1
	cfg.Crisis.OfferEvery = 1
	cfg.Crisis.Schedule = []crisis.Scheduled{{Tick: 0, Kind: "storm", Quota: 2, Deadline: 5, Location: 1}}

	sim := newSim(t, cfg, st, cognition.ReasonerFunc(func(ctx context.Context, req cognition.Request) (cognition.Decision, error) {
		p := req.Payload
		respond := (p.Tick == 2 && p.Self.ID == 1) || (p.Tick == 4 && p.Self.ID == 2)
		return cognition.Decision{Respond: respond, Action: "holds the tent down"}, nil
	}))

	var resolvedAt []uint64
	for i := 0; i < 8; i++ {
		for _, e := range sim.Advance(context.Background()) {
			if e.Kind == narrative.KindCrisisResolved {
				resolvedAt = append(resolvedAt, e.Tick)
			}
		}
	}
	assert.Equal(t, []uint64{4}, resolvedAt)

	crises := st.Crises()
	require.Len(t, crises, 1)
	assert.Equal(t, state.CrisisResolved, crises[0].State)
	assert.Empty(t, sim.Snapshot().Crises, "resolved crises leave the snapshot")
}

func TestRetireForceClosesDialogue(t *testing.T) {
	st := crowd(t, 2, social)
	sim := newSim(t, testConfig(), st, nil)

	var s *state.Session
	for i := 0; i < 5 && s == nil; i++ {
		sim.Advance(context.Background())
		if open := st.OpenSessions(); len(open) > 0 {
			s = open[0]
		}
	}
	require.NotNil(t, s, "expected a dialogue to open")

	require.NoError(t, sim.Retire(s.Participants[1]))
	entries := sim.Advance(context.Background())
	assert.False(t, s.Open)
	assert.Equal(t, state.ReasonInvariant, s.Reason)
	assert.True(t, hasKind(entries, narrative.KindDiagnostic))

	assert.ErrorIs(t, sim.Retire(99), ErrUnknownWalker)
}

func TestSameSeedSameStory(t *testing.T) {
	run := func() []string {
		st := crowd(t, 6, social)
		cfg := testConfig()
		cfg.Movement.WanderChance = 0.4
		cfg.Crisis.Chance = 0.05
		sim := newSim(t, cfg, st, nil)
		var out []string
		for _, e := range sim.AdvanceN(context.Background(), 50) {
			out = append(out, fmt.Sprintf("%d %s %v", e.Tick, e.Kind, e.Agents))
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestSnapshotIsDetached(t *testing.T) {
	st := crowd(t, 2, social)
	sim := newSim(t, testConfig(), st, nil)
	sim.AdvanceN(context.Background(), 3)

	snap := sim.Snapshot()
	assert.Equal(t, uint64(3), snap.Tick)
	require.Len(t, snap.Agents, 2)
	snap.Agents[0].Name = "changed"
	a, _ := st.Agent(1)
	assert.Equal(t, "W1", a.Name)
	assert.Equal(t, "W1", sim.Snapshot().Agents[0].Name, "callers get private copies")
	assert.Equal(t, "W1", sim.Latest().Agents[0].Name)
}

func TestClosingLineIsOverheard(t *testing.T) {
	for _, keep := range []int{0, 64} {
		t.Run(fmt.Sprintf("keep=%d", keep), func(t *testing.T) {
			st := crowd(t, 3, social)
			eavesdropper, _ := st.Agent(3)
			eavesdropper.Traits.Perception = 1

			cfg := testConfig()
			cfg.KeepSessions = keep
			var line atomic.Int32
			sim := newSim(t, cfg, st, cognition.ReasonerFunc(func(ctx context.Context, req cognition.Request) (cognition.Decision, error) {
				p := req.Payload
				switch req.Task {
				case cognition.TaskRespondProposal:
					accept := p.Self.ID != 3
					for _, o := range p.Others {
						accept = accept && o.ID != 3
					}
					return cognition.Decision{Accept: accept}, nil
				case cognition.TaskPropose, cognition.TaskRespondDialogue:
					n := line.Add(1)
					return cognition.Decision{Utterance: fmt.Sprintf("line%d", n), Sentiment: 0.5, End: n == 2}, nil
				}
				return cognition.Decision{}, nil
			}))

			var closedAt uint64
			for i := 0; i < 10 && closedAt == 0; i++ {
				for _, e := range sim.Advance(context.Background()) {
					if e.Kind == narrative.KindDialogueClosed {
						closedAt = e.Tick
					}
				}
			}
			require.NotZero(t, closedAt, "expected the dialogue to close")
			sim.Advance(context.Background())

			var heard []string
			for _, f := range eavesdropper.Knowledge {
				heard = append(heard, f.Text)
			}
			assert.Contains(t, heard, "line1")
			assert.Contains(t, heard, "line2", "the closing line reaches nearby walkers")
		})
	}
}

func TestRecentFilters(t *testing.T) {
	st := crowd(t, 3, social)
	sim := newSim(t, testConfig(), st, nil)
	sim.AdvanceN(context.Background(), 10)

	got := sim.Recent(5, narrative.Involving(1))
	assert.LessOrEqual(t, len(got), 5)
	for i, e := range got {
		assert.True(t, e.Involves(1))
		if i > 0 {
			assert.Less(t, e.Seq, got[i-1].Seq, "most recent first")
		}
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.Dialogue.MaxTurns = 0
	cfg.Crisis.Quota = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialogue")
	assert.Contains(t, err.Error(), "crisis")
}
