package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

func TestSpawnerDeterministic(t *testing.T) {
	starts := []world.NodeID{1, 2}
	a := NewSpawner(7).Spawn(5, starts, 0)
	b := NewSpawner(7).Spawn(5, starts, 0)
	require.Len(t, a, 5)
	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
		assert.Equal(t, a[i].Traits, b[i].Traits)
		assert.Equal(t, ID(i+1), a[i].ID)
		assert.Equal(t, starts[i%2], a[i].At)
		assert.Equal(t, ActivityIdle, a[i].Activity)
		for _, v := range a[i].Traits.Vector() {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
	assert.Nil(t, NewSpawner(1).Spawn(3, nil, 0))
}

func TestFromSpecsClampsTraits(t *testing.T) {
	s := NewSpawner(1)
	s.SetNextID(10)
	out := s.FromSpecs([]Spec{{Name: "Ada", Start: 3, Traits: Traits{Sociability: 1.4, Temper: -0.2}}}, 5)
	require.Len(t, out, 1)
	assert.Equal(t, ID(10), out[0].ID)
	assert.Equal(t, 1.0, out[0].Traits.Sociability)
	assert.Equal(t, 0.0, out[0].Traits.Temper)
	assert.Equal(t, uint64(5), out[0].JoinedTick)
}

func TestRememberEvictsLeastImportant(t *testing.T) {
	a := &Agent{ID: 1}
	for i := 0; i < MaxKnowledge; i++ {
		Remember(a, Fragment{Tick: uint64(i), Importance: 0.5})
	}
	a.Knowledge[3].Importance = 0.1

	Remember(a, Fragment{Tick: 100, Text: "secret", Importance: 0.9})
	require.Len(t, a.Knowledge, MaxKnowledge)
	assert.Equal(t, "secret", a.Knowledge[3].Text)

	Remember(a, Fragment{Tick: 101, Text: "trivia", Importance: 0.05})
	for _, f := range a.Knowledge {
		assert.NotEqual(t, "trivia", f.Text)
	}

	recent := RecentKnowledge(a, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(100), recent[0].Tick)
}

func TestAgentClone(t *testing.T) {
	a := &Agent{ID: 1, Path: []world.NodeID{2, 3}}
	a.AddRelation(4)
	a.AddRelation(2)
	assert.Equal(t, []ID{2, 4}, a.RelationIDs())

	c := a.Clone()
	c.Path[0] = 9
	c.AddRelation(8)
	assert.Equal(t, world.NodeID(2), a.Path[0])
	assert.Len(t, a.Relations, 2)
}
