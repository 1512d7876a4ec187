package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/config"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

func quietLog() *slog.Logger { return newLogger(io.Discard, slog.LevelError) }

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "data", "walk.db")
	cfg.World.Nodes = []world.NodeSpec{
		{ID: 1, Name: "Ashford", Terrain: "village"},
		{ID: 2, Name: "Fernbridge", X: 30},
		{ID: 3, Name: "Millbrook", X: 60, Terrain: "village"},
	}
	cfg.World.Edges = []world.EdgeSpec{{From: 1, To: 2}, {From: 2, To: 3}}
	cfg.Walkers.Count = 3
	cfg.Walkers.Roster = []agents.Spec{{Name: "Mara", Start: 3, Traits: agents.Traits{Sociability: 0.9}}}
	cfg.Simulation.ReportEvery = 0
	cfg.Simulation.Crisis.Chance = 0
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "walk.yaml")

	cfg, err := loadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Name, cfg.Name)

	_, err = loadConfig(missing, true)
	assert.Error(t, err, "an explicit path must exist")
}

func TestBuildStoreSpawnsRosterThenCount(t *testing.T) {
	cfg := smallConfig(t)
	st, restored, err := buildStore(cfg, nil, false, quietLog())
	require.NoError(t, err)
	assert.False(t, restored)

	walkers := st.Agents()
	require.Len(t, walkers, 4)
	assert.Equal(t, "Mara", walkers[0].Name)
	assert.Equal(t, world.NodeID(3), walkers[0].At)
	for i, a := range walkers {
		assert.Equal(t, agents.ID(i+1), a.ID)
	}
}

func TestStepArchivesAndResumes(t *testing.T) {
	cfg := smallConfig(t)
	log := quietLog()

	db, err := openDB(cfg.DBPath, log)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, step(context.Background(), &out, cfg, db, 12, false, log))
	require.NoError(t, db.Close())
	assert.Contains(t, out.String(), "tick 12:")

	db, err = openDB(cfg.DBPath, log)
	require.NoError(t, err)
	defer db.Close()

	st, restored, err := buildStore(cfg, db, false, log)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, uint64(12), st.Tick)
	assert.Len(t, st.Agents(), 4)
	for _, a := range st.Agents() {
		assert.False(t, a.Busy(), "nobody resumes mid-conversation")
	}

	fresh, restored, err := buildStore(cfg, db, true, log)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Zero(t, fresh.Tick)
	archived, err := db.RecentNarrative(10, "")
	require.NoError(t, err)
	assert.Empty(t, archived, "a fresh walk clears the old archive")
}

func TestNewReasonerWithoutKey(t *testing.T) {
	cfg := smallConfig(t)
	assert.Nil(t, newReasoner(cfg.LLM, quietLog()))
}

func TestDescribe(t *testing.T) {
	who := map[agents.ID]string{1: "Mara", 2: "Oren"}
	line := describe(narrative.Entry{
		Tick:    1200,
		Kind:    narrative.KindDialogueClosed,
		Agents:  []agents.ID{1, 2, 7},
		Payload: map[string]string{"turns": "4", "reason": "ended"},
	}, who)

	assert.True(t, strings.HasPrefix(line, "[tick 1,200] dialogue_closed"))
	assert.Contains(t, line, "Mara, Oren, #7")
	assert.Less(t, strings.Index(line, "reason="), strings.Index(line, "turns="), "payload keys are sorted")
}
