package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	g, err := cfg.BuildGraph()
	require.NoError(t, err)
	assert.Positive(t, g.Len())
}

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "walk.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "river-road", cfg.Name)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, int64(7), cfg.Simulation.Seed)
	assert.Equal(t, 6, cfg.Simulation.Dialogue.MaxTurns)
	assert.Equal(t, 2*time.Second, cfg.Simulation.Client.TickBudget)
	assert.Equal(t, 1, cfg.Simulation.Dialogue.TurnRetries, "unset fields keep their defaults")
	require.Len(t, cfg.Simulation.Crisis.Schedule, 1)
	assert.Equal(t, world.NodeID(2), cfg.Simulation.Crisis.Schedule[0].Location)
	require.Len(t, cfg.Walkers.Roster, 2)
	assert.Equal(t, 0.8, cfg.Walkers.Roster[0].Traits.Sociability)
	assert.Equal(t, 10, cfg.LLM.MaxPerMin)

	g, err := cfg.BuildGraph()
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
	var cost float64
	for _, e := range g.Neighbors(2) {
		if e.To == 3 {
			cost = e.Cost
		}
	}
	assert.Equal(t, 40.0, cost)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "bad.yaml"))
	require.Error(t, err)
	for _, want := range []string{"loading config", "name is required", "log_level", "walker", "dialogue"} {
		assert.Contains(t, err.Error(), want)
	}

	_, err = Load(filepath.Join("testdata", "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("WALK_DB_PATH", "/tmp/other.db")
	t.Setenv("WALK_API_PORT", "8181")
	t.Setenv("WALK_TICK_INTERVAL", "2s")
	t.Setenv("WALK_SEED", "99")
	t.Setenv("WALK_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join("testdata", "walk.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, 8181, cfg.APIPort)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)
	assert.Equal(t, int64(99), cfg.Simulation.Seed)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
}

func TestRosterMustStartOnKnownNode(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "walk.yaml"))
	require.NoError(t, err)
	cfg.Walkers.Roster[1].Start = 9
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node 9")
}
