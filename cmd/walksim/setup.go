package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cognition"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/config"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/llm"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/persistence"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

const (
	trailheads      = 3    // First route nodes that spawned walkers start on
	narrativeRetain = 5000 // Committed entries held in memory; the archive keeps the rest
)

// loadConfig reads path when it exists. A missing file falls back to the
// defaults unless the path was given explicitly.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	def := config.Default()
	def.ApplyEnv()
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	return &def, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openDB opens the archive, creating its directory. An empty path disables
// persistence.
func openDB(path string, log *slog.Logger) (*persistence.DB, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(path, log)
	if err != nil {
		return nil, err
	}
	log.Info("database opened", "path", path)
	return db, nil
}

// buildStore creates the route and the walkers, restoring a saved walk when
// db holds one and fresh is false.
func buildStore(cfg *config.Config, db *persistence.DB, fresh bool, log *slog.Logger) (*state.Store, bool, error) {
	g, err := cfg.BuildGraph()
	if err != nil {
		return nil, false, fmt.Errorf("build route: %w", err)
	}
	log.Info("route ready", "nodes", g.Len(), "explicit", len(cfg.World.Nodes) > 0)

	st := state.NewStore(g, narrative.NewTracker(narrativeRetain))

	if db != nil && !fresh && db.HasWorldState() {
		log.Info("found saved walk, loading...")
		if err := db.Restore(st); err != nil {
			return nil, false, fmt.Errorf("restore: %w", err)
		}
		return st, true, nil
	}

	if db != nil {
		if err := db.Reset(); err != nil {
			return nil, false, fmt.Errorf("reset archive: %w", err)
		}
	}
	for _, a := range spawn(cfg, g) {
		if err := st.AddAgent(a); err != nil {
			return nil, false, fmt.Errorf("add walker: %w", err)
		}
	}
	log.Info("walkers spawned", "count", len(st.AgentIDs()))
	return st, false, nil
}

// spawn creates the roster followed by Count generated walkers spread over
// the first few nodes of the route.
func spawn(cfg *config.Config, g *world.Graph) []*agents.Agent {
	spawner := agents.NewSpawner(cfg.Simulation.Seed)
	out := spawner.FromSpecs(cfg.Walkers.Roster, 0)

	ids := g.NodeIDs()
	if len(ids) > trailheads {
		ids = ids[:trailheads]
	}
	return append(out, spawner.Spawn(cfg.Walkers.Count, ids, 0)...)
}

// newReasoner returns the reasoning service, or nil when no API key is set
// and every decision uses the local fallbacks.
func newReasoner(cfg llm.Config, log *slog.Logger) cognition.Reasoner {
	client := llm.NewClient(cfg, log.With("component", "llm"))
	if client == nil {
		log.Warn("ANTHROPIC_API_KEY not set, walkers will use fallback decisions")
		return nil
	}
	log.Info("reasoning service enabled", "model", cfg.Model)
	return client
}
