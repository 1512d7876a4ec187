// Package config loads the walk's static configuration: the route, the
// walkers, simulation policy, the reasoning service and process settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/engine"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/llm"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// Config is the full process configuration.
type Config struct {
	Name          string        `yaml:"name"`
	LogLevel      string        `yaml:"log_level"`
	DBPath        string        `yaml:"db_path"`        // Empty disables persistence
	SnapshotEvery uint64        `yaml:"snapshot_every"` // Ticks between full saves
	APIPort       int           `yaml:"api_port"`       // Zero disables the HTTP observer
	OTLPEndpoint  string        `yaml:"otlp_endpoint"`  // Collector URL; empty disables export
	TickInterval  time.Duration `yaml:"tick_interval"`
	Speed         float64       `yaml:"speed"`

	World      WorldConfig   `yaml:"world"`
	Walkers    WalkersConfig `yaml:"walkers"`
	Simulation engine.Config `yaml:"simulation"`
	LLM        llm.Config    `yaml:"llm"`
}

// WorldConfig describes the route. Explicit nodes take precedence over
// generation.
type WorldConfig struct {
	Generate world.GenConfig  `yaml:"generate"`
	Nodes    []world.NodeSpec `yaml:"nodes"`
	Edges    []world.EdgeSpec `yaml:"edges"`
}

// WalkersConfig describes the starting population. Roster entries come
// first; Count more are spawned with generated names and traits.
type WalkersConfig struct {
	Count  int           `yaml:"count"`
	Roster []agents.Spec `yaml:"roster"`
}

// Default returns a complete configuration for a small generated walk.
func Default() Config {
	return Config{
		Name:          "the-long-walk",
		LogLevel:      "info",
		DBPath:        "data/walk.db",
		SnapshotEvery: 50,
		APIPort:       0,
		TickInterval:  time.Second,
		Speed:         1,
		World:         WorldConfig{Generate: world.DefaultGenConfig()},
		Walkers:       WalkersConfig{Count: 12},
		Simulation:    engine.DefaultConfig(),
		LLM:           llm.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	c.LLM.APIKey = envStr("ANTHROPIC_API_KEY", c.LLM.APIKey)
	c.DBPath = envStr("WALK_DB_PATH", c.DBPath)
	c.LogLevel = envStr("WALK_LOG_LEVEL", c.LogLevel)
	c.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.APIPort = envInt("WALK_API_PORT", c.APIPort)
	c.TickInterval = envDuration("WALK_TICK_INTERVAL", c.TickInterval)
	if v := os.Getenv("WALK_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Simulation.Seed = n
		}
	}
}

// Validate checks process settings and every nested policy.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("api_port %d out of range", c.APIPort))
	}
	if c.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("tick_interval must not be negative"))
	}
	if c.Speed < 0 {
		errs = append(errs, fmt.Errorf("speed must not be negative"))
	}
	if c.Walkers.Count < 0 {
		errs = append(errs, fmt.Errorf("walkers.count must not be negative"))
	}
	if c.Walkers.Count == 0 && len(c.Walkers.Roster) == 0 {
		errs = append(errs, fmt.Errorf("at least one walker is required"))
	}
	if len(c.World.Nodes) == 0 && c.World.Generate.Waypoints < 2 {
		errs = append(errs, fmt.Errorf("world needs explicit nodes or at least two generated waypoints"))
	}
	if len(c.World.Nodes) > 0 {
		seen := make(map[world.NodeID]struct{}, len(c.World.Nodes))
		for _, n := range c.World.Nodes {
			if _, dup := seen[n.ID]; dup {
				errs = append(errs, fmt.Errorf("duplicate node id %d", n.ID))
			}
			seen[n.ID] = struct{}{}
		}
		for i, w := range c.Walkers.Roster {
			if _, ok := seen[w.Start]; !ok {
				errs = append(errs, fmt.Errorf("walker %d (%s) starts at unknown node %d", i, w.Name, w.Start))
			}
		}
	}
	if err := c.Simulation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("simulation: %w", err))
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

// BuildGraph returns the route: the explicit nodes when given, otherwise a
// generated road seeded from the simulation seed unless the generator has
// its own.
func (c *Config) BuildGraph() (*world.Graph, error) {
	if len(c.World.Nodes) > 0 {
		return world.FromSpec(c.World.Nodes, c.World.Edges)
	}
	gen := c.World.Generate
	if gen.Seed == 0 {
		gen.Seed = c.Simulation.Seed
	}
	return world.Generate(gen)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
