package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/api"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/engine"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/telemetry"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the walk in real time",
		RunE:  runWalk,
	}
	cmd.Flags().Uint64("ticks", 0, "stop after this many ticks (0 runs until interrupted)")
	cmd.Flags().Float64("speed", 0, "speed multiplier (overrides config when set)")
	cmd.Flags().Int("port", 0, "HTTP observer port (overrides config when set)")
	cmd.Flags().Bool("fresh", false, "ignore any saved walk and start over")
	cmd.Flags().Bool("quiet", false, "do not print narrative entries")
	return cmd
}

func runWalk(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ticks, _ := cmd.Flags().GetUint64("ticks")
	fresh, _ := cmd.Flags().GetBool("fresh")
	quiet, _ := cmd.Flags().GetBool("quiet")
	if cmd.Flags().Changed("speed") {
		cfg.Speed, _ = cmd.Flags().GetFloat64("speed")
	}
	if cmd.Flags().Changed("port") {
		cfg.APIPort, _ = cmd.Flags().GetInt("port")
	}

	log := newLogger(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(log)
	log.Info("the long walk", "name", cfg.Name, "version", version, "seed", cfg.Simulation.Seed)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint: cfg.OTLPEndpoint,
		Walk:     cfg.Name,
		Version:  version,
		Seed:     cfg.Simulation.Seed,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	// ── Database ──────────────────────────────────────────────────────
	db, err := openDB(cfg.DBPath, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// ── Route and walkers ─────────────────────────────────────────────
	st, restored, err := buildStore(cfg, db, fresh, log)
	if err != nil {
		return err
	}

	// ── Simulation ────────────────────────────────────────────────────
	sim, err := engine.New(cfg.Simulation, st, newReasoner(cfg.LLM, log), log)
	if err != nil {
		return err
	}

	var arch *archiver
	if db != nil {
		arch = &archiver{db: db, st: st, every: cfg.SnapshotEvery, log: log}
		sim.OnCommit = arch.commit
		if !restored {
			if err := sim.WithStore(func(st *state.Store) error { return db.SaveWorldState(st) }); err != nil {
				log.Error("initial save failed", "error", err)
			}
		}
	}

	loop := engine.NewLoop(sim, log)
	loop.Interval = cfg.TickInterval
	loop.SetSpeed(cfg.Speed)
	out := cmd.OutOrStdout()
	var committed uint64
	loop.OnTick = func(tick uint64, entries []narrative.Entry) {
		committed += uint64(len(entries))
		if !quiet && len(entries) > 0 {
			printEntries(out, entries, names(*sim.Latest()))
		}
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.APIPort > 0 {
		adminKey := os.Getenv("WALK_ADMIN_KEY")
		if adminKey == "" {
			log.Warn("WALK_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		srv := &api.Server{
			Sim:      sim,
			Loop:     loop,
			DB:       db,
			Name:     cfg.Name,
			Port:     cfg.APIPort,
			AdminKey: adminKey,
			Log:      log.With("component", "api"),
		}
		srv.Start(ctx)
		fmt.Fprintf(out, "API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	}

	// ── Start ─────────────────────────────────────────────────────────
	snap := sim.Snapshot()
	fmt.Fprintf(out, "\n%d walkers set out on a road of %d places.\n", len(snap.Agents), st.Graph.Len())
	if restored {
		fmt.Fprintf(out, "Resuming from tick %s\n", humanize.Comma(int64(snap.Tick)))
	}
	fmt.Fprintln(out, "Walking... (Ctrl+C to stop)")

	started := time.Now()
	loop.Run(ctx, ticks)

	// Final save on shutdown.
	if arch != nil {
		log.Info("final save...")
		_ = sim.WithStore(func(*state.Store) error {
			arch.save("shutdown")
			return nil
		})
		if info, err := os.Stat(cfg.DBPath); err == nil {
			log.Info("archive size", "path", cfg.DBPath, "size", humanize.Bytes(uint64(info.Size())))
		}
	}

	fmt.Fprintln(out, summary(sim.Snapshot(), committed))
	fmt.Fprintf(out, "Walked for %s.\n", strings.TrimSpace(humanize.RelTime(started, time.Now(), "", "")))
	return nil
}
