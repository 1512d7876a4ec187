package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/config"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/engine"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/persistence"
)

func stepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Advance the walk a fixed number of ticks as fast as possible",
		RunE:  runStep,
	}
	cmd.Flags().Int("ticks", 100, "number of ticks to advance")
	cmd.Flags().Bool("archive", false, "resume from and save to the configured database")
	cmd.Flags().Bool("quiet", false, "print only the summary")
	return cmd
}

func runStep(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	ticks, _ := cmd.Flags().GetInt("ticks")
	archive, _ := cmd.Flags().GetBool("archive")
	quiet, _ := cmd.Flags().GetBool("quiet")
	if ticks < 1 {
		return fmt.Errorf("ticks must be at least 1")
	}

	log := newLogger(os.Stderr, cfg.SlogLevel())
	slog.SetDefault(log)

	var db *persistence.DB
	if archive {
		if db, err = openDB(cfg.DBPath, log); err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}
	}
	return step(cmd.Context(), cmd.OutOrStdout(), cfg, db, ticks, quiet, log)
}

// step runs ticks without pacing and prints what happened.
func step(ctx context.Context, out io.Writer, cfg *config.Config, db *persistence.DB, ticks int, quiet bool, log *slog.Logger) error {
	st, _, err := buildStore(cfg, db, false, log)
	if err != nil {
		return err
	}
	sim, err := engine.New(cfg.Simulation, st, newReasoner(cfg.LLM, log), log)
	if err != nil {
		return err
	}

	var arch *archiver
	if db != nil {
		arch = &archiver{db: db, st: st, every: cfg.SnapshotEvery, log: log}
		sim.OnCommit = arch.commit
	}

	var committed uint64
	for i := 0; i < ticks && ctx.Err() == nil; i++ {
		entries := sim.Advance(ctx)
		committed += uint64(len(entries))
		if !quiet {
			printEntries(out, entries, names(*sim.Latest()))
		}
	}

	if arch != nil {
		arch.save("step")
	}
	fmt.Fprintln(out, summary(sim.Snapshot(), committed))
	return nil
}
