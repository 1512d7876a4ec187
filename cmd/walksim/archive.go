package main

import (
	"log/slog"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/persistence"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
)

// archiver writes each tick's narrative to the database and the full state
// every few ticks. It runs as the simulation's commit hook, between ticks.
type archiver struct {
	db    *persistence.DB
	st    *state.Store
	every uint64
	log   *slog.Logger
	saves int
}

func (a *archiver) commit(tick uint64, entries []narrative.Entry) {
	if err := a.db.SaveNarrative(entries); err != nil {
		a.log.Error("narrative save failed", "tick", tick, "error", err)
	}
	if a.every > 0 && (tick+1)%a.every == 0 {
		a.save("periodic")
	}
}

func (a *archiver) save(reason string) {
	if err := a.db.SaveWorldState(a.st); err != nil {
		a.log.Error("world state save failed", "reason", reason, "error", err)
		return
	}
	a.saves++
}
