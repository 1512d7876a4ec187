package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
)

// names maps walker IDs to display names.
func names(snap state.Snapshot) map[agents.ID]string {
	out := make(map[agents.ID]string, len(snap.Agents))
	for _, a := range snap.Agents {
		out[a.ID] = a.Name
	}
	return out
}

// describe renders one narrative entry as a single line.
func describe(e narrative.Entry, who map[agents.ID]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[tick %s] %-18s", humanize.Comma(int64(e.Tick)), e.Kind)

	if len(e.Agents) > 0 {
		ns := make([]string, len(e.Agents))
		for i, id := range e.Agents {
			if n, ok := who[id]; ok {
				ns[i] = n
			} else {
				ns[i] = fmt.Sprintf("#%d", id)
			}
		}
		b.WriteString(" ")
		b.WriteString(strings.Join(ns, ", "))
	}

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, e.Payload[k])
	}
	return b.String()
}

func printEntries(w io.Writer, entries []narrative.Entry, who map[agents.ID]string) {
	for _, e := range entries {
		fmt.Fprintln(w, describe(e, who))
	}
}

// summary renders the end-of-run standing of the walk.
func summary(snap state.Snapshot, entries uint64) string {
	stages := make(map[string]int)
	for _, r := range snap.Relationships {
		stages[r.Stage]++
	}
	return fmt.Sprintf("tick %s: %d walkers, %d open dialogues, %d active crises, %s narrative entries; relationships acquainted=%d attracted=%d committed=%d broken=%d",
		humanize.Comma(int64(snap.Tick)),
		len(snap.Agents),
		len(snap.Dialogues),
		len(snap.Crises),
		humanize.Comma(int64(entries)),
		stages[state.StageAcquainted.String()],
		stages[state.StageAttracted.String()],
		stages[state.StageCommitted.String()],
		stages[state.StageBroken.String()],
	)
}
