package store

import (
	"sort"
	"time"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// StageEntry is the derived view of one pipeline stage. A stage can be
// re-entered (the refinement loop), so Iterations counts starts rather than
// assuming a linear automaton.
type StageEntry struct {
	Name       pipeline.Stage       `json:"name"`
	Status     pipeline.StageStatus `json:"status"`
	StartedAt  time.Time            `json:"started_at,omitzero"`
	FinishedAt time.Time            `json:"finished_at,omitzero"`
	Iterations int                  `json:"iterations,omitempty"`
}

// DeriveStages folds the event log into the ordered stage list. Re-deriving
// from the same log always yields identical output; nothing here mutates the
// input.
//
// A run.failed event forces the currently-active stage to failed even when no
// matching stage.failed was observed, so the terminal view never shows a
// stage spinning forever.
func DeriveStages(events []pipeline.Event) []StageEntry {
	byName := make(map[pipeline.Stage]*StageEntry, len(pipeline.StageOrder))
	out := make([]StageEntry, len(pipeline.StageOrder))
	for i, name := range pipeline.StageOrder {
		out[i] = StageEntry{Name: name, Status: pipeline.StagePending}
		byName[name] = &out[i]
	}

	for _, ev := range events {
		switch ev.Type {
		case pipeline.EventStageStarted, pipeline.EventRefinementStarted:
			entry := stageEntryFor(byName, ev)
			if entry == nil {
				continue
			}
			entry.Status = pipeline.StageActive
			entry.Iterations++
			if entry.StartedAt.IsZero() || !ev.Time().IsZero() {
				entry.StartedAt = ev.Time()
			}
			entry.FinishedAt = time.Time{}
		case pipeline.EventStageCompleted, pipeline.EventRefinementCompleted:
			entry := stageEntryFor(byName, ev)
			if entry == nil {
				continue
			}
			entry.Status = pipeline.StageCompleted
			entry.FinishedAt = ev.Time()
		case pipeline.EventStageFailed:
			entry := stageEntryFor(byName, ev)
			if entry == nil {
				continue
			}
			entry.Status = pipeline.StageFailed
			entry.FinishedAt = ev.Time()
		case pipeline.EventRunCompleted:
			for i := range out {
				if out[i].Status == pipeline.StageActive {
					out[i].Status = pipeline.StageCompleted
					out[i].FinishedAt = ev.Time()
				}
			}
		case pipeline.EventRunFailed:
			for i := range out {
				if out[i].Status == pipeline.StageActive {
					out[i].Status = pipeline.StageFailed
					out[i].FinishedAt = ev.Time()
				}
			}
		}
	}
	return out
}

func stageEntryFor(byName map[pipeline.Stage]*StageEntry, ev pipeline.Event) *StageEntry {
	name := ev.Stage
	if name == "" {
		switch ev.Type {
		case pipeline.EventRefinementStarted, pipeline.EventRefinementCompleted:
			name = pipeline.StageRefinement
		default:
			return nil
		}
	}
	return byName[name]
}

// ActiveToolNames returns the sorted names of tools with a started event not
// yet balanced by a completed one. Concurrent invocations of the same tool
// are collapsed into a single name.
func ActiveToolNames(events []pipeline.Event) []string {
	open := map[string]int{}
	for _, ev := range events {
		switch ev.Type {
		case pipeline.EventToolStarted:
			if p, err := ev.DecodeTool(); err == nil && p.Name != "" {
				open[p.Name]++
			}
		case pipeline.EventToolCompleted:
			if p, err := ev.DecodeTool(); err == nil && p.Name != "" {
				open[p.Name]--
			}
		}
	}
	out := make([]string, 0, len(open))
	for name, n := range open {
		if n > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ToolNames returns every tool name ever activated during the run, sorted.
func ToolNames(events []pipeline.Event) []string {
	seen := map[string]struct{}{}
	for _, ev := range events {
		if ev.Type != pipeline.EventToolStarted {
			continue
		}
		if p, err := ev.DecodeTool(); err == nil && p.Name != "" {
			seen[p.Name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RefinementIterations counts quality-gated retry cycles: every
// refinement.started opens one. IsRefining reports whether the latest cycle
// is still open.
func RefinementIterations(events []pipeline.Event) (iterations int, isRefining bool) {
	open := 0
	for _, ev := range events {
		switch ev.Type {
		case pipeline.EventRefinementStarted:
			iterations++
			open++
		case pipeline.EventRefinementCompleted:
			if open > 0 {
				open--
			}
		}
	}
	return iterations, open > 0
}

// LatestScore returns the score of the most recent quality.scored event.
func LatestScore(events []pipeline.Event) (float64, bool) {
	var score float64
	found := false
	for _, ev := range events {
		if ev.Type != pipeline.EventQualityScored {
			continue
		}
		if p, err := ev.DecodeQuality(); err == nil {
			score = p.Score
			found = true
		}
	}
	return score, found
}

// Elapsed is the wall-clock span between the first and last event carrying a
// parseable timestamp.
func Elapsed(events []pipeline.Event) time.Duration {
	var first, last time.Time
	for _, ev := range events {
		t := ev.Time()
		if t.IsZero() {
			continue
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	if first.IsZero() || last.IsZero() {
		return 0
	}
	return last.Sub(first)
}
