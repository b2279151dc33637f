package store

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

func ev(typ pipeline.EventType, seq int64, stage pipeline.Stage, payload string) pipeline.Event {
	out := pipeline.Event{RunID: "r1", Seq: seq, Type: typ, Stage: stage}
	if payload != "" {
		out.Payload = json.RawMessage(payload)
	}
	return out
}

func parsedEv(t *testing.T, typ pipeline.EventType, seq int64, ts string) pipeline.Event {
	t.Helper()
	raw := fmt.Sprintf(`{"run_id":"r1","seq":%d,"ts":%q,"type":%q}`, seq, ts, typ)
	out, err := pipeline.ParseEvent([]byte(raw))
	require.NoError(t, err)
	return out
}

func stageByName(t *testing.T, stages []StageEntry, name pipeline.Stage) StageEntry {
	t.Helper()
	for _, s := range stages {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("stage %s not found", name)
	return StageEntry{}
}

func TestDeriveStages_Lifecycle(t *testing.T) {
	events := []pipeline.Event{
		ev(pipeline.EventStageStarted, 1, pipeline.StagePlanning, ""),
		ev(pipeline.EventStageCompleted, 2, pipeline.StagePlanning, ""),
		ev(pipeline.EventStageStarted, 3, pipeline.StageValidation, ""),
	}
	stages := DeriveStages(events)
	require.Len(t, stages, len(pipeline.StageOrder))
	require.Equal(t, pipeline.StageCompleted, stageByName(t, stages, pipeline.StagePlanning).Status)
	require.Equal(t, pipeline.StageActive, stageByName(t, stages, pipeline.StageValidation).Status)
	require.Equal(t, pipeline.StagePending, stageByName(t, stages, pipeline.StageExecution).Status)
}

func TestDeriveStages_Deterministic(t *testing.T) {
	events := []pipeline.Event{
		ev(pipeline.EventStageStarted, 1, pipeline.StagePlanning, ""),
		ev(pipeline.EventStageCompleted, 2, pipeline.StagePlanning, ""),
		ev(pipeline.EventRefinementStarted, 3, "", ""),
		ev(pipeline.EventRefinementCompleted, 4, "", ""),
		ev(pipeline.EventStageStarted, 5, pipeline.StageExecution, ""),
	}
	first := DeriveStages(events)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, DeriveStages(events))
	}
}

func TestDeriveStages_RefinementReentry(t *testing.T) {
	events := []pipeline.Event{
		ev(pipeline.EventRefinementStarted, 1, "", ""),
		ev(pipeline.EventRefinementCompleted, 2, "", ""),
		ev(pipeline.EventRefinementStarted, 3, "", ""),
	}
	stages := DeriveStages(events)
	refinement := stageByName(t, stages, pipeline.StageRefinement)
	require.Equal(t, pipeline.StageActive, refinement.Status)
	require.Equal(t, 2, refinement.Iterations)
}

func TestDeriveStages_RunCompletedClosesActive(t *testing.T) {
	events := []pipeline.Event{
		ev(pipeline.EventStageStarted, 1, pipeline.StageExecution, ""),
		ev(pipeline.EventRunCompleted, 2, "", ""),
	}
	stages := DeriveStages(events)
	require.Equal(t, pipeline.StageCompleted, stageByName(t, stages, pipeline.StageExecution).Status)
}

func TestDeriveStages_RunFailedMarksActiveFailed(t *testing.T) {
	// No explicit stage.failed was sent; run.failed settles the active stage.
	events := []pipeline.Event{
		ev(pipeline.EventStageStarted, 1, pipeline.StageExecution, ""),
		ev(pipeline.EventRunFailed, 2, "", `{"error":"timeout"}`),
	}
	stages := DeriveStages(events)
	require.Equal(t, pipeline.StageFailed, stageByName(t, stages, pipeline.StageExecution).Status)
}

func TestDeriveStages_ExplicitStageFailed(t *testing.T) {
	events := []pipeline.Event{
		ev(pipeline.EventStageStarted, 1, pipeline.StageValidation, ""),
		ev(pipeline.EventStageFailed, 2, pipeline.StageValidation, ""),
	}
	stages := DeriveStages(events)
	require.Equal(t, pipeline.StageFailed, stageByName(t, stages, pipeline.StageValidation).Status)
}

func TestActiveToolNames(t *testing.T) {
	events := []pipeline.Event{
		ev(pipeline.EventToolStarted, 1, pipeline.StagePlanning, `{"name":"search"}`),
		ev(pipeline.EventToolStarted, 2, pipeline.StagePlanning, `{"name":"fetch"}`),
		ev(pipeline.EventToolCompleted, 3, pipeline.StagePlanning, `{"name":"search"}`),
	}
	require.Equal(t, []string{"fetch"}, ActiveToolNames(events))
	require.Equal(t, []string{"fetch", "search"}, ToolNames(events))
}

func TestRefinementIterations(t *testing.T) {
	events := []pipeline.Event{
		ev(pipeline.EventRefinementStarted, 1, "", ""),
		ev(pipeline.EventRefinementCompleted, 2, "", ""),
		ev(pipeline.EventRefinementStarted, 3, "", ""),
		ev(pipeline.EventRefinementCompleted, 4, "", ""),
	}
	iterations, refining := RefinementIterations(events)
	require.Equal(t, 2, iterations)
	require.False(t, refining)

	iterations, refining = RefinementIterations(events[:3])
	require.Equal(t, 2, iterations)
	require.True(t, refining)
}

func TestLatestScore(t *testing.T) {
	events := []pipeline.Event{
		ev(pipeline.EventQualityScored, 1, pipeline.StageValidation, `{"score":62}`),
		ev(pipeline.EventQualityScored, 2, pipeline.StageValidation, `{"score":88}`),
	}
	score, ok := LatestScore(events)
	require.True(t, ok)
	require.Equal(t, float64(88), score)

	_, ok = LatestScore(nil)
	require.False(t, ok)
}

func TestElapsed(t *testing.T) {
	events := []pipeline.Event{
		parsedEv(t, pipeline.EventRunStarted, 1, "2026-08-29T10:00:00Z"),
		parsedEv(t, pipeline.EventStageStarted, 2, "2026-08-29T10:00:05Z"),
		parsedEv(t, pipeline.EventRunCompleted, 3, "2026-08-29T10:00:30Z"),
	}
	require.Equal(t, "30s", Elapsed(events).String())
	require.Zero(t, Elapsed(nil))
}
