package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseEvent_Valid(t *testing.T) {
	data := []byte(`{"run_id":"r1","seq":3,"ts":"2026-08-29T10:00:00Z","type":"stage.started","stage":"planning","payload":{"foo":1}}`)
	ev, err := ParseEvent(data)
	require.NoError(t, err)
	require.Equal(t, "r1", ev.RunID)
	require.Equal(t, int64(3), ev.Seq)
	require.Equal(t, EventStageStarted, ev.Type)
	require.Equal(t, StagePlanning, ev.Stage)
	require.Equal(t, time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC), ev.Time())
}

func TestParseEvent_InvalidJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	require.Error(t, err)
	require.Contains(t, err.Error(), ErrEventInvalidJSON)
}

func TestParseEvent_UnknownType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"run_id":"r1","seq":1,"type":"run.exploded"}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), ErrEventUnknownType)

	_, err = ParseEvent([]byte(`{"run_id":"r1","seq":1}`))
	require.Error(t, err)
}

func TestParseEvent_LenientTimestamp(t *testing.T) {
	// Non-RFC3339 timestamps parse best-effort.
	ev, err := ParseEvent([]byte(`{"run_id":"r1","seq":1,"ts":"2026-08-29 10:00:00","type":"run.started"}`))
	require.NoError(t, err)
	require.False(t, ev.Time().IsZero())

	// Garbage timestamps never fail the parse.
	ev, err = ParseEvent([]byte(`{"run_id":"r1","seq":1,"ts":"not a time","type":"run.started"}`))
	require.NoError(t, err)
	require.True(t, ev.Time().IsZero())
}

func TestDecodeCompletion(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"run_id":"r1","seq":9,"type":"run.completed","payload":{"plan":{"id":"p1","title":"T"},"scorecard":{"stages":5}}}`))
	require.NoError(t, err)

	p, err := ev.DecodeCompletion()
	require.NoError(t, err)
	require.NotNil(t, p.Plan)
	require.Equal(t, "p1", p.Plan.ID)
	require.Equal(t, float64(5), p.Scorecard["stages"])
}

func TestDecodeCompletion_NoArtifacts(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"run_id":"r1","seq":9,"type":"run.completed"}`))
	require.NoError(t, err)

	p, err := ev.DecodeCompletion()
	require.NoError(t, err)
	require.Nil(t, p.Plan)
	require.Nil(t, p.Scorecard)
}

func TestDecodeStart_FallsBackToEnvelopeRunID(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"run_id":"r1","seq":1,"type":"run.started"}`))
	require.NoError(t, err)

	p, err := ev.DecodeStart()
	require.NoError(t, err)
	require.Equal(t, "r1", p.RunID)
}

func TestDecodeQuality(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"run_id":"r1","seq":4,"type":"quality.scored","payload":{"score":85,"decision":"accept","checks":[{"name":"structure","passed":true}]}}`))
	require.NoError(t, err)

	p, err := ev.DecodeQuality()
	require.NoError(t, err)
	require.Equal(t, float64(85), p.Score)
	require.Equal(t, DecisionAccept, p.Decision)
	require.Len(t, p.Checks, 1)
}

func TestDecodeFailure(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"run_id":"r1","seq":7,"type":"run.failed","payload":{"error":"timeout"}}`))
	require.NoError(t, err)

	p, err := ev.DecodeFailure()
	require.NoError(t, err)
	require.Equal(t, "timeout", p.Error)
}

func TestEventTypeTerminal(t *testing.T) {
	require.True(t, EventRunCompleted.Terminal())
	require.True(t, EventRunFailed.Terminal())
	require.False(t, EventStageStarted.Terminal())
	require.False(t, EventQualityScored.Terminal())
}
