package eventjs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

func mustLoad(t *testing.T, source string) *Module {
	t.Helper()
	m, err := Load(context.Background(), "test.js", source, Options{})
	require.NoError(t, err)
	return m
}

func toolEvent(seq int64) pipeline.Event {
	return pipeline.Event{
		RunID:   "r1",
		Seq:     seq,
		Ts:      "2026-08-29T10:00:00Z",
		Type:    pipeline.EventToolStarted,
		Stage:   pipeline.StagePlanning,
		Payload: json.RawMessage(`{"name":"search"}`),
	}
}

func TestLoad_RequiresRegister(t *testing.T) {
	_, err := Load(context.Background(), "test.js", `var x = 1;`, Options{})
	require.True(t, errors.Is(err, ErrNoRegister))
}

func TestLoad_RequiresNameAndOnEvent(t *testing.T) {
	_, err := Load(context.Background(), "test.js", `register({ onEvent: function(e) { return e; } });`, Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "name is required")

	_, err = Load(context.Background(), "test.js", `register({ name: "x" });`, Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "onEvent is required")
}

func TestModule_TagDefaultsToName(t *testing.T) {
	m := mustLoad(t, `register({ name: "scorer", onEvent: function(e) { return e; } });`)
	require.Equal(t, "scorer", m.Name())
	require.Equal(t, "scorer", m.Tag())

	m = mustLoad(t, `register({ name: "scorer", tag: "quality", onEvent: function(e) { return e; } });`)
	require.Equal(t, "quality", m.Tag())
}

func TestProcessEvent_TruePassesThrough(t *testing.T) {
	m := mustLoad(t, `register({ name: "passthrough", onEvent: function(e) { return true; } });`)
	out, rec, err := m.ProcessEvent(context.Background(), toolEvent(1))
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NotNil(t, out)
	require.Equal(t, "r1", out.RunID)
	require.Equal(t, string(pipeline.EventToolStarted), out.Type)
	require.Equal(t, "search", out.Data["name"])
	require.Empty(t, out.Fields)
}

func TestProcessEvent_NullAndFalseDrop(t *testing.T) {
	for _, ret := range []string{"null", "false", "undefined"} {
		m := mustLoad(t, `register({ name: "dropper", onEvent: function(e) { return `+ret+`; } });`)
		out, rec, err := m.ProcessEvent(context.Background(), toolEvent(1))
		require.NoError(t, err)
		require.Nil(t, rec)
		require.Nil(t, out, "return %s should drop", ret)
		require.Equal(t, int64(1), m.Stats().EventsDropped)
	}
}

func TestProcessEvent_Annotates(t *testing.T) {
	m := mustLoad(t, `
register({
  name: "annotator",
  onEvent: function(e, ctx) {
    e.fields.tool = e.payload.name;
    e.tags = ["tools"];
    return e;
  },
});`)
	out, rec, err := m.ProcessEvent(context.Background(), toolEvent(7))
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NotNil(t, out)
	require.Equal(t, int64(7), out.Seq)
	require.Equal(t, "search", out.Fields["tool"])
	require.Equal(t, []string{"tools"}, out.Tags)
}

func TestProcessEvent_StateSurvivesBetweenEvents(t *testing.T) {
	m := mustLoad(t, `
register({
  name: "counter",
  onEvent: function(e, ctx) {
    ctx.state.n = (ctx.state.n || 0) + 1;
    e.fields.n = ctx.state.n;
    return e;
  },
});`)
	for i := int64(1); i <= 3; i++ {
		out, _, err := m.ProcessEvent(context.Background(), toolEvent(i))
		require.NoError(t, err)
		require.EqualValues(t, i, out.Fields["n"])
	}
}

func TestProcessEvent_HookErrorDropsWithRecord(t *testing.T) {
	m := mustLoad(t, `register({ name: "broken", onEvent: function(e) { throw new Error("boom"); } });`)
	out, rec, err := m.ProcessEvent(context.Background(), toolEvent(1))
	require.NoError(t, err)
	require.Nil(t, out)
	require.NotNil(t, rec)
	require.Equal(t, "broken", rec.Module)
	require.Equal(t, "onEvent", rec.Hook)
	require.Contains(t, rec.Message, "boom")
	require.Equal(t, int64(1), m.Stats().HookErrors)
}

func TestProcessEvent_HookTimeout(t *testing.T) {
	m, err := Load(context.Background(), "test.js",
		`register({ name: "spinner", onEvent: function(e) { while (true) {} } });`,
		Options{HookTimeout: "50ms"})
	require.NoError(t, err)

	out, rec, perr := m.ProcessEvent(context.Background(), toolEvent(1))
	require.NoError(t, perr)
	require.Nil(t, out)
	require.NotNil(t, rec)
	require.True(t, rec.Timeout)
	require.Equal(t, int64(1), m.Stats().HookTimeouts)
}

func TestProcessEvent_Helpers(t *testing.T) {
	m := mustLoad(t, `
register({
  name: "helpers",
  onEvent: function(e) {
    e.fields.terminal = pw.isTerminal(e.type);
    e.fields.stageEvent = pw.isStageEvent(e.type);
    e.fields.hasTs = pw.parseTimestamp(e.ts) !== null;
    return e;
  },
});`)
	out, _, err := m.ProcessEvent(context.Background(), toolEvent(1))
	require.NoError(t, err)
	require.Equal(t, false, out.Fields["terminal"])
	require.Equal(t, true, out.Fields["hasTs"])
}
