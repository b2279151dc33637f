package eventjs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, source string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(source), 0o644))
	return p
}

func TestLoadChainFromFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeScript(t, dir, "a.js", `register({ name: "a", onEvent: function(e) { return e; } });`)

	_, err := LoadChainFromFiles(context.Background(), nil, Options{})
	require.Error(t, err)

	_, err = LoadChainFromFiles(context.Background(), []string{a, filepath.Join(dir, "missing.js")}, Options{})
	require.Error(t, err)

	chain, err := LoadChainFromFiles(context.Background(), []string{a}, Options{})
	require.NoError(t, err)
	require.Len(t, chain.Modules, 1)
	require.NoError(t, chain.Close(context.Background()))
}

func TestChain_DropWins(t *testing.T) {
	dir := t.TempDir()
	keep := writeScript(t, dir, "keep.js", `register({ name: "keep", onEvent: function(e) { return true; } });`)
	drop := writeScript(t, dir, "drop.js", `register({ name: "drop", onEvent: function(e) { return null; } });`)

	chain, err := LoadChainFromFiles(context.Background(), []string{keep, drop}, Options{})
	require.NoError(t, err)
	defer chain.Close(context.Background())

	out, recs, err := chain.ProcessEvent(context.Background(), toolEvent(1))
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Nil(t, out)
}

func TestChain_MergesFieldsUnderModuleTag(t *testing.T) {
	dir := t.TempDir()
	first := writeScript(t, dir, "first.js", `
register({ name: "first", onEvent: function(e) { e.fields.seen = true; return e; } });`)
	second := writeScript(t, dir, "second.js", `
register({ name: "second", tag: "extra", onEvent: function(e) { e.fields.tool = e.payload.name; e.tags = ["t2"]; return e; } });`)

	chain, err := LoadChainFromFiles(context.Background(), []string{first, second}, Options{})
	require.NoError(t, err)
	defer chain.Close(context.Background())

	out, recs, err := chain.ProcessEvent(context.Background(), toolEvent(3))
	require.NoError(t, err)
	require.Empty(t, recs)
	require.NotNil(t, out)

	firstFields, ok := out.Fields["first"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, firstFields["seen"])
	extra, ok := out.Fields["extra"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "search", extra["tool"])
	require.Equal(t, []string{"t2"}, out.Tags)
}

func TestChain_HookErrorIsCollectedNotFatal(t *testing.T) {
	dir := t.TempDir()
	broken := writeScript(t, dir, "broken.js", `register({ name: "broken", onEvent: function(e) { throw new Error("nope"); } });`)
	keep := writeScript(t, dir, "keep.js", `register({ name: "keep", onEvent: function(e) { return true; } });`)

	chain, err := LoadChainFromFiles(context.Background(), []string{broken, keep}, Options{})
	require.NoError(t, err)
	defer chain.Close(context.Background())

	out, recs, err := chain.ProcessEvent(context.Background(), toolEvent(1))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "broken", recs[0].Module)
	require.NotNil(t, out)
}
