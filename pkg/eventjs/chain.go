package eventjs

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

// Chain runs multiple modules against the same event, in order. Any module
// dropping the event drops it for the whole chain; annotations from earlier
// modules are preserved under a per-module key when a later module keeps it.
type Chain struct {
	Modules []*Module
}

func LoadChainFromFiles(ctx context.Context, scriptPaths []string, opts Options) (*Chain, error) {
	if len(scriptPaths) == 0 {
		return nil, errors.New("eventjs: at least one module script is required")
	}

	out := &Chain{Modules: make([]*Module, 0, len(scriptPaths))}
	for _, p := range scriptPaths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		m, err := LoadFromFile(ctx, p, opts)
		if err != nil {
			_ = out.Close(ctx)
			return nil, err
		}
		out.Modules = append(out.Modules, m)
	}
	if len(out.Modules) == 0 {
		return nil, errors.New("eventjs: at least one module script is required")
	}
	return out, nil
}

func (c *Chain) Close(ctx context.Context) error {
	var firstErr error
	for _, m := range c.Modules {
		if m == nil {
			continue
		}
		if err := m.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ProcessEvent returns the annotated event, or nil when any module dropped
// it. Hook failures are collected, never fatal.
func (c *Chain) ProcessEvent(ctx context.Context, ev pipeline.Event) (*Annotated, []*ErrorRecord, error) {
	var out *Annotated
	outErrs := make([]*ErrorRecord, 0)

	for _, m := range c.Modules {
		if m == nil {
			continue
		}
		annotated, rec, err := m.ProcessEvent(ctx, ev)
		if err != nil {
			return nil, nil, err
		}
		if rec != nil {
			outErrs = append(outErrs, rec)
			continue
		}
		if annotated == nil {
			return nil, outErrs, nil
		}
		out = merge(out, annotated, m.Tag())
	}
	return out, outErrs, nil
}

func merge(acc *Annotated, next *Annotated, tag string) *Annotated {
	if acc == nil {
		if len(next.Fields) > 0 {
			next.Fields = map[string]any{tag: next.Fields}
		}
		return next
	}
	if len(next.Fields) > 0 {
		if acc.Fields == nil {
			acc.Fields = map[string]any{}
		}
		acc.Fields[tag] = next.Fields
	}
	for _, t := range next.Tags {
		if !containsString(acc.Tags, t) {
			acc.Tags = append(acc.Tags, t)
		}
	}
	return acc
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
