package eventjs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

var ErrNoRegister = errors.New("eventjs: script did not call register()")
var ErrHookTimeout = errors.New("eventjs: js hook timeout")

// Module runs one user-provided JS script against the event stream. Scripts
// register an onEvent hook that may annotate the event (attach fields, tags)
// or drop it by returning null.
type Module struct {
	vm     *goja.Runtime
	opts   options
	config *goja.Object

	scriptPath string

	name string
	tag  string

	onEventFn  goja.Callable
	initFn     goja.Callable
	shutdownFn goja.Callable
	onErrorFn  goja.Callable

	state *goja.Object
	stats Stats
}

type options struct {
	hookTimeout time.Duration
}

func parseOptions(opts Options) (options, error) {
	var out options
	if opts.HookTimeout != "" {
		d, err := time.ParseDuration(opts.HookTimeout)
		if err != nil {
			return options{}, errors.Wrap(err, "parse hook timeout")
		}
		out.hookTimeout = d
	}
	return out, nil
}

func LoadFromFile(ctx context.Context, scriptPath string, opts Options) (*Module, error) {
	b, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	return Load(ctx, scriptPath, string(b), opts)
}

func Load(ctx context.Context, scriptPath string, source string, opts Options) (*Module, error) {
	_ = ctx

	parsedOpts, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}

	m := &Module{
		vm:         goja.New(),
		opts:       parsedOpts,
		scriptPath: scriptPath,
	}

	enableConsole(m.vm)
	m.state = m.vm.NewObject()

	if err := m.vm.Set("register", func(config goja.Value) error {
		if m.config != nil {
			return errors.New("register() called more than once")
		}
		if goja.IsNull(config) || goja.IsUndefined(config) {
			return errors.New("register(config) requires a config object")
		}
		m.config = config.ToObject(m.vm)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "set register")
	}

	if _, err := m.vm.RunScript("eventjs:helpers", helpersJS); err != nil {
		return nil, errors.Wrap(err, "load helpers")
	}
	if err := injectGoHelpers(m); err != nil {
		return nil, err
	}

	prog, err := goja.Compile(scriptPath, source, false)
	if err != nil {
		return nil, errors.Wrap(err, "compile script")
	}
	if _, err := m.vm.RunProgram(prog); err != nil {
		return nil, errors.Wrap(err, "run script")
	}

	if m.config == nil {
		return nil, ErrNoRegister
	}

	nameVal := m.config.Get("name")
	if isNullish(nameVal) || strings.TrimSpace(nameVal.String()) == "" {
		return nil, errors.New("register({ name: string, ... }): name is required")
	}
	m.name = nameVal.String()
	m.tag = m.name

	tagVal := m.config.Get("tag")
	if !isNullish(tagVal) && strings.TrimSpace(tagVal.String()) != "" {
		m.tag = tagVal.String()
	}

	onEventVal := m.config.Get("onEvent")
	onEventFn, ok := goja.AssertFunction(onEventVal)
	if !ok {
		return nil, errors.New("register({ onEvent: function(event, ctx), ... }): onEvent is required")
	}
	m.onEventFn = onEventFn

	if fn, ok := goja.AssertFunction(m.config.Get("init")); ok {
		m.initFn = fn
	}
	if fn, ok := goja.AssertFunction(m.config.Get("shutdown")); ok {
		m.shutdownFn = fn
	}
	if fn, ok := goja.AssertFunction(m.config.Get("onError")); ok {
		m.onErrorFn = fn
	}

	if m.initFn != nil {
		ctxObj := m.buildContext("init", 0)
		if _, err := m.callHook("init", m.initFn, ctxObj); err != nil {
			m.stats.HookErrors++
			m.callOnError("init", err, goja.Undefined(), ctxObj)
		}
	}

	return m, nil
}

func (m *Module) Name() string { return m.name }

func (m *Module) Tag() string {
	if strings.TrimSpace(m.tag) == "" {
		return m.name
	}
	return m.tag
}

func (m *Module) ScriptPath() string { return m.scriptPath }
func (m *Module) Stats() Stats       { return m.stats }

func (m *Module) Info() ModuleInfo {
	return ModuleInfo{
		Name:        m.Name(),
		Tag:         m.Tag(),
		HasOnEvent:  m.onEventFn != nil,
		HasInit:     m.initFn != nil,
		HasShutdown: m.shutdownFn != nil,
		HasOnError:  m.onErrorFn != nil,
	}
}

func (m *Module) Close(ctx context.Context) error {
	_ = ctx
	if m.shutdownFn == nil {
		return nil
	}
	ctxObj := m.buildContext("shutdown", 0)
	if _, err := m.callHook("shutdown", m.shutdownFn, ctxObj); err != nil {
		m.stats.HookErrors++
		m.callOnError("shutdown", err, goja.Undefined(), ctxObj)
	}
	return nil
}

// ProcessEvent runs the script's onEvent hook. A nil Annotated with a nil
// ErrorRecord means the script dropped the event on purpose; a non-nil
// ErrorRecord means the hook itself failed and the event was dropped.
func (m *Module) ProcessEvent(ctx context.Context, ev pipeline.Event) (*Annotated, *ErrorRecord, error) {
	_ = ctx

	m.stats.EventsProcessed++

	evObj := m.eventToJS(ev)
	ctxObj := m.buildContext("onEvent", ev.Seq)

	v, err := m.callHook("onEvent", m.onEventFn, evObj, ctxObj)
	if err != nil {
		m.stats.HookErrors++
		m.callOnError("onEvent", err, evObj, ctxObj)
		m.stats.EventsDropped++
		return nil, m.newErrorRecord("onEvent", err, ev.Seq), nil
	}

	if v == nil || goja.IsNull(v) || goja.IsUndefined(v) {
		m.stats.EventsDropped++
		return nil, nil, nil
	}
	if b, ok := v.Export().(bool); ok {
		if !b {
			m.stats.EventsDropped++
			return nil, nil, nil
		}
		// true keeps the event untouched.
		v = m.eventToJS(ev)
	}

	out, err := m.normalize(v, ev)
	if err != nil {
		m.stats.HookErrors++
		m.callOnError("onEvent", err, v, ctxObj)
		m.stats.EventsDropped++
		return nil, m.newErrorRecord("onEvent", err, ev.Seq), nil
	}
	return out, nil, nil
}

func (m *Module) eventToJS(ev pipeline.Event) goja.Value {
	obj := m.vm.NewObject()
	_ = obj.Set("run_id", ev.RunID)
	_ = obj.Set("seq", ev.Seq)
	_ = obj.Set("ts", ev.Ts)
	_ = obj.Set("type", string(ev.Type))
	_ = obj.Set("stage", string(ev.Stage))
	if len(ev.Payload) > 0 {
		var data map[string]any
		if err := json.Unmarshal(ev.Payload, &data); err == nil {
			_ = obj.Set("payload", m.vm.ToValue(data))
		}
	}
	_ = obj.Set("fields", m.vm.NewObject())
	return obj
}

func (m *Module) normalize(v goja.Value, ev pipeline.Event) (*Annotated, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, errors.Errorf("onEvent must return an event object, true, or null; got %T", v.Export())
	}

	out := &Annotated{
		RunID: ev.RunID,
		Seq:   ev.Seq,
		Ts:    ev.Ts,
		Type:  string(ev.Type),
		Stage: string(ev.Stage),
	}

	if sv := obj.Get("stage"); !isNullish(sv) {
		out.Stage = sv.String()
	}
	if pv := obj.Get("payload"); !isNullish(pv) {
		if data, ok := pv.Export().(map[string]any); ok {
			out.Data = data
		}
	}
	if fv := obj.Get("fields"); !isNullish(fv) {
		if fields, ok := fv.Export().(map[string]any); ok && len(fields) > 0 {
			out.Fields = fields
		}
	}
	if tv := obj.Get("tags"); !isNullish(tv) {
		if arr, ok := tv.Export().([]any); ok {
			tags := make([]string, 0, len(arr))
			for _, it := range arr {
				if s, ok := it.(string); ok && s != "" {
					tags = append(tags, s)
				}
			}
			out.Tags = tags
		}
	}
	return out, nil
}

func (m *Module) buildContext(hook string, seq int64) *goja.Object {
	obj := m.vm.NewObject()
	_ = obj.Set("hook", hook)
	_ = obj.Set("seq", seq)
	_ = obj.Set("state", m.state)
	_ = obj.Set("now", m.newDate(time.Now().UTC()))
	return obj
}

func (m *Module) newDate(t time.Time) goja.Value {
	ctor := m.vm.Get("Date")
	o, err := m.vm.New(ctor, m.vm.ToValue(t.UnixMilli()))
	if err != nil {
		return goja.Undefined()
	}
	return o
}

func (m *Module) callHook(hook string, fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	if fn == nil {
		return goja.Undefined(), nil
	}

	timeout := m.opts.hookTimeout
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			m.vm.Interrupt(ErrHookTimeout)
		})
		defer timer.Stop()
		defer m.vm.ClearInterrupt()
	}

	v, err := fn(goja.Undefined(), args...)
	if err != nil {
		if isInterruptedByTimeout(err) {
			m.stats.HookTimeouts++
		}
		return nil, err
	}
	return v, nil
}

func (m *Module) callOnError(hook string, err error, payload goja.Value, ctxObj *goja.Object) {
	if m.onErrorFn == nil {
		return
	}
	_ = ctxObj.Set("hook", hook)
	_, _ = m.onErrorFn(goja.Undefined(), m.vm.ToValue(err), payload, ctxObj)
}

func (m *Module) newErrorRecord(hook string, err error, seq int64) *ErrorRecord {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ErrorRecord{
		Module:  m.Name(),
		Tag:     m.Tag(),
		Hook:    hook,
		Seq:     seq,
		Timeout: isInterruptedByTimeout(err),
		Message: msg,
	}
}

func enableConsole(vm *goja.Runtime) {
	obj := vm.NewObject()

	_ = obj.Set("log", func(call goja.FunctionCall) goja.Value {
		_, _ = fmt.Fprintln(os.Stdout, joinArgs(call.Arguments)...)
		return goja.Undefined()
	})
	_ = obj.Set("warn", func(call goja.FunctionCall) goja.Value {
		_, _ = fmt.Fprintln(os.Stderr, joinArgs(call.Arguments)...)
		return goja.Undefined()
	})
	_ = obj.Set("error", func(call goja.FunctionCall) goja.Value {
		_, _ = fmt.Fprintln(os.Stderr, joinArgs(call.Arguments)...)
		return goja.Undefined()
	})

	_ = vm.Set("console", obj)
}

func joinArgs(args []goja.Value) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		out = append(out, a.Export())
	}
	return out
}

func isNullish(v goja.Value) bool {
	if v == nil {
		return true
	}
	return goja.IsUndefined(v) || goja.IsNull(v)
}

func isInterruptedByTimeout(err error) bool {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if v, ok := interrupted.Value().(error); ok && errors.Is(v, ErrHookTimeout) {
			return true
		}
	}
	return errors.Is(err, ErrHookTimeout)
}

func injectGoHelpers(m *Module) error {
	pwVal := m.vm.Get("pw")
	if isNullish(pwVal) {
		return errors.New("eventjs: helpers did not define globalThis.pw")
	}
	pwObj := pwVal.ToObject(m.vm)

	// pw.parseTimestamp(value) -> Date | null, best-effort.
	if err := pwObj.Set("parseTimestamp", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 || isNullish(call.Arguments[0]) {
			return goja.Null()
		}
		s := strings.TrimSpace(call.Arguments[0].String())
		if s == "" {
			return goja.Null()
		}
		t, err := dateparse.ParseAny(s)
		if err != nil {
			return goja.Null()
		}
		return m.newDate(t.UTC())
	}); err != nil {
		return errors.Wrap(err, "set pw.parseTimestamp")
	}

	return nil
}
