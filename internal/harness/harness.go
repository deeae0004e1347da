package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/roach88/stablecall/internal/audit"
	"github.com/roach88/stablecall/internal/host"
	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/manifest"
	"github.com/roach88/stablecall/internal/module"
	"github.com/roach88/stablecall/internal/proxy"
	"github.com/roach88/stablecall/internal/store"
	"github.com/roach88/stablecall/internal/testutil"
)

// builtinModules are deployable in every scenario.
var builtinModules = []manifest.Entry{
	{Label: "counter_v1", Spec: module.CounterV1()},
	{Label: "counter_v2", Spec: module.CounterV2()},
	{Label: "reordered_c", Spec: module.ReorderedC()},
}

// Harness runs one scenario against a fresh host.
type Harness struct {
	host   *host.Host
	logger *slog.Logger

	// modules maps labels to deployed references; refs is the reverse.
	modules map[string]ir.ModuleRef
	refs    map[ir.ModuleRef]string

	// proxies maps scenario labels to deployed addresses.
	proxies map[string]ir.Address
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with sequential proxy
// addresses, so two runs of the same scenario record the same trace.
// A returned error means the scenario could not be executed at all;
// failed expectations and assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	// The dispatcher has no sinks: the trace is read back from the store.
	h, err := host.Open(ctx, ":memory:",
		host.WithAddressGenerator(testutil.NewSequentialAddressGenerator("proxy")),
		host.WithDispatcher(audit.NewDispatcher(audit.WithLogger(discardLogger()))),
		host.WithLayoutCheck(scenario.StrictLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory host: %w", err)
	}
	defer h.Close()

	hr := &Harness{
		host:    h,
		logger:  discardLogger(),
		modules: make(map[string]ir.ModuleRef),
		refs:    make(map[ir.ModuleRef]string),
		proxies: make(map[string]ir.Address),
	}

	if err := hr.deployModules(ctx, scenario.Manifests); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		hr.executeStep(ctx, i, step, result)
	}

	events, err := h.Store().Events(ctx, store.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	for _, ev := range events {
		result.Events = append(result.Events, TraceEvent{
			Seq:   ev.Seq,
			Proxy: string(ev.Proxy),
			Kind:  string(ev.Kind),
			Data:  hr.labelRefs(ir.ToAny(ev.Data)),
		})
	}

	actx := &AssertionContext{
		Ctx:     ctx,
		Host:    h,
		Modules: hr.modules,
		Proxies: hr.proxies,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// deployModules deploys the built-in modules and every module from the
// scenario's manifests.
func (hr *Harness) deployModules(ctx context.Context, manifests []string) error {
	entries := append([]manifest.Entry(nil), builtinModules...)
	for _, path := range manifests {
		loaded, err := manifest.Load(path)
		if err != nil {
			return fmt.Errorf("manifest %s: %w", path, err)
		}
		entries = append(entries, loaded...)
	}

	for _, e := range entries {
		if _, dup := hr.modules[e.Label]; dup {
			return fmt.Errorf("module label %q declared twice", e.Label)
		}
		ref, err := hr.host.DeployModule(ctx, e.Spec)
		if err != nil {
			return fmt.Errorf("deploy module %s: %w", e.Label, err)
		}
		hr.modules[e.Label] = ref
		hr.refs[ref] = e.Label
	}
	return nil
}

// executeStep submits one step and checks it against its expect clause.
func (hr *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) {
	args, err := ir.ObjectFromAny(step.Args)
	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d]: args: %v", i, err))
		return
	}

	rec := StepRecord{
		Index:  i,
		Action: step.Action,
		By:     step.By,
		Proxy:  step.Proxy,
		Module: step.Module,
		Entry:  step.Entry,
		Owner:  step.Owner,
	}
	if len(args) > 0 {
		rec.Args = ir.ToAny(args)
	}

	value, err := hr.submit(ctx, step, args)
	if err != nil {
		rec.Error = errorCode(err)
	} else if value != nil {
		if _, isNull := value.(ir.Null); !isNull {
			rec.Result = hr.labelRefs(ir.ToAny(value))
		}
	}
	result.Steps = append(result.Steps, rec)

	hr.logger.Info("step completed",
		"step", i,
		"action", step.Action,
		"proxy", step.Proxy,
		"error", rec.Error)

	hr.checkExpect(i, step, value, err, result)
}

func (hr *Harness) submit(ctx context.Context, step Step, args ir.Object) (ir.Value, error) {
	caller := ir.Address(step.By)

	if step.Action == ActionDeploy {
		if _, taken := hr.proxies[step.Proxy]; taken {
			return nil, fmt.Errorf("proxy label %q already deployed", step.Proxy)
		}
		ref, err := hr.moduleRef(step.Module)
		if err != nil {
			return nil, err
		}
		addr, err := hr.host.DeployProxy(ctx, caller, ref, args)
		if err != nil {
			return nil, err
		}
		hr.proxies[step.Proxy] = addr
		return ir.String(addr), nil
	}

	addr, ok := hr.proxies[step.Proxy]
	if !ok {
		return nil, fmt.Errorf("unknown proxy label %q", step.Proxy)
	}
	p, err := hr.host.Proxy(ctx, addr)
	if err != nil {
		return nil, err
	}

	switch step.Action {
	case ActionCall:
		return p.Call(ctx, caller, ir.Call{Entry: step.Entry, Args: args})
	case ActionUpgrade:
		ref, err := hr.moduleRef(step.Module)
		if err != nil {
			return nil, err
		}
		return ir.Null{}, p.UpgradeTo(ctx, caller, ref)
	case ActionTransferOwnership:
		return ir.Null{}, p.TransferOwnership(ctx, caller, ir.Address(step.Owner))
	default:
		return nil, fmt.Errorf("unknown action %q", step.Action)
	}
}

// moduleRef resolves a module label. "undeployed" stands for a reference
// that was never deployed.
func (hr *Harness) moduleRef(label string) (ir.ModuleRef, error) {
	if label == "undeployed" {
		return ir.ModuleRef("0000000000000000000000000000000000000000000000000000000000000000"), nil
	}
	ref, ok := hr.modules[label]
	if !ok {
		return "", fmt.Errorf("unknown module label %q", label)
	}
	return ref, nil
}

func (hr *Harness) checkExpect(i int, step Step, value ir.Value, err error, result *Result) {
	wantErr := ""
	if step.Expect != nil {
		wantErr = step.Expect.Error
	}

	switch {
	case err != nil && wantErr == "":
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Action, err))
		return
	case err != nil:
		if got := errorCode(err); got != wantErr {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got %s (%v)", i, step.Action, wantErr, got, err))
		}
		return
	case wantErr != "":
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got success", i, step.Action, wantErr))
		return
	}

	if step.Expect == nil || step.Expect.Result == nil {
		return
	}
	want, convErr := ir.FromAny(step.Expect.Result)
	if convErr != nil {
		result.AddError(fmt.Sprintf("steps[%d]: expect.result: %v", i, convErr))
		return
	}
	if !reflect.DeepEqual(ir.ToAny(want), ir.ToAny(value)) {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected result %v, got %v", i, step.Action, ir.ToAny(want), ir.ToAny(value)))
	}
}

// errorCode is the proxy error code of err, or ERROR for anything else.
func errorCode(err error) string {
	if code := proxy.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

// labelRefs replaces module references in v by their labels.
func (hr *Harness) labelRefs(v any) any {
	switch val := v.(type) {
	case string:
		if label, ok := hr.refs[ir.ModuleRef(val)]; ok {
			return label
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = hr.labelRefs(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = hr.labelRefs(e)
		}
		return out
	default:
		return v
	}
}
