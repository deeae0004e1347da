package module

import (
	"context"
	"fmt"

	"github.com/roach88/stablecall/internal/ir"
)

// EntryFunc implements one entry point of a native module.
type EntryFunc func(ctx context.Context, env *Env, args ir.Object) (ir.Value, error)

// Behavior maps entry point names to their implementations.
type Behavior map[string]EntryFunc

// nativeModule runs a Behavior compiled into the binary.
type nativeModule struct {
	ref      ir.ModuleRef
	spec     ir.ModuleSpec
	behavior Behavior
}

func (m *nativeModule) Ref() ir.ModuleRef {
	return m.ref
}

func (m *nativeModule) Spec() ir.ModuleSpec {
	return m.spec
}

func (m *nativeModule) Invoke(ctx context.Context, env *Env, entry string, args ir.Object) (ir.Value, error) {
	if !m.spec.HasEntryPoint(entry) {
		return nil, unknownEntry(m.spec, entry)
	}
	fn, ok := m.behavior[entry]
	if !ok {
		return nil, unknownEntry(m.spec, entry)
	}
	if args == nil {
		args = ir.Object{}
	}
	return fn(ctx, env, args)
}

// CounterName is the native behavior shared by the counter modules.
const CounterName = "counter"

// Counter is the native behavior behind CounterV1, CounterV2 and ReorderedC.
// Which entry points a deployed counter exposes is decided by its spec.
// A counter whose layout declares "writes" counts successful setValue calls.
func Counter() Behavior {
	return Behavior{
		"initialize": counterInitialize,
		"value":      counterValue,
		"setValue":   counterSetValue,
		"version":    counterVersion,
	}
}

// counterInitialize accepts optional "owner" (string) and "value" (int).
func counterInitialize(ctx context.Context, env *Env, args ir.Object) (ir.Value, error) {
	owner, err := optString(args, "owner")
	if err != nil {
		return nil, err
	}
	value, err := optInt(args, "value")
	if err != nil {
		return nil, err
	}

	err = env.Initialize(ctx, ir.Address(owner), func() error {
		return env.Set(ctx, "value", ir.Int(value))
	})
	if err != nil {
		return nil, err
	}
	return ir.Null{}, nil
}

func counterValue(ctx context.Context, env *Env, _ ir.Object) (ir.Value, error) {
	return env.Get(ctx, "value")
}

// counterSetValue requires "value" (int) and returns the previous value.
func counterSetValue(ctx context.Context, env *Env, args ir.Object) (ir.Value, error) {
	value, ok := args.Int("value")
	if !ok {
		return nil, fmt.Errorf("setValue: %w: \"value\" must be an integer", ErrInvalidArgument)
	}

	prev, err := env.Get(ctx, "value")
	if err != nil {
		return nil, err
	}
	if err := env.Set(ctx, "value", ir.Int(value)); err != nil {
		return nil, err
	}

	if env.HasField("writes") {
		writes, err := env.Get(ctx, "writes")
		if err != nil {
			return nil, err
		}
		n, _ := writes.(ir.Int)
		if err := env.Set(ctx, "writes", n+1); err != nil {
			return nil, err
		}
	}
	return prev, nil
}

func counterVersion(_ context.Context, env *Env, _ ir.Object) (ir.Value, error) {
	return ir.Int(env.Version()), nil
}

// CounterV1 is the first counter generation: read, initialize, version.
func CounterV1() ir.ModuleSpec {
	return ir.ModuleSpec{
		Name:        CounterName,
		Version:     1,
		Runtime:     ir.RuntimeNative,
		Layout:      []ir.Field{{Name: "value", Type: ir.FieldInt}},
		EntryPoints: []string{"initialize", "value", "version"},
	}
}

// CounterV2 appends a "writes" field and adds setValue.
func CounterV2() ir.ModuleSpec {
	return ir.ModuleSpec{
		Name:    CounterName,
		Version: 2,
		Runtime: ir.RuntimeNative,
		Layout: []ir.Field{
			{Name: "value", Type: ir.FieldInt},
			{Name: "writes", Type: ir.FieldInt},
		},
		EntryPoints: []string{"initialize", "value", "setValue", "version"},
	}
}

// ReorderedC declares the CounterV2 fields in swapped order. Upgrading a
// CounterV1 or CounterV2 proxy to it breaks the append-only layout rule.
func ReorderedC() ir.ModuleSpec {
	return ir.ModuleSpec{
		Name:    CounterName,
		Version: 3,
		Runtime: ir.RuntimeNative,
		Layout: []ir.Field{
			{Name: "writes", Type: ir.FieldInt},
			{Name: "value", Type: ir.FieldInt},
		},
		EntryPoints: []string{"initialize", "value", "setValue", "version"},
	}
}

func optString(args ir.Object, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", nil
	}
	switch s := v.(type) {
	case ir.String:
		return string(s), nil
	case ir.Null:
		return "", nil
	default:
		return "", fmt.Errorf("%w: %q must be a string, got %T", ErrInvalidArgument, key, v)
	}
}

func optInt(args ir.Object, key string) (int64, error) {
	v, ok := args[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case ir.Int:
		return int64(n), nil
	case ir.Null:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %q must be an integer, got %T", ErrInvalidArgument, key, v)
	}
}
