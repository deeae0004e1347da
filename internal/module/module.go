package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/stablecall/internal/frame"
	"github.com/roach88/stablecall/internal/ir"
)

var (
	// ErrUnknownEntryPoint is returned when a module does not declare the
	// entry point being called.
	ErrUnknownEntryPoint = errors.New("unknown entry point")

	// ErrInvalidArgument is returned when call arguments do not match what
	// an entry point expects.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidSpec is returned when a spec cannot be turned into a module.
	ErrInvalidSpec = errors.New("invalid module spec")
)

// Module is a deployed, runnable Logic Module.
type Module interface {
	// Ref is the content-addressed identity of the module.
	Ref() ir.ModuleRef

	// Spec is the immutable description the module was deployed from.
	Spec() ir.ModuleSpec

	// Invoke runs one entry point against env.
	Invoke(ctx context.Context, env *Env, entry string, args ir.Object) (ir.Value, error)
}

// EmitFunc receives audit events raised while a module runs.
type EmitFunc func(kind ir.EventKind, data ir.Object)

// Env is the execution context of one forwarded call: the proxy's frame,
// the original caller and the layout of the module being run.
type Env struct {
	Frame  *frame.Frame
	Caller ir.Address

	spec         ir.ModuleSpec
	emit         EmitFunc
	initializing bool
}

// NewEnv binds a frame and caller to the module described by spec.
// A nil emit discards events.
func NewEnv(f *frame.Frame, caller ir.Address, spec ir.ModuleSpec, emit EmitFunc) *Env {
	if emit == nil {
		emit = func(ir.EventKind, ir.Object) {}
	}
	return &Env{Frame: f, Caller: caller, spec: spec, emit: emit}
}

// Version returns the version tag of the running module.
func (e *Env) Version() int64 {
	return e.spec.Version
}

// Layout returns the field layout of the running module.
func (e *Env) Layout() []ir.Field {
	return e.spec.Layout
}

// HasField reports whether the running module declares a field.
func (e *Env) HasField(name string) bool {
	_, _, err := frame.FieldSlot(e.spec.Layout, name)
	return err == nil
}

// Get reads a field through the running module's layout.
func (e *Env) Get(ctx context.Context, name string) (ir.Value, error) {
	return e.Frame.Get(ctx, e.spec.Layout, name)
}

// Set writes a field through the running module's layout and records a
// StateChanged event. Writes made while initializing are covered by the
// Initialized event instead.
func (e *Env) Set(ctx context.Context, name string, value ir.Value) error {
	prev, err := e.Frame.Set(ctx, e.spec.Layout, name, value)
	if err != nil {
		return err
	}
	if !e.initializing {
		e.emit(ir.EventStateChanged, ir.NewObject(
			ir.O("field", ir.String(name)),
			ir.O("old", prev),
			ir.O("new", value),
			ir.O("by", ir.String(e.Caller)),
		))
	}
	return nil
}

// Owner returns the current owner of the proxy.
func (e *Env) Owner(ctx context.Context) (ir.Address, error) {
	return e.Frame.Owner(ctx)
}

// Initialize passes the Initialization Guard, records owner and then runs
// setup. An empty owner defaults to the caller. Returns
// frame.ErrAlreadyInitialized on every call after the first.
func (e *Env) Initialize(ctx context.Context, owner ir.Address, setup func() error) error {
	if owner.IsZero() {
		owner = e.Caller
	}
	err := frame.Initialize(ctx, e.Frame, func() error {
		if err := e.Frame.SetOwner(ctx, owner); err != nil {
			return err
		}
		if setup == nil {
			return nil
		}
		e.initializing = true
		defer func() { e.initializing = false }()
		return setup()
	})
	if err != nil {
		return err
	}

	e.emit(ir.EventInitialized, ir.NewObject(
		ir.O("owner", ir.String(owner)),
		ir.O("version", ir.Int(e.spec.Version)),
	))
	return nil
}

func unknownEntry(spec ir.ModuleSpec, entry string) error {
	return fmt.Errorf("%s v%d: %q: %w", spec.Name, spec.Version, entry, ErrUnknownEntryPoint)
}
