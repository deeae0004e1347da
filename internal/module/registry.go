package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/stablecall/internal/ir"
)

// ModuleQuerier reads deployed module specs.
// Implemented by *store.Store and *store.Tx.
type ModuleQuerier interface {
	Module(ctx context.Context, ref ir.ModuleRef) (ir.ModuleSpec, error)
}

// Registry builds runnable modules from specs.
//
// Built modules are cached by reference. References are content hashes, so
// a cached module can never go stale.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	natives map[string]Behavior
	cache   map[ir.ModuleRef]Module
}

// NewRegistry returns a registry with the counter behavior registered.
func NewRegistry() *Registry {
	r := &Registry{
		natives: make(map[string]Behavior),
		cache:   make(map[ir.ModuleRef]Module),
	}
	r.RegisterNative(CounterName, Counter())
	return r
}

// RegisterNative makes a native behavior available to specs named name.
func (r *Registry) RegisterNative(name string, b Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.natives[name] = b
}

// Validate checks that spec is well formed and runnable by this binary.
func (r *Registry) Validate(spec ir.ModuleSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	switch spec.Runtime {
	case ir.RuntimeNative:
		r.mu.RLock()
		b, ok := r.natives[spec.Name]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: no native behavior named %q", ErrInvalidSpec, spec.Name)
		}
		for _, entry := range spec.EntryPoints {
			if _, ok := b[entry]; !ok {
				return fmt.Errorf("%w: native %q does not implement %q", ErrInvalidSpec, spec.Name, entry)
			}
		}
		return nil
	case ir.RuntimeLua:
		return validateLua(spec)
	default:
		return fmt.Errorf("%w: unknown runtime %q", ErrInvalidSpec, spec.Runtime)
	}
}

// Build validates spec and returns the module it describes.
func (r *Registry) Build(spec ir.ModuleSpec) (Module, error) {
	if err := r.Validate(spec); err != nil {
		return nil, err
	}
	ref, err := ir.ModuleRefFor(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.cache[ref]; ok {
		return m, nil
	}

	var m Module
	switch spec.Runtime {
	case ir.RuntimeNative:
		m = &nativeModule{ref: ref, spec: spec, behavior: r.natives[spec.Name]}
	default:
		m = &luaModule{ref: ref, spec: spec}
	}
	r.cache[ref] = m
	return m, nil
}

// Resolve returns the module deployed under ref, reading its spec through q
// on a cache miss. Errors from q are wrapped unchanged, so callers can match
// the querier's not-found sentinel.
func (r *Registry) Resolve(ctx context.Context, q ModuleQuerier, ref ir.ModuleRef) (Module, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: empty module reference", ErrInvalidSpec)
	}

	r.mu.RLock()
	m, ok := r.cache[ref]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	spec, err := q.Module(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve module %s: %w", ref.Short(), err)
	}
	m, err = r.Build(spec)
	if err != nil {
		return nil, fmt.Errorf("resolve module %s: %w", ref.Short(), err)
	}
	if m.Ref() != ref {
		return nil, fmt.Errorf("resolve module %s: %w: stored spec hashes to %s", ref.Short(), ErrInvalidSpec, m.Ref().Short())
	}
	return m, nil
}
