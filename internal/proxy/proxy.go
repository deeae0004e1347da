package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/stablecall/internal/audit"
	"github.com/roach88/stablecall/internal/auth"
	"github.com/roach88/stablecall/internal/frame"
	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/module"
	"github.com/roach88/stablecall/internal/store"
)

// Admin entry points intercepted by the proxy.
const (
	EntryUpgradeTo         = string(auth.OpUpgrade)
	EntryTransferOwnership = string(auth.OpTransferOwnership)
	EntryInitialize        = "initialize"
)

// CallObserver is told about every finished operation.
// Implemented by *audit.Metrics.
type CallObserver interface {
	ObserveCall(entry, outcome string, elapsed time.Duration)
}

// Proxy is one deployed Delegated Proxy.
//
// Thread-safety: Proxy is safe for concurrent use; operations on the same
// proxy are serialized. Use a single *Proxy per address (host.Host caches
// them) so every caller shares the same mutex.
type Proxy struct {
	address     ir.Address
	store       *store.Store
	modules     *module.Registry
	policy      auth.Policy
	dispatcher  *audit.Dispatcher
	observer    CallObserver
	layoutCheck bool

	mu sync.Mutex
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithPolicy replaces the default OwnerPolicy.
func WithPolicy(policy auth.Policy) Option {
	return func(p *Proxy) {
		p.policy = policy
	}
}

// WithDispatcher publishes committed events to d.
func WithDispatcher(d *audit.Dispatcher) Option {
	return func(p *Proxy) {
		p.dispatcher = d
	}
}

// WithObserver reports every finished operation to o.
func WithObserver(o CallObserver) Option {
	return func(p *Proxy) {
		p.observer = o
	}
}

// WithLayoutCheck makes UpgradeTo reject modules whose layout is not an
// append-only extension of the active module's layout.
//
// Default: off. Layout compatibility is the upgrader's responsibility.
func WithLayoutCheck(enabled bool) Option {
	return func(p *Proxy) {
		p.layoutCheck = enabled
	}
}

// New returns the proxy at address. It does not deploy anything; see Deploy.
func New(address ir.Address, s *store.Store, modules *module.Registry, opts ...Option) *Proxy {
	p := &Proxy{
		address: address,
		store:   s,
		modules: modules,
		policy:  auth.OwnerPolicy{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Address returns the proxy's stable address.
func (p *Proxy) Address() ir.Address {
	return p.address
}

// Deploy creates the proxy, points it at ref and, if the module declares
// initialize, runs it with initArgs on behalf of deployer. All of it is one
// transaction: a failed initializer leaves no proxy behind.
func (p *Proxy) Deploy(ctx context.Context, deployer ir.Address, ref ir.ModuleRef, initArgs ir.Object) error {
	return p.run(ctx, "deploy", func(tx *store.Tx, f *frame.Frame, rec *recorder) error {
		if ref.IsZero() {
			return p.newError(ErrCodeInvalidModule, "deploy", ErrInvalidModule)
		}
		mod, err := p.modules.Resolve(ctx, tx, ref)
		if err != nil {
			return p.resolveFailure("deploy", err)
		}

		if err := tx.CreateProxy(ctx, p.address, deployer); err != nil {
			return err
		}
		if err := f.SetImplementation(ctx, ref); err != nil {
			return err
		}
		rec.emit(ir.EventProxyDeployed, ir.NewObject(
			ir.O("deployer", ir.String(deployer)),
			ir.O("module", ir.String(ref)),
		))

		if !mod.Spec().HasEntryPoint(EntryInitialize) {
			return nil
		}
		env := module.NewEnv(f, deployer, mod.Spec(), rec.emit)
		if _, err := mod.Invoke(ctx, env, EntryInitialize, initArgs); err != nil {
			return p.moduleFailure(EntryInitialize, err)
		}
		return nil
	})
}

// Call submits one invocation. Admin entry points are handled by the proxy;
// everything else is forwarded to the active module, which runs against
// this proxy's frame.
func (p *Proxy) Call(ctx context.Context, caller ir.Address, call ir.Call) (ir.Value, error) {
	switch call.Entry {
	case EntryUpgradeTo:
		ref, ok := call.Args.String("module")
		if !ok {
			return nil, p.newError(ErrCodeInvalidArgument, call.Entry, errors.New(`"module" must be a string`))
		}
		return ir.Null{}, p.UpgradeTo(ctx, caller, ir.ModuleRef(ref))
	case EntryTransferOwnership:
		owner, ok := call.Args.String("owner")
		if !ok {
			return nil, p.newError(ErrCodeInvalidArgument, call.Entry, errors.New(`"owner" must be a string`))
		}
		return ir.Null{}, p.TransferOwnership(ctx, caller, ir.Address(owner))
	}

	var result ir.Value
	err := p.run(ctx, call.Entry, func(tx *store.Tx, f *frame.Frame, rec *recorder) error {
		if err := p.mustExist(ctx, tx, call.Entry); err != nil {
			return err
		}
		ref, err := f.Implementation(ctx)
		if err != nil {
			return err
		}
		mod, err := p.modules.Resolve(ctx, tx, ref)
		if err != nil {
			return p.resolveFailure(call.Entry, err)
		}

		env := module.NewEnv(f, caller, mod.Spec(), rec.emit)
		result, err = mod.Invoke(ctx, env, call.Entry, call.Args)
		if err != nil {
			return p.moduleFailure(call.Entry, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpgradeTo atomically replaces the active module.
//
// Checks run in order and fail before any write: the policy must authorize
// caller (UNAUTHORIZED), ref must resolve to a deployed module
// (INVALID_MODULE), and with WithLayoutCheck the layouts must be compatible
// (INCOMPATIBLE_LAYOUT).
func (p *Proxy) UpgradeTo(ctx context.Context, caller ir.Address, ref ir.ModuleRef) error {
	const entry = EntryUpgradeTo
	return p.run(ctx, entry, func(tx *store.Tx, f *frame.Frame, rec *recorder) error {
		if err := p.mustExist(ctx, tx, entry); err != nil {
			return err
		}
		if err := p.authorize(ctx, f, caller, auth.OpUpgrade); err != nil {
			return err
		}
		if ref.IsZero() {
			return p.newError(ErrCodeInvalidModule, entry, fmt.Errorf("%w: empty reference", ErrInvalidModule))
		}
		next, err := p.modules.Resolve(ctx, tx, ref)
		if err != nil {
			return p.resolveFailure(entry, err)
		}

		prev, err := f.Implementation(ctx)
		if err != nil {
			return err
		}
		if p.layoutCheck {
			if err := p.checkLayout(ctx, tx, prev, next); err != nil {
				return err
			}
		}

		if err := f.SetImplementation(ctx, ref); err != nil {
			return err
		}
		rec.emit(ir.EventUpgraded, ir.NewObject(
			ir.O("old", ir.String(prev)),
			ir.O("new", ir.String(ref)),
			ir.O("version", ir.Int(next.Spec().Version)),
			ir.O("by", ir.String(caller)),
		))
		slog.Info("proxy upgraded",
			"proxy", p.address,
			"old", prev.Short(),
			"new", ref.Short(),
			"version", next.Spec().Version)
		return nil
	})
}

// TransferOwnership hands the Upgrade Authority to owner.
func (p *Proxy) TransferOwnership(ctx context.Context, caller, owner ir.Address) error {
	const entry = EntryTransferOwnership
	return p.run(ctx, entry, func(tx *store.Tx, f *frame.Frame, rec *recorder) error {
		if err := p.mustExist(ctx, tx, entry); err != nil {
			return err
		}
		if err := p.authorize(ctx, f, caller, auth.OpTransferOwnership); err != nil {
			return err
		}
		if owner.IsZero() {
			return p.newError(ErrCodeInvalidArgument, entry, errors.New("new owner is empty"))
		}

		prev, err := f.Owner(ctx)
		if err != nil {
			return err
		}
		if err := f.SetOwner(ctx, owner); err != nil {
			return err
		}
		rec.emit(ir.EventOwnershipTransferred, ir.NewObject(
			ir.O("old", ir.String(prev)),
			ir.O("new", ir.String(owner)),
		))
		return nil
	})
}

// Implementation returns the active module reference.
func (p *Proxy) Implementation(ctx context.Context) (ir.ModuleRef, error) {
	raw, err := p.store.LoadSlot(ctx, p.address, frame.SlotImplementation)
	if err != nil {
		return "", err
	}
	return ir.ModuleRef(raw), nil
}

// Owner returns the current owner.
func (p *Proxy) Owner(ctx context.Context) (ir.Address, error) {
	raw, err := p.store.LoadSlot(ctx, p.address, frame.SlotOwner)
	if err != nil {
		return "", err
	}
	return ir.Address(raw), nil
}

// run executes op in one transaction under the proxy mutex, persists the
// events op raised and publishes them once committed.
func (p *Proxy) run(ctx context.Context, entry string, op func(*store.Tx, *frame.Frame, *recorder) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	var committed []ir.Event
	err := p.store.Update(ctx, func(tx *store.Tx) error {
		rec := &recorder{}
		if err := op(tx, frame.New(tx, p.address), rec); err != nil {
			return err
		}
		events, err := p.persist(ctx, tx, rec.pending)
		if err != nil {
			return err
		}
		committed = events
		return nil
	})
	p.observe(entry, err, time.Since(start))

	if err != nil {
		slog.Debug("proxy call failed",
			"proxy", p.address,
			"entry", entry,
			"error", err)
		return err
	}
	if p.dispatcher != nil {
		p.dispatcher.Publish(committed...)
	}
	return nil
}

// persist writes events inside the call's transaction; the store assigns
// each its seq.
func (p *Proxy) persist(ctx context.Context, tx *store.Tx, pending []ir.Event) ([]ir.Event, error) {
	events := make([]ir.Event, 0, len(pending))
	for _, ev := range pending {
		ev.Proxy = p.address
		seq, err := tx.AppendEvent(ctx, ev)
		if err != nil {
			return nil, err
		}
		ev.Seq = seq
		events = append(events, ev)
	}
	return events, nil
}

func (p *Proxy) observe(entry string, err error, elapsed time.Duration) {
	if p.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(CodeOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	p.observer.ObserveCall(entry, outcome, elapsed)
}

func (p *Proxy) mustExist(ctx context.Context, tx *store.Tx, entry string) error {
	ok, err := tx.ProxyExists(ctx, p.address)
	if err != nil {
		return err
	}
	if !ok {
		return p.newError(ErrCodeProxyNotFound, entry, ErrProxyNotFound)
	}
	return nil
}

func (p *Proxy) authorize(ctx context.Context, f *frame.Frame, caller ir.Address, op auth.Operation) error {
	ok, err := p.policy.IsAuthorized(ctx, f, caller, op)
	if err != nil {
		return err
	}
	if !ok {
		return p.newError(ErrCodeUnauthorized, string(op), fmt.Errorf("%w: %q may not %s", ErrUnauthorized, caller, op))
	}
	return nil
}

func (p *Proxy) checkLayout(ctx context.Context, tx *store.Tx, prev ir.ModuleRef, next module.Module) error {
	current, err := p.modules.Resolve(ctx, tx, prev)
	if err != nil {
		return p.resolveFailure(EntryUpgradeTo, err)
	}
	if err := module.CheckLayout(current.Spec().Layout, next.Spec().Layout); err != nil {
		return p.newError(ErrCodeIncompatibleLayout, EntryUpgradeTo, err)
	}
	return nil
}

// recorder collects events raised during one operation, in order.
type recorder struct {
	pending []ir.Event
}

func (r *recorder) emit(kind ir.EventKind, data ir.Object) {
	r.pending = append(r.pending, ir.Event{Kind: kind, Data: data})
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
