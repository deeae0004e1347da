// Package host is the deployment collaborator around the proxy core: it
// deploys Logic Modules and proxies into a store and hands out the one
// *proxy.Proxy per address that callers share.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/stablecall/internal/audit"
	"github.com/roach88/stablecall/internal/auth"
	"github.com/roach88/stablecall/internal/frame"
	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/module"
	"github.com/roach88/stablecall/internal/proxy"
	"github.com/roach88/stablecall/internal/store"
)

// Host owns a store and everything that runs against it.
type Host struct {
	store      *store.Store
	modules    *module.Registry
	dispatcher *audit.Dispatcher
	metrics    *audit.Metrics
	addresses  AddressGenerator

	policy      auth.Policy
	layoutCheck bool

	mu      sync.Mutex
	proxies map[ir.Address]*proxy.Proxy
}

// Option configures a Host.
type Option func(*Host)

// WithAddressGenerator replaces the UUIDv7 proxy address generator.
func WithAddressGenerator(g AddressGenerator) Option {
	return func(h *Host) {
		h.addresses = g
	}
}

// WithRegistry replaces the default module registry.
func WithRegistry(r *module.Registry) Option {
	return func(h *Host) {
		h.modules = r
	}
}

// WithDispatcher replaces the default dispatcher, which logs every event
// and feeds the host metrics.
func WithDispatcher(d *audit.Dispatcher) Option {
	return func(h *Host) {
		h.dispatcher = d
	}
}

// WithPolicy sets the Upgrade Authority policy of every proxy.
func WithPolicy(p auth.Policy) Option {
	return func(h *Host) {
		h.policy = p
	}
}

// WithLayoutCheck enables the append-only layout check on every upgrade.
func WithLayoutCheck(enabled bool) Option {
	return func(h *Host) {
		h.layoutCheck = enabled
	}
}

// Open opens the store at path and builds a host on it.
// Close releases the store.
func Open(ctx context.Context, path string, opts ...Option) (*Host, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	h, err := New(ctx, s, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return h, nil
}

// New builds a host on an open store. Other hosts, in this process or
// another, may share the store's database file.
func New(ctx context.Context, s *store.Store, opts ...Option) (*Host, error) {
	h := &Host{
		store:     s,
		metrics:   audit.NewMetrics(),
		addresses: UUIDv7Generator{},
		policy:    auth.OwnerPolicy{},
		proxies:   make(map[ir.Address]*proxy.Proxy),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.modules == nil {
		h.modules = module.NewRegistry()
	}
	if h.dispatcher == nil {
		h.dispatcher = audit.NewDispatcher(
			audit.WithSink(audit.NewLogSink(slog.Default())),
			audit.WithSink(h.metrics),
		)
	}
	return h, nil
}

// Store returns the underlying store.
func (h *Host) Store() *store.Store {
	return h.store
}

// Registry returns the module registry.
func (h *Host) Registry() *module.Registry {
	return h.modules
}

// Dispatcher returns the audit dispatcher. Long-running processes should
// call its Run; otherwise events are delivered by Close.
func (h *Host) Dispatcher() *audit.Dispatcher {
	return h.dispatcher
}

// Metrics returns the host's Prometheus metrics.
func (h *Host) Metrics() *audit.Metrics {
	return h.metrics
}

// DeployModule validates and stores spec, returning its reference.
// Deploying the same spec again returns the same reference.
func (h *Host) DeployModule(ctx context.Context, spec ir.ModuleSpec) (ir.ModuleRef, error) {
	if err := h.modules.Validate(spec); err != nil {
		return "", err
	}
	ref, err := ir.ModuleRefFor(spec)
	if err != nil {
		return "", err
	}

	var inserted bool
	err = h.store.Update(ctx, func(tx *store.Tx) error {
		inserted, err = tx.InsertModule(ctx, ref, spec)
		return err
	})
	if err != nil {
		return "", err
	}

	slog.Info("module deployed",
		"ref", ref.Short(),
		"name", spec.Name,
		"version", spec.Version,
		"runtime", spec.Runtime,
		"new", inserted)
	return ref, nil
}

// DeployProxy deploys a proxy over ref at a fresh address and runs the
// module's initializer with initArgs on behalf of deployer.
func (h *Host) DeployProxy(ctx context.Context, deployer ir.Address, ref ir.ModuleRef, initArgs ir.Object) (ir.Address, error) {
	address := ir.Address(h.addresses.Generate())
	p := h.newProxy(address)
	if err := p.Deploy(ctx, deployer, ref, initArgs); err != nil {
		return "", err
	}

	h.adopt(p)

	slog.Info("proxy deployed",
		"proxy", address,
		"module", ref.Short(),
		"deployer", deployer)
	return address, nil
}

// Proxy returns the proxy deployed at address.
func (h *Host) Proxy(ctx context.Context, address ir.Address) (*proxy.Proxy, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.proxies[address]; ok {
		return p, nil
	}
	exists, err := h.store.ProxyExists(ctx, address)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("proxy %s: %w", address, proxy.ErrProxyNotFound)
	}
	p := h.newProxy(address)
	h.proxies[address] = p
	return p, nil
}

// adopt caches p unless its address already has a proxy, which can happen
// when Proxy runs between a deploy's commit and this call. Returns the
// cached proxy.
func (h *Host) adopt(p *proxy.Proxy) *proxy.Proxy {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.proxies[p.Address()]; ok {
		return existing
	}
	h.proxies[p.Address()] = p
	return p
}

// Inspection is a decoded view of one proxy's frame.
type Inspection struct {
	Address        ir.Address        `json:"address"`
	Implementation ir.ModuleRef      `json:"implementation"`
	Module         *ir.ModuleSpec    `json:"module,omitempty"`
	Owner          ir.Address        `json:"owner"`
	Initialized    bool              `json:"initialized"`
	Fields         ir.Object         `json:"fields"`
	Slots          map[uint64][]byte `json:"slots"`
}

// Inspect reads a proxy's frame and decodes its fields through the active
// module's layout.
func (h *Host) Inspect(ctx context.Context, address ir.Address) (Inspection, error) {
	exists, err := h.store.ProxyExists(ctx, address)
	if err != nil {
		return Inspection{}, err
	}
	if !exists {
		return Inspection{}, fmt.Errorf("proxy %s: %w", address, proxy.ErrProxyNotFound)
	}
	slots, err := h.store.Slots(ctx, address)
	if err != nil {
		return Inspection{}, err
	}

	in := Inspection{
		Address:        address,
		Implementation: ir.ModuleRef(slots[frame.SlotImplementation]),
		Owner:          ir.Address(slots[frame.SlotOwner]),
		Initialized:    bool(frame.Decode(ir.FieldBool, slots[frame.SlotInitialized]).(ir.Bool)),
		Fields:         ir.Object{},
		Slots:          slots,
	}

	spec, err := h.store.Module(ctx, in.Implementation)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return in, nil
	case err != nil:
		return Inspection{}, err
	}
	in.Module = &spec
	for i, f := range spec.Layout {
		in.Fields[f.Name] = frame.Decode(f.Type, slots[frame.FieldBase+uint64(i)])
	}
	return in, nil
}

// Close delivers pending events and closes the store.
func (h *Host) Close() error {
	h.dispatcher.Stop()
	if err := h.dispatcher.Drain(context.Background()); err != nil {
		slog.Warn("audit drain failed", "error", err)
	}
	return h.store.Close()
}

func (h *Host) newProxy(address ir.Address) *proxy.Proxy {
	return proxy.New(address, h.store, h.modules,
		proxy.WithPolicy(h.policy),
		proxy.WithDispatcher(h.dispatcher),
		proxy.WithObserver(h.metrics),
		proxy.WithLayoutCheck(h.layoutCheck),
	)
}
