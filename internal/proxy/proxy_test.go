package proxy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stablecall/internal/audit"
	"github.com/roach88/stablecall/internal/auth"
	"github.com/roach88/stablecall/internal/frame"
	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/module"
)

func TestDeployAndInitializeOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)

	assert.Equal(t, ir.Int(1), version(t, p))

	owner, err := p.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	_, err = p.Call(ctx, alice, call("initialize", ir.O("owner", ir.String("bob"))))
	require.Error(t, err)
	assert.True(t, IsAlreadyInitialized(err))
	assert.True(t, errors.Is(err, frame.ErrAlreadyInitialized))

	owner, err = p.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	assert.Equal(t, []ir.EventKind{ir.EventProxyDeployed, ir.EventInitialized}, kinds(fx.events(t, "p1")))
}

func TestUpgradeByOwner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)

	require.NoError(t, p.UpgradeTo(ctx, alice, fx.v2))
	assert.Equal(t, ir.Int(2), version(t, p))

	impl, err := p.Implementation(ctx)
	require.NoError(t, err)
	assert.Equal(t, fx.v2, impl)

	events := fx.events(t, "p1")
	last := events[len(events)-1]
	assert.Equal(t, ir.EventUpgraded, last.Kind)
	assert.Equal(t, ir.NewObject(
		ir.O("old", ir.String(fx.v1)),
		ir.O("new", ir.String(fx.v2)),
		ir.O("version", ir.Int(2)),
		ir.O("by", ir.String(alice)),
	), last.Data)
}

func TestUpgradeByStrangerRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)
	require.NoError(t, p.UpgradeTo(ctx, alice, fx.v2))
	before := fx.slots(t, "p1")

	err := p.UpgradeTo(ctx, bob, fx.v1)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.True(t, errors.Is(err, ErrUnauthorized))

	assert.Equal(t, ir.Int(2), version(t, p))
	assert.Equal(t, before, fx.slots(t, "p1"))
}

func TestUpgradeInvalidModule(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)
	before := fx.slots(t, "p1")

	for _, ref := range []ir.ModuleRef{"", "0123456789abcdef"} {
		err := p.UpgradeTo(ctx, alice, ref)
		require.Error(t, err)
		assert.True(t, IsInvalidModule(err), "ref %q", ref)
		assert.True(t, errors.Is(err, ErrInvalidModule))
	}
	assert.Equal(t, before, fx.slots(t, "p1"))
}

func TestUnauthorizedBeforeInvalidModule(t *testing.T) {
	fx := newFixture(t)
	p := fx.proxyAt(t, "p1", fx.v1)

	err := p.UpgradeTo(context.Background(), bob, "0123456789abcdef")
	assert.True(t, IsUnauthorized(err))
}

func TestSetValueOnlyAfterUpgrade(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)

	_, err := p.Call(ctx, bob, call("setValue", ir.O("value", ir.Int(42))))
	require.Error(t, err)
	assert.True(t, IsForwardingFailure(err))
	assert.True(t, errors.Is(err, module.ErrUnknownEntryPoint))

	require.NoError(t, p.UpgradeTo(ctx, alice, fx.v2))

	_, err = p.Call(ctx, bob, call("setValue", ir.O("value", ir.Int(42))))
	require.NoError(t, err)

	got, err := p.Call(ctx, bob, call("value"))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(42), got)
}

func TestStoragePreservedAcrossUpgrade(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)

	before, err := p.Call(ctx, bob, call("value"))
	require.NoError(t, err)
	require.Equal(t, ir.Int(7), before)

	require.NoError(t, p.UpgradeTo(ctx, alice, fx.v2))

	after, err := p.Call(ctx, bob, call("value"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	owner, err := p.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)
}

func TestReorderedLayoutReadsInconsistentValue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)

	require.NoError(t, p.UpgradeTo(ctx, alice, fx.v2))
	_, err := p.Call(ctx, bob, call("setValue", ir.O("value", ir.Int(42))))
	require.NoError(t, err)

	require.NoError(t, p.UpgradeTo(ctx, alice, fx.c))

	got, err := p.Call(ctx, bob, call("value"))
	require.NoError(t, err)
	assert.NotEqual(t, ir.Int(42), got)
	assert.Equal(t, ir.Int(1), got)
}

func TestLayoutCheckRejectsReorder(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1, WithLayoutCheck(true))

	require.NoError(t, p.UpgradeTo(ctx, alice, fx.v2))

	err := p.UpgradeTo(ctx, alice, fx.c)
	require.Error(t, err)
	assert.True(t, IsIncompatibleLayout(err))
	assert.True(t, errors.Is(err, module.ErrIncompatibleLayout))
	assert.Equal(t, ir.Int(2), version(t, p))
}

func TestAtomicRollback(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	flaky := fx.deploy(t, ir.ModuleSpec{
		Name:        "flaky",
		Version:     2,
		Runtime:     ir.RuntimeLua,
		Layout:      []ir.Field{{Name: "value", Type: ir.FieldInt}, {Name: "writes", Type: ir.FieldInt}},
		EntryPoints: []string{"value", "setValue", "version"},
		Source: `
function value(args) return storage.get("value") end
function version(args) return VERSION end
function setValue(args)
  storage.set("value", args.value)
  storage.set("writes", storage.get("writes") + 1)
  if args.value < 0 then error("negative values are not allowed") end
end
`,
	})

	p := fx.proxyAt(t, "p1", fx.v1)
	require.NoError(t, p.UpgradeTo(ctx, alice, flaky))
	_, err := p.Call(ctx, bob, call("setValue", ir.O("value", ir.Int(5))))
	require.NoError(t, err)

	beforeSlots := fx.slots(t, "p1")
	beforeEvents := fx.events(t, "p1")

	_, err = p.Call(ctx, bob, call("setValue", ir.O("value", ir.Int(-1))))
	require.Error(t, err)
	assert.True(t, IsForwardingFailure(err))
	assert.Contains(t, err.Error(), "negative values are not allowed")

	assert.Equal(t, beforeSlots, fx.slots(t, "p1"))
	assert.Equal(t, beforeEvents, fx.events(t, "p1"))
}

func TestTransferOwnership(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)

	err := p.TransferOwnership(ctx, bob, bob)
	assert.True(t, IsUnauthorized(err))

	require.NoError(t, p.TransferOwnership(ctx, alice, bob))

	assert.True(t, IsUnauthorized(p.UpgradeTo(ctx, alice, fx.v2)))
	require.NoError(t, p.UpgradeTo(ctx, bob, fx.v2))

	err = p.TransferOwnership(ctx, bob, "")
	assert.Equal(t, ErrCodeInvalidArgument, CodeOf(err))

	events := fx.events(t, "p1")
	assert.Equal(t, []ir.EventKind{
		ir.EventProxyDeployed,
		ir.EventInitialized,
		ir.EventOwnershipTransferred,
		ir.EventUpgraded,
	}, kinds(events))
	assert.Equal(t, ir.NewObject(ir.O("old", ir.String(alice)), ir.O("new", ir.String(bob))), events[2].Data)
}

func TestAdminEntriesThroughCall(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)

	_, err := p.Call(ctx, alice, call(EntryUpgradeTo, ir.O("module", ir.String(fx.v2))))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(2), version(t, p))

	_, err = p.Call(ctx, alice, call(EntryUpgradeTo))
	assert.Equal(t, ErrCodeInvalidArgument, CodeOf(err))

	_, err = p.Call(ctx, alice, call(EntryTransferOwnership, ir.O("owner", ir.String(bob))))
	require.NoError(t, err)
	owner, err := p.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
}

func TestDeployFailureLeavesNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	p := New("p1", fx.store, fx.modules)
	err := p.Deploy(ctx, alice, fx.v1, ir.NewObject(ir.O("value", ir.String("seven"))))
	require.Error(t, err)
	assert.True(t, IsForwardingFailure(err))
	assert.True(t, errors.Is(err, module.ErrInvalidArgument))

	exists, err := fx.store.ProxyExists(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, fx.events(t, "p1"))

	err = p.Deploy(ctx, alice, "0123456789abcdef", nil)
	assert.True(t, IsInvalidModule(err))
}

func TestDeployTwiceRejected(t *testing.T) {
	fx := newFixture(t)
	p := fx.proxyAt(t, "p1", fx.v1)

	err := p.Deploy(context.Background(), alice, fx.v2, nil)
	require.Error(t, err)
	assert.Equal(t, ir.Int(1), version(t, p))
}

func TestUnknownProxy(t *testing.T) {
	fx := newFixture(t)
	p := New("ghost", fx.store, fx.modules)

	_, err := p.Call(context.Background(), alice, call("value"))
	assert.Equal(t, ErrCodeProxyNotFound, CodeOf(err))
	assert.True(t, errors.Is(err, ErrProxyNotFound))

	err = p.UpgradeTo(context.Background(), alice, fx.v2)
	assert.Equal(t, ErrCodeProxyNotFound, CodeOf(err))
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	var got []ir.Event
	d := audit.NewDispatcher(audit.WithSink(audit.SinkFunc(func(_ context.Context, ev ir.Event) error {
		got = append(got, ev)
		return nil
	})))
	metrics := audit.NewMetrics()

	p := fx.proxyAt(t, "p1", fx.v1, WithDispatcher(d), WithObserver(metrics))
	require.NoError(t, p.UpgradeTo(ctx, alice, fx.v2))
	assert.Error(t, p.UpgradeTo(ctx, bob, fx.v1))

	require.NoError(t, d.Drain(ctx))
	assert.Equal(t, fx.events(t, "p1"), got)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})

	m, err := metrics.CallsTotal.GetMetricWithLabelValues("upgradeTo", "UNAUTHORIZED")
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestCustomPolicy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	ops := auth.PolicyFunc(func(_ context.Context, _ auth.OwnerReader, caller ir.Address, op auth.Operation) (bool, error) {
		return caller == "ops" && op == auth.OpUpgrade, nil
	})
	p := fx.proxyAt(t, "p1", fx.v1, WithPolicy(ops))

	assert.True(t, IsUnauthorized(p.UpgradeTo(ctx, alice, fx.v2)))
	require.NoError(t, p.UpgradeTo(ctx, "ops", fx.v2))
}

func TestConcurrentCallsSerialize(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v2)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Call(ctx, bob, call("setValue", ir.O("value", ir.Int(int64(i)))))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	writes, err := fx.store.LoadSlot(ctx, "p1", frame.FieldBase+1)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(n), frame.Decode(ir.FieldInt, writes))
}

func TestUpgradeVisibleOnNextCall(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	p := fx.proxyAt(t, "p1", fx.v1)

	done := make(chan struct{})
	seen := make(chan ir.Value, 64)
	go func() {
		defer close(seen)
		for {
			select {
			case <-done:
				return
			default:
			}
			v, err := p.Call(ctx, bob, call("version"))
			if err == nil {
				seen <- v
			}
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, p.UpgradeTo(ctx, alice, fx.v2))
	assert.Equal(t, ir.Int(2), version(t, p))
	close(done)

	for v := range seen {
		assert.Contains(t, []ir.Value{ir.Int(1), ir.Int(2)}, v)
	}
}
