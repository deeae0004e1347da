package module

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stablecall/internal/frame"
	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/testutil"
)

const tallySource = `
function initialize(args)
  guard.initialize(args.owner, function()
    storage.set("count", args.start or 0)
  end)
end

function count(args)
  return storage.get("count")
end

function bump(args)
  local n = storage.get("count") + (args.by or 1)
  storage.set("count", n)
  return n
end

function whoami(args)
  return { caller = caller(), owner = storage.owner() }
end

function version(args)
  return VERSION
end

function explode(args)
  storage.set("count", 99)
  error("boom")
end

function half(args)
  return storage.get("count") / 2
end
`

func tallySpec() ir.ModuleSpec {
	return ir.ModuleSpec{
		Name:        "tally",
		Version:     4,
		Runtime:     ir.RuntimeLua,
		Layout:      []ir.Field{{Name: "count", Type: ir.FieldInt}},
		EntryPoints: []string{"initialize", "count", "bump", "whoami", "version", "explode", "half"},
		Source:      tallySource,
	}
}

func TestLuaModule_Lifecycle(t *testing.T) {
	slots := testutil.NewMemSlots()
	m := build(t, tallySpec())
	rec := &recorder{}

	_, err := invoke(t, m, slots, "alice", rec, "initialize", ir.NewObject(ir.O("start", ir.Int(10))))
	require.NoError(t, err)

	got, err := invoke(t, m, slots, "bob", rec, "bump", ir.NewObject(ir.O("by", ir.Int(5))))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(15), got)

	got, err = invoke(t, m, slots, "bob", nil, "count", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(15), got)

	got, err = invoke(t, m, slots, "bob", nil, "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.NewObject(ir.O("caller", ir.String("bob")), ir.O("owner", ir.String("alice"))), got)

	got, err = invoke(t, m, slots, "bob", nil, "version", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(4), got)

	assert.Equal(t, []ir.EventKind{ir.EventInitialized, ir.EventStateChanged}, rec.kinds())
}

func TestLuaModule_GuardErrorKeepsIdentity(t *testing.T) {
	slots := testutil.NewMemSlots()
	m := build(t, tallySpec())

	_, err := invoke(t, m, slots, "alice", nil, "initialize", nil)
	require.NoError(t, err)

	_, err = invoke(t, m, slots, "alice", nil, "initialize", nil)
	assert.True(t, errors.Is(err, frame.ErrAlreadyInitialized))
}

func TestLuaModule_ScriptError(t *testing.T) {
	slots := testutil.NewMemSlots()
	m := build(t, tallySpec())

	_, err := invoke(t, m, slots, "alice", nil, "explode", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestLuaModule_RejectsFractionalResult(t *testing.T) {
	slots := testutil.NewMemSlots()
	m := build(t, tallySpec())

	_, err := invoke(t, m, slots, "alice", nil, "initialize", ir.NewObject(ir.O("start", ir.Int(3))))
	require.NoError(t, err)

	_, err = invoke(t, m, slots, "alice", nil, "half", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an integer")
}

func TestLuaModule_UndeclaredEntry(t *testing.T) {
	slots := testutil.NewMemSlots()
	m := build(t, tallySpec())

	_, err := invoke(t, m, slots, "alice", nil, "print", nil)
	assert.True(t, errors.Is(err, ErrUnknownEntryPoint))
}

func TestLuaModule_Sandbox(t *testing.T) {
	spec := tallySpec()
	spec.Source = `
function initialize(args) end
function count(args) return dofile == nil and io == nil and os == nil end
function bump(args) end
function whoami(args) end
function version(args) end
function explode(args) end
function half(args) end
`
	got, err := invoke(t, build(t, spec), testutil.NewMemSlots(), "alice", nil, "count", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Bool(true), got)
}

func TestLuaValues_Tables(t *testing.T) {
	spec := ir.ModuleSpec{
		Name:        "echo",
		Version:     1,
		Runtime:     ir.RuntimeLua,
		EntryPoints: []string{"echo", "list", "mixed"},
		Source: `
function echo(args) return args end
function list(args) return { "a", "b", 3 } end
function mixed(args) return { 1, x = 2 } end
`,
	}
	m := build(t, spec)
	slots := testutil.NewMemSlots()

	in := ir.NewObject(
		ir.O("n", ir.Int(-5)),
		ir.O("ok", ir.Bool(true)),
		ir.O("nested", ir.NewObject(ir.O("s", ir.String("x")))),
	)
	got, err := invoke(t, m, slots, "alice", nil, "echo", in)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	got, err = invoke(t, m, slots, "alice", nil, "list", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.Array{ir.String("a"), ir.String("b"), ir.Int(3)}, got)

	_, err = invoke(t, m, slots, "alice", nil, "mixed", nil)
	assert.Error(t, err)
}

func TestLuaModule_DeadlineStopsRunawayScript(t *testing.T) {
	spec := ir.ModuleSpec{
		Name:        "spinner",
		Version:     1,
		Runtime:     ir.RuntimeLua,
		EntryPoints: []string{"spin"},
		Source:      `function spin(args) while true do end end`,
	}
	m := build(t, spec)
	env := NewEnv(frame.New(testutil.NewMemSlots(), testProxy), "alice", m.Spec(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := m.Invoke(ctx, env, "spin", nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("script kept running after its deadline")
	}
}

func TestLuaModule_IntegerRange(t *testing.T) {
	spec := ir.ModuleSpec{
		Name:        "wide",
		Version:     1,
		Runtime:     ir.RuntimeLua,
		Layout:      []ir.Field{{Name: "count", Type: ir.FieldInt}},
		EntryPoints: []string{"echo", "huge", "count"},
		Source: `
function echo(args) return args end
function huge(args) return 2^60 end
function count(args) return storage.get("count") end
`,
	}
	m := build(t, spec)
	slots := testutil.NewMemSlots()

	got, err := invoke(t, m, slots, "alice", nil, "echo", ir.NewObject(ir.O("n", ir.Int(1<<53))))
	require.NoError(t, err)
	assert.Equal(t, ir.NewObject(ir.O("n", ir.Int(1<<53))), got)

	_, err = invoke(t, m, slots, "alice", nil, "echo", ir.NewObject(ir.O("n", ir.Int(1<<53+1))))
	assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)

	_, err = invoke(t, m, slots, "alice", nil, "echo",
		ir.NewObject(ir.O("nested", ir.NewObject(ir.O("n", ir.Int(-(1<<60)))))))
	assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)

	_, err = invoke(t, m, slots, "alice", nil, "huge", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside ±2^53")

	env := NewEnv(frame.New(slots, testProxy), "alice", m.Spec(), nil)
	require.NoError(t, env.Set(context.Background(), "count", ir.Int(1<<60)))
	_, err = m.Invoke(context.Background(), env, "count", nil)
	assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)
}
