package module

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Shopify/go-lua"

	"github.com/roach88/stablecall/internal/ir"
)

// Scripted modules see a reduced standard library plus these globals:
//
//	storage.get(name)          read a field through the module layout
//	storage.set(name, value)   write a field (records StateChanged)
//	storage.owner()            current owner address
//	guard.initialize(owner, f) pass the Initialization Guard, then run f
//	caller()                   address that submitted the call
//	VERSION                    the module's version tag
//
// Each declared entry point must be a global function taking one table of
// arguments. Numbers crossing the boundary must be integral and within
// ±2^53, the range a Lua number holds exactly.

var errNoEnv = errors.New("storage is only available inside an entry point")

// luaMaxInt bounds integers passed to and from Lua.
const luaMaxInt = 1 << 53

// luaHookCount is how many VM instructions run between context checks.
const luaHookCount = 1000

var luaLibraries = []struct {
	name string
	open lua.Function
}{
	{"_G", lua.BaseOpen},
	{"table", lua.TableOpen},
	{"string", lua.StringOpen},
	{"math", lua.MathOpen},
}

// luaRemoved are base functions that reach outside the interpreter or
// swallow host errors.
var luaRemoved = []string{"dofile", "loadfile", "load", "loadstring", "pcall", "xpcall", "collectgarbage"}

// luaModule runs Lua source from its spec in a fresh interpreter per call.
type luaModule struct {
	ref  ir.ModuleRef
	spec ir.ModuleSpec
}

func (m *luaModule) Ref() ir.ModuleRef {
	return m.ref
}

func (m *luaModule) Spec() ir.ModuleSpec {
	return m.spec
}

func (m *luaModule) Invoke(ctx context.Context, env *Env, entry string, args ir.Object) (ir.Value, error) {
	if !m.spec.HasEntryPoint(entry) {
		return nil, unknownEntry(m.spec, entry)
	}
	if args == nil {
		args = ir.Object{}
	}

	call := &luaCall{ctx: ctx, env: env}
	l, err := newLuaState(m.spec, call)
	if err != nil {
		return nil, err
	}

	l.Global(entry)
	if !l.IsFunction(-1) {
		l.Pop(1)
		return nil, unknownEntry(m.spec, entry)
	}
	if err := pushValue(l, args); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", entry, ErrInvalidArgument, err)
	}
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		return nil, call.failure(entry, err)
	}

	result, err := toValue(l, -1)
	l.Pop(1)
	if err != nil {
		return nil, fmt.Errorf("%s: result: %w", entry, err)
	}
	return result, nil
}

// validateLua compiles the source and checks every entry point is defined.
func validateLua(spec ir.ModuleSpec) error {
	l, err := newLuaState(spec, &luaCall{ctx: context.Background()})
	if err != nil {
		return err
	}
	for _, entry := range spec.EntryPoints {
		l.Global(entry)
		ok := l.IsFunction(-1)
		l.Pop(1)
		if !ok {
			return fmt.Errorf("%w: entry point %q is not a global function", ErrInvalidSpec, entry)
		}
	}
	return nil
}

func newLuaState(spec ir.ModuleSpec, call *luaCall) (*lua.State, error) {
	l := lua.NewState()
	for _, lib := range luaLibraries {
		lua.Require(l, lib.name, lib.open, true)
		l.Pop(1)
	}
	for _, name := range luaRemoved {
		l.PushNil()
		l.SetGlobal(name)
	}
	call.register(l)
	lua.SetDebugHook(l, call.interrupt, lua.MaskCount, luaHookCount)
	l.PushInteger(int(spec.Version))
	l.SetGlobal("VERSION")

	if err := lua.LoadString(l, spec.Source); err != nil {
		return nil, fmt.Errorf("%w: compile: %v", ErrInvalidSpec, err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("%w: load: %v", ErrInvalidSpec, call.failure("chunk", err))
	}
	return l, nil
}

// luaCall carries one invocation's context into host functions.
type luaCall struct {
	ctx context.Context
	env *Env

	// err holds the Go error behind the most recent raise so callers can
	// match it with errors.Is after the Lua stack unwinds.
	err error
}

func (c *luaCall) register(l *lua.State) {
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "get", Function: c.storageGet},
		{Name: "set", Function: c.storageSet},
		{Name: "owner", Function: c.storageOwner},
	}, 0)
	l.SetGlobal("storage")

	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "initialize", Function: c.guardInitialize},
	}, 0)
	l.SetGlobal("guard")

	l.Register("caller", c.caller)
}

// interrupt aborts the script once the call's context is done.
func (c *luaCall) interrupt(l *lua.State, _ lua.Debug) {
	if err := c.ctx.Err(); err != nil {
		c.raise(l, err)
	}
}

func (c *luaCall) raise(l *lua.State, err error) int {
	c.err = err
	lua.Errorf(l, "%s", err.Error())
	return 0
}

func (c *luaCall) failure(entry string, err error) error {
	if c.err != nil {
		return fmt.Errorf("%s: %w", entry, c.err)
	}
	return fmt.Errorf("%s: lua: %w", entry, err)
}

func (c *luaCall) storageGet(l *lua.State) int {
	name := lua.CheckString(l, 1)
	if c.env == nil {
		return c.raise(l, errNoEnv)
	}
	v, err := c.env.Get(c.ctx, name)
	if err != nil {
		return c.raise(l, err)
	}
	if err := pushValue(l, v); err != nil {
		return c.raise(l, fmt.Errorf("%w: field %s: %v", ErrInvalidArgument, name, err))
	}
	return 1
}

func (c *luaCall) storageSet(l *lua.State) int {
	name := lua.CheckString(l, 1)
	if c.env == nil {
		return c.raise(l, errNoEnv)
	}
	v, err := toValue(l, 2)
	if err != nil {
		return c.raise(l, fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	if err := c.env.Set(c.ctx, name, v); err != nil {
		return c.raise(l, err)
	}
	return 0
}

func (c *luaCall) storageOwner(l *lua.State) int {
	if c.env == nil {
		return c.raise(l, errNoEnv)
	}
	owner, err := c.env.Owner(c.ctx)
	if err != nil {
		return c.raise(l, err)
	}
	l.PushString(string(owner))
	return 1
}

func (c *luaCall) guardInitialize(l *lua.State) int {
	owner := lua.OptString(l, 1, "")
	if c.env == nil {
		return c.raise(l, errNoEnv)
	}
	hasSetup := l.TypeOf(2) == lua.TypeFunction

	err := c.env.Initialize(c.ctx, ir.Address(owner), func() error {
		if hasSetup {
			l.PushValue(2)
			l.Call(0, 0)
		}
		return nil
	})
	if err != nil {
		return c.raise(l, err)
	}
	return 0
}

func (c *luaCall) caller(l *lua.State) int {
	if c.env == nil {
		return c.raise(l, errNoEnv)
	}
	l.PushString(string(c.env.Caller))
	return 1
}

// pushValue pushes v, or nothing when it returns an error.
func pushValue(l *lua.State, v ir.Value) error {
	switch val := v.(type) {
	case ir.String:
		l.PushString(string(val))
	case ir.Int:
		if val > luaMaxInt || val < -luaMaxInt {
			return fmt.Errorf("integer %d is outside ±2^53", int64(val))
		}
		l.PushInteger(int(val))
	case ir.Bool:
		l.PushBoolean(bool(val))
	case ir.Array:
		l.CreateTable(len(val), 0)
		for i, elem := range val {
			if err := pushValue(l, elem); err != nil {
				l.Pop(1)
				return err
			}
			l.RawSetInt(-2, i+1)
		}
	case ir.Object:
		l.CreateTable(0, len(val))
		for _, k := range val.SortedKeys() {
			if err := pushValue(l, val[k]); err != nil {
				l.Pop(1)
				return fmt.Errorf("%s: %w", k, err)
			}
			l.SetField(-2, k)
		}
	default:
		l.PushNil()
	}
	return nil
}

func toValue(l *lua.State, index int) (ir.Value, error) {
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return ir.Null{}, nil
	case lua.TypeBoolean:
		return ir.Bool(l.ToBoolean(index)), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("number %v is not an integer", n)
		}
		if n > luaMaxInt || n < -luaMaxInt {
			return nil, fmt.Errorf("integer %v is outside ±2^53", n)
		}
		return ir.Int(int64(n)), nil
	case lua.TypeString:
		s, _ := l.ToString(index)
		return ir.String(s), nil
	case lua.TypeTable:
		return tableToValue(l, index)
	default:
		return nil, fmt.Errorf("unsupported lua type %s", lua.TypeNameOf(l, index))
	}
}

// tableToValue converts a sequence to an Array and a string-keyed table to
// an Object. Empty tables become empty Objects.
func tableToValue(l *lua.State, index int) (ir.Value, error) {
	index = l.AbsIndex(index)
	obj := ir.Object{}
	items := map[int]ir.Value{}

	l.PushNil()
	for l.Next(index) {
		v, err := toValue(l, -1)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		switch l.TypeOf(-2) {
		case lua.TypeString:
			k, _ := l.ToString(-2)
			obj[k] = v
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			if n < 1 || n != math.Trunc(n) {
				l.Pop(2)
				return nil, fmt.Errorf("table key %v is not a positive integer", n)
			}
			items[int(n)] = v
		default:
			kind := lua.TypeNameOf(l, -2)
			l.Pop(2)
			return nil, fmt.Errorf("unsupported table key type %s", kind)
		}
		l.Pop(1)
	}

	if len(items) == 0 {
		return obj, nil
	}
	if len(obj) > 0 {
		return nil, fmt.Errorf("table mixes string and integer keys")
	}
	arr := make(ir.Array, len(items))
	for i := range arr {
		v, ok := items[i+1]
		if !ok {
			return nil, fmt.Errorf("table is not a sequence: missing index %d", i+1)
		}
		arr[i] = v
	}
	return arr, nil
}
