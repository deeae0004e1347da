package frame

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/stablecall/internal/ir"
)

// Reserved slots.
const (
	SlotImplementation uint64 = 0x0
	SlotInitialized    uint64 = 0x1
	SlotOwner          uint64 = 0x2

	// FieldBase is the slot of the first module-defined field.
	FieldBase uint64 = 0x3
)

// ErrUnknownField is returned when a module addresses a field its layout does not declare.
var ErrUnknownField = errors.New("unknown field")

// SlotStore is the persistent backing of a frame.
// Implemented by *store.Tx.
type SlotStore interface {
	LoadSlot(ctx context.Context, proxy ir.Address, slot uint64) ([]byte, error)
	StoreSlot(ctx context.Context, proxy ir.Address, slot uint64, value []byte) error
}

// Frame is one proxy's storage as seen by a single call.
// It is valid only for the lifetime of the transaction backing it.
type Frame struct {
	slots SlotStore
	proxy ir.Address
}

// New returns the frame of proxy backed by slots.
func New(slots SlotStore, proxy ir.Address) *Frame {
	return &Frame{slots: slots, proxy: proxy}
}

// Address returns the proxy that owns this frame.
func (f *Frame) Address() ir.Address {
	return f.proxy
}

// Load reads a raw slot. Unset slots return nil.
func (f *Frame) Load(ctx context.Context, slot uint64) ([]byte, error) {
	return f.slots.LoadSlot(ctx, f.proxy, slot)
}

// Store writes a raw slot.
func (f *Frame) Store(ctx context.Context, slot uint64, value []byte) error {
	return f.slots.StoreSlot(ctx, f.proxy, slot, value)
}

// Implementation returns the active module reference (empty if unset).
func (f *Frame) Implementation(ctx context.Context) (ir.ModuleRef, error) {
	raw, err := f.Load(ctx, SlotImplementation)
	if err != nil {
		return "", fmt.Errorf("read implementation slot: %w", err)
	}
	return ir.ModuleRef(raw), nil
}

// SetImplementation overwrites the active module reference.
func (f *Frame) SetImplementation(ctx context.Context, ref ir.ModuleRef) error {
	if ref.IsZero() {
		return fmt.Errorf("set implementation: empty module reference")
	}
	if err := f.Store(ctx, SlotImplementation, []byte(ref)); err != nil {
		return fmt.Errorf("write implementation slot: %w", err)
	}
	return nil
}

// Owner returns the upgrade authority (empty before initialization).
func (f *Frame) Owner(ctx context.Context) (ir.Address, error) {
	raw, err := f.Load(ctx, SlotOwner)
	if err != nil {
		return "", fmt.Errorf("read owner slot: %w", err)
	}
	return ir.Address(raw), nil
}

// SetOwner overwrites the upgrade authority.
func (f *Frame) SetOwner(ctx context.Context, owner ir.Address) error {
	if owner.IsZero() {
		return fmt.Errorf("set owner: empty address")
	}
	if err := f.Store(ctx, SlotOwner, []byte(owner)); err != nil {
		return fmt.Errorf("write owner slot: %w", err)
	}
	return nil
}

// FieldSlot returns the slot of a named field in layout.
func FieldSlot(layout []ir.Field, name string) (uint64, ir.Field, error) {
	for i, field := range layout {
		if field.Name == name {
			return FieldBase + uint64(i), field, nil
		}
	}
	return 0, ir.Field{}, fmt.Errorf("field %q: %w", name, ErrUnknownField)
}

// Get reads a module field, decoding the slot with the field's declared type.
func (f *Frame) Get(ctx context.Context, layout []ir.Field, name string) (ir.Value, error) {
	slot, field, err := FieldSlot(layout, name)
	if err != nil {
		return nil, err
	}
	raw, err := f.Load(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("read field %q: %w", name, err)
	}
	return Decode(field.Type, raw), nil
}

// Set writes a module field and returns the previous value.
func (f *Frame) Set(ctx context.Context, layout []ir.Field, name string, value ir.Value) (ir.Value, error) {
	slot, field, err := FieldSlot(layout, name)
	if err != nil {
		return nil, err
	}
	raw, err := Encode(field.Type, value)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", name, err)
	}
	prev, err := f.Load(ctx, slot)
	if err != nil {
		return nil, fmt.Errorf("read field %q: %w", name, err)
	}
	if err := f.Store(ctx, slot, raw); err != nil {
		return nil, fmt.Errorf("write field %q: %w", name, err)
	}
	return Decode(field.Type, prev), nil
}
