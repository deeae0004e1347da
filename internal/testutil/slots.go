package testutil

import (
	"context"
	"maps"
	"sync"

	"github.com/roach88/stablecall/internal/ir"
)

// MemSlots is an in-memory frame backing for tests that do not need SQLite.
//
// It satisfies frame.SlotStore. Snapshot and Restore give tests the
// all-or-nothing behavior a store transaction provides.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemSlots struct {
	mu    sync.Mutex
	slots map[ir.Address]map[uint64][]byte
}

// NewMemSlots creates an empty slot store.
func NewMemSlots() *MemSlots {
	return &MemSlots{slots: make(map[ir.Address]map[uint64][]byte)}
}

// LoadSlot returns a copy of the slot, or nil if unset.
func (m *MemSlots) LoadSlot(_ context.Context, proxy ir.Address, slot uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.slots[proxy][slot]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// StoreSlot writes a slot. An empty value clears it.
func (m *MemSlots) StoreSlot(_ context.Context, proxy ir.Address, slot uint64, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(value) == 0 {
		delete(m.slots[proxy], slot)
		return nil
	}
	if m.slots[proxy] == nil {
		m.slots[proxy] = make(map[uint64][]byte)
	}
	m.slots[proxy][slot] = append([]byte(nil), value...)
	return nil
}

// Snapshot returns a copy of every written slot of proxy.
func (m *MemSlots) Snapshot(proxy ir.Address) map[uint64][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[uint64][]byte, len(m.slots[proxy]))
	for k, v := range m.slots[proxy] {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// Restore replaces proxy's slots with a snapshot.
func (m *MemSlots) Restore(proxy ir.Address, snap map[uint64][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots[proxy] = maps.Clone(snap)
}
