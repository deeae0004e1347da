package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/roach88/stablecall/internal/ir"
)

func TestStoreSlot_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestProxy(t, s, "proxy-1")

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.StoreSlot(ctx, "proxy-1", 3, []byte{0x2a}); err != nil {
			return err
		}
		got, err := tx.LoadSlot(ctx, "proxy-1", 3)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, []byte{0x2a}) {
			t.Errorf("LoadSlot inside tx = %x, want 2a", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, err := s.LoadSlot(ctx, "proxy-1", 3)
	if err != nil {
		t.Fatalf("LoadSlot() failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0x2a}) {
		t.Errorf("LoadSlot after commit = %x, want 2a", got)
	}
}

func TestStoreSlot_Overwrite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestProxy(t, s, "proxy-1")

	for _, v := range [][]byte{{1}, {2}} {
		err := s.Update(ctx, func(tx *Tx) error {
			return tx.StoreSlot(ctx, "proxy-1", 0, v)
		})
		if err != nil {
			t.Fatalf("Update() failed: %v", err)
		}
	}

	got, _ := s.LoadSlot(ctx, "proxy-1", 0)
	if !bytes.Equal(got, []byte{2}) {
		t.Errorf("slot 0 = %x, want 02", got)
	}
}

func TestStoreSlot_EmptyValueClears(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestProxy(t, s, "proxy-1")

	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.StoreSlot(ctx, "proxy-1", 5, []byte("x")); err != nil {
			return err
		}
		return tx.StoreSlot(ctx, "proxy-1", 5, nil)
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	slots, err := s.Slots(ctx, "proxy-1")
	if err != nil {
		t.Fatalf("Slots() failed: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots, got %v", slots)
	}
}

func TestLoadSlot_Unset(t *testing.T) {
	s := createTestStore(t)

	got, err := s.LoadSlot(context.Background(), "proxy-1", 9)
	if err != nil {
		t.Fatalf("LoadSlot() failed: %v", err)
	}
	if got != nil {
		t.Errorf("unset slot = %x, want nil", got)
	}
}

func TestUpdate_RollbackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestProxy(t, s, "proxy-1")

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx *Tx) error {
		if err := tx.StoreSlot(ctx, "proxy-1", 3, []byte{7}); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, ir.Event{Proxy: "proxy-1", Kind: ir.EventStateChanged}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	slots, _ := s.Slots(ctx, "proxy-1")
	if len(slots) != 0 {
		t.Errorf("slots after rollback = %v, want none", slots)
	}
	events, _ := s.Events(ctx, EventFilter{})
	if len(events) != 0 {
		t.Errorf("events after rollback = %v, want none", events)
	}
}

func TestCreateProxy_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestProxy(t, s, "proxy-1")

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.CreateProxy(ctx, "proxy-1", "someone")
	})
	if !errors.Is(err, ErrProxyExists) {
		t.Errorf("expected ErrProxyExists, got %v", err)
	}
}

func TestInsertModule_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	spec := createTestSpec("counter", 1)
	ref := ir.MustModuleRef(spec)

	var first, second bool
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		first, err = tx.InsertModule(ctx, ref, spec)
		if err != nil {
			return err
		}
		second, err = tx.InsertModule(ctx, ref, spec)
		return err
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if !first || second {
		t.Errorf("inserted = (%v, %v), want (true, false)", first, second)
	}
}

func TestAppendEvent_AssignsSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var seqs []int64
	err := s.Update(ctx, func(tx *Tx) error {
		// A caller-supplied seq is ignored.
		ev := ir.Event{Seq: 99, Proxy: "p", Kind: ir.EventInitialized, Data: ir.Object{}}
		for i := 0; i < 2; i++ {
			seq, err := tx.AppendEvent(ctx, ev)
			if err != nil {
				return err
			}
			seqs = append(seqs, seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("seqs = %v, want [1 2]", seqs)
	}
}

func TestAppendEvent_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open(a) failed: %v", err)
	}
	defer a.Close()
	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open(b) failed: %v", err)
	}
	defer b.Close()

	appendOne := func(s *Store) int64 {
		t.Helper()
		var seq int64
		err := s.Update(ctx, func(tx *Tx) error {
			var err error
			seq, err = tx.AppendEvent(ctx, ir.Event{Proxy: "p", Kind: ir.EventStateChanged, Data: ir.Object{}})
			return err
		})
		if err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
		return seq
	}

	got := []int64{appendOne(a), appendOne(b), appendOne(a), appendOne(b)}
	want := []int64{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("seqs = %v, want %v", got, want)
		}
	}
}
