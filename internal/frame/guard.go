package frame

import (
	"context"
	"errors"
	"fmt"
)

// ErrAlreadyInitialized is returned by Initialize once the flag is set.
var ErrAlreadyInitialized = errors.New("already initialized")

// InitState is the Initialization Guard state.
type InitState int

const (
	Uninitialized InitState = iota
	Initialized
)

func (s InitState) String() string {
	if s == Initialized {
		return "initialized"
	}
	return "uninitialized"
}

// InitState reads the guard flag.
func (f *Frame) InitState(ctx context.Context) (InitState, error) {
	raw, err := f.Load(ctx, SlotInitialized)
	if err != nil {
		return Uninitialized, fmt.Errorf("read initialized slot: %w", err)
	}
	if len(raw) > 0 && raw[0] != 0 {
		return Initialized, nil
	}
	return Uninitialized, nil
}

// Initialize runs setup exactly once per frame.
//
// The flag lives in the frame, not in any module, so a module activated by
// an upgrade sees the flag its predecessor set. The transition to Initialized
// is written before setup runs; if setup fails the caller's transaction
// rolls both back.
func Initialize(ctx context.Context, f *Frame, setup func() error) error {
	state, err := f.InitState(ctx)
	if err != nil {
		return err
	}
	if state == Initialized {
		return ErrAlreadyInitialized
	}
	if err := f.Store(ctx, SlotInitialized, []byte{1}); err != nil {
		return fmt.Errorf("write initialized slot: %w", err)
	}
	return setup()
}
