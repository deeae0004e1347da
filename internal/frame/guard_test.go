package frame

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_RunsOnce(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFrame()

	calls := 0
	setup := func() error {
		calls++
		return nil
	}

	require.NoError(t, Initialize(ctx, f, setup))

	err := Initialize(ctx, f, setup)
	assert.True(t, errors.Is(err, ErrAlreadyInitialized))
	assert.Equal(t, 1, calls)

	state, err := f.InitState(ctx)
	require.NoError(t, err)
	assert.Equal(t, Initialized, state)
	assert.Equal(t, "initialized", state.String())
}

func TestInitialize_SetupErrorPropagates(t *testing.T) {
	ctx := context.Background()
	f, slots := newTestFrame()
	snap := slots.Snapshot("proxy-1")

	boom := errors.New("boom")
	err := Initialize(ctx, f, func() error { return boom })
	assert.True(t, errors.Is(err, boom))

	// The caller's transaction owns rollback; emulate it and retry.
	slots.Restore("proxy-1", snap)
	require.NoError(t, Initialize(ctx, f, func() error { return nil }))
}

func TestInitState_Default(t *testing.T) {
	f, _ := newTestFrame()

	state, err := f.InitState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Uninitialized, state)
	assert.Equal(t, "uninitialized", state.String())
}
