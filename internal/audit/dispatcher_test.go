package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stablecall/internal/ir"
)

type collector struct {
	mu     sync.Mutex
	events []ir.Event
}

func (c *collector) Handle(_ context.Context, ev ir.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) seqs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Seq
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(seq int64, kind ir.EventKind) ir.Event {
	return ir.Event{Seq: seq, Proxy: "proxy-1", Kind: kind, Data: ir.Object{}}
}

func TestDispatcher_DrainInOrder(t *testing.T) {
	c := &collector{}
	d := NewDispatcher(WithSink(c), WithLogger(testLogger()))

	assert.True(t, d.Publish(event(1, ir.EventInitialized), event(2, ir.EventStateChanged)))
	assert.True(t, d.Publish(event(3, ir.EventUpgraded)))
	assert.Equal(t, 3, d.Pending())

	require.NoError(t, d.Drain(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, c.seqs())
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_RunStops(t *testing.T) {
	c := &collector{}
	d := NewDispatcher(WithSink(c), WithLogger(testLogger()))

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	d.Publish(event(1, ir.EventInitialized))
	d.Publish(event(2, ir.EventUpgraded))
	d.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, []int64{1, 2}, c.seqs())
	assert.False(t, d.Publish(event(3, ir.EventUpgraded)))
}

func TestDispatcher_RunCancelled(t *testing.T) {
	d := NewDispatcher(WithLogger(testLogger()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDispatcher_FailingSinkDoesNotBlock(t *testing.T) {
	var logs bytes.Buffer
	c := &collector{}
	failing := SinkFunc(func(context.Context, ir.Event) error { return errors.New("sink down") })
	d := NewDispatcher(
		WithSink(failing),
		WithSink(c),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	d.Publish(event(1, ir.EventInitialized))
	require.NoError(t, d.Drain(context.Background()))

	assert.Equal(t, []int64{1}, c.seqs())
	assert.Contains(t, logs.String(), "sink down")
}

func TestLogSink(t *testing.T) {
	var logs bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&logs, nil)))

	ev := ir.Event{
		Seq:   7,
		Proxy: "proxy-1",
		Kind:  ir.EventUpgraded,
		Data:  ir.NewObject(ir.O("old", ir.String("aaa")), ir.O("new", ir.String("bbb"))),
	}
	require.NoError(t, sink.Handle(context.Background(), ev))

	out := logs.String()
	assert.Contains(t, out, "seq=7")
	assert.Contains(t, out, "kind=Upgraded")
	assert.Contains(t, out, "old=aaa")
	assert.Contains(t, out, "new=bbb")
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	require.NoError(t, m.Handle(context.Background(), event(1, ir.EventUpgraded)))
	require.NoError(t, m.Handle(context.Background(), event(2, ir.EventUpgraded)))
	m.ObserveCall("value", "ok", time.Millisecond)
	m.ObserveCall("upgradeTo", "UNAUTHORIZED", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsTotal.WithLabelValues("Upgraded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallsTotal.WithLabelValues("value", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallsTotal.WithLabelValues("upgradeTo", "UNAUTHORIZED")))
}
