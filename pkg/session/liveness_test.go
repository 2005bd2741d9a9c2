package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// All three tests drive the monitor round by round: wait for its timer,
// advance the clock one interval, and synchronize on the probe's trace
// event before the next round.

func TestLivenessTimeoutTearsSessionDown(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	_, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	ev := recvEvent(t, sub)
	assert.Equal(t, EventConnected, ev.Type)

	f.traces.waitFor(t, "liveness probe", 1, isProbeSuccess)
	f.sim.StallConfiguration(true)

	// The first interval ends with the last successful probe still
	// counted; the next probe hangs, so the interval after that one
	// ends the session.
	f.clk.WaitForTimers(1)
	f.clk.Advance(time.Second)
	f.clk.WaitForTimers(1)
	f.clk.Advance(time.Second)

	ev = recvEvent(t, sub)
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.Equal(t, "liveness timeout", ev.Reason)

	assert.False(t, f.mgr.IsConnected())
	assert.Equal(t, StateIdle, f.mgr.State())
	assert.Equal(t, 0, f.sim.LiveChannels(), "teardown must release the channel")
	assertNoEvent(t, sub)

	f.sim.StallConfiguration(false)
}

func TestBusyDeviceCountsAsAlive(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	_, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	recvEvent(t, sub)

	f.traces.waitFor(t, "liveness probe", 1, isProbeSuccess)
	f.sim.SetBusy(true)

	for round := 1; round <= 3; round++ {
		f.clk.WaitForTimers(1)
		f.clk.Advance(time.Second)
		f.traces.waitFor(t, "busy probe", round, isBusyProbe)
	}

	assert.True(t, f.mgr.IsConnected(), "a busy device is still a present device")
	assertNoEvent(t, sub)

	f.sim.SetBusy(false)
}

func TestUnplugDisconnectsAndReplugReconnects(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	_, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	recvEvent(t, sub)

	f.traces.waitFor(t, "liveness probe", 1, isProbeSuccess)
	f.sim.Unplug()

	f.clk.WaitForTimers(1)
	f.clk.Advance(time.Second)
	f.clk.WaitForTimers(1)
	f.clk.Advance(time.Second)

	ev := recvEvent(t, sub)
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.Equal(t, "liveness timeout", ev.Reason)
	assert.Equal(t, 0, f.sim.LiveChannels())

	f.sim.Replug()
	_, err = f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	assert.Equal(t, 2, f.sim.Opens(), "a fresh channel after the old one died")

	ev = recvEvent(t, sub)
	assert.Equal(t, EventConnected, ev.Type)
}
