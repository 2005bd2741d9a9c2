package session

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helionwallet/ledgerlink/pkg/clock"
	"github.com/helionwallet/ledgerlink/pkg/device"
	"github.com/helionwallet/ledgerlink/pkg/devicesim"
	"github.com/helionwallet/ledgerlink/pkg/trace"
	"github.com/helionwallet/ledgerlink/pkg/txn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// traceCollector records trace events for assertions and lets tests
// wait until background goroutines have reached a known point.
type traceCollector struct {
	mu     sync.Mutex
	events []trace.Event
}

func (c *traceCollector) Log(ev trace.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *traceCollector) snapshot() []trace.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]trace.Event(nil), c.events...)
}

// waitFor blocks until at least min collected events match pred.
func (c *traceCollector) waitFor(t *testing.T, what string, min int, pred func(trace.Event) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n := 0
		for _, ev := range c.snapshot() {
			if pred(ev) {
				n++
			}
		}
		if n >= min {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events", min, what)
}

func isProbeSuccess(ev trace.Event) bool {
	return ev.Category == trace.CategoryExchange &&
		ev.Exchange != nil &&
		ev.Exchange.Op == trace.OpConfiguration &&
		ev.Exchange.Attempt == 0
}

func isBusyProbe(ev trace.Event) bool {
	return ev.Category == trace.CategoryError &&
		ev.Error != nil &&
		ev.Error.Context == "liveness probe" &&
		ev.Error.Kind == device.KindBusy.String()
}

type fixture struct {
	sim    *devicesim.Simulator
	clk    *clock.FakeClock
	traces *traceCollector
	mgr    *Manager
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	sim, err := devicesim.New(devicesim.DefaultConfig())
	require.NoError(t, err)

	f := &fixture{
		sim:    sim,
		clk:    clock.Fake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		traces: &traceCollector{},
	}
	cfg := Config{
		Opener: sim,
		Bind:   sim.Bind,
		Clock:  f.clk,
		Logger: testLogger(),
		Tracer: f.traces,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.mgr, err = New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.mgr.Close() })
	return f
}

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "event feed closed while waiting for an event")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a session event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected session event %s (reason %q)", ev.Type, ev.Reason)
	case <-time.After(50 * time.Millisecond):
	}
}

// gateOpener blocks Open until the gate is released, freezing a
// connect attempt at a known point.
type gateOpener struct {
	inner device.Opener
	gate  chan struct{}
}

func (g *gateOpener) Open(ctx context.Context) (device.Transport, error) {
	select {
	case <-g.gate:
		return g.inner.Open(ctx)
	case <-ctx.Done():
		return nil, device.Wrap(device.KindTransport, "open", ctx.Err())
	}
}

type connectResult struct {
	info *Info
	err  error
}

func TestNewValidatesConfig(t *testing.T) {
	sim, err := devicesim.New(devicesim.DefaultConfig())
	require.NoError(t, err)

	t.Run("missing opener", func(t *testing.T) {
		_, err := New(Config{Bind: sim.Bind})
		assert.Error(t, err)
	})

	t.Run("missing bind", func(t *testing.T) {
		_, err := New(Config{Opener: sim})
		assert.Error(t, err)
	})

	t.Run("defaults fill in", func(t *testing.T) {
		m, err := New(Config{Opener: sim, Bind: sim.Bind, Logger: testLogger()})
		require.NoError(t, err)
		defer m.Close()

		assert.Equal(t, StateIdle, m.State())
		assert.Equal(t, DefaultRetryInterval, m.retry.Interval)
		assert.Equal(t, DefaultRetryBudget, m.retry.Budget)
		assert.Equal(t, DefaultLivenessInterval, m.livenessInterval)
		assert.NotNil(t, m.clk)
		assert.NotNil(t, m.tracer)
	})
}

func TestConnectEstablishesSession(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	info, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.Equal(t, "44'/148'/0'", info.Path.String())
	assert.Len(t, info.PublicKey, ed25519.PublicKeySize)
	assert.Equal(t, "5.4.1", info.Configuration.Version)
	assert.NotEmpty(t, info.ID)
	assert.True(t, f.mgr.IsConnected())
	assert.Equal(t, StateConnected, f.mgr.State())
	assert.Equal(t, 1, f.sim.Opens())

	ev := recvEvent(t, sub)
	assert.Equal(t, EventConnected, ev.Type)
	assert.Equal(t, info.Path, ev.Path)
	assert.Equal(t, info.PublicKey, ev.PublicKey)
	assert.False(t, ev.Time.IsZero())
}

func TestConnectSamePathIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	first, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	recvEvent(t, sub)

	second, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, 1, f.sim.Opens(), "second connect must not touch the device")
	assertNoEvent(t, sub)
}

func TestConcurrentConnectsShareOneAttempt(t *testing.T) {
	var gate *gateOpener
	f := newFixture(t, func(cfg *Config) {
		gate = &gateOpener{inner: cfg.Opener, gate: make(chan struct{})}
		cfg.Opener = gate
	})
	sub := f.mgr.Subscribe(8)

	results := make(chan connectResult, 2)
	for n := 0; n < 2; n++ {
		go func() {
			info, err := f.mgr.Connect(context.Background(), Account(1))
			results <- connectResult{info: info, err: err}
		}()
	}

	require.Eventually(t, func() bool {
		return f.mgr.State() == StateConnecting
	}, 5*time.Second, time.Millisecond)
	close(gate.gate)

	r1 := <-results
	r2 := <-results
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, r1.info.ID, r2.info.ID)
	assert.Equal(t, r1.info.PublicKey, r2.info.PublicKey)
	assert.Equal(t, 1, f.sim.Opens(), "both callers must ride the same attempt")

	ev := recvEvent(t, sub)
	assert.Equal(t, EventConnected, ev.Type)
	assertNoEvent(t, sub)
}

func TestRetargetReusesOpenChannel(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	first, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	ev := recvEvent(t, sub)
	assert.Equal(t, EventConnected, ev.Type)

	second, err := f.mgr.Connect(context.Background(), Account(2))
	require.NoError(t, err)

	assert.Equal(t, "44'/148'/1'", second.Path.String())
	assert.NotEqual(t, first.PublicKey, second.PublicKey)
	assert.Equal(t, 1, f.sim.Opens(), "retarget must reuse the open channel")
	assert.Equal(t, 0, f.sim.Closes())

	got, ok := f.mgr.Session()
	require.True(t, ok)
	assert.Equal(t, second.Path, got.Path)

	ev = recvEvent(t, sub)
	assert.Equal(t, EventConnected, ev.Type)
	assert.Equal(t, second.Path, ev.Path)
	assertNoEvent(t, sub)
}

func TestRetargetDuringConnectWinsOverFirstPath(t *testing.T) {
	var gate *gateOpener
	f := newFixture(t, func(cfg *Config) {
		gate = &gateOpener{inner: cfg.Opener, gate: make(chan struct{})}
		cfg.Opener = gate
	})

	results := make(chan connectResult, 1)
	go func() {
		info, err := f.mgr.Connect(context.Background(), Account(1))
		results <- connectResult{info: info, err: err}
	}()
	require.Eventually(t, func() bool {
		return f.mgr.State() == StateConnecting
	}, 5*time.Second, time.Millisecond)

	retargeted := make(chan connectResult, 1)
	go func() {
		info, err := f.mgr.Connect(context.Background(), Account(2))
		retargeted <- connectResult{info: info, err: err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.gate)

	r2 := <-retargeted
	require.NoError(t, r2.err)
	assert.Equal(t, "44'/148'/1'", r2.info.Path.String())

	r1 := <-results
	require.NoError(t, r1.err)

	got, ok := f.mgr.Session()
	require.True(t, ok)
	assert.Equal(t, "44'/148'/1'", got.Path.String())
	assert.Equal(t, 1, f.sim.Opens())
}

func TestConnectRetriesUntilDeviceAppears(t *testing.T) {
	f := newFixture(t)
	f.sim.FailOpens(3)

	results := make(chan connectResult, 1)
	go func() {
		info, err := f.mgr.Connect(context.Background(), Account(1))
		results <- connectResult{info: info, err: err}
	}()

	for n := 0; n < 3; n++ {
		f.clk.WaitForTimers(1)
		f.clk.Advance(time.Second)
	}

	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, 1, f.sim.Opens())
	assert.True(t, f.mgr.IsConnected())
}

func TestConnectFailsAfterRetryBudget(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)
	f.sim.Unplug()

	results := make(chan connectResult, 1)
	go func() {
		info, err := f.mgr.Connect(context.Background(), Account(1))
		results <- connectResult{info: info, err: err}
	}()

	for n := 0; n < 25; n++ {
		f.clk.WaitForTimers(1)
		f.clk.Advance(time.Second)
	}

	r := <-results
	require.ErrorIs(t, r.err, ErrConnectTimeout)
	kind, ok := device.KindOf(r.err)
	require.True(t, ok, "the last device error must stay in the chain")
	assert.Equal(t, device.KindTransport, kind)

	assert.Equal(t, StateIdle, f.mgr.State())
	assert.Equal(t, 0, f.sim.Opens())
	assertNoEvent(t, sub)
}

func TestConnectCallerDetachesOnContextCancel(t *testing.T) {
	var gate *gateOpener
	f := newFixture(t, func(cfg *Config) {
		gate = &gateOpener{inner: cfg.Opener, gate: make(chan struct{})}
		cfg.Opener = gate
	})
	sub := f.mgr.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan connectResult, 1)
	go func() {
		info, err := f.mgr.Connect(ctx, Account(1))
		results <- connectResult{info: info, err: err}
	}()
	require.Eventually(t, func() bool {
		return f.mgr.State() == StateConnecting
	}, 5*time.Second, time.Millisecond)

	cancel()
	r := <-results
	require.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, StateConnecting, f.mgr.State(), "the attempt must outlive its waiter")

	close(gate.gate)
	ev := recvEvent(t, sub)
	assert.Equal(t, EventConnected, ev.Type)
	assert.True(t, f.mgr.IsConnected())
}

func TestDisconnectAbortsConnect(t *testing.T) {
	var gate *gateOpener
	f := newFixture(t, func(cfg *Config) {
		gate = &gateOpener{inner: cfg.Opener, gate: make(chan struct{})}
		cfg.Opener = gate
	})
	sub := f.mgr.Subscribe(8)

	results := make(chan connectResult, 1)
	go func() {
		info, err := f.mgr.Connect(context.Background(), Account(1))
		results <- connectResult{info: info, err: err}
	}()
	require.Eventually(t, func() bool {
		return f.mgr.State() == StateConnecting
	}, 5*time.Second, time.Millisecond)

	f.mgr.Disconnect()

	r := <-results
	require.ErrorIs(t, r.err, ErrConnectAborted)
	assert.Equal(t, StateIdle, f.mgr.State())
	assert.Equal(t, 0, f.sim.Opens())
	assertNoEvent(t, sub)
}

func TestDisconnectReleasesEverything(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	info, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	recvEvent(t, sub)

	f.mgr.Disconnect()

	ev := recvEvent(t, sub)
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.Equal(t, "requested", ev.Reason)
	assert.Equal(t, info.Path, ev.Path)
	assert.Equal(t, info.PublicKey, ev.PublicKey)

	assert.False(t, f.mgr.IsConnected())
	assert.Equal(t, StateIdle, f.mgr.State())
	assert.Equal(t, 1, f.sim.Closes())
	assert.Equal(t, 0, f.sim.LiveChannels())
}

func TestDisconnectWithoutSessionIsSilent(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	f.mgr.Disconnect()
	f.mgr.Disconnect()

	assert.Equal(t, StateIdle, f.mgr.State())
	assert.Equal(t, 0, f.sim.Opens())
	assert.Equal(t, 0, f.sim.Closes())
	assertNoEvent(t, sub)
}

func TestSignAppendsDecoratedSignature(t *testing.T) {
	f := newFixture(t)

	info, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)

	tx := &txn.Payload{Base: []byte("one lumen for luck")}
	require.NoError(t, f.mgr.Sign(context.Background(), tx))
	require.Len(t, tx.Signatures, 1)

	sig := tx.Signatures[0]
	assert.Equal(t, info.PublicKey[len(info.PublicKey)-txn.HintLen:], sig.Hint[:])

	digest := sha256.Sum256(tx.Base)
	assert.True(t,
		ed25519.Verify(ed25519.PublicKey(info.PublicKey), digest[:], sig.Signature),
		"signature must verify against the session key")
	assert.Equal(t, 1, f.sim.Signs())
}

func TestSignWithoutSessionFails(t *testing.T) {
	f := newFixture(t)

	tx := &txn.Payload{Base: []byte("never signed")}
	err := f.mgr.Sign(context.Background(), tx)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, tx.Signatures)
	assert.Equal(t, 0, f.sim.Signs())
}

func TestSignRejectionIsOneShot(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)

	f.sim.RejectNextSign()
	tx := &txn.Payload{Base: []byte("declined payload")}
	err = f.mgr.Sign(context.Background(), tx)
	require.ErrorIs(t, err, ErrSigningRejected)
	assert.True(t, device.IsRejected(err))
	assert.Empty(t, tx.Signatures)
	assert.True(t, f.mgr.IsConnected(), "a rejection must not end the session")

	require.NoError(t, f.mgr.Sign(context.Background(), tx))
	assert.Len(t, tx.Signatures, 1)
}

func TestUnsupportedAppFailsWithoutRetrying(t *testing.T) {
	f := newFixture(t)
	f.sim.SetUnsupported(true)

	_, err := f.mgr.Connect(context.Background(), Account(1))
	require.Error(t, err)
	assert.True(t, device.IsUnsupported(err))
	assert.NotErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, StateIdle, f.mgr.State())
	assert.Equal(t, 1, f.sim.Opens())

	// The channel itself is fine, so it is kept for the next try.
	f.sim.SetUnsupported(false)
	_, err = f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	assert.Equal(t, 1, f.sim.Opens())

	f.mgr.Disconnect()
	assert.Equal(t, 0, f.sim.LiveChannels())
}

func TestBusyDeviceRetriesOnSameChannel(t *testing.T) {
	f := newFixture(t)
	f.sim.SetBusy(true)

	results := make(chan connectResult, 1)
	go func() {
		info, err := f.mgr.Connect(context.Background(), Account(1))
		results <- connectResult{info: info, err: err}
	}()

	f.clk.WaitForTimers(1)
	f.sim.SetBusy(false)
	f.clk.Advance(time.Second)

	r := <-results
	require.NoError(t, r.err)
	assert.Equal(t, 1, f.sim.Opens())
	assert.Equal(t, 0, f.sim.Closes(), "a busy answer must not drop the channel")
}

func TestConnectWaitsOutStalledHandshake(t *testing.T) {
	f := newFixture(t)
	f.sim.StallConfiguration(true)

	results := make(chan connectResult, 1)
	go func() {
		info, err := f.mgr.Connect(context.Background(), Account(1))
		results <- connectResult{info: info, err: err}
	}()
	require.Eventually(t, func() bool {
		return f.mgr.State() == StateConnecting
	}, 5*time.Second, time.Millisecond)

	f.sim.StallConfiguration(false)
	r := <-results
	require.NoError(t, r.err)
	assert.True(t, f.mgr.IsConnected())
}

func TestCloseShutsEverythingDown(t *testing.T) {
	f := newFixture(t)
	sub := f.mgr.Subscribe(8)

	_, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)
	recvEvent(t, sub)

	require.NoError(t, f.mgr.Close())

	ev := recvEvent(t, sub)
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.Equal(t, "manager closed", ev.Reason)

	_, ok := <-sub.C
	assert.False(t, ok, "the feed must close with the manager")

	_, err = f.mgr.Connect(context.Background(), Account(1))
	assert.ErrorIs(t, err, ErrClosed)
	err = f.mgr.Sign(context.Background(), &txn.Payload{Base: []byte("x")})
	assert.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, StateClosed, f.mgr.State())
	assert.Equal(t, 0, f.sim.LiveChannels())
	require.NoError(t, f.mgr.Close())
}

func TestSessionSnapshotIsDetached(t *testing.T) {
	f := newFixture(t)

	info, err := f.mgr.Connect(context.Background(), Account(1))
	require.NoError(t, err)

	info.PublicKey[0] ^= 0xff
	fresh, ok := f.mgr.Session()
	require.True(t, ok)
	assert.NotEqual(t, info.PublicKey[0], fresh.PublicKey[0],
		"mutating a snapshot must not touch the session")
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateIdle:          "IDLE",
		StateConnecting:    "CONNECTING",
		StateConnected:     "CONNECTED",
		StateDisconnecting: "DISCONNECTING",
		StateClosed:        "CLOSED",
		State(99):          "UNKNOWN",
	} {
		assert.Equal(t, want, state.String())
	}
}
