package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/helionwallet/ledgerlink/pkg/clock"
	"github.com/helionwallet/ledgerlink/pkg/derive"
	"github.com/helionwallet/ledgerlink/pkg/device"
	"github.com/helionwallet/ledgerlink/pkg/trace"
	"github.com/helionwallet/ledgerlink/pkg/txn"
)

// Oldest signer app version the manager works with without warning.
const (
	minAppVersionMajor = 5
	minAppVersionMinor = 0
	minAppVersionPatch = 0
)

// Config configures a Manager.
type Config struct {
	// Opener opens transport channels to the device. Required.
	Opener device.Opener

	// Bind wraps an open transport in the signer app protocol.
	// Required.
	Bind device.BindFunc

	// Retry controls connect retries. Zero fields use defaults.
	Retry RetryPolicy

	// LivenessInterval is the pause between liveness probes against
	// a connected device. Defaults to DefaultLivenessInterval.
	LivenessInterval time.Duration

	// Clock supplies time. Defaults to the system clock. Tests
	// inject clock.Fake to drive retries deterministically.
	Clock clock.Clock

	// Logger receives operational log records. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Tracer captures the session protocol trace. Defaults to a
	// no-op logger.
	Tracer trace.Logger
}

// Manager owns the connection lifecycle for one hardware signing
// device. Methods are safe for concurrent use.
type Manager struct {
	opener           device.Opener
	bind             device.BindFunc
	retry            RetryPolicy
	livenessInterval time.Duration
	clk              clock.Clock
	logger           *slog.Logger
	tracer           trace.Logger

	// mu guards the session record and the attempt and teardown
	// markers.
	mu       sync.Mutex
	closed   bool
	session  *session
	attempt  *connectAttempt
	teardown *teardownJob

	// monitorHandle is the app handle the running liveness monitor
	// is bound to, nil when no monitor runs. Guarded by mu.
	monitorHandle device.App

	// exchMu serializes all exchanges with the device. The transport
	// carries one request at a time.
	exchMu sync.Mutex

	feed *feed
	wg   sync.WaitGroup
}

// New builds a Manager from cfg. Opener and Bind are required; every
// other field falls back to a default.
func New(cfg Config) (*Manager, error) {
	if cfg.Opener == nil {
		return nil, fmt.Errorf("session: config needs an Opener")
	}
	if cfg.Bind == nil {
		return nil, fmt.Errorf("session: config needs a Bind func")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = trace.NoopLogger{}
	}
	liveness := cfg.LivenessInterval
	if liveness <= 0 {
		liveness = DefaultLivenessInterval
	}
	return &Manager{
		opener:           cfg.Opener,
		bind:             cfg.Bind,
		retry:            cfg.Retry.normalized(),
		livenessInterval: liveness,
		clk:              clk,
		logger:           logger,
		tracer:           tracer,
		feed:             newFeed(),
	}, nil
}

// State reports what the manager is doing right now.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return StateClosed
	case m.teardown != nil:
		return StateDisconnecting
	case m.session != nil && len(m.session.publicKey) > 0:
		return StateConnected
	case m.attempt != nil:
		return StateConnecting
	default:
		return StateIdle
	}
}

// Session returns a snapshot of the established session, or ok=false
// when no session is connected.
func (m *Manager) Session() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || len(m.session.publicKey) == 0 {
		return Info{}, false
	}
	return m.session.infoLocked(), true
}

// IsConnected reports whether an authenticated session exists.
func (m *Manager) IsConnected() bool {
	_, ok := m.Session()
	return ok
}

// Subscribe attaches a new subscriber to the session event feed.
// buffer is the subscriber's channel capacity; values below 1 are
// raised to 1. Events beyond a full buffer are dropped for that
// subscriber only.
func (m *Manager) Subscribe(buffer int) *Subscription {
	return m.feed.subscribe(buffer)
}

// Connect establishes a session bound to target, retrying failed
// attempts until the retry budget runs out. Concurrent Connect calls
// share one in-flight attempt. If a session already exists on the same
// path, Connect returns its Info without touching the device; on a
// different path the session is retargeted and the attempt re-runs the
// handshake.
//
// Cancelling ctx detaches this caller only; the shared attempt keeps
// running for the others. Disconnect is the way to abort the attempt
// itself.
func (m *Manager) Connect(ctx context.Context, target Target) (*Info, error) {
	path, err := target.resolve()
	if err != nil {
		return nil, err
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		td := m.teardown
		if td == nil {
			break
		}
		m.mu.Unlock()
		<-td.done
	}
	// mu held from here.

	if s := m.session; s != nil && len(s.publicKey) > 0 {
		if s.path == path {
			info := s.infoLocked()
			m.mu.Unlock()
			return &info, nil
		}
		m.logger.Info("retargeting session",
			"from", s.path.String(), "to", path.String())
		m.traceState(s.id, "", s.path, StateConnected, StateConnecting, "retarget")
		m.softResetLocked()
	}
	if m.session == nil {
		m.session = newSession()
	}
	m.session.path = path

	att := m.attempt
	if att == nil {
		att = newConnectAttempt()
		m.attempt = att
		m.traceState(m.session.id, att.id, path, StateIdle, StateConnecting, "connect")
		m.wg.Add(1)
		go m.runAttempt(att, m.session)
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-att.done:
		if att.err != nil {
			return nil, att.err
		}
		info := *att.info
		return &info, nil
	}
}

// Disconnect tears the session down and aborts any in-flight connect
// attempt. Concurrent calls share one teardown. With nothing to tear
// down it returns immediately and fires no event.
func (m *Manager) Disconnect() {
	m.disconnect("requested")
}

func (m *Manager) disconnect(reason string) {
	m.mu.Lock()
	if td := m.teardown; td != nil {
		m.mu.Unlock()
		<-td.done
		return
	}

	att := m.attempt
	s := m.session
	if att == nil && (s == nil || (s.transport == nil && len(s.publicKey) == 0)) {
		// Nothing held anywhere. Drop a leftover blank record.
		if s != nil {
			s.cancel()
			m.session = nil
		}
		m.mu.Unlock()
		return
	}

	td := &teardownJob{done: make(chan struct{})}
	m.teardown = td
	if att != nil {
		close(att.cancel)
	}

	var (
		tr     device.Transport
		hadKey bool
		path   derive.Path
		pub    []byte
		sid    string
	)
	if s != nil {
		tr = s.transport
		hadKey = len(s.publicKey) > 0
		path = s.path
		pub = s.publicKey
		sid = s.id
		s.cancel()
		m.session = nil
	}
	m.mu.Unlock()

	if att != nil {
		<-att.done
	}
	if tr != nil {
		start := m.clk.Now()
		if err := tr.Close(); err != nil {
			m.logger.Warn("transport close failed", "error", err)
		}
		m.traceExchange(sid, "", path, trace.OpClose, m.clk.Now().Sub(start), 0, 0)
	}
	if hadKey {
		m.logger.Info("session disconnected",
			"path", path.String(), "reason", reason)
		m.traceState(sid, "", path, StateConnected, StateIdle, reason)
		m.feed.publish(Event{
			Type:      EventDisconnected,
			Path:      path,
			PublicKey: pub,
			Reason:    reason,
			Time:      m.clk.Now(),
		})
	}

	m.mu.Lock()
	m.teardown = nil
	m.mu.Unlock()
	close(td.done)
}

// Sign asks the device to sign tx's signature base and appends the
// resulting decorated signature to tx. It requires a live session and
// holds the exchange lock for the duration of the device round trip,
// which includes the user confirming on the device.
func (m *Manager) Sign(ctx context.Context, tx txn.Signable) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s := m.session
	if s == nil || len(s.publicKey) == 0 {
		m.mu.Unlock()
		return ErrNotConnected
	}
	app := s.app
	path := s.path
	sid := s.id
	pub := make([]byte, len(s.publicKey))
	copy(pub, s.publicKey)
	m.mu.Unlock()

	base, err := tx.SignatureBase()
	if err != nil {
		return fmt.Errorf("signature base: %w", err)
	}

	start := m.clk.Now()
	m.exchMu.Lock()
	sig, err := app.SignPayload(ctx, path.String(), base)
	m.exchMu.Unlock()
	if err != nil {
		m.traceError(sid, "", path, err, "sign")
		if device.IsRejected(err) {
			return fmt.Errorf("%w: %w", ErrSigningRejected, err)
		}
		return fmt.Errorf("sign payload: %w", err)
	}
	m.traceExchange(sid, "", path, trace.OpSignPayload, m.clk.Now().Sub(start), 0, len(base))

	dec, err := txn.Decorate(pub, sig)
	if err != nil {
		return err
	}
	tx.AppendSignature(dec)
	m.logger.Info("payload signed", "path", path.String(), "bytes", len(base))
	return nil
}

// Close disconnects, stops all background work, and closes every
// subscription channel. The manager is unusable afterwards. Safe to
// call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.disconnect("manager closed")
	m.wg.Wait()
	m.feed.close()
	return nil
}

// softResetLocked clears the session's identity while keeping its
// device handles, so the next handshake can reuse the open transport.
// Caller holds mu.
func (m *Manager) softResetLocked() {
	s := m.session
	if s == nil {
		return
	}
	s.path = ""
	s.publicKey = nil
	s.config = device.Configuration{}
	s.alive = false
}

func (m *Manager) traceState(sessionID, attemptID string, path derive.Path, from, to State, reason string) {
	m.tracer.Log(trace.Event{
		Timestamp: m.clk.Now(),
		SessionID: sessionID,
		AttemptID: attemptID,
		Category:  trace.CategoryState,
		Path:      path.String(),
		StateChange: &trace.StateChangeEvent{
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

func (m *Manager) traceExchange(sessionID, attemptID string, path derive.Path, op trace.ExchangeOp, elapsed time.Duration, attempt, payloadSize int) {
	m.tracer.Log(trace.Event{
		Timestamp: m.clk.Now(),
		SessionID: sessionID,
		AttemptID: attemptID,
		Category:  trace.CategoryExchange,
		Path:      path.String(),
		Exchange: &trace.ExchangeEvent{
			Op:          op,
			Elapsed:     &elapsed,
			Attempt:     attempt,
			PayloadSize: payloadSize,
		},
	})
}

func (m *Manager) traceError(sessionID, attemptID string, path derive.Path, err error, context string) {
	data := &trace.ErrorEventData{
		Message: err.Error(),
		Context: context,
	}
	if kind, ok := device.KindOf(err); ok {
		data.Kind = kind.String()
	}
	m.tracer.Log(trace.Event{
		Timestamp: m.clk.Now(),
		SessionID: sessionID,
		AttemptID: attemptID,
		Category:  trace.CategoryError,
		Path:      path.String(),
		Error:     data,
	})
}

// warnIfOldApp logs when the signer app on the device is older than
// the oldest version this package is tested against.
func (m *Manager) warnIfOldApp(cfg device.Configuration) {
	if cfg.VersionAtLeast(minAppVersionMajor, minAppVersionMinor, minAppVersionPatch) {
		return
	}
	m.logger.Warn("signer app is older than supported",
		"version", cfg.Version,
		"min", fmt.Sprintf("%d.%d.%d", minAppVersionMajor, minAppVersionMinor, minAppVersionPatch))
}
