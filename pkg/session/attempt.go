package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/helionwallet/ledgerlink/pkg/derive"
	"github.com/helionwallet/ledgerlink/pkg/device"
	"github.com/helionwallet/ledgerlink/pkg/trace"
)

// errRetargeted aborts a handshake whose session was repointed at a
// different path mid-flight. The attempt loop retries immediately
// against the new path.
var errRetargeted = errors.New("session retargeted")

// connectAttempt is the one in-flight connect shared by every Connect
// caller. Waiters block on done; Disconnect aborts via cancel.
type connectAttempt struct {
	id     string
	cancel chan struct{}
	done   chan struct{}

	// Result, valid once done is closed.
	info *Info
	err  error
}

func newConnectAttempt() *connectAttempt {
	return &connectAttempt{
		id:     uuid.NewString(),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// teardownJob marks a disconnect in progress. Connect and Disconnect
// callers that arrive during one block on done.
type teardownJob struct {
	done chan struct{}
}

// runAttempt drives the retry loop for one shared connect attempt.
// The retry budget spans the whole attempt, including retargets.
func (m *Manager) runAttempt(att *connectAttempt, s *session) {
	defer m.wg.Done()

	start := m.clk.Now()
	var lastErr error
	for iteration := 1; ; iteration++ {
		select {
		case <-att.cancel:
			m.finishAttempt(att, nil, ErrConnectAborted)
			return
		default:
		}

		// The path is re-read every iteration so a retarget lands on
		// the next handshake.
		m.mu.Lock()
		if m.session != s || derive.IsEmpty(s.path) {
			m.mu.Unlock()
			m.finishAttempt(att, nil, ErrConnectAborted)
			return
		}
		path := s.path
		m.mu.Unlock()

		info, err := m.handshake(att, s, path, iteration)
		if err == nil {
			m.finishAttempt(att, info, nil)
			return
		}
		if errors.Is(err, errRetargeted) {
			continue
		}
		if device.IsUnsupported(err) {
			// The signer app is missing or locked out. Retrying
			// cannot fix that.
			m.mu.Lock()
			if m.session == s {
				m.softResetLocked()
			}
			if m.attempt == att {
				m.attempt = nil
			}
			m.mu.Unlock()
			m.traceState(s.id, att.id, path, StateConnecting, StateIdle, "unsupported app")
			m.finishAttempt(att, nil, err)
			return
		}
		lastErr = err

		if m.clk.Now().Sub(start) >= m.retry.Budget {
			m.mu.Lock()
			if m.session == s {
				m.softResetLocked()
			}
			if m.attempt == att {
				m.attempt = nil
			}
			m.mu.Unlock()
			m.logger.Warn("connect retry budget exhausted",
				"path", path.String(), "attempts", iteration)
			m.traceState(s.id, att.id, path, StateConnecting, StateIdle, "connect timeout")
			m.finishAttempt(att, nil, fmt.Errorf("%w: %w", ErrConnectTimeout, lastErr))
			return
		}

		select {
		case <-att.cancel:
			m.finishAttempt(att, nil, ErrConnectAborted)
			return
		case <-m.clk.After(m.retry.Interval):
		}
	}
}

// handshake runs one connect iteration: open the channel if none is
// held, fetch the account public key, fetch the app configuration, and
// commit the session. Every exchange goes through exchMu.
func (m *Manager) handshake(att *connectAttempt, s *session, path derive.Path, iteration int) (*Info, error) {
	m.mu.Lock()
	tr := s.transport
	app := s.app
	sctx := s.ctx
	m.mu.Unlock()

	if tr == nil {
		start := m.clk.Now()
		opened, err := m.opener.Open(sctx)
		elapsed := m.clk.Now().Sub(start)
		if err != nil {
			m.logger.Debug("channel open failed", "attempt", iteration, "error", err)
			m.traceError(s.id, att.id, path, err, "open")
			return nil, err
		}
		m.traceExchange(s.id, att.id, path, trace.OpOpen, elapsed, iteration, 0)
		app = m.bind(opened)

		m.mu.Lock()
		if m.session != s {
			m.mu.Unlock()
			_ = opened.Close()
			return nil, errRetargeted
		}
		s.transport = opened
		s.app = app
		m.mu.Unlock()
	}

	start := m.clk.Now()
	m.exchMu.Lock()
	pub, err := app.PublicKey(sctx, path.String())
	m.exchMu.Unlock()
	elapsed := m.clk.Now().Sub(start)
	if err != nil {
		m.logger.Debug("public key fetch failed", "attempt", iteration, "error", err)
		m.traceError(s.id, att.id, path, err, "public key")
		m.dropHandlesOnTransportErr(s, att.id, err)
		return nil, err
	}
	m.traceExchange(s.id, att.id, path, trace.OpPublicKey, elapsed, iteration, 0)

	start = m.clk.Now()
	m.exchMu.Lock()
	cfg, err := app.Configuration(sctx)
	m.exchMu.Unlock()
	elapsed = m.clk.Now().Sub(start)
	if err != nil {
		m.logger.Debug("configuration fetch failed", "attempt", iteration, "error", err)
		m.traceError(s.id, att.id, path, err, "configuration")
		m.dropHandlesOnTransportErr(s, att.id, err)
		return nil, err
	}
	m.traceExchange(s.id, att.id, path, trace.OpConfiguration, elapsed, iteration, 0)

	m.mu.Lock()
	if m.session != s || s.path != path {
		m.mu.Unlock()
		return nil, errRetargeted
	}
	s.publicKey = pub
	s.config = cfg
	s.connectedAt = m.clk.Now()
	s.alive = true
	info := s.infoLocked()
	m.armMonitorLocked(s)
	// Clear the attempt marker in the same critical section, so no
	// Connect can join an attempt that has already committed.
	if m.attempt == att {
		m.attempt = nil
	}
	m.mu.Unlock()

	m.warnIfOldApp(cfg)
	m.logger.Info("session connected",
		"path", path.String(), "version", cfg.Version, "attempts", iteration)
	m.traceState(s.id, att.id, path, StateConnecting, StateConnected, "handshake complete")
	m.feed.publish(Event{
		Type:      EventConnected,
		Path:      path,
		PublicKey: info.PublicKey,
		Time:      m.clk.Now(),
	})
	return &info, nil
}

// dropHandlesOnTransportErr closes the session's device handles after
// a transport-level failure so the next iteration reopens the channel.
// Busy, unsupported, and rejected answers keep the handles; those come
// from a channel that still works.
func (m *Manager) dropHandlesOnTransportErr(s *session, attemptID string, err error) {
	if kind, ok := device.KindOf(err); ok && kind != device.KindTransport {
		return
	}
	m.mu.Lock()
	if m.session != s || s.transport == nil {
		m.mu.Unlock()
		return
	}
	tr := s.transport
	path := s.path
	s.transport = nil
	s.app = nil
	m.mu.Unlock()

	if cerr := tr.Close(); cerr != nil {
		m.logger.Debug("transport close failed", "error", cerr)
	}
	m.traceExchange(s.id, attemptID, path, trace.OpClose, 0, 0, 0)
}

// finishAttempt publishes the attempt result and wakes all waiters.
func (m *Manager) finishAttempt(att *connectAttempt, info *Info, err error) {
	att.info = info
	att.err = err
	m.mu.Lock()
	if m.attempt == att {
		m.attempt = nil
	}
	m.mu.Unlock()
	close(att.done)
}
