package session

import (
	"context"
	"fmt"

	"github.com/helionwallet/ledgerlink/pkg/derive"
	"github.com/helionwallet/ledgerlink/pkg/device"
	"github.com/helionwallet/ledgerlink/pkg/trace"
)

// armMonitorLocked starts the liveness monitor for s unless one is
// already bound to the same app handle, which happens when a retarget
// reuses the open channel. Caller holds mu.
func (m *Manager) armMonitorLocked(s *session) {
	if m.monitorHandle == s.app {
		return
	}
	m.monitorHandle = s.app
	m.wg.Add(1)
	go m.monitor(s, s.app)
}

// monitor polls the device once per liveness interval and tears the
// session down when a whole interval passes without an answer. It
// exits when the session is replaced or torn down.
func (m *Manager) monitor(s *session, app device.App) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if m.monitorHandle == app {
			m.monitorHandle = nil
		}
		m.mu.Unlock()
	}()

	for {
		m.mu.Lock()
		if m.session != s || s.app != app {
			m.mu.Unlock()
			return
		}
		s.alive = false
		sctx := s.ctx
		sid := s.id
		path := s.path
		m.mu.Unlock()

		m.wg.Add(1)
		go m.probe(s, app, sctx, sid, path)

		select {
		case <-sctx.Done():
			return
		case <-m.clk.After(m.livenessInterval):
		}

		m.mu.Lock()
		if m.session != s || s.app != app {
			m.mu.Unlock()
			return
		}
		alive := s.alive
		m.mu.Unlock()

		if !alive {
			err := fmt.Errorf("no probe answer within %v", m.livenessInterval)
			m.logger.Warn("device stopped answering", "path", path.String())
			m.traceError(sid, "", path, err, "liveness")
			m.disconnect("liveness timeout")
			return
		}
	}
}

// probe runs one liveness exchange. A busy answer still proves the
// device is present, so busy counts as alive.
func (m *Manager) probe(s *session, app device.App, sctx context.Context, sid string, path derive.Path) {
	defer m.wg.Done()

	start := m.clk.Now()
	m.exchMu.Lock()
	_, err := app.Configuration(sctx)
	m.exchMu.Unlock()
	elapsed := m.clk.Now().Sub(start)

	if err != nil && !device.IsBusy(err) {
		m.logger.Debug("liveness probe failed",
			"path", path.String(), "error", err)
		m.traceError(sid, "", path, err, "liveness probe")
		return
	}

	// Mark alive before emitting the trace so anything watching the
	// trace sees the probe's effect already applied.
	m.mu.Lock()
	if m.session == s && s.app == app {
		s.alive = true
	}
	m.mu.Unlock()

	if err != nil {
		m.traceError(sid, "", path, err, "liveness probe")
		return
	}
	m.traceExchange(sid, "", path, trace.OpConfiguration, elapsed, 0, 0)
}
