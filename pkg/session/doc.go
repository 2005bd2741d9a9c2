// Package session manages the connection lifecycle for one hardware
// signing device.
//
// A Manager owns at most one logical session, identified by the
// derivation path it targets. Connect establishes the session with
// retry-until-success semantics, a background monitor polls the device
// and tears the session down when it stops answering, and Sign runs
// the signing handshake against the live session. Connect and
// Disconnect are mutually exclusive: concurrent connects share one
// in-flight attempt, concurrent disconnects share one teardown, and a
// teardown always completes before the next attempt starts.
//
// Session lifecycle changes are announced on a multi-subscriber event
// feed (Subscribe) and captured as trace events when a trace.Logger is
// configured. All timing runs through an injected clock.Clock, so
// tests drive retries and liveness deterministically with clock.Fake.
package session
