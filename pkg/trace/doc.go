// Package trace provides structured capture of device session events.
//
// This package defines the Logger interface and Event types for recording
// what happened between the session manager and a signing device: state
// transitions, individual device exchanges, and errors. It is separate
// from operational logging (slog) - a trace is a complete machine-readable
// record suitable for replaying a support case.
//
// # Basic Usage
//
// Applications configure tracing by providing a Logger implementation:
//
//	// For development: mirror events to console via slog
//	cfg.Tracer = trace.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.Tracer, _ = trace.NewFileLogger("/var/log/ledgerlink/session.tlog")
//
//	// Both: use MultiLogger
//	cfg.Tracer = trace.NewMultiLogger(
//	    trace.NewSlogAdapter(slog.Default()),
//	    fileTracer,
//	)
//
// # Event Types
//
// Each event carries exactly one payload:
//   - StateChange: session lifecycle transitions
//   - Exchange: a single request/response with the device
//   - Error: a classified failure
//
// # File Format
//
// Trace files use CBOR encoding with .tlog extension. Reader streams
// events back with optional filtering.
package trace
