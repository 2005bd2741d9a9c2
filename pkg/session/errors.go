package session

import "errors"

// Session errors.
var (
	// ErrNotConnected is returned by operations that need a live
	// session when there is none.
	ErrNotConnected = errors.New("no live device session")

	// ErrConnectTimeout is returned when a connect attempt exhausts
	// its retry budget. It wraps the last attempt error.
	ErrConnectTimeout = errors.New("connect retry budget exhausted")

	// ErrConnectAborted is returned to connect waiters when the
	// shared attempt is cancelled by Disconnect or Close.
	ErrConnectAborted = errors.New("connect attempt aborted")

	// ErrSigningRejected is returned when the user declines a
	// signing request on the device. It wraps the device error.
	ErrSigningRejected = errors.New("signing request rejected on device")

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("session manager closed")
)
