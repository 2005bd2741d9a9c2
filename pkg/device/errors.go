package device

import (
	"errors"
	"fmt"
)

// ErrorKind classifies device failures into the closed set callers are
// allowed to branch on. Anything a driver cannot classify maps to
// KindTransport.
type ErrorKind int

const (
	// KindTransport covers channel-level failures: device unplugged,
	// HID read/write errors, open failures. Retryable.
	KindTransport ErrorKind = iota

	// KindUnsupported means the device answered but cannot serve the
	// request (wrong app open, firmware too old, unknown instruction).
	// Not retryable.
	KindUnsupported

	// KindBusy means the device is occupied with another exchange,
	// typically a pending user prompt. The device is alive.
	KindBusy

	// KindRejected means the user declined the request on the device.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnsupported:
		return "unsupported"
	case KindBusy:
		return "busy"
	case KindRejected:
		return "rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified device failure. Drivers wrap their raw errors
// in one of these so pkg/session can branch on Kind alone.
type Error struct {
	Kind ErrorKind
	Op   string // the exchange that failed, e.g. "sign payload"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("device: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("device: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a classified device error. The format arguments become
// the underlying cause.
func Errf(kind ErrorKind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields a bare
// classified error rather than nil, since the kind itself is the
// information.
func Wrap(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from err. The second return is
// false when err carries no device classification, in which case
// callers should treat it as KindTransport.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return KindTransport, false
}

// IsUnsupported reports whether err is classified KindUnsupported.
func IsUnsupported(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindUnsupported
}

// IsBusy reports whether err is classified KindBusy.
func IsBusy(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindBusy
}

// IsRejected reports whether err is classified KindRejected.
func IsRejected(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRejected
}
