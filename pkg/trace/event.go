package trace

import "time"

// Event represents one session trace event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID uniquely identifies the session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// AttemptID identifies the connect attempt the event belongs to
	// (UUID, empty outside connect attempts).
	AttemptID string `cbor:"3,keyasint,omitempty"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Path is the derivation path the session targets.
	Path string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	StateChange *StateChangeEvent `cbor:"6,keyasint,omitempty"`
	Exchange    *ExchangeEvent    `cbor:"7,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"8,keyasint,omitempty"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState indicates a session state change.
	CategoryState Category = 0
	// CategoryExchange indicates a device exchange.
	CategoryExchange Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryExchange:
		return "EXCHANGE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures a session lifecycle transition.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ExchangeEvent captures a single request/response with the device.
type ExchangeEvent struct {
	// Op is the exchange performed.
	Op ExchangeOp `cbor:"1,keyasint"`

	// Elapsed is the exchange duration. Stored as nanoseconds.
	Elapsed *time.Duration `cbor:"2,keyasint,omitempty"`

	// Attempt is the 1-based retry ordinal for exchanges inside a
	// connect attempt (0 outside one).
	Attempt int `cbor:"3,keyasint,omitempty"`

	// PayloadSize is the signature base length for sign exchanges.
	PayloadSize int `cbor:"4,keyasint,omitempty"`
}

// ExchangeOp identifies a device exchange.
type ExchangeOp uint8

const (
	// OpOpen indicates a channel open.
	OpOpen ExchangeOp = 0
	// OpPublicKey indicates a public key fetch.
	OpPublicKey ExchangeOp = 1
	// OpConfiguration indicates a configuration fetch.
	OpConfiguration ExchangeOp = 2
	// OpSignPayload indicates a signing request.
	OpSignPayload ExchangeOp = 3
	// OpClose indicates a channel close.
	OpClose ExchangeOp = 4
)

// String returns the exchange op name.
func (o ExchangeOp) String() string {
	switch o {
	case OpOpen:
		return "OPEN"
	case OpPublicKey:
		return "PUBLIC_KEY"
	case OpConfiguration:
		return "CONFIGURATION"
	case OpSignPayload:
		return "SIGN_PAYLOAD"
	case OpClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures a classified failure.
type ErrorEventData struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Kind is the device error classification (if applicable).
	Kind string `cbor:"2,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
