package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helionwallet/ledgerlink/pkg/derive"
	"github.com/helionwallet/ledgerlink/pkg/device"
)

// State describes what the manager is doing.
type State uint8

const (
	// StateIdle means no session exists and nothing is in flight.
	StateIdle State = iota

	// StateConnecting means a connect attempt is running.
	StateConnecting

	// StateConnected means a session finished its handshake and the
	// device is ready to sign.
	StateConnected

	// StateDisconnecting means a teardown is in progress.
	StateDisconnecting

	// StateClosed means the manager has been closed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// session is the manager's record of the one logical session it owns.
// All fields are guarded by the manager's mu except ctx and cancel,
// which are set once at creation.
type session struct {
	id   string
	path derive.Path

	// Handshake results. publicKey doubles as the "authenticated"
	// marker: a session without it is still connecting.
	publicKey []byte
	config    device.Configuration

	// Device handles. A soft reset keeps these so a retargeted
	// connect can reuse the open transport.
	transport device.Transport
	app       device.App

	connectedAt time.Time

	// alive is cleared by the monitor before each probe round and
	// set again when the device answers.
	alive bool

	// ctx is cancelled at teardown so in-flight exchanges against
	// this session unblock promptly.
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Info is a caller-visible snapshot of an established session.
type Info struct {
	ID            string
	Path          derive.Path
	PublicKey     []byte
	Configuration device.Configuration
	ConnectedAt   time.Time
}

// infoLocked snapshots the session. Caller holds the manager's mu.
func (s *session) infoLocked() Info {
	pub := make([]byte, len(s.publicKey))
	copy(pub, s.publicKey)
	return Info{
		ID:            s.id,
		Path:          s.path,
		PublicKey:     pub,
		Configuration: s.config,
		ConnectedAt:   s.connectedAt,
	}
}
