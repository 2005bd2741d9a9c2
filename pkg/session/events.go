package session

import (
	"sync"
	"time"

	"github.com/helionwallet/ledgerlink/pkg/derive"
)

// EventType identifies a session lifecycle event.
type EventType uint8

const (
	// EventConnected fires when a session finishes its handshake and
	// the device is ready to sign.
	EventConnected EventType = iota

	// EventDisconnected fires when an established session is torn
	// down, whether by request or by a liveness timeout.
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event describes one session lifecycle change.
type Event struct {
	Type      EventType
	Path      derive.Path
	PublicKey []byte

	// Reason is set on EventDisconnected and names what ended the
	// session, such as "requested" or "liveness timeout".
	Reason string

	Time time.Time
}

// Subscription is a cancellable handle on the manager's event feed.
// Events arrive on C. When the subscriber falls behind and its buffer
// fills, further events are dropped rather than blocking the manager.
type Subscription struct {
	// C delivers session events. It is closed when the subscription
	// is cancelled or the manager shuts down.
	C <-chan Event

	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes C. Safe to call more
// than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// feed fans session events out to subscribers.
type feed struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newFeed() *feed {
	return &feed{subs: make(map[chan Event]struct{})}
}

func (f *feed) subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	if f.closed {
		close(ch)
		f.mu.Unlock()
		return &Subscription{C: ch, cancel: func() {}}
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	return &Subscription{
		C:      ch,
		cancel: func() { f.remove(ch) },
	}
}

func (f *feed) remove(ch chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; !ok {
		return
	}
	delete(f.subs, ch)
	close(ch)
}

// publish delivers ev to every subscriber that has buffer space.
// Holding mu while sending keeps publish ordered against remove, so a
// send never races a close.
func (f *feed) publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
	}
	f.subs = make(map[chan Event]struct{})
}
