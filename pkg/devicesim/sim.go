package devicesim

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/helionwallet/ledgerlink/pkg/device"
)

// TestMnemonic is the well-known BIP-39 test sentence. DefaultConfig
// uses it so simulated devices across runs hold the same keys.
const TestMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// Config configures a Simulator.
type Config struct {
	// Mnemonic is the BIP-39 sentence the device keys derive from.
	// Mutually exclusive with Seed.
	Mnemonic string

	// Passphrase is the optional BIP-39 passphrase.
	Passphrase string

	// Seed is a raw master seed (16-64 bytes). Mutually exclusive
	// with Mnemonic.
	Seed []byte

	// Version is the application version reported by Configuration.
	Version string

	// MultiOpsEnabled is reported by Configuration.
	MultiOpsEnabled bool

	// HashSigningEnabled is reported by Configuration.
	HashSigningEnabled bool
}

// DefaultConfig returns a Config with the well-known test mnemonic and
// a capability set matching a current signing app.
func DefaultConfig() Config {
	return Config{
		Mnemonic:           TestMnemonic,
		Version:            "5.4.1",
		MultiOpsEnabled:    true,
		HashSigningEnabled: true,
	}
}

// Simulator is an in-process signing device. It implements
// device.Opener; channels obtained from Open implement device.App.
type Simulator struct {
	cfg  Config
	seed []byte

	mu             sync.Mutex
	keys           map[string]ed25519.PrivateKey
	unplugged      bool
	failOpens      int
	busy           bool
	unsupported    bool
	rejectNextSign bool
	stallRelease   chan struct{} // non-nil while configuration calls stall

	opens        int
	closes       int
	signs        int
	configs      int
	liveChannels int
}

// New creates a Simulator from cfg. Exactly one of Mnemonic or Seed
// must be set.
func New(cfg Config) (*Simulator, error) {
	hasMnemonic := cfg.Mnemonic != ""
	hasSeed := len(cfg.Seed) > 0

	switch {
	case hasMnemonic && hasSeed:
		return nil, fmt.Errorf("devicesim: configure either Mnemonic or Seed, not both")
	case !hasMnemonic && !hasSeed:
		return nil, fmt.Errorf("devicesim: either Mnemonic or Seed is required")
	}

	var seed []byte
	if hasSeed {
		if len(cfg.Seed) < 16 || len(cfg.Seed) > 64 {
			return nil, fmt.Errorf("devicesim: seed must be 16-64 bytes, got %d", len(cfg.Seed))
		}
		seed = append([]byte(nil), cfg.Seed...)
	} else {
		seed = seedFromMnemonic(cfg.Mnemonic, cfg.Passphrase)
	}

	return &Simulator{
		cfg:  cfg,
		seed: seed,
		keys: make(map[string]ed25519.PrivateKey),
	}, nil
}

// Open acquires a channel to the simulated device. Fails while the
// device is unplugged or while a FailOpens budget remains.
func (s *Simulator) Open(ctx context.Context) (device.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, device.Wrap(device.KindTransport, "open", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOpens > 0 {
		s.failOpens--
		return nil, device.Errf(device.KindTransport, "open", "no device found")
	}
	if s.unplugged {
		return nil, device.Errf(device.KindTransport, "open", "no device found")
	}

	s.opens++
	s.liveChannels++
	return &Channel{sim: s}, nil
}

// Bind attaches the signing application protocol to a channel obtained
// from this simulator's Open. It is the device.BindFunc for simulated
// sessions.
func (s *Simulator) Bind(t device.Transport) device.App {
	ch, ok := t.(*Channel)
	if !ok || ch.sim != s {
		panic("devicesim: Bind on a transport from another opener")
	}
	return ch
}

// key returns the cached private key for path, deriving on first use.
func (s *Simulator) key(path string) (ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[path]; ok {
		return k, nil
	}
	k, err := deriveKey(s.seed, path)
	if err != nil {
		return nil, err
	}
	s.keys[path] = k
	return k, nil
}

// gate implements the shared fault switches for every exchange.
func (s *Simulator) gate(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unplugged {
		return device.Errf(device.KindTransport, op, "device not present")
	}
	if s.unsupported {
		return device.Errf(device.KindUnsupported, op, "signing app not open")
	}
	if s.busy {
		return device.Errf(device.KindBusy, op, "another exchange pending on device")
	}
	return nil
}

// stallGate returns the release channel configuration calls must wait
// on, or nil when not stalling.
func (s *Simulator) stallGate() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stallRelease
}

// FailOpens makes the next n Open calls fail with a transport error.
func (s *Simulator) FailOpens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpens = n
}

// Unplug simulates pulling the cable: opens fail and exchanges on
// existing channels return transport errors.
func (s *Simulator) Unplug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unplugged = true
}

// Replug restores the device after Unplug.
func (s *Simulator) Replug() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unplugged = false
}

// SetBusy controls the busy switch. While set, every exchange returns
// a busy-classified error.
func (s *Simulator) SetBusy(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = on
}

// SetUnsupported controls the wrong-app switch. While set, every
// exchange returns an unsupported-classified error.
func (s *Simulator) SetUnsupported(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsupported = on
}

// RejectNextSign makes the next SignPayload fail as if the user
// declined on the device. One-shot.
func (s *Simulator) RejectNextSign() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNextSign = true
}

// StallConfiguration controls the stalled-probe switch. While set,
// Configuration calls block until the switch is cleared or their
// context ends; they return neither success nor a prompt reply, the
// way a wedged device behaves.
func (s *Simulator) StallConfiguration(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if on {
		if s.stallRelease == nil {
			s.stallRelease = make(chan struct{})
		}
		return
	}
	if s.stallRelease != nil {
		close(s.stallRelease)
		s.stallRelease = nil
	}
}

// Opens returns the number of successful channel opens.
func (s *Simulator) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Closes returns the number of channel closes.
func (s *Simulator) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Signs returns the number of successful signing exchanges.
func (s *Simulator) Signs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signs
}

// ConfigurationFetches returns the number of successful configuration
// exchanges.
func (s *Simulator) ConfigurationFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs
}

// LiveChannels returns the number of channels opened and not yet
// closed. A disconnected session must leave this at zero.
func (s *Simulator) LiveChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveChannels
}

// Compile-time contract check.
var _ device.Opener = (*Simulator)(nil)
