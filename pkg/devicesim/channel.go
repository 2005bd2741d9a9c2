package devicesim

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"sync"

	"github.com/helionwallet/ledgerlink/pkg/device"
)

// Channel is one open channel to the simulated device. It satisfies
// both device.Transport and device.App.
type Channel struct {
	sim *Simulator

	mu     sync.Mutex
	closed bool
}

// Close releases the channel. Safe to call more than once; only the
// first call counts.
func (c *Channel) Close() error {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	if wasClosed {
		return nil
	}

	c.sim.mu.Lock()
	c.sim.closes++
	c.sim.liveChannels--
	c.sim.mu.Unlock()
	return nil
}

// gate rejects exchanges on closed channels, then applies the
// simulator's fault switches.
func (c *Channel) gate(op string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return device.Errf(device.KindTransport, op, "channel closed")
	}
	return c.sim.gate(op)
}

// PublicKey returns the ed25519 public key for path.
func (c *Channel) PublicKey(ctx context.Context, path string) ([]byte, error) {
	const op = "public key"

	if err := ctx.Err(); err != nil {
		return nil, device.Wrap(device.KindTransport, op, err)
	}
	if err := c.gate(op); err != nil {
		return nil, err
	}

	key, err := c.sim.key(path)
	if err != nil {
		return nil, device.Wrap(device.KindUnsupported, op, err)
	}

	pub := key.Public().(ed25519.PublicKey)
	return append([]byte(nil), pub...), nil
}

// Configuration reports the simulated app's capabilities. While the
// stall switch is set the call blocks, mimicking a wedged device.
func (c *Channel) Configuration(ctx context.Context) (device.Configuration, error) {
	const op = "configuration"

	if release := c.sim.stallGate(); release != nil {
		select {
		case <-ctx.Done():
			return device.Configuration{}, device.Wrap(device.KindTransport, op, ctx.Err())
		case <-release:
		}
	}
	if err := ctx.Err(); err != nil {
		return device.Configuration{}, device.Wrap(device.KindTransport, op, err)
	}
	if err := c.gate(op); err != nil {
		return device.Configuration{}, err
	}

	c.sim.mu.Lock()
	c.sim.configs++
	cfg := device.Configuration{
		Version:            c.sim.cfg.Version,
		MultiOpsEnabled:    c.sim.cfg.MultiOpsEnabled,
		HashSigningEnabled: c.sim.cfg.HashSigningEnabled,
	}
	c.sim.mu.Unlock()
	return cfg, nil
}

// SignPayload signs sha256(payload) with the key at path, the way the
// hardware app hashes before signing.
func (c *Channel) SignPayload(ctx context.Context, path string, payload []byte) ([]byte, error) {
	const op = "sign payload"

	if err := ctx.Err(); err != nil {
		return nil, device.Wrap(device.KindTransport, op, err)
	}
	if err := c.gate(op); err != nil {
		return nil, err
	}

	c.sim.mu.Lock()
	reject := c.sim.rejectNextSign
	c.sim.rejectNextSign = false
	c.sim.mu.Unlock()
	if reject {
		return nil, device.Errf(device.KindRejected, op, "user declined on device")
	}

	key, err := c.sim.key(path)
	if err != nil {
		return nil, device.Wrap(device.KindUnsupported, op, err)
	}

	digest := sha256.Sum256(payload)
	sig := ed25519.Sign(key, digest[:])

	c.sim.mu.Lock()
	c.sim.signs++
	c.sim.mu.Unlock()
	return sig, nil
}

// Compile-time contract checks.
var (
	_ device.Transport = (*Channel)(nil)
	_ device.App       = (*Channel)(nil)
)
