package device

import (
	"context"
	"strconv"
	"strings"
)

// Opener acquires a channel to a signing device. Open blocks until the
// device is reachable or the context is done. Each successful call
// returns a fresh Transport owned exclusively by the caller.
type Opener interface {
	Open(ctx context.Context) (Transport, error)
}

// Transport is an open channel to a device. It is not safe for
// concurrent use; callers serialize access themselves. Close releases
// the underlying channel and invalidates any App bound to it.
type Transport interface {
	Close() error
}

// App is the signing application protocol spoken over a Transport.
// Calls are request/response exchanges; the device processes one
// exchange at a time.
type App interface {
	// PublicKey returns the ed25519 public key for the given
	// derivation path.
	PublicKey(ctx context.Context, path string) ([]byte, error)

	// Configuration reports the application's capabilities. It is
	// also the cheapest exchange the app supports, which makes it
	// the liveness probe of choice.
	Configuration(ctx context.Context) (Configuration, error)

	// SignPayload asks the device to sign payload with the key at
	// path. The device may prompt the user; the call blocks until
	// the user approves, rejects, or the context is done.
	SignPayload(ctx context.Context, path string, payload []byte) ([]byte, error)
}

// BindFunc attaches an application protocol to an open transport.
type BindFunc func(Transport) App

// Configuration describes a signing application's capabilities as
// reported by the device.
type Configuration struct {
	// Version is the application version in "major.minor.patch" form.
	Version string

	// MultiOpsEnabled reports whether the app signs transactions
	// containing more than one operation.
	MultiOpsEnabled bool

	// HashSigningEnabled reports whether blind hash signing is
	// switched on in the app settings.
	HashSigningEnabled bool
}

// VersionAtLeast reports whether the application version is at or
// above major.minor.patch. Unparsable versions compare as 0.0.0.
func (c Configuration) VersionAtLeast(major, minor, patch int) bool {
	got := parseVersion(c.Version)
	want := [3]int{major, minor, patch}
	for i := range got {
		if got[i] != want[i] {
			return got[i] > want[i]
		}
	}
	return true
}

func parseVersion(s string) [3]int {
	var v [3]int
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v
		}
		v[i] = n
	}
	return v
}
