package derive

import (
	"errors"
	"fmt"
	"strings"
)

// PathPrefix is the fixed derivation prefix for numbered accounts
// (BIP-44 purpose, SLIP-44 coin type). Account n lives at
// PathPrefix/<n-1>'.
const PathPrefix = "44'/148'"

// ErrInvalidAccount indicates an account number below 1.
var ErrInvalidAccount = errors.New("invalid account number")

// Path is a canonical derivation path. The root marker ("m/") is never
// part of a Path; device protocols expect the bare segment form.
type Path string

// String returns the path as a plain string.
func (p Path) String() string { return string(p) }

// Account resolves a 1-based account number to its derivation path.
// Account 1 maps to the device's primary key (hardened index 0).
// Numbers below 1 fail with ErrInvalidAccount.
func Account(n int) (Path, error) {
	if n < 1 {
		return "", fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidAccount, n)
	}
	return Path(fmt.Sprintf("%s/%d'", PathPrefix, n-1)), nil
}

// Parse normalizes an explicit path string. A leading root marker
// ("m/" or "M/") is stripped; the remainder is returned as-is, since
// the device is the authority on which paths it accepts.
func Parse(s string) Path {
	if len(s) >= 2 && (s[0] == 'm' || s[0] == 'M') && s[1] == '/' {
		s = s[2:]
	}
	return Path(s)
}

// IsEmpty reports whether the path carries no segments at all.
func IsEmpty(p Path) bool {
	return strings.TrimSpace(string(p)) == ""
}
