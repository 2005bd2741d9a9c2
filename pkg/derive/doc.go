// Package derive maps account identifiers to canonical derivation paths.
//
// A signing device exposes one key pair per derivation path. Wallets
// address accounts either by a 1-based account number (account 1 is the
// device's primary key) or by an explicit path string. This package
// normalizes both forms to the canonical representation used as the
// session identity key by pkg/session.
//
// All functions are pure and safe for concurrent use.
package derive
