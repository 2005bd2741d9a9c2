package devicesim

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// hardenedOffset marks a derivation index as hardened.
const hardenedOffset uint32 = 0x80000000

// seedFromMnemonic stretches a BIP-39 mnemonic sentence into a 64-byte
// seed. The sentence is used as entered; checksum validation is the
// wallet's job, not the device's.
func seedFromMnemonic(mnemonic, passphrase string) []byte {
	return pbkdf2.Key([]byte(mnemonic), []byte("mnemonic"+passphrase), 2048, 64, sha512.New)
}

// deriveKey walks the SLIP-10 ed25519 tree from seed along path and
// returns the private key at the leaf. Path segments look like "44'"
// and must all be hardened; ed25519 has no public derivation.
func deriveKey(seed []byte, path string) (ed25519.PrivateKey, error) {
	indices, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	key, chain := masterKey(seed)
	for _, index := range indices {
		key, chain = childKey(key, chain, index)
	}
	return ed25519.NewKeyFromSeed(key), nil
}

// masterKey computes the SLIP-10 master secret and chain code.
func masterKey(seed []byte) (key, chain []byte) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// childKey computes the hardened child of (key, chain) at index.
func childKey(key, chain []byte, index uint32) (childK, childC []byte) {
	var data [37]byte
	data[0] = 0x00
	copy(data[1:33], key)
	binary.BigEndian.PutUint32(data[33:], index)

	mac := hmac.New(sha512.New, chain)
	mac.Write(data[:])
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// parsePath splits a derivation path such as "44'/148'/0'" into
// hardened indices.
func parsePath(path string) ([]uint32, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("empty derivation path")
	}

	segments := strings.Split(trimmed, "/")
	indices := make([]uint32, 0, len(segments))
	for _, seg := range segments {
		hardened := strings.HasSuffix(seg, "'") || strings.HasSuffix(seg, "h")
		if !hardened {
			return nil, fmt.Errorf("segment %q: ed25519 derivation requires hardened segments", seg)
		}
		n, err := strconv.ParseUint(seg[:len(seg)-1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", seg, err)
		}
		if n >= uint64(hardenedOffset) {
			return nil, fmt.Errorf("segment %q: index out of range", seg)
		}
		indices = append(indices, uint32(n)|hardenedOffset)
	}
	return indices, nil
}
