package txn

import "fmt"

// HintLen is the length of a signature hint in bytes.
const HintLen = 4

// Signable is any value a device session can sign: it produces the
// byte string the device operates on and collects the resulting
// decorated signatures.
type Signable interface {
	// SignatureBase returns the bytes to present to the device.
	SignatureBase() ([]byte, error)

	// AppendSignature attaches a signature produced for this value.
	AppendSignature(sig DecoratedSignature)
}

// Payload is the simplest Signable: raw bytes plus the signatures
// collected for them.
type Payload struct {
	// Base is the signature base, used as-is.
	Base []byte

	// Signatures holds appended signatures in arrival order.
	Signatures []DecoratedSignature
}

func (p *Payload) SignatureBase() ([]byte, error) { return p.Base, nil }

func (p *Payload) AppendSignature(sig DecoratedSignature) {
	p.Signatures = append(p.Signatures, sig)
}

// DecoratedSignature pairs a device signature with the hint that tells
// envelope validators which signer produced it.
type DecoratedSignature struct {
	// Hint is the last HintLen bytes of the signer's public key.
	Hint [HintLen]byte

	// Signature is the raw ed25519 signature from the device.
	Signature []byte
}

// SignatureHint derives the hint for a signer's public key. The key
// must be at least HintLen bytes; ed25519 keys are 32.
func SignatureHint(publicKey []byte) ([HintLen]byte, error) {
	var hint [HintLen]byte
	if len(publicKey) < HintLen {
		return hint, fmt.Errorf("public key too short for hint: %d bytes", len(publicKey))
	}
	copy(hint[:], publicKey[len(publicKey)-HintLen:])
	return hint, nil
}

// Decorate assembles a DecoratedSignature from a signer's public key
// and a raw device signature.
func Decorate(publicKey, signature []byte) (DecoratedSignature, error) {
	hint, err := SignatureHint(publicKey)
	if err != nil {
		return DecoratedSignature{}, err
	}
	return DecoratedSignature{Hint: hint, Signature: signature}, nil
}

// Compile-time contract check.
var _ Signable = (*Payload)(nil)
