package envelope

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// publicToX25519 converts an Ed25519 public key to its birationally-equivalent
// Curve25519 (Montgomery) public key, the standard technique used to reuse a
// signing identity for X25519 key agreement without a second keypair.
func publicToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("envelope: bad ed25519 public key length %d", len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return p.BytesMontgomery(), nil
}

// privateToX25519 derives the Curve25519 private scalar corresponding to an
// Ed25519 private key, mirroring the internal key-schedule ed25519 itself
// uses (SHA-512 of the seed, clamped). The first 32 bytes of the hash are
// returned unclamped: curve25519.X25519 clamps its scalar argument on every
// call, which yields the same scalar ed25519 derives.
func privateToX25519(priv ed25519.PrivateKey) []byte {
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	scalar := make([]byte, 32)
	copy(scalar, h[:32])
	return scalar
}
