// Package identity manages the node's signing keypair and derives its peer id.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidKeyBytes is returned when key material of the wrong length is supplied to FromBytes.
var ErrInvalidKeyBytes = errors.New("identity: invalid key bytes")

// ErrInvalidSignature is returned by Verify when the public key or signature is malformed.
var ErrInvalidSignature = errors.New("identity: invalid signature")

// Keys is a node's signing keypair plus its derived peer id. Secret material
// is wiped with Close once the keys are no longer needed.
type Keys struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// Generate creates a fresh random keypair.
func Generate() (*Keys, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &Keys{public: pub, private: priv}, nil
}

// FromBytes restores a keypair from its 64-byte ed25519 seed+public encoding,
// as produced by ToBytes.
func FromBytes(b []byte) (*Keys, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKeyBytes, ed25519.PrivateKeySize, len(b))
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, b)
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[32:])
	return &Keys{public: pub, private: priv}, nil
}

// ToBytes serializes the keypair to its 64-byte ed25519 private-key encoding
// (32-byte seed || 32-byte public key). Callers that persist this value are
// responsible for wiping their own copy; Close wipes the receiver's.
func (k *Keys) ToBytes() []byte {
	out := make([]byte, ed25519.PrivateKeySize)
	copy(out, k.private)
	return out
}

// Close wipes the private key material. The Keys value must not be used afterward.
func (k *Keys) Close() {
	clear(k.private)
}

// PublicKey returns the 32-byte Ed25519 public key.
func (k *Keys) PublicKey() ed25519.PublicKey {
	return k.public
}

// PublicKeyHex is the identity's externally-shown key.
func (k *Keys) PublicKeyHex() string {
	return hex.EncodeToString(k.public)
}

// PeerID derives the peer id as the SHA3-256 hash of the public key, hex encoded.
func (k *Keys) PeerID() string {
	return PeerIDFromPublicKey(k.public)
}

// PeerIDFromPublicKey derives a peer id from a raw public key, for use when
// verifying a remote peer's identity.
func PeerIDFromPublicKey(pub ed25519.PublicKey) string {
	h := sha3.Sum256(pub)
	return hex.EncodeToString(h[:])
}

// Sign signs data with the keypair's private key.
func (k *Keys) Sign(data []byte) []byte {
	return ed25519.Sign(k.private, data)
}

// Verify checks a signature against a raw public key.
func Verify(publicKey, data, signature []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: bad public key length %d", ErrInvalidSignature, len(publicKey))
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("%w: bad signature length %d", ErrInvalidSignature, len(signature))
	}
	return ed25519.Verify(publicKey, data, signature), nil
}
