// Package envelope implements the crypto envelope pipeline: construction and
// decryption of the plaintext-sealed unit carried over the wire (§4.1).
package envelope

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cvsouth/driftmesh/identity"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Error kinds from spec.md §7, scoped to the envelope/message layer.
var (
	ErrPayloadTooLarge   = errors.New("envelope: payload too large")
	ErrCryptoAuth        = errors.New("envelope: decryption authentication failed")
	ErrInvalidPublicKey  = errors.New("envelope: invalid public key")
	ErrInvalidSignature  = errors.New("envelope: invalid signature")
	ErrBufferTooShort    = errors.New("envelope: buffer too short")
)

const (
	// MaxPayloadSize bounds the plaintext sealed by a single envelope (§4.1).
	MaxPayloadSize = 64 * 1024
	// MaxEnvelopeSize bounds a serialized Envelope on the wire (§6).
	MaxEnvelopeSize = 256 * 1024

	hkdfInfo = "driftmesh-envelope-v1"
)

// Envelope is the plaintext-sealed unit on the wire (§3). It is immutable
// once built and is decrypted at most once per recipient.
type Envelope struct {
	SenderPublicKey    [32]byte
	EphemeralPublicKey [32]byte
	Nonce              [24]byte
	Ciphertext         []byte
}

// Encrypt constructs an Envelope: it generates an ephemeral X25519 keypair,
// derives a shared secret with the recipient's public key, and seals the
// plaintext with XChaCha20-Poly1305. The sender's own public key is recorded
// for later verification by the recipient.
func Encrypt(sender *identity.Keys, recipientPublicKey ed25519.PublicKey, plaintext []byte) (*Envelope, error) {
	if len(plaintext) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(plaintext), MaxPayloadSize)
	}

	recipientX25519, err := publicToX25519(recipientPublicKey)
	if err != nil {
		return nil, err
	}

	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, fmt.Errorf("envelope: generate ephemeral key: %w", err)
	}
	defer clear(ephPriv[:])

	ephPub, err := x25519Base(ephPriv[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: derive ephemeral public key: %w", err)
	}

	shared, err := x25519(ephPriv[:], recipientX25519)
	if err != nil {
		return nil, fmt.Errorf("envelope: key agreement: %w", err)
	}
	defer clear(shared)

	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: construct aead: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("envelope: generate nonce: %w", err)
	}

	senderPub := sender.PublicKey()
	aad := make([]byte, 0, 64)
	aad = append(aad, senderPub...)
	aad = append(aad, ephPub...)

	ciphertext := aead.Seal(nil, nonce[:], plaintext, aad)

	env := &Envelope{Nonce: nonce, Ciphertext: ciphertext}
	copy(env.SenderPublicKey[:], senderPub)
	copy(env.EphemeralPublicKey[:], ephPub)

	if env.Size() > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: serialized envelope would be %d bytes (max %d)", ErrPayloadTooLarge, env.Size(), MaxEnvelopeSize)
	}
	return env, nil
}

// Decrypt authenticates and opens an Envelope addressed to recipient. It
// fails with ErrCryptoAuth if the ciphertext, nonce, or AAD has been tampered.
func Decrypt(recipient *identity.Keys, recipientPrivate ed25519.PrivateKey, env *Envelope) ([]byte, error) {
	if env.Size() > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, env.Size(), MaxEnvelopeSize)
	}

	scalar := privateToX25519(recipientPrivate)
	defer clear(scalar)

	shared, err := x25519(scalar, env.EphemeralPublicKey[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: key agreement: %w", err)
	}
	defer clear(shared)

	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: construct aead: %w", err)
	}

	aad := make([]byte, 0, 64)
	aad = append(aad, env.SenderPublicKey[:]...)
	aad = append(aad, env.EphemeralPublicKey[:]...)

	plaintext, err := aead.Open(nil, env.Nonce[:], env.Ciphertext, aad)
	if err != nil {
		return nil, ErrCryptoAuth
	}
	return plaintext, nil
}

// Size estimates the serialized size of the envelope (fixed 32+32+24 header
// plus ciphertext), used for the §8 property-3 size guard.
func (e *Envelope) Size() int {
	return 32 + 32 + 24 + len(e.Ciphertext)
}

func x25519(scalar, point []byte) ([]byte, error) {
	out, err := curve25519.X25519(scalar, point)
	if err != nil {
		return nil, err
	}
	if isZero(out) {
		return nil, fmt.Errorf("curve25519 scalar multiplication produced the all-zero point")
	}
	return out, nil
}

func x25519Base(scalar []byte) ([]byte, error) {
	return curve25519.X25519(scalar, curve25519.Basepoint)
}

func isZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

func deriveKey(shared []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("envelope: hkdf expand: %w", err)
	}
	return key, nil
}

// IsRecent reports whether timestamp t is within [0, threshold) seconds of
// now; future timestamps are never recent (§8 property 5).
func IsRecent(t, now time.Time, threshold time.Duration) bool {
	delta := now.Sub(t)
	return delta >= 0 && delta < threshold
}
