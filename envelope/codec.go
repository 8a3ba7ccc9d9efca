package envelope

import (
	"encoding/binary"
	"fmt"
)

// envelopeHeaderSize is the fixed portion of the wire layout: sender public
// key (32) + ephemeral public key (32) + nonce (24) + ciphertext length
// (4, u32 LE) = 92 bytes (§3/§6's bincode-equivalent Envelope layout).
const envelopeHeaderSize = 32 + 32 + 24 + 4

// Encode serializes env to its fixed-layout wire form: sender public key,
// ephemeral public key, nonce, then a length-prefixed ciphertext. This is
// the bytes carried inside a DriftEnvelope's ciphertext field (§3, §6).
func Encode(env *Envelope) ([]byte, error) {
	if env.Size() > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: serialized envelope would be %d bytes (max %d)", ErrPayloadTooLarge, env.Size(), MaxEnvelopeSize)
	}

	buf := make([]byte, envelopeHeaderSize+len(env.Ciphertext))
	i := 0
	copy(buf[i:i+32], env.SenderPublicKey[:])
	i += 32
	copy(buf[i:i+32], env.EphemeralPublicKey[:])
	i += 32
	copy(buf[i:i+24], env.Nonce[:])
	i += 24
	binary.LittleEndian.PutUint32(buf[i:i+4], uint32(len(env.Ciphertext)))
	i += 4
	copy(buf[i:], env.Ciphertext)
	return buf, nil
}

// Decode parses an Envelope from its wire form. Per §8 property 3, any
// buffer longer than MaxEnvelopeSize fails before any parsing is attempted.
func Decode(buf []byte) (*Envelope, error) {
	if len(buf) > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: buffer %d bytes (max %d)", ErrPayloadTooLarge, len(buf), MaxEnvelopeSize)
	}
	if len(buf) < envelopeHeaderSize {
		return nil, fmt.Errorf("%w: envelope header", ErrBufferTooShort)
	}

	env := &Envelope{}
	i := 0
	copy(env.SenderPublicKey[:], buf[i:i+32])
	i += 32
	copy(env.EphemeralPublicKey[:], buf[i:i+32])
	i += 32
	copy(env.Nonce[:], buf[i:i+24])
	i += 24
	ctLen := int(binary.LittleEndian.Uint32(buf[i : i+4]))
	i += 4

	if len(buf)-i != ctLen {
		return nil, fmt.Errorf("%w: declared ciphertext length %d, remaining %d", ErrBufferTooShort, ctLen, len(buf)-i)
	}

	env.Ciphertext = make([]byte, ctLen)
	copy(env.Ciphertext, buf[i:])

	if env.Size() > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: serialized envelope is %d bytes (max %d)", ErrPayloadTooLarge, env.Size(), MaxEnvelopeSize)
	}
	return env, nil
}
