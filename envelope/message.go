package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cvsouth/driftmesh/identity"
)

// MessageType distinguishes the application payload sealed inside an
// Envelope. Supplemented from original_source/core/src/message/types.rs,
// dropped by the distilled spec but needed for a complete Receipt flow.
type MessageType uint8

const (
	MessageTypeText MessageType = iota + 1
	MessageTypeReceipt
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeText:
		return "Text"
	case MessageTypeReceipt:
		return "Receipt"
	default:
		return "Unknown"
	}
}

// DeliveryStatus tracks a message's progress through the mesh, used by the
// history collaborator interface (§6) — driftmesh only defines the status
// type, not the history store itself. Each stage is a separate flag; the
// flags are not mutually exclusive, so this is not a tagged union.
type DeliveryStatus struct {
	Sent      bool
	Delivered bool
	Read      bool
	Failed    string // non-empty reason if delivery failed
}

// Message is the plaintext payload sealed by Encrypt/Decrypt.
type Message struct {
	Type      MessageType
	Text      string
	ReceiptID [16]byte // referenced MessageId when Type == MessageTypeReceipt
	Timestamp time.Time
}

// NewTextMessage builds a Text message timestamped with now.
func NewTextMessage(text string, now time.Time) Message {
	return Message{Type: MessageTypeText, Text: text, Timestamp: now}
}

// NewReceipt builds a Receipt message acknowledging the given message id.
func NewReceipt(id [16]byte, now time.Time) Message {
	return Message{Type: MessageTypeReceipt, ReceiptID: id, Timestamp: now}
}

// IsRecentAt reports whether the message's own timestamp is recent relative
// to now, per §8 property 5.
func (m Message) IsRecentAt(now time.Time, threshold time.Duration) bool {
	return IsRecent(m.Timestamp, now, threshold)
}

// EncodeMessage serializes a Message to its wire form: 1-byte type, 8-byte
// unix-nano timestamp (LE), then type-specific fields.
func EncodeMessage(m Message) ([]byte, error) {
	switch m.Type {
	case MessageTypeText:
		if len([]byte(m.Text)) > MaxPayloadSize {
			return nil, fmt.Errorf("%w: text %d bytes (max %d)", ErrPayloadTooLarge, len(m.Text), MaxPayloadSize)
		}
		buf := make([]byte, 9+len(m.Text))
		buf[0] = byte(MessageTypeText)
		binary.LittleEndian.PutUint64(buf[1:9], uint64(m.Timestamp.UnixNano()))
		copy(buf[9:], m.Text)
		return buf, nil
	case MessageTypeReceipt:
		buf := make([]byte, 9+16)
		buf[0] = byte(MessageTypeReceipt)
		binary.LittleEndian.PutUint64(buf[1:9], uint64(m.Timestamp.UnixNano()))
		copy(buf[9:], m.ReceiptID[:])
		return buf, nil
	default:
		return nil, fmt.Errorf("envelope: unknown message type %d", m.Type)
	}
}

// ErrInvalidMessageType is returned by DecodeMessage for an unrecognized tag byte.
var ErrInvalidMessageType = errors.New("envelope: invalid message type")

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < 9 {
		return Message{}, fmt.Errorf("%w: message header", ErrBufferTooShort)
	}
	typ := MessageType(b[0])
	ts := time.Unix(0, int64(binary.LittleEndian.Uint64(b[1:9])))
	switch typ {
	case MessageTypeText:
		return Message{Type: typ, Text: string(b[9:]), Timestamp: ts}, nil
	case MessageTypeReceipt:
		if len(b) != 9+16 {
			return Message{}, fmt.Errorf("%w: receipt body", ErrBufferTooShort)
		}
		var id [16]byte
		copy(id[:], b[9:])
		return Message{Type: typ, ReceiptID: id, Timestamp: ts}, nil
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, typ)
	}
}

// SignedEnvelope wraps an Envelope with an outer Ed25519 signature, letting a
// relay authenticate the sender without decrypting the payload. Supplemented
// from original_source's SignedEnvelope (dropped by the distilled spec).
type SignedEnvelope struct {
	Envelope        *Envelope
	SenderPublicKey [32]byte
	Signature       [64]byte
}

// Sign produces a SignedEnvelope over env, signed by sender.
func Sign(sender *identity.Keys, env *Envelope) *SignedEnvelope {
	data := signedPayload(env)
	se := &SignedEnvelope{Envelope: env}
	copy(se.SenderPublicKey[:], sender.PublicKey())
	copy(se.Signature[:], sender.Sign(data))
	return se
}

// VerifySignature checks the outer signature against the embedded sender
// public key, without decrypting the inner envelope.
func VerifySignature(se *SignedEnvelope) (bool, error) {
	data := signedPayload(se.Envelope)
	return identity.Verify(se.SenderPublicKey[:], data, se.Signature[:])
}

func signedPayload(env *Envelope) []byte {
	buf := make([]byte, 0, 32+32+24+len(env.Ciphertext))
	buf = append(buf, env.SenderPublicKey[:]...)
	buf = append(buf, env.EphemeralPublicKey[:]...)
	buf = append(buf, env.Nonce[:]...)
	buf = append(buf, env.Ciphertext...)
	return buf
}
