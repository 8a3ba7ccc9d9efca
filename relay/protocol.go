// Package relay implements the store-and-forward protocol used when a
// recipient is offline: a handshake negotiates capabilities, StoreRequest
// hands envelopes to a relay, and PullRequest retrieves them later
// (§4.14-§4.15), grounded on original_source/core/src/relay/protocol.rs.
package relay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ProtocolVersion is the relay wire protocol's version, checked during
// handshake (§4.14).
const ProtocolVersion uint32 = 1

// Capability describes what a relay peer is willing to do (§4.14, §9).
type Capability struct {
	CanRelay    bool
	CanStore    bool
	HasInternet bool
	FullNode    bool
}

// FullRelay returns the capability set of an always-on, fully capable relay.
func FullRelay() Capability {
	return Capability{CanRelay: true, CanStore: true, HasInternet: true, FullNode: true}
}

// Mobile returns the capability set of a constrained, client-only node.
func Mobile() Capability {
	return Capability{HasInternet: true}
}

// IsRelay reports whether the peer both claims relay capability and has
// internet connectivity.
func (c Capability) IsRelay() bool { return c.CanRelay && c.HasInternet }

// IsStore reports whether the peer will accept store-and-forward requests.
func (c Capability) IsStore() bool { return c.CanStore && c.HasInternet }

// MessageType tags a RelayMessage as a closed union (§9).
type MessageType uint8

const (
	MessageHandshake MessageType = iota + 1
	MessageHandshakeAck
	MessageStoreRequest
	MessageStoreAck
	MessagePullRequest
	MessagePullResponse
	MessagePeerExchange
	MessagePing
	MessagePong
	MessageDisconnect
)

func (t MessageType) String() string {
	switch t {
	case MessageHandshake:
		return "Handshake"
	case MessageHandshakeAck:
		return "HandshakeAck"
	case MessageStoreRequest:
		return "StoreRequest"
	case MessageStoreAck:
		return "StoreAck"
	case MessagePullRequest:
		return "PullRequest"
	case MessagePullResponse:
		return "PullResponse"
	case MessagePeerExchange:
		return "PeerExchange"
	case MessagePing:
		return "Ping"
	case MessagePong:
		return "Pong"
	case MessageDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// PeerInfo is one relay's self-description as exchanged over PeerExchange.
type PeerInfo struct {
	PeerID           string
	Addresses        []string
	LastSeen         uint64
	ReliabilityScore float32
	Capabilities     Capability
}

// Message is the relay protocol's closed union, matching RelayMessage's
// variant set. Fields unused by a given Type are left zero.
type Message struct {
	Type MessageType

	// Handshake / HandshakeAck
	Version      uint32
	PeerID       string
	Capabilities Capability

	// StoreRequest
	Envelopes [][]byte

	// StoreAck
	Accepted uint32
	Rejected uint32

	// PullRequest
	SinceTimestamp uint64
	Hints          [][4]byte

	// PullResponse reuses Envelopes

	// PeerExchange
	KnownRelays []PeerInfo

	// Disconnect
	Reason string
}

var (
	ErrInvalidFormat           = errors.New("relay: invalid message format")
	ErrBufferTooShort          = errors.New("relay: buffer too short")
	ErrProtocolVersionMismatch = errors.New("relay: protocol version mismatch")
)

// Encode serializes a Message to its wire form: a 1-byte type tag followed
// by a type-specific body whose variable-length fields carry u32 LE length
// prefixes. The message as a whole carries no outer length prefix.
func Encode(m Message) ([]byte, error) {
	var buf []byte
	buf = append(buf, byte(m.Type))

	switch m.Type {
	case MessageHandshake, MessageHandshakeAck:
		buf = appendU32(buf, m.Version)
		buf = appendString(buf, m.PeerID)
		buf = appendCapability(buf, m.Capabilities)
	case MessageStoreRequest:
		buf = appendU32(buf, uint32(len(m.Envelopes)))
		for _, e := range m.Envelopes {
			buf = appendBytes(buf, e)
		}
	case MessageStoreAck:
		buf = appendU32(buf, m.Accepted)
		buf = appendU32(buf, m.Rejected)
	case MessagePullRequest:
		buf = appendU64(buf, m.SinceTimestamp)
		buf = appendU32(buf, uint32(len(m.Hints)))
		for _, h := range m.Hints {
			buf = append(buf, h[:]...)
		}
	case MessagePullResponse:
		buf = appendU32(buf, uint32(len(m.Envelopes)))
		for _, e := range m.Envelopes {
			buf = appendBytes(buf, e)
		}
	case MessagePeerExchange:
		buf = appendU32(buf, uint32(len(m.KnownRelays)))
		for _, p := range m.KnownRelays {
			buf = appendString(buf, p.PeerID)
			buf = appendU32(buf, uint32(len(p.Addresses)))
			for _, a := range p.Addresses {
				buf = appendString(buf, a)
			}
			buf = appendU64(buf, p.LastSeen)
			buf = appendU32(buf, float32bits(p.ReliabilityScore))
			buf = appendCapability(buf, p.Capabilities)
		}
	case MessagePing, MessagePong:
		// no body
	case MessageDisconnect:
		buf = appendString(buf, m.Reason)
	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrInvalidFormat, m.Type)
	}

	return buf, nil
}

// Decode parses a Message from its wire form.
func Decode(b []byte) (Message, error) {
	if len(b) < 1 {
		return Message{}, ErrBufferTooShort
	}
	m := Message{Type: MessageType(b[0])}
	rest := b[1:]
	var err error

	switch m.Type {
	case MessageHandshake, MessageHandshakeAck:
		m.Version, rest, err = takeU32(rest)
		if err != nil {
			return Message{}, err
		}
		m.PeerID, rest, err = takeString(rest)
		if err != nil {
			return Message{}, err
		}
		m.Capabilities, rest, err = takeCapability(rest)
		if err != nil {
			return Message{}, err
		}
	case MessageStoreRequest, MessagePullResponse:
		var n uint32
		n, rest, err = takeU32(rest)
		if err != nil {
			return Message{}, err
		}
		m.Envelopes = make([][]byte, 0, n)
		for i := uint32(0); i < n; i++ {
			var e []byte
			e, rest, err = takeBytes(rest)
			if err != nil {
				return Message{}, err
			}
			m.Envelopes = append(m.Envelopes, e)
		}
	case MessageStoreAck:
		m.Accepted, rest, err = takeU32(rest)
		if err != nil {
			return Message{}, err
		}
		m.Rejected, rest, err = takeU32(rest)
		if err != nil {
			return Message{}, err
		}
	case MessagePullRequest:
		m.SinceTimestamp, rest, err = takeU64(rest)
		if err != nil {
			return Message{}, err
		}
		var n uint32
		n, rest, err = takeU32(rest)
		if err != nil {
			return Message{}, err
		}
		if len(rest) < int(n)*4 {
			return Message{}, ErrBufferTooShort
		}
		m.Hints = make([][4]byte, n)
		for i := uint32(0); i < n; i++ {
			copy(m.Hints[i][:], rest[:4])
			rest = rest[4:]
		}
	case MessagePeerExchange:
		var n uint32
		n, rest, err = takeU32(rest)
		if err != nil {
			return Message{}, err
		}
		m.KnownRelays = make([]PeerInfo, 0, n)
		for i := uint32(0); i < n; i++ {
			var p PeerInfo
			p.PeerID, rest, err = takeString(rest)
			if err != nil {
				return Message{}, err
			}
			var addrN uint32
			addrN, rest, err = takeU32(rest)
			if err != nil {
				return Message{}, err
			}
			p.Addresses = make([]string, 0, addrN)
			for j := uint32(0); j < addrN; j++ {
				var a string
				a, rest, err = takeString(rest)
				if err != nil {
					return Message{}, err
				}
				p.Addresses = append(p.Addresses, a)
			}
			p.LastSeen, rest, err = takeU64(rest)
			if err != nil {
				return Message{}, err
			}
			var bits uint32
			bits, rest, err = takeU32(rest)
			if err != nil {
				return Message{}, err
			}
			p.ReliabilityScore = float32frombits(bits)
			p.Capabilities, rest, err = takeCapability(rest)
			if err != nil {
				return Message{}, err
			}
			m.KnownRelays = append(m.KnownRelays, p)
		}
	case MessagePing, MessagePong:
		// no body
	case MessageDisconnect:
		m.Reason, rest, err = takeString(rest)
		if err != nil {
			return Message{}, err
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown type %d", ErrInvalidFormat, m.Type)
	}

	return m, nil
}

func float32bits(f float32) uint32   { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendBytes(b []byte, data []byte) []byte {
	b = appendU32(b, uint32(len(data)))
	return append(b, data...)
}

func appendString(b []byte, s string) []byte {
	return appendBytes(b, []byte(s))
}

func appendCapability(b []byte, c Capability) []byte {
	var flags byte
	if c.CanRelay {
		flags |= 1
	}
	if c.CanStore {
		flags |= 2
	}
	if c.HasInternet {
		flags |= 4
	}
	if c.FullNode {
		flags |= 8
	}
	return append(b, flags)
}

func takeU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, ErrBufferTooShort
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func takeU64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, ErrBufferTooShort
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8:], nil
}

func takeBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := takeU32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, ErrBufferTooShort
	}
	return rest[:n], rest[n:], nil
}

func takeString(b []byte) (string, []byte, error) {
	data, rest, err := takeBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(data), rest, nil
}

func takeCapability(b []byte) (Capability, []byte, error) {
	if len(b) < 1 {
		return Capability{}, nil, ErrBufferTooShort
	}
	flags := b[0]
	c := Capability{
		CanRelay:    flags&1 != 0,
		CanStore:    flags&2 != 0,
		HasInternet: flags&4 != 0,
		FullNode:    flags&8 != 0,
	}
	return c, b[1:], nil
}
