// Package drift implements the binary wire protocol: the DriftFrame
// transport wrapper and the DriftEnvelope fixed-overhead carrier (§4.2–§4.4),
// modeled on the teacher's cell codec (cell.Cell, cell.Reader/Writer).
package drift

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// FrameType tags the payload carried by a DriftFrame (§4.3/§6). Closed tagged
// union, dispatched with a single switch per spec.md §9's design note.
type FrameType uint8

const (
	FrameTypeData     FrameType = 0x01
	FrameTypeSyncReq  FrameType = 0x02
	FrameTypeSyncResp FrameType = 0x03
	FrameTypePing     FrameType = 0x04
	FrameTypePeerInfo FrameType = 0x05
	FrameTypeAck      FrameType = 0x06
	FrameTypeError    FrameType = 0x07
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeData:
		return "Data"
	case FrameTypeSyncReq:
		return "SyncReq"
	case FrameTypeSyncResp:
		return "SyncResp"
	case FrameTypePing:
		return "Ping"
	case FrameTypePeerInfo:
		return "PeerInfo"
	case FrameTypeAck:
		return "Ack"
	case FrameTypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

func (t FrameType) valid() bool {
	switch t {
	case FrameTypeData, FrameTypeSyncReq, FrameTypeSyncResp, FrameTypePing, FrameTypePeerInfo, FrameTypeAck, FrameTypeError:
		return true
	default:
		return false
	}
}

const (
	// MaxFramePayload caps a single frame's payload at what the u16 length
	// field can describe alongside the type byte. A DriftEnvelope carrying a
	// ciphertext close to MaxCiphertext (38 + 65536 bytes at most) is larger
	// than this and does not fit in one frame.
	MaxFramePayload = 1<<16 - 1 - 1 // fits in the u16 length field alongside the type byte
)

// Frame is a decoded DriftFrame: a type tag plus its payload.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// EncodeFrame produces the wire bytes for f: `u16 length LE | u8 type |
// payload | u32 crc32 LE`, where length = 1 + len(payload) and the CRC
// covers length|type|payload (§4.3/§6).
func EncodeFrame(f Frame) ([]byte, error) {
	if !f.Type.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameType, f.Type)
	}
	if len(f.Payload) > MaxFramePayload {
		return nil, fmt.Errorf("%w: payload %d bytes (max %d)", ErrBufferTooShort, len(f.Payload), MaxFramePayload)
	}

	length := 1 + len(f.Payload)
	buf := make([]byte, 2+length+4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(length))
	buf[2] = byte(f.Type)
	copy(buf[3:3+len(f.Payload)], f.Payload)

	crc := crc32.ChecksumIEEE(buf[0 : 2+length])
	binary.LittleEndian.PutUint32(buf[2+length:], crc)
	return buf, nil
}

// DecodeFrame parses a DriftFrame from buf, which must contain exactly one
// frame's worth of bytes. CRC failures and truncation are reported as
// ErrCrcMismatch / ErrBufferTooShort respectively (§4.3, §8 property 2).
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) < 2 {
		return Frame{}, fmt.Errorf("%w: missing length prefix", ErrBufferTooShort)
	}
	length := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) != 2+length+4 {
		return Frame{}, fmt.Errorf("%w: want %d bytes, got %d", ErrBufferTooShort, 2+length+4, len(buf))
	}
	if length < 1 {
		return Frame{}, fmt.Errorf("%w: length %d too small for type byte", ErrBufferTooShort, length)
	}

	gotCRC := binary.LittleEndian.Uint32(buf[2+length:])
	wantCRC := crc32.ChecksumIEEE(buf[0 : 2+length])
	if gotCRC != wantCRC {
		return Frame{}, ErrCrcMismatch
	}

	typ := FrameType(buf[2])
	if !typ.valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidFrameType, typ)
	}

	payload := make([]byte, length-1)
	copy(payload, buf[3:2+length])
	return Frame{Type: typ, Payload: payload}, nil
}
