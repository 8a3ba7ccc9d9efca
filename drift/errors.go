package drift

import "errors"

// Error kinds from spec.md §7, scoped to the drift wire codec.
var (
	ErrInvalidVersion      = errors.New("drift: invalid version")
	ErrInvalidEnvelopeType = errors.New("drift: invalid envelope type")
	ErrInvalidFrameType    = errors.New("drift: invalid frame type")
	ErrCiphertextTooLarge  = errors.New("drift: ciphertext too large")
	ErrBufferTooShort      = errors.New("drift: buffer too short")
	ErrCrcMismatch         = errors.New("drift: crc32 mismatch")
	ErrDecompressionFailed = errors.New("drift: decompression failed")
	ErrTimeout             = errors.New("drift: read timeout")
)
