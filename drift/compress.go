package drift

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// ErrIncompressible is returned by Compress when the input would not shrink;
// callers should send the payload uncompressed in that case.
var ErrIncompressible = errors.New("drift: input incompressible, send uncompressed")

// CompressThreshold is the payload size above which callers should invoke
// Compress before handing data to the Data frame path (§4.4). The frame type
// stays Data either way; the compressed flag lives in the caller's envelope
// metadata, not in the frame.
const CompressThreshold = 1024

// Compress LZ4-compresses data, prepending the uncompressed size as a u32 LE
// so Decompress can size its output buffer up front — the same
// prepend-then-compress shape used by original_source's lz4_flex wrapper.
func Compress(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	out := make([]byte, 4+bound)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))

	var c lz4.Compressor
	n, err := c.CompressBlock(data, out[4:])
	if err != nil {
		return nil, fmt.Errorf("drift: lz4 compress: %w", err)
	}
	if len(data) > 0 && (n == 0 || 4+n >= len(data)) {
		return nil, ErrIncompressible
	}
	return out[:4+n], nil
}

// Decompress is the inverse of Compress.
func Decompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: missing size prefix", ErrDecompressionFailed)
	}
	size := binary.LittleEndian.Uint32(data[0:4])
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(data[4:], out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	if uint32(n) != size {
		return nil, fmt.Errorf("%w: decompressed %d bytes, expected %d", ErrDecompressionFailed, n, size)
	}
	return out, nil
}
