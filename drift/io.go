package drift

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxVarLength is a safety cap on the declared length field (type byte plus
// payload) of an inbound frame, checked before the body is allocated so a
// hostile peer cannot force an oversized allocation before the CRC is even
// checked. It admits the longest frame EncodeFrame produces.
const MaxVarLength = MaxFramePayload + 1

// Reader reads DriftFrames from a buffered stream, optionally enforcing a
// per-read deadline on the underlying connection as Slow Loris protection
// (§4.3), mirroring cell.Reader's buffered-header-then-payload shape.
type Reader struct {
	r    *bufio.Reader
	conn net.Conn // nil if the caller does not want deadline enforcement
}

// NewReader wraps r. If conn is non-nil, ReadFrame resets conn's read
// deadline to readTimeout before each read so a peer that trickles bytes
// cannot hold the connection open indefinitely.
func NewReader(r *bufio.Reader, conn net.Conn) *Reader {
	return &Reader{r: r, conn: conn}
}

// ReadFrame reads and decodes one DriftFrame, applying readTimeout (if the
// Reader was constructed with a net.Conn) to the whole read.
func (fr *Reader) ReadFrame(readTimeout time.Duration) (Frame, error) {
	if fr.conn != nil && readTimeout > 0 {
		if err := fr.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return Frame{}, fmt.Errorf("drift: set read deadline: %w", err)
		}
		defer fr.conn.SetReadDeadline(time.Time{})
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return Frame{}, mapReadErr(err)
	}
	length := int(binary.LittleEndian.Uint16(lenBuf[:]))
	if length > MaxVarLength {
		return Frame{}, fmt.Errorf("%w: declared length %d exceeds max %d", ErrBufferTooShort, length, MaxVarLength)
	}
	if length < 1 {
		return Frame{}, fmt.Errorf("%w: length %d too small for type byte", ErrBufferTooShort, length)
	}

	rest := make([]byte, length+4)
	if _, err := io.ReadFull(fr.r, rest); err != nil {
		return Frame{}, mapReadErr(err)
	}

	buf := make([]byte, 2+length+4)
	copy(buf[0:2], lenBuf[:])
	copy(buf[2:], rest)
	return DecodeFrame(buf)
}

func mapReadErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %v", ErrBufferTooShort, err)
}

// Writer writes DriftFrames to a stream.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (fw *Writer) WriteFrame(f Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	_, err = fw.w.Write(buf)
	return err
}
