package drift

import (
	"bytes"
	"errors"
	"testing"
)

func sampleEnvelope(ciphertext []byte) DriftEnvelope {
	var id [16]byte
	copy(id[:], []byte("0123456789abcdef"))
	var sh, rh [4]byte
	copy(sh[:], []byte{1, 2, 3, 4})
	copy(rh[:], []byte{5, 6, 7, 8})
	return DriftEnvelope{
		Type:          EnvelopeTypeMessage,
		MessageID:     id,
		TimestampUnix: 1_700_000_000,
		HopCount:      0,
		TTL:           8,
		SenderHint:    sh,
		RecipientHint: rh,
		Ciphertext:    ciphertext,
	}
}

func TestDriftEnvelopeRoundTrip(t *testing.T) {
	e := sampleEnvelope([]byte("ciphertext bytes"))
	buf, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != e.Type || got.MessageID != e.MessageID || got.TimestampUnix != e.TimestampUnix ||
		got.HopCount != e.HopCount || got.TTL != e.TTL || got.SenderHint != e.SenderHint ||
		got.RecipientHint != e.RecipientHint || !bytes.Equal(got.Ciphertext, e.Ciphertext) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestDriftEnvelopeCiphertextTooLarge(t *testing.T) {
	e := sampleEnvelope(make([]byte, MaxCiphertext+1))
	if _, err := Encode(e); !errors.Is(err, ErrCiphertextTooLarge) {
		t.Fatalf("Encode() error = %v, want ErrCiphertextTooLarge", err)
	}
}

func TestDriftEnvelopeInvalidVersion(t *testing.T) {
	e := sampleEnvelope([]byte("x"))
	buf, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[0] = 0x02
	if _, err := Decode(buf); !errors.Is(err, ErrInvalidVersion) {
		t.Fatalf("Decode() error = %v, want ErrInvalidVersion", err)
	}
}

func TestDriftEnvelopeInvalidType(t *testing.T) {
	e := sampleEnvelope([]byte("x"))
	buf, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[1] = 0xFF
	if _, err := Decode(buf); !errors.Is(err, ErrInvalidEnvelopeType) {
		t.Fatalf("Decode() error = %v, want ErrInvalidEnvelopeType", err)
	}
}

func TestDriftEnvelopeLengthMismatch(t *testing.T) {
	e := sampleEnvelope([]byte("hello"))
	buf, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := buf[:len(buf)-1]
	if _, err := Decode(truncated); !errors.Is(err, ErrBufferTooShort) {
		t.Fatalf("Decode() error = %v, want ErrBufferTooShort", err)
	}
}

func TestDriftEnvelopeEmptyCiphertext(t *testing.T) {
	e := sampleEnvelope(nil)
	buf, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Ciphertext) != 0 {
		t.Fatalf("Ciphertext = %v, want empty", got.Ciphertext)
	}
}
