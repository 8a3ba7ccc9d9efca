package envelope

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	defer sender.Close()
	defer recipient.Close()

	env, err := Encrypt(sender, recipient.PublicKey(), []byte("hello mesh"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	b, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SenderPublicKey != env.SenderPublicKey {
		t.Fatalf("Decode() SenderPublicKey mismatch")
	}
	if got.EphemeralPublicKey != env.EphemeralPublicKey {
		t.Fatalf("Decode() EphemeralPublicKey mismatch")
	}
	if got.Nonce != env.Nonce {
		t.Fatalf("Decode() Nonce mismatch")
	}
	if !bytes.Equal(got.Ciphertext, env.Ciphertext) {
		t.Fatalf("Decode() Ciphertext mismatch")
	}

	plaintext, err := Decrypt(recipient, recipient.ToBytes(), got)
	if err != nil {
		t.Fatalf("Decrypt of decoded envelope: %v", err)
	}
	if string(plaintext) != "hello mesh" {
		t.Fatalf("Decrypt() = %q, want %q", plaintext, "hello mesh")
	}
}

func TestDecodeRejectsBufferOverMaxEnvelopeSize(t *testing.T) {
	big := make([]byte, MaxEnvelopeSize+1)
	if _, err := Decode(big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Decode() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); !errors.Is(err, ErrBufferTooShort) {
		t.Fatalf("Decode() error = %v, want ErrBufferTooShort", err)
	}
}

func TestDecodeRejectsMismatchedCiphertextLength(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	defer sender.Close()
	defer recipient.Close()

	env, err := Encrypt(sender, recipient.PublicKey(), []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	truncated := b[:len(b)-1]
	if _, err := Decode(truncated); !errors.Is(err, ErrBufferTooShort) {
		t.Fatalf("Decode() error = %v, want ErrBufferTooShort", err)
	}
}
