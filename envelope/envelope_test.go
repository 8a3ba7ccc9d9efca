package envelope

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/cvsouth/driftmesh/identity"
)

func mustKeys(t *testing.T) *identity.Keys {
	t.Helper()
	k, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	defer sender.Close()
	defer recipient.Close()

	plaintext := []byte("hello mesh")
	env, err := Encrypt(sender, recipient.PublicKey(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	got, err := Decrypt(recipient, recipient.ToBytes(), env)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	defer sender.Close()
	defer recipient.Close()

	env, err := Encrypt(sender, recipient.PublicKey(), []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env.Ciphertext[0] ^= 0xFF

	if _, err := Decrypt(recipient, recipient.ToBytes(), env); err != ErrCryptoAuth {
		t.Fatalf("Decrypt() error = %v, want ErrCryptoAuth", err)
	}
}

func TestDecryptTamperedNonceFails(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	defer sender.Close()
	defer recipient.Close()

	env, err := Encrypt(sender, recipient.PublicKey(), []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env.Nonce[0] ^= 0xFF

	if _, err := Decrypt(recipient, recipient.ToBytes(), env); err != ErrCryptoAuth {
		t.Fatalf("Decrypt() error = %v, want ErrCryptoAuth", err)
	}
}

func TestEncryptRejectsOversizedPayload(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	defer sender.Close()
	defer recipient.Close()

	big := make([]byte, MaxPayloadSize+1)
	if _, err := Encrypt(sender, recipient.PublicKey(), big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Encrypt() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestIsRecent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	threshold := 60 * time.Second

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"now", now, true},
		{"just inside", now.Add(-59 * time.Second), true},
		{"at threshold", now.Add(-60 * time.Second), false},
		{"past threshold", now.Add(-61 * time.Second), false},
		{"future", now.Add(1 * time.Second), false},
	}
	for _, c := range cases {
		if got := IsRecent(c.t, now, threshold); got != c.want {
			t.Errorf("%s: IsRecent() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestSignAndVerifySignedEnvelope(t *testing.T) {
	sender := mustKeys(t)
	recipient := mustKeys(t)
	defer sender.Close()
	defer recipient.Close()

	env, err := Encrypt(sender, recipient.PublicKey(), []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	signed := Sign(sender, env)

	ok, err := VerifySignature(signed)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Fatalf("VerifySignature() = false, want true")
	}

	signed.Signature[0] ^= 0xFF
	ok, err = VerifySignature(signed)
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if ok {
		t.Fatalf("VerifySignature() = true after tamper, want false")
	}
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	msg := NewTextMessage("hello", now)

	b, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	got, err := DecodeMessage(b)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.Text != msg.Text || !got.Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("DecodeMessage() = %+v, want %+v", got, msg)
	}
}

func TestReceiptEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var id [16]byte
	copy(id[:], []byte("0123456789abcdef"))
	msg := NewReceipt(id, now)

	b, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	got, err := DecodeMessage(b)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if got.ReceiptID != msg.ReceiptID {
		t.Fatalf("DecodeMessage() ReceiptID = %v, want %v", got.ReceiptID, msg.ReceiptID)
	}
}
