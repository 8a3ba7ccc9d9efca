package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTransport struct {
	handshakeErr error
	pullEnvelopes [][]byte
	storeAccepted uint32
}

func (f *fakeTransport) SendMessage(ctx context.Context, m Message) (Message, error) {
	switch m.Type {
	case MessageHandshake:
		if f.handshakeErr != nil {
			return Message{}, f.handshakeErr
		}
		return Message{Type: MessageHandshakeAck, Version: ProtocolVersion, PeerID: "relay1", Capabilities: FullRelay()}, nil
	case MessageStoreRequest:
		return Message{Type: MessageStoreAck, Accepted: f.storeAccepted, Rejected: 0}, nil
	case MessagePullRequest:
		return Message{Type: MessagePullResponse, Envelopes: f.pullEnvelopes}, nil
	default:
		return Message{}, errors.New("unexpected message type")
	}
}

func TestClientConnectSucceeds(t *testing.T) {
	c := NewClient(DefaultClientConfig("relay1", "me"), &fakeTransport{}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("State() = %v, want Connected", c.State())
	}
}

func TestClientConnectFailureReturnsToDisconnected(t *testing.T) {
	c := NewClient(DefaultClientConfig("relay1", "me"), &fakeTransport{handshakeErr: errors.New("refused")}, nil)
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected Connect() to fail")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("State() = %v, want Disconnected after a failed handshake", c.State())
	}
}

func TestClientPushReturnsAcceptedCount(t *testing.T) {
	c := NewClient(DefaultClientConfig("relay1", "me"), &fakeTransport{storeAccepted: 3}, nil)
	accepted, rejected, err := c.Push(context.Background(), "target", [][]byte{{1}, {2}, {3}})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if accepted != 3 || rejected != 0 {
		t.Fatalf("Push() = (%d, %d), want (3, 0)", accepted, rejected)
	}
}

func TestClientPullHandsEnvelopesToCallback(t *testing.T) {
	var received [][]byte
	c := NewClient(DefaultClientConfig("relay1", "me"), &fakeTransport{pullEnvelopes: [][]byte{[]byte("a"), []byte("b")}}, func(data []byte) {
		received = append(received, data)
	})
	if err := c.pull(context.Background()); err != nil {
		t.Fatalf("pull() error = %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("received %d envelopes, want 2", len(received))
	}
}

func TestClientBackoffCapsAtMax(t *testing.T) {
	cfg := DefaultClientConfig("relay1", "me")
	cfg.BackoffInitial = 1 * time.Second
	cfg.BackoffMax = 8 * time.Second
	c := NewClient(cfg, &fakeTransport{}, nil)

	c.attempt = 10
	if got := c.backoffDelay(); got != cfg.BackoffMax {
		t.Fatalf("backoffDelay() = %v, want capped at %v", got, cfg.BackoffMax)
	}
}
