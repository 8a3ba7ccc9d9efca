package relay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConnState is the per-relay connection state machine (§4.15, §4.17).
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateHandshaking
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Transport abstracts the underlying connection a Client drives; the swarm
// package's request/send helpers over RelayForwardProtocol satisfy this in
// the node's composition root.
type Transport interface {
	// SendMessage writes one relay protocol message and, for request types
	// that expect a reply (Handshake, StoreRequest, PullRequest), returns
	// the decoded response message.
	SendMessage(ctx context.Context, m Message) (Message, error)
}

// ClientConfig parameterizes one relay client connection.
type ClientConfig struct {
	RelayAddr      string
	PullInterval   time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	OwnPeerID      string
	OwnCapability  Capability
}

// DefaultClientConfig returns the capped-backoff defaults from §4.15.
func DefaultClientConfig(relayAddr, ownPeerID string) ClientConfig {
	return ClientConfig{
		RelayAddr:      relayAddr,
		PullInterval:   30 * time.Second,
		BackoffInitial: 1 * time.Second,
		BackoffMax:     60 * time.Second,
		OwnPeerID:      ownPeerID,
		OwnCapability:  Mobile(),
	}
}

// Client drives one relay connection's Connecting → Handshaking →
// Connected → Disconnected state machine, reconnecting with exponential
// backoff on failure (§4.15).
type Client struct {
	cfg       ClientConfig
	transport Transport
	onEnvelope func(data []byte)

	mu    sync.Mutex
	state ConnState
	attempt int
	lastPull uint64
}

// NewClient creates a relay client bound to transport. onEnvelope is
// invoked once per envelope received from a PullResponse; the caller is
// responsible for handing it to the inbox dedup layer.
func NewClient(cfg ClientConfig, transport Transport, onEnvelope func(data []byte)) *Client {
	return &Client{cfg: cfg, transport: transport, onEnvelope: onEnvelope}
}

// State returns the client's current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect runs the Connecting → Handshaking → Connected transition once. On
// failure it returns to Disconnected and the caller should retry via Run's
// backoff loop.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	c.setState(StateHandshaking)
	resp, err := c.transport.SendMessage(ctx, Message{
		Type:         MessageHandshake,
		Version:      ProtocolVersion,
		PeerID:       c.cfg.OwnPeerID,
		Capabilities: c.cfg.OwnCapability,
	})
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("relay: handshake with %s: %w", c.cfg.RelayAddr, err)
	}
	if resp.Type != MessageHandshakeAck || resp.Version != ProtocolVersion {
		c.setState(StateDisconnected)
		return fmt.Errorf("relay: unexpected handshake response from %s: %w", c.cfg.RelayAddr, ErrInvalidFormat)
	}

	c.setState(StateConnected)
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
	return nil
}

// backoffDelay returns the capped exponential delay for the current
// attempt count, mirroring routing.CalculateDelay's shape.
func (c *Client) backoffDelay() time.Duration {
	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()

	delay := float64(c.cfg.BackoffInitial)
	for i := 0; i < attempt; i++ {
		delay *= 2.0
		if delay >= float64(c.cfg.BackoffMax) {
			return c.cfg.BackoffMax
		}
	}
	d := time.Duration(delay)
	if d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	return d
}

// Run connects and reconnects with capped exponential backoff until ctx is
// cancelled, pulling on cfg.PullInterval while connected.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.Connect(ctx); err != nil {
			c.mu.Lock()
			c.attempt++
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoffDelay()):
				continue
			}
		}

		c.runConnected(ctx)
	}
}

func (c *Client) runConnected(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-ticker.C:
			if err := c.pull(ctx); err != nil {
				c.setState(StateDisconnected)
				return
			}
		}
	}
}

// Push sends a StoreRequest for target's envelopes and returns the relay's
// accept/reject counts (§4.15).
func (c *Client) Push(ctx context.Context, target string, envelopes [][]byte) (accepted, rejected uint32, err error) {
	resp, err := c.transport.SendMessage(ctx, Message{Type: MessageStoreRequest, Envelopes: envelopes})
	if err != nil {
		return 0, 0, fmt.Errorf("relay: push to %s: %w", c.cfg.RelayAddr, err)
	}
	if resp.Type != MessageStoreAck {
		return 0, 0, fmt.Errorf("relay: unexpected push response: %w", ErrInvalidFormat)
	}
	return resp.Accepted, resp.Rejected, nil
}

func (c *Client) pull(ctx context.Context) error {
	c.mu.Lock()
	since := c.lastPull
	c.mu.Unlock()

	resp, err := c.transport.SendMessage(ctx, Message{Type: MessagePullRequest, SinceTimestamp: since})
	if err != nil {
		return fmt.Errorf("relay: pull from %s: %w", c.cfg.RelayAddr, err)
	}
	if resp.Type != MessagePullResponse {
		return fmt.Errorf("relay: unexpected pull response: %w", ErrInvalidFormat)
	}

	for _, e := range resp.Envelopes {
		if c.onEnvelope != nil {
			c.onEnvelope(e)
		}
	}

	c.mu.Lock()
	c.lastPull = uint64(time.Now().Unix())
	c.mu.Unlock()
	return nil
}
