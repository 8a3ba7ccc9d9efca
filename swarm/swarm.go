// Package swarm drives the single owning event loop for a node's network
// behaviour: connection lifecycle, protocol handlers, discovery, and the
// command/event handles application code uses to interact with it (§4.10),
// grounded on the host-construction shape of a libp2p node (see
// other_examples' p2p.New) and the teacher's phase-sequenced connection
// handling in link.Handshake.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	"github.com/cvsouth/driftmesh/drift"
	"github.com/cvsouth/driftmesh/identity"
)

// CommandKind tags a Command as a closed union (§9).
type CommandKind int

const (
	CommandDial CommandKind = iota
	CommandSend
	CommandSubscribe
	CommandRequestReflection
	CommandShutdown
)

// Command is submitted to the swarm over a bounded channel (§4.10, §5).
type Command struct {
	Kind    CommandKind
	PeerID  string
	Addr    string
	Topic   string
	Payload []byte
	Reply   chan CommandResult
}

// CommandResult carries a command's outcome back to the submitter.
type CommandResult struct {
	Err     error
	Payload []byte
}

// EventKind tags an Event as a closed union (§9, §4.10).
type EventKind int

const (
	EventPeerDiscovered EventKind = iota
	EventListeningOn
	EventMessageReceived
	EventDisconnected
	EventExternalAddressChanged
)

// Event is broadcast to every subscriber (§4.10).
type Event struct {
	Kind      EventKind
	PeerID    string
	Addr      string
	Payload   []byte
	Protocol  string
	At        time.Time
}

// Config bounds the swarm's resources, matching §5/§8 property 14's coupling
// checks at the MeshSettings layer (validated by config.MeshSettings.Validate,
// not here).
type Config struct {
	ListenAddrs       []string
	CommandBufferSize int // default 256, §5
	RendezvousTag     string
	EnableDHT         bool
	BootstrapPeers    []string
}

// DefaultConfig returns sane defaults for Config.
func DefaultConfig() Config {
	return Config{
		CommandBufferSize: 256,
		RendezvousTag:     "driftmesh",
	}
}

// Swarm is the single-owner event loop over a libp2p host (§4.10, §5).
type Swarm struct {
	cfg    Config
	logger *slog.Logger

	host  host.Host
	pubsb *pubsub.PubSub
	dht   *dht.IpfsDHT

	keys *identity.Keys

	commands chan Command

	subMu sync.Mutex
	subs  []chan Event

	handlers map[string]StreamHandlerFunc

	observer      *AddressObserver
	relayForward  func(fromPeerID string, payload []byte) []byte
	ledgerHandler func(fromPeerID string, req drift.Frame) drift.Frame

	cancel context.CancelFunc
}

// StreamHandlerFunc processes one inbound request-response exchange on a
// protocol stream (§4.10's protocol set).
type StreamHandlerFunc func(s network.Stream, sw *Swarm)

// New constructs the libp2p host and registers the protocol set, but does
// not yet start the event loop; call Run to start it.
func New(ctx context.Context, cfg Config, keys *identity.Keys, logger *slog.Logger) (*Swarm, error) {
	priv, err := identityToLibp2pKey(keys)
	if err != nil {
		return nil, fmt.Errorf("swarm: convert identity key: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("swarm: construct host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("swarm: construct gossipsub: %w", err)
	}

	sw := &Swarm{
		cfg:      cfg,
		logger:   logger,
		host:     h,
		pubsb:    ps,
		keys:     keys,
		commands: make(chan Command, cfg.CommandBufferSize),
		handlers: make(map[string]StreamHandlerFunc),
		observer: NewAddressObserver(),
	}

	if cfg.EnableDHT {
		kad, err := dht.New(ctx, h)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("swarm: construct dht: %w", err)
		}
		sw.dht = kad
	}

	md := mdns.NewMdnsService(h, cfg.RendezvousTag, &mdnsNotifee{sw: sw})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("swarm: start mdns: %w", err)
	}

	RegisterProtocols(sw)

	return sw, nil
}

// Host exposes the underlying libp2p host for protocol registration and
// diagnostics.
func (s *Swarm) Host() host.Host { return s.host }

// PubSub exposes the gossipsub instance for topic join/subscribe.
func (s *Swarm) PubSub() *pubsub.PubSub { return s.pubsb }

// Commands returns the channel application code submits Commands on.
func (s *Swarm) Commands() chan<- Command { return s.commands }

// Events subscribes a new listener to the broadcast event stream. The
// returned channel is buffered; a slow subscriber drops events rather than
// blocking the event loop (bounded everything, §9).
func (s *Swarm) Events() <-chan Event {
	ch := make(chan Event, 64)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Swarm) emit(ev Event) {
	ev.At = time.Now()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("swarm: event subscriber channel full, dropping event", "kind", ev.Kind)
		}
	}
}

// Run drives the single owning event loop until the context is cancelled or
// a shutdown command is received (§4.10, §5 cancellation policy).
func (s *Swarm) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	for _, addr := range s.host.Addrs() {
		s.emit(Event{Kind: EventListeningOn, Addr: addr.String()})
	}

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)
			if cmd.Kind == CommandShutdown {
				return s.shutdown()
			}
		}
	}
}

func (s *Swarm) handleCommand(ctx context.Context, cmd Command) {
	var res CommandResult
	switch cmd.Kind {
	case CommandDial:
		res.Err = s.dial(ctx, cmd.Addr)
	case CommandSend:
		res.Err = s.sendMessage(ctx, cmd.PeerID, cmd.Payload)
	case CommandSubscribe:
		res.Err = s.subscribeTopic(cmd.Topic)
	case CommandRequestReflection:
		addr, err := s.requestReflection(ctx, cmd.PeerID)
		res.Err = err
		res.Payload = []byte(addr)
	case CommandShutdown:
		// handled by caller after handleCommand returns
	}
	if cmd.Reply != nil {
		cmd.Reply <- res
	}
}

func (s *Swarm) shutdown() error {
	s.logger.Info("swarm: shutting down")
	if s.dht != nil {
		_ = s.dht.Close()
	}
	s.subMu.Lock()
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.subMu.Unlock()
	return s.host.Close()
}

func (s *Swarm) dial(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("swarm: parse multiaddr: %w", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.host.Connect(dialCtx, *info); err != nil {
		return fmt.Errorf("swarm: connect: %w", err)
	}
	s.emit(Event{Kind: EventPeerDiscovered, PeerID: info.ID.String()})
	return nil
}

func (s *Swarm) subscribeTopic(topic string) error {
	t, err := s.pubsb.Join(topic)
	if err != nil {
		return fmt.Errorf("swarm: join topic %q: %w", topic, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("swarm: subscribe topic %q: %w", topic, err)
	}
	go s.pumpTopic(topic, sub)
	return nil
}

func (s *Swarm) pumpTopic(topic string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(context.Background())
		if err != nil {
			return
		}
		s.emit(Event{Kind: EventMessageReceived, Protocol: topic, Payload: msg.Data, PeerID: msg.ReceivedFrom.String()})
	}
}

type mdnsNotifee struct {
	sw *Swarm
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.sw.host.Connect(ctx, pi); err != nil {
		n.sw.logger.Debug("swarm: mdns peer connect failed", "peer", pi.ID, "err", err)
		return
	}
	n.sw.emit(Event{Kind: EventPeerDiscovered, PeerID: pi.ID.String()})
}

// identityToLibp2pKey wraps the node's Ed25519 identity as a libp2p
// crypto.PrivKey, so driftmesh's peer id derivation and libp2p's both trace
// back to the same signing key.
func identityToLibp2pKey(keys *identity.Keys) (p2pcrypto.PrivKey, error) {
	raw := keys.ToBytes() // 32-byte seed || 32-byte public key, ed25519 std layout
	priv, err := p2pcrypto.UnmarshalEd25519PrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return priv, nil
}
