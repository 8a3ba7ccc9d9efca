// Command driftmesh-node is the thin composition root wiring identity,
// config, swarm, relay, and storage together; config file I/O and the
// control-plane API are external collaborators (§1) left for callers to
// supply.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cvsouth/driftmesh/config"
	"github.com/cvsouth/driftmesh/drift"
	"github.com/cvsouth/driftmesh/identity"
	"github.com/cvsouth/driftmesh/inbox"
	"github.com/cvsouth/driftmesh/mesh"
	"github.com/cvsouth/driftmesh/relay"
	"github.com/cvsouth/driftmesh/routing"
	"github.com/cvsouth/driftmesh/storage"
	"github.com/cvsouth/driftmesh/swarm"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	logger, logFile := setupLogging()
	defer func() { _ = logFile.Close() }()

	fmt.Printf("=== driftmesh node %s ===\n", Version)

	settings := loadSettings(logger)
	if err := settings.Validate(); err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	dataDir := settings.DataDir
	if dataDir == "" {
		dataDir, _ = defaultDataDir()
	}
	backend, err := storage.NewFileStore(dataDir)
	if err != nil {
		fmt.Printf("failed to open storage: %v\n", err)
		os.Exit(1)
	}

	keys := loadOrCreateIdentity(backend, logger)
	defer keys.Close()
	fmt.Printf("peer id: %s\n", keys.PeerID())

	store := mesh.NewStore()
	store.SetLimits(int64(settings.MeshStoreMaxBytes), settings.MeshStoreTTL())

	ib := inbox.New(settings.InboxCap)

	tracker := routing.NewTracker()
	local := routing.NewLocalCell()
	engine := routing.NewEngine(local, routing.NewTable(settings.NeighborhoodTTL()), routing.NewGlobalRoutes(), tracker)
	_ = engine // consulted by application code routing a send; not exercised by the bare node loop

	var relayServer *relay.Server
	if settings.RelayEnabled {
		relayServer = relay.NewServer(settings.MaxStoredPerPeer, settings.RelayTTL(), settings.MaxRelayBudget)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := swarm.DefaultConfig()
	cfg.ListenAddrs = settings.ListenAddrs
	cfg.RendezvousTag = settings.RendezvousTag
	cfg.CommandBufferSize = settings.CommandBufferSize

	sw, err := swarm.New(ctx, cfg, keys, logger)
	if err != nil {
		fmt.Printf("failed to start swarm: %v\n", err)
		os.Exit(1)
	}

	sw.SetLedgerHandler(ledgerHandler(store))
	if relayServer != nil {
		sw.SetRelayForwardHandler(relayForwardHandler(relayServer, ib, logger))
	}

	for _, relayPeerID := range settings.RelayPeers {
		startRelayClient(ctx, sw, relayPeerID, keys.PeerID(), ib, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		cancel()
	}()

	fmt.Println("driftmesh node running, press Ctrl+C to stop")
	if err := sw.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("swarm run loop exited", "error", err)
	}
}

func setupLogging() (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile("driftmesh-debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file: %v\n", err)
		os.Exit(1)
	}
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}})
	return logger, logFile
}

func loadSettings(logger *slog.Logger) config.MeshSettings {
	path := os.Getenv("DRIFTMESH_CONFIG")
	if path == "" {
		return config.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("failed to read config file, using defaults", "path", path, "error", err)
		return config.Default()
	}
	settings, err := config.LoadJSON(data)
	if err != nil {
		logger.Warn("failed to parse config file, using defaults", "path", path, "error", err)
		return config.Default()
	}
	return settings
}

// ledgerHandler answers an inbound sync request against the local mesh
// store: decode the remote's IBLT, reconcile it against our own sketch,
// and return a SyncResp carrying our sketch and the ids the remote has that
// we are missing (§4.7, §4.17's Sync state machine).
func ledgerHandler(store *mesh.Store) func(fromPeerID string, req drift.Frame) drift.Frame {
	return func(fromPeerID string, req drift.Frame) drift.Frame {
		remoteSketch, err := mesh.DecodeSyncReq(req.Payload)
		if err != nil {
			return drift.Frame{Type: drift.FrameTypeSyncResp, Payload: nil}
		}

		session := mesh.NewSession(store, remoteSketch.M())
		_, missingForResponder, _ := session.Reconcile(remoteSketch)

		resp := mesh.EncodeSyncResp(session.LocalSketch(), missingForResponder)
		return drift.Frame{Type: drift.FrameTypeSyncResp, Payload: resp}
	}
}

// relayForwardHandler decodes an inbound relay protocol request arriving
// over the swarm's relay-forward stream, dispatches it to the relay
// server, hands delivered envelopes to the inbox dedup filter, and returns
// the encoded response message the swarm writes back over the same stream
// (§4.10's relay request-response protocol, §4.14).
func relayForwardHandler(server *relay.Server, ib *inbox.Inbox, logger *slog.Logger) func(fromPeerID string, payload []byte) []byte {
	return func(fromPeerID string, payload []byte) []byte {
		msg, err := relay.Decode(payload)
		if err != nil {
			logger.Debug("relay forward: decode failed", "peer", fromPeerID, "error", err)
			return nil
		}

		switch msg.Type {
		case relay.MessageHandshake:
			caps, err := server.Handshake(fromPeerID, msg.Version, msg.Capabilities)
			if err != nil {
				logger.Debug("relay forward: handshake failed", "peer", fromPeerID, "error", err)
				return nil
			}
			resp, _ := relay.Encode(relay.Message{Type: relay.MessageHandshakeAck, Version: relay.ProtocolVersion, Capabilities: caps})
			return resp

		case relay.MessageStoreRequest:
			accepted, rejected := server.StoreRequest(fromPeerID, msg.Envelopes, time.Now())
			resp, _ := relay.Encode(relay.Message{Type: relay.MessageStoreAck, Accepted: accepted, Rejected: rejected})
			return resp

		case relay.MessagePullRequest:
			stored := server.PullRequest(fromPeerID, msg.SinceTimestamp)
			envelopes := make([][]byte, 0, len(stored))
			for _, e := range stored {
				id := mesh.ComputeMessageID(e.Data)
				if ib.Receive(id) {
					logger.Debug("relay forward: delivered envelope", "peer", fromPeerID)
				}
				envelopes = append(envelopes, e.Data)
			}
			resp, _ := relay.Encode(relay.Message{Type: relay.MessagePullResponse, Envelopes: envelopes})
			return resp

		default:
			logger.Debug("relay forward: unsupported message type", "peer", fromPeerID, "type", msg.Type)
			return nil
		}
	}
}

// swarmRelayTransport adapts the swarm's relay-forward protocol to
// relay.Transport, so a relay.Client drives its connection state machine
// over a real libp2p stream instead of the test fake.
type swarmRelayTransport struct {
	sw     *swarm.Swarm
	peerID string
}

func (t *swarmRelayTransport) SendMessage(ctx context.Context, m relay.Message) (relay.Message, error) {
	payload, err := relay.Encode(m)
	if err != nil {
		return relay.Message{}, fmt.Errorf("relay transport: encode: %w", err)
	}
	respPayload, err := t.sw.SendRelayForward(ctx, t.peerID, payload)
	if err != nil {
		return relay.Message{}, err
	}
	return relay.Decode(respPayload)
}

// startRelayClient drives a relay.Client against relayPeerID for the life
// of ctx, handing each envelope it pulls to the inbox dedup filter (§4.15).
func startRelayClient(ctx context.Context, sw *swarm.Swarm, relayPeerID, ownPeerID string, ib *inbox.Inbox, logger *slog.Logger) {
	transport := &swarmRelayTransport{sw: sw, peerID: relayPeerID}
	cfg := relay.DefaultClientConfig(relayPeerID, ownPeerID)
	client := relay.NewClient(cfg, transport, func(data []byte) {
		id := mesh.ComputeMessageID(data)
		if ib.Receive(id) {
			logger.Debug("relay client: delivered envelope", "relay", relayPeerID)
		}
	})
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("relay client exited", "relay", relayPeerID, "error", err)
		}
	}()
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".driftmesh"), nil
}

func loadOrCreateIdentity(backend storage.Backend, logger *slog.Logger) *identity.Keys {
	if raw, err := backend.Get([]byte(storage.KeyIdentityKeys)); err == nil {
		keys, err := identity.FromBytes(raw)
		if err == nil {
			return keys
		}
		logger.Warn("stored identity key was invalid, generating a new one", "error", err)
	}

	keys, err := identity.Generate()
	if err != nil {
		fmt.Printf("failed to generate identity: %v\n", err)
		os.Exit(1)
	}
	if err := backend.Put([]byte(storage.KeyIdentityKeys), keys.ToBytes()); err != nil {
		logger.Warn("failed to persist new identity key", "error", err)
	}
	return keys
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
