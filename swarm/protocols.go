package swarm

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/cvsouth/driftmesh/drift"
	"github.com/cvsouth/driftmesh/envelope"
	"github.com/cvsouth/driftmesh/mesh"
)

// Protocol ids for the request-response protocol set (§4.10). Versioned the
// way the teacher versions its link protocol, under a single vendor prefix.
const (
	DirectMessageProtocol  protocol.ID = "/driftmesh/direct/1.0.0"
	ReflectionProtocol     protocol.ID = "/driftmesh/reflect/1.0.0"
	RelayForwardProtocol   protocol.ID = "/driftmesh/relay/1.0.0"
	LedgerExchangeProtocol protocol.ID = "/driftmesh/sync/1.0.0"
)

const streamIOTimeout = 30 * time.Second

// driftEnvelopeTTL is the default hop budget stamped on an outbound
// DriftEnvelope. Per spec.md's open question on hop accounting, only the
// drift wrapper's hop count/ttl are mutated in transit; the inner crypto
// Envelope is never touched after Encrypt.
const driftEnvelopeTTL uint8 = 8

// RegisterProtocols wires every protocol's stream handler into the host.
func RegisterProtocols(s *Swarm) {
	s.host.SetStreamHandler(DirectMessageProtocol, func(st network.Stream) {
		s.handleDirectMessage(st)
	})
	s.host.SetStreamHandler(ReflectionProtocol, func(st network.Stream) {
		s.handleReflection(st)
	})
	s.host.SetStreamHandler(RelayForwardProtocol, func(st network.Stream) {
		s.handleRelayForward(st)
	})
	s.host.SetStreamHandler(LedgerExchangeProtocol, func(st network.Stream) {
		s.handleLedgerExchange(st)
	})
}

// request opens a stream, writes one frame, reads back exactly one frame,
// and returns its payload; used by protocols with a single round trip
// (address reflection, relay forward, ledger sync, direct messaging).
func (s *Swarm) request(ctx context.Context, peerID string, proto protocol.ID, reqType drift.FrameType, payload []byte) ([]byte, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("swarm: decode peer id %q: %w", peerID, err)
	}

	st, err := s.host.NewStream(ctx, pid, proto)
	if err != nil {
		return nil, fmt.Errorf("swarm: open stream to %s: %w", peerID, err)
	}
	defer st.Close()

	_ = st.SetDeadline(time.Now().Add(streamIOTimeout))
	w := drift.NewWriter(st)
	if err := w.WriteFrame(drift.Frame{Type: reqType, Payload: payload}); err != nil {
		return nil, fmt.Errorf("swarm: write request frame: %w", err)
	}
	if err := st.CloseWrite(); err != nil {
		return nil, fmt.Errorf("swarm: close write side: %w", err)
	}

	r := drift.NewReader(bufio.NewReader(st), st)
	resp, err := r.ReadFrame(streamIOTimeout)
	if err != nil {
		return nil, fmt.Errorf("swarm: read response frame: %w", err)
	}
	if resp.Type == drift.FrameTypeError {
		return nil, fmt.Errorf("swarm: remote rejected request on %s", proto)
	}
	return resp.Payload, nil
}

func (s *Swarm) handleDirectMessage(st network.Stream) {
	defer st.Close()
	remote := st.Conn().RemotePeer().String()

	_ = st.SetReadDeadline(time.Now().Add(streamIOTimeout))
	r := drift.NewReader(bufio.NewReader(st), st)
	f, err := r.ReadFrame(streamIOTimeout)
	if err != nil {
		if err != io.EOF {
			s.logger.Debug("swarm: direct message read failed", "peer", remote, "err", err)
		}
		return
	}

	plaintext, err := s.openMessage(f)
	if err != nil {
		s.logger.Debug("swarm: direct message decode/decrypt failed", "peer", remote, "err", err)
		_ = st.SetWriteDeadline(time.Now().Add(streamIOTimeout))
		_ = drift.NewWriter(st).WriteFrame(drift.Frame{Type: drift.FrameTypeError, Payload: nil})
		return
	}
	s.emit(Event{Kind: EventMessageReceived, PeerID: remote, Protocol: string(DirectMessageProtocol), Payload: plaintext})

	_ = st.SetWriteDeadline(time.Now().Add(streamIOTimeout))
	_ = drift.NewWriter(st).WriteFrame(drift.Frame{Type: drift.FrameTypeAck, Payload: nil})
}

// sealMessage builds the full plaintext-to-wire pipeline for one outbound
// message: encrypt with the recipient's identity key, serialize the crypto
// envelope, wrap it in a DriftEnvelope, and serialize that into the
// DriftFrame payload ready for send/request (§2's data-flow, §4.1–§4.4).
func (s *Swarm) sealMessage(peerID string, plaintext []byte) ([]byte, error) {
	recipientPub, err := s.resolvePeerPublicKey(peerID)
	if err != nil {
		return nil, fmt.Errorf("swarm: resolve recipient key for %s: %w", peerID, err)
	}

	env, err := envelope.Encrypt(s.keys, recipientPub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("swarm: encrypt: %w", err)
	}

	sealed, err := envelope.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("swarm: encode envelope: %w", err)
	}

	id := mesh.ComputeMessageID(sealed)
	de := drift.DriftEnvelope{
		Type:          drift.EnvelopeTypeMessage,
		MessageID:     id,
		TimestampUnix: uint64(time.Now().Unix()),
		TTL:           driftEnvelopeTTL,
		Ciphertext:    sealed,
	}
	return drift.Encode(de)
}

// openMessage is the inverse of sealMessage: decode the DriftFrame's payload
// as a DriftEnvelope, decode its ciphertext as a crypto Envelope, and
// decrypt it with this node's own identity key.
func (s *Swarm) openMessage(f drift.Frame) ([]byte, error) {
	de, err := drift.Decode(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("swarm: decode drift envelope: %w", err)
	}

	env, err := envelope.Decode(de.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("swarm: decode envelope: %w", err)
	}

	plaintext, err := envelope.Decrypt(s.keys, s.keys.ToBytes(), env)
	if err != nil {
		return nil, fmt.Errorf("swarm: decrypt: %w", err)
	}
	return plaintext, nil
}

// sendMessage encrypts plaintext for peerID and sends it as a direct
// message (§4.10's direct-messaging request-response protocol).
func (s *Swarm) sendMessage(ctx context.Context, peerID string, plaintext []byte) error {
	payload, err := s.sealMessage(peerID, plaintext)
	if err != nil {
		return err
	}
	_, err = s.request(ctx, peerID, DirectMessageProtocol, drift.FrameTypeData, payload)
	return err
}

// resolvePeerPublicKey recovers a peer's raw Ed25519 public key from its
// libp2p peer id. Ed25519 keys are small enough that libp2p embeds them
// directly in the peer id's multihash, so this needs no prior handshake or
// peerstore lookup.
func (s *Swarm) resolvePeerPublicKey(peerID string) (ed25519.PublicKey, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("swarm: decode peer id %q: %w", peerID, err)
	}
	pub, err := pid.ExtractPublicKey()
	if err != nil {
		return nil, fmt.Errorf("swarm: extract public key from peer id: %w", err)
	}
	raw, err := pub.Raw()
	if err != nil {
		return nil, fmt.Errorf("swarm: read raw public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("swarm: peer id %s is not an ed25519 key (got %d bytes)", peerID, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// handleReflection answers an address-reflection request with the
// requester's observed multiaddr, the STUN-like service described in
// §4.11/§4.13.
func (s *Swarm) handleReflection(st network.Stream) {
	defer st.Close()
	remote := st.Conn().RemoteMultiaddr().String()

	_ = st.SetReadDeadline(time.Now().Add(streamIOTimeout))
	r := drift.NewReader(bufio.NewReader(st), st)
	if _, err := r.ReadFrame(streamIOTimeout); err != nil {
		return
	}

	_ = st.SetWriteDeadline(time.Now().Add(streamIOTimeout))
	w := drift.NewWriter(st)
	_ = w.WriteFrame(drift.Frame{Type: drift.FrameTypeData, Payload: []byte(remote)})
}

func (s *Swarm) requestReflection(ctx context.Context, peerID string) (string, error) {
	payload, err := s.request(ctx, peerID, ReflectionProtocol, drift.FrameTypePing, nil)
	if err != nil {
		return "", err
	}
	addr := string(payload)
	s.observer.RecordObservation(peerID, addr, time.Now())
	s.emit(Event{Kind: EventExternalAddressChanged, PeerID: peerID, Addr: addr})
	return addr, nil
}

// handleRelayForward accepts a relay protocol request and hands it to the
// relay server wiring (set via SetRelayForwardHandler), writing back
// whatever response message the handler produces (§4.10's relay
// request-response protocol: Handshake/StoreRequest/PullRequest all expect
// a reply). Without a handler registered, the stream is closed unanswered.
func (s *Swarm) handleRelayForward(st network.Stream) {
	defer st.Close()
	remote := st.Conn().RemotePeer().String()

	_ = st.SetReadDeadline(time.Now().Add(streamIOTimeout))
	r := drift.NewReader(bufio.NewReader(st), st)
	f, err := r.ReadFrame(streamIOTimeout)
	if err != nil {
		return
	}

	if s.relayForward == nil {
		return
	}
	resp := s.relayForward(remote, f.Payload)

	_ = st.SetWriteDeadline(time.Now().Add(streamIOTimeout))
	_ = drift.NewWriter(st).WriteFrame(drift.Frame{Type: drift.FrameTypeData, Payload: resp})
}

// handleLedgerExchange delegates an inbound sync request/response frame to
// the mesh reconciliation handler registered via SetLedgerHandler.
func (s *Swarm) handleLedgerExchange(st network.Stream) {
	defer st.Close()
	remote := st.Conn().RemotePeer().String()

	_ = st.SetReadDeadline(time.Now().Add(streamIOTimeout))
	r := drift.NewReader(bufio.NewReader(st), st)
	f, err := r.ReadFrame(streamIOTimeout)
	if err != nil {
		return
	}

	if s.ledgerHandler == nil {
		return
	}
	resp := s.ledgerHandler(remote, f)

	_ = st.SetWriteDeadline(time.Now().Add(streamIOTimeout))
	w := drift.NewWriter(st)
	_ = w.WriteFrame(resp)
}

// SetRelayForwardHandler installs the callback invoked for inbound relay
// protocol requests (wired to relay.Server in the node's composition root);
// it must return the encoded response message to write back.
func (s *Swarm) SetRelayForwardHandler(fn func(fromPeerID string, payload []byte) []byte) {
	s.relayForward = fn
}

// SetLedgerHandler installs the callback invoked for inbound ledger sync
// frames; it must return the response frame to write back.
func (s *Swarm) SetLedgerHandler(fn func(fromPeerID string, req drift.Frame) drift.Frame) {
	s.ledgerHandler = fn
}

// RequestLedgerSync performs one ledger-exchange round trip against peerID,
// returning the remote's response frame.
func (s *Swarm) RequestLedgerSync(ctx context.Context, peerID string, req drift.Frame) (drift.Frame, error) {
	payload, err := s.request(ctx, peerID, LedgerExchangeProtocol, req.Type, req.Payload)
	if err != nil {
		return drift.Frame{}, err
	}
	return drift.Frame{Type: drift.FrameTypeSyncResp, Payload: payload}, nil
}

// SendRelayForward performs one relay protocol round trip against
// relayPeerID over RelayForwardProtocol and returns the relay's response
// payload (§4.10's relay request-response protocol).
func (s *Swarm) SendRelayForward(ctx context.Context, relayPeerID string, payload []byte) ([]byte, error) {
	return s.request(ctx, relayPeerID, RelayForwardProtocol, drift.FrameTypeData, payload)
}
