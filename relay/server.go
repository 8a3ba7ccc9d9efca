package relay

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// StoredEnvelope is one envelope a relay is holding for an offline target
// peer (§4.14).
type StoredEnvelope struct {
	Data     []byte
	StoredAt time.Time
}

// peerQueue is a FIFO queue of envelopes waiting for one target peer,
// capped at maxPerPeer; once full, further stores are rejected rather than
// evicting anything already queued.
type peerQueue struct {
	entries []StoredEnvelope
}

// DefaultMaxStoredPerPeer bounds how many envelopes a relay holds per
// target; once a queue holds that many, further stores are rejected (§4.14).
const DefaultMaxStoredPerPeer = 1000

// Server implements the relay side of store-and-forward: a per-target FIFO
// queue, capability-aware handshakes, and TTL-based cleanup (§4.14).
type Server struct {
	mu sync.Mutex

	queues       map[string]*peerQueue
	capabilities map[string]Capability

	maxStoredPerPeer int
	ttl              time.Duration

	budget *rate.Limiter
}

// NewServer creates a relay server with the given per-peer queue cap and
// storage TTL. maxRelayBudgetBytes bounds the sustained byte rate this
// relay accepts for StoreRequest, refilling once per second with that many
// bytes of burst (§6's max_relay_budget); zero or negative disables the
// limit.
func NewServer(maxStoredPerPeer int, ttl time.Duration, maxRelayBudgetBytes int) *Server {
	if maxStoredPerPeer <= 0 {
		maxStoredPerPeer = DefaultMaxStoredPerPeer
	}
	s := &Server{
		queues:           make(map[string]*peerQueue),
		capabilities:     make(map[string]Capability),
		maxStoredPerPeer: maxStoredPerPeer,
		ttl:              ttl,
	}
	if maxRelayBudgetBytes > 0 {
		s.budget = rate.NewLimiter(rate.Limit(maxRelayBudgetBytes), maxRelayBudgetBytes)
	}
	return s
}

// Handshake validates the protocol version and records the peer's
// capabilities, returning this server's own capability set for the ack.
func (s *Server) Handshake(peerID string, version uint32, capabilities Capability) (Capability, error) {
	if version != ProtocolVersion {
		return Capability{}, ErrProtocolVersionMismatch
	}
	s.mu.Lock()
	s.capabilities[peerID] = capabilities
	s.mu.Unlock()
	return FullRelay(), nil
}

// StoreRequest inserts envelopes into target's queue while capacity
// remains, rejecting rather than evicting once the per-peer cap is hit, and
// reports how many were accepted vs rejected (§4.14). An envelope that
// would exceed the configured relay byte budget is rejected the same way.
func (s *Server) StoreRequest(target string, envelopes [][]byte, at time.Time) (accepted, rejected uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[target]
	if !ok {
		q = &peerQueue{}
		s.queues[target] = q
	}

	for _, e := range envelopes {
		if s.budget != nil && !s.budget.AllowN(at, len(e)) {
			rejected++
			continue
		}
		if len(q.entries) >= s.maxStoredPerPeer {
			rejected++
			continue
		}
		q.entries = append(q.entries, StoredEnvelope{Data: e, StoredAt: at})
		accepted++
	}
	return accepted, rejected
}

// PullRequest returns every envelope stored for target at or after
// sinceUnix (seconds), then removes exactly those entries from the queue —
// delivery-once from the relay's point of view (§4.14).
func (s *Server) PullRequest(target string, sinceUnix uint64) []StoredEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[target]
	if !ok {
		return nil
	}

	since := time.Unix(int64(sinceUnix), 0)
	var matched []StoredEnvelope
	var remaining []StoredEnvelope
	for _, e := range q.entries {
		if !e.StoredAt.Before(since) {
			matched = append(matched, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.entries = remaining
	return matched
}

// CleanupExpired drops every stored envelope older than the server's TTL
// as of now (§4.14). The server does not schedule it; expired envelopes
// stay queued, and PullRequest still returns them, until a caller runs it.
func (s *Server) CleanupExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for target, q := range s.queues {
		kept := q.entries[:0]
		for _, e := range q.entries {
			if now.Sub(e.StoredAt) <= s.ttl {
				kept = append(kept, e)
			}
		}
		q.entries = kept
		if len(q.entries) == 0 {
			delete(s.queues, target)
		}
	}
}

// QueueDepth reports how many envelopes are currently queued for target,
// for diagnostics and tests.
func (s *Server) QueueDepth(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[target]
	if !ok {
		return 0
	}
	return len(q.entries)
}
