package routing

import (
	"sync"
	"time"
)

// GatewayInfo is one "I can reach X in <=N hops via gateway G" entry (§4.8).
type GatewayInfo struct {
	GatewayID string
	HopCount  int
	Sequence  uint64
	UpdatedAt time.Time
}

// NeighborhoodGossip is the message received from a gateway: its CellSummary
// plus a gossip sequence number for the merge rule below.
type NeighborhoodGossip struct {
	FromGateway string
	Summary     CellSummary
	Sequence    uint64
}

// NeighborhoodSummary is what this node in turn gossips onward.
type NeighborhoodSummary struct {
	Reachable map[string][]GatewayInfo
}

// Table aggregates CellSummaries received through gateways (§3, §4.8).
type Table struct {
	mu  sync.Mutex
	ttl time.Duration
	// entries[targetPeerID][gatewayID] = GatewayInfo
	entries map[string]map[string]GatewayInfo
}

// NewTable creates a neighborhood table that drops entries older than ttl.
func NewTable(ttl time.Duration) *Table {
	return &Table{ttl: ttl, entries: make(map[string]map[string]GatewayInfo)}
}

// Ingest merges a gossip message per §4.8's rule: higher sequence number
// wins; ties are broken by lower hop count.
func (t *Table) Ingest(g NeighborhoodGossip) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for _, peerID := range g.Summary.PeerIDs {
		if peerID == g.FromGateway {
			continue
		}
		byGateway, ok := t.entries[peerID]
		if !ok {
			byGateway = make(map[string]GatewayInfo)
			t.entries[peerID] = byGateway
		}
		hop := 1
		candidate := GatewayInfo{GatewayID: g.FromGateway, HopCount: hop, Sequence: g.Sequence, UpdatedAt: now}

		existing, have := byGateway[g.FromGateway]
		if !have || better(candidate, existing) {
			byGateway[g.FromGateway] = candidate
		}
	}
}

// better reports whether a should replace b under the §4.8 merge rule.
func better(a, b GatewayInfo) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return a.HopCount < b.HopCount
}

// ExpireOld drops entries whose UpdatedAt is past the table's TTL.
func (t *Table) ExpireOld() {
	if t.ttl <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-t.ttl)
	for peerID, byGateway := range t.entries {
		for gw, info := range byGateway {
			if info.UpdatedAt.Before(cutoff) {
				delete(byGateway, gw)
			}
		}
		if len(byGateway) == 0 {
			delete(t.entries, peerID)
		}
	}
}

// GatewaysFor returns every known gateway advertising reachability to target.
func (t *Table) GatewaysFor(target string) []GatewayInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	byGateway, ok := t.entries[target]
	if !ok {
		return nil
	}
	out := make([]GatewayInfo, 0, len(byGateway))
	for _, info := range byGateway {
		out = append(out, info)
	}
	return out
}
