// Package routing implements the Mycorrhizal routing engine's three layers
// (local cell, neighborhood gossip, global routes) plus reputation-ranked
// retry (§4.8–§4.9).
package routing

import (
	"sync"
	"time"
)

// TransportType names the transport a peer was reached over, a closed
// tagged union dispatched with a single switch (§9).
type TransportType int

const (
	TransportDirect TransportType = iota
	TransportRelay
	TransportGateway
)

// PeerStatus is a peer's connection lifecycle stage as seen by the local cell.
type PeerStatus int

const (
	PeerStatusConnecting PeerStatus = iota
	PeerStatusConnected
	PeerStatusDisconnected
)

// PeerInfo is the local cell's per-peer record (§3: LocalCell).
type PeerInfo struct {
	PeerID     string
	Status     PeerStatus
	Transports []TransportType
	LastSeen   time.Time
	// GatewayFlag marks peers observed to have internet connectivity,
	// making them eligible to bridge other cells.
	GatewayFlag bool
}

// PeerEvent is emitted by the swarm and consumed by LocalCell to keep its
// view current (§4.8).
type PeerEvent struct {
	PeerID    string
	Kind      PeerEventKind
	Transport TransportType
	Gateway   bool
	At        time.Time
}

type PeerEventKind int

const (
	PeerEventDiscovered PeerEventKind = iota
	PeerEventConnected
	PeerEventDisconnected
	PeerEventStatusChanged
)

// CellSummary is the compact, gossipable view of a LocalCell (§4.8).
type CellSummary struct {
	PeerIDs    []string
	GatewayIDs []string
}

// LocalCell is the real-time view of directly reachable peers (§3, §4.8).
type LocalCell struct {
	mu    sync.Mutex
	peers map[string]*PeerInfo
}

// NewLocalCell creates an empty LocalCell.
func NewLocalCell() *LocalCell {
	return &LocalCell{peers: make(map[string]*PeerInfo)}
}

// Apply folds a PeerEvent into the cell's view, stamping LastSeen.
func (c *LocalCell) Apply(ev PeerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peers[ev.PeerID]
	if !ok {
		p = &PeerInfo{PeerID: ev.PeerID}
		c.peers[ev.PeerID] = p
	}
	p.LastSeen = ev.At
	if ev.Gateway {
		p.GatewayFlag = true
	}

	switch ev.Kind {
	case PeerEventDiscovered:
		// discovery alone does not imply connection; status is left as-is
	case PeerEventConnected:
		p.Status = PeerStatusConnected
		p.Transports = appendTransport(p.Transports, ev.Transport)
	case PeerEventDisconnected:
		p.Status = PeerStatusDisconnected
	case PeerEventStatusChanged:
		// no-op placeholder for future granular status events
	}
}

func appendTransport(ts []TransportType, t TransportType) []TransportType {
	for _, existing := range ts {
		if existing == t {
			return ts
		}
	}
	return append(ts, t)
}

// Reachable reports whether peerID is directly connected.
func (c *LocalCell) Reachable(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[peerID]
	return ok && p.Status == PeerStatusConnected
}

// Peer returns a copy of the known info for peerID.
func (c *LocalCell) Peer(peerID string) (PeerInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[peerID]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Summary publishes the compact CellSummary for gossip (§4.8).
func (c *LocalCell) Summary() CellSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s CellSummary
	for id, p := range c.peers {
		if p.Status != PeerStatusConnected {
			continue
		}
		s.PeerIDs = append(s.PeerIDs, id)
		if p.GatewayFlag {
			s.GatewayIDs = append(s.GatewayIDs, id)
		}
	}
	return s
}
