package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/cvsouth/driftmesh/identity"
)

// RouteAdvertisement is a small, signed record distributed by an
// internet-reachable node claiming it can reach TargetPeerID (§3, §4.8).
type RouteAdvertisement struct {
	TargetPeerID string
	Advertiser   string // peer id of the advertiser
	PublicKey    [32]byte
	Sequence     uint64
	IssuedAt     time.Time
	Signature    [64]byte
}

// RouteRequest asks a peer (typically a DHT-discovered node) whether it
// advertises a route to a target.
type RouteRequest struct {
	TargetPeerID string
}

func advertisementPayload(a RouteAdvertisement) []byte {
	buf := []byte(a.TargetPeerID + "|" + a.Advertiser)
	buf = append(buf, byte(a.Sequence), byte(a.Sequence>>8), byte(a.Sequence>>16), byte(a.Sequence>>24))
	return buf
}

// SignAdvertisement signs a RouteAdvertisement with the advertiser's keys.
func SignAdvertisement(keys *identity.Keys, a RouteAdvertisement) RouteAdvertisement {
	copy(a.PublicKey[:], keys.PublicKey())
	copy(a.Signature[:], keys.Sign(advertisementPayload(a)))
	return a
}

// VerifyAdvertisement checks the embedded signature.
func VerifyAdvertisement(a RouteAdvertisement) (bool, error) {
	return identity.Verify(a.PublicKey[:], advertisementPayload(a), a.Signature[:])
}

// GlobalRoutes holds route advertisements this node has learned, consulted
// only when the local and neighborhood layers have no hit (§4.8).
type GlobalRoutes struct {
	mu      sync.Mutex
	byTarget map[string]map[string]RouteAdvertisement // target -> advertiser -> ad
}

// NewGlobalRoutes creates an empty route table.
func NewGlobalRoutes() *GlobalRoutes {
	return &GlobalRoutes{byTarget: make(map[string]map[string]RouteAdvertisement)}
}

// Ingest validates and records an advertisement, rejecting an unsigned or
// stale (lower-sequence) one.
func (g *GlobalRoutes) Ingest(a RouteAdvertisement) error {
	ok, err := VerifyAdvertisement(a)
	if err != nil {
		return fmt.Errorf("routing: verify advertisement: %w", err)
	}
	if !ok {
		return fmt.Errorf("routing: invalid advertisement signature")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	byAdvertiser, has := g.byTarget[a.TargetPeerID]
	if !has {
		byAdvertiser = make(map[string]RouteAdvertisement)
		g.byTarget[a.TargetPeerID] = byAdvertiser
	}
	if existing, ok := byAdvertiser[a.Advertiser]; ok && existing.Sequence >= a.Sequence {
		return nil
	}
	byAdvertiser[a.Advertiser] = a
	return nil
}

// AdvertisersFor returns every known route to target.
func (g *GlobalRoutes) AdvertisersFor(target string) []RouteAdvertisement {
	g.mu.Lock()
	defer g.mu.Unlock()
	byAdvertiser, ok := g.byTarget[target]
	if !ok {
		return nil
	}
	out := make([]RouteAdvertisement, 0, len(byAdvertiser))
	for _, a := range byAdvertiser {
		out = append(out, a)
	}
	return out
}
