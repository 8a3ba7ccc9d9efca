package routing

import "time"

// NextHopKind is the tagged-union discriminant for a RoutingDecision (§3, §9).
type NextHopKind int

const (
	NextHopDirect NextHopKind = iota
	NextHopViaGateway
	NextHopViaGlobal
	NextHopUnreachable
)

// RoutingDecision is the engine's tagged choice for a target peer (§3).
type RoutingDecision struct {
	Kind   NextHopKind
	Target string
	// Via is the gateway peer id (ViaGateway) or advertiser peer id
	// (ViaGlobal); empty for Direct and Unreachable.
	Via string
}

// Engine consults the three layers in order and returns a RoutingDecision
// plus a ranked candidate list for multi-path retry (§4.8).
type Engine struct {
	Local        *LocalCell
	Neighborhood *Table
	Global       *GlobalRoutes
	Reputation   *Tracker
}

// NewEngine wires the three layers and a reputation tracker together.
func NewEngine(local *LocalCell, neighborhood *Table, global *GlobalRoutes, reputation *Tracker) *Engine {
	return &Engine{Local: local, Neighborhood: neighborhood, Global: global, Reputation: reputation}
}

// Decide implements the §4.8 decision algorithm for target peer T.
func (e *Engine) Decide(target string) RoutingDecision {
	if e.Local.Reachable(target) {
		return RoutingDecision{Kind: NextHopDirect, Target: target}
	}

	if gateways := e.Neighborhood.GatewaysFor(target); len(gateways) > 0 {
		best := e.bestGateway(gateways)
		return RoutingDecision{Kind: NextHopViaGateway, Target: target, Via: best}
	}

	if ads := e.Global.AdvertisersFor(target); len(ads) > 0 {
		best := e.bestAdvertiser(ads)
		return RoutingDecision{Kind: NextHopViaGlobal, Target: target, Via: best}
	}

	return RoutingDecision{Kind: NextHopUnreachable, Target: target}
}

// bestGateway picks the gateway with the highest reputation among those
// advertising target; ties broken by hop count asc, then last-seen desc.
func (e *Engine) bestGateway(gateways []GatewayInfo) string {
	now := time.Now()
	bestIdx := 0
	for i := 1; i < len(gateways); i++ {
		if gatewayBetter(gateways[i], gateways[bestIdx], e.Reputation, now) {
			bestIdx = i
		}
	}
	return gateways[bestIdx].GatewayID
}

func gatewayBetter(a, b GatewayInfo, tracker *Tracker, now time.Time) bool {
	sa := tracker.For(a.GatewayID).Score(now)
	sb := tracker.For(b.GatewayID).Score(now)
	if sa != sb {
		return sa > sb
	}
	if a.HopCount != b.HopCount {
		return a.HopCount < b.HopCount
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func (e *Engine) bestAdvertiser(ads []RouteAdvertisement) string {
	now := time.Now()
	bestIdx := 0
	for i := 1; i < len(ads); i++ {
		sa := e.Reputation.For(ads[i].Advertiser).Score(now)
		sb := e.Reputation.For(ads[bestIdx].Advertiser).Score(now)
		if sa > sb || (sa == sb && ads[i].IssuedAt.After(ads[bestIdx].IssuedAt)) {
			bestIdx = i
		}
	}
	return ads[bestIdx].Advertiser
}

// RankedCandidates returns up to k candidate first-hop peer ids for
// multi-path retry: the direct target (if reachable), every gateway
// advertising it, then every global advertiser — each ranked by reputation.
func (e *Engine) RankedCandidates(target string, k int) []string {
	var candidates []string
	if e.Local.Reachable(target) {
		candidates = append(candidates, target)
	}
	for _, g := range e.Neighborhood.GatewaysFor(target) {
		candidates = append(candidates, g.GatewayID)
	}
	for _, a := range e.Global.AdvertisersFor(target) {
		candidates = append(candidates, a.Advertiser)
	}

	ranked := e.Reputation.Ranked(dedupe(candidates), time.Now())
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
