package routing

import (
	"testing"
	"time"
)

func TestEngineDirectPreferred(t *testing.T) {
	local := NewLocalCell()
	local.Apply(PeerEvent{PeerID: "T", Kind: PeerEventConnected, At: time.Now()})

	e := NewEngine(local, NewTable(time.Hour), NewGlobalRoutes(), NewTracker())
	d := e.Decide("T")
	if d.Kind != NextHopDirect {
		t.Fatalf("Decide() = %+v, want Direct", d)
	}
}

func TestEngineViaGatewayWhenNoDirectPeer(t *testing.T) {
	local := NewLocalCell()
	nbr := NewTable(time.Hour)
	nbr.Ingest(NeighborhoodGossip{FromGateway: "G1", Summary: CellSummary{PeerIDs: []string{"T"}}, Sequence: 1})

	tracker := NewTracker()
	tracker.For("G1").RecordOutcome(true, 10*time.Millisecond, 100, time.Now())

	e := NewEngine(local, nbr, NewGlobalRoutes(), tracker)
	d := e.Decide("T")
	if d.Kind != NextHopViaGateway || d.Via != "G1" {
		t.Fatalf("Decide() = %+v, want ViaGateway(G1)", d)
	}
}

func TestEngineViaGatewayPrefersBestReputation(t *testing.T) {
	local := NewLocalCell()
	nbr := NewTable(time.Hour)
	nbr.Ingest(NeighborhoodGossip{FromGateway: "G1", Summary: CellSummary{PeerIDs: []string{"T"}}, Sequence: 1})
	nbr.Ingest(NeighborhoodGossip{FromGateway: "G2", Summary: CellSummary{PeerIDs: []string{"T"}}, Sequence: 1})

	tracker := NewTracker()
	now := time.Now()
	tracker.For("G1").RecordOutcome(false, 0, 0, now)
	tracker.For("G2").RecordOutcome(true, 10*time.Millisecond, 1000, now)
	tracker.For("G2").RecordOutcome(true, 10*time.Millisecond, 1000, now)

	e := NewEngine(local, nbr, NewGlobalRoutes(), tracker)
	d := e.Decide("T")
	if d.Kind != NextHopViaGateway || d.Via != "G2" {
		t.Fatalf("Decide() = %+v, want ViaGateway(G2)", d)
	}
}

func TestEngineUnreachable(t *testing.T) {
	e := NewEngine(NewLocalCell(), NewTable(time.Hour), NewGlobalRoutes(), NewTracker())
	d := e.Decide("nobody")
	if d.Kind != NextHopUnreachable {
		t.Fatalf("Decide() = %+v, want Unreachable", d)
	}
}

func TestRetryBackoffMonotonic(t *testing.T) {
	cfg := DefaultRetryConfig
	prev := CalculateDelay(cfg, 0)
	for n := 1; n < 20; n++ {
		d := CalculateDelay(cfg, n)
		if d < prev {
			t.Fatalf("CalculateDelay(%d) = %v < CalculateDelay(%d) = %v", n, d, n-1, prev)
		}
		if d > cfg.MaxDelay {
			t.Fatalf("CalculateDelay(%d) = %v exceeds MaxDelay %v", n, d, cfg.MaxDelay)
		}
		prev = d
	}
}

func TestRetryPlannerCyclesPaths(t *testing.T) {
	p := NewPlanner(DefaultRetryConfig, []string{"A", "B", "C"})
	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		a := p.Next()
		seen[a.PeerID]++
	}
	for _, id := range []string{"A", "B", "C"} {
		if seen[id] != 2 {
			t.Fatalf("peer %s visited %d times, want 2", id, seen[id])
		}
	}
}

func TestReputationIsReliableThreshold(t *testing.T) {
	r := NewReputation()
	now := time.Now()
	for i := 0; i < 20; i++ {
		r.RecordOutcome(true, 5*time.Millisecond, 500, now)
	}
	if !r.IsReliable(now) {
		t.Fatalf("IsReliable() = false for a consistently successful peer, score=%v", r.Score(now))
	}

	flaky := NewReputation()
	for i := 0; i < 20; i++ {
		flaky.RecordOutcome(false, 0, 0, now.Add(-48*time.Hour))
	}
	if flaky.IsReliable(now) {
		t.Fatalf("IsReliable() = true for a consistently failing, stale peer")
	}
}
