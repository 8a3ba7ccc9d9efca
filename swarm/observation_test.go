package swarm

import (
	"testing"
	"time"
)

func TestAddressObserverConsensus(t *testing.T) {
	o := NewAddressObserver()
	now := time.Now()

	o.RecordObservation("peerA", "203.0.113.5:9000", now)
	o.RecordObservation("peerB", "203.0.113.5:9000", now.Add(time.Second))
	o.RecordObservation("peerC", "198.51.100.1:9000", now.Add(2*time.Second))

	if got := o.PrimaryExternalAddress(); got != "203.0.113.5:9000" {
		t.Fatalf("PrimaryExternalAddress() = %s, want the address confirmed by two observers", got)
	}

	addrs := o.ExternalAddresses()
	if len(addrs) != 2 {
		t.Fatalf("ExternalAddresses() = %v, want 2 distinct addresses", addrs)
	}
}

func TestAddressObserverSameObserverReplacesPriorReport(t *testing.T) {
	o := NewAddressObserver()
	now := time.Now()

	o.RecordObservation("peerA", "203.0.113.5:9000", now)
	o.RecordObservation("peerA", "203.0.113.5:9001", now.Add(time.Second))

	obs := o.AllObservations()
	if len(obs) != 1 {
		t.Fatalf("len(AllObservations()) = %d, want 1 (same observer overwrites its prior report)", len(obs))
	}
	if obs[0].Address != "203.0.113.5:9001" {
		t.Fatalf("Address = %s, want the observer's latest report", obs[0].Address)
	}
}

func TestAddressObserverExpiry(t *testing.T) {
	o := NewAddressObserver()
	stale := time.Now().Add(-time.Hour)
	o.RecordObservation("peerA", "203.0.113.5:9000", stale)

	o.ExpireOldObservations(time.Now())

	if got := o.PrimaryExternalAddress(); got != "" {
		t.Fatalf("PrimaryExternalAddress() = %s, want empty after expiry", got)
	}
}

func TestAddressObserverEmpty(t *testing.T) {
	o := NewAddressObserver()
	if got := o.PrimaryExternalAddress(); got != "" {
		t.Fatalf("PrimaryExternalAddress() = %s, want empty with no observations", got)
	}
}
