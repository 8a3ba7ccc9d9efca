package relay

import (
	"testing"
	"time"
)

func TestStoreRequestThenPullRequest(t *testing.T) {
	s := NewServer(10, time.Hour, 0)
	now := time.Now()

	accepted, rejected := s.StoreRequest("targetA", [][]byte{[]byte("m1"), []byte("m2")}, now)
	if accepted != 2 || rejected != 0 {
		t.Fatalf("StoreRequest() = (%d, %d), want (2, 0)", accepted, rejected)
	}

	pulled := s.PullRequest("targetA", uint64(now.Add(-time.Minute).Unix()))
	if len(pulled) != 2 {
		t.Fatalf("PullRequest() returned %d envelopes, want 2", len(pulled))
	}

	if s.QueueDepth("targetA") != 0 {
		t.Fatalf("QueueDepth() = %d after pull, want 0 (delivery-once)", s.QueueDepth("targetA"))
	}
}

func TestStoreRequestRejectsWhenFull(t *testing.T) {
	s := NewServer(2, time.Hour, 0)
	now := time.Now()

	s.StoreRequest("t", [][]byte{[]byte("a")}, now)
	s.StoreRequest("t", [][]byte{[]byte("b")}, now.Add(time.Second))
	accepted, rejected := s.StoreRequest("t", [][]byte{[]byte("c")}, now.Add(2*time.Second))
	if accepted != 0 || rejected != 1 {
		t.Fatalf("StoreRequest() = (%d, %d), want (0, 1) once the per-peer cap is reached", accepted, rejected)
	}

	if s.QueueDepth("t") != 2 {
		t.Fatalf("QueueDepth() = %d, want 2 (cap enforced)", s.QueueDepth("t"))
	}

	pulled := s.PullRequest("t", 0)
	if len(pulled) != 2 || string(pulled[0].Data) != "a" || string(pulled[1].Data) != "b" {
		t.Fatalf("PullRequest() = %+v, want [a, b] (new entry rejected, not evicted)", pulled)
	}
}

func TestPullRequestOnlyReturnsSinceTimestamp(t *testing.T) {
	s := NewServer(10, time.Hour, 0)
	base := time.Now()

	s.StoreRequest("t", [][]byte{[]byte("old")}, base)
	s.StoreRequest("t", [][]byte{[]byte("new")}, base.Add(time.Hour))

	pulled := s.PullRequest("t", uint64(base.Add(30*time.Minute).Unix()))
	if len(pulled) != 1 || string(pulled[0].Data) != "new" {
		t.Fatalf("PullRequest(since) = %+v, want only [new]", pulled)
	}
	if s.QueueDepth("t") != 1 {
		t.Fatalf("QueueDepth() = %d, want 1 (the unmatched old entry remains)", s.QueueDepth("t"))
	}
}

func TestCleanupExpiredRemovesStaleEnvelopes(t *testing.T) {
	s := NewServer(10, time.Minute, 0)
	now := time.Now()

	s.StoreRequest("t", [][]byte{[]byte("stale")}, now.Add(-time.Hour))
	s.CleanupExpired(now)

	if s.QueueDepth("t") != 0 {
		t.Fatalf("QueueDepth() = %d after cleanup, want 0", s.QueueDepth("t"))
	}
}

func TestStoreRequestRejectsOverBudget(t *testing.T) {
	s := NewServer(10, time.Hour, 4)
	now := time.Now()

	accepted, rejected := s.StoreRequest("t", [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")}, now)
	if accepted != 2 || rejected != 1 {
		t.Fatalf("StoreRequest() = (%d, %d), want (2, 1) once the byte budget is exhausted", accepted, rejected)
	}
}

func TestHandshakeRejectsWrongVersion(t *testing.T) {
	s := NewServer(10, time.Hour, 0)
	if _, err := s.Handshake("peerA", 99, Mobile()); err == nil {
		t.Fatalf("expected an error for a mismatched protocol version")
	}
}
