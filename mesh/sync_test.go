package mesh

import "testing"

func TestSessionReconcileConvergesStores(t *testing.T) {
	// S3: store S1 = {m1,m2,m3}, S2 = {m2,m3,m4}; after one round both equal
	// {m1,m2,m3,m4}.
	s1 := NewStore()
	s1.Insert(StoredEnvelope{ID: idFor(1)})
	s1.Insert(StoredEnvelope{ID: idFor(2)})
	s1.Insert(StoredEnvelope{ID: idFor(3)})

	s2 := NewStore()
	s2.Insert(StoredEnvelope{ID: idFor(2)})
	s2.Insert(StoredEnvelope{ID: idFor(3)})
	s2.Insert(StoredEnvelope{ID: idFor(4)})

	initiator := NewSession(s1, 32)
	responder := NewSession(s2, 32)

	initiatorSketch := initiator.LocalSketch()
	missingForInitiator, missingForResponder, complete := responder.Reconcile(initiatorSketch)
	if !complete {
		t.Fatalf("Reconcile() reported incomplete for a trivial difference")
	}

	// Apply the exchange: initiator receives what it's missing, responder
	// learns the id it's missing (it asks the initiator for it).
	for _, id := range missingForInitiator {
		if e, ok := s2.Get(id); ok {
			s1.Insert(e)
		} else {
			s1.Insert(StoredEnvelope{ID: id})
		}
	}
	for _, id := range missingForResponder {
		if e, ok := s1.Get(id); ok {
			s2.Insert(e)
		} else {
			s2.Insert(StoredEnvelope{ID: id})
		}
	}
	initiator.MarkExchanging()
	responder.MarkExchanging()
	initiator.MarkDone()
	responder.MarkDone()

	want := []MessageID{idFor(1), idFor(2), idFor(3), idFor(4)}
	for _, id := range want {
		if !s1.Contains(id) {
			t.Fatalf("s1 missing %v after sync", id)
		}
		if !s2.Contains(id) {
			t.Fatalf("s2 missing %v after sync", id)
		}
	}
	if initiator.State != SyncDone || responder.State != SyncDone {
		t.Fatalf("sessions not Done: initiator=%v responder=%v", initiator.State, responder.State)
	}
}

func TestSessionGrowSketchCapsAtCeiling(t *testing.T) {
	s := NewSession(NewStore(), maxIBLTCeiling)
	if grew := s.GrowSketch(); grew {
		t.Fatalf("GrowSketch() at ceiling reported growth")
	}
}

func TestSyncReqRoundTrip(t *testing.T) {
	t1 := NewIBLT(16)
	t1.Insert(idFor(5))
	t1.Insert(idFor(6))

	buf := EncodeSyncReq(t1)
	got, err := DecodeSyncReq(buf)
	if err != nil {
		t.Fatalf("DecodeSyncReq: %v", err)
	}
	if got.M() != t1.M() {
		t.Fatalf("DecodeSyncReq().M() = %d, want %d", got.M(), t1.M())
	}
}

func TestSyncRespRoundTrip(t *testing.T) {
	t1 := NewIBLT(8)
	t1.Insert(idFor(1))
	have := []MessageID{idFor(2), idFor(3)}

	buf := EncodeSyncResp(t1, have)
	gotSketch, gotHave, err := DecodeSyncResp(buf)
	if err != nil {
		t.Fatalf("DecodeSyncResp: %v", err)
	}
	if gotSketch.M() != t1.M() {
		t.Fatalf("sketch M mismatch: got %d want %d", gotSketch.M(), t1.M())
	}
	if len(gotHave) != 2 || gotHave[0] != have[0] || gotHave[1] != have[1] {
		t.Fatalf("DecodeSyncResp() have ids = %v, want %v", gotHave, have)
	}
}
