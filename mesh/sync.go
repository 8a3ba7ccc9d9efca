package mesh

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncState is the sync-session state machine (§4.17).
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncLocalSketched
	SyncRemoteSketched
	SyncDiffed
	SyncExchanging
	SyncDone
	SyncFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "Idle"
	case SyncLocalSketched:
		return "LocalSketched"
	case SyncRemoteSketched:
		return "RemoteSketched"
	case SyncDiffed:
		return "Diffed"
	case SyncExchanging:
		return "Exchanging"
	case SyncDone:
		return "Done"
	case SyncFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// maxIBLTCeiling bounds exponential sketch growth before falling back to a
// full list exchange (§4.7 termination guarantee).
const maxIBLTCeiling = 1 << 16

// Session drives one IBLT-based reconciliation round between this store and
// a remote peer's store, one phase after another. It holds no lock of its
// own; its methods are not safe for concurrent use.
type Session struct {
	ID    string
	Store *Store
	State SyncState

	m int // current sketch size, doubled on peel failure
}

// NewSession starts a sync session against store with an initial sketch size.
func NewSession(store *Store, initialM int) *Session {
	if initialM < 1 {
		initialM = 32
	}
	return &Session{ID: uuid.NewString(), Store: store, State: SyncIdle, m: initialM}
}

// LocalSketch builds this side's IBLT over every id currently stored,
// transitioning Idle -> LocalSketched.
func (s *Session) LocalSketch() *IBLT {
	t := NewIBLT(s.m)
	for _, id := range s.Store.IDs() {
		t.Insert(id)
	}
	s.State = SyncLocalSketched
	return t
}

// Reconcile is the responder's half of §4.7 step 2: given the initiator's
// sketch, it subtracts and peels. On success it returns the ids the
// initiator is missing (present locally, absent remotely: the peel's Added
// list) and the ids this side is missing (the peel's Removed list), the caller's
// "missing envelopes" and "have_ids" respectively. On incomplete peel, the
// caller should grow m and ask the initiator to resend its sketch.
func (s *Session) Reconcile(remote *IBLT) (missingForInitiator []MessageID, missingForResponder []MessageID, complete bool) {
	if remote.M() != s.m {
		s.State = SyncFailed
		return nil, nil, false
	}

	local := s.LocalSketch()
	diff := local.Subtract(remote)
	peel := diff.Peel()
	if peel.Incomplete {
		s.State = SyncRemoteSketched
		return nil, nil, false
	}

	s.State = SyncDiffed
	// peel.Added: ids in local (responder) not in remote (initiator) — what
	// the initiator is missing. peel.Removed: ids in remote not in local —
	// what the responder is missing.
	return peel.Added, peel.Removed, true
}

// GrowSketch doubles the sketch size, capped at maxIBLTCeiling; once the
// ceiling is reached the caller should fall back to a full id-list exchange
// rather than growing further (§4.7).
func (s *Session) GrowSketch() (grewFurther bool) {
	if s.m >= maxIBLTCeiling {
		return false
	}
	s.m *= 2
	if s.m > maxIBLTCeiling {
		s.m = maxIBLTCeiling
	}
	return true
}

// MarkExchanging transitions Diffed -> Exchanging, entered once envelope
// transfer for the computed difference has begun.
func (s *Session) MarkExchanging() { s.State = SyncExchanging }

// MarkDone transitions to Done once both sides hold identical sets for every
// envelope whose fingerprint was included in the round (§4.7 invariant).
func (s *Session) MarkDone() { s.State = SyncDone }

// MarkFailed transitions to Failed (session expired, transport error, etc).
func (s *Session) MarkFailed() { s.State = SyncFailed }

// Wire-level sync messages, carried as the payload of drift.FrameTypeSyncReq
// / drift.FrameTypeSyncResp frames (§4.7).

// EncodeSyncReq serializes {m, iblt cells} for the SyncReq frame payload.
func EncodeSyncReq(t *IBLT) []byte {
	buf := make([]byte, 4+t.m*cellWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.m))
	encodeCells(buf[4:], t)
	return buf
}

// DecodeSyncReq parses a SyncReq payload back into an IBLT.
func DecodeSyncReq(b []byte) (*IBLT, error) {
	return decodeSketch(b)
}

// EncodeSyncResp serializes {iblt, have_ids} for the SyncResp frame payload:
// the responder's sketch (used when incomplete) followed by a count-prefixed
// list of ids the responder reports missing.
func EncodeSyncResp(t *IBLT, haveIDs []MessageID) []byte {
	sketch := EncodeSyncReq(t)
	buf := make([]byte, len(sketch)+4+len(haveIDs)*16)
	copy(buf, sketch)
	i := len(sketch)
	binary.LittleEndian.PutUint32(buf[i:i+4], uint32(len(haveIDs)))
	i += 4
	for _, id := range haveIDs {
		copy(buf[i:i+16], id[:])
		i += 16
	}
	return buf
}

// DecodeSyncResp is the inverse of EncodeSyncResp.
func DecodeSyncResp(b []byte) (*IBLT, []MessageID, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("mesh: sync resp too short")
	}
	m := int(binary.LittleEndian.Uint32(b[0:4]))
	sketchLen := 4 + m*cellWireSize
	if len(b) < sketchLen+4 {
		return nil, nil, fmt.Errorf("mesh: sync resp truncated")
	}
	t, err := decodeSketch(b[:sketchLen])
	if err != nil {
		return nil, nil, err
	}
	count := int(binary.LittleEndian.Uint32(b[sketchLen : sketchLen+4]))
	rest := b[sketchLen+4:]
	if len(rest) != count*16 {
		return nil, nil, fmt.Errorf("mesh: sync resp id list truncated")
	}
	ids := make([]MessageID, count)
	for i := 0; i < count; i++ {
		copy(ids[i][:], rest[i*16:(i+1)*16])
	}
	return t, ids, nil
}

const cellWireSize = 4 + 16 + 8 // count(int32) + idSum(16) + hashSum(uint64)

func encodeCells(buf []byte, t *IBLT) {
	for i, c := range t.cells {
		off := i * cellWireSize
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(c.count))
		copy(buf[off+4:off+20], c.idSum[:])
		binary.LittleEndian.PutUint64(buf[off+20:off+28], c.hashSum)
	}
}

func decodeSketch(b []byte) (*IBLT, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("mesh: sketch too short")
	}
	m := int(binary.LittleEndian.Uint32(b[0:4]))
	if m < 1 || len(b) != 4+m*cellWireSize {
		return nil, fmt.Errorf("mesh: sketch length mismatch for m=%d", m)
	}
	t := NewIBLT(m)
	body := b[4:]
	for i := 0; i < m; i++ {
		off := i * cellWireSize
		t.cells[i].count = int32(binary.LittleEndian.Uint32(body[off : off+4]))
		copy(t.cells[i].idSum[:], body[off+4:off+20])
		t.cells[i].hashSum = binary.LittleEndian.Uint64(body[off+20 : off+28])
	}
	return t, nil
}

// sessionTimeout is the time an in-flight exchange may remain Exchanging.
// Nothing in this package applies it: a Session never fails on its own, and
// only a caller's MarkFailed moves it to Failed.
const sessionTimeout = 60 * time.Second
