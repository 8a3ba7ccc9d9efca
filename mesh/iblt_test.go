package mesh

import (
	"sort"
	"testing"
)

func idsFromBytes(bs ...byte) []MessageID {
	ids := make([]MessageID, len(bs))
	for i, b := range bs {
		ids[i] = idFor(b)
	}
	return ids
}

func sortIDs(ids []MessageID) {
	sort.Slice(ids, func(i, j int) bool { return string(ids[i][:]) < string(ids[j][:]) })
}

func TestIBLTReconcileSmallDifference(t *testing.T) {
	a := NewIBLT(32)
	b := NewIBLT(32)

	shared := idsFromBytes(1, 2)
	onlyA := idsFromBytes(3)
	onlyB := idsFromBytes(4)

	for _, id := range append(append([]MessageID{}, shared...), onlyA...) {
		a.Insert(id)
	}
	for _, id := range append(append([]MessageID{}, shared...), onlyB...) {
		b.Insert(id)
	}

	diff := a.Subtract(b)
	result := diff.Peel()
	if result.Incomplete {
		t.Fatalf("Peel() reported incomplete for a small symmetric difference")
	}

	sortIDs(result.Added)
	sortIDs(result.Removed)
	wantAdded := idsFromBytes(3)
	wantRemoved := idsFromBytes(4)

	if len(result.Added) != len(wantAdded) || result.Added[0] != wantAdded[0] {
		t.Fatalf("Peel().Added = %v, want %v", result.Added, wantAdded)
	}
	if len(result.Removed) != len(wantRemoved) || result.Removed[0] != wantRemoved[0] {
		t.Fatalf("Peel().Removed = %v, want %v", result.Removed, wantRemoved)
	}
}

func TestIBLTPeelEmptyDifference(t *testing.T) {
	a := NewIBLT(16)
	b := NewIBLT(16)
	for _, id := range idsFromBytes(1, 2, 3) {
		a.Insert(id)
		b.Insert(id)
	}
	diff := a.Subtract(b)
	result := diff.Peel()
	if result.Incomplete {
		t.Fatalf("Peel() incomplete for identical sets")
	}
	if len(result.Added) != 0 || len(result.Removed) != 0 {
		t.Fatalf("Peel() on identical sets = %+v, want empty", result)
	}
}

func TestIBLTPeelIncompleteOnOversizedDifference(t *testing.T) {
	a := NewIBLT(8)
	b := NewIBLT(8)
	for i := byte(0); i < 40; i++ {
		a.Insert(idFor(i))
	}
	diff := a.Subtract(b)
	result := diff.Peel()
	if !result.Incomplete {
		t.Fatalf("Peel() expected incomplete for a large symmetric difference against a tiny sketch")
	}
}

func TestIBLTInsertDeleteCancels(t *testing.T) {
	t1 := NewIBLT(32)
	id := idFor(9)
	t1.Insert(id)
	t1.Delete(id)

	empty := NewIBLT(32)
	diff := t1.Subtract(empty)
	result := diff.Peel()
	if result.Incomplete || len(result.Added) != 0 || len(result.Removed) != 0 {
		t.Fatalf("insert then delete left residual entries: %+v", result)
	}
}
