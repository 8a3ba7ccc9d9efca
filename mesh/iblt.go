package mesh

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// DefaultK is the number of independent hash functions used per id, a
// standard IBLT parameter balancing peel success probability against
// per-insert cost.
const DefaultK = 4

type iBLTCell struct {
	count   int32
	idSum   MessageID
	hashSum uint64
}

// IBLT is a fixed-size invertible bloom lookup table over MessageIDs (§3,
// §4.6). It supports insert, delete, subtraction against another sketch of
// the same size, and peeling out the symmetric difference.
type IBLT struct {
	m     int
	k     int
	cells []iBLTCell
}

// NewIBLT creates an empty sketch with m cells and DefaultK hash functions.
func NewIBLT(m int) *IBLT {
	if m < 1 {
		m = 1
	}
	return &IBLT{m: m, k: DefaultK, cells: make([]iBLTCell, m)}
}

// M returns the sketch's cell count.
func (t *IBLT) M() int { return t.m }

func idHash(id MessageID) uint64 {
	h := sha3.Sum256(id[:])
	return binary.LittleEndian.Uint64(h[:8])
}

func (t *IBLT) indicesFor(id MessageID) []int {
	return hashIndices(id, t.k, t.m)
}

func hashIndices(id MessageID, k, m int) []int {
	idx := make([]int, k)
	seen := make(map[int]bool, k)
	for j := 0; j < k; j++ {
		h := sha3.New256()
		h.Write(id[:])
		h.Write([]byte{byte(j)})
		sum := h.Sum(nil)
		i := int(binary.LittleEndian.Uint64(sum[:8]) % uint64(m))
		// Linear-probe past a collision so k hash functions cover k
		// distinct cells whenever m >= k.
		for seen[i] {
			i = (i + 1) % m
		}
		seen[i] = true
		idx[j] = i
	}
	return idx
}

// Insert adds id to the sketch.
func (t *IBLT) Insert(id MessageID) {
	t.apply(id, 1)
}

// Delete removes id from the sketch.
func (t *IBLT) Delete(id MessageID) {
	t.apply(id, -1)
}

func (t *IBLT) apply(id MessageID, delta int32) {
	h := idHash(id)
	for _, i := range t.indicesFor(id) {
		c := &t.cells[i]
		c.count += delta
		for b := 0; b < 16; b++ {
			c.idSum[b] ^= id[b]
		}
		c.hashSum ^= h
	}
}

// Subtract returns a new sketch representing t minus other, cell by cell.
// Both sketches must share the same m.
func (t *IBLT) Subtract(other *IBLT) *IBLT {
	out := NewIBLT(t.m)
	out.k = t.k
	for i := range out.cells {
		out.cells[i] = iBLTCell{
			count:   t.cells[i].count - other.cells[i].count,
			hashSum: t.cells[i].hashSum ^ other.cells[i].hashSum,
		}
		for b := 0; b < 16; b++ {
			out.cells[i].idSum[b] = t.cells[i].idSum[b] ^ other.cells[i].idSum[b]
		}
	}
	return out
}

// PeelResult holds the symmetric difference recovered by Peel.
type PeelResult struct {
	// Added are ids present in the minuend (t) but not the subtrahend —
	// i.e. cells that peeled with count == +1.
	Added []MessageID
	// Removed are ids present in the subtrahend but not the minuend —
	// cells that peeled with count == -1.
	Removed []MessageID
	// Incomplete is true if pure cells ran out while non-zero cells remained.
	Incomplete bool
}

// Peel iteratively extracts pure cells (count == ±1 with a matching hash sum)
// until none remain, per §4.6. If residual non-empty cells remain, the
// result is Incomplete and the caller should double m and retry (§4.7).
func (t *IBLT) Peel() PeelResult {
	cells := make([]iBLTCell, len(t.cells))
	copy(cells, t.cells)

	var result PeelResult
	progress := true
	for progress {
		progress = false
		for i := range cells {
			c := &cells[i]
			if c.count != 1 && c.count != -1 {
				continue
			}
			if idHash(c.idSum) != c.hashSum {
				continue
			}
			id := c.idSum
			if c.count == 1 {
				result.Added = append(result.Added, id)
			} else {
				result.Removed = append(result.Removed, id)
			}

			delta := -c.count
			h := idHash(id)
			for _, j := range hashIndices(id, t.k, len(cells)) {
				cells[j].count += delta
				for b := 0; b < 16; b++ {
					cells[j].idSum[b] ^= id[b]
				}
				cells[j].hashSum ^= h
			}
			progress = true
		}
	}

	for _, c := range cells {
		if c.count != 0 || c.hashSum != 0 {
			result.Incomplete = true
			break
		}
	}
	return result
}
