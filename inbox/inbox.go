// Package inbox implements the at-most-once delivery boundary: a bounded
// set of seen message ids, evicted FIFO once full (§4.16), grounded on
// simplelru.LRU usage in the pack (op-node/p2p/sync.go's trusted/quarantine
// caches).
package inbox

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/cvsouth/driftmesh/mesh"
)

// DefaultCap bounds how many message ids the inbox remembers before the
// oldest is evicted to make room for a new one (§4.16).
const DefaultCap = 50000

// Inbox is the dedup filter application code checks every inbound message
// against before acting on it.
type Inbox struct {
	mu   sync.Mutex
	seen *simplelru.LRU[mesh.MessageID, struct{}]
}

// New creates an inbox with the given capacity; capacity <= 0 uses DefaultCap.
func New(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	l, _ := simplelru.NewLRU[mesh.MessageID, struct{}](capacity, nil)
	return &Inbox{seen: l}
}

// Receive reports whether id is new (true) or a duplicate already seen
// (false), recording it as seen either way.
func (i *Inbox) Receive(id mesh.MessageID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.seen.Contains(id) {
		return false
	}
	i.seen.Add(id, struct{}{})
	return true
}

// Len reports how many message ids are currently remembered.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen.Len()
}
