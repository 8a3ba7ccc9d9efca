package swarm

import (
	"sort"
	"sync"
	"time"
)

// observationExpiry drops an address observation that hasn't been refreshed
// in this long, mirroring the original transport layer's staleness window.
const observationExpiry = 30 * time.Minute

// AddressObservation is one peer's report of what external address it saw
// us connect from, folded together across repeated reports of the same
// address (original_source/core/src/transport/observation.rs).
type AddressObservation struct {
	Observer         string
	Address          string
	Timestamp        time.Time
	ConfirmationCount int
}

// AddressObserver accumulates address observations reported by peers and
// derives a consensus external address, the Go side of the NAT reflection
// protocol (§4.11, §4.13).
type AddressObserver struct {
	mu                     sync.Mutex
	observations           map[string]AddressObservation // keyed by observer peer id
	cachedExternalAddresses []string
}

// NewAddressObserver creates an empty observer.
func NewAddressObserver() *AddressObserver {
	return &AddressObserver{observations: make(map[string]AddressObservation)}
}

// RecordObservation folds in a new report from observer that it saw us at
// address. Repeated reports of the same address from different observers
// accumulate a confirmation count used to rank consensus.
func (o *AddressObserver) RecordObservation(observer, address string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	count := 1
	if prev, ok := o.observations[observer]; ok && prev.Address == address {
		count = prev.ConfirmationCount + 1
	}
	o.observations[observer] = AddressObservation{
		Observer:          observer,
		Address:           address,
		Timestamp:         at,
		ConfirmationCount: count,
	}
	o.recalculateConsensusLocked()
}

// ExternalAddresses returns the current consensus-ranked external address
// list, most-confirmed first.
func (o *AddressObserver) ExternalAddresses() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.cachedExternalAddresses))
	copy(out, o.cachedExternalAddresses)
	return out
}

// PrimaryExternalAddress returns the single best-supported address, or ""
// if no observations have been recorded.
func (o *AddressObserver) PrimaryExternalAddress() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.cachedExternalAddresses) == 0 {
		return ""
	}
	return o.cachedExternalAddresses[0]
}

// AllObservations returns a snapshot of every live observation.
func (o *AddressObserver) AllObservations() []AddressObservation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]AddressObservation, 0, len(o.observations))
	for _, ob := range o.observations {
		out = append(out, ob)
	}
	return out
}

// ExpireOldObservations drops observations older than observationExpiry
// relative to now, then recomputes consensus.
func (o *AddressObserver) ExpireOldObservations(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, ob := range o.observations {
		if now.Sub(ob.Timestamp) > observationExpiry {
			delete(o.observations, k)
		}
	}
	o.recalculateConsensusLocked()
}

// recalculateConsensusLocked groups live observations by address, summing
// one confirmation per distinct observer, and ranks addresses by total
// confirmations descending (ties broken by most-recent timestamp).
func (o *AddressObserver) recalculateConsensusLocked() {
	type tally struct {
		address string
		count   int
		latest  time.Time
	}
	byAddress := make(map[string]*tally)
	for _, ob := range o.observations {
		t, ok := byAddress[ob.Address]
		if !ok {
			t = &tally{address: ob.Address}
			byAddress[ob.Address] = t
		}
		t.count++
		if ob.Timestamp.After(t.latest) {
			t.latest = ob.Timestamp
		}
	}

	list := make([]*tally, 0, len(byAddress))
	for _, t := range byAddress {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].latest.After(list[j].latest)
	})

	addrs := make([]string, len(list))
	for i, t := range list {
		addrs[i] = t.address
	}
	o.cachedExternalAddresses = addrs
}

// Observer exposes the swarm's address observer.
func (s *Swarm) Observer() *AddressObserver { return s.observer }
