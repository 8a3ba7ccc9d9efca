package routing

import (
	"time"
)

// RetryConfig parameterizes exponential backoff (§4.9, §8 property 11).
type RetryConfig struct {
	Initial    time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultRetryConfig mirrors the relay client's capped backoff (§4.15).
var DefaultRetryConfig = RetryConfig{
	Initial:    1 * time.Second,
	Multiplier: 2.0,
	MaxDelay:   60 * time.Second,
}

// CalculateDelay returns initial*mult^attempt, capped at max_delay. Attempt
// is zero-based: CalculateDelay(cfg, 0) == cfg.Initial.
func CalculateDelay(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(cfg.Initial)
	for i := 0; i < attempt; i++ {
		delay *= cfg.Multiplier
		if delay >= float64(cfg.MaxDelay) {
			return cfg.MaxDelay
		}
	}
	d := time.Duration(delay)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

// Attempt describes one retry cycle's path choice, grounded on
// pathselect.Path's named-hop shape generalized to a single next-hop id.
type Attempt struct {
	PathIndex int
	PeerID    string
	Delay     time.Duration
}

// Planner cycles through a ranked candidate list, widening the delay between
// attempts and never abandoning a pending delivery — it always has a next
// path to offer (§4.9: "continuous retry ... cycles paths and widens time
// between attempts").
type Planner struct {
	cfg        RetryConfig
	candidates []string
	attempt    int
}

// NewPlanner starts a retry plan over candidates (typically
// Engine.RankedCandidates's output).
func NewPlanner(cfg RetryConfig, candidates []string) *Planner {
	return &Planner{cfg: cfg, candidates: candidates}
}

// Next returns the next attempt to make, cycling through candidates once
// exhausted rather than giving up.
func (p *Planner) Next() Attempt {
	if len(p.candidates) == 0 {
		return Attempt{Delay: CalculateDelay(p.cfg, p.attempt)}
	}
	idx := p.attempt % len(p.candidates)
	a := Attempt{
		PathIndex: idx,
		PeerID:    p.candidates[idx],
		Delay:     CalculateDelay(p.cfg, p.attempt),
	}
	p.attempt++
	return a
}

// Reset clears the attempt counter, e.g. after a successful delivery.
func (p *Planner) Reset() { p.attempt = 0 }
