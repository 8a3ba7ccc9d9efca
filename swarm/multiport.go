package swarm

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"syscall"
)

// BindOutcome tags the result of one candidate address bind attempt (§4.13).
type BindOutcome int

const (
	BindSuccess BindOutcome = iota
	BindFailedPermission
	BindFailedInUse
	BindFailedOther
	BindSkipped
)

func (o BindOutcome) String() string {
	switch o {
	case BindSuccess:
		return "success"
	case BindFailedPermission:
		return "failed_permission"
	case BindFailedInUse:
		return "failed_in_use"
	case BindFailedOther:
		return "failed_other"
	default:
		return "skipped"
	}
}

// PortKind distinguishes the priority/ephemeral/custom roles a candidate
// address plays in the connectivity summary (§4.13).
type PortKind int

const (
	PortPriority PortKind = iota
	PortEphemeral
	PortCustom
)

// BindCandidate is one address this node attempted (or skipped) to bind.
type BindCandidate struct {
	Addr    string
	Kind    PortKind
	Outcome BindOutcome
}

// MultiportConfig lists the priority ports and IP families to probe,
// plus any operator-configured custom ports (§4.13).
type MultiportConfig struct {
	PriorityPorts []int // default 443, 80
	CustomPorts   []int
	EnableIPv4    bool
	EnableIPv6    bool
}

// DefaultMultiportConfig returns the standard priority-port set over IPv4.
func DefaultMultiportConfig() MultiportConfig {
	return MultiportConfig{
		PriorityPorts: []int{443, 80},
		EnableIPv4:    true,
	}
}

// ConnectivityStatus summarizes which candidate classes bound successfully
// (§4.13).
type ConnectivityStatus int

const (
	ConnectivityNone ConnectivityStatus = iota
	ConnectivityLimited
	ConnectivityModerate
	ConnectivityGood
	ConnectivityExcellent
)

func (c ConnectivityStatus) String() string {
	switch c {
	case ConnectivityExcellent:
		return "excellent"
	case ConnectivityGood:
		return "good"
	case ConnectivityModerate:
		return "moderate"
	case ConnectivityLimited:
		return "limited"
	default:
		return "none"
	}
}

// BuildCandidates constructs the ordered candidate address list: priority
// ports first, then one random ephemeral port, each for every enabled IP
// family, followed by any custom ports (§4.13).
func BuildCandidates(cfg MultiportConfig) ([]BindCandidate, error) {
	var families []string
	if cfg.EnableIPv4 {
		families = append(families, "0.0.0.0")
	}
	if cfg.EnableIPv6 {
		families = append(families, "[::]")
	}
	if len(families) == 0 {
		return nil, errors.New("swarm: MultiportConfig enables no IP family")
	}

	var candidates []BindCandidate
	for _, port := range cfg.PriorityPorts {
		for _, host := range families {
			candidates = append(candidates, BindCandidate{Addr: fmt.Sprintf("%s:%d", host, port), Kind: PortPriority})
		}
	}

	ephemeral, err := randomEphemeralPort()
	if err != nil {
		return nil, fmt.Errorf("swarm: choose ephemeral port: %w", err)
	}
	for _, host := range families {
		candidates = append(candidates, BindCandidate{Addr: fmt.Sprintf("%s:%d", host, ephemeral), Kind: PortEphemeral})
	}

	for _, port := range cfg.CustomPorts {
		for _, host := range families {
			candidates = append(candidates, BindCandidate{Addr: fmt.Sprintf("%s:%d", host, port), Kind: PortCustom})
		}
	}

	return candidates, nil
}

// randomEphemeralPort picks a port in the dynamic/private range
// (49152-65535) without modulo bias.
func randomEphemeralPort() (int, error) {
	const lo, span = 49152, 65535 - 49152 + 1
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, err
	}
	return lo + int(n.Int64()), nil
}

// AttemptBinds tries to bind each candidate in turn (closing successful
// binds immediately, since this is a capability probe not a real listener
// setup) and records the outcome on each candidate.
func AttemptBinds(candidates []BindCandidate) []BindCandidate {
	out := make([]BindCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].Outcome = attemptBind(out[i].Addr)
	}
	return out
}

func attemptBind(addr string) BindOutcome {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return classifyBindError(err)
	}
	_ = ln.Close()
	return BindSuccess
}

func classifyBindError(err error) BindOutcome {
	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return BindFailedPermission
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return BindFailedInUse
	}
	return BindFailedOther
}

// SummarizeConnectivity reduces a set of bind results into the §4.13
// connectivity tiers.
func SummarizeConnectivity(results []BindCandidate) ConnectivityStatus {
	var havePriority, haveEphemeral, haveCustom bool
	for _, c := range results {
		if c.Outcome != BindSuccess {
			continue
		}
		switch c.Kind {
		case PortPriority:
			havePriority = true
		case PortEphemeral:
			haveEphemeral = true
		case PortCustom:
			haveCustom = true
		}
	}

	switch {
	case havePriority && haveEphemeral:
		return ConnectivityExcellent
	case havePriority:
		return ConnectivityGood
	case haveEphemeral:
		return ConnectivityModerate
	case haveCustom:
		return ConnectivityLimited
	default:
		return ConnectivityNone
	}
}
