// Package mesh implements the conflict-free envelope store and its
// IBLT-based set reconciliation protocol (§4.5–§4.7).
package mesh

import "golang.org/x/crypto/sha3"

// MessageID is a stable, collision-resistant identifier derived from an
// envelope's contents; the primary key of the MeshStore (§3).
type MessageID [16]byte

// ComputeMessageID derives a MessageID from the serialized envelope bytes
// (the wire form of a DriftEnvelope), grounded on the teacher's use of
// SHA3-256 for content-addressed identifiers (onion/address.go's checksum).
func ComputeMessageID(envelopeBytes []byte) MessageID {
	full := sha3.Sum256(envelopeBytes)
	var id MessageID
	copy(id[:], full[:16])
	return id
}

func sha3Sum(b []byte) [32]byte {
	return sha3.Sum256(b)
}
