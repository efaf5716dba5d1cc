// Package channel implements conversation channels for the mesh core:
// deterministic channel identifiers, the per-channel Noise IK session
// state machine for direct messages, and symmetric crypto for
// open-membership geohash channels.
//
// A channel id is a 32-byte digest. It identifies a conversation on the
// wire without revealing who participates: only the digest is ever
// transmitted or displayed.
package channel

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// IDSize is the size of a channel identifier in bytes.
const IDSize = 32

// ID identifies a conversation channel.
type ID [IDSize]byte

// Kind discriminates channel types.
type Kind string

const (
	// KindDirect is a pairwise direct-message channel.
	KindDirect Kind = "dm"
	// KindGeo is an open-membership geohash topic channel.
	KindGeo Kind = "geo"
)

// DeriveDirectID computes the direct channel id for two Ed25519 public
// keys: SHA256(min(a,b) || max(a,b)). Ordering by key bytes makes the id
// symmetric, so both peers derive it independently with no round-trip.
func DeriveDirectID(a, b [32]byte) ID {
	lo, hi := a, b
	if bytes.Compare(a[:], b[:]) > 0 {
		lo, hi = b, a
	}

	h := sha256.New()
	h.Write(lo[:])
	h.Write(hi[:])

	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// DeriveGeoID computes the channel id for a geohash topic:
// SHA256(geohash || topic).
func DeriveGeoID(geohash, topic string) ID {
	h := sha256.New()
	h.Write([]byte(geohash))
	h.Write([]byte(topic))

	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// String returns the hex encoding of the id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID decodes a hex channel id.
func ParseID(s string) (ID, error) {
	var id ID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, errors.New("channel id is not valid hex")
	}
	if len(raw) != IDSize {
		return ID{}, errors.New("channel id must be 32 bytes")
	}
	copy(id[:], raw)
	return id, nil
}
