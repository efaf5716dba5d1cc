package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// UserIDSize is the size of a user identifier in bytes.
const UserIDSize = 32

// FingerprintLength is the number of hex characters in a display
// fingerprint.
const FingerprintLength = 16

// UserID is the stable identifier of a device: SHA256 of its Ed25519
// public key. It is safe to display and transmit.
type UserID [UserIDSize]byte

// DeriveUserID computes the user id for an Ed25519 public key.
func DeriveUserID(ed25519Public [32]byte) UserID {
	return UserID(sha256.Sum256(ed25519Public[:]))
}

// Fingerprint returns the short human-displayable form of a user id: the
// first 16 hex characters.
func Fingerprint(id UserID) string {
	return hex.EncodeToString(id[:])[:FingerprintLength]
}

// String returns the full hex encoding of the user id.
func (id UserID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseUserID decodes a full hex user id string.
func ParseUserID(s string) (UserID, error) {
	var id UserID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return UserID{}, errors.New("user id is not valid hex")
	}
	if len(raw) != UserIDSize {
		return UserID{}, errors.New("user id must be 32 bytes")
	}
	copy(id[:], raw)
	return id, nil
}

// ParsePublicKey decodes a 32-byte public key from its hex encoding.
func ParsePublicKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, errors.New("public key is not valid hex")
	}
	if len(raw) != 32 {
		return key, errors.New("public key must be 32 bytes")
	}
	copy(key[:], raw)
	return key, nil
}
