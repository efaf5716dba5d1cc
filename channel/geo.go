package channel

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/W4ashabii/meshapp/crypto"
)

// Geo channels are open-membership: the symmetric key is derived from the
// channel id alone, so anyone who knows the geohash and topic can derive
// it and participate anonymously. This matches the local-group model,
// where membership is by geography rather than pairwise authentication.

const (
	geoKeyInfo  = "meshapp geo channel key v1"
	selfKeyInfo = "meshapp self message key v1"
)

// DeriveGeoKey derives the symmetric key for an open-membership channel
// from its id via HKDF-SHA256.
func DeriveGeoKey(id ID) [32]byte {
	return deriveChannelKey(id, geoKeyInfo)
}

// deriveSelfKey derives the deterministic key for notes-to-self messages.
func deriveSelfKey(id ID) [32]byte {
	return deriveChannelKey(id, selfKeyInfo)
}

func deriveChannelKey(id ID, info string) [32]byte {
	var key [32]byte
	r := hkdf.New(sha256.New, id[:], nil, []byte(info))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		// HKDF over SHA256 cannot fail to produce 32 bytes.
		panic(fmt.Sprintf("hkdf expand failed: %v", err))
	}
	return key
}

// EncryptSelfMessage deterministically encrypts a message on the device's
// own notes channel. The nonce is derived from the message id so the same
// record encrypts identically, independent of session state.
func EncryptSelfMessage(id ID, messageID [32]byte, plaintext []byte) ([]byte, error) {
	key := deriveSelfKey(id)
	return crypto.EncryptSymmetric(plaintext, selfNonce(messageID), key)
}

// DecryptSelfMessage reverses EncryptSelfMessage.
func DecryptSelfMessage(id ID, messageID [32]byte, ciphertext []byte) ([]byte, error) {
	key := deriveSelfKey(id)
	return crypto.DecryptSymmetric(ciphertext, selfNonce(messageID), key)
}

func selfNonce(messageID [32]byte) crypto.Nonce {
	digest := sha256.Sum256(messageID[:])
	var nonce crypto.Nonce
	copy(nonce[:], digest[:crypto.NonceSize])
	return nonce
}
