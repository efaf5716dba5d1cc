package identity

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/W4ashabii/meshapp/crypto"
)

// Bundle is the transferable public identity, suitable for encoding as a
// QR code. It contains no secret material. The signature covers the user
// id and both public keys, binding the X25519 exchange key to the
// Ed25519 identity: a bundle with a swapped exchange key will not
// verify.
type Bundle struct {
	UserID        string `json:"user_id"`
	Ed25519Public string `json:"ed25519_public"`
	X25519Public  string `json:"x25519_public"`
	Signature     string `json:"signature"`
}

var (
	// ErrBundleInvalid indicates the bundle could not be parsed.
	ErrBundleInvalid = errors.New("invalid identity bundle")
	// ErrBundleMismatch indicates the embedded user id does not match
	// the embedded public key. Such bundles are rejected outright.
	ErrBundleMismatch = errors.New("bundle user id does not match public key")
	// ErrBundleSignature indicates the bundle's signature does not verify
	// under its own Ed25519 key, so the exchange key cannot be trusted.
	ErrBundleSignature = errors.New("bundle signature verification failed")
)

// bundleSigningInput is the canonical byte string the bundle signature
// covers.
func bundleSigningInput(userID crypto.UserID, edPublic, xPublic [32]byte) []byte {
	msg := make([]byte, 0, len(userID)+64)
	msg = append(msg, userID[:]...)
	msg = append(msg, edPublic[:]...)
	msg = append(msg, xPublic[:]...)
	return msg
}

// Export serializes the public identity for sharing, signed with the
// device's Ed25519 key.
func (id *Identity) Export() ([]byte, error) {
	sig, err := crypto.Sign(bundleSigningInput(id.UserID, id.Signing.Public, id.Exchange.Public), id.Signing.Private)
	if err != nil {
		return nil, fmt.Errorf("failed to sign bundle: %w", err)
	}

	bundle := Bundle{
		UserID:        id.UserID.String(),
		Ed25519Public: hex.EncodeToString(id.Signing.Public[:]),
		X25519Public:  hex.EncodeToString(id.Exchange.Public[:]),
		Signature:     hex.EncodeToString(sig[:]),
	}

	data, err := json.Marshal(&bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize bundle: %w", err)
	}
	return data, nil
}

// PublicIdentity is a verified remote identity parsed from a bundle.
type PublicIdentity struct {
	UserID        crypto.UserID
	Ed25519Public [32]byte
	X25519Public  [32]byte
}

// ParseBundle parses an exported identity bundle, re-deriving the user id
// from the embedded Ed25519 public key and rejecting the bundle when the
// embedded id disagrees or the signature does not verify. Neither the id
// nor the exchange key is ever trusted blindly.
func ParseBundle(data []byte) (*PublicIdentity, error) {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleInvalid, err)
	}

	edPublic, err := crypto.ParsePublicKey(bundle.Ed25519Public)
	if err != nil {
		return nil, fmt.Errorf("%w: ed25519 key: %v", ErrBundleInvalid, err)
	}
	xPublic, err := crypto.ParsePublicKey(bundle.X25519Public)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519 key: %v", ErrBundleInvalid, err)
	}

	claimed, err := crypto.ParseUserID(bundle.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: user id: %v", ErrBundleInvalid, err)
	}

	derived := crypto.DeriveUserID(edPublic)
	if derived != claimed {
		return nil, ErrBundleMismatch
	}

	rawSig, err := hex.DecodeString(bundle.Signature)
	if err != nil || len(rawSig) != crypto.SignatureSize {
		return nil, fmt.Errorf("%w: signature", ErrBundleInvalid)
	}
	var sig crypto.Signature
	copy(sig[:], rawSig)

	ok, err := crypto.Verify(bundleSigningInput(derived, edPublic, xPublic), sig, edPublic)
	if err != nil || !ok {
		return nil, ErrBundleSignature
	}

	return &PublicIdentity{
		UserID:        derived,
		Ed25519Public: edPublic,
		X25519Public:  xPublic,
	}, nil
}
