// Package crypto implements the cryptographic primitives for the mesh
// messenger core.
//
// It covers long-term key material (an Ed25519 signing pair plus an X25519
// exchange pair per device), user id and fingerprint derivation, symmetric
// authenticated encryption for open-membership channels, and secure wiping
// of secret material. Pairwise session encryption lives in the channel
// package on top of the Noise IK handshake; this package only supplies the
// static keys it consumes.
//
// Example:
//
//	signing, err := crypto.GenerateSigningKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	userID := crypto.DeriveUserID(signing.Public)
//	fmt.Println("Fingerprint:", crypto.Fingerprint(userID))
package crypto
