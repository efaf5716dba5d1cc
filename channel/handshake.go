package channel

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"

	"github.com/W4ashabii/meshapp/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates handshake is already complete.
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// HandshakeRole defines whether we initiate or respond to a handshake.
type HandshakeRole uint8

const (
	// Initiator starts the handshake and must know the peer's static key.
	Initiator HandshakeRole = iota
	// Responder answers a handshake initiation.
	Responder
)

// ikHandshake runs the Noise IK pattern over X25519/ChaChaPoly/SHA256.
// IK fits direct channels: the initiator already holds the responder's
// static public key from the contact registry, both parties authenticate,
// and the ephemeral exchange gives the transport keys forward secrecy.
type ikHandshake struct {
	role       HandshakeRole
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

// newIKHandshake creates an IK handshake from our static X25519 key pair.
// peerPublic is required for the initiator and ignored for the responder.
func newIKHandshake(local *crypto.KeyPair, peerPublic []byte, role HandshakeRole) (*ikHandshake, error) {
	if local == nil {
		return nil, errors.New("local static key required")
	}
	if role == Initiator && len(peerPublic) != 32 {
		return nil, fmt.Errorf("initiator requires peer public key (32 bytes), got %d", len(peerPublic))
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, local.Private[:])
	copy(staticKey.Public, local.Public[:])

	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	config := noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}

	if role == Initiator {
		config.PeerStatic = make([]byte, 32)
		copy(config.PeerStatic, peerPublic)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &ikHandshake{role: role, state: state}, nil
}

// writeInitial produces the initiator's first message (-> e, es, s, ss).
// The initiator is not complete until the responder's reply is read.
func (ik *ikHandshake) writeInitial() ([]byte, error) {
	if ik.complete {
		return nil, ErrHandshakeComplete
	}
	if ik.role != Initiator {
		return nil, errors.New("only initiator writes the initial message")
	}

	message, sendCipher, recvCipher, err := ik.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("initiator write failed: %w", err)
	}
	ik.sendCipher = sendCipher
	ik.recvCipher = recvCipher

	return message, nil
}

// respond reads the initiator's message and produces the responder's reply
// (<- e, ee, se). The responder completes after its reply.
func (ik *ikHandshake) respond(received []byte) ([]byte, error) {
	if ik.complete {
		return nil, ErrHandshakeComplete
	}
	if ik.role != Responder {
		return nil, errors.New("only responder can respond")
	}

	if _, _, _, err := ik.state.ReadMessage(nil, received); err != nil {
		return nil, fmt.Errorf("responder read failed: %w", err)
	}

	message, sendCipher, recvCipher, err := ik.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("responder write failed: %w", err)
	}

	ik.sendCipher = sendCipher
	ik.recvCipher = recvCipher
	ik.complete = true

	return message, nil
}

// finish consumes the responder's reply on the initiator side, completing
// the handshake.
func (ik *ikHandshake) finish(received []byte) error {
	if ik.complete {
		return ErrHandshakeComplete
	}
	if ik.role != Initiator {
		return errors.New("only initiator finishes with the responder reply")
	}

	_, recvCipher, sendCipher, err := ik.state.ReadMessage(nil, received)
	if err != nil {
		return fmt.Errorf("initiator read response failed: %w", err)
	}

	ik.recvCipher = recvCipher
	ik.sendCipher = sendCipher
	ik.complete = true
	return nil
}

// cipherStates returns the directional transport ciphers after a
// successful handshake: send encrypts outgoing, recv decrypts incoming.
func (ik *ikHandshake) cipherStates() (*noise.CipherState, *noise.CipherState, error) {
	if !ik.complete {
		return nil, nil, ErrHandshakeNotComplete
	}
	if ik.sendCipher == nil || ik.recvCipher == nil {
		return nil, nil, errors.New("cipher states not available")
	}
	return ik.sendCipher, ik.recvCipher, nil
}

// remoteStaticKey returns the peer's authenticated static public key.
func (ik *ikHandshake) remoteStaticKey() ([]byte, error) {
	if !ik.complete {
		return nil, ErrHandshakeNotComplete
	}

	remote := ik.state.PeerStatic()
	if len(remote) == 0 {
		return nil, errors.New("remote static key not available")
	}

	key := make([]byte, len(remote))
	copy(key, remote)
	return key, nil
}
