package channel

import (
	"errors"
	"fmt"
	"time"

	"github.com/flynn/noise"

	"github.com/W4ashabii/meshapp/limits"
)

// State is the lifecycle state of a direct-channel session.
type State uint8

const (
	// StateUninitialized means no handshake has been attempted.
	StateUninitialized State = iota
	// StateHandshakeInProgress means a handshake is underway.
	StateHandshakeInProgress
	// StateEstablished means transport keys exist; encrypt/decrypt work.
	StateEstablished
	// StateClosed means the session was torn down explicitly.
	StateClosed
	// StateExpired means the session lapsed after long inactivity.
	StateExpired
)

// String returns a readable state name for logs.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshakeInProgress:
		return "handshake_in_progress"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	// ErrSessionNotEstablished indicates encrypt/decrypt was attempted
	// outside the Established state.
	ErrSessionNotEstablished = errors.New("session not established")
	// ErrDecryptFailed indicates an authentication failure. Callers must
	// drop the payload and must not persist it.
	ErrDecryptFailed = errors.New("message authentication failed")
)

// session holds the per-channel handshake and transport state. It is
// ephemeral: re-derivable from the long-term keys plus a fresh handshake,
// and never persisted.
type session struct {
	channelID    ID
	state        State
	handshake    *ikHandshake
	sendCipher   *noise.CipherState
	recvCipher   *noise.CipherState
	peerStatic   [32]byte // peer's X25519 static, zero until known
	attempts     int
	lastActivity time.Time
}

func newSession(channelID ID, now time.Time) *session {
	return &session{
		channelID:    channelID,
		state:        StateUninitialized,
		lastActivity: now,
	}
}

// establish moves the session to Established with the handshake's cipher
// states.
func (s *session) establish(now time.Time) error {
	send, recv, err := s.handshake.cipherStates()
	if err != nil {
		return err
	}

	if remote, err := s.handshake.remoteStaticKey(); err == nil {
		copy(s.peerStatic[:], remote)
	}

	s.sendCipher = send
	s.recvCipher = recv
	s.handshake = nil
	s.state = StateEstablished
	s.attempts = 0
	s.lastActivity = now
	return nil
}

// abandon discards an in-progress handshake so a later attempt starts
// fresh with a zero attempt count. An Established session keeps its
// transport ciphers; only the stray handshake state is dropped.
func (s *session) abandon() {
	s.handshake = nil
	if s.state == StateHandshakeInProgress {
		s.sendCipher = nil
		s.recvCipher = nil
		s.state = StateUninitialized
		s.attempts = 0
	}
}

// encrypt encrypts one message with the outgoing transport cipher.
func (s *session) encrypt(plaintext []byte, now time.Time) ([]byte, error) {
	if s.state != StateEstablished || s.sendCipher == nil {
		return nil, fmt.Errorf("%w: state %s", ErrSessionNotEstablished, s.state)
	}
	if err := limits.ValidatePlaintext(plaintext); err != nil {
		return nil, err
	}

	ciphertext, err := s.sendCipher.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("session encrypt failed: %w", err)
	}

	s.lastActivity = now
	return ciphertext, nil
}

// decrypt decrypts one message with the incoming transport cipher. An
// authentication failure returns ErrDecryptFailed and never plaintext.
func (s *session) decrypt(ciphertext []byte, now time.Time) ([]byte, error) {
	if s.state != StateEstablished || s.recvCipher == nil {
		return nil, fmt.Errorf("%w: state %s", ErrSessionNotEstablished, s.state)
	}
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	plaintext, err := s.recvCipher.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	s.lastActivity = now
	return plaintext, nil
}
