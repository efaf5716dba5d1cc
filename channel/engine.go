package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/W4ashabii/meshapp/crypto"
)

// Payload envelope tags. Every channel payload on the wire starts with
// one tag byte so the engine can tell handshake traffic from data.
const (
	envelopeHandshake byte = 0x01
	envelopeData      byte = 0x02
)

var (
	// ErrUnknownChannel indicates the engine has no state for this
	// channel id.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNoPeerKey indicates the peer's X25519 static key is not
	// registered, so a handshake cannot be initiated.
	ErrNoPeerKey = errors.New("peer exchange key not registered")
	// ErrTooManyAttempts indicates the handshake attempt budget for the
	// channel is exhausted; the session must be reset explicitly.
	ErrTooManyAttempts = errors.New("handshake attempts exhausted")
	// ErrMalformedPayload indicates an empty or unrecognized envelope.
	ErrMalformedPayload = errors.New("malformed channel payload")
)

// Defaults for session housekeeping.
const (
	// DefaultMaxHandshakeAttempts bounds initiation retries per channel.
	DefaultMaxHandshakeAttempts = 5
	// DefaultHandshakeTimeout abandons handshakes that never complete.
	DefaultHandshakeTimeout = 2 * time.Minute
	// DefaultIdleTimeout expires established sessions after inactivity.
	DefaultIdleTimeout = 24 * time.Hour
)

// Inbound is the result of processing one inbound channel payload.
type Inbound struct {
	// Plaintext is the decrypted application message, nil for pure
	// handshake traffic.
	Plaintext []byte
	// Response is a payload that must be sent back on the same channel,
	// nil when no reply is needed.
	Response []byte
	// Established reports that this payload completed a handshake.
	Established bool
}

// Engine owns all live session key material, keyed by channel id. Session
// state is ephemeral: it is never persisted and is re-derived from the
// long-term identity keys plus a fresh handshake after a restart.
type Engine struct {
	mu       sync.Mutex
	local    *crypto.KeyPair
	sessions map[ID]*session
	peerKeys map[ID][32]byte
	geoKeys  map[ID][32]byte

	maxAttempts      int
	handshakeTimeout time.Duration
	idleTimeout      time.Duration
	now              func() time.Time
}

// NewEngine creates a session engine around the device's static X25519
// exchange key pair.
func NewEngine(local *crypto.KeyPair) *Engine {
	return &Engine{
		local:            local,
		sessions:         make(map[ID]*session),
		peerKeys:         make(map[ID][32]byte),
		geoKeys:          make(map[ID][32]byte),
		maxAttempts:      DefaultMaxHandshakeAttempts,
		handshakeTimeout: DefaultHandshakeTimeout,
		idleTimeout:      DefaultIdleTimeout,
		now:              time.Now,
	}
}

// RegisterPeer associates a direct channel with the peer's X25519 static
// key, enabling handshake initiation on that channel.
func (e *Engine) RegisterPeer(channelID ID, peerX25519 [32]byte) error {
	if peerX25519 == ([32]byte{}) {
		return ErrNoPeerKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.peerKeys[channelID] = peerX25519
	return nil
}

// JoinGeo derives and registers an open-membership geohash channel,
// returning its id. The symmetric key is derivable by anyone who knows
// the geohash and topic.
func (e *Engine) JoinGeo(geohash, topic string) ID {
	id := DeriveGeoID(geohash, topic)

	e.mu.Lock()
	e.geoKeys[id] = DeriveGeoKey(id)
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"channel": id.String()[:16],
		"geohash": geohash,
		"topic":   topic,
	}).Info("Joined geo channel")

	return id
}

// JoinGeoID re-registers a geo channel by its id, typically when
// restoring joined channels from the store at startup. The key derives
// from the id alone, so the geohash and topic are not needed.
func (e *Engine) JoinGeoID(id ID) {
	e.mu.Lock()
	e.geoKeys[id] = DeriveGeoKey(id)
	e.mu.Unlock()
}

// LeaveGeo forgets a geo channel's key.
func (e *Engine) LeaveGeo(id ID) {
	e.mu.Lock()
	delete(e.geoKeys, id)
	e.mu.Unlock()
}

// KindOf reports the kind of a channel the engine participates in.
func (e *Engine) KindOf(id ID) (Kind, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.geoKeys[id]; ok {
		return KindGeo, true
	}
	if _, ok := e.peerKeys[id]; ok {
		return KindDirect, true
	}
	if _, ok := e.sessions[id]; ok {
		return KindDirect, true
	}
	return "", false
}

// State returns the session state for a direct channel.
func (e *Engine) State(channelID ID) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[channelID]
	if !ok {
		return StateUninitialized
	}
	return s.state
}

// Initiate starts (or restarts) the IK handshake on a direct channel and
// returns the first handshake payload to transmit. The peer's static key
// must have been registered from the contact registry.
func (e *Engine) Initiate(channelID ID) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	peerKey, ok := e.peerKeys[channelID]
	if !ok {
		return nil, ErrNoPeerKey
	}

	s, ok := e.sessions[channelID]
	if !ok {
		s = newSession(channelID, e.now())
		e.sessions[channelID] = s
	}

	if s.attempts >= e.maxAttempts {
		return nil, fmt.Errorf("%w: %d attempts on channel %s", ErrTooManyAttempts, s.attempts, channelID.String()[:16])
	}

	hs, err := newIKHandshake(e.local, peerKey[:], Initiator)
	if err != nil {
		return nil, err
	}

	msg, err := hs.writeInitial()
	if err != nil {
		return nil, err
	}

	s.handshake = hs
	s.state = StateHandshakeInProgress
	s.attempts++
	s.lastActivity = e.now()

	logrus.WithFields(logrus.Fields{
		"channel": channelID.String()[:16],
		"attempt": s.attempts,
	}).Debug("Handshake initiated")

	return wrapEnvelope(envelopeHandshake, msg), nil
}

// HandleInbound processes one payload addressed to a channel this device
// participates in. Handshake payloads advance the state machine and may
// produce a response; data payloads decrypt to plaintext. Decryption
// failures are returned as errors and the payload must be dropped.
func (e *Engine) HandleInbound(channelID ID, payload []byte) (*Inbound, error) {
	kind, body, err := parseEnvelope(payload)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if key, ok := e.geoKeys[channelID]; ok {
		if kind != envelopeData {
			return nil, fmt.Errorf("%w: handshake on geo channel", ErrMalformedPayload)
		}
		plaintext, err := crypto.OpenSymmetric(body, key)
		if err != nil {
			return nil, err
		}
		return &Inbound{Plaintext: plaintext}, nil
	}

	switch kind {
	case envelopeHandshake:
		return e.handleHandshakeLocked(channelID, body)
	case envelopeData:
		return e.handleDataLocked(channelID, body)
	default:
		return nil, fmt.Errorf("%w: unknown envelope tag %#x", ErrMalformedPayload, kind)
	}
}

func (e *Engine) handleHandshakeLocked(channelID ID, body []byte) (*Inbound, error) {
	s, ok := e.sessions[channelID]
	if !ok {
		s = newSession(channelID, e.now())
		e.sessions[channelID] = s
	}

	// An initiator waiting for the reply consumes it here.
	if s.state == StateHandshakeInProgress && s.handshake != nil && s.handshake.role == Initiator {
		if err := s.handshake.finish(body); err != nil {
			s.abandon()
			return nil, err
		}
		if err := s.establish(e.now()); err != nil {
			s.abandon()
			return nil, err
		}

		logrus.WithFields(logrus.Fields{
			"channel": channelID.String()[:16],
			"role":    "initiator",
		}).Info("Session established")

		return &Inbound{Established: true}, nil
	}

	// Anything else is an initiation from the peer: respond. This also
	// covers a peer that lost its state and re-handshakes over an
	// established session.
	hs, err := newIKHandshake(e.local, nil, Responder)
	if err != nil {
		return nil, err
	}

	reply, err := hs.respond(body)
	if err != nil {
		s.abandon()
		return nil, err
	}

	s.handshake = hs
	if err := s.establish(e.now()); err != nil {
		s.abandon()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"channel": channelID.String()[:16],
		"role":    "responder",
	}).Info("Session established")

	return &Inbound{
		Response:    wrapEnvelope(envelopeHandshake, reply),
		Established: true,
	}, nil
}

func (e *Engine) handleDataLocked(channelID ID, body []byte) (*Inbound, error) {
	s, ok := e.sessions[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", ErrSessionNotEstablished, channelID.String()[:16])
	}

	plaintext, err := s.decrypt(body, e.now())
	if err != nil {
		return nil, err
	}
	return &Inbound{Plaintext: plaintext}, nil
}

// Encrypt encrypts a plaintext for a channel. Direct channels require an
// established session; geo channels use the derived symmetric key.
func (e *Engine) Encrypt(channelID ID, plaintext []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if key, ok := e.geoKeys[channelID]; ok {
		sealed, err := crypto.SealSymmetric(plaintext, key)
		if err != nil {
			return nil, err
		}
		return wrapEnvelope(envelopeData, sealed), nil
	}

	s, ok := e.sessions[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", ErrSessionNotEstablished, channelID.String()[:16])
	}

	ciphertext, err := s.encrypt(plaintext, e.now())
	if err != nil {
		return nil, err
	}
	return wrapEnvelope(envelopeData, ciphertext), nil
}

// Close tears down a direct channel's session explicitly.
func (e *Engine) Close(channelID ID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[channelID]; ok {
		s.handshake = nil
		s.sendCipher = nil
		s.recvCipher = nil
		s.state = StateClosed
	}
}

// ResetSession clears a channel's session back to Uninitialized, also
// resetting the handshake attempt budget.
func (e *Engine) ResetSession(channelID ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, channelID)
}

// ExpireIdle sweeps session state: in-progress handshakes older than the
// handshake timeout are abandoned back to Uninitialized, and established
// sessions idle past the idle timeout move to Expired. Returns the number
// of sessions changed.
func (e *Engine) ExpireIdle() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	changed := 0

	for id, s := range e.sessions {
		switch s.state {
		case StateHandshakeInProgress:
			if now.Sub(s.lastActivity) > e.handshakeTimeout {
				s.abandon()
				changed++
				logrus.WithFields(logrus.Fields{
					"channel": id.String()[:16],
				}).Debug("Abandoned stale handshake")
			}
		case StateEstablished:
			if now.Sub(s.lastActivity) > e.idleTimeout {
				s.sendCipher = nil
				s.recvCipher = nil
				s.state = StateExpired
				changed++
				logrus.WithFields(logrus.Fields{
					"channel": id.String()[:16],
				}).Debug("Expired idle session")
			}
		}
	}

	return changed
}

// IsHandshakePayload reports whether a channel payload carries
// handshake traffic rather than an encrypted message. Relays use this
// to skip queueing handshake frames, which are only useful while both
// peers are reachable.
func IsHandshakePayload(payload []byte) bool {
	return len(payload) > 0 && payload[0] == envelopeHandshake
}

func wrapEnvelope(kind byte, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = kind
	copy(out[1:], body)
	return out
}

func parseEnvelope(payload []byte) (byte, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, ErrMalformedPayload
	}
	return payload[0], payload[1:], nil
}
