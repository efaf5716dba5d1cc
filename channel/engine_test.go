package channel

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/W4ashabii/meshapp/crypto"
)

// testPair creates two engines with fresh exchange keys and the channel
// id both will talk on. Signing keys are separate from exchange keys; the
// channel id is derived from signing keys, so any id works for the
// session tests.
func testPair(t *testing.T) (*Engine, *Engine, ID) {
	t.Helper()

	aKeys, err := crypto.GenerateExchangeKeyPair()
	require.NoError(t, err)
	bKeys, err := crypto.GenerateExchangeKeyPair()
	require.NoError(t, err)

	a := NewEngine(aKeys)
	b := NewEngine(bKeys)

	ch := DeriveDirectID(aKeys.Public, bKeys.Public)
	require.NoError(t, a.RegisterPeer(ch, bKeys.Public))
	require.NoError(t, b.RegisterPeer(ch, aKeys.Public))

	return a, b, ch
}

// establish runs the two-message IK handshake between two engines.
func establish(t *testing.T, a, b *Engine, ch ID) {
	t.Helper()

	msg1, err := a.Initiate(ch)
	require.NoError(t, err)
	assert.Equal(t, StateHandshakeInProgress, a.State(ch))

	in, err := b.HandleInbound(ch, msg1)
	require.NoError(t, err)
	require.True(t, in.Established)
	require.NotNil(t, in.Response)
	assert.Equal(t, StateEstablished, b.State(ch))

	in, err = a.HandleInbound(ch, in.Response)
	require.NoError(t, err)
	assert.True(t, in.Established)
	assert.Nil(t, in.Response)
	assert.Equal(t, StateEstablished, a.State(ch))
}

func TestHandshakeAndRoundTrip(t *testing.T) {
	a, b, ch := testPair(t)
	establish(t, a, b, ch)

	plaintext := []byte("hello")
	payload, err := a.Encrypt(ch, plaintext)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(payload, plaintext), "payload must not contain plaintext")

	in, err := b.HandleInbound(ch, payload)
	require.NoError(t, err)
	assert.Equal(t, plaintext, in.Plaintext)

	// Both directions work independently.
	reply, err := b.Encrypt(ch, []byte("hi back"))
	require.NoError(t, err)
	in, err = a.HandleInbound(ch, reply)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi back"), in.Plaintext)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	a, b, ch := testPair(t)
	establish(t, a, b, ch)

	payload, err := a.Encrypt(ch, []byte("integrity matters"))
	require.NoError(t, err)

	// Flip one bit in the ciphertext body.
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-1] ^= 0x01

	_, err = b.HandleInbound(ch, tampered)
	assert.ErrorIs(t, err, ErrDecryptFailed, "tampered ciphertext must fail authentication")
}

func TestEncryptRequiresEstablishedSession(t *testing.T) {
	a, _, ch := testPair(t)

	_, err := a.Encrypt(ch, []byte("too early"))
	assert.ErrorIs(t, err, ErrSessionNotEstablished)

	// Mid-handshake is still not enough.
	_, err = a.Initiate(ch)
	require.NoError(t, err)
	_, err = a.Encrypt(ch, []byte("still too early"))
	assert.ErrorIs(t, err, ErrSessionNotEstablished)
}

func TestInitiateRequiresPeerKey(t *testing.T) {
	keys, err := crypto.GenerateExchangeKeyPair()
	require.NoError(t, err)
	e := NewEngine(keys)

	_, err = e.Initiate(ID{1})
	assert.ErrorIs(t, err, ErrNoPeerKey)

	err = e.RegisterPeer(ID{1}, [32]byte{})
	assert.ErrorIs(t, err, ErrNoPeerKey)
}

func TestHandshakeAttemptBudget(t *testing.T) {
	a, _, ch := testPair(t)

	for i := 0; i < DefaultMaxHandshakeAttempts; i++ {
		_, err := a.Initiate(ch)
		require.NoError(t, err)
	}

	_, err := a.Initiate(ch)
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	// Resetting the session restores the budget.
	a.ResetSession(ch)
	_, err = a.Initiate(ch)
	assert.NoError(t, err)
}

func TestExpireIdleAbandonsStaleHandshake(t *testing.T) {
	a, _, ch := testPair(t)

	_, err := a.Initiate(ch)
	require.NoError(t, err)
	require.Equal(t, StateHandshakeInProgress, a.State(ch))

	// Move the clock past the handshake timeout.
	a.now = func() time.Time { return time.Now().Add(DefaultHandshakeTimeout + time.Minute) }

	changed := a.ExpireIdle()
	assert.Equal(t, 1, changed)
	assert.Equal(t, StateUninitialized, a.State(ch))
}

func TestExpireIdleExpiresEstablishedSession(t *testing.T) {
	a, b, ch := testPair(t)
	establish(t, a, b, ch)

	a.now = func() time.Time { return time.Now().Add(DefaultIdleTimeout + time.Hour) }

	changed := a.ExpireIdle()
	assert.Equal(t, 1, changed)
	assert.Equal(t, StateExpired, a.State(ch))

	_, err := a.Encrypt(ch, []byte("gone"))
	assert.ErrorIs(t, err, ErrSessionNotEstablished)
}

func TestCloseTearsDownSession(t *testing.T) {
	a, b, ch := testPair(t)
	establish(t, a, b, ch)

	a.Close(ch)
	assert.Equal(t, StateClosed, a.State(ch))

	_, err := a.Encrypt(ch, []byte("closed"))
	assert.ErrorIs(t, err, ErrSessionNotEstablished)
}

func TestPeerRehandshakeReplacesSession(t *testing.T) {
	a, b, ch := testPair(t)
	establish(t, a, b, ch)

	// B loses its state (restart) and re-initiates. A must accept the
	// fresh handshake over the old session.
	b.ResetSession(ch)
	msg1, err := b.Initiate(ch)
	require.NoError(t, err)

	in, err := a.HandleInbound(ch, msg1)
	require.NoError(t, err)
	require.True(t, in.Established)

	in, err = b.HandleInbound(ch, in.Response)
	require.NoError(t, err)
	require.True(t, in.Established)

	payload, err := b.Encrypt(ch, []byte("after restart"))
	require.NoError(t, err)
	got, err := a.HandleInbound(ch, payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("after restart"), got.Plaintext)
}

func TestGarbageHandshakeKeepsEstablishedSession(t *testing.T) {
	a, b, ch := testPair(t)
	establish(t, a, b, ch)

	// A handshake-tagged frame that is not a valid IK message. An
	// attacker on the mesh can inject these at will; the live session
	// must survive it.
	_, err := a.HandleInbound(ch, wrapEnvelope(envelopeHandshake, []byte("not a handshake")))
	require.Error(t, err)
	assert.Equal(t, StateEstablished, a.State(ch))

	payload, err := a.Encrypt(ch, []byte("still here"))
	require.NoError(t, err)
	in, err := b.HandleInbound(ch, payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), in.Plaintext)
}

func TestAbandonedHandshakeRestoresAttemptBudget(t *testing.T) {
	a, _, ch := testPair(t)

	for i := 0; i < DefaultMaxHandshakeAttempts; i++ {
		_, err := a.Initiate(ch)
		require.NoError(t, err)
	}
	_, err := a.Initiate(ch)
	require.ErrorIs(t, err, ErrTooManyAttempts)

	// The housekeeping sweep abandons the stale handshake; the channel
	// must be usable again without an explicit reset.
	a.now = func() time.Time { return time.Now().Add(DefaultHandshakeTimeout + time.Minute) }
	require.Equal(t, 1, a.ExpireIdle())
	require.Equal(t, StateUninitialized, a.State(ch))

	_, err = a.Initiate(ch)
	assert.NoError(t, err)
}

func TestHandleInboundRejectsMalformed(t *testing.T) {
	a, _, ch := testPair(t)

	_, err := a.HandleInbound(ch, nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = a.HandleInbound(ch, []byte{0x7f, 1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	// Data before any handshake: no session exists.
	_, err = a.HandleInbound(ch, wrapEnvelope(envelopeData, []byte("junk")))
	assert.ErrorIs(t, err, ErrSessionNotEstablished)
}
