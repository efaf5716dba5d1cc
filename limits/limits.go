// Package limits provides centralized size and TTL limits for the mesh
// protocol. Keeping them in one place ensures consistent validation across
// the router, store, and channel engine.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPlaintextMessage is the largest plaintext body a single mesh
	// packet can carry. Sized so an encrypted packet still fits in a
	// handful of BLE fragments.
	MaxPlaintextMessage = 1024

	// MaxCiphertext is the maximum encrypted payload size: a maximum
	// plaintext plus the envelope tag, an embedded nonce, and the
	// authentication tag. Geo payloads carry all three; direct session
	// payloads carry less, so every valid plaintext fits either way.
	MaxCiphertext = MaxPlaintextMessage + EnvelopeSize + NonceSize + EncryptionOverhead

	// MaxPacketSize bounds a fully serialized mesh packet, including the
	// header. Anything larger is rejected before parsing the payload.
	MaxPacketSize = MaxCiphertext + PacketHeaderSize

	// PacketHeaderSize is the serialized header: version (1), channel id
	// (32), TTL (1), timestamp (8), payload length (4).
	PacketHeaderSize = 1 + 32 + 1 + 8 + 4

	// EnvelopeSize is the payload tag byte distinguishing handshake
	// traffic from data.
	EnvelopeSize = 1

	// NonceSize is the secretbox nonce prepended to geo channel
	// payloads.
	NonceSize = 24

	// EncryptionOverhead is the Poly1305 tag added by both the Noise
	// transport ciphers and nacl/secretbox.
	EncryptionOverhead = 16

	// DefaultTTL is the hop budget stamped on locally originated packets.
	DefaultTTL = 7

	// MaxTTL caps the TTL accepted from the network. Packets claiming
	// more are clamped rather than dropped.
	MaxTTL = 16

	// MinRelayTTL is the forwarding threshold: packets at or below this
	// TTL are never re-transmitted, only considered for local delivery.
	MinRelayTTL = 0

	// DedupWindowSize is the maximum number of packet fingerprints kept
	// in the router's recently-seen set before the oldest are evicted.
	DedupWindowSize = 4096

	// MaxNickname bounds contact nicknames in bytes.
	MaxNickname = 64
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidatePlaintext validates a plaintext message body against
// MaxPlaintextMessage. Returns an error with context if the message is
// empty or exceeds the limit.
func ValidatePlaintext(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxPlaintextMessage {
		return fmt.Errorf("%w: plaintext size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxPlaintextMessage)
	}
	return nil
}

// ValidateCiphertext validates an encrypted payload against MaxCiphertext.
func ValidateCiphertext(payload []byte) error {
	if len(payload) == 0 {
		return ErrMessageEmpty
	}
	if len(payload) > MaxCiphertext {
		return fmt.Errorf("%w: ciphertext size %d exceeds limit %d", ErrMessageTooLarge, len(payload), MaxCiphertext)
	}
	return nil
}

// ValidatePacket validates a raw serialized packet against MaxPacketSize.
// This is the first check applied to untrusted bytes from a transport.
func ValidatePacket(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxPacketSize {
		return fmt.Errorf("%w: packet size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxPacketSize)
	}
	return nil
}

// ClampTTL bounds a TTL received from the network to MaxTTL.
func ClampTTL(ttl uint8) uint8 {
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}
