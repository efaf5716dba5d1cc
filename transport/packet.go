package transport

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/W4ashabii/meshapp/channel"
	"github.com/W4ashabii/meshapp/limits"
)

// wireVersion is the current packet wire format version.
const wireVersion byte = 1

var (
	// ErrPacketMalformed indicates bytes that do not parse as a packet.
	ErrPacketMalformed = errors.New("malformed packet")
	// ErrVersionUnsupported indicates an unknown wire version.
	ErrVersionUnsupported = errors.New("unsupported packet version")
)

// Packet is a mesh packet as seen by transports and the router. The
// payload is opaque ciphertext; relays never need to decrypt it.
//
// Wire layout:
//
//	[version 1][channel id 32][ttl 1][timestamp 8 BE][payload len 4 BE][payload]
type Packet struct {
	ChannelID channel.ID
	TTL       uint8
	Timestamp int64
	Payload   []byte
}

// Serialize encodes the packet for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if err := limits.ValidateCiphertext(p.Payload); err != nil {
		return nil, err
	}

	out := make([]byte, limits.PacketHeaderSize+len(p.Payload))
	out[0] = wireVersion
	copy(out[1:33], p.ChannelID[:])
	out[33] = p.TTL
	binary.BigEndian.PutUint64(out[34:42], uint64(p.Timestamp))
	binary.BigEndian.PutUint32(out[42:46], uint32(len(p.Payload)))
	copy(out[limits.PacketHeaderSize:], p.Payload)
	return out, nil
}

// Parse decodes a packet from untrusted transport bytes. The TTL is
// clamped to the protocol maximum.
func Parse(data []byte) (*Packet, error) {
	if err := limits.ValidatePacket(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketMalformed, err)
	}
	if len(data) < limits.PacketHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrPacketMalformed, len(data))
	}
	if data[0] != wireVersion {
		return nil, fmt.Errorf("%w: version %d", ErrVersionUnsupported, data[0])
	}

	payloadLen := binary.BigEndian.Uint32(data[42:46])
	if int(payloadLen) != len(data)-limits.PacketHeaderSize {
		return nil, fmt.Errorf("%w: payload length %d does not match frame", ErrPacketMalformed, payloadLen)
	}

	p := &Packet{
		TTL:       limits.ClampTTL(data[33]),
		Timestamp: int64(binary.BigEndian.Uint64(data[34:42])),
		Payload:   make([]byte, payloadLen),
	}
	copy(p.ChannelID[:], data[1:33])
	copy(p.Payload, data[limits.PacketHeaderSize:])

	if err := limits.ValidateCiphertext(p.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketMalformed, err)
	}

	return p, nil
}

// Fingerprint is the content digest used for deduplication and
// store-and-forward identity.
type Fingerprint [32]byte

// Fingerprint computes the packet's content digest over the channel id
// and payload. Local metadata (TTL, timestamp, arrival transport) is
// excluded so the same ciphertext dedups no matter which hop or
// transport delivered it.
func (p *Packet) Fingerprint() Fingerprint {
	h := sha256.New()
	h.Write(p.ChannelID[:])
	h.Write(p.Payload)

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
