package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/W4ashabii/meshapp/channel"
	"github.com/W4ashabii/meshapp/limits"
)

func testChannelID(b byte) channel.ID {
	var id channel.ID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{
		ChannelID: testChannelID(0xAB),
		TTL:       5,
		Timestamp: 1700000000123,
		Payload:   bytes.Repeat([]byte{0x42}, 48),
	}

	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if len(data) != limits.PacketHeaderSize+48 {
		t.Fatalf("serialized length = %d, want %d", len(data), limits.PacketHeaderSize+48)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got.ChannelID != p.ChannelID {
		t.Error("channel id changed across serialization")
	}
	if got.TTL != p.TTL {
		t.Errorf("TTL = %d, want %d", got.TTL, p.TTL)
	}
	if got.Timestamp != p.Timestamp {
		t.Errorf("timestamp = %d, want %d", got.Timestamp, p.Timestamp)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Error("payload changed across serialization")
	}
}

func TestParseClampsTTL(t *testing.T) {
	p := &Packet{
		ChannelID: testChannelID(1),
		TTL:       255,
		Timestamp: 1,
		Payload:   bytes.Repeat([]byte{1}, 32),
	}
	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got.TTL != limits.MaxTTL {
		t.Errorf("TTL = %d, want clamped to %d", got.TTL, limits.MaxTTL)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	p := &Packet{
		ChannelID: testChannelID(2),
		TTL:       3,
		Timestamp: 1,
		Payload:   bytes.Repeat([]byte{2}, 32),
	}
	valid, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	cases := map[string][]byte{
		"empty":      {},
		"short":      valid[:limits.PacketHeaderSize-1],
		"truncated":  valid[:len(valid)-4],
		"oversize":   bytes.Repeat([]byte{0}, limits.MaxPacketSize+1),
		"zero frame": bytes.Repeat([]byte{0}, limits.PacketHeaderSize),
	}
	for name, data := range cases {
		if _, err := Parse(data); err == nil {
			t.Errorf("%s: Parse accepted malformed input", name)
		}
	}

	// Declared payload length disagreeing with the frame.
	bad := make([]byte, len(valid))
	copy(bad, valid)
	bad[42] = 0xFF
	if _, err := Parse(bad); !errors.Is(err, ErrPacketMalformed) {
		t.Errorf("mismatched payload length: err = %v, want ErrPacketMalformed", err)
	}
}

func TestParseRejectsUnknownVersion(t *testing.T) {
	p := &Packet{
		ChannelID: testChannelID(3),
		TTL:       3,
		Timestamp: 1,
		Payload:   bytes.Repeat([]byte{3}, 32),
	}
	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	data[0] = 99

	if _, err := Parse(data); !errors.Is(err, ErrVersionUnsupported) {
		t.Errorf("err = %v, want ErrVersionUnsupported", err)
	}
}

func TestSerializeRejectsOversizePayload(t *testing.T) {
	p := &Packet{
		ChannelID: testChannelID(4),
		TTL:       3,
		Payload:   bytes.Repeat([]byte{4}, limits.MaxCiphertext+1),
	}
	if _, err := p.Serialize(); err == nil {
		t.Error("Serialize accepted oversize payload")
	}
}

func TestFingerprintIgnoresRelayMetadata(t *testing.T) {
	a := &Packet{
		ChannelID: testChannelID(5),
		TTL:       7,
		Timestamp: 100,
		Payload:   bytes.Repeat([]byte{5}, 32),
	}
	b := &Packet{
		ChannelID: a.ChannelID,
		TTL:       2,
		Timestamp: 9999,
		Payload:   a.Payload,
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint changed with TTL/timestamp, dedup would fail across hops")
	}

	c := &Packet{
		ChannelID: a.ChannelID,
		TTL:       a.TTL,
		Timestamp: a.Timestamp,
		Payload:   bytes.Repeat([]byte{6}, 32),
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different payloads produced the same fingerprint")
	}
}
