// Package transport defines the byte-packet boundary between the mesh
// core and physical transports (BLE, Wi-Fi Direct, loopback), the wire
// codec for mesh packets, and batching for radio efficiency.
//
// The core never drives a radio itself: a transport driver delivers raw
// inbound bytes to the router and accepts raw outbound bytes. Everything
// here is transport-agnostic.
package transport

// Transport is a physical transport the router can send packets through.
// Implementations must be safe for concurrent use.
type Transport interface {
	// Send transmits one serialized packet (or batch) to whoever is
	// reachable through this transport.
	Send(data []byte) error

	// IsAvailable reports whether the transport can currently transmit.
	// An unavailable transport is skipped, not an error: packets stay
	// queued in the store until something becomes available.
	IsAvailable() bool

	// Name identifies the transport in logs and as a forwarding origin.
	Name() string
}

// ReceiveFunc is the inbound callback a transport driver invokes for
// every received frame. origin is the delivering transport's name, used
// to avoid sending a packet back where it came from.
type ReceiveFunc func(data []byte, origin string)
