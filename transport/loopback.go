package transport

import "sync"

// Loopback is an in-process transport for tests and local development.
// Frames "sent" through it accumulate until drained, and availability
// can be toggled to simulate a radio going out of range.
type Loopback struct {
	mu        sync.Mutex
	name      string
	frames    [][]byte
	available bool
}

// NewLoopback creates an available loopback transport.
func NewLoopback(name string) *Loopback {
	return &Loopback{name: name, available: true}
}

// Send records the frame for later inspection.
func (l *Loopback) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	frame := make([]byte, len(data))
	copy(frame, data)
	l.frames = append(l.frames, frame)
	return nil
}

// IsAvailable reports the simulated availability.
func (l *Loopback) IsAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Name returns the transport name.
func (l *Loopback) Name() string {
	return l.name
}

// SetAvailable toggles the simulated availability.
func (l *Loopback) SetAvailable(available bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available = available
}

// Drain returns and clears all frames sent so far.
func (l *Loopback) Drain() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.frames
	l.frames = nil
	return out
}

// SentCount returns how many frames have been sent and not drained.
func (l *Loopback) SentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}
