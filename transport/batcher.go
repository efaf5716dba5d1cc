package transport

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/W4ashabii/meshapp/limits"
)

// BatteryMode selects a radio duty-cycle profile. More aggressive
// modes trade delivery latency for power.
type BatteryMode int

const (
	// Performance scans continuously and flushes batches quickly.
	Performance BatteryMode = iota
	// Balanced is the default profile.
	Balanced
	// PowerSaving scans rarely and holds batches longer.
	PowerSaving
)

// String returns a human-readable mode name.
func (m BatteryMode) String() string {
	switch m {
	case Performance:
		return "performance"
	case Balanced:
		return "balanced"
	case PowerSaving:
		return "power_saving"
	default:
		return "unknown"
	}
}

// ScanInterval returns how often the radio should wake to scan for
// peers in this mode.
func (m BatteryMode) ScanInterval() time.Duration {
	switch m {
	case Performance:
		return 1 * time.Second
	case PowerSaving:
		return 30 * time.Second
	default:
		return 5 * time.Second
	}
}

// MaxBatchAge returns how long a partially filled batch may be held
// before it must be flushed in this mode.
func (m BatteryMode) MaxBatchAge() time.Duration {
	switch m {
	case Performance:
		return 100 * time.Millisecond
	case PowerSaving:
		return 10 * time.Second
	default:
		return 2 * time.Second
	}
}

// DefaultBatchLimit is the number of frames a batch holds before it
// is flushed regardless of age.
const DefaultBatchLimit = 8

// ErrBatchMalformed is returned when a batch frame cannot be decoded.
var ErrBatchMalformed = errors.New("transport: malformed batch")

// Batcher groups serialized packets into a single radio frame so that
// a duty-cycled transport can send them in one wake window. Batches
// flush when full or when the oldest queued frame exceeds the mode's
// maximum age. Each frame inside the batch stays independently
// parseable, so a relay can re-batch or split freely.
type Batcher struct {
	mode    BatteryMode
	limit   int
	pending [][]byte
	oldest  time.Time
	now     func() time.Time
}

// NewBatcher creates a batcher for the given mode.
func NewBatcher(mode BatteryMode) *Batcher {
	return &Batcher{
		mode:  mode,
		limit: DefaultBatchLimit,
		now:   time.Now,
	}
}

// Mode returns the battery mode the batcher was created with.
func (b *Batcher) Mode() BatteryMode {
	return b.mode
}

// Add queues a serialized packet. It returns a flushed batch when the
// queue reached the size limit, or nil when the frame was queued.
func (b *Batcher) Add(frame []byte) [][]byte {
	copied := make([]byte, len(frame))
	copy(copied, frame)

	if len(b.pending) == 0 {
		b.oldest = b.now()
	}
	b.pending = append(b.pending, copied)

	if len(b.pending) >= b.limit {
		return b.Flush()
	}
	return nil
}

// Due reports whether the oldest queued frame has exceeded the mode's
// maximum batch age.
func (b *Batcher) Due() bool {
	if len(b.pending) == 0 {
		return false
	}
	return b.now().Sub(b.oldest) >= b.mode.MaxBatchAge()
}

// Flush returns all queued frames and resets the batcher.
func (b *Batcher) Flush() [][]byte {
	out := b.pending
	b.pending = nil
	return out
}

// Len returns the number of queued frames.
func (b *Batcher) Len() int {
	return len(b.pending)
}

// EncodeBatch frames multiple serialized packets into one buffer.
// Layout per entry: [len uint32 BE][frame].
func EncodeBatch(frames [][]byte) []byte {
	size := 0
	for _, f := range frames {
		size += 4 + len(f)
	}
	out := make([]byte, 0, size)
	var lenBuf [4]byte
	for _, f := range frames {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		out = append(out, lenBuf[:]...)
		out = append(out, f...)
	}
	return out
}

// DecodeBatch splits a batch buffer back into individual frames.
func DecodeBatch(data []byte) ([][]byte, error) {
	var frames [][]byte
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, ErrBatchMalformed
		}
		n := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if n == 0 || n > uint32(limits.MaxPacketSize) || uint32(len(data)) < n {
			return nil, ErrBatchMalformed
		}
		frame := make([]byte, n)
		copy(frame, data[:n])
		frames = append(frames, frame)
		data = data[n:]
	}
	return frames, nil
}
