package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestBatchRoundTrip(t *testing.T) {
	frames := [][]byte{
		bytes.Repeat([]byte{1}, 20),
		bytes.Repeat([]byte{2}, 64),
		{3},
	}

	encoded := EncodeBatch(frames)
	decoded, err := DecodeBatch(encoded)
	if err != nil {
		t.Fatalf("DecodeBatch failed: %v", err)
	}
	if len(decoded) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(decoded), len(frames))
	}
	for i := range frames {
		if !bytes.Equal(decoded[i], frames[i]) {
			t.Errorf("frame %d changed across batching", i)
		}
	}
}

func TestDecodeBatchRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"dangling length":  {0, 0},
		"length past end":  {0, 0, 0, 10, 1, 2},
		"zero length":      {0, 0, 0, 0},
		"oversized length": {0xFF, 0xFF, 0xFF, 0xFF, 1},
	}
	for name, data := range cases {
		if _, err := DecodeBatch(data); err == nil {
			t.Errorf("%s: DecodeBatch accepted malformed input", name)
		}
	}
}

func TestBatcherFlushesWhenFull(t *testing.T) {
	b := NewBatcher(Balanced)
	frame := []byte{1, 2, 3}

	for i := 0; i < DefaultBatchLimit-1; i++ {
		if out := b.Add(frame); out != nil {
			t.Fatalf("batch flushed early at frame %d", i)
		}
	}
	out := b.Add(frame)
	if len(out) != DefaultBatchLimit {
		t.Fatalf("flushed %d frames, want %d", len(out), DefaultBatchLimit)
	}
	if b.Len() != 0 {
		t.Errorf("batcher holds %d frames after flush, want 0", b.Len())
	}
}

func TestBatcherDueByAge(t *testing.T) {
	b := NewBatcher(Balanced)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	if b.Due() {
		t.Error("empty batcher reported due")
	}

	b.Add([]byte{1})
	if b.Due() {
		t.Error("fresh frame reported due")
	}

	now = now.Add(Balanced.MaxBatchAge())
	if !b.Due() {
		t.Error("aged frame not reported due")
	}

	out := b.Flush()
	if len(out) != 1 {
		t.Fatalf("flushed %d frames, want 1", len(out))
	}
	if b.Due() {
		t.Error("batcher still due after flush")
	}
}

func TestBatteryModeProfiles(t *testing.T) {
	if !(Performance.ScanInterval() < Balanced.ScanInterval()) {
		t.Error("performance mode should scan more often than balanced")
	}
	if !(Balanced.ScanInterval() < PowerSaving.ScanInterval()) {
		t.Error("balanced mode should scan more often than power saving")
	}
	if !(Performance.MaxBatchAge() < PowerSaving.MaxBatchAge()) {
		t.Error("power saving should hold batches longer than performance")
	}
	if PowerSaving.String() != "power_saving" {
		t.Errorf("mode name = %q", PowerSaving.String())
	}
}

func TestLoopbackDrain(t *testing.T) {
	l := NewLoopback("loop0")
	if !l.IsAvailable() {
		t.Fatal("new loopback should be available")
	}

	if err := l.Send([]byte{1}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := l.Send([]byte{2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	frames := l.Drain()
	if len(frames) != 2 {
		t.Fatalf("drained %d frames, want 2", len(frames))
	}
	if l.SentCount() != 0 {
		t.Error("frames remain after drain")
	}

	l.SetAvailable(false)
	if l.IsAvailable() {
		t.Error("availability toggle had no effect")
	}
}
