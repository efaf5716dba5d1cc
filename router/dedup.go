package router

import (
	"sync"
	"time"

	"github.com/W4ashabii/meshapp/limits"
	"github.com/W4ashabii/meshapp/transport"
)

// DefaultDedupWindow is how long a packet fingerprint is remembered.
// A fingerprint older than this may be accepted again, which only
// costs a redundant local-delivery attempt, never a duplicate message
// (the store keys messages by content anyway).
const DefaultDedupWindow = 10 * time.Minute

// dedupWindow is a bounded recently-seen set of packet fingerprints.
// It is bounded both by entry count and by age so a chatty mesh cannot
// grow it without limit and a quiet one does not pin stale entries.
type dedupWindow struct {
	mu     sync.Mutex
	seen   map[transport.Fingerprint]time.Time
	order  []dedupEntry
	max    int
	maxAge time.Duration
	now    func() time.Time
}

// dedupEntry records when a fingerprint was stored. A fingerprint that
// is refreshed after expiry gets a new entry; the old one becomes stale
// and is skipped during eviction.
type dedupEntry struct {
	fp transport.Fingerprint
	at time.Time
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{
		seen:   make(map[transport.Fingerprint]time.Time),
		max:    limits.DedupWindowSize,
		maxAge: DefaultDedupWindow,
		now:    time.Now,
	}
}

// checkAndStore returns true if the fingerprint is fresh and records
// it. A false return means the packet was already seen inside the
// window and must be dropped.
func (w *dedupWindow) checkAndStore(fp transport.Fingerprint) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if seenAt, ok := w.seen[fp]; ok && now.Sub(seenAt) < w.maxAge {
		return false
	}

	w.seen[fp] = now
	w.order = append(w.order, dedupEntry{fp: fp, at: now})

	w.evictLocked(now)
	return true
}

// evictLocked drops expired entries from the front of the insertion
// order, then enforces the count bound oldest-first. An entry whose
// timestamp no longer matches the map is a stale position left by a
// refresh and is discarded without evicting the fingerprint.
func (w *dedupWindow) evictLocked(now time.Time) {
	for len(w.order) > 0 {
		oldest := w.order[0]
		seenAt, ok := w.seen[oldest.fp]
		if !ok || !seenAt.Equal(oldest.at) {
			w.order = w.order[1:]
			continue
		}
		if now.Sub(seenAt) < w.maxAge {
			break
		}
		delete(w.seen, oldest.fp)
		w.order = w.order[1:]
	}

	for len(w.seen) > w.max && len(w.order) > 0 {
		oldest := w.order[0]
		w.order = w.order[1:]
		if seenAt, ok := w.seen[oldest.fp]; ok && seenAt.Equal(oldest.at) {
			delete(w.seen, oldest.fp)
		}
	}
}

// size returns the number of remembered fingerprints.
func (w *dedupWindow) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
