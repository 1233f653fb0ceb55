package watch

import (
	"sync"
	"time"
)

// lastSeen tracks, per character, the newest event timestamp this process
// has looked at. It suppresses duplicate announcements when consecutive
// poll windows overlap. The map is process-local on purpose: it resets on
// restart, and the persisted watermark remains the durable at-least-once
// boundary. Advancing happens on "seen", not "notified", so ineligible
// items are not rescanned forever.
type lastSeen struct {
	mu          sync.Mutex
	byCharacter map[string]time.Time
}

func newLastSeen() *lastSeen {
	return &lastSeen{byCharacter: map[string]time.Time{}}
}

func (t *lastSeen) get(characterID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.byCharacter[characterID]
	return ts, ok
}

// advance moves the per-character timestamp forward, never back.
func (t *lastSeen) advance(characterID string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.byCharacter[characterID]; !ok || ts.After(cur) {
		t.byCharacter[characterID] = ts
	}
}
