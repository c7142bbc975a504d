package dialog

import (
	"time"

	"github.com/ashureev/kempenbot/internal/wire"
)

// suppressor drops outbound messages that exactly repeat a recent one
// by content and type. History is a fixed-size ring, not unbounded.
// Button prompts and campaign cards are exempt: those legitimately
// repeat when a node re-prompts.
type suppressor struct {
	entries []dedupEntry
	next    int
	window  time.Duration
	now     func() time.Time
}

type dedupEntry struct {
	fingerprint string
	at          time.Time
}

func newSuppressor(size int, window time.Duration, now func() time.Time) *suppressor {
	if size <= 0 {
		size = 10
	}
	if now == nil {
		now = time.Now
	}
	return &suppressor{
		entries: make([]dedupEntry, 0, size),
		window:  window,
		now:     now,
	}
}

// allow reports whether the message should be emitted and records it.
func (s *suppressor) allow(msg wire.Message) bool {
	switch wire.Kind(msg) {
	case "buttons", "campaign":
		return true
	}

	fp := wire.Fingerprint(msg)
	now := s.now()
	for _, e := range s.entries {
		if e.fingerprint == fp && now.Sub(e.at) <= s.window {
			return false
		}
	}

	if len(s.entries) < cap(s.entries) {
		s.entries = append(s.entries, dedupEntry{fingerprint: fp, at: now})
	} else {
		s.entries[s.next] = dedupEntry{fingerprint: fp, at: now}
		s.next = (s.next + 1) % cap(s.entries)
	}
	return true
}
