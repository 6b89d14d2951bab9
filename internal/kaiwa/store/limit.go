package store

import "sync/atomic"

// DefaultMaxHistoryLen is the history bound used when none is configured.
const DefaultMaxHistoryLen = 20

// HistoryLimit is the process-wide bound on retained history entries. It is
// read on every history operation, so a Set is observed by the next one
// without restarting the store.
type HistoryLimit struct {
	v atomic.Int64
}

// NewHistoryLimit returns a limit initialised to max. Non-positive values
// select DefaultMaxHistoryLen.
func NewHistoryLimit(max int) *HistoryLimit {
	l := &HistoryLimit{}
	l.Set(max)
	return l
}

// Max returns the current bound.
func (l *HistoryLimit) Max() int {
	if l == nil {
		return DefaultMaxHistoryLen
	}
	return int(l.v.Load())
}

// Set changes the bound. Non-positive values select DefaultMaxHistoryLen.
func (l *HistoryLimit) Set(max int) {
	if max <= 0 {
		max = DefaultMaxHistoryLen
	}
	l.v.Store(int64(max))
}

// trim drops the oldest entries so that at most max remain. The returned
// slice shares no backing array with the dropped prefix once it shrinks.
func trim(entries []Entry, max int) []Entry {
	excess := len(entries) - max
	if excess <= 0 {
		return entries
	}
	kept := make([]Entry, max)
	copy(kept, entries[excess:])
	return kept
}
