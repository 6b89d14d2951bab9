package store

import (
	"maps"
	"slices"
	"sync/atomic"
	"time"
)

// resolveEnabled applies the enablement rules to a settings record.
// A missing record or a missing thread entry means enabled.
func resolveEnabled(s *ChatSettings, threadID *int64, isSupergroup bool) bool {
	if s == nil {
		return true
	}
	if threadID != nil && (s.IsSupergroup || isSupergroup) {
		enabled, ok := s.Threads[*threadID]
		if !ok {
			return true
		}
		return enabled
	}
	return s.Enabled
}

// applyToggle returns the record after setting a flag. cur may be nil, in
// which case a new record is created with isSupergroup recorded.
func applyToggle(cur *ChatSettings, threadID *int64, isSupergroup, enabled bool) *ChatSettings {
	next := &ChatSettings{IsSupergroup: isSupergroup, Enabled: true}
	if cur != nil {
		next.IsSupergroup = cur.IsSupergroup
		next.Enabled = cur.Enabled
		next.Threads = maps.Clone(cur.Threads)
	}
	if threadID == nil {
		next.Enabled = enabled
		return next
	}
	if next.Threads == nil {
		next.Threads = make(map[int64]bool)
	}
	next.Threads[*threadID] = enabled
	return next
}

var lastNoteID atomic.Int64

// NextNoteID returns a note identifier derived from the wall clock in
// milliseconds. Identifiers are strictly increasing within the process even
// when the clock stalls or steps back.
func NextNoteID() int64 {
	for {
		last := lastNoteID.Load()
		id := time.Now().UnixMilli()
		if id <= last {
			id = last + 1
		}
		if lastNoteID.CompareAndSwap(last, id) {
			return id
		}
	}
}

// sortNotes orders notes by NoteID, keeping insertion order for ties.
func sortNotes(notes []Note) {
	slices.SortStableFunc(notes, func(a, b Note) int {
		switch {
		case a.NoteID < b.NoteID:
			return -1
		case a.NoteID > b.NoteID:
			return 1
		}
		return 0
	})
}
