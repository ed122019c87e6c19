// Package history holds the committed strokes of one canvas and the strokes
// removed from it by undo.
//
// A Store is not safe for concurrent use. It is owned by a single
// coordinator goroutine which serializes every read and write.
package history

import (
	"slices"

	"sketchboard/pkg/canvas/protocol"
)

// Store is the canonical, ordered stroke log plus its redo stack.
type Store struct {
	log  []protocol.Stroke
	redo []protocol.Stroke
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Append commits a finished stroke and invalidates the redo stack.
// Malformed strokes are rejected and leave the store untouched.
func (s *Store) Append(st protocol.Stroke) error {
	if err := st.Validate(); err != nil {
		return err
	}
	st.Points = slices.Clone(st.Points)
	s.log = append(s.log, st)
	s.redo = s.redo[:0]
	return nil
}

// Undo moves the newest committed stroke onto the redo stack.
// ok is false when there is nothing to undo.
func (s *Store) Undo() (st protocol.Stroke, ok bool) {
	if len(s.log) == 0 {
		return protocol.Stroke{}, false
	}
	st = s.log[len(s.log)-1]
	s.log = s.log[:len(s.log)-1]
	s.redo = append(s.redo, st)
	return st, true
}

// Redo moves the most recently undone stroke back onto the log.
func (s *Store) Redo() (st protocol.Stroke, ok bool) {
	if len(s.redo) == 0 {
		return protocol.Stroke{}, false
	}
	st = s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.log = append(s.log, st)
	return st, true
}

// Clear drops every committed and undone stroke. It cannot be undone.
func (s *Store) Clear() {
	s.log = nil
	s.redo = nil
}

// History returns a copy of the committed log, oldest first.
func (s *Store) History() []protocol.Stroke {
	out := make([]protocol.Stroke, len(s.log))
	copy(out, s.log)
	return out
}

// Len is the number of committed strokes.
func (s *Store) Len() int { return len(s.log) }

// RedoLen is the number of strokes available to redo.
func (s *Store) RedoLen() int { return len(s.redo) }
