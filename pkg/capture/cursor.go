package capture

import (
	"fmt"
	"slices"
	"sync"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/bus"
)

// DefaultCursorCount is the number of cursors a capture carries unless the
// builder says otherwise.
const DefaultCursorCount = 10

// Cursor is a labeled marker. An undefined cursor has no meaningful
// timestamp.
type Cursor struct {
	ID        int
	Timestamp int64
	Label     string
	Color     string
	Defined   bool
}

// CursorChanged carries the before and after state of a modified cursor.
type CursorChanged struct {
	Old Cursor
	New Cursor
}

// TopicCursorChanged is published whenever a cursor is modified.
var TopicCursorChanged = bus.NewTopic[CursorChanged]("capture.cursor")

// CursorSet is a fixed-size set of cursors owned by the controller of a
// capture.
type CursorSet struct {
	mu      sync.RWMutex
	cursors []Cursor
	bus     *bus.Bus
}

// NewCursorSet returns n undefined cursors publishing changes on b.
func NewCursorSet(n int, b *bus.Bus) *CursorSet {
	s := &CursorSet{cursors: make([]Cursor, n), bus: b}
	for i := range s.cursors {
		s.cursors[i].ID = i
	}
	return s
}

// Len returns the number of cursors.
func (s *CursorSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.cursors)
}

// Get returns cursor idx.
func (s *CursorSet) Get(idx int) (Cursor, error) {
	if s == nil || idx < 0 || idx >= len(s.cursors) {
		return Cursor{}, fmt.Errorf("%w: cursor %d", ErrOutOfRange, idx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[idx], nil
}

// All returns a snapshot of every cursor.
func (s *CursorSet) All() []Cursor {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cursors)
}

// Defined returns the defined cursors in id order.
func (s *CursorSet) Defined() []Cursor {
	var out []Cursor
	for _, c := range s.All() {
		if c.Defined {
			out = append(out, c)
		}
	}
	return out
}

// Set places cursor idx at ts and marks it defined.
func (s *CursorSet) Set(idx int, ts int64) error {
	return s.update(idx, func(c *Cursor) {
		c.Timestamp = ts
		c.Defined = true
	})
}

// Clear marks cursor idx undefined. Clearing an undefined cursor is a no-op.
func (s *CursorSet) Clear(idx int) error {
	return s.update(idx, func(c *Cursor) {
		c.Timestamp = 0
		c.Defined = false
	})
}

// SetLabel sets the label of cursor idx.
func (s *CursorSet) SetLabel(idx int, label string) error {
	return s.update(idx, func(c *Cursor) { c.Label = label })
}

// SetColor sets the display color of cursor idx.
func (s *CursorSet) SetColor(idx int, color string) error {
	return s.update(idx, func(c *Cursor) { c.Color = color })
}

func (s *CursorSet) update(idx int, fn func(*Cursor)) error {
	if s == nil || idx < 0 || idx >= len(s.cursors) {
		return fmt.Errorf("%w: cursor %d", ErrOutOfRange, idx)
	}

	s.mu.Lock()
	old := s.cursors[idx]
	fn(&s.cursors[idx])
	cur := s.cursors[idx]
	s.mu.Unlock()

	if old != cur {
		bus.Publish(s.bus, TopicCursorChanged, CursorChanged{Old: old, New: cur})
	}
	return nil
}

func (s *CursorSet) restore(c Cursor) {
	s.mu.Lock()
	s.cursors[c.ID] = c
	s.mu.Unlock()
}
