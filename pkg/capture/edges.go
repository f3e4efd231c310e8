package capture

import (
	"fmt"
	"sort"
)

// Edge is the transition between two successive masked samples.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "RISING"
	case EdgeFalling:
		return "FALLING"
	case EdgeNone:
		return "NONE"
	}
	return fmt.Sprintf("Edge(%d)", uint8(e))
}

// EdgeBetween classifies the change from prev to cur under mask.
func EdgeBetween(prev, cur, mask uint32) Edge {
	p, c := prev&mask, cur&mask
	switch {
	case p == c:
		return EdgeNone
	case c != 0:
		return EdgeRising
	default:
		return EdgeFalling
	}
}

func channelMask(ch int) uint32 {
	if ch < 0 || ch >= MaxChannels {
		return 0
	}
	return 1 << uint(ch)
}

// NextTransition returns the smallest j > i at which the masked value
// differs from sample j-1.
func (c *Capture) NextTransition(mask uint32, i int) (int, bool) {
	if i < 0 {
		i = 0
	}
	for j := i + 1; j < len(c.values); j++ {
		if (c.values[j]^c.values[j-1])&mask != 0 {
			return j, true
		}
	}
	return 0, false
}

// PrevTransition returns the largest j <= i at which the masked value
// differs from sample j-1.
func (c *Capture) PrevTransition(mask uint32, i int) (int, bool) {
	if i >= len(c.values) {
		i = len(c.values) - 1
	}
	for j := i; j >= 1; j-- {
		if (c.values[j]^c.values[j-1])&mask != 0 {
			return j, true
		}
	}
	return 0, false
}

// TryEdgeAfter returns the first time after ts at which channel ch changes.
func (c *Capture) TryEdgeAfter(ch int, ts int64) (int64, bool) {
	mask := channelMask(ch)
	if mask == 0 || len(c.timestamps) == 0 {
		return 0, false
	}
	j, ok := c.NextTransition(mask, c.SampleIndex(ts))
	if !ok {
		return 0, false
	}
	return c.timestamps[j], true
}

// TryEdgeBefore returns the last time before ts at which channel ch changed.
func (c *Capture) TryEdgeBefore(ch int, ts int64) (int64, bool) {
	mask := channelMask(ch)
	if mask == 0 || len(c.timestamps) == 0 {
		return 0, false
	}
	i := c.SampleIndex(ts)
	if c.timestamps[i] >= ts {
		i--
	}
	j, ok := c.PrevTransition(mask, i)
	if !ok {
		return 0, false
	}
	return c.timestamps[j], true
}

// EdgeAfter is TryEdgeAfter with the legacy sentinel: when there is no
// later edge it returns the first timestamp of the capture. That value
// cannot be told apart from a real edge at the origin; use TryEdgeAfter
// when the difference matters.
func (c *Capture) EdgeAfter(ch int, ts int64) int64 {
	if t, ok := c.TryEdgeAfter(ch, ts); ok {
		return t
	}
	return c.first()
}

// EdgeBefore is TryEdgeBefore clamped to the first timestamp.
func (c *Capture) EdgeBefore(ch int, ts int64) int64 {
	if t, ok := c.TryEdgeBefore(ch, ts); ok {
		return t
	}
	return c.first()
}

func (c *Capture) first() int64 {
	if len(c.timestamps) == 0 {
		return 0
	}
	return c.timestamps[0]
}

// EdgeEvent is one transition reported by an EdgeIterator.
type EdgeEvent struct {
	Timestamp int64
	Edge      Edge
	Level     bool
}

// EdgeIterator walks the transitions of one channel. It is finite and
// cannot be restarted.
type EdgeIterator struct {
	c    *Capture
	mask uint32
	next int
	end  int64
}

// Edges iterates the transitions of channel ch with t0 <= t <= t1.
func (c *Capture) Edges(ch int, t0, t1 int64) *EdgeIterator {
	it := &EdgeIterator{c: c, mask: channelMask(ch), end: t1}
	it.next = sort.Search(len(c.timestamps), func(i int) bool { return c.timestamps[i] >= t0 })
	if it.next == 0 {
		it.next = 1
	}
	return it
}

// Next returns the next transition, or false once the range is exhausted.
func (it *EdgeIterator) Next() (EdgeEvent, bool) {
	c := it.c
	if it.mask == 0 {
		return EdgeEvent{}, false
	}
	for it.next < len(c.values) && c.timestamps[it.next] <= it.end {
		j := it.next
		it.next++
		if e := EdgeBetween(c.values[j-1], c.values[j], it.mask); e != EdgeNone {
			return EdgeEvent{Timestamp: c.timestamps[j], Edge: e, Level: e == EdgeRising}, true
		}
	}
	it.next = len(c.values)
	return EdgeEvent{}, false
}
