// Package capture models a recorded multi-channel logic capture: packed
// channel samples keyed by strictly increasing timestamps, channel metadata,
// an optional trigger position and a set of cursors.
//
// A Capture is immutable once built and may be shared between any number of
// concurrent decoders. Only its CursorSet is mutable.
package capture

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
)

// MaxChannels is the widest capture a sample value can describe.
const MaxChannels = 32

var (
	// ErrOutOfRange reports an index outside the valid range.
	ErrOutOfRange = errors.New("capture: index out of range")
	// ErrRangeEmpty reports a decoding interval without samples.
	ErrRangeEmpty = errors.New("capture: range is empty")
	// ErrInvalid reports a builder configuration that cannot form a capture.
	ErrInvalid = errors.New("capture: invalid capture")
)

// Channel describes one bit of the packed sample value.
type Channel struct {
	Index   int
	Label   string
	Enabled bool
}

// Mask returns the channel's bit within a sample value.
func (c Channel) Mask() uint32 {
	return 1 << uint(c.Index)
}

// Name returns the label, or a generated name for unlabeled channels.
func (c Channel) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return fmt.Sprintf("Channel %d", c.Index)
}

// Capture is a canonical, time-ordered list of samples. Bit k of Values()[i]
// is the level of channel k over [Timestamps()[i], Timestamps()[i+1]).
type Capture struct {
	channelCount int
	enabled      uint32
	sampleRate   int

	timestamps []int64
	values     []uint32

	absLength  int64
	trigger    int64
	hasTrigger bool

	channels    []Channel
	annotations []annotation.Annotation
	cursors     *CursorSet
}

// ChannelCount returns the number of channels (1..32).
func (c *Capture) ChannelCount() int { return c.channelCount }

// EnabledChannels returns the enabled-channel bitmask.
func (c *Capture) EnabledChannels() uint32 { return c.enabled }

// SampleRate returns the sample rate in Hz; zero means a state capture.
func (c *Capture) SampleRate() int { return c.sampleRate }

// HasTimingData reports whether timestamps are sample clock ticks.
func (c *Capture) HasTimingData() bool { return c.sampleRate > 0 }

// Len returns the number of samples.
func (c *Capture) Len() int { return len(c.timestamps) }

// Timestamps returns the timestamp sequence. Callers must not modify it.
func (c *Capture) Timestamps() []int64 { return c.timestamps }

// Values returns the sample values. Callers must not modify them.
func (c *Capture) Values() []uint32 { return c.values }

// AbsoluteLength returns the inclusive end of the last sample span.
func (c *Capture) AbsoluteLength() int64 { return c.absLength }

// TriggerPosition returns the trigger timestamp if one was recorded.
func (c *Capture) TriggerPosition() (int64, bool) { return c.trigger, c.hasTrigger }

// HasTriggerData reports whether a trigger position was recorded.
func (c *Capture) HasTriggerData() bool { return c.hasTrigger }

// Cursors returns the capture's cursor set.
func (c *Capture) Cursors() *CursorSet { return c.cursors }

// Annotations returns a copy of the annotations attached to the capture.
func (c *Capture) Annotations() []annotation.Annotation {
	out := make([]annotation.Annotation, len(c.annotations))
	for i, a := range c.annotations {
		out[i] = a.Clone()
	}
	return out
}

// Timestamp returns the timestamp of sample i.
func (c *Capture) Timestamp(i int) (int64, error) {
	if i < 0 || i >= len(c.timestamps) {
		return 0, fmt.Errorf("%w: sample %d of %d", ErrOutOfRange, i, len(c.timestamps))
	}
	return c.timestamps[i], nil
}

// Value returns the packed value of sample i.
func (c *Capture) Value(i int) (uint32, error) {
	if i < 0 || i >= len(c.values) {
		return 0, fmt.Errorf("%w: sample %d of %d", ErrOutOfRange, i, len(c.values))
	}
	return c.values[i], nil
}

// SampleIndex returns the greatest i with Timestamps()[i] <= ts. Timestamps
// before the first sample map to 0 and an empty capture yields -1.
func (c *Capture) SampleIndex(ts int64) int {
	n := len(c.timestamps)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return c.timestamps[i] > ts })
	if i == 0 {
		return 0
	}
	return i - 1
}

// ValueAt returns the sample value in effect at ts.
func (c *Capture) ValueAt(ts int64) uint32 {
	i := c.SampleIndex(ts)
	if i < 0 {
		return 0
	}
	return c.values[i]
}

// Channel returns the metadata of channel i.
func (c *Capture) Channel(i int) (Channel, error) {
	if i < 0 || i >= c.channelCount {
		return Channel{}, fmt.Errorf("%w: channel %d of %d", ErrOutOfRange, i, c.channelCount)
	}
	return c.channels[i], nil
}

// Channels returns the metadata of every channel.
func (c *Capture) Channels() []Channel {
	return slices.Clone(c.channels)
}

// IsEnabled reports whether channel i is enabled.
func (c *Capture) IsEnabled(i int) bool {
	return i >= 0 && i < c.channelCount && c.enabled&(1<<uint(i)) != 0
}

// Range is a half-open interval [Start, End) of sample indices.
type Range struct {
	Start int
	End   int
}

// Len returns the number of samples in the range.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range holds no samples.
func (r Range) Empty() bool { return r.Len() == 0 }

// FullRange covers every sample of the capture.
func (c *Capture) FullRange() Range {
	return Range{Start: 0, End: len(c.timestamps)}
}

// StartTime returns the timestamp of the first sample in r.
func (c *Capture) StartTime(r Range) int64 {
	n := len(c.timestamps)
	switch {
	case n == 0:
		return 0
	case r.Start <= 0:
		return c.timestamps[0]
	case r.Start >= n:
		return c.absLength
	}
	return c.timestamps[r.Start]
}

// EndTime returns the timestamp bounding r: the start of the first sample
// past the range, or the absolute length when r reaches the last sample.
func (c *Capture) EndTime(r Range) int64 {
	if r.End >= len(c.timestamps) {
		return c.absLength
	}
	if r.End <= 0 {
		return c.StartTime(Range{})
	}
	return c.timestamps[r.End]
}

// RangeForTimes returns the samples covering [t0, t1].
func (c *Capture) RangeForTimes(t0, t1 int64) (Range, error) {
	if len(c.timestamps) == 0 {
		return Range{}, ErrRangeEmpty
	}
	if t1 < t0 {
		t0, t1 = t1, t0
	}
	if t1 < c.timestamps[0] || t0 > c.absLength {
		return Range{}, fmt.Errorf("%w: [%d, %d] outside capture", ErrRangeEmpty, t0, t1)
	}
	return Range{Start: c.SampleIndex(t0), End: c.SampleIndex(t1) + 1}, nil
}

// CheckRange validates r against the capture.
func (c *Capture) CheckRange(r Range) error {
	if r.Start < 0 || r.End > len(c.timestamps) {
		return fmt.Errorf("%w: range [%d, %d) of %d samples", ErrOutOfRange, r.Start, r.End, len(c.timestamps))
	}
	if r.Empty() {
		return ErrRangeEmpty
	}
	return nil
}

// RangeFromCursors bounds a decoding range by two defined cursors.
func RangeFromCursors(c *Capture, a, b int) (Range, error) {
	ca, err := c.cursors.Get(a)
	if err != nil {
		return Range{}, err
	}
	cb, err := c.cursors.Get(b)
	if err != nil {
		return Range{}, err
	}
	if !ca.Defined || !cb.Defined {
		return Range{}, fmt.Errorf("%w: cursors %d and %d must both be set", ErrRangeEmpty, a, b)
	}
	return c.RangeForTimes(ca.Timestamp, cb.Timestamp)
}
