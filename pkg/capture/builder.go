package capture

import (
	"fmt"
	"math/bits"
	"slices"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/bus"
)

type sample struct {
	ts  int64
	val uint32
}

// TemplateOptions selects what ApplyTemplate copies besides channel metadata.
type TemplateOptions struct {
	Samples     bool
	Annotations bool
	Cursors     bool
}

// Builder assembles a Capture. Samples may be added in any timestamp order.
// Setter errors are sticky and reported by Build.
type Builder struct {
	channelCount int
	enabled      uint32
	enabledSet   bool
	sampleRate   int

	absLength  int64
	absSet     bool
	trigger    int64
	hasTrigger bool

	labels      map[int]string
	samples     []sample
	annotations []annotation.Annotation
	cursors     []Cursor
	cursorCount int
	bus         *bus.Bus

	err error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{labels: make(map[int]string), cursorCount: DefaultCursorCount}
}

func (b *Builder) fail(format string, args ...any) *Builder {
	if b.err == nil {
		b.err = fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
	}
	return b
}

// SetChannelCount fixes the channel count. Without it Build infers the count
// from the highest bit set in any sample.
func (b *Builder) SetChannelCount(n int) *Builder {
	if n < 1 || n > MaxChannels {
		return b.fail("channel count %d not in 1..%d", n, MaxChannels)
	}
	b.channelCount = n
	return b
}

// SetEnabledChannels sets the enabled-channel mask. Defaults to all channels.
func (b *Builder) SetEnabledChannels(mask uint32) *Builder {
	b.enabled = mask
	b.enabledSet = true
	return b
}

// SetSampleRate sets the sample rate in Hz; zero marks a state capture.
func (b *Builder) SetSampleRate(hz int) *Builder {
	if hz < 0 {
		return b.fail("negative sample rate %d", hz)
	}
	b.sampleRate = hz
	return b
}

// SetTriggerPosition records the trigger timestamp.
func (b *Builder) SetTriggerPosition(ts int64) *Builder {
	b.trigger = ts
	b.hasTrigger = true
	return b
}

// SetAbsoluteLength sets the inclusive end of the last sample span. It
// defaults to the last timestamp.
func (b *Builder) SetAbsoluteLength(ts int64) *Builder {
	b.absLength = ts
	b.absSet = true
	return b
}

// SetChannelLabel names a channel.
func (b *Builder) SetChannelLabel(ch int, label string) *Builder {
	if ch < 0 || ch >= MaxChannels {
		return b.fail("channel %d not in 0..%d", ch, MaxChannels-1)
	}
	b.labels[ch] = label
	return b
}

// SetCursorCount sets the size of the capture's cursor set.
func (b *Builder) SetCursorCount(n int) *Builder {
	if n < 0 {
		return b.fail("negative cursor count %d", n)
	}
	b.cursorCount = n
	return b
}

// SetBus attaches the bus cursor changes are published on.
func (b *Builder) SetBus(bb *bus.Bus) *Builder {
	b.bus = bb
	return b
}

// AddSample appends a sample. A later sample with the same timestamp
// replaces the earlier one.
func (b *Builder) AddSample(ts int64, value uint32) *Builder {
	if ts < 0 {
		return b.fail("negative timestamp %d", ts)
	}
	b.samples = append(b.samples, sample{ts: ts, val: value})
	return b
}

// AddAnnotation attaches an annotation to the capture.
func (b *Builder) AddAnnotation(a annotation.Annotation) *Builder {
	b.annotations = append(b.annotations, a.Clone())
	return b
}

// ApplyTemplate copies the channel layout, sample rate, trigger and absolute
// length of src, plus whatever opts selects.
func (b *Builder) ApplyTemplate(src *Capture, opts TemplateOptions) *Builder {
	if src == nil {
		return b.fail("nil template")
	}
	b.channelCount = src.channelCount
	b.enabled = src.enabled
	b.enabledSet = true
	b.sampleRate = src.sampleRate
	b.absLength = src.absLength
	b.absSet = true
	b.trigger, b.hasTrigger = src.trigger, src.hasTrigger
	for _, ch := range src.channels {
		if ch.Label != "" {
			b.labels[ch.Index] = ch.Label
		}
	}
	if opts.Samples {
		for i, ts := range src.timestamps {
			b.samples = append(b.samples, sample{ts: ts, val: src.values[i]})
		}
	}
	if opts.Annotations {
		for _, a := range src.annotations {
			b.annotations = append(b.annotations, a.Clone())
		}
	}
	if opts.Cursors && src.cursors != nil {
		b.cursors = src.cursors.All()
		b.cursorCount = len(b.cursors)
	}
	return b
}

// Build sorts and canonicalizes the samples. Values are masked with the
// enabled channels and a sample equal to its predecessor is dropped, so the
// result has strictly increasing timestamps and a transition at every index
// after the first.
func (b *Builder) Build() (*Capture, error) {
	if b.err != nil {
		return nil, b.err
	}

	samples := slices.Clone(b.samples)
	slices.SortStableFunc(samples, func(x, y sample) int {
		switch {
		case x.ts < y.ts:
			return -1
		case x.ts > y.ts:
			return 1
		}
		return 0
	})

	count := b.channelCount
	if count == 0 {
		var seen uint32
		for _, s := range samples {
			seen |= s.val
		}
		if b.enabledSet {
			seen |= b.enabled
		}
		for ch := range b.labels {
			seen |= 1 << uint(ch)
		}
		count = max(bits.Len32(seen), 1)
	}
	full := uint32((uint64(1) << uint(count)) - 1)

	enabled := full
	if b.enabledSet {
		enabled = b.enabled & full
	}

	c := &Capture{
		channelCount: count,
		enabled:      enabled,
		sampleRate:   b.sampleRate,
		trigger:      b.trigger,
		hasTrigger:   b.hasTrigger,
	}

	var last int64
	for i, s := range samples {
		v := s.val & enabled
		last = s.ts
		if i+1 < len(samples) && samples[i+1].ts == s.ts {
			continue
		}
		if n := len(c.values); n > 0 && c.values[n-1] == v {
			continue
		}
		c.timestamps = append(c.timestamps, s.ts)
		c.values = append(c.values, v)
	}

	c.absLength = last
	if b.absSet && b.absLength > last {
		c.absLength = b.absLength
	}

	c.channels = make([]Channel, count)
	for i := range c.channels {
		c.channels[i] = Channel{
			Index:   i,
			Label:   b.labels[i],
			Enabled: enabled&(1<<uint(i)) != 0,
		}
	}
	c.annotations = slices.Clone(b.annotations)

	c.cursors = NewCursorSet(b.cursorCount, b.bus)
	for _, cur := range b.cursors {
		if cur.ID < 0 || cur.ID >= c.cursors.Len() {
			continue
		}
		c.cursors.restore(cur)
	}
	return c, nil
}
