// Package manchester decodes a self-clocking Manchester coded line and
// rebuilds the capture with the recovered clock on a neighbouring channel.
package manchester

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Name identifies the decoder.
const Name = "manchester"

// ColorSyncError marks a lost synchronisation.
const ColorSyncError = "#ff6600"

// Symbol is a decoded group of bits.
type Symbol struct {
	Start int64
	End   int64
	Value uint32
	// Padded counts the trailing bits completed from the last line level
	// because the signal ended.
	Padded int
}

// Result is the outcome of a decoder run.
type Result struct {
	// Capture is the input with the synthesized clock on ClockChannel.
	Capture      *capture.Capture
	ClockChannel int
	Symbols      []Symbol

	// HalfCycle is the last recovered half-cycle in ticks.
	HalfCycle      float64
	ClockFrequency float64
	SyncErrors     int

	annotations int
}

// AnnotationCount returns the number of annotations the run produced.
func (r *Result) AnnotationCount() int { return r.annotations }

// NewTask binds a decoder run to tc for use with a tool.Runner.
func NewTask(tc tool.Context, cfg Config) tool.Task[*Result] {
	return tool.NewTask(Name, func(ctx context.Context, progress func(int)) (*Result, error) {
		tc.Progress = progress
		return Decode(ctx, tc, cfg)
	})
}

type edge struct {
	t      int64
	rising bool
}

type class uint8

const (
	short class = iota
	long
)

// bitMark is a recovered mid-bit transition and the half-cycle in force.
type bitMark struct {
	t   int64
	h   float64
	one bool
}

type decoder struct {
	cfg   Config
	tc    tool.Context
	rep   *tool.Reporter
	edges []edge
	res   *Result

	marks []bitMark
	value uint32
	bits  int
	start int64
	h     float64
}

// Decode recovers the symbols on the configured data line. It fails with
// tool.ErrNoSignal when the range holds fewer than two transitions.
func Decode(ctx context.Context, tc tool.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("manchester: %w", err)
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("manchester: %w", err)
	}
	c := tc.Capture
	if cfg.DataChannel >= c.ChannelCount() {
		return nil, fmt.Errorf("manchester: %w: data channel %d, capture has %d channels",
			tool.ErrInvalidConfig, cfg.DataChannel, c.ChannelCount())
	}

	d := &decoder{
		cfg: cfg,
		tc:  tc,
		rep: tool.NewReporter(ctx, tc.StartTime(), tc.EndTime(), tc.Progress),
		res: &Result{ClockChannel: cfg.ClockChannel()},
	}
	if err := d.collect(); err != nil {
		return nil, err
	}
	if len(d.edges) < 2 {
		return nil, fmt.Errorf("manchester: %w: %d transitions on channel %d",
			tool.ErrNoSignal, len(d.edges), cfg.DataChannel)
	}

	clk := d.res.ClockChannel
	tc.Sink.Clear(cfg.DataChannel)
	tc.Sink.Clear(clk)
	d.add(annotation.Label(cfg.DataChannel, "Manchester"))
	d.add(annotation.Label(clk, "Clock"))
	if occupied(c, clk) {
		d.add(annotation.Metadata(clk, fmt.Sprintf("Channel %d is overwritten by the recovered clock", clk),
			map[string]any{annotation.KeyType: annotation.TypeWarning}))
	}

	for i := 0; i < len(d.edges)-1; {
		next, err := d.segment(i)
		if err != nil {
			return nil, err
		}
		i = next
	}

	d.res.HalfCycle = d.h
	if d.h > 0 {
		d.res.ClockFrequency = float64(c.SampleRate()) / (2 * d.h)
	}
	tc.Log.Debug().
		Float64("halfcycle", d.h).
		Float64("clock", d.res.ClockFrequency).
		Int("symbols", len(d.res.Symbols)).
		Msg("manchester clock recovered")
	d.add(annotation.Metadata(cfg.DataChannel, "Clock = "+formatHz(d.res.ClockFrequency), map[string]any{
		"halfCycle":      d.h,
		"clockFrequency": d.res.ClockFrequency,
		"syncErrors":     d.res.SyncErrors,
	}))

	rebuilt, err := d.rebuild()
	if err != nil {
		return nil, fmt.Errorf("manchester: %w", err)
	}
	d.res.Capture = rebuilt
	d.rep.Done()
	return d.res, nil
}

func (d *decoder) add(a annotation.Annotation) {
	d.tc.Sink.Add(a)
	d.res.annotations++
}

func occupied(c *capture.Capture, ch int) bool {
	if ch >= c.ChannelCount() || !c.IsEnabled(ch) {
		return false
	}
	mask := uint32(1) << uint(ch)
	for _, v := range c.Values() {
		if v&mask != 0 {
			return true
		}
	}
	return false
}

func (d *decoder) collect() error {
	c := d.tc.Capture
	mask := uint32(1) << uint(d.cfg.DataChannel)
	ts, vals := c.Timestamps(), c.Values()
	r := d.tc.Range
	for i := r.Start; ; {
		j, ok := c.NextTransition(mask, i)
		if !ok || j >= r.End {
			return nil
		}
		d.edges = append(d.edges, edge{t: ts[j], rising: vals[j]&mask != 0})
		if len(d.edges)%tool.YieldInterval == 0 {
			if err := d.rep.Err(); err != nil {
				return err
			}
		}
		i = j
	}
}

// learn estimates the half-cycle as the shortest interval in the window
// following edge i.
func (d *decoder) learn(i int) float64 {
	var best int64
	for k := i + 1; k < len(d.edges) && k <= i+d.cfg.LearnWindow; k++ {
		dt := d.edges[k].t - d.edges[k-1].t
		if dt < d.cfg.NoiseFloor {
			continue
		}
		if best == 0 || dt < best {
			best = dt
		}
	}
	return float64(best)
}

// segment decodes the run of edges starting at i that keeps
// synchronisation and returns the index of the first edge after it.
func (d *decoder) segment(i int) (int, error) {
	h := d.learn(i)
	if h <= 0 {
		return len(d.edges), nil
	}
	jitter := h / 2

	// Classify intervals until the line idles or synchronisation is lost.
	var classes []class
	hs := []float64{h}
	end, syncLost := len(d.edges)-1, false
	for k := i + 1; k < len(d.edges); k++ {
		if err := d.rep.Update(d.edges[k].t); err != nil {
			return 0, err
		}
		dt := float64(d.edges[k].t - d.edges[k-1].t)
		if dt > d.cfg.IdleGap*h {
			end = k - 1
			break
		}
		switch {
		case math.Abs(dt-h) <= jitter:
			h += (dt - h) / 4
			jitter = max(h/8, 1)
			classes = append(classes, short)
		case math.Abs(dt-2*h) <= 2*jitter:
			h += (dt/2 - h) / 4
			jitter = max(h/16, 1)
			classes = append(classes, long)
		default:
			end, syncLost = k-1, true
		}
		if syncLost {
			break
		}
		hs = append(hs, h)
	}
	if end == i {
		// a lone edge carries no bit
		if syncLost {
			d.syncError(end)
		}
		return i + 1, nil
	}

	// Mid-bit edges: a double interval always joins two of them, so the
	// first one anchors the phase. Without one, the first edge is mid-bit
	// unless only the other phase leaves whole symbols.
	mid := make([]bool, end-i+1)
	anchor := slices.Index(classes, long)
	if anchor < 0 {
		anchor = 0
		n := len(mid)
		if (n+1)/2%d.cfg.SymbolSize != 0 && n/2%d.cfg.SymbolSize == 0 {
			anchor = 1
		}
	}
	for k := 0; k <= anchor && k < len(mid); k++ {
		mid[k] = (anchor-k)%2 == 0
	}
	for k := anchor + 1; k < len(mid); k++ {
		if classes[k-1] == long {
			if !mid[k-1] {
				// a double interval after a bit boundary
				end, syncLost = i+k-1, true
				mid = mid[:k]
				break
			}
			mid[k] = true
		} else {
			mid[k] = !mid[k-1]
		}
	}

	d.value, d.bits = 0, 0
	for k, m := range mid {
		if !m {
			continue
		}
		e := d.edges[i+k]
		d.h = hs[k]
		d.bit(bitMark{t: e.t, h: hs[k], one: e.rising != (d.cfg.Polarity == Thomas)}, 0)
	}
	d.h = hs[len(mid)-1]

	if syncLost {
		d.syncError(end)
		return end + 1, nil
	}
	d.complete(d.edges[end])
	return end + 1, nil
}

// syncError reports the interval following edge k. The partial symbol is
// dropped.
func (d *decoder) syncError(k int) {
	d.res.SyncErrors++
	a, b := d.edges[k].t, d.edges[k+1].t
	d.add(annotation.Error(d.cfg.DataChannel, a, b, annotation.ErrorFrame, map[string]any{
		annotation.KeyColor: ColorSyncError,
	}))
	d.tc.Log.Debug().Int64("at", b).Float64("halfcycle", d.h).Msg("manchester sync lost")
}

// bit appends one bit to the current symbol. padded counts bits that were
// not observed on the line.
func (d *decoder) bit(m bitMark, padded int) {
	if padded == 0 || m.t < d.tc.Capture.AbsoluteLength() {
		d.marks = append(d.marks, m)
	}
	hw := int64(math.Round(m.h))
	if d.bits == 0 {
		d.start = m.t - hw
	}
	if d.cfg.MSBFirst {
		d.value <<= 1
		if m.one {
			d.value |= 1
		}
	} else if m.one {
		d.value |= 1 << uint(d.bits)
	}
	d.bits++
	if d.bits < d.cfg.SymbolSize {
		return
	}

	s := Symbol{Start: d.start, End: m.t + hw, Value: d.value, Padded: padded}
	if padded > 0 {
		s.End = min(s.End, d.tc.Capture.AbsoluteLength())
	}
	d.res.Symbols = append(d.res.Symbols, s)
	d.add(annotation.Symbol(d.cfg.DataChannel, s.Start, s.End, int64(s.Value), map[string]any{
		annotation.KeyType: annotation.TypeSymbol,
	}))
	d.value, d.bits = 0, 0
}

// complete fills a partial symbol at the end of a segment with the line
// level after its last edge, one virtual bit per two half-cycles.
func (d *decoder) complete(last edge) {
	if d.bits == 0 || len(d.marks) == 0 {
		return
	}
	prev := d.marks[len(d.marks)-1]
	one := last.rising != (d.cfg.Polarity == Thomas)
	missing := d.cfg.SymbolSize - d.bits
	for n := 1; n <= missing; n++ {
		t := prev.t + int64(math.Round(2*float64(n)*prev.h))
		d.bit(bitMark{t: t, h: prev.h, one: one}, n)
	}
}

type toggle struct {
	t    int64
	high bool
}

// rebuild copies the capture and drives the clock channel high at every
// recovered mid-bit transition and low one half-cycle later.
func (d *decoder) rebuild() (*capture.Capture, error) {
	c := d.tc.Capture
	clk := d.res.ClockChannel
	mask := uint32(1) << uint(clk)

	toggles := make([]toggle, 0, 2*len(d.marks))
	for _, m := range d.marks {
		toggles = append(toggles, toggle{m.t, true}, toggle{m.t + int64(math.Round(m.h)), false})
	}
	slices.SortStableFunc(toggles, func(a, b toggle) int {
		switch {
		case a.t < b.t:
			return -1
		case a.t > b.t:
			return 1
		}
		return 0
	})
	clockHigh := func(t int64) bool {
		n := sort.Search(len(toggles), func(i int) bool { return toggles[i].t > t })
		return n > 0 && toggles[n-1].high
	}

	times := slices.Clone(c.Timestamps())
	for _, tg := range toggles {
		times = append(times, tg.t)
	}
	slices.Sort(times)
	times = slices.Compact(times)

	b := capture.NewBuilder().
		ApplyTemplate(c, capture.TemplateOptions{Annotations: true, Cursors: true}).
		SetChannelCount(max(c.ChannelCount(), clk+1)).
		SetEnabledChannels(c.EnabledChannels() | mask).
		SetChannelLabel(clk, "Clock")
	for _, t := range times {
		v := c.ValueAt(t) &^ mask
		if clockHigh(t) {
			v |= mask
		}
		b.AddSample(t, v)
	}
	if last := times[len(times)-1]; last > c.AbsoluteLength() {
		b.SetAbsoluteLength(last)
	}
	return b.Build()
}

func formatHz(f float64) string {
	switch {
	case f >= 1e6:
		return fmt.Sprintf("%.3f MHz", f/1e6)
	case f >= 1e3:
		return fmt.Sprintf("%.3f kHz", f/1e3)
	}
	return fmt.Sprintf("%.3f Hz", f)
}
