package uart

import (
	"math/bits"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Frame is the outcome of decoding one serial frame. Errors lists the
// protocol errors found in it, at most one of each kind.
type Frame struct {
	Start  int64
	End    int64
	Value  uint32
	Errors []FrameError
}

// FrameError is a protocol error spanning the offending bit cell.
type FrameError struct {
	Kind  string
	Start int64
	End   int64
}

// OK reports whether a symbol was recovered. A start error aborts the
// frame; frame and parity errors still yield a symbol.
func (f Frame) OK() bool {
	return len(f.Errors) == 0 || f.Errors[0].Kind != annotation.ErrorStart
}

// bitClock converts bit positions into capture ticks. The bit length p/q is
// kept as a reduced fraction so that positions far into a frame do not
// accumulate rounding drift.
type bitClock struct {
	p, q int64
}

func newBitClock(sampleRate, baudRate int) bitClock {
	p, q := int64(sampleRate), int64(baudRate)
	g := gcd(p, q)
	return bitClock{p: p / g, q: q / g}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Length returns the bit length in ticks.
func (c bitClock) Length() float64 { return float64(c.p) / float64(c.q) }

// at returns the offset of bit position num/den, rounded half to even.
func (c bitClock) at(num, den int64) int64 {
	n, d := num*c.p, den*c.q
	t, r := n/d, n%d
	switch {
	case 2*r > d:
		t++
	case 2*r == d && t%2 == 1:
		t++
	}
	return t
}

// ceil returns the offset of bit position num/den, rounded up.
func (c bitClock) ceil(num, den int64) int64 {
	n, d := num*c.p, den*c.q
	return (n + d - 1) / d
}

// offBoundary reports whether an edge at offset d lies more than an eighth
// of a bit from the nearest bit boundary.
func (c bitClock) offBoundary(d int64) bool {
	k := (2*d*c.q + c.p) / (2 * c.p)
	dev := d*c.q - k*c.p
	if dev < 0 {
		dev = -dev
	}
	return 8*dev > c.p
}

// lineDecoder runs the frame state machine over one data line.
type lineDecoder struct {
	cfg   Config
	c     *capture.Capture
	mask  uint32
	idle  uint32
	clock bitClock
	rep   *tool.Reporter

	// progressBase is added to timestamps before reporting progress.
	progressBase int64

	ts   []int64
	vals []uint32
}

func newLineDecoder(c *capture.Capture, ch int, cfg Config, clock bitClock, rep *tool.Reporter) *lineDecoder {
	d := &lineDecoder{
		cfg:   cfg,
		c:     c,
		mask:  1 << uint(ch),
		clock: clock,
		rep:   rep,
		ts:    c.Timestamps(),
		vals:  c.Values(),
	}
	if cfg.IdleLevel == High {
		d.idle = d.mask
	}
	return d
}

func (d *lineDecoder) level(t int64) uint32 {
	return d.c.ValueAt(t) & d.mask
}

// bit samples a data or parity bit and applies the bit encoding.
func (d *lineDecoder) bit(t int64) bool {
	one := d.level(t) != 0
	if d.cfg.BitEncoding == HighIsZero {
		one = !one
	}
	return one
}

// nextEdge returns the index of the next transition after sample i,
// polling for cancellation while it scans.
func (d *lineDecoder) nextEdge(i int) (int, bool, error) {
	for j := max(i, 0) + 1; j < len(d.vals); j++ {
		if (d.vals[j]^d.vals[j-1])&d.mask != 0 {
			return j, true, nil
		}
		if j%tool.YieldInterval == 0 {
			if err := d.rep.Err(); err != nil {
				return 0, false, err
			}
		}
	}
	return 0, false, nil
}

// decode walks [from, to) and calls emit for every start bit found. It
// returns at the end of the range or on cancellation.
func (d *lineDecoder) decode(from, to int64, emit func(Frame)) error {
	i := d.c.SampleIndex(from)
	if i < 0 {
		return nil
	}
	for {
		if err := d.rep.Update(d.ts[i] + d.progressBase); err != nil {
			return err
		}

		// IDLE: wait for the line to reach its idle level.
		if d.vals[i]&d.mask != d.idle {
			j, ok, err := d.nextEdge(i)
			if err != nil || !ok {
				return err
			}
			i = j
		}

		// START_CANDIDATE: the next transition leaves idle.
		j, ok, err := d.nextEdge(i)
		if err != nil || !ok {
			return err
		}
		t0 := d.ts[j]
		if t0 >= to {
			return nil
		}

		f, last, complete := d.frame(t0, to)
		if !complete {
			return nil
		}
		emit(f)

		// Resume from the last sample point, never from a drifted boundary.
		i = d.c.SampleIndex(last)
	}
}

// frame decodes the frame whose start bit begins at t0. It returns the
// time of the last sample taken and false if the frame runs past to.
func (d *lineDecoder) frame(t0, to int64) (Frame, int64, bool) {
	cfg := d.cfg
	clk := d.clock
	mid := func(k int64) int64 { return t0 + clk.at(2*k+1, 2) }
	cell := func(k int64) (int64, int64) { return t0 + clk.at(k, 1), t0 + clk.at(k+1, 1) }

	// START_CANDIDATE -> START_OK
	if ts := mid(0); d.level(ts) == d.idle {
		s, e := cell(0)
		return Frame{Start: t0, End: e, Errors: []FrameError{{Kind: annotation.ErrorStart, Start: s, End: e}}}, ts, ts < to
	}

	n := int64(cfg.BitCount)
	parityBits := int64(0)
	if cfg.Parity != ParityNone {
		parityBits = 1
	}
	stopHalves := int64(cfg.StopBits)
	totalHalves := 2*(1+n+parityBits) + stopHalves

	f := Frame{Start: t0, End: t0 + clk.ceil(totalHalves, 2)}

	// DATA(i)
	var value uint32
	for k := int64(1); k <= n; k++ {
		b := d.bit(mid(k))
		if cfg.BitOrder == LSBFirst {
			if b {
				value |= 1 << uint(k-1)
			}
		} else {
			value <<= 1
			if b {
				value |= 1
			}
		}
	}
	f.Value = value

	// PARITY
	var errs []FrameError
	if parityBits == 1 {
		k := n + 1
		if !parityOK(cfg.Parity, value, d.bit(mid(k))) {
			s, e := cell(k)
			errs = append(errs, FrameError{Kind: annotation.ErrorParity, Start: s, End: e})
		}
	}

	// STOP: sample the middle of each stop bit; a trailing half bit is
	// sampled at its own middle.
	first := 1 + n + parityBits
	var last int64
	frameErr := -1
	for h := int64(0); h < stopHalves; h += 2 {
		var ts int64
		if stopHalves-h >= 2 {
			ts = t0 + clk.at(4*first+2*h+2, 4)
		} else {
			ts = t0 + clk.at(4*first+2*h+1, 4)
		}
		last = ts
		if d.level(ts) != d.idle && frameErr < 0 {
			frameErr = len(errs)
			s := t0 + clk.at(2*first+h, 2)
			e := t0 + clk.at(2*first+min(h+2, stopHalves), 2)
			errs = append(errs, FrameError{Kind: annotation.ErrorFrame, Start: s, End: e})
		}
	}
	if last >= to {
		return f, last, false
	}

	// An edge strictly inside the frame that is far from every bit
	// boundary means the transmitter clock does not match.
	if frameErr < 0 {
		if s, e, ok := d.driftedCell(t0, last); ok {
			errs = append(errs, FrameError{Kind: annotation.ErrorFrame, Start: s, End: e})
		}
	}

	f.Errors = errs
	return f, last, true
}

func (d *lineDecoder) driftedCell(t0, last int64) (int64, int64, bool) {
	clk := d.clock
	i := d.c.SampleIndex(t0)
	for j := i + 1; j < len(d.vals) && d.ts[j] < last; j++ {
		if (d.vals[j]^d.vals[j-1])&d.mask == 0 {
			continue
		}
		off := d.ts[j] - t0
		if clk.offBoundary(off) {
			k := off * clk.q / clk.p
			return t0 + clk.at(k, 1), t0 + clk.at(k+1, 1), true
		}
	}
	return 0, 0, false
}

func parityOK(p Parity, value uint32, bit bool) bool {
	ones := bits.OnesCount32(value)
	if bit {
		ones++
	}
	switch p {
	case ParityOdd:
		return ones%2 == 1
	case ParityEven:
		return ones%2 == 0
	case ParityMark:
		return bit
	case ParitySpace:
		return !bit
	}
	return true
}
