package synth

import (
	"math"
	"math/bits"
	"math/rand/v2"
	"strings"
)

// Serial describes an asynchronous serial line. Build one with NewSerial.
type Serial struct {
	SampleRate int
	BaudRate   int
	DataBits   int
	// Parity is one of NONE, ODD, EVEN, MARK or SPACE.
	Parity   string
	StopBits float64
	IdleLow  bool
	MSBFirst bool
	// Inverted sends logical ones as a low level.
	Inverted bool

	// Idle time, in bits, before the first frame, between frames and after
	// the last frame.
	LeadBits float64
	GapBits  float64
	TailBits float64

	// Jitter displaces every edge by up to this many ticks.
	Jitter float64
	Seed   uint64
}

// NewSerial returns an 8N1 line idling high.
func NewSerial(sampleRate, baudRate int) Serial {
	return Serial{
		SampleRate: sampleRate,
		BaudRate:   baudRate,
		DataBits:   8,
		Parity:     "NONE",
		StopBits:   1,
		LeadBits:   2,
		GapBits:    1,
		TailBits:   2,
	}
}

// BitLength returns the bit length in sample ticks.
func (s Serial) BitLength() float64 {
	return float64(s.SampleRate) / float64(s.BaudRate)
}

// Frame is the line level of one serial frame in half-bit cells.
type Frame struct {
	halves []bool
}

// Len returns the frame length in bits, rounded up.
func (f Frame) Len() int { return (len(f.halves) + 1) / 2 }

// Bit returns the level of bit cell i (0 is the start bit).
func (f Frame) Bit(i int) bool { return f.halves[2*i] }

// SetBit forces bit cell i to a level.
func (f Frame) SetBit(i int, high bool) {
	f.halves[2*i] = high
	if 2*i+1 < len(f.halves) {
		f.halves[2*i+1] = high
	}
}

// FlipBit inverts bit cell i.
func (f Frame) FlipBit(i int) { f.SetBit(i, !f.Bit(i)) }

func (s Serial) level(bit bool) bool {
	return bit != s.Inverted
}

func (s Serial) parityBit(sym uint32) (bool, bool) {
	ones := bits.OnesCount32(sym & (1<<uint(s.DataBits) - 1))
	switch strings.ToUpper(s.Parity) {
	case "ODD":
		return ones%2 == 0, true
	case "EVEN":
		return ones%2 == 1, true
	case "MARK":
		return true, true
	case "SPACE":
		return false, true
	}
	return false, false
}

// Frame encodes one symbol.
func (s Serial) Frame(sym uint32) Frame {
	idle := !s.IdleLow
	var halves []bool
	add := func(level bool, n int) {
		for range n {
			halves = append(halves, level)
		}
	}

	add(!idle, 2)
	for i := range s.DataBits {
		k := i
		if s.MSBFirst {
			k = s.DataBits - 1 - i
		}
		add(s.level(sym&(1<<uint(k)) != 0), 2)
	}
	if p, ok := s.parityBit(sym); ok {
		add(s.level(p), 2)
	}
	add(idle, int(math.Round(s.StopBits*2)))
	return Frame{halves: halves}
}

// Frames encodes each symbol.
func (s Serial) Frames(symbols ...uint32) []Frame {
	out := make([]Frame, len(symbols))
	for i, sym := range symbols {
		out[i] = s.Frame(sym)
	}
	return out
}

// Wave renders the symbols as a line.
func (s Serial) Wave(symbols ...uint32) Wave {
	return s.Render(s.Frames(symbols...))
}

// Render lays frames out on the time axis. Frame k starts at
// LeadBits + k*GapBits bit times plus the length of the preceding frames.
func (s Serial) Render(frames []Frame) Wave {
	idle := !s.IdleLow
	half := s.BitLength() / 2
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))

	var w Wave
	at := func(h float64) int64 {
		t := h * half
		if s.Jitter > 0 {
			t += (rng.Float64()*2 - 1) * s.Jitter
		}
		return max(int64(math.Round(t)), 0)
	}

	w.Set(0, idle)
	pos := 2 * s.LeadBits
	for k, f := range frames {
		if k > 0 {
			pos += 2 * s.GapBits
		}
		for i, level := range f.halves {
			w.Set(at(pos+float64(i)), level)
		}
		pos += float64(len(f.halves))
		w.Set(at(pos), idle)
	}
	pos += 2 * s.TailBits
	w.End = max(w.End, int64(math.Round(pos*half)))
	return w
}
