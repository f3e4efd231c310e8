package synth

import "math"

// Manchester describes a Manchester coded line.
type Manchester struct {
	SampleRate int
	BitRate    int
	Bits       int
	LSBFirst   bool
	// Thomas selects G.E. Thomas polarity, where a falling mid-bit
	// transition encodes a one. The default is IEEE 802.3.
	Thomas   bool
	IdleHigh bool

	LeadBits float64
	TailBits float64
}

// NewManchester returns an IEEE 802.3 coded line sending 8-bit symbols MSB
// first.
func NewManchester(sampleRate, bitRate int) Manchester {
	return Manchester{
		SampleRate: sampleRate,
		BitRate:    bitRate,
		Bits:       8,
		LeadBits:   2,
		TailBits:   2,
	}
}

// HalfCycle returns half the bit time in sample ticks.
func (m Manchester) HalfCycle() float64 {
	return float64(m.SampleRate) / float64(2*m.BitRate)
}

// Wave renders the symbols back to back.
func (m Manchester) Wave(symbols ...uint32) Wave {
	h := m.HalfCycle()
	at := func(halves float64) int64 { return int64(math.Round(halves * h)) }

	var w Wave
	w.Set(0, m.IdleHigh)
	pos := 2 * m.LeadBits
	for _, sym := range symbols {
		for i := range m.Bits {
			k := m.Bits - 1 - i
			if m.LSBFirst {
				k = i
			}
			one := sym&(1<<uint(k)) != 0
			second := one != m.Thomas
			w.Set(at(pos), !second)
			w.Set(at(pos+1), second)
			pos += 2
		}
	}
	w.Set(at(pos), m.IdleHigh)
	w.End = max(w.End, at(pos+2*m.TailBits))
	return w
}
