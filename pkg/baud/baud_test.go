package baud

import (
	"math"
	"testing"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/synth"
)

func serialCapture(t *testing.T, s synth.Serial, symbols ...uint32) *capture.Capture {
	t.Helper()
	c, err := synth.Capture(s.SampleRate, map[int]synth.Wave{0: s.Wave(symbols...)})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return c
}

func TestDetect7E1At9600(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	s.DataBits = 7
	s.Parity = "EVEN"
	c := serialCapture(t, s, 'A', 'B', 'C')

	res := Detect(c, 1, c.FullRange(), DefaultConfig())
	if res.BaudRate != 9600 {
		t.Fatalf("BaudRate = %d, want 9600 (%+v)", res.BaudRate, res)
	}
	if res.BitLength != 12 {
		t.Fatalf("BitLength = %v, want 12", res.BitLength)
	}
	if res.Trustworthy {
		t.Fatalf("Trustworthy = true for a 12 tick bit length")
	}
}

func TestDetectFixedPoint(t *testing.T) {
	cases := []struct {
		sampleRate int
		baud       int
		jitter     float64
	}{
		{1_000_000, 9600, 0},
		{1_000_000, 19200, 2},
		{4_000_000, 115200, 2},
		{1_000_000, 31250, 1},
		{10_000_000, 250000, 2},
	}
	symbols := []uint32{0x55, 0x00, 0xff, 0x0f, 0x33, 0xa5, 0x81, 0x7e, 0x13, 0xc4}
	for _, tc := range cases {
		s := synth.NewSerial(tc.sampleRate, tc.baud)
		s.Jitter = tc.jitter
		s.Seed = uint64(tc.baud)
		c := serialCapture(t, s, symbols...)

		res := Detect(c, 1, c.FullRange(), DefaultConfig())
		if dev := math.Abs(float64(res.BaudRateExact-tc.baud)) / float64(tc.baud); dev > 0.02 {
			t.Fatalf("baud %d: BaudRateExact = %d, off by %.1f%%", tc.baud, res.BaudRateExact, dev*100)
		}
		inTable := false
		for _, r := range Rates {
			inTable = inTable || r == tc.baud
		}
		if inTable && res.BaudRate != tc.baud {
			t.Fatalf("baud %d: BaudRate = %d, want snapped to %d", tc.baud, res.BaudRate, tc.baud)
		}
		if !res.Trustworthy {
			t.Fatalf("baud %d: Trustworthy = false with bit length %v", tc.baud, res.BitLength)
		}
	}
}

func TestDetectJitterBound(t *testing.T) {
	symbols := []uint32{0x55, 0x00, 0xff, 0x0f, 0x33, 0xa5, 0x81, 0x7e, 0x13, 0xc4}
	for _, rate := range []int{9600, 19200, 57600} {
		for seed := uint64(1); seed <= 5; seed++ {
			s := synth.NewSerial(1_000_000, rate)
			s.Jitter = s.BitLength() / 8
			s.Seed = seed
			c := serialCapture(t, s, symbols...)

			res := Detect(c, 1, c.FullRange(), DefaultConfig())
			if res.BaudRate != rate {
				t.Fatalf("baud %d seed %d: BaudRate = %d, want %d (%+v)", rate, seed, res.BaudRate, rate, res)
			}
			if dev := math.Abs(float64(res.BaudRateExact-rate)) / float64(rate); dev > 0.02 {
				t.Fatalf("baud %d seed %d: BaudRateExact = %d, off by %.1f%%", rate, seed, res.BaudRateExact, dev*100)
			}
		}
	}
}

func TestDetectMinEdges(t *testing.T) {
	cases := []struct {
		name  string
		times []int64
		edges int
		baud  int
	}{
		{"four edges", []int64{100, 200, 300, 400}, 4, 10000},
		{"glitch removed", []int64{100, 200, 250, 251, 300}, 3, 0},
		{"three edges", []int64{100, 200, 300}, 3, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := capture.NewBuilder().
				SetSampleRate(1_000_000).
				SetAbsoluteLength(1000).
				AddSample(0, 1)
			for i, ts := range tc.times {
				b.AddSample(ts, uint32(i%2))
			}
			c, err := b.Build()
			if err != nil {
				t.Fatalf("Build: %v", err)
			}

			res := Detect(c, 1, c.FullRange(), DefaultConfig())
			if res.Edges != tc.edges {
				t.Fatalf("Edges = %d, want %d", res.Edges, tc.edges)
			}
			if res.BaudRate != tc.baud {
				t.Fatalf("BaudRate = %d, want %d", res.BaudRate, tc.baud)
			}
		})
	}
}

func TestDetectNoSignal(t *testing.T) {
	c, err := capture.NewBuilder().
		SetSampleRate(1_000_000).
		AddSample(0, 1).
		AddSample(100, 0).
		AddSample(200, 1).
		SetAbsoluteLength(1000).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	res := Detect(c, 1, c.FullRange(), DefaultConfig())
	if res.BaudRate != 0 || res.Trustworthy || res.OK() {
		t.Fatalf("Detect = %+v, want failure", res)
	}
	if res.Edges != 2 {
		t.Fatalf("Edges = %d, want 2", res.Edges)
	}
}

func TestDetectIgnoresGlitches(t *testing.T) {
	s := synth.NewSerial(1_000_000, 9600)
	w := s.Wave(0x55, 0x55, 0x55)
	// one tick glitch in the lead-in idle time
	w.Times = append([]int64{0, 10, 11}, w.Times[1:]...)
	w.Levels = append([]bool{true, false, true}, w.Levels[1:]...)
	c, err := synth.Capture(s.SampleRate, map[int]synth.Wave{0: w})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res := Detect(c, 1, c.FullRange(), DefaultConfig()); res.BaudRate != 9600 {
		t.Fatalf("BaudRate = %d, want 9600", res.BaudRate)
	}
}

func TestNominal(t *testing.T) {
	res := Nominal(1_000_000, 115200)
	if res.BaudRate != 115200 || math.Abs(res.BitLength-8.680555) > 1e-3 {
		t.Fatalf("Nominal = %+v", res)
	}
	if res.Trustworthy {
		t.Fatalf("8.68 tick bit length reported trustworthy")
	}
	if Nominal(0, 9600).OK() {
		t.Fatalf("Nominal without a sample rate reported OK")
	}
}

func TestSnap(t *testing.T) {
	cases := []struct {
		exact float64
		want  int
	}{
		{9600, 9600},
		{9750, 9600},
		{9900, 9900},
		{115000, 115200},
		{31250, 31250},
	}
	for _, tc := range cases {
		if got := snap(tc.exact, 0.025); got != tc.want {
			t.Fatalf("snap(%v) = %d, want %d", tc.exact, got, tc.want)
		}
	}
}
