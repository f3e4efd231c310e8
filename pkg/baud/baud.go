// Package baud estimates the bit length of an asynchronous serial line from
// the intervals between its edges.
package baud

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
)

// Rates is the table of standard baud rates a detected rate snaps to.
var Rates = []int{
	150, 300, 600, 1200, 2400, 4800, 9600, 14400, 19200, 28800,
	38400, 57600, 115200, 230400, 460800, 921600,
}

// MinEdges is the number of edges left after glitch filtering below which
// detection fails.
const MinEdges = 4

// TrustworthyBitLength is the bit length, in sample ticks, above which the
// sample rate resolves edge jitter well enough to trust the estimate.
const TrustworthyBitLength = 15

// Config tunes the estimator.
type Config struct {
	// NoiseFloor drops pulses shorter than this many ticks (glitches).
	NoiseFloor int64
	// MaxInterval drops longer intervals. Zero means half the decoded span.
	MaxInterval int64
	// Tolerance is the accepted deviation from an integer multiple of the
	// candidate bit length, relative to that multiple.
	Tolerance float64
	// SnapTolerance is the accepted relative distance to a standard rate.
	SnapTolerance float64
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{
		NoiseFloor:    2,
		Tolerance:     0.125,
		SnapTolerance: 0.025,
	}
}

// Result is the outcome of a detection. A zero BaudRate means no signal.
type Result struct {
	BitLength     float64
	BaudRate      int
	BaudRateExact int
	Trustworthy   bool

	Edges     int
	Intervals int
	// Mean and StdDev describe the per-bit length measured by each
	// interval used for refinement.
	Mean   float64
	StdDev float64
}

// OK reports whether a rate was found.
func (r Result) OK() bool { return r.BaudRate > 0 }

// Nominal describes a fixed, configured baud rate.
func Nominal(sampleRate, baudRate int) Result {
	if sampleRate <= 0 || baudRate <= 0 {
		return Result{}
	}
	l := float64(sampleRate) / float64(baudRate)
	return Result{
		BitLength:     l,
		BaudRate:      baudRate,
		BaudRateExact: baudRate,
		Trustworthy:   l > TrustworthyBitLength,
	}
}

// Detect estimates the baud rate of the line selected by mask over r.
func Detect(c *capture.Capture, mask uint32, r capture.Range, cfg Config) Result {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultConfig().Tolerance
	}
	if cfg.SnapTolerance <= 0 {
		cfg.SnapTolerance = DefaultConfig().SnapTolerance
	}
	if c == nil || mask == 0 || !c.HasTimingData() || r.Empty() {
		return Result{}
	}

	upper := cfg.MaxInterval
	if upper <= 0 {
		upper = (c.EndTime(r) - c.StartTime(r)) / 2
	}

	ts, vals := c.Timestamps(), c.Values()
	var kept []int64
	for j := max(r.Start, 0) + 1; j < r.End; j++ {
		if (vals[j]^vals[j-1])&mask == 0 {
			continue
		}
		// a pulse shorter than the noise floor is dropped with both edges
		if n := len(kept); n > 0 && ts[j]-kept[n-1] < cfg.NoiseFloor {
			kept = kept[:n-1]
			continue
		}
		kept = append(kept, ts[j])
	}
	var intervals []int64
	for k := 1; k < len(kept); k++ {
		if d := kept[k] - kept[k-1]; d <= upper {
			intervals = append(intervals, d)
		}
	}

	res := Result{Edges: len(kept), Intervals: len(intervals)}
	if len(kept) < MinEdges || len(intervals) == 0 {
		return res
	}

	l0 := candidate(intervals, len(kept), cfg.Tolerance)
	l, _ := refine(intervals, l0, cfg.Tolerance)
	l, perBit := refine(intervals, l, cfg.Tolerance)
	res.BitLength = l
	if len(perBit) > 1 {
		res.Mean, res.StdDev = stat.MeanStdDev(perBit, nil)
	} else {
		res.Mean = l
	}

	exact := float64(c.SampleRate()) / l
	res.BaudRateExact = int(math.Round(exact))
	res.BaudRate = snap(exact, cfg.SnapTolerance)
	res.Trustworthy = l > TrustworthyBitLength
	return res
}

// group is a run of sorted intervals with no wide gap inside.
type group struct {
	center float64
	n      int
}

// groups clusters the intervals. A gap wider than 2·tol of the first
// interval of the current group starts a new one, so a jittered bit length
// stays in one group.
func groups(intervals []int64, tol float64) []group {
	xs := make([]float64, len(intervals))
	for i, d := range intervals {
		xs[i] = float64(d)
	}
	slices.Sort(xs)

	var out []group
	start := 0
	for i := 1; i <= len(xs); i++ {
		if i < len(xs) && xs[i]-xs[i-1] <= 2*tol*xs[start] {
			continue
		}
		out = append(out, group{center: stat.Mean(xs[start:i], nil), n: i - start})
		start = i
	}
	return out
}

// candidate picks the shortest frequent group as the bit length. Groups
// within tolerance of it compete on frequency, and one that every longer
// group is a multiple of wins.
func candidate(intervals []int64, edges int, tol float64) float64 {
	gs := groups(intervals, tol)
	minFreq := max(3, int(math.Ceil(0.05*float64(edges))))

	var best, first *group
	for i := range gs {
		g := &gs[i]
		if g.n < minFreq {
			continue
		}
		if first == nil {
			first = g
		}
		if g.center-first.center > tol*first.center {
			break
		}
		if !multiples(gs, g.center, tol) {
			continue
		}
		if best == nil || g.n > best.n {
			best = g
		}
	}
	switch {
	case best != nil:
		return best.center
	case first != nil:
		return first.center
	}

	mostFrequent := gs[0]
	for _, g := range gs[1:] {
		if g.n > mostFrequent.n {
			mostFrequent = g
		}
	}
	return mostFrequent.center
}

func multiples(gs []group, l float64, tol float64) bool {
	for _, g := range gs {
		if g.center <= l {
			continue
		}
		k := math.Round(g.center / l)
		if math.Abs(g.center-k*l) > tol*k*l {
			return false
		}
	}
	return true
}

// refine averages the intervals that sit within 2·tol of a multiple of base
// and returns the refined bit length with each interval's per-bit length.
func refine(intervals []int64, base float64, tol float64) (float64, []float64) {
	var xs, ks, perBit []float64
	for _, d := range intervals {
		x := float64(d)
		k := math.Round(x / base)
		if k < 1 || math.Abs(x-k*base) > 2*tol*base {
			continue
		}
		xs = append(xs, x)
		ks = append(ks, k)
		perBit = append(perBit, x/k)
	}
	if len(xs) == 0 {
		return base, []float64{base}
	}
	return floats.Sum(xs) / floats.Sum(ks), perBit
}

func snap(exact, tol float64) int {
	best := 0
	bestDist := math.Inf(1)
	for _, r := range Rates {
		dist := math.Abs(exact - float64(r))
		if dist <= tol*float64(r) && dist < bestDist {
			best, bestDist = r, dist
		}
	}
	if best != 0 {
		return best
	}
	return int(math.Round(exact))
}
