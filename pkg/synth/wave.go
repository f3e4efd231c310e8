// Package synth generates ideal and jittered logic waveforms: asynchronous
// serial frames, Manchester coded bit streams and parallel bus cycles. It
// feeds the decoder tests and the CLI synth command.
package synth

import (
	"fmt"
	"slices"
	"sort"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
)

// Wave is the level history of one line: Levels[i] holds from Times[i]
// until Times[i+1], the last level until End.
type Wave struct {
	Times  []int64
	Levels []bool
	End    int64
}

// Set drives the line to high from t on. Times must not decrease.
func (w *Wave) Set(t int64, high bool) {
	if n := len(w.Times); n > 0 {
		if t < w.Times[n-1] {
			t = w.Times[n-1]
		}
		if w.Levels[n-1] == high {
			w.End = max(w.End, t)
			return
		}
		if w.Times[n-1] == t {
			w.Levels[n-1] = high
			return
		}
	}
	w.Times = append(w.Times, t)
	w.Levels = append(w.Levels, high)
	w.End = max(w.End, t)
}

// LevelAt returns the level in effect at t.
func (w Wave) LevelAt(t int64) bool {
	i := sort.Search(len(w.Times), func(i int) bool { return w.Times[i] > t })
	if i == 0 {
		if len(w.Levels) == 0 {
			return false
		}
		return w.Levels[0]
	}
	return w.Levels[i-1]
}

// Edges counts the level changes.
func (w Wave) Edges() int {
	return max(len(w.Times)-1, 0)
}

// Capture merges waves keyed by channel index into a capture.
func Capture(sampleRate int, lines map[int]Wave) (*capture.Capture, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("synth: no lines")
	}

	var times []int64
	var end int64
	count := 0
	for ch, w := range lines {
		if ch < 0 || ch >= capture.MaxChannels {
			return nil, fmt.Errorf("synth: channel %d out of range", ch)
		}
		times = append(times, w.Times...)
		end = max(end, w.End)
		count = max(count, ch+1)
	}
	slices.Sort(times)
	times = slices.Compact(times)

	b := capture.NewBuilder().
		SetChannelCount(count).
		SetSampleRate(sampleRate).
		SetAbsoluteLength(end)
	for _, t := range times {
		var v uint32
		for ch, w := range lines {
			if w.LevelAt(t) {
				v |= 1 << uint(ch)
			}
		}
		b.AddSample(t, v)
	}
	return b.Build()
}

// CSV renders the capture as one row per sample tick, one column per channel.
func CSV(c *capture.Capture) []byte {
	var out []byte
	ts, vals := c.Timestamps(), c.Values()
	if len(ts) == 0 {
		return out
	}
	end := max(c.AbsoluteLength(), ts[len(ts)-1])
	i := 0
	for t := ts[0]; t <= end; t++ {
		for i+1 < len(ts) && ts[i+1] <= t {
			i++
		}
		for ch := 0; ch < c.ChannelCount(); ch++ {
			if ch > 0 {
				out = append(out, ',')
			}
			if vals[i]&(1<<uint(ch)) != 0 {
				out = append(out, '1')
			} else {
				out = append(out, '0')
			}
		}
		out = append(out, '\n')
	}
	return out
}
