// Package csvimport reads a capture from comma separated sample rows. Each
// column is one channel; its cells are thresholded halfway between the
// column's extremes, so analog readings and 0/1 digits both work.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
)

// ErrNoData is returned when no column holds a number.
var ErrNoData = errors.New("csvimport: no numeric data")

// Options controls how rows are read.
type Options struct {
	// SampleRate is the rate in Hz the rows were taken at; zero yields a
	// state capture.
	SampleRate int
	// Comma is the field separator, ',' by default.
	Comma rune
}

type column struct {
	label  string
	values []float64
}

// Read builds a capture with one sample per row. Non-numeric cells are
// skipped; those of the first row name the channels. A short row repeats
// the previous values of its missing columns. Columns without any number
// are dropped and every column is cut to the shortest one. A value above
// the midpoint of its column's range reads as high.
func Read(r io.Reader, opts Options) (*capture.Capture, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	var cols []*column
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvimport: %w", err)
		}
		numeric := false
		for i, cell := range rec {
			if len(cols) <= i {
				cols = append(cols, &column{})
			}
			cell = strings.TrimSpace(cell)
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				if row == 0 {
					cols[i].label = cell
				}
				continue
			}
			cols[i].values = append(cols[i].values, v)
			numeric = true
		}
		if !numeric {
			continue
		}
		// fields missing from a short row keep the previous row's value
		for _, c := range cols[min(len(rec), len(cols)):] {
			if n := len(c.values); n > 0 {
				c.values = append(c.values, c.values[n-1])
			}
		}
	}

	kept := cols[:0]
	n := -1
	for _, c := range cols {
		if len(c.values) == 0 {
			continue
		}
		kept = append(kept, c)
		if n < 0 || len(c.values) < n {
			n = len(c.values)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoData
	}
	if len(kept) > capture.MaxChannels {
		return nil, fmt.Errorf("csvimport: %w: %d columns, at most %d", capture.ErrInvalid, len(kept), capture.MaxChannels)
	}

	samples := make([]uint32, n)
	for ch, c := range kept {
		xs := c.values[:n]
		lo, hi := floats.Min(xs), floats.Max(xs)
		threshold := lo + (hi-lo)/2
		if lo == hi {
			// A constant column is high when positive.
			threshold = 0
		}
		for i, x := range xs {
			if x > threshold {
				samples[i] |= 1 << uint(ch)
			}
		}
	}

	b := capture.NewBuilder().
		SetChannelCount(len(kept)).
		SetSampleRate(opts.SampleRate).
		SetAbsoluteLength(int64(n - 1))
	for ch, c := range kept {
		if c.label != "" {
			b.SetChannelLabel(ch, c.label)
		}
	}
	for i, v := range samples {
		b.AddSample(int64(i), v)
	}
	c, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("csvimport: %w", err)
	}
	return c, nil
}

// ReadFile reads the capture stored at path.
func ReadFile(path string, opts Options) (*capture.Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvimport: %w", err)
	}
	defer f.Close()
	return Read(f, opts)
}
