// Package tool runs decoders over a capture. A decoder is a Task bound to a
// Context; the Runner executes it on a background goroutine, exposes its
// progress and lets the owner cancel it.
package tool

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
)

// Context is the input shared by all decoders: the capture, the sample range
// to decode, the sink receiving annotations and a progress callback.
type Context struct {
	Capture  *capture.Capture
	Sink     *annotation.Sink
	Range    capture.Range
	Progress func(percent int)
	Log      zerolog.Logger
}

// NewContext covers the whole capture and discards log output.
func NewContext(c *capture.Capture, sink *annotation.Sink) Context {
	tc := Context{Capture: c, Sink: sink, Log: zerolog.Nop()}
	if c != nil {
		tc.Range = c.FullRange()
	}
	return tc
}

// Validate checks that the context can be decoded.
func (c Context) Validate() error {
	if c.Capture == nil {
		return fmt.Errorf("%w: no capture", ErrInvalidConfig)
	}
	if c.Sink == nil {
		return fmt.Errorf("%w: no annotation sink", ErrInvalidConfig)
	}
	return c.Capture.CheckRange(c.Range)
}

// StartTime returns the first timestamp of the range.
func (c Context) StartTime() int64 { return c.Capture.StartTime(c.Range) }

// EndTime returns the timestamp bounding the range.
func (c Context) EndTime() int64 { return c.Capture.EndTime(c.Range) }
