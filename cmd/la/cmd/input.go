package cmd

import (
	"fmt"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/csvimport"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/options"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Cursors bounding the decode range when --from-cursor/--to-cursor are set.
const (
	cursorFrom = 0
	cursorTo   = 1
)

// loadCapture reads the --csv file.
func (g *globals) loadCapture() (*capture.Capture, error) {
	if g.csvPath == "" {
		return nil, fmt.Errorf("no capture given, use --csv")
	}
	opts := csvimport.Options{SampleRate: g.sampleRate}
	if g.comma != "" {
		r, size := utf8.DecodeRuneInString(g.comma)
		if size != len(g.comma) {
			return nil, fmt.Errorf("--comma %q must be a single character", g.comma)
		}
		opts.Comma = r
	}
	c, err := csvimport.ReadFile(g.csvPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	return c, nil
}

// decodeRange places the cursors given on the command line and turns them
// into a sample range. Without cursors the whole capture is decoded.
func (g *globals) decodeRange(cmd *cobra.Command, c *capture.Capture) (capture.Range, error) {
	flags := cmd.Flags()
	from, to := flags.Changed("from-cursor"), flags.Changed("to-cursor")
	if !from && !to {
		return c.FullRange(), nil
	}

	cs := c.Cursors()
	t0, t1 := g.fromCursor, g.toCursor
	if !from {
		t0 = c.StartTime(c.FullRange())
	}
	if !to {
		t1 = c.AbsoluteLength()
	}
	if err := cs.Set(cursorFrom, t0); err != nil {
		return capture.Range{}, err
	}
	if err := cs.Set(cursorTo, t1); err != nil {
		return capture.Range{}, err
	}
	return capture.RangeFromCursors(c, cursorFrom, cursorTo)
}

// toolContext loads the capture and binds it to a fresh annotation sink.
func (g *globals) toolContext(cmd *cobra.Command, decoder string) (tool.Context, error) {
	c, err := g.loadCapture()
	if err != nil {
		return tool.Context{}, err
	}
	tc := tool.NewContext(c, annotation.NewSink(nil))
	if tc.Range, err = g.decodeRange(cmd, c); err != nil {
		return tool.Context{}, err
	}
	tc.Log = logging.New(decoder)
	return tc, nil
}

// decoderOptions merges, in increasing precedence, the profile section,
// the decoder spec, --opt pairs and the command's own flags.
func (g *globals) decoderOptions(decoder string, flags options.Options) (options.Options, error) {
	merged := options.Options{}

	if g.profile != "" {
		p, err := options.LoadProfile(g.profile, decoderNames...)
		if err != nil {
			return nil, err
		}
		merged = merged.Merge(p.For(decoder))
	}

	if g.spec != "" {
		s, err := options.ParseSpec(g.spec)
		if err != nil {
			return nil, err
		}
		if s.Decoder != decoder {
			return nil, fmt.Errorf("%w: spec is for decoder %q, not %q", tool.ErrInvalidConfig, s.Decoder, decoder)
		}
		merged = merged.Merge(s.Options)
	}

	pairs, err := options.FromPairs(g.opts)
	if err != nil {
		return nil, err
	}
	return merged.Merge(pairs, flags), nil
}
