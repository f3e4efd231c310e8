// Package uart decodes asynchronous serial lines: RxD and TxD frames with
// optional parity, plus the modem control lines.
package uart

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/baud"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Name identifies the decoder.
const Name = "uart"

// LeadSamples is how far decoding starts ahead of the first line change.
const LeadSamples = 10

// Error annotation colors.
const (
	ColorFrameError  = "#ff6600"
	ColorParityError = "#ff9900"
	ColorStartError  = "#ffcc00"
)

var errorColors = map[string]string{
	annotation.ErrorFrame:  ColorFrameError,
	annotation.ErrorParity: ColorParityError,
	annotation.ErrorStart:  ColorStartError,
}

// NewTask binds a decoder run to tc for use with a tool.Runner.
func NewTask(tc tool.Context, cfg Config) tool.Task[*DataSet] {
	return tool.NewTask(Name, func(ctx context.Context, progress func(int)) (*DataSet, error) {
		tc.Progress = progress
		return Decode(ctx, tc, cfg)
	})
}

type analyser struct {
	tc   tool.Context
	cfg  Config
	ds   *DataSet
	rep  *tool.Reporter
	log  zerolog.Logger
	span int64
}

// Decode decodes every configured line of tc. Configuration errors are
// reported before any annotation is added. If the baud rate of a data line
// cannot be detected the run fails with tool.ErrNoSignal.
func Decode(ctx context.Context, tc tool.Context, cfg Config) (*DataSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("uart: %w", err)
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("uart: %w", err)
	}
	c := tc.Capture
	for _, l := range Lines() {
		if ch := cfg.Channel(l); ch >= c.ChannelCount() {
			return nil, fmt.Errorf("uart: %w: %s channel %d, capture has %d channels",
				tool.ErrInvalidConfig, l, ch, c.ChannelCount())
		}
	}
	if !c.HasTimingData() {
		return nil, fmt.Errorf("uart: %w: capture has no timing data", tool.ErrInvalidConfig)
	}
	if !cfg.IsAuto() && cfg.BaudRate > c.SampleRate()/2 {
		return nil, fmt.Errorf("uart: %w: baud rate %d needs a sample rate of at least %d Hz",
			tool.ErrInvalidConfig, cfg.BaudRate, 2*cfg.BaudRate)
	}

	r, err := decodeRange(c, tc.Range, cfg)
	if err != nil {
		return nil, fmt.Errorf("uart: %w", err)
	}

	a := &analyser{tc: tc, cfg: cfg, ds: newDataSet(r.Start, r.End), log: tc.Log}
	a.span = max(c.EndTime(r)-c.StartTime(r), 1)
	a.rep = tool.NewReporter(ctx, 0, a.span*int64(len(a.activeLines())), tc.Progress)
	a.log.Debug().Int("start", r.Start).Int("end", r.End).Msg("uart decode range")

	rates := make(map[Line]baud.Result)
	for _, l := range []Line{RxD, TxD} {
		if cfg.Channel(l) < 0 {
			continue
		}
		rates[l] = a.baudRate(l, r)
	}
	for _, l := range []Line{RxD, TxD} {
		if res, ok := rates[l]; ok && !res.OK() {
			a.prepare(l)
			a.addBaudAnnotation(l, res)
			return nil, fmt.Errorf("uart: %w: %s baud rate detection found %d edges",
				tool.ErrNoSignal, l, res.Edges)
		}
	}

	for phase, l := range a.activeLines() {
		offset := int64(phase) * a.span
		a.prepare(l)
		if l.IsData() {
			if err := a.decodeData(l, r, rates[l], offset); err != nil {
				return nil, err
			}
		} else if err := a.decodeControl(l, r, offset); err != nil {
			return nil, err
		}
	}

	a.ds.Sort()
	a.rep.Done()
	return a.ds, nil
}

// decodeRange moves the start of r to LeadSamples before the first change
// on any configured line.
func decodeRange(c *capture.Capture, r capture.Range, cfg Config) (capture.Range, error) {
	var mask uint32
	for _, l := range Lines() {
		if ch := cfg.Channel(l); ch >= 0 {
			mask |= 1 << uint(ch)
		}
	}
	if j, ok := c.NextTransition(mask, r.Start); ok && j < r.End {
		r.Start = j
	}
	r.Start = max(r.Start-LeadSamples, 0)
	if r.Start >= r.End {
		return r, fmt.Errorf("%w: no data to decode", capture.ErrRangeEmpty)
	}
	return r, nil
}

func (a *analyser) activeLines() []Line {
	var out []Line
	for _, l := range Lines() {
		if a.cfg.Channel(l) >= 0 {
			out = append(out, l)
		}
	}
	return out
}

func (a *analyser) add(ann annotation.Annotation) {
	a.tc.Sink.Add(ann)
	a.ds.annotations++
}

// prepare clears the annotations of a line's channel and labels it.
func (a *analyser) prepare(l Line) {
	ch := a.cfg.Channel(l)
	a.tc.Sink.Clear(ch)
	a.add(annotation.Label(ch, l.String()))
}

func (a *analyser) baudRate(l Line, r capture.Range) baud.Result {
	c := a.tc.Capture
	if !a.cfg.IsAuto() {
		return baud.Nominal(c.SampleRate(), a.cfg.BaudRate)
	}
	res := baud.Detect(c, 1<<uint(a.cfg.Channel(l)), r, a.cfg.AutoBaud)
	a.log.Debug().
		Str("line", l.String()).
		Int("baudrate", res.BaudRate).
		Int("exact", res.BaudRateExact).
		Float64("bitlength", res.BitLength).
		Bool("trustworthy", res.Trustworthy).
		Msg("detected baud rate")
	return res
}

func (a *analyser) addBaudAnnotation(l Line, res baud.Result) {
	text := "Baud rate calculation failed!"
	if res.OK() {
		text = fmt.Sprintf("Baudrate = %d (exact = %d)", res.BaudRate, res.BaudRateExact)
		if !res.Trustworthy {
			text += "\nThe baudrate may be wrong, use a higher samplerate to avoid this!"
		}
	}
	a.add(annotation.Metadata(a.cfg.Channel(l), text, map[string]any{
		"bitlength":     res.BitLength,
		"baudrate":      res.BaudRate,
		"baudrateExact": res.BaudRateExact,
		"trustworthy":   res.Trustworthy,
		"line":          l.String(),
	}))
}

func (a *analyser) decodeData(l Line, r capture.Range, res baud.Result, offset int64) error {
	c := a.tc.Capture
	ch := a.cfg.Channel(l)
	a.addBaudAnnotation(l, res)

	// The detected exact rate, not the snapped one, drives the sampling.
	rate := res.BaudRateExact
	if rate <= 0 || rate > c.SampleRate() {
		return fmt.Errorf("uart: %w: %s baud rate %d cannot be sampled at %d Hz",
			tool.ErrNoSignal, l, rate, c.SampleRate())
	}
	clock := newBitClock(c.SampleRate(), rate)

	dataType, eventType := TypeRxData, TypeRxEvent
	if l == TxD {
		dataType, eventType = TypeTxData, TypeTxEvent
	}
	stats := &LineStats{Channel: ch, BaudRate: res.BaudRate, BitLength: clock.Length()}
	a.ds.Lines[l] = stats
	a.ds.BaudRate = res.BaudRate
	a.ds.BitLength = clock.Length()

	from := c.StartTime(r)
	dec := newLineDecoder(c, ch, a.cfg, clock, a.rep)
	dec.progressBase = offset - from

	return dec.decode(from, c.EndTime(r), func(f Frame) {
		if f.OK() {
			stats.Symbols++
			a.ds.Entries = append(a.ds.Entries, Entry{
				Channel:    ch,
				Start:      f.Start,
				End:        f.End,
				StartIndex: max(c.SampleIndex(f.Start), 0),
				EndIndex:   min(c.SampleIndex(f.End), c.Len()-1),
				Type:       dataType,
				Value:      f.Value,
			})
			a.add(annotation.Symbol(ch, f.Start, f.End, int64(f.Value), map[string]any{
				annotation.KeyType: annotation.TypeSymbol,
			}))
		}
		for _, e := range f.Errors {
			switch e.Kind {
			case annotation.ErrorFrame:
				stats.FrameErrors++
			case annotation.ErrorParity:
				stats.ParityErrors++
			case annotation.ErrorStart:
				stats.StartErrors++
			}
			a.ds.Entries = append(a.ds.Entries, Entry{
				Channel:    ch,
				Start:      e.Start,
				End:        e.End,
				StartIndex: max(c.SampleIndex(e.Start), 0),
				EndIndex:   max(c.SampleIndex(e.End), 0),
				Type:       eventType,
				Event:      e.Kind,
			})
			a.add(annotation.Error(ch, e.Start, e.End, e.Kind, map[string]any{
				annotation.KeyColor:     errorColors[e.Kind],
				annotation.KeyEventType: dataType.String(),
			}))
		}
	})
}

// decodeControl reports every level change of a control line.
func (a *analyser) decodeControl(l Line, r capture.Range, offset int64) error {
	c := a.tc.Capture
	ch := a.cfg.Channel(l)
	mask := uint32(1) << uint(ch)
	ts, vals := c.Timestamps(), c.Values()
	from := c.StartTime(r)

	for i := r.Start + 1; i < r.End; i++ {
		if i%tool.YieldInterval == 0 {
			if err := a.rep.Update(offset + ts[i] - from); err != nil {
				return err
			}
		}
		var name string
		switch capture.EdgeBetween(vals[i-1], vals[i], mask) {
		case capture.EdgeRising:
			name = l.String() + "_HIGH"
		case capture.EdgeFalling:
			name = l.String() + "_LOW"
		default:
			continue
		}
		a.ds.Entries = append(a.ds.Entries, Entry{
			Channel:    ch,
			Start:      ts[i],
			End:        ts[i],
			StartIndex: i,
			EndIndex:   i,
			Type:       TypeEvent,
			Event:      name,
		})
		a.add(annotation.Annotation{
			Kind:    annotation.KindSymbol,
			Channel: ch,
			Start:   ts[i],
			End:     ts[i],
			Text:    name,
			Properties: map[string]any{
				annotation.KeyType:  annotation.TypeEvent,
				annotation.KeyEvent: name,
			},
		})
	}
	return a.rep.Update(offset + a.span)
}

// SampledBaudRate returns the baud rate implied by a bit length in ticks.
func SampledBaudRate(sampleRate int, bitLength float64) int {
	if bitLength <= 0 {
		return 0
	}
	return int(math.Round(float64(sampleRate) / bitLength))
}
