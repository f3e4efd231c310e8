// Package asm45 traces the bus of the HP 9845 hybrid processor. Every
// completed memory cycle becomes an annotation on the SMC channel: a
// disassembled instruction, a data transfer or a bus grant.
package asm45

import (
	"context"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Name identifies the decoder.
const Name = "asm45"

// Annotation properties.
const (
	KeyAddress   = "address"
	KeyClocks    = "clocks"
	KeyBlock     = "block"
	KeyCycleType = "asm45type"
	KeyIDA       = "ida"
	KeyBusGrant  = "busgrant"
	KeyTiming    = "timing"
)

// Annotation colours.
const (
	ColorTrigger     = "#ffa0ff"
	ColorInstruction = "#ffffff"
	ColorBusGrant    = "#64ff64"
	ColorData        = "#e0e0ff"
)

// CycleKind classifies a memory cycle.
type CycleKind uint8

const (
	KindInstruction CycleKind = iota
	KindDataWord
	KindDataByteLeft
	KindDataByteRight
)

var kindNames = []string{"I", "DW", "DBL", "DBR"}

func (k CycleKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("CycleKind(%d)", uint8(k))
}

// IsData reports whether the cycle transferred data.
func (k CycleKind) IsData() bool { return k != KindInstruction }

// Cycle is one completed memory cycle.
type Cycle struct {
	Start int64
	End   int64
	Kind  CycleKind
	// BusGrant marks a cycle owned by another bus master, such as DMA or
	// display refresh.
	BusGrant bool
	Write    bool
	Address  uint16
	Block    uint8
	// IDA is the word on the address/data lines when the cycle completed.
	IDA uint16
	// Clocks counts the sample clocks since the previous reported cycle.
	Clocks  int64
	Trigger bool
	Text    string
	Timing  int
}

// Trace is the result of a tracer run.
type Trace struct {
	Cycles []Cycle

	annotations int
}

// AnnotationCount returns the number of annotations the run produced.
func (t *Trace) AnnotationCount() int { return t.annotations }

// Count returns the number of reported cycles of a kind; bus grants are
// counted separately when grant is true.
func (t *Trace) Count(k CycleKind, grant bool) int {
	n := 0
	for _, c := range t.Cycles {
		if c.Kind == k && c.BusGrant == grant {
			n++
		}
	}
	return n
}

// NewTask binds a tracer run to tc for use with a tool.Runner.
func NewTask(tc tool.Context, cfg Config) tool.Task[*Trace] {
	return tool.NewTask(Name, func(ctx context.Context, progress func(int)) (*Trace, error) {
		tc.Progress = progress
		return Decode(ctx, tc, cfg)
	})
}

func fell(prev, cur, mask uint32) bool { return prev&mask != 0 && cur&mask == 0 }
func rose(prev, cur, mask uint32) bool { return prev&mask == 0 && cur&mask != 0 }

// ida returns the active-low address/data lines as a word.
func ida(v uint32) uint16 { return uint16(^v) }

// Decode traces every memory cycle in the range. A cycle runs from STM
// falling to SMC rising; SYNC is sampled when the cycle starts and the
// transfer lines just before it completes.
func Decode(ctx context.Context, tc tool.Context, cfg Config) (*Trace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("asm45: %w", err)
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("asm45: %w", err)
	}
	c := tc.Capture
	for _, l := range Lines() {
		if ch := cfg.Channel(l); ch >= c.ChannelCount() {
			return nil, fmt.Errorf("asm45: %w: %s channel %d, capture has %d channels",
				tool.ErrInvalidConfig, l, ch, c.ChannelCount())
		}
	}

	smc, stm, ebg := cfg.Mask(SMC), cfg.Mask(STM), cfg.Mask(EBG)
	byteMask, bl, wrt, sync := cfg.Mask(BYTE), cfg.Mask(BL), cfg.Mask(WRT), cfg.Mask(SYNC)

	ts, vals := c.Timestamps(), c.Values()
	r := tc.Range
	rep := tool.NewReporter(ctx, ts[r.Start], ts[r.End-1], tc.Progress)

	var trigger int64
	if pos, ok := c.TriggerPosition(); ok {
		trigger = pos
	}

	tr := &Trace{}
	tc.Sink.Clear(cfg.Channel(SMC))

	var (
		inCycle  bool
		cur      Cycle
		fetch    bool
		lastEnd  = ts[r.Start]
		lastTime = int64(-1)
	)
	status := vals[r.Start]
	for i := r.Start + 1; i < r.End; i++ {
		if i%4096 == 0 {
			if err := rep.Update(ts[i]); err != nil {
				return nil, err
			}
		}
		v := vals[i]

		if fell(status, v, stm) {
			inCycle = true
			cur = Cycle{
				Start:   ts[i],
				Address: ida(v),
				Block:   uint8((^v >> BlockShift) & BlockMask),
			}
			fetch = v&sync != 0
		}
		if inCycle && fell(status, v, ebg) {
			cur.BusGrant = true
		}

		if inCycle && rose(status, v, smc) {
			inCycle = false
			cur.End = ts[i]
			cur.IDA = ida(v)
			cur.Write = status&wrt != 0
			switch {
			case !cur.BusGrant && fetch:
				cur.Kind = KindInstruction
			case status&byteMask == 0:
				cur.Kind = KindDataWord
			case status&bl == 0:
				cur.Kind = KindDataByteRight
			default:
				cur.Kind = KindDataByteLeft
			}

			if !reported(cfg, cur) {
				status = v
				continue
			}
			cur.Clocks = cur.End - lastEnd
			lastEnd = cur.End

			t := cur.Start - trigger
			cur.Trigger = lastTime < 0 && t >= 0
			lastTime = t

			if cur.Kind == KindInstruction {
				in, _ := Disassemble(cur.Address, cur.IDA)
				cur.Text, cur.Timing = in.Text, in.Timing
			} else {
				cur.Text = transfer(cur)
			}
			tr.Cycles = append(tr.Cycles, cur)
			tc.Sink.Add(cycleAnnotation(cfg.Channel(SMC), cur))
			tr.annotations++
		}
		status = v
	}

	tc.Log.Debug().Int("cycles", len(tr.Cycles)).Msg("asm45 trace complete")
	rep.Done()
	return tr, nil
}

func reported(cfg Config, c Cycle) bool {
	switch {
	case c.BusGrant:
		return cfg.ReportBusGrants
	case c.Kind == KindInstruction:
		return cfg.ReportInst
	}
	return cfg.ReportData
}

// transfer renders a data cycle as REG→$xxxx for a write and REG←$xxxx for
// a read; addresses above the registers are shown in hex.
func transfer(c Cycle) string {
	arrow := "←"
	if c.Write {
		arrow = "→"
	}
	return fmt.Sprintf("%s%s$%04x", register(int(c.Address)), arrow, c.IDA)
}

func cycleAnnotation(ch int, c Cycle) annotation.Annotation {
	color := ColorData
	switch {
	case c.Trigger:
		color = ColorTrigger
	case c.Kind == KindInstruction:
		color = ColorInstruction
	case c.BusGrant:
		color = ColorBusGrant
	}
	props := map[string]any{
		annotation.KeyColor: color,
		annotation.KeyType:  annotation.TypeSymbol,
		KeyBusGrant:         c.BusGrant,
		KeyAddress:          int(c.Address),
		KeyClocks:           c.Clocks,
		KeyBlock:            int(c.Block),
		KeyCycleType:        c.Kind.String(),
		KeyIDA:              int(c.IDA),
	}
	if c.Kind == KindInstruction {
		props[KeyTiming] = c.Timing
	}
	return annotation.Annotation{
		Kind:       annotation.KindSymbol,
		Channel:    ch,
		Start:      c.Start,
		End:        c.End,
		Value:      int64(c.IDA),
		Text:       c.Text,
		Properties: props,
	}
}
