package asm45

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/options"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Line names a control signal of the hybrid processor bus.
type Line uint8

const (
	SMC Line = iota
	STM
	EBG
	BYTE
	BL
	WRT
	SYNC
	lineCount
)

var lineNames = [lineCount]string{"SMC", "STM", "EBG", "BYTE", "BL", "WRT", "SYNC"}

func (l Line) String() string {
	if l < lineCount {
		return lineNames[l]
	}
	return fmt.Sprintf("Line(%d)", uint8(l))
}

// Lines lists every control line.
func Lines() []Line {
	out := make([]Line, lineCount)
	for i := range out {
		out[i] = Line(i)
	}
	return out
}

// Bus layout. The address/data lines IDA0..IDA15 occupy channels 0..15 and
// the block address channels 16..21; both are active low.
const (
	DataBits   = 16
	BlockShift = 16
	BlockMask  = 0x3f
)

// Config maps the control lines onto channels and selects the cycles to
// report.
type Config struct {
	Channels [lineCount]int

	ReportInst      bool
	ReportData      bool
	ReportBusGrants bool
}

// DefaultConfig returns the channel layout of the standard probe adapter
// with every cycle kind reported.
func DefaultConfig() Config {
	return Config{
		Channels:        [lineCount]int{22, 23, 24, 25, 26, 27, 28},
		ReportInst:      true,
		ReportData:      true,
		ReportBusGrants: true,
	}
}

// Channel returns the channel of a control line.
func (c Config) Channel(l Line) int { return c.Channels[l] }

// Mask returns the channel mask of a control line.
func (c Config) Mask(l Line) uint32 { return 1 << uint(c.Channels[l]) }

// Validate checks that every control line sits on its own channel above
// the address/data lines.
func (c Config) Validate() error {
	used := make(map[int]Line)
	for _, l := range Lines() {
		ch := c.Channels[l]
		if ch < DataBits || ch > 31 {
			return fmt.Errorf("%w: %s channel %d not in %d..31", tool.ErrInvalidConfig, l, ch, DataBits)
		}
		if other, dup := used[ch]; dup {
			return fmt.Errorf("%w: %s and %s both use channel %d", tool.ErrInvalidConfig, other, l, ch)
		}
		used[ch] = l
	}
	return nil
}

// Option keys accepted by ConfigFromOptions, besides IndexKey(l).
const (
	KeyReportInst      = "reportInst"
	KeyReportData      = "reportData"
	KeyReportBusGrants = "reportBusGrants"
)

// IndexKey returns the option key of a control line's channel, e.g.
// smcIndex.
func IndexKey(l Line) string {
	switch l {
	case SMC:
		return "smcIndex"
	case STM:
		return "stmIndex"
	case EBG:
		return "ebgIndex"
	case BYTE:
		return "byteIndex"
	case BL:
		return "blIndex"
	case WRT:
		return "wrtIndex"
	case SYNC:
		return "syncIndex"
	}
	return ""
}

// Keys lists every recognized option key.
func Keys() []string {
	keys := []string{KeyReportInst, KeyReportData, KeyReportBusGrants}
	for _, l := range Lines() {
		keys = append(keys, IndexKey(l))
	}
	return keys
}

// ConfigFromOptions builds a validated Config from o.
func ConfigFromOptions(o options.Options) (Config, error) {
	c := DefaultConfig()
	if err := o.Check(Keys()...); err != nil {
		return c, fmt.Errorf("asm45: %w", err)
	}
	var err error
	for _, l := range Lines() {
		if c.Channels[l], err = o.Int(IndexKey(l), c.Channels[l]); err != nil {
			return c, fmt.Errorf("asm45: %w", err)
		}
	}
	flags := []struct {
		key string
		dst *bool
	}{
		{KeyReportInst, &c.ReportInst},
		{KeyReportData, &c.ReportData},
		{KeyReportBusGrants, &c.ReportBusGrants},
	}
	for _, f := range flags {
		if *f.dst, err = o.Bool(f.key, *f.dst); err != nil {
			return c, fmt.Errorf("asm45: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("asm45: %w", err)
	}
	return c, nil
}
