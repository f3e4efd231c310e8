package manchester

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/options"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// Polarity selects which mid-bit transition encodes a one.
type Polarity uint8

const (
	// IEEE is IEEE 802.3 polarity: a rising mid-bit transition is a one.
	IEEE Polarity = iota
	// Thomas is G.E. Thomas polarity: a falling mid-bit transition is a one.
	Thomas
)

func (p Polarity) String() string {
	switch p {
	case IEEE:
		return "IEEE"
	case Thomas:
		return "THOMAS"
	}
	return fmt.Sprintf("Polarity(%d)", uint8(p))
}

// UnmarshalText accepts IEEE, IEEE802.3, THOMAS or GE_THOMAS in any case.
func (p *Polarity) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "IEEE", "IEEE802.3", "IEEE_802_3":
		*p = IEEE
	case "THOMAS", "GE_THOMAS", "G.E.THOMAS":
		*p = Thomas
	default:
		return fmt.Errorf("%w: polarity %q, want IEEE or THOMAS", tool.ErrInvalidConfig, b)
	}
	return nil
}

// Config selects the data line and the symbol format.
type Config struct {
	DataChannel int
	SymbolSize  int
	MSBFirst    bool
	Polarity    Polarity

	// NoiseFloor is the shortest interval, in ticks, taken into account
	// when learning the half-cycle.
	NoiseFloor int64
	// LearnWindow is the number of intervals inspected to learn the
	// half-cycle at the start of a segment.
	LearnWindow int
	// IdleGap is the interval, in half-cycles, beyond which the line is
	// considered idle and the current segment ends without error.
	IdleGap float64
}

// DefaultConfig returns 8-bit MSB first IEEE symbols on channel 0.
func DefaultConfig() Config {
	return Config{
		DataChannel: 0,
		SymbolSize:  8,
		MSBFirst:    true,
		Polarity:    IEEE,
		NoiseFloor:  1,
		LearnWindow: 16,
		IdleGap:     4,
	}
}

// ClockChannel returns the channel receiving the synthesized clock.
func (c Config) ClockChannel() int {
	if c.DataChannel >= 1 {
		return c.DataChannel - 1
	}
	return c.DataChannel + 1
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch {
	case c.DataChannel < 0 || c.DataChannel > 31:
		return fmt.Errorf("%w: data channel %d not in 0..31", tool.ErrInvalidConfig, c.DataChannel)
	case c.SymbolSize < 1 || c.SymbolSize > 32:
		return fmt.Errorf("%w: symbol size %d not in 1..32", tool.ErrInvalidConfig, c.SymbolSize)
	case c.Polarity > Thomas:
		return fmt.Errorf("%w: polarity %s", tool.ErrInvalidConfig, c.Polarity)
	case c.NoiseFloor < 0:
		return fmt.Errorf("%w: negative noise floor", tool.ErrInvalidConfig)
	case c.LearnWindow < 1:
		return fmt.Errorf("%w: learn window %d", tool.ErrInvalidConfig, c.LearnWindow)
	case c.IdleGap < 3:
		return fmt.Errorf("%w: idle gap %v below 3 half-cycles", tool.ErrInvalidConfig, c.IdleGap)
	}
	return nil
}

// Option keys accepted by ConfigFromOptions.
const (
	KeyDataIndex  = "dataIndex"
	KeySymbolSize = "symbolSize"
	KeyBitOrder   = "bitOrder"
	KeyPolarity   = "polarity"
	KeyNoiseFloor = "noiseFloor"
	KeyIdleGap    = "idleGap"
)

// Keys lists every recognized option key.
func Keys() []string {
	return []string{KeyDataIndex, KeySymbolSize, KeyBitOrder, KeyPolarity, KeyNoiseFloor, KeyIdleGap}
}

// ConfigFromOptions builds a validated Config from o.
func ConfigFromOptions(o options.Options) (Config, error) {
	c := DefaultConfig()
	if err := o.Check(Keys()...); err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}

	var err error
	if c.DataChannel, err = o.Int(KeyDataIndex, c.DataChannel); err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}
	if c.SymbolSize, err = o.Int(KeySymbolSize, c.SymbolSize); err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}
	floor, err := o.Int(KeyNoiseFloor, int(c.NoiseFloor))
	if err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}
	c.NoiseFloor = int64(floor)
	if c.IdleGap, err = o.Float(KeyIdleGap, c.IdleGap); err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}

	order, err := o.Text(KeyBitOrder, "MSB_FIRST")
	if err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}
	switch strings.ToUpper(order) {
	case "MSB_FIRST", "MSB":
		c.MSBFirst = true
	case "LSB_FIRST", "LSB":
		c.MSBFirst = false
	default:
		return c, fmt.Errorf("manchester: %w: bitOrder %q", tool.ErrInvalidConfig, order)
	}

	pol, err := o.Text(KeyPolarity, c.Polarity.String())
	if err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}
	if err := c.Polarity.UnmarshalText([]byte(pol)); err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}

	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("manchester: %w", err)
	}
	return c, nil
}
