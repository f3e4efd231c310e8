package uart

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/baud"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/options"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// AutoBaud requests baud rate detection. Any rate <= 0 does.
const AutoBaud = -1

// Parity selects the parity bit.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

var parityNames = []string{"NONE", "ODD", "EVEN", "MARK", "SPACE"}

func (p Parity) String() string { return enumName(parityNames, int(p)) }

// UnmarshalText accepts the parity name in any case.
func (p *Parity) UnmarshalText(b []byte) error {
	i, err := parseEnum("parity", parityNames, string(b))
	*p = Parity(i)
	return err
}

// StopBits is the stop bit length in half bits.
type StopBits uint8

const (
	StopBits1  StopBits = 2
	StopBits15 StopBits = 3
	StopBits2  StopBits = 4
)

func (s StopBits) String() string {
	switch s {
	case StopBits1:
		return "1"
	case StopBits15:
		return "1.5"
	case StopBits2:
		return "2"
	}
	return fmt.Sprintf("StopBits(%d)", uint8(s))
}

// UnmarshalText accepts 1, 1.5 or 2, optionally spelled ONE, ONE_HALF, TWO.
func (s *StopBits) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "1", "1.0", "ONE":
		*s = StopBits1
	case "1.5", "ONE_HALF", "ONE_AND_HALF":
		*s = StopBits15
	case "2", "2.0", "TWO":
		*s = StopBits2
	default:
		return fmt.Errorf("%w: stopBits %q, want 1, 1.5 or 2", tool.ErrInvalidConfig, b)
	}
	return nil
}

// BitEncoding maps line levels onto bit values.
type BitEncoding uint8

const (
	HighIsOne BitEncoding = iota
	HighIsZero
)

var encodingNames = []string{"HIGH_IS_ONE", "HIGH_IS_ZERO"}

func (e BitEncoding) String() string { return enumName(encodingNames, int(e)) }

// UnmarshalText accepts the encoding name in any case.
func (e *BitEncoding) UnmarshalText(b []byte) error {
	i, err := parseEnum("bitEncoding", encodingNames, string(b))
	*e = BitEncoding(i)
	return err
}

// BitOrder is the order data bits are sent in.
type BitOrder uint8

const (
	LSBFirst BitOrder = iota
	MSBFirst
)

var orderNames = []string{"LSB_FIRST", "MSB_FIRST"}

func (o BitOrder) String() string { return enumName(orderNames, int(o)) }

// UnmarshalText accepts the bit order name in any case.
func (o *BitOrder) UnmarshalText(b []byte) error {
	i, err := parseEnum("bitOrder", orderNames, string(b))
	*o = BitOrder(i)
	return err
}

// Level is a line level.
type Level uint8

const (
	High Level = iota
	Low
)

var levelNames = []string{"HIGH", "LOW"}

func (l Level) String() string { return enumName(levelNames, int(l)) }

// UnmarshalText accepts HIGH or LOW in any case.
func (l *Level) UnmarshalText(b []byte) error {
	i, err := parseEnum("idleLevel", levelNames, string(b))
	*l = Level(i)
	return err
}

func enumName(names []string, i int) string {
	if i >= 0 && i < len(names) {
		return names[i]
	}
	return fmt.Sprintf("%d", i)
}

func parseEnum(key string, names []string, s string) (int, error) {
	s = strings.TrimSpace(s)
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s %q, want one of %s", tool.ErrInvalidConfig, key, s, strings.Join(names, ", "))
}

// Line names a signal of the serial interface.
type Line uint8

const (
	RxD Line = iota
	TxD
	CTS
	RTS
	DCD
	RI
	DSR
	DTR
	lineCount
)

var lineNames = [lineCount]string{"RxD", "TxD", "CTS", "RTS", "DCD", "RI", "DSR", "DTR"}

func (l Line) String() string {
	if l < lineCount {
		return lineNames[l]
	}
	return fmt.Sprintf("Line(%d)", uint8(l))
}

// IsData reports whether the line carries serial frames.
func (l Line) IsData() bool { return l == RxD || l == TxD }

// Lines lists every line in decoding order.
func Lines() []Line {
	out := make([]Line, lineCount)
	for i := range out {
		out[i] = Line(i)
	}
	return out
}

// Config describes the serial format and the channel of each line. A
// channel index of -1 disables the line.
type Config struct {
	BaudRate    int
	BitCount    int
	StopBits    StopBits
	Parity      Parity
	BitEncoding BitEncoding
	BitOrder    BitOrder
	IdleLevel   Level

	Channels [lineCount]int

	// AutoBaud tunes the estimator used when BaudRate <= 0.
	AutoBaud baud.Config
}

// DefaultConfig returns 8N1, auto baud, idle high, no lines assigned.
func DefaultConfig() Config {
	c := Config{
		BaudRate:    AutoBaud,
		BitCount:    8,
		StopBits:    StopBits1,
		Parity:      ParityNone,
		BitEncoding: HighIsOne,
		BitOrder:    LSBFirst,
		IdleLevel:   High,
		AutoBaud:    baud.DefaultConfig(),
	}
	for i := range c.Channels {
		c.Channels[i] = -1
	}
	return c
}

// Channel returns the channel index assigned to l.
func (c Config) Channel(l Line) int { return c.Channels[l] }

// SetChannel assigns l to a channel index.
func (c *Config) SetChannel(l Line, ch int) { c.Channels[l] = ch }

// IsAuto reports whether the baud rate is detected.
func (c Config) IsAuto() bool { return c.BaudRate <= 0 }

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.BitCount < 5 || c.BitCount > 9 {
		return fmt.Errorf("%w: bitCount %d not in 5..9", tool.ErrInvalidConfig, c.BitCount)
	}
	switch c.StopBits {
	case StopBits1, StopBits15, StopBits2:
	default:
		return fmt.Errorf("%w: stopBits %s", tool.ErrInvalidConfig, c.StopBits)
	}
	if int(c.Parity) >= len(parityNames) {
		return fmt.Errorf("%w: parity %s", tool.ErrInvalidConfig, c.Parity)
	}
	if int(c.BitEncoding) >= len(encodingNames) {
		return fmt.Errorf("%w: bitEncoding %s", tool.ErrInvalidConfig, c.BitEncoding)
	}
	if int(c.BitOrder) >= len(orderNames) {
		return fmt.Errorf("%w: bitOrder %s", tool.ErrInvalidConfig, c.BitOrder)
	}
	if int(c.IdleLevel) >= len(levelNames) {
		return fmt.Errorf("%w: idleLevel %s", tool.ErrInvalidConfig, c.IdleLevel)
	}

	used := make(map[int]Line)
	for _, l := range Lines() {
		ch := c.Channels[l]
		if ch == -1 {
			continue
		}
		if ch < 0 || ch > 31 {
			return fmt.Errorf("%w: %s channel %d not in 0..31", tool.ErrInvalidConfig, l, ch)
		}
		if other, dup := used[ch]; dup {
			return fmt.Errorf("%w: %s and %s both use channel %d", tool.ErrInvalidConfig, other, l, ch)
		}
		used[ch] = l
	}
	if len(used) == 0 {
		return fmt.Errorf("%w: no lines assigned", tool.ErrInvalidConfig)
	}
	return nil
}

// Option keys accepted by ConfigFromOptions.
const (
	KeyBaudRate    = "baudRate"
	KeyBitCount    = "bitCount"
	KeyStopBits    = "stopBits"
	KeyParity      = "parity"
	KeyBitEncoding = "bitEncoding"
	KeyBitOrder    = "bitOrder"
	KeyIdleLevel   = "idleLevel"
)

// IndexKey returns the option key of a line's channel index, e.g. rxdIndex.
func IndexKey(l Line) string {
	return strings.ToLower(l.String()) + "Index"
}

// Keys lists every recognized option key.
func Keys() []string {
	keys := []string{KeyBaudRate, KeyBitCount, KeyStopBits, KeyParity, KeyBitEncoding, KeyBitOrder, KeyIdleLevel}
	for _, l := range Lines() {
		keys = append(keys, IndexKey(l))
	}
	return keys
}

// ConfigFromOptions builds a validated Config. Missing keys take their
// defaults; unknown keys and malformed values fail with ErrInvalidConfig.
func ConfigFromOptions(o options.Options) (Config, error) {
	c := DefaultConfig()
	if err := o.Check(Keys()...); err != nil {
		return c, fmt.Errorf("uart: %w", err)
	}

	if s, err := o.Text(KeyBaudRate, ""); err != nil {
		return c, fmt.Errorf("uart: %w", err)
	} else if s != "" && !strings.EqualFold(s, "AUTO") {
		if c.BaudRate, err = o.Int(KeyBaudRate, AutoBaud); err != nil {
			return c, fmt.Errorf("uart: %w", err)
		}
	}

	var err error
	if c.BitCount, err = o.Int(KeyBitCount, c.BitCount); err != nil {
		return c, fmt.Errorf("uart: %w", err)
	}

	enums := []struct {
		key string
		def string
		dst interface{ UnmarshalText([]byte) error }
	}{
		{KeyStopBits, c.StopBits.String(), &c.StopBits},
		{KeyParity, c.Parity.String(), &c.Parity},
		{KeyBitEncoding, c.BitEncoding.String(), &c.BitEncoding},
		{KeyBitOrder, c.BitOrder.String(), &c.BitOrder},
		{KeyIdleLevel, c.IdleLevel.String(), &c.IdleLevel},
	}
	for _, e := range enums {
		s, err := o.Text(e.key, e.def)
		if err != nil {
			return c, fmt.Errorf("uart: %w", err)
		}
		if err := e.dst.UnmarshalText([]byte(s)); err != nil {
			return c, fmt.Errorf("uart: %w", err)
		}
	}

	for _, l := range Lines() {
		if c.Channels[l], err = o.Int(IndexKey(l), -1); err != nil {
			return c, fmt.Errorf("uart: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("uart: %w", err)
	}
	return c, nil
}

// Options renders c as an option set accepted by ConfigFromOptions.
func (c Config) Options() options.Options {
	o := options.Options{
		KeyBitCount:    c.BitCount,
		KeyStopBits:    c.StopBits.String(),
		KeyParity:      c.Parity.String(),
		KeyBitEncoding: c.BitEncoding.String(),
		KeyBitOrder:    c.BitOrder.String(),
		KeyIdleLevel:   c.IdleLevel.String(),
	}
	if c.IsAuto() {
		o[KeyBaudRate] = "AUTO"
	} else {
		o[KeyBaudRate] = c.BaudRate
	}
	for _, l := range Lines() {
		if ch := c.Channels[l]; ch >= 0 {
			o[IndexKey(l)] = ch
		}
	}
	return o
}
