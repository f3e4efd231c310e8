package uart

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/options"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/synth"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

func buildCapture(t *testing.T, sampleRate int, lines map[int]synth.Wave) *capture.Capture {
	t.Helper()
	c, err := synth.Capture(sampleRate, lines)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return c
}

func rxConfig(baudRate int) Config {
	cfg := DefaultConfig()
	cfg.BaudRate = baudRate
	cfg.SetChannel(RxD, 0)
	return cfg
}

func decode(t *testing.T, c *capture.Capture, cfg Config) (*DataSet, *annotation.Sink) {
	t.Helper()
	sink := annotation.NewSink(nil)
	ds, err := Decode(context.Background(), tool.NewContext(c, sink), cfg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return ds, sink
}

func symbols(sink *annotation.Sink, ch int) []annotation.Annotation {
	var out []annotation.Annotation
	for _, a := range sink.Channel(ch) {
		if a.Kind == annotation.KindSymbol {
			out = append(out, a)
		}
	}
	return out
}

func errorsOf(sink *annotation.Sink, ch int, kind string) []annotation.Annotation {
	var out []annotation.Annotation
	for _, a := range sink.Channel(ch) {
		if a.Kind == annotation.KindError && a.Text == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestDecode8N1(t *testing.T) {
	s := synth.NewSerial(1_000_000, 115200)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Wave(0x55)})

	ds, sink := decode(t, c, rxConfig(115200))
	syms := symbols(sink, 0)
	if len(syms) != 1 {
		t.Fatalf("symbols = %d, want 1 (%v)", len(syms), sink.Channel(0))
	}
	if syms[0].Value != 0x55 {
		t.Fatalf("value = %#x, want 0x55", syms[0].Value)
	}
	// ten bits of 8.68 ticks, rounded up to whole ticks
	if got := syms[0].End - syms[0].Start; got != 87 {
		t.Fatalf("symbol span = %d, want 87", got)
	}
	if got := ds.Symbols(0); len(got) != 1 || got[0] != 0x55 {
		t.Fatalf("data set symbols = %v, want [0x55]", got)
	}
	if l, ok := sink.Label(0); !ok || l != "RxD" {
		t.Fatalf("label = %q, %v, want RxD", l, ok)
	}
}

func TestDecode7E1AutoBaud(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	s.DataBits = 7
	s.Parity = "EVEN"
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Wave('A', 'B', 'C')})

	cfg := rxConfig(AutoBaud)
	cfg.BitCount = 7
	cfg.Parity = ParityEven
	ds, sink := decode(t, c, cfg)

	if ds.BaudRate != 9600 {
		t.Fatalf("BaudRate = %d, want 9600", ds.BaudRate)
	}
	if ds.BitLength != 12 {
		t.Fatalf("BitLength = %v, want 12", ds.BitLength)
	}
	got := ds.Symbols(0)
	want := []uint32{'A', 'B', 'C'}
	if len(got) != len(want) {
		t.Fatalf("symbols = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("symbol %d = %#x, want %#x", i, got[i], want[i])
		}
	}
	if st := ds.Stats(RxD); st.Errors() != 0 || st.Symbols != 3 {
		t.Fatalf("stats = %+v, want 3 symbols and no errors", st)
	}

	meta := sink.Metadata()
	if len(meta) != 1 {
		t.Fatalf("metadata = %d, want 1", len(meta))
	}
	if !strings.HasPrefix(meta[0].Text, "Baudrate = 9600 (exact = 9600)") {
		t.Fatalf("metadata text = %q", meta[0].Text)
	}
	if v, _ := meta[0].Prop("baudrate"); v != 9600 {
		t.Fatalf("baudrate property = %v, want 9600", v)
	}
}

func TestDecodeFrameError(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	frames := s.Frames(0x31, 0x32)
	frames[1].SetBit(9, false)
	w := s.Render(frames)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: w})

	ds, sink := decode(t, c, rxConfig(9600))
	syms := symbols(sink, 0)
	if len(syms) != 2 {
		t.Fatalf("symbols = %d, want 2", len(syms))
	}
	fe := errorsOf(sink, 0, annotation.ErrorFrame)
	if len(fe) != 1 {
		t.Fatalf("frame errors = %d, want 1 (%v)", len(fe), sink.Channel(0))
	}
	if fe[0].Start < syms[1].Start || fe[0].End > syms[1].End {
		t.Fatalf("frame error [%d,%d] outside symbol 2 [%d,%d]", fe[0].Start, fe[0].End, syms[1].Start, syms[1].End)
	}
	if v, _ := fe[0].Prop(annotation.KeyColor); v != ColorFrameError {
		t.Fatalf("color = %v, want %s", v, ColorFrameError)
	}
	if got := ds.Stats(RxD).FrameErrors; got != 1 {
		t.Fatalf("FrameErrors = %d, want 1", got)
	}
}

func TestDecodeClockMismatch(t *testing.T) {
	cases := []struct {
		name  string
		baud  int
		value int64
		// offset of the flagged cell from the start bit
		cell int64
	}{
		{"stop bit missed", 8800, 0xb5, 938},
		{"edge off boundary", 9150, 0x55, 312},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := synth.NewSerial(1_000_000, tc.baud)
			c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Wave(0x55, 0x55, 0x55)})

			ds, sink := decode(t, c, rxConfig(9600))
			syms := symbols(sink, 0)
			fe := errorsOf(sink, 0, annotation.ErrorFrame)
			if len(syms) != 3 || len(fe) != len(syms) {
				t.Fatalf("symbols = %d, frame errors = %d, want 3 each (%v)", len(syms), len(fe), sink.Channel(0))
			}
			for i, sym := range syms {
				if sym.Value != tc.value {
					t.Fatalf("symbol %d = %#x, want %#x", i, sym.Value, tc.value)
				}
				if got := fe[i].Start - sym.Start; got != tc.cell {
					t.Fatalf("frame error %d at offset %d, want %d", i, got, tc.cell)
				}
				if fe[i].End > sym.End {
					t.Fatalf("frame error %d ends at %d past symbol end %d", i, fe[i].End, sym.End)
				}
			}
			if got := ds.Stats(RxD).FrameErrors; got != 3 {
				t.Fatalf("FrameErrors = %d, want 3", got)
			}
		})
	}
}

func TestDecodeStartError(t *testing.T) {
	s := synth.NewSerial(1_000_000, 9600)
	w := s.Wave('A')
	// five tick glitch in the lead-in idle time
	w.Times = append([]int64{0, 50, 55}, w.Times[1:]...)
	w.Levels = append([]bool{true, false, true}, w.Levels[1:]...)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: w})

	ds, sink := decode(t, c, rxConfig(9600))
	se := errorsOf(sink, 0, annotation.ErrorStart)
	if len(se) != 1 || se[0].Start != 50 || se[0].End != 154 {
		t.Fatalf("start errors = %v, want one over [50,154]", se)
	}
	syms := symbols(sink, 0)
	if len(syms) != 1 || syms[0].Value != 'A' || syms[0].Start != 208 {
		t.Fatalf("symbols = %v, want 'A' at 208", syms)
	}
	if st := ds.Stats(RxD); st.StartErrors != 1 || st.Symbols != 1 || st.FrameErrors != 0 {
		t.Fatalf("stats = %+v, want 1 start error and 1 symbol", st)
	}
}

func TestDecodeParityError(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	s.Parity = "EVEN"
	frames := s.Frames(0x10, 0x20, 0x30)
	frames[0].FlipBit(1 + 3)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Render(frames)})

	cfg := rxConfig(9600)
	cfg.Parity = ParityEven
	ds, sink := decode(t, c, cfg)

	pe := errorsOf(sink, 0, annotation.ErrorParity)
	if len(pe) != 1 {
		t.Fatalf("parity errors = %d, want 1", len(pe))
	}
	syms := symbols(sink, 0)
	if len(syms) != 3 {
		t.Fatalf("symbols = %d, want 3", len(syms))
	}
	if pe[0].Start < syms[0].Start || pe[0].End > syms[0].End {
		t.Fatalf("parity error [%d,%d] outside symbol 1", pe[0].Start, pe[0].End)
	}
	want := []uint32{0x18, 0x20, 0x30}
	for i, v := range ds.Symbols(0) {
		if v != want[i] {
			t.Fatalf("symbol %d = %#x, want %#x", i, v, want[i])
		}
	}
	if len(errorsOf(sink, 0, annotation.ErrorFrame)) != 0 {
		t.Fatalf("unexpected frame errors: %v", sink.Channel(0))
	}
}

func TestDecodeNoSignal(t *testing.T) {
	w := synth.Wave{End: 1000}
	w.Set(0, true)
	w.Set(100, false)
	w.Set(200, true)
	c := buildCapture(t, 115200, map[int]synth.Wave{0: w})

	sink := annotation.NewSink(nil)
	ds, err := Decode(context.Background(), tool.NewContext(c, sink), rxConfig(AutoBaud))
	if !errors.Is(err, tool.ErrNoSignal) {
		t.Fatalf("err = %v, want ErrNoSignal", err)
	}
	if tool.KindOf(err) != tool.KindNoSignal {
		t.Fatalf("kind = %s, want %s", tool.KindOf(err), tool.KindNoSignal)
	}
	if ds != nil {
		t.Fatalf("data set = %+v, want nil", ds)
	}
	if n := len(symbols(sink, 0)); n != 0 {
		t.Fatalf("symbols = %d, want 0", n)
	}
	meta := sink.Metadata()
	if len(meta) != 1 || meta[0].Text != "Baud rate calculation failed!" {
		t.Fatalf("metadata = %v", meta)
	}
	if v, _ := meta[0].Prop("baudrate"); v != 0 {
		t.Fatalf("baudrate property = %v, want 0", v)
	}
	if v, _ := meta[0].Prop("trustworthy"); v != false {
		t.Fatalf("trustworthy property = %v, want false", v)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		sr    int
		baud  int
		setup func(*synth.Serial, *Config)
	}{
		{"8N1", 115200, 9600, func(*synth.Serial, *Config) {}},
		{"8N1 fractional", 1_000_000, 115200, func(*synth.Serial, *Config) {}},
		{"7O2", 115200, 9600, func(s *synth.Serial, c *Config) {
			s.DataBits, s.Parity, s.StopBits = 7, "ODD", 2
			c.BitCount, c.Parity, c.StopBits = 7, ParityOdd, StopBits2
		}},
		{"9M1.5", 1_000_000, 57600, func(s *synth.Serial, c *Config) {
			s.DataBits, s.Parity, s.StopBits = 9, "MARK", 1.5
			c.BitCount, c.Parity, c.StopBits = 9, ParityMark, StopBits15
		}},
		{"5S1 msb", 100_000, 4800, func(s *synth.Serial, c *Config) {
			s.DataBits, s.Parity, s.MSBFirst = 5, "SPACE", true
			c.BitCount, c.Parity, c.BitOrder = 5, ParitySpace, MSBFirst
		}},
		{"idle low", 115200, 9600, func(s *synth.Serial, c *Config) {
			s.IdleLow = true
			c.IdleLevel = Low
		}},
		{"inverted", 115200, 9600, func(s *synth.Serial, c *Config) {
			s.Inverted, s.Parity = true, "EVEN"
			c.BitEncoding, c.Parity = HighIsZero, ParityEven
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := synth.NewSerial(tc.sr, tc.baud)
			cfg := rxConfig(tc.baud)
			tc.setup(&s, &cfg)

			rng := rand.New(rand.NewPCG(1, 2))
			want := make([]uint32, 32)
			for i := range want {
				want[i] = rng.Uint32N(1 << uint(s.DataBits))
			}
			c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Wave(want...)})

			ds, _ := decode(t, c, cfg)
			got := ds.Symbols(0)
			if len(got) != len(want) {
				t.Fatalf("symbols = %d, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("symbol %d = %#x, want %#x", i, got[i], want[i])
				}
			}
			if st := ds.Stats(RxD); st.Errors() != 0 {
				t.Fatalf("stats = %+v, want no errors", st)
			}
		})
	}
}

func TestDecodeRxTxAndControl(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	cts := synth.Wave{End: 400}
	cts.Set(0, false)
	cts.Set(50, true)
	cts.Set(300, false)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{
		0: s.Wave('o', 'k'),
		1: s.Wave('h', 'i'),
		2: cts,
	})

	cfg := rxConfig(9600)
	cfg.SetChannel(TxD, 1)
	cfg.SetChannel(CTS, 2)
	ds, sink := decode(t, c, cfg)

	if got := string(runes(ds.Symbols(1))); got != "hi" {
		t.Fatalf("TxD = %q, want hi", got)
	}
	if got := string(runes(ds.Symbols(0))); got != "ok" {
		t.Fatalf("RxD = %q, want ok", got)
	}
	ev := ds.Events(2)
	if len(ev) != 2 || ev[0].Event != "CTS_HIGH" || ev[1].Event != "CTS_LOW" {
		t.Fatalf("CTS events = %+v", ev)
	}
	if l, _ := sink.Label(1); l != "TxD" {
		t.Fatalf("TxD label = %q", l)
	}
	if l, _ := sink.Label(2); l != "CTS" {
		t.Fatalf("CTS label = %q", l)
	}
	for i := 1; i < len(ds.Entries); i++ {
		if ds.Entries[i].Start < ds.Entries[i-1].Start {
			t.Fatalf("entries not sorted at %d", i)
		}
	}
	if ds.AnnotationCount() != sinkCount(sink) {
		t.Fatalf("AnnotationCount = %d, want %d", ds.AnnotationCount(), sinkCount(sink))
	}
}

func runes(v []uint32) []rune {
	out := make([]rune, len(v))
	for i, x := range v {
		out[i] = rune(x)
	}
	return out
}

func sinkCount(s *annotation.Sink) int {
	n := len(s.Metadata()) + s.Len()
	for _, ch := range s.Channels() {
		if _, ok := s.Label(ch); ok {
			n++
		}
	}
	return n
}

func TestDecodeClearsPreviousRun(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Wave(1, 2, 3)})
	sink := annotation.NewSink(nil)
	tc := tool.NewContext(c, sink)
	for range 2 {
		if _, err := Decode(context.Background(), tc, rxConfig(9600)); err != nil {
			t.Fatalf("Decode: %v", err)
		}
	}
	if n := len(symbols(sink, 0)); n != 3 {
		t.Fatalf("symbols after two runs = %d, want 3", n)
	}
}

func TestDecodeCancelled(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Wave(1, 2, 3)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Decode(ctx, tool.NewContext(c, annotation.NewSink(nil)), rxConfig(9600))
	if !errors.Is(err, tool.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestDecodeWithRunner(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Wave('x')})

	r := tool.NewRunner[*DataSet]()
	ds, err := r.Run(context.Background(), NewTask(tool.NewContext(c, annotation.NewSink(nil)), rxConfig(9600)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ds.Symbols(0); len(got) != 1 || got[0] != 'x' {
		t.Fatalf("symbols = %v, want [x]", got)
	}
	if r.Progress() != 100 {
		t.Fatalf("progress = %d, want 100", r.Progress())
	}
}

func TestDecodeBadContext(t *testing.T) {
	s := synth.NewSerial(115200, 9600)
	c := buildCapture(t, s.SampleRate, map[int]synth.Wave{0: s.Wave(1)})

	cfg := rxConfig(9600)
	cfg.SetChannel(TxD, 5)
	_, err := Decode(context.Background(), tool.NewContext(c, annotation.NewSink(nil)), cfg)
	if tool.KindOf(err) != tool.KindInvalidConfig {
		t.Fatalf("kind = %s, want %s (%v)", tool.KindOf(err), tool.KindInvalidConfig, err)
	}

	cfg = rxConfig(115200)
	_, err = Decode(context.Background(), tool.NewContext(c, annotation.NewSink(nil)), cfg)
	if tool.KindOf(err) != tool.KindInvalidConfig {
		t.Fatalf("undersampled kind = %s, want %s", tool.KindOf(err), tool.KindInvalidConfig)
	}
}

func TestParityOK(t *testing.T) {
	cases := []struct {
		p     Parity
		value uint32
		bit   bool
		want  bool
	}{
		{ParityNone, 0x00, true, true},
		{ParityEven, 0x03, false, true},
		{ParityEven, 0x07, true, true},
		{ParityEven, 0x07, false, false},
		{ParityOdd, 0x03, true, true},
		{ParityOdd, 0x01, false, true},
		{ParityOdd, 0x01, true, false},
		{ParityMark, 0x00, true, true},
		{ParityMark, 0xff, false, false},
		{ParitySpace, 0x00, false, true},
		{ParitySpace, 0x00, true, false},
	}
	for _, tc := range cases {
		if got := parityOK(tc.p, tc.value, tc.bit); got != tc.want {
			t.Fatalf("parityOK(%s, %#x, %v) = %v, want %v", tc.p, tc.value, tc.bit, got, tc.want)
		}
	}
}

func TestBitClock(t *testing.T) {
	clk := newBitClock(1_000_000, 115200)
	if clk.p != 625 || clk.q != 72 {
		t.Fatalf("clock = %d/%d, want 625/72", clk.p, clk.q)
	}
	if got := clk.ceil(10, 1); got != 87 {
		t.Fatalf("ceil(10) = %d, want 87", got)
	}
	if got := clk.at(1, 2); got != 4 {
		t.Fatalf("at(1/2) = %d, want 4", got)
	}
	if clk.offBoundary(9) {
		t.Fatalf("offset 9 is within an eighth bit of a boundary")
	}
	if !clk.offBoundary(4) {
		t.Fatalf("offset 4 is mid bit")
	}
}

func TestConfigFromOptions(t *testing.T) {
	cfg, err := ConfigFromOptions(options.Options{
		"baudRate": "AUTO",
		"parity":   "even",
		"stopBits": "1.5",
		"RXDINDEX": 3,
		"ctsIndex": 4,
	})
	if err != nil {
		t.Fatalf("ConfigFromOptions: %v", err)
	}
	if !cfg.IsAuto() || cfg.Parity != ParityEven || cfg.StopBits != StopBits15 {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.Channel(RxD) != 3 || cfg.Channel(CTS) != 4 || cfg.Channel(TxD) != -1 {
		t.Fatalf("channels = %v", cfg.Channels)
	}

	back, err := ConfigFromOptions(cfg.Options())
	if err != nil {
		t.Fatalf("ConfigFromOptions(Options()): %v", err)
	}
	if back.Channels != cfg.Channels || back.Parity != cfg.Parity || back.BaudRate != cfg.BaudRate {
		t.Fatalf("round trip = %+v, want %+v", back, cfg)
	}

	bad := []options.Options{
		{"rxdIndex": 0, "parity": "sometimes"},
		{"rxdIndex": 0, "txdIndex": 0},
		{"rxdIndex": 0, "bitCount": 10},
		{"rxdIndex": 0, "speed": 9600},
		{"rxdIndex": 40},
		{},
	}
	for _, o := range bad {
		if _, err := ConfigFromOptions(o); !errors.Is(err, tool.ErrInvalidConfig) {
			t.Fatalf("ConfigFromOptions(%v) = %v, want ErrInvalidConfig", o, err)
		}
	}
}

func TestStopBitsUnmarshal(t *testing.T) {
	cases := map[string]StopBits{"1": StopBits1, "ONE_HALF": StopBits15, "two": StopBits2, "2.0": StopBits2}
	for in, want := range cases {
		var s StopBits
		if err := s.UnmarshalText([]byte(in)); err != nil || s != want {
			t.Fatalf("UnmarshalText(%q) = %s, %v, want %s", in, s, err, want)
		}
	}
	var s StopBits
	if err := s.UnmarshalText([]byte("3")); err == nil {
		t.Fatalf("UnmarshalText(3) succeeded")
	}
}
