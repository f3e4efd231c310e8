package asm45

import (
	"context"
	"errors"
	"testing"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/options"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/synth"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

func TestDisassemble(t *testing.T) {
	cases := []struct {
		addr   uint16
		word   uint16
		text   string
		timing int
	}{
		{0x1000, 0x0000, "NOP", 11},
		{0x1000, 0xf14f, "CLA", 11},
		{0x1000, 0x0005, "LDA R5", 13},
		{0x1000, 0x0040, "LDA 0040 [B]", 13},
		{0x1000, 0x0240 | 0x0800, "LDB fe40 [B]", 13},
		{0x1000, 0x3400 | 0x0010, "STA 1010", 13},
		{0x1000, 0x6c00 | 0x03fe, "JMP 0ffe", 8},
		{0x1000, 0x8000 | 0x4000 | 0x0001, "JSM B,I", 23},
		{0x1000, 0x7000 | 0x0002, "EXE P", 8},
		{0x1000, 0x7400 | 0x0003, "RZA *+3 [1003]", 14},
		{0x1000, 0x7400 | 0x003e, "RZA *-2 [0ffe]", 14},
		{0x1000, 0x7600 | 0x00c0 | 0x0004, "SLA *+4,S [1004]", 14},
		{0x1000, 0x7600 | 0x0080 | 0x0004, "SLA *+4,C [1004]", 14},
		{0x1000, 0xf080 | 0x0041, "RET 1,P", 16},
		{0x1000, 0xf140 | 0x0003, "SAR 4", 13},
		{0x1000, 0x7380 | 0x0001, "CLR 2", 28},
		{0x1000, 0x7300 | 0x0002, "XFR 3", 24},
		{0x1000, 0x7160 | 0x0001, "PWC B,I", 23},
		{0x1000, 0x7160 | 0x0080 | 0x0002, "PWC P,D", 23},
		{0x1000, 0x7b8f, "MPY", 65},
	}
	for _, tc := range cases {
		in, ok := Disassemble(tc.addr, tc.word)
		if !ok {
			t.Fatalf("Disassemble(%04x) found no opcode", tc.word)
		}
		if in.Text != tc.text || in.Timing != tc.timing {
			t.Fatalf("Disassemble(%04x) = %q/%d, want %q/%d", tc.word, in.Text, in.Timing, tc.text, tc.timing)
		}
	}

	if in, ok := Disassemble(0, 0x7b01); ok || in.Text != "???" {
		t.Fatalf("Disassemble(7b01) = %q, %v, want ???, false", in.Text, ok)
	}
}

func trace(t *testing.T, cfg Config, cycles ...synth.BusCycle) (*Trace, *annotation.Sink) {
	t.Helper()
	c, err := synth.NewHybridBus().Capture(cycles...)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	sink := annotation.NewSink(nil)
	tr, err := Decode(context.Background(), tool.NewContext(c, sink), cfg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return tr, sink
}

func TestDecodeCycleKinds(t *testing.T) {
	tr, sink := trace(t, DefaultConfig(),
		synth.BusCycle{Address: 0x2000, Data: 0x0005, Fetch: true, Block: 3},
		synth.BusCycle{Address: 0x0005, Data: 0x1234, Write: true},
		synth.BusCycle{Address: 0x4000, Data: 0x00ab, Byte: true},
		synth.BusCycle{Address: 0x4001, Data: 0xcd00, Byte: true, Left: true},
		synth.BusCycle{Address: 0x8000, Data: 0x0042, Grant: true, Fetch: true},
	)

	want := []struct {
		kind  CycleKind
		grant bool
		text  string
	}{
		{KindInstruction, false, "LDA R5"},
		{KindDataWord, false, "R5→$1234"},
		{KindDataByteRight, false, "4000←$00ab"},
		{KindDataByteLeft, false, "4001←$cd00"},
		{KindDataWord, true, "8000←$0042"},
	}
	if len(tr.Cycles) != len(want) {
		t.Fatalf("cycles = %d, want %d", len(tr.Cycles), len(want))
	}
	for i, w := range want {
		c := tr.Cycles[i]
		if c.Kind != w.kind || c.BusGrant != w.grant || c.Text != w.text {
			t.Fatalf("cycle %d = %s/%v/%q, want %s/%v/%q", i, c.Kind, c.BusGrant, c.Text, w.kind, w.grant, w.text)
		}
	}
	if tr.Cycles[0].Block != 3 || tr.Cycles[0].Address != 0x2000 {
		t.Fatalf("cycle 0 block/address = %d/%04x, want 3/2000", tr.Cycles[0].Block, tr.Cycles[0].Address)
	}
	if tr.Cycles[0].Clocks != 4 || tr.Cycles[1].Clocks != 5 {
		t.Fatalf("clocks = %d, %d, want 4, 5", tr.Cycles[0].Clocks, tr.Cycles[1].Clocks)
	}

	anns := sink.Channel(22)
	if len(anns) != len(want) || tr.AnnotationCount() != len(want) {
		t.Fatalf("annotations = %d (count %d), want %d", len(anns), tr.AnnotationCount(), len(want))
	}
	colors := []string{ColorTrigger, ColorData, ColorData, ColorData, ColorBusGrant}
	for i, a := range anns {
		if v, _ := a.Prop(annotation.KeyColor); v != colors[i] {
			t.Fatalf("annotation %d color = %v, want %s", i, v, colors[i])
		}
	}
	if v, _ := anns[0].Prop(KeyTiming); v != 13 {
		t.Fatalf("timing = %v, want 13", v)
	}
	if v, _ := anns[4].Prop(KeyBusGrant); v != true {
		t.Fatalf("busgrant = %v, want true", v)
	}
	if v, _ := anns[2].Prop(KeyCycleType); v != "DBR" {
		t.Fatalf("asm45type = %v, want DBR", v)
	}
}

func TestCycleKind(t *testing.T) {
	cases := []struct {
		kind CycleKind
		name string
		data bool
	}{
		{KindInstruction, "I", false},
		{KindDataWord, "DW", true},
		{KindDataByteLeft, "DBL", true},
		{KindDataByteRight, "DBR", true},
		{CycleKind(9), "CycleKind(9)", true},
	}
	for _, tc := range cases {
		if got := tc.kind.String(); got != tc.name {
			t.Fatalf("String() = %q, want %q", got, tc.name)
		}
		if got := tc.kind.IsData(); got != tc.data {
			t.Fatalf("%s.IsData() = %v, want %v", tc.name, got, tc.data)
		}
	}
	in, ok := Disassemble(0x1000, 0x0005)
	if !ok || in.Text != "LDA R5" {
		t.Fatalf("Disassemble = %+v/%v, want LDA R5", in, ok)
	}
}

func TestDecodeReportFilters(t *testing.T) {
	cycles := []synth.BusCycle{
		{Address: 0x2000, Data: 0x0000, Fetch: true},
		{Address: 0x3000, Data: 0x1111},
		{Address: 0x4000, Data: 0x2222, Grant: true},
		{Address: 0x2001, Data: 0x0000, Fetch: true},
	}
	cases := []struct {
		name               string
		inst, data, grants bool
		want               int
	}{
		{"all", true, true, true, 4},
		{"instructions", true, false, false, 2},
		{"data", false, true, false, 1},
		{"grants", false, false, true, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ReportInst, cfg.ReportData, cfg.ReportBusGrants = tc.inst, tc.data, tc.grants
			tr, _ := trace(t, cfg, cycles...)
			if len(tr.Cycles) != tc.want {
				t.Fatalf("cycles = %d, want %d", len(tr.Cycles), tc.want)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.ReportData = false
	tr, _ := trace(t, cfg, cycles...)
	// clocks accumulate over unreported cycles
	if got := tr.Cycles[1].Clocks; got != 10 {
		t.Fatalf("clocks after skipped cycles = %d, want 10", got)
	}
	if tr.Count(KindInstruction, false) != 2 || tr.Count(KindDataWord, true) != 1 {
		t.Fatalf("counts = %d instructions, %d grants", tr.Count(KindInstruction, false), tr.Count(KindDataWord, true))
	}
}

func TestDecodeBadConfig(t *testing.T) {
	c, err := synth.NewHybridBus().Capture(synth.BusCycle{Fetch: true})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Channels[WRT] = cfg.Channels[BL]
	_, err = Decode(context.Background(), tool.NewContext(c, annotation.NewSink(nil)), cfg)
	if !errors.Is(err, tool.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestConfigFromOptions(t *testing.T) {
	cfg, err := ConfigFromOptions(options.Options{"smcIndex": 30, "reportBusGrants": "false"})
	if err != nil {
		t.Fatalf("ConfigFromOptions: %v", err)
	}
	if cfg.Channel(SMC) != 30 || cfg.ReportBusGrants || !cfg.ReportInst {
		t.Fatalf("config = %+v", cfg)
	}
	for _, o := range []options.Options{{"smcIndex": 3}, {"smcIndex": 23}, {"trace": true}} {
		if _, err := ConfigFromOptions(o); !errors.Is(err, tool.ErrInvalidConfig) {
			t.Fatalf("ConfigFromOptions(%v) = %v, want ErrInvalidConfig", o, err)
		}
	}
}
