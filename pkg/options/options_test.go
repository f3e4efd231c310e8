package options

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

func TestTypedGetters(t *testing.T) {
	o := Options{
		"bitCount": int64(7),
		"baudRate": "9600",
		"stopBits": 1.5,
		"parity":   "even",
		"flag":     "true",
		"bad":      []int{1},
	}

	if n, err := o.Int("BITCOUNT", 8); err != nil || n != 7 {
		t.Fatalf("Int(bitCount) = %d, %v, want 7", n, err)
	}
	if n, err := o.Int("baudRate", 0); err != nil || n != 9600 {
		t.Fatalf("Int(baudRate) = %d, %v, want 9600", n, err)
	}
	if n, err := o.Int("missing", 42); err != nil || n != 42 {
		t.Fatalf("Int(missing) = %d, %v, want default 42", n, err)
	}
	if s, err := o.Text("stopBits", "1"); err != nil || s != "1.5" {
		t.Fatalf("Text(stopBits) = %q, %v, want 1.5", s, err)
	}
	if b, err := o.Bool("flag", false); err != nil || !b {
		t.Fatalf("Bool(flag) = %v, %v, want true", b, err)
	}
	if _, err := o.Int("stopBits", 0); !errors.Is(err, tool.ErrInvalidConfig) {
		t.Fatalf("Int(stopBits) error = %v, want ErrInvalidConfig", err)
	}
	if _, err := o.Text("bad", ""); !errors.Is(err, tool.ErrInvalidConfig) {
		t.Fatalf("Text(bad) error = %v, want ErrInvalidConfig", err)
	}
}

func TestCheckRejectsUnknownKeys(t *testing.T) {
	o := Options{"baudRate": 9600, "bitcount": 8}
	if err := o.Check("baudRate", "bitCount"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	o["colour"] = "red"
	if err := o.Check("baudRate", "bitCount"); !errors.Is(err, tool.ErrInvalidConfig) {
		t.Fatalf("Check error = %v, want ErrInvalidConfig", err)
	}
}

func TestMergeOverrides(t *testing.T) {
	base := Options{"baudRate": 9600, "parity": "NONE"}
	got := base.Merge(Options{"BaudRate": 115200}, Options{"bitCount": 7})

	if n, _ := got.Int("baudRate", 0); n != 115200 {
		t.Fatalf("baudRate = %d, want 115200", n)
	}
	if len(got) != 3 {
		t.Fatalf("merged = %v, want 3 keys", got)
	}
	if n, _ := base.Int("baudRate", 0); n != 9600 {
		t.Fatalf("Merge modified its receiver")
	}
}

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec(`UART(baudRate=9600, bitCount=7, parity=EVEN, stopBits=1.5, rxdIndex=-1, label="rx line")`)
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if spec.Decoder != "uart" {
		t.Fatalf("Decoder = %q, want uart", spec.Decoder)
	}
	checks := map[string]any{
		"baudRate": 9600,
		"bitCount": 7,
		"parity":   "EVEN",
		"stopBits": 1.5,
		"rxdIndex": -1,
		"label":    "rx line",
	}
	for k, want := range checks {
		if got := spec.Options[k]; got != want {
			t.Fatalf("%s = %#v, want %#v", k, got, want)
		}
	}

	again, err := ParseSpec(spec.String())
	if err != nil {
		t.Fatalf("ParseSpec(%q): %v", spec.String(), err)
	}
	if len(again.Options) != len(spec.Options) {
		t.Fatalf("reparsed %v, want %v", again.Options, spec.Options)
	}
}

func TestParseSpecErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"uart(baudRate)",
		"uart(baudRate=9600,",
		"uart(a=1, a=2)",
	} {
		if _, err := ParseSpec(in); !errors.Is(err, tool.ErrInvalidConfig) {
			t.Fatalf("ParseSpec(%q) error = %v, want ErrInvalidConfig", in, err)
		}
	}
	if spec, err := ParseSpec("manchester"); err != nil || len(spec.Options) != 0 {
		t.Fatalf("bare decoder name = %+v, %v", spec, err)
	}
}

func TestFromPairs(t *testing.T) {
	o, err := FromPairs([]string{"baudRate=AUTO", " parity = odd "})
	if err != nil {
		t.Fatalf("FromPairs: %v", err)
	}
	if s, _ := o.Text("parity", ""); s != "odd" {
		t.Fatalf("parity = %q, want odd", s)
	}
	if _, err := FromPairs([]string{"novalue"}); !errors.Is(err, tool.ErrInvalidConfig) {
		t.Fatalf("FromPairs error = %v, want ErrInvalidConfig", err)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadProfileTOML(t *testing.T) {
	path := writeFile(t, "la.toml", `
[uart]
baudRate = 9600
parity = "EVEN"
stopBits = 1.5

[manchester]
symbolSize = 16
`)
	p, err := LoadProfile(path, "uart", "manchester", "asm45")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if n, err := p.For("uart").Int("baudRate", 0); err != nil || n != 9600 {
		t.Fatalf("uart.baudRate = %d, %v, want 9600", n, err)
	}
	if s, _ := p.For("UART").Text("stopBits", ""); s != "1.5" {
		t.Fatalf("uart.stopBits = %q, want 1.5", s)
	}
	if n, _ := p.For("manchester").Int("symbolSize", 0); n != 16 {
		t.Fatalf("manchester.symbolSize = %d, want 16", n)
	}
	if len(p.For("asm45")) != 0 {
		t.Fatalf("asm45 section should be empty")
	}
}

func TestLoadProfileYAML(t *testing.T) {
	path := writeFile(t, "la.yaml", "uart:\n  baudRate: AUTO\n  bitCount: 7\n")
	p, err := LoadProfile(path, "uart")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if n, _ := p.For("uart").Int("bitCount", 0); n != 7 {
		t.Fatalf("uart.bitCount = %d, want 7", n)
	}
	if s, _ := p.For("uart").Text("baudRate", ""); s != "AUTO" {
		t.Fatalf("uart.baudRate = %q, want AUTO", s)
	}
}

func TestLoadProfileErrors(t *testing.T) {
	cases := map[string]string{
		"la.json":    "{}",
		"bad.toml":   "[uart\n",
		"other.toml": "[spi]\nmode = 0\n",
	}
	for name, body := range cases {
		path := writeFile(t, name, body)
		if _, err := LoadProfile(path, "uart"); !errors.Is(err, tool.ErrInvalidConfig) {
			t.Fatalf("LoadProfile(%s) error = %v, want ErrInvalidConfig", name, err)
		}
	}
}
