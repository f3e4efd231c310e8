package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/synth"
)

// symbolFlags selects the payload of a synthesized line.
type symbolFlags struct {
	text    string
	symbols []string
}

func (s *symbolFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.text, "text", "Hello", "text to send")
	cmd.Flags().StringSliceVar(&s.symbols, "symbols", nil, "symbol values to send instead of --text (e.g. 0x55,0xa5)")
}

func (s *symbolFlags) values() ([]uint32, error) {
	if len(s.symbols) == 0 {
		out := make([]uint32, 0, len(s.text))
		for _, b := range []byte(s.text) {
			out = append(out, uint32(b))
		}
		return out, nil
	}
	out := make([]uint32, 0, len(s.symbols))
	for _, v := range s.symbols {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid symbol %q: %w", v, err)
		}
		out = append(out, uint32(n))
	}
	return out, nil
}

// writeCapture stores c as CSV in path, or on w when path is empty.
func writeCapture(w io.Writer, path string, c *capture.Capture) error {
	data := synth.CSV(c)
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}
	return nil
}

func newSynthCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate captures for experiments",
		Long: `Generate ideal or jittered captures and write them as CSV, one row per
sample tick. The files can be fed back with --csv.`,
	}
	cmd.AddCommand(newSynthUARTCmd(g), newSynthManchesterCmd(g), newSynthAsm45Cmd())
	return cmd
}

func newSynthUARTCmd(g *globals) *cobra.Command {
	var (
		payload symbolFlags
		output  string
		channel int
		s       = synth.NewSerial(1_000_000, 115200)
	)

	cmd := &cobra.Command{
		Use:   "uart",
		Short: "Generate an asynchronous serial line",
		Long: `Generate an asynchronous serial line.

Examples:
  la synth uart --text "hi" -o hi.csv
  la synth uart --sample-rate 1000000 --baud 9600 --bits 7 --parity EVEN --symbols 0x41,0x42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.sampleRate > 0 {
				s.SampleRate = g.sampleRate
			}
			if s.BaudRate <= 0 || s.BaudRate > s.SampleRate/2 {
				return fmt.Errorf("baud rate %d cannot be sampled at %d Hz", s.BaudRate, s.SampleRate)
			}
			syms, err := payload.values()
			if err != nil {
				return err
			}
			c, err := synth.Capture(s.SampleRate, map[int]synth.Wave{channel: s.Wave(syms...)})
			if err != nil {
				return err
			}
			return writeCapture(cmd.OutOrStdout(), output, c)
		},
	}

	payload.register(cmd)
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	f.IntVarP(&channel, "channel", "c", 0, "channel carrying the line")
	f.IntVar(&s.BaudRate, "baud", s.BaudRate, "baud rate")
	f.IntVar(&s.DataBits, "bits", s.DataBits, "data bits per frame")
	f.StringVar(&s.Parity, "parity", s.Parity, "NONE, ODD, EVEN, MARK or SPACE")
	f.Float64Var(&s.StopBits, "stop", s.StopBits, "stop bits: 1, 1.5 or 2")
	f.BoolVar(&s.IdleLow, "idle-low", false, "idle at the low level")
	f.BoolVar(&s.MSBFirst, "msb", false, "send the most significant bit first")
	f.BoolVar(&s.Inverted, "inverted", false, "send ones as a low level")
	f.Float64Var(&s.Jitter, "jitter", 0, "displace every edge by up to this many ticks")
	f.Uint64Var(&s.Seed, "seed", 1, "jitter seed")
	return cmd
}

func newSynthManchesterCmd(g *globals) *cobra.Command {
	var (
		payload symbolFlags
		output  string
		channel int
		m       = synth.NewManchester(100_000, 1000)
	)

	cmd := &cobra.Command{
		Use:   "manchester",
		Short: "Generate a Manchester coded line",
		Long: `Generate a Manchester coded line.

Examples:
  la synth manchester --symbols 0xa5 -o m.csv
  la synth manchester --sample-rate 100000 --bit-rate 2400 --thomas --lsb`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.sampleRate > 0 {
				m.SampleRate = g.sampleRate
			}
			if m.BitRate <= 0 || m.HalfCycle() < 2 {
				return fmt.Errorf("bit rate %d cannot be sampled at %d Hz", m.BitRate, m.SampleRate)
			}
			syms, err := payload.values()
			if err != nil {
				return err
			}
			c, err := synth.Capture(m.SampleRate, map[int]synth.Wave{channel: m.Wave(syms...)})
			if err != nil {
				return err
			}
			return writeCapture(cmd.OutOrStdout(), output, c)
		},
	}

	payload.register(cmd)
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	f.IntVarP(&channel, "channel", "c", 0, "channel carrying the line")
	f.IntVar(&m.BitRate, "bit-rate", m.BitRate, "bits per second")
	f.IntVar(&m.Bits, "bits", m.Bits, "bits per symbol")
	f.BoolVar(&m.LSBFirst, "lsb", false, "send the least significant bit first")
	f.BoolVar(&m.Thomas, "thomas", false, "use G.E. Thomas polarity")
	f.BoolVar(&m.IdleHigh, "idle-high", false, "idle at the high level")
	return cmd
}

func newSynthAsm45Cmd() *cobra.Command {
	var (
		output  string
		address uint16
		words   []string
		grant   bool
	)
	bus := synth.NewHybridBus()

	cmd := &cobra.Command{
		Use:   "asm45",
		Short: "Generate hybrid processor instruction fetches",
		Long: `Generate a state capture of instruction fetches from consecutive
addresses on the hybrid processor bus.

Examples:
  la synth asm45 --address 0x1000 --words 0x0c00,0x7300 -o bus.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cycles := make([]synth.BusCycle, 0, len(words))
			for i, w := range words {
				n, err := strconv.ParseUint(w, 0, 16)
				if err != nil {
					return fmt.Errorf("invalid word %q: %w", w, err)
				}
				cycles = append(cycles, synth.BusCycle{
					Address: address + uint16(i),
					Data:    uint16(n),
					Fetch:   true,
					Grant:   grant,
				})
			}
			c, err := bus.Capture(cycles...)
			if err != nil {
				return err
			}
			return writeCapture(cmd.OutOrStdout(), output, c)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	f.Uint16Var(&address, "address", 0x1000, "address of the first fetch")
	f.StringSliceVar(&words, "words", []string{"0x0000"}, "instruction words to fetch")
	f.BoolVar(&grant, "grant", false, "fetch under bus grant")
	f.IntVar(&bus.Gap, "gap", bus.Gap, "idle clocks between cycles")
	return cmd
}
