package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/asm45"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/manchester"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/options"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/synth"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/uart"
)

func newDecodeCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Run a protocol decoder over a capture",
		Long: `Run a protocol decoder over a capture.

Decoder options are taken from --profile, then --spec, then --opt and
finally the decoder's own flags, later sources overriding earlier ones.`,
	}
	cmd.AddCommand(newDecodeUARTCmd(g), newDecodeManchesterCmd(g), newDecodeAsm45Cmd(g))
	return cmd
}

func newDecodeUARTCmd(g *globals) *cobra.Command {
	var baudRate string
	channels := make(map[uart.Line]*int)

	cmd := &cobra.Command{
		Use:   "uart",
		Short: "Decode asynchronous serial lines",
		Long: `Decode asynchronous serial lines (RxD, TxD) and report the level
changes of the modem control lines.

Examples:
  la decode uart --csv cap.csv --sample-rate 1000000 --rxd 0
  la decode uart --csv cap.csv --sample-rate 1000000 --rxd 0 --txd 1 --baud 9600
  la decode uart --csv cap.csv --sample-rate 1000000 --spec "uart(rxdIndex=0, parity=EVEN, bitCount=7)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := options.Options{}
			if cmd.Flags().Changed("baud") {
				flags[uart.KeyBaudRate] = baudRate
			}
			for l, ch := range channels {
				if cmd.Flags().Changed(lineFlag(l)) {
					flags[uart.IndexKey(l)] = *ch
				}
			}

			o, err := g.decoderOptions(uart.Name, flags)
			if err != nil {
				return err
			}
			cfg, err := uart.ConfigFromOptions(o)
			if err != nil {
				return err
			}
			tc, err := g.toolContext(cmd, uart.Name)
			if err != nil {
				return err
			}

			ds, reg, err := runTask(cmd, g, uart.NewTask(tc, cfg))
			if err != nil {
				return err
			}

			var summary []field
			for _, l := range uart.Lines() {
				st := ds.Stats(l)
				if st.Channel < 0 {
					continue
				}
				name := strings.ToLower(l.String())
				summary = append(summary,
					field{name + ".baudrate", st.BaudRate},
					field{name + ".symbols", st.Symbols},
					field{name + ".errors", st.Errors()},
				)
			}
			return g.write(cmd.OutOrStdout(), report{Decoder: uart.Name, Summary: summary, Sink: tc.Sink, Metrics: reg})
		},
	}

	cmd.Flags().StringVar(&baudRate, "baud", "auto", "baud rate, or auto to detect it")
	for _, l := range uart.Lines() {
		ch := new(int)
		channels[l] = ch
		cmd.Flags().IntVar(ch, lineFlag(l), -1, fmt.Sprintf("channel of %s (-1 disables)", l))
	}
	return cmd
}

func lineFlag(l uart.Line) string { return strings.ToLower(l.String()) }

func newDecodeManchesterCmd(g *globals) *cobra.Command {
	var (
		data       int
		symbolSize int
		polarity   string
		bitOrder   string
		clockCSV   string
	)

	cmd := &cobra.Command{
		Use:   "manchester",
		Short: "Decode a Manchester coded line and recover its clock",
		Long: `Decode a Manchester coded line. The recovered clock is written to the
channel next to the data channel; --clock-csv saves the capture with it.

Examples:
  la decode manchester --csv cap.csv --sample-rate 100000 --data 0
  la decode manchester --csv cap.csv --sample-rate 100000 --data 1 --polarity thomas --bit-order lsb`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := options.Options{}
			set := func(name, key string, v any) {
				if cmd.Flags().Changed(name) {
					flags[key] = v
				}
			}
			set("data", manchester.KeyDataIndex, data)
			set("symbol-size", manchester.KeySymbolSize, symbolSize)
			set("polarity", manchester.KeyPolarity, polarity)
			set("bit-order", manchester.KeyBitOrder, bitOrder)

			o, err := g.decoderOptions(manchester.Name, flags)
			if err != nil {
				return err
			}
			cfg, err := manchester.ConfigFromOptions(o)
			if err != nil {
				return err
			}
			tc, err := g.toolContext(cmd, manchester.Name)
			if err != nil {
				return err
			}

			res, reg, err := runTask(cmd, g, manchester.NewTask(tc, cfg))
			if err != nil {
				return err
			}

			if clockCSV != "" {
				if err := os.WriteFile(clockCSV, synth.CSV(res.Capture), 0o644); err != nil {
					return fmt.Errorf("failed to write clock capture: %w", err)
				}
			}

			summary := []field{
				{"symbols", len(res.Symbols)},
				{"halfcycle", res.HalfCycle},
				{"clock", res.ClockFrequency},
				{"clockchannel", res.ClockChannel},
				{"syncerrors", res.SyncErrors},
			}
			return g.write(cmd.OutOrStdout(), report{Decoder: manchester.Name, Summary: summary, Sink: tc.Sink, Metrics: reg})
		},
	}

	f := cmd.Flags()
	f.IntVar(&data, "data", 0, "data channel")
	f.IntVar(&symbolSize, "symbol-size", 8, "bits per symbol")
	f.StringVar(&polarity, "polarity", "IEEE", "IEEE or THOMAS")
	f.StringVar(&bitOrder, "bit-order", "MSB", "MSB or LSB first")
	f.StringVar(&clockCSV, "clock-csv", "", "write the capture with the recovered clock to this file")
	return cmd
}

func newDecodeAsm45Cmd(g *globals) *cobra.Command {
	var (
		noInst   bool
		noData   bool
		noGrants bool
	)

	cmd := &cobra.Command{
		Use:   "asm45",
		Short: "Trace HP 9845 hybrid processor bus cycles",
		Long: `Trace the bus cycles of an HP 9845 hybrid processor and disassemble
the instruction fetches. Channels 0-15 carry the inverted IDA bus; the
control lines default to channels 22-28.

Examples:
  la decode asm45 --csv bus.csv
  la decode asm45 --csv bus.csv --no-data --opt smcIndex=30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := options.Options{}
			if noInst {
				flags[asm45.KeyReportInst] = false
			}
			if noData {
				flags[asm45.KeyReportData] = false
			}
			if noGrants {
				flags[asm45.KeyReportBusGrants] = false
			}

			o, err := g.decoderOptions(asm45.Name, flags)
			if err != nil {
				return err
			}
			cfg, err := asm45.ConfigFromOptions(o)
			if err != nil {
				return err
			}
			tc, err := g.toolContext(cmd, asm45.Name)
			if err != nil {
				return err
			}

			tr, reg, err := runTask(cmd, g, asm45.NewTask(tc, cfg))
			if err != nil {
				return err
			}

			var inst, data, grants int
			for _, c := range tr.Cycles {
				switch {
				case c.BusGrant:
					grants++
				case c.Kind == asm45.KindInstruction:
					inst++
				default:
					data++
				}
			}
			summary := []field{
				{"cycles", len(tr.Cycles)},
				{"instructions", inst},
				{"data", data},
				{"busgrants", grants},
			}
			return g.write(cmd.OutOrStdout(), report{Decoder: asm45.Name, Summary: summary, Sink: tc.Sink, Metrics: reg})
		},
	}

	f := cmd.Flags()
	f.BoolVar(&noInst, "no-inst", false, "skip instruction fetches")
	f.BoolVar(&noData, "no-data", false, "skip data cycles")
	f.BoolVar(&noGrants, "no-grants", false, "skip cycles under bus grant")
	return cmd
}
