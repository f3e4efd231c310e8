package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	verbose     bool
	timeout     time.Duration
	format      string
	showMetrics bool

	csvPath    string
	sampleRate int
	comma      string

	profile string
	spec    string
	opts    []string

	fromCursor int64
	toCursor   int64
}

// NewRootCmd builds the la command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "la",
		Short: "Logic analyzer protocol decoders",
		Long: `Decode serial protocols from logic analyzer captures.

Captures are read from CSV files with one column per channel and one row
per sample tick.

Examples:
  la synth uart --text "hi" -o hi.csv                    # Generate a capture
  la info --csv hi.csv --sample-rate 1000000             # Summarize it
  la decode uart --csv hi.csv --sample-rate 1000000 --rxd 0
  la decode uart --csv hi.csv --sample-rate 1000000 --spec "uart(rxdIndex=0, baudRate=115200)"
  la baud --csv hi.csv --sample-rate 1000000 --channel 0`,
		Version:       "0.3.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch g.format {
			case formatText, formatJSON:
			default:
				return fmt.Errorf("unknown format %q, want text or json", g.format)
			}
			logging.Configure(logging.RuntimeProfile())
			if g.verbose {
				logging.SetLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log decoder diagnostics")
	pf.DurationVar(&g.timeout, "timeout", 0, "cancel decoding after this long (0 disables)")
	pf.StringVar(&g.format, "format", formatText, "output format: text or json")
	pf.BoolVar(&g.showMetrics, "metrics", false, "print run metrics after decoding")
	pf.StringVar(&g.csvPath, "csv", "", "capture file in CSV format")
	pf.IntVar(&g.sampleRate, "sample-rate", 0, "sample rate of the capture in Hz (0 for state captures)")
	pf.StringVar(&g.comma, "comma", ",", "CSV field separator")
	pf.StringVar(&g.profile, "profile", "", "decoder profile (.toml, .yaml)")
	pf.StringVar(&g.spec, "spec", "", `decoder spec, e.g. "uart(baudRate=9600, parity=EVEN)"`)
	pf.StringArrayVar(&g.opts, "opt", nil, "decoder option key=value (repeatable)")
	pf.Int64Var(&g.fromCursor, "from-cursor", 0, "start decoding at this timestamp")
	pf.Int64Var(&g.toCursor, "to-cursor", 0, "stop decoding at this timestamp")

	root.AddCommand(
		newDecodeCmd(g),
		newBaudCmd(g),
		newEdgesCmd(g),
		newInfoCmd(g),
		newSynthCmd(g),
	)
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
