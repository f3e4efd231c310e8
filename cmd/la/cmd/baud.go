package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/baud"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

func newBaudCmd(g *globals) *cobra.Command {
	var (
		channel    int
		noiseFloor int64
	)

	cmd := &cobra.Command{
		Use:   "baud",
		Short: "Estimate the baud rate of a serial line",
		Long: `Estimate the baud rate of a serial line from the spacing of its edges.

Examples:
  la baud --csv cap.csv --sample-rate 1000000 --channel 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := g.toolContext(cmd, "baud")
			if err != nil {
				return err
			}
			c := tc.Capture
			if !c.HasTimingData() {
				return fmt.Errorf("%w: baud detection needs --sample-rate", tool.ErrInvalidConfig)
			}
			if channel < 0 || channel >= c.ChannelCount() {
				return fmt.Errorf("%w: channel %d not in 0..%d", tool.ErrInvalidConfig, channel, c.ChannelCount()-1)
			}

			cfg := baud.DefaultConfig()
			cfg.NoiseFloor = noiseFloor
			res := baud.Detect(c, 1<<uint(channel), tc.Range, cfg)
			tc.Log.Debug().Int("edges", res.Edges).Int("intervals", res.Intervals).Msg("baud detection done")
			if !res.OK() {
				return fmt.Errorf("%w: %d edges on channel %d", tool.ErrNoSignal, res.Edges, channel)
			}

			return g.write(cmd.OutOrStdout(), report{Decoder: "baud", Summary: []field{
				{"baudrate", res.BaudRate},
				{"exact", res.BaudRateExact},
				{"bitlength", res.BitLength},
				{"trustworthy", res.Trustworthy},
				{"edges", res.Edges},
				{"mean", res.Mean},
				{"stddev", res.StdDev},
			}})
		},
	}

	cmd.Flags().IntVarP(&channel, "channel", "c", 0, "channel to measure")
	cmd.Flags().Int64Var(&noiseFloor, "noise-floor", baud.DefaultConfig().NoiseFloor, "ignore pulses shorter than this many ticks")
	return cmd
}
