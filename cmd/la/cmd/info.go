package cmd

import (
	"encoding/json"
	"fmt"
	"math/bits"

	"github.com/spf13/cobra"
)

// CaptureInfo is the summary printed by la info.
type CaptureInfo struct {
	Samples        int           `json:"samples"`
	SampleRate     int           `json:"sample_rate"`
	AbsoluteLength int64         `json:"absolute_length"`
	Trigger        *int64        `json:"trigger,omitempty"`
	Channels       []ChannelInfo `json:"channels"`
}

// ChannelInfo describes one channel of the capture.
type ChannelInfo struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Transitions int    `json:"transitions"`
}

func newInfoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Summarize a capture",
		Long: `Summarize a capture: its length, sample rate and the number of
transitions on each channel.

Examples:
  la info --csv cap.csv --sample-rate 1000000
  la info --csv cap.csv --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.loadCapture()
			if err != nil {
				return err
			}

			info := CaptureInfo{
				Samples:        c.Len(),
				SampleRate:     c.SampleRate(),
				AbsoluteLength: c.AbsoluteLength(),
			}
			if t, ok := c.TriggerPosition(); ok {
				info.Trigger = &t
			}

			transitions := make([]int, c.ChannelCount())
			vals := c.Values()
			for i := 1; i < len(vals); i++ {
				for d := vals[i] ^ vals[i-1]; d != 0; d &= d - 1 {
					if ch := bits.TrailingZeros32(d); ch < len(transitions) {
						transitions[ch]++
					}
				}
			}
			for _, ch := range c.Channels() {
				info.Channels = append(info.Channels, ChannelInfo{
					Index:       ch.Index,
					Name:        ch.Name(),
					Enabled:     ch.Enabled,
					Transitions: transitions[ch.Index],
				})
			}

			out := cmd.OutOrStdout()
			if g.format == formatJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Fprintf(out, "Samples:         %d\n", info.Samples)
			if info.SampleRate > 0 {
				fmt.Fprintf(out, "Sample rate:     %d Hz\n", info.SampleRate)
			} else {
				fmt.Fprintf(out, "Sample rate:     none (state capture)\n")
			}
			fmt.Fprintf(out, "Length:          %d\n", info.AbsoluteLength)
			if info.Trigger != nil {
				fmt.Fprintf(out, "Trigger:         %d\n", *info.Trigger)
			}
			fmt.Fprintf(out, "Channels:        %d\n", len(info.Channels))
			for _, ch := range info.Channels {
				state := "enabled"
				if !ch.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(out, "  %2d %-12s %-8s %d transitions\n", ch.Index, ch.Name, state, ch.Transitions)
			}
			return nil
		},
	}
}
