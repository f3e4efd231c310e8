package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

type edgeInfo struct {
	Timestamp int64  `json:"timestamp"`
	Edge      string `json:"edge"`
	Level     bool   `json:"level"`
}

func newEdgesCmd(g *globals) *cobra.Command {
	var (
		channel int
		from    int64
		to      int64
		limit   int
		around  int64
	)

	cmd := &cobra.Command{
		Use:   "edges",
		Short: "List the transitions of a channel",
		Long: `List the transitions of a channel between two timestamps, or the
edges nearest to a timestamp with --around.

Examples:
  la edges --csv cap.csv --channel 0
  la edges --csv cap.csv --channel 0 --from 100 --to 2000 --limit 10
  la edges --csv cap.csv --channel 0 --around 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.loadCapture()
			if err != nil {
				return err
			}
			if channel < 0 || channel >= c.ChannelCount() {
				return fmt.Errorf("%w: channel %d not in 0..%d", tool.ErrInvalidConfig, channel, c.ChannelCount()-1)
			}
			out := cmd.OutOrStdout()

			if cmd.Flags().Changed("around") {
				prev, okPrev := c.TryEdgeBefore(channel, around)
				next, okNext := c.TryEdgeAfter(channel, around)
				if g.format == formatJSON {
					res := map[string]any{}
					if okPrev {
						res["before"] = prev
					}
					if okNext {
						res["after"] = next
					}
					return json.NewEncoder(out).Encode(res)
				}
				if okPrev {
					fmt.Fprintf(out, "before: %d\n", prev)
				}
				if okNext {
					fmt.Fprintf(out, "after:  %d\n", next)
				}
				return nil
			}

			if !cmd.Flags().Changed("to") {
				to = c.AbsoluteLength()
			}
			var edges []edgeInfo
			it := c.Edges(channel, from, to)
			for ev, ok := it.Next(); ok; ev, ok = it.Next() {
				if limit > 0 && len(edges) == limit {
					break
				}
				edges = append(edges, edgeInfo{Timestamp: ev.Timestamp, Edge: ev.Edge.String(), Level: ev.Level})
			}

			if g.format == formatJSON {
				if edges == nil {
					edges = []edgeInfo{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(edges)
			}
			for _, e := range edges {
				fmt.Fprintf(out, "%10d %s\n", e.Timestamp, e.Edge)
			}
			fmt.Fprintf(out, "%d edge(s)\n", len(edges))
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&channel, "channel", "c", 0, "channel to scan")
	f.Int64Var(&from, "from", 0, "first timestamp")
	f.Int64Var(&to, "to", 0, "last timestamp (default end of capture)")
	f.IntVar(&limit, "limit", 0, "stop after this many edges (0 for all)")
	f.Int64Var(&around, "around", 0, "show the edges nearest to this timestamp")
	return cmd
}
