package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceLA/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLA/internal/metrics"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/annotation"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/asm45"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/manchester"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
	"github.com/OpenTraceLab/OpenTraceLA/pkg/uart"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// decoderNames are the profile sections la understands.
var decoderNames = []string{uart.Name, manchester.Name, asm45.Name}

// runTask executes task on a Runner honouring --timeout and --metrics and
// waits for it.
func runTask[T any](cmd *cobra.Command, g *globals, task tool.Task[T]) (T, *prometheus.Registry, error) {
	opts := []tool.Option{
		tool.WithTimeout(g.timeout),
		tool.WithLogger(logging.New("runner")),
	}

	var reg *prometheus.Registry
	if g.showMetrics {
		reg = prometheus.NewRegistry()
		obs, err := metrics.New(reg)
		if err != nil {
			var zero T
			return zero, nil, err
		}
		opts = append(opts, tool.WithObserver(obs))
	}

	res, err := tool.NewRunner[T](opts...).Run(cmd.Context(), task)
	return res, reg, err
}

// field is one summary line of a report.
type field struct {
	Key   string
	Value any
}

// report is what a decode command prints.
type report struct {
	Decoder string
	Summary []field
	Sink    *annotation.Sink
	Metrics *prometheus.Registry
}

type jsonReport struct {
	Decoder     string              `json:"decoder"`
	Summary     map[string]any      `json:"summary,omitempty"`
	Annotations []annotation.Record `json:"annotations,omitempty"`
}

func (g *globals) write(w io.Writer, r report) error {
	if g.format == formatJSON {
		out := jsonReport{Decoder: r.Decoder}
		if r.Sink != nil {
			out.Annotations = r.Sink.Records()
		}
		if len(r.Summary) > 0 {
			out.Summary = make(map[string]any, len(r.Summary))
			for _, f := range r.Summary {
				out.Summary[f.Key] = f.Value
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else {
		fmt.Fprintf(w, "%s\n", r.Decoder)
		for _, f := range r.Summary {
			fmt.Fprintf(w, "  %s: %v\n", f.Key, f.Value)
		}
		if r.Sink != nil {
			for _, m := range r.Sink.Metadata() {
				fmt.Fprintf(w, "%s\n", m)
			}
			for _, a := range r.Sink.Ordered() {
				fmt.Fprintf(w, "%s\n", a)
			}
		}
	}

	if r.Metrics != nil {
		return metrics.WriteText(w, r.Metrics)
	}
	return nil
}
