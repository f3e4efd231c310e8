// Package metrics exports decoder run statistics to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/tool"
)

// OutcomeOK labels runs that finished without error.
const OutcomeOK = "ok"

// Observer records run counts, durations and annotation totals per
// decoder. It implements tool.Observer.
type Observer struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	annotations *prometheus.CounterVec
	inFlight    prometheus.Gauge
}

var _ tool.Observer = (*Observer)(nil)

// New creates the collectors and registers them on reg. A collector that
// is already registered is reused.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "la_runs_total",
			Help: "Decoder runs by outcome.",
		}, []string{"decoder", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "la_run_duration_seconds",
			Help:    "Decoder run duration.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"decoder"}),
		annotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "la_annotations_total",
			Help: "Annotations produced by successful runs.",
		}, []string{"decoder"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "la_runs_in_flight",
			Help: "Decoder runs currently executing.",
		}),
	}

	var err error
	if o.runs, err = register(reg, o.runs); err != nil {
		return nil, err
	}
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, err
	}
	if o.annotations, err = register(reg, o.annotations); err != nil {
		return nil, err
	}
	if o.inFlight, err = register(reg, o.inFlight); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("metrics: register: %w", err)
	}
	return c, nil
}

// RunStarted implements tool.Observer.
func (o *Observer) RunStarted(tool.RunInfo) {
	o.inFlight.Inc()
}

// RunFinished implements tool.Observer.
func (o *Observer) RunFinished(res tool.RunResult) {
	o.inFlight.Dec()
	o.runs.WithLabelValues(res.Task, Outcome(res.Err)).Inc()
	o.duration.WithLabelValues(res.Task).Observe(res.Elapsed.Seconds())
	if res.Err == nil {
		o.annotations.WithLabelValues(res.Task).Add(float64(res.Annotations))
	}
}

// Outcome returns the label value for a run ending with err.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return strings.ToLower(string(tool.KindOf(err)))
}

// WriteText writes every la_ metric family gathered from g in the text
// exposition format, sorted by name.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	sort.Slice(mfs, func(i, j int) bool { return mfs[i].GetName() < mfs[j].GetName() })
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), "la_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
