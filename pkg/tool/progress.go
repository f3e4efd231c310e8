package tool

import (
	"context"
	"fmt"
	"runtime"
)

// YieldInterval is the number of updates between cooperative yields.
const YieldInterval = 65536

// Reporter turns a decoder's position into a monotone percentage and polls
// for cancellation. A nil *Reporter reports nothing and never cancels.
type Reporter struct {
	ctx     context.Context
	start   int64
	span    int64
	fn      func(int)
	percent int
	ticks   int
}

// NewReporter reports positions in [start, end] to fn, which may be nil.
func NewReporter(ctx context.Context, start, end int64, fn func(int)) *Reporter {
	span := end - start
	if span <= 0 {
		span = 1
	}
	r := &Reporter{ctx: ctx, start: start, span: span, fn: fn, percent: -1}
	r.set(0)
	return r
}

// Err returns ErrCancelled once the context is done.
func (r *Reporter) Err() error {
	if r == nil || r.ctx == nil {
		return nil
	}
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(r.ctx))
	default:
		return nil
	}
}

// Update records progress at pos and returns ErrCancelled when the run has
// been cancelled. Positions before the last reported one are ignored.
func (r *Reporter) Update(pos int64) error {
	if r == nil {
		return nil
	}
	if err := r.Err(); err != nil {
		return err
	}
	pct := int((pos - r.start) * 100 / r.span)
	r.set(min(max(pct, 0), 99))

	r.ticks++
	if r.ticks >= YieldInterval {
		r.ticks = 0
		runtime.Gosched()
	}
	return nil
}

// Done reports 100 percent.
func (r *Reporter) Done() {
	if r != nil {
		r.set(100)
	}
}

// Percent returns the last reported value.
func (r *Reporter) Percent() int {
	if r == nil {
		return 0
	}
	return max(r.percent, 0)
}

func (r *Reporter) set(pct int) {
	if pct <= r.percent {
		return
	}
	r.percent = pct
	if r.fn != nil {
		r.fn(pct)
	}
}
