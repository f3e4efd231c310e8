package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/bus"
)

// Task is a decoder bound to its inputs.
type Task[T any] interface {
	Name() string
	Run(ctx context.Context, progress func(percent int)) (T, error)
}

type funcTask[T any] struct {
	name string
	fn   func(context.Context, func(int)) (T, error)
}

func (t funcTask[T]) Name() string { return t.name }

func (t funcTask[T]) Run(ctx context.Context, progress func(int)) (T, error) {
	return t.fn(ctx, progress)
}

// NewTask wraps fn as a Task.
func NewTask[T any](name string, fn func(ctx context.Context, progress func(percent int)) (T, error)) Task[T] {
	return funcTask[T]{name: name, fn: fn}
}

// AnnotationCounter is implemented by results that know how many
// annotations their run produced.
type AnnotationCounter interface {
	AnnotationCount() int
}

// RunInfo identifies a run.
type RunInfo struct {
	ID      string
	Task    string
	Started time.Time
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunInfo
	Elapsed     time.Duration
	Annotations int
	Err         error
}

// Observer is notified of run lifecycle transitions.
type Observer interface {
	RunStarted(info RunInfo)
	RunFinished(res RunResult)
}

// State is a run lifecycle state.
type State string

const (
	StateStarted   State = "started"
	StateFinished  State = "finished"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Lifecycle is published on TopicLifecycle at every state change.
type Lifecycle struct {
	RunID string
	Task  string
	State State
	Err   error
}

// ProgressEvent is published on TopicProgress when the percentage grows.
type ProgressEvent struct {
	RunID   string
	Percent int
}

var (
	TopicLifecycle = bus.NewTopic[Lifecycle]("tool.lifecycle")
	TopicProgress  = bus.NewTopic[ProgressEvent]("tool.progress")
)

// Option configures a Runner.
type Option func(*options)

type options struct {
	timeout   time.Duration
	bus       *bus.Bus
	observers []Observer
	log       zerolog.Logger
}

// WithTimeout cancels runs that take longer than d.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBus publishes lifecycle and progress events on b.
func WithBus(b *bus.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithObserver adds a lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLogger sets the logger used for lifecycle diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Runner executes one task at a time on a background goroutine.
type Runner[T any] struct {
	opts options

	mu      sync.Mutex
	running bool
	started bool
	info    RunInfo
	cancel  context.CancelFunc
	done    chan struct{}
	result  T
	err     error

	progress atomic.Int32
}

// NewRunner returns an idle runner.
func NewRunner[T any](opts ...Option) *Runner[T] {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner[T]{opts: o}
}

// Start launches task and returns the run id. It fails with
// ErrAlreadyRunning while a previous run is still in progress.
func (r *Runner[T]) Start(ctx context.Context, task Task[T]) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return "", fmt.Errorf("%w: run %s", ErrAlreadyRunning, r.info.ID)
	}

	var cancel context.CancelFunc
	if r.opts.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.opts.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	var zero T
	r.running = true
	r.started = true
	r.info = RunInfo{ID: uuid.NewString(), Task: task.Name(), Started: time.Now()}
	r.cancel = cancel
	r.done = make(chan struct{})
	r.result, r.err = zero, nil
	r.progress.Store(0)

	info := r.info
	done := r.done
	log := r.opts.log.With().Str("run", info.ID).Str("task", info.Task).Logger()

	log.Debug().Msg("run started")
	for _, obs := range r.opts.observers {
		obs.RunStarted(info)
	}
	bus.Publish(r.opts.bus, TopicLifecycle, Lifecycle{RunID: info.ID, Task: info.Task, State: StateStarted})

	go r.run(ctx, cancel, task, info, done, log)
	return info.ID, nil
}

func (r *Runner[T]) run(ctx context.Context, cancel context.CancelFunc, task Task[T], info RunInfo, done chan struct{}, log zerolog.Logger) {
	defer close(done)
	defer cancel()

	res, err := task.Run(ctx, func(pct int) { r.setProgress(info.ID, pct) })
	if err != nil {
		var zero T
		res = zero
		if !errors.Is(err, ErrCancelled) && ctx.Err() != nil &&
			(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	} else {
		r.setProgress(info.ID, 100)
	}

	elapsed := time.Since(info.Started)
	state := StateFinished
	switch {
	case errors.Is(err, ErrCancelled):
		state = StateCancelled
	case err != nil:
		state = StateFailed
	}

	r.mu.Lock()
	r.result, r.err = res, err
	r.running = false
	r.mu.Unlock()

	rr := RunResult{RunInfo: info, Elapsed: elapsed, Err: err}
	if c, ok := any(res).(AnnotationCounter); ok && err == nil {
		rr.Annotations = c.AnnotationCount()
	}

	log.Debug().Str("state", string(state)).Dur("elapsed", elapsed).Err(err).Msg("run finished")
	for _, obs := range r.opts.observers {
		obs.RunFinished(rr)
	}
	bus.Publish(r.opts.bus, TopicLifecycle, Lifecycle{RunID: info.ID, Task: info.Task, State: state, Err: err})
}

// Cancel requests termination of the current run. The task observes the
// request at its next progress update.
func (r *Runner[T]) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRunning
	}
	r.cancel()
	return nil
}

// Join waits for the current or last run and returns its result. A
// cancelled run yields ErrCancelled and the zero T.
func (r *Runner[T]) Join() (T, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		var zero T
		return zero, ErrNotRunning
	}
	done := r.done
	r.mu.Unlock()

	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Run starts task and waits for it.
func (r *Runner[T]) Run(ctx context.Context, task Task[T]) (T, error) {
	if _, err := r.Start(ctx, task); err != nil {
		var zero T
		return zero, err
	}
	return r.Join()
}

// Running reports whether a run is in progress.
func (r *Runner[T]) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Info returns the identity of the current or last run.
func (r *Runner[T]) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// Progress returns the completion percentage of the current or last run.
func (r *Runner[T]) Progress() int {
	return int(r.progress.Load())
}

func (r *Runner[T]) setProgress(id string, pct int) {
	pct = min(max(pct, 0), 100)
	for {
		cur := r.progress.Load()
		if int32(pct) <= cur {
			return
		}
		if r.progress.CompareAndSwap(cur, int32(pct)) {
			break
		}
	}
	bus.Publish(r.opts.bus, TopicProgress, ProgressEvent{RunID: id, Percent: pct})
}
