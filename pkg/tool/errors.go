package tool

import (
	"context"
	"errors"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/capture"
)

var (
	// ErrInvalidConfig reports a decoder configuration that cannot run.
	ErrInvalidConfig = errors.New("tool: invalid configuration")
	// ErrNoSignal reports that auto-baud found too few edges to decide.
	ErrNoSignal = errors.New("tool: no signal")
	// ErrCancelled reports a run stopped by Cancel or a timeout.
	ErrCancelled = errors.New("tool: cancelled")
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("tool: already running")
	// ErrNotRunning is returned by Cancel and Join without a run.
	ErrNotRunning = errors.New("tool: not running")
)

// Kind is the closed set of failure classes a run can end with.
type Kind string

const (
	KindOutOfRange     Kind = "OUT_OF_RANGE"
	KindInvalidConfig  Kind = "INVALID_CONFIG"
	KindNoSignal       Kind = "NO_SIGNAL"
	KindRangeEmpty     Kind = "RANGE_EMPTY"
	KindCancelled      Kind = "CANCELLED"
	KindAlreadyRunning Kind = "ALREADY_RUNNING"
	KindNotRunning     Kind = "NOT_RUNNING"
	KindUnknown        Kind = "UNKNOWN"
)

var kindErrors = []struct {
	err  error
	kind Kind
}{
	{ErrCancelled, KindCancelled},
	{context.Canceled, KindCancelled},
	{context.DeadlineExceeded, KindCancelled},
	{ErrInvalidConfig, KindInvalidConfig},
	{capture.ErrInvalid, KindInvalidConfig},
	{ErrNoSignal, KindNoSignal},
	{capture.ErrRangeEmpty, KindRangeEmpty},
	{capture.ErrOutOfRange, KindOutOfRange},
	{ErrAlreadyRunning, KindAlreadyRunning},
	{ErrNotRunning, KindNotRunning},
}

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return ke.kind
		}
	}
	return KindUnknown
}
