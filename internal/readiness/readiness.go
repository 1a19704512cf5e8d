// Package readiness blocks until a freshly started daemon answers its control
// interface.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mvp-joe/nodefixture/pkg/rpc"
)

// Defaults applied when Options fields are zero.
const (
	DefaultInterval = 100 * time.Millisecond
	DefaultTimeout  = 15 * time.Second
)

// maxEarlyWakes caps the checks triggered by wake-ups between two ticks.
const maxEarlyWakes = 3

// ErrExited is returned when the watched process exits before becoming ready.
var ErrExited = errors.New("process exited before becoming ready")

// Probe performs one readiness check.
type Probe func(ctx context.Context) error

// Options control Wait.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration

	// Exited aborts the wait with ErrExited once closed.
	Exited <-chan struct{}

	// WatchDir, when set, wakes the prober early when files are created
	// under the directory (e.g. the daemon writing its cookie). Early
	// wake-ups are capped per interval.
	WatchDir string

	// Retryable classifies probe errors. Defaults to rpc.IsRetryable.
	Retryable func(error) bool
}

// TimeoutError reports that the probe never succeeded within the deadline.
type TimeoutError struct {
	Timeout time.Duration
	Last    error
}

func (e *TimeoutError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("not ready after %s", e.Timeout)
	}
	return fmt.Sprintf("not ready after %s: %v", e.Timeout, e.Last)
}

func (e *TimeoutError) Unwrap() error {
	return e.Last
}

// FatalError wraps a probe error that is not expected to clear by waiting.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("readiness probe failed: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Wait calls probe until it succeeds, returns a non-retryable error, the
// process exits, or the timeout elapses.
func Wait(ctx context.Context, probe Probe, opts Options) error {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retryable == nil {
		opts.Retryable = rpc.IsRetryable
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var wake <-chan struct{}
	if opts.WatchDir != "" {
		if w, err := watch(opts.WatchDir); err == nil {
			defer w.Close()
			wake = w.Wake()
		}
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	var last error
	armed, early := wake, 0
	for {
		if exited(opts.Exited) {
			return ErrExited
		}

		err := probe(waitCtx)
		if err == nil {
			return nil
		}

		if waitCtx.Err() == nil && !opts.Retryable(err) {
			// Connection errors race with process exit
			if exited(opts.Exited) {
				return ErrExited
			}
			return &FatalError{Err: err}
		}
		if waitCtx.Err() == nil || last == nil {
			last = err
		}

		select {
		case <-ticker.C:
			armed, early = wake, 0
		case <-armed:
			if early++; early >= maxEarlyWakes {
				armed = nil
			}
		case <-opts.Exited:
			return ErrExited
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TimeoutError{Timeout: opts.Timeout, Last: last}
		}
	}
}

func exited(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
