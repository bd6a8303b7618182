// Package retry wraps task attempts with a fixed-delay retry policy and a
// feedback trail. Every failed attempt is recorded in a Feedback accumulator
// so the next attempt, or a later phase, can hand the failure history back to
// the task executor as input context.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts bounds how often a wrapped operation runs.
	DefaultMaxAttempts = 3

	// DefaultDelay is the fixed wait between attempts.
	DefaultDelay = 10 * time.Second
)

// Feedback accumulates failure lines across attempts. The zero value is
// ready to use. It is safe for concurrent use.
type Feedback struct {
	mu    sync.Mutex
	lines []string
}

// Append adds one line to the trail.
func (f *Feedback) Append(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
}

// Lines returns a copy of the accumulated lines in append order.
func (f *Feedback) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// String joins the trail into one newline-separated block for task input.
func (f *Feedback) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.lines, "\n")
}

// Empty reports whether anything has been recorded.
func (f *Feedback) Empty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines) == 0
}

// Options configures one retried operation.
type Options struct {
	// MaxAttempts is the total number of tries, minimum 1. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int

	// Delay is the fixed wait between attempts. Zero means DefaultDelay.
	Delay time.Duration

	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything. A non-retryable error surfaces immediately and
	// leaves no trace in the feedback trail.
	Retryable func(error) bool

	// Feedback receives the failure trail. When nil one is created, so
	// operations can always assume it is present.
	Feedback *Feedback

	// Logger reports attempt failures. Nil disables logging.
	Logger *zap.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxAttempts < 1 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.Delay <= 0 {
		out.Delay = DefaultDelay
	}
	if out.Feedback == nil {
		out.Feedback = &Feedback{}
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}

// Operation is one attempt of the wrapped work. The feedback trail is empty
// on the first attempt and carries every earlier failure afterwards.
type Operation[T any] func(ctx context.Context, fb *Feedback) (T, error)

// Do runs op until it succeeds, the attempts are exhausted, the error is not
// retryable, or ctx is cancelled. Cancellation always wins over the retry
// delay.
//
// Each retryable failure appends "Attempt N failed: <error>" to the trail
// before the delay. When the last attempt fails, "Final error: <error>" is
// appended as well and the last error is returned. The returned Feedback is
// the one from opts, or the transparently created one.
func Do[T any](ctx context.Context, name string, opts Options, op Operation[T]) (T, *Feedback, error) {
	o := opts.withDefaults()
	fb := o.Feedback

	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.Delay), uint64(o.MaxAttempts-1)),
		ctx,
	)

	out, err := backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := op(ctx, fb)
		if err == nil {
			return v, nil
		}
		if o.Retryable != nil && !o.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		fb.Append(fmt.Sprintf("Attempt %d failed: %v", attempt, err))
		o.Logger.Warn("attempt failed",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.MaxAttempts),
			zap.Error(err))
		return v, err
	}, policy)

	if err == nil {
		return out, fb, nil
	}

	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancelled between attempts. The trail keeps what already ran.
	case o.Retryable != nil && !o.Retryable(err):
		// Non-retryable errors surface without a trail entry.
	default:
		fb.Append(fmt.Sprintf("Final error: %v", err))
		o.Logger.Error("all attempts failed",
			zap.String("operation", name),
			zap.Int("attempts", attempt),
			zap.Error(err))
	}
	return out, fb, err
}
