// Package retry is the single retry-with-backoff wrapper used by every
// remote call site. Failures are classified by a caller-supplied function:
// transient failures are retried with doubling delay, permanent failures
// return immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Class is the failure classification driving the retry decision.
type Class int

const (
	// Transient covers timeouts, busy/throttled responses and servers
	// that are temporarily unreachable.
	Transient Class = iota
	// Permanent covers auth failures, not-found and malformed requests.
	Permanent
)

// Classifier maps an operation error to a Class.
type Classifier func(err error) Class

// classified is implemented by remote errors that know their own class.
type classified interface {
	Transient() bool
}

// ClassifyError is the default classifier. Errors implementing
// Transient() bool classify themselves; everything else is permanent.
func ClassifyError(err error) Class {
	var c classified
	if errors.As(err, &c) && c.Transient() {
		return Transient
	}
	return Permanent
}

// ExhaustedError reports that all attempts were spent on transient
// failures. Distinct from a single-attempt permanent failure so callers
// can tell "gave up" from "definitively rejected".
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Options parameterise one Do call.
type Options struct {
	Classifier   Classifier
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Logger       *zap.Logger
}

func (o *Options) defaults() {
	if o.Classifier == nil {
		o.Classifier = ClassifyError
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 2 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Do runs op until it succeeds, fails permanently, exhausts opts.MaxAttempts,
// or ctx is cancelled. The delay before attempt n+1 doubles from
// opts.InitialDelay and is capped at opts.MaxDelay.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	opts.defaults()

	delay := opts.InitialDelay
	var last error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		last = err

		if opts.Classifier(err) == Permanent {
			opts.Logger.Debug("permanent failure, not retrying",
				zap.Int("attempt", attempt), zap.Error(err))
			return zero, err
		}

		opts.Logger.Debug("transient failure",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxAttempts),
			zap.Duration("next_delay", delay),
			zap.Error(err))

		if attempt == opts.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}

	return zero, &ExhaustedError{Attempts: opts.MaxAttempts, Last: last}
}
