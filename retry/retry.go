// Package retry provides exponential backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Sentinel errors.
var (
	// ErrNotRetryable stops retrying when wrapped around a cause.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrExhausted is returned when every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")
)

// Config controls attempt count and backoff. The zero value retries
// three times starting at 100ms with a 2x multiplier, capped at 30s.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration

	// Multiplier grows the backoff after each retry.
	Multiplier float64

	// Jitter in [0,1] randomizes each backoff by that fraction.
	Jitter float64

	// IsRetryable decides whether an error is worth another attempt.
	// Nil defaults to DefaultIsRetryable.
	IsRetryable func(error) bool
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Jitter > 1 {
		c.Jitter = 1
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	return c
}

// Error reports the outcome of a failed run.
type Error struct {
	// Cause is the last error the function returned.
	Cause error

	// Attempts is how many times the function ran.
	Attempts int

	// Reason is ErrExhausted, ErrNotRetryable, or a context error.
	Reason error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: %d attempts (%v): %v", e.Attempts, e.Reason, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	return errors.Is(e.Reason, target) || errors.Is(e.Cause, target)
}

// Do runs fn until it succeeds, returns a non-retryable error, the
// context ends, or cfg.MaxRetries retries are spent.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return &Error{Cause: last, Attempts: attempt - 1, Reason: err}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !cfg.IsRetryable(last) {
			return &Error{Cause: last, Attempts: attempt, Reason: ErrNotRetryable}
		}
		if attempt > cfg.MaxRetries {
			return &Error{Cause: last, Attempts: attempt, Reason: ErrExhausted}
		}

		select {
		case <-ctx.Done():
			return &Error{Cause: last, Attempts: attempt, Reason: ctx.Err()}
		case <-time.After(backoff(cfg, attempt-1)):
		}
	}
}

// DoWithResult is Do for functions that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var ferr error
		result, ferr = fn(ctx)
		return ferr
	})
	return result, err
}

// backoff computes the sleep before retry number attempt+1.
func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		spread := d * cfg.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

// DefaultIsRetryable treats errors as transient unless they carry an
// explicit Retryable() bool saying otherwise or wrap ErrNotRetryable.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRetryable) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// MarkNotRetryable flags an error as permanent.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{cause: err, retryable: false}
}

// MarkRetryable flags an error as transient.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{cause: err, retryable: true}
}

type marked struct {
	cause     error
	retryable bool
}

func (e *marked) Error() string   { return e.cause.Error() }
func (e *marked) Unwrap() error   { return e.cause }
func (e *marked) Retryable() bool { return e.retryable }
