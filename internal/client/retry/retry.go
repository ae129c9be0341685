// Package retry runs fallible operations with exponential backoff and jitter.
//
// Do never returns an error past its boundary: every outcome, including the
// last error, is captured in a Result and callers branch on Success.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dmitrijs2005/notesync/internal/common"
)

// Options configure one retried call. Zero fields take the defaults.
type Options struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64

	// Retryable classifies failures; common.IsRetryable when nil.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Concurrency bounds Batch; zero means one goroutine per item.
	Concurrency int
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.3,
		Retryable:    common.IsRetryable,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.JitterFactor < 0 {
		o.JitterFactor = 0
	}
	if o.Retryable == nil {
		o.Retryable = d.Retryable
	}
	return o
}

// Result is the outcome of Do. Attempts counts calls made to the operation.
type Result[T any] struct {
	Success   bool
	Data      T
	Err       error
	Attempts  int
	TotalTime time.Duration
}

// Delay is the backoff before retry number attempt (1-based), given a
// uniform draw u in [0,1):
//
//	min(base*2^(attempt-1) * (1 + jitter*u), max)
func Delay(attempt int, o Options, u float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(o.BaseDelay) * math.Pow(2, float64(attempt-1))
	d := exp + exp*o.JitterFactor*u
	if d >= float64(o.MaxDelay) || math.IsInf(d, 0) {
		return o.MaxDelay
	}
	return time.Duration(d)
}

// jittered implements backoff.BackOff with the Delay formula.
type jittered struct {
	opts    Options
	attempt int
	rand    func() float64
}

func (b *jittered) NextBackOff() time.Duration {
	b.attempt++
	return Delay(b.attempt, b.opts, b.rand())
}

func (b *jittered) Reset() { b.attempt = 0 }

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts are used up, or ctx is done.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) Result[T] {
	opts = opts.withDefaults()
	start := time.Now()

	var (
		attempts int
		lastErr  error
	)
	op := func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !opts.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&jittered{opts: opts, rand: rand.Float64}),
		backoff.WithMaxTries(uint(opts.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if opts.OnRetry != nil {
				opts.OnRetry(attempts, err, next)
			}
		}),
	)

	res := Result[T]{Attempts: attempts, TotalTime: time.Since(start)}
	if err == nil {
		res.Success = true
		res.Data = data
		return res
	}

	res.Err = lastErr
	if lastErr == nil {
		res.Err = err
	} else if cerr := ctx.Err(); cerr != nil && !errors.Is(lastErr, cerr) {
		res.Err = errors.Join(cerr, lastErr)
	}
	return res
}

// Unwrap returns the Result in Go's (value, error) shape.
func (r Result[T]) Unwrap() (T, error) {
	return r.Data, r.Err
}
