// Package retry runs an operation a bounded number of times, classifying each
// failure to decide whether another attempt is worthwhile.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// State describes the attempt in progress. It lives only for one Do call.
type State struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

// Last reports whether this is the final permitted attempt
func (s State) Last() bool {
	return s.Attempt >= s.MaxAttempts
}

// Policy is a bounded retry policy.
//
// A Multiplier of 1 or less yields a fixed delay between attempts; otherwise the
// delay grows by Multiplier after each failure and is capped at MaxDelay.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration

	// Retryable classifies a failure. Nil means every error is retried.
	Retryable func(error) bool
	// OnRetry is called before sleeping; State.Delay is the upcoming sleep.
	OnRetry func(state State, err error)
}

// Fixed returns a policy with a constant delay between attempts
func Fixed(attempts int, delay time.Duration, retryable func(error) bool) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: delay, Multiplier: 1, Retryable: retryable}
}

// Exponential returns a doubling policy capped at maxDelay
func Exponential(attempts int, delay, maxDelay time.Duration, retryable func(error) bool) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: delay, Multiplier: 2, MaxDelay: maxDelay, Retryable: retryable}
}

// Do runs op until it succeeds, returns a non-retryable error, or the attempts
// are exhausted. The error of the last attempt is returned unchanged. There is
// no limit on total elapsed time; only MaxAttempts and ctx end the loop.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, state State) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := p.newBackOff()
	state := State{MaxAttempts: maxAttempts}

	operation := func() (struct{}, error) {
		state.Attempt++
		err := op(ctx, state)
		if err == nil {
			return struct{}{}, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, next time.Duration) {
		state.Delay = next
		if p.OnRetry != nil {
			p.OnRetry(state, err)
		}
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

func (p Policy) newBackOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		return &backoff.ConstantBackOff{Interval: p.InitialDelay}
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = p.InitialDelay
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         maxDelay,
	}
}

// Sleep waits for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
