// Package retry runs an operation under a bounded attempt policy.
//
// The same Policy drives both the per-row store transaction (a few short
// fixed pauses) and the queue-level job redelivery (long, growing pauses);
// only the parameters differ.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Classifier reports whether a failed attempt may succeed if tried again.
type Classifier func(err error) bool

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy bounds how many times an operation runs and how long to wait
// between runs. A nil Retryable treats every error as retryable.
type Policy struct {
	MaxAttempts int
	Delays      []time.Duration
	Retryable   Classifier
	Sleep       Sleeper
}

// Fixed returns a policy that waits the same delay after every failed attempt.
func Fixed(maxAttempts int, delay time.Duration, retryable Classifier) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delays:      []time.Duration{delay},
		Retryable:   retryable,
	}
}

// Schedule returns a policy whose n-th retry waits delays[n-1]; the last
// delay repeats once the schedule runs out.
func Schedule(maxAttempts int, delays ...time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delays:      append([]time.Duration(nil), delays...),
	}
}

// Delay returns the pause that follows failed attempt number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	idx := min(attempt-1, len(p.Delays)-1)
	if p.Delays[idx] < 0 {
		return 0
	}
	return p.Delays[idx]
}

// ShouldRetry reports whether another attempt follows failed attempt number attempt.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if attempt >= p.maxAttempts() {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned unchanged so callers
// can still classify it.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !p.ShouldRetry(attempt, err) {
			return err
		}

		if sleepErr := sleep(ctx, p.Delay(attempt)); sleepErr != nil {
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, errors.Join(err, sleepErr))
		}
	}
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
