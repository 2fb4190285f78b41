package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Error classification. External failures are wrapped at the client
// boundary so the policy and the stages can route them without string
// matching in the engine.

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type authError struct{ err error }

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

type validationError struct{ err error }

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

// Transient marks an error as retryable (timeout, quota, 5xx)
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Auth marks an error as an authentication failure; never retried
func Auth(err error) error {
	if err == nil {
		return nil
	}
	return &authError{err: err}
}

// Validation marks a malformed or incomplete response; retried like a
// transient failure since generative services often succeed on re-request
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &validationError{err: err}
}

// IsTransient reports whether err carries the transient marker
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// IsAuth reports whether err carries the auth marker
func IsAuth(err error) bool {
	var a *authError
	return errors.As(err, &a)
}

// IsValidation reports whether err carries the validation marker
func IsValidation(err error) bool {
	var v *validationError
	return errors.As(err, &v)
}

// Policy computes whether and when a failed call should be retried.
// Delays grow exponentially from BaseDelay, capped at MaxDelay, with
// randomized jitter so concurrent batches don't retry in lockstep.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// rand source injectable for deterministic tests
	randFloat func() float64
}

// NewPolicy creates a retry policy with the given bounds
func NewPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *Policy {
	return &Policy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		randFloat:  rand.Float64,
	}
}

// ShouldRetry reports whether the attempt-th failure (0-based) warrants
// another try. Auth failures and context cancellation are never retried.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsAuth(err) {
		return false
	}
	return IsTransient(err) || IsValidation(err)
}

// Delay returns the backoff before retry number attempt (0-based):
// BaseDelay doubled per attempt, capped at MaxDelay, jittered +/-25%.
func (p *Policy) Delay(attempt int) time.Duration {
	backoff := p.BaseDelay << uint(attempt)
	if backoff > p.MaxDelay || backoff <= 0 {
		backoff = p.MaxDelay
	}

	rf := p.randFloat
	if rf == nil {
		rf = rand.Float64
	}
	jitter := 0.75 + rf()*0.5
	return time.Duration(float64(backoff) * jitter)
}

// Do runs fn, retrying per the policy. It sleeps between attempts and
// respects context cancellation during the wait. The last error is
// returned when retries are exhausted.
func (p *Policy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !p.ShouldRetry(err, attempt) {
			return err
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
