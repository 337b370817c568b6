package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/flowop/pkg/schema"
)

// DefaultBackoffMultiplier is used when a policy enables exponential
// backoff without setting one.
const DefaultBackoffMultiplier = 2.0

// ComputeBackoff calculates the sleep before the attempt following failed
// attempt k (1-based). With exponential backoff the delay is
// base · multiplier^(k-1); otherwise it is the base interval.
func ComputeBackoff(policy *schema.RetryPolicy, failedAttempt int) time.Duration {
	if policy == nil || policy.RetryIntervalMs <= 0 {
		return 0
	}

	base := time.Duration(policy.RetryIntervalMs) * time.Millisecond
	if !policy.ExponentialBackoff {
		return base
	}

	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = DefaultBackoffMultiplier
	}

	delay := float64(base)
	for i := 1; i < failedAttempt; i++ {
		delay *= multiplier
	}
	return time.Duration(delay)
}

// WaitForBackoff sleeps for the given delay or returns early when the
// context is cancelled. Returns the context error on cancellation.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryable classifies whether a step body error should participate in
// retry. Every failure retries up to the policy bound except cancellation,
// which means the workflow is shutting down; typed FlowErrors consult
// their own code.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}
	return true
}
