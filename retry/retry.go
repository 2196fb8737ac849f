// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrInvalidMaxAttempts is returned when a policy allows no attempts.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)

// Policy declares how an operation is retried.
type Policy struct {
	// MaxAttempts counts the initial attempt.
	MaxAttempts int
	// BackoffBase is the delay before the second attempt; it doubles on each retry.
	BackoffBase time.Duration
	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration
	// PerAttemptTimeout bounds each attempt. Zero means no per-attempt deadline.
	PerAttemptTimeout time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for outbound calls unless configured otherwise.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		PerAttemptTimeout: 30 * time.Second,
	}
}

// Delay returns the backoff applied after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do runs operation until it succeeds, the attempts are exhausted or ctx is done.
// Each attempt receives a context bounded by PerAttemptTimeout; an attempt that
// runs out of time counts as an ordinary failure.
// Returns the error from the last attempt if all attempts fail.
func (p Policy) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = p.attempt(ctx, operation)
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", p.MaxAttempts, "error", lastErr)

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func (p Policy) attempt(ctx context.Context, operation func(ctx context.Context) error) error {
	if p.PerAttemptTimeout <= 0 {
		return operation(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.PerAttemptTimeout)
	defer cancel()
	return operation(attemptCtx)
}
