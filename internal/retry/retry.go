// Package retry runs an operation with exponential backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wearable-sync/internal/logging"
)

// Policy configures retry behavior. An operation gets one initial attempt
// plus up to MaxRetries further attempts; the wait before retry n (0-based)
// is BaseDelay * Multiplier^n, capped at MaxDelay when MaxDelay is set.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// Retryable decides whether a failure deserves another attempt.
	// Nil retries every failure.
	Retryable func(error) bool
}

// Delay returns the wait before the given 0-based retry
func (p *Policy) Delay(retry int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(retry))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-clock SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result describes how an operation run under a Policy ended
type Result struct {
	Attempts      int             `json:"attempts"`
	Success       bool            `json:"success"`
	Waits         []time.Duration `json:"waits,omitempty"`
	TotalDuration time.Duration   `json:"totalDuration"`
	LastError     error           `json:"-"`
}

// Func is one attempt; attempt is 1 for the initial call
type Func func(ctx context.Context, attempt int) error

// Runner executes Funcs under a Policy with an injectable sleep
type Runner struct {
	policy *Policy
	sleep  SleepFunc
}

// NewRunner creates a runner. A nil policy makes a single attempt and a
// nil sleep uses the real clock.
func NewRunner(policy *Policy, sleep SleepFunc) *Runner {
	if policy == nil {
		policy = &Policy{}
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Runner{policy: policy, sleep: sleep}
}

// Run executes fn until it succeeds, a failure is not retryable, retries are
// exhausted, or ctx is cancelled during a wait
func (r *Runner) Run(ctx context.Context, fn Func) *Result {
	logger := logging.FromContext(ctx)
	start := time.Now()
	result := &Result{}

	for retry := 0; ; retry++ {
		result.Attempts++
		err := fn(ctx, result.Attempts)
		if err == nil {
			result.Success = true
			result.LastError = nil
			if result.Attempts > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts": result.Attempts,
					"duration": time.Since(start).String(),
				}).Info("Operation succeeded after retry")
			}
			break
		}
		result.LastError = err

		if r.policy.Retryable != nil && !r.policy.Retryable(err) {
			logger.WithError(err).Debug("Failure is not retryable")
			break
		}
		if retry >= r.policy.MaxRetries {
			break
		}

		delay := r.policy.Delay(retry)
		result.Waits = append(result.Waits, delay)

		logger.WithFields(map[string]interface{}{
			"attempt":    result.Attempts,
			"maxRetries": r.policy.MaxRetries,
			"delay":      delay.String(),
			"error":      err.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			result.LastError = sleepErr
			break
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Do runs fn and returns the last error when it never succeeded
func (r *Runner) Do(ctx context.Context, fn Func) error {
	result := r.Run(ctx, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}
