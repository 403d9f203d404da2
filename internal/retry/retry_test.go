package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep captures requested waits without blocking
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return s.err
}

func TestPolicyDelay(t *testing.T) {
	p := &Policy{BaseDelay: 60 * time.Second, Multiplier: 2}

	assert.Equal(t, 60*time.Second, p.Delay(0))
	assert.Equal(t, 120*time.Second, p.Delay(1))
	assert.Equal(t, 240*time.Second, p.Delay(2))

	p.MaxDelay = 90 * time.Second
	assert.Equal(t, 90*time.Second, p.Delay(2))
}

func TestRunner_SucceedsFirstAttempt(t *testing.T) {
	s := &recordingSleep{}
	r := NewRunner(&Policy{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2}, s.sleep)

	result := r.Run(context.Background(), func(ctx context.Context, attempt int) error {
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, s.waits)
}

func TestRunner_SucceedsOnSecondRetry(t *testing.T) {
	s := &recordingSleep{}
	r := NewRunner(&Policy{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2}, s.sleep)

	result := r.Run(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("provider down")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.waits)
}

func TestRunner_ExhaustsRetries(t *testing.T) {
	s := &recordingSleep{}
	r := NewRunner(&Policy{MaxRetries: 3, BaseDelay: time.Second, Multiplier: 2}, s.sleep)

	calls := 0
	result := r.Run(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("still down")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, s.waits)
	require.Error(t, result.LastError)
	assert.Equal(t, "still down", result.LastError.Error())
}

func TestRunner_ZeroRetries(t *testing.T) {
	s := &recordingSleep{}
	r := NewRunner(&Policy{MaxRetries: 0, BaseDelay: time.Second}, s.sleep)

	result := r.Run(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, s.waits)
}

func TestRunner_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	s := &recordingSleep{}
	r := NewRunner(&Policy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
	}, s.sleep)

	result := r.Run(context.Background(), func(ctx context.Context, attempt int) error {
		return permanent
	})

	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, permanent)
}

func TestRunner_CancelledDuringWait(t *testing.T) {
	s := &recordingSleep{err: context.Canceled}
	r := NewRunner(&Policy{MaxRetries: 3, BaseDelay: time.Second}, s.sleep)

	result := r.Run(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_DoWrapsLastError(t *testing.T) {
	boom := errors.New("boom")
	s := &recordingSleep{}
	r := NewRunner(&Policy{MaxRetries: 1, BaseDelay: time.Second}, s.sleep)

	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, []time.Duration{time.Second}, s.waits)
}

func TestRunner_DoSucceeds(t *testing.T) {
	r := NewRunner(&Policy{MaxRetries: 2, BaseDelay: time.Second}, (&recordingSleep{}).sleep)

	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestNewRunner_NilPolicyMakesOneAttempt(t *testing.T) {
	s := &recordingSleep{}
	r := NewRunner(nil, s.sleep)

	result := r.Run(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	})

	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, s.waits)
}
