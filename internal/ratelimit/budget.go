// Package ratelimit coordinates the Terra request budget across every process
// that talks to the API (server, one-shot fetch CLI) through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wearable-sync/internal/logging"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 300 // requests per window
	DefaultReservedBudget = 60  // reserved for on-demand fetches
	DefaultWindowSize     = time.Minute
)

// Redis key prefixes for request tracking.
const (
	KeyPrefixTotal    = "terra:budget:total:"
	KeyPrefixReserved = "terra:budget:reserved:"
	KeyPrefixShared   = "terra:budget:shared:"
)

// Priority selects the budget pool a request draws from.
type Priority int

const (
	// PriorityLow is for scheduled and batch fetches (shared pool).
	PriorityLow Priority = iota
	// PriorityHigh is for user-triggered fetches (reserved pool).
	PriorityHigh
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority marks every Terra request made under ctx with p
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the priority set by WithPriority, or PriorityLow
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityLow
}

// consumeScript atomically checks both the total and the pool counter
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local n = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + n > totalBudget or poolUsed + n > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, n)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, n)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + n, poolUsed + n}
`)

// RequestBudget is a fixed-window request budget with a reserved pool for
// high-priority requests and a shared pool for everything else.
type RequestBudget struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	logger         *logging.Logger
}

// BudgetConfig holds configuration for the request budget.
type BudgetConfig struct {
	// Redis is required; the budget is shared through it.
	Redis          redis.Cmdable
	TotalBudget    int
	ReservedBudget int
	WindowSize     time.Duration

	// Now and Sleep are injectable for tests
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Usage contains the consumption of the current window.
type Usage struct {
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// Validate checks if the configuration is valid.
func (c *BudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	total, reserved := c.budgets()
	if reserved >= total {
		return fmt.Errorf("reserved budget (%d) must be below total budget (%d)", reserved, total)
	}
	return nil
}

func (c *BudgetConfig) budgets() (total, reserved int) {
	total, reserved = c.TotalBudget, c.ReservedBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	return total, reserved
}

// NewRequestBudget creates a new budget with the given configuration.
func NewRequestBudget(cfg *BudgetConfig) (*RequestBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total, reserved := cfg.budgets()
	windowSize := cfg.WindowSize
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &RequestBudget{
		redis:          cfg.Redis,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     windowSize,
		now:            now,
		sleep:          sleep,
		logger:         logging.GetGlobalLogger().Component("ratelimit"),
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// windowStart returns the start of the current window
func (b *RequestBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

// keys returns the Redis keys for the window starting at start
func (b *RequestBudget) keys(start time.Time) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(start.UnixMilli(), 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume takes n requests from the pool of priority. When the budget is
// exhausted it returns false and the time until the next window.
func (b *RequestBudget) TryConsume(ctx context.Context, n int, priority Priority) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	poolKey, poolBudget := sharedKey, b.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, b.reservedBudget
	}

	ttlSeconds := int((2 * b.windowSize).Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
		n, b.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("consume request budget: %w", err)
	}
	if result[0] == 1 {
		return true, 0, nil
	}
	return false, b.untilNextWindow(start), nil
}

func (b *RequestBudget) untilNextWindow(start time.Time) time.Duration {
	wait := start.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	// land inside the next window
	return wait + time.Millisecond
}

// Wait blocks until one request is granted for the priority carried by ctx.
// A Redis failure lets the request through; the client's local limiter
// still applies.
func (b *RequestBudget) Wait(ctx context.Context) error {
	priority := PriorityFromContext(ctx)
	for {
		allowed, wait, err := b.TryConsume(ctx, 1, priority)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.WithError(err).Warn("Request budget unavailable, continuing without it")
			return nil
		}
		if allowed {
			return nil
		}

		b.logger.WithFields(map[string]interface{}{
			"priority": priority.String(),
			"wait":     wait.String(),
		}).Debug("Request budget exhausted, waiting for next window")
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Usage returns the consumption of the current window.
func (b *RequestBudget) Usage(ctx context.Context) (*Usage, error) {
	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)

	// missing keys come back as redis.Nil and count as zero
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read request budget: %w", err)
	}

	return &Usage{
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    b.totalBudget,
		ReservedBudget: b.reservedBudget,
		SharedBudget:   b.sharedBudget,
		WindowStart:    start,
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// Available returns the requests left in the pool of priority.
func (b *RequestBudget) Available(ctx context.Context, priority Priority) (int, error) {
	usage, err := b.Usage(ctx)
	if err != nil {
		return 0, err
	}

	available := usage.SharedBudget - usage.SharedUsed
	if priority == PriorityHigh {
		available = usage.ReservedBudget - usage.ReservedUsed
	}
	if total := usage.TotalBudget - usage.TotalUsed; total < available {
		available = total
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}
