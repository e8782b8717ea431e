package retrier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	minMaxAttempts = 1
	minBaseDelay   = time.Millisecond
	minFactor      = 1.0
	maxJitter      = 1.0
)

// ExponentialBackoff multiplies the delay by Factor after each attempt.
// LinearBackoff grows the delay by BaseDelay after each attempt.
// FibonacciBackoff follows the Fibonacci sequence scaled by BaseDelay.
const (
	ExponentialBackoff BackoffStrategy = iota
	LinearBackoff
	FibonacciBackoff
)

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay is returned when the base delay parameter is invalid.
	ErrInvalidBaseDelay = errors.New("base delay must be at least 1ms")
	// ErrInvalidFactor is returned when the factor parameter is invalid.
	ErrInvalidFactor = errors.New("factor must be at least 1.0")
	// ErrInvalidJitter is returned when the jitter parameter is invalid.
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
)

// BackoffStrategy selects how delays grow between attempts.
type BackoffStrategy int

// Settings configures a Retrier.
type Settings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64
	Strategy    BackoffStrategy
	// Retryable decides whether an error is worth another attempt. Defaults to IsTemporary.
	Retryable func(error) bool
}

// DefaultSettings retries temporary failures three times with a short exponential backoff.
func DefaultSettings() Settings {
	return Settings{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Factor:      2,
		Jitter:      0.1,
		Strategy:    ExponentialBackoff,
	}
}

// Retrier runs a function until it succeeds, fails permanently, or runs out of attempts.
type Retrier struct {
	settings  Settings
	fibonacci []time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// New validates s and creates a Retrier.
func New(s Settings) (*Retrier, error) {
	if s.MaxAttempts < minMaxAttempts {
		return nil, ErrInvalidMaxAttempts
	}
	if s.BaseDelay < minBaseDelay {
		return nil, ErrInvalidBaseDelay
	}
	if s.Factor < minFactor {
		return nil, ErrInvalidFactor
	}
	if s.Jitter < 0 || s.Jitter > maxJitter {
		return nil, ErrInvalidJitter
	}
	if s.MaxDelay < s.BaseDelay {
		s.MaxDelay = s.BaseDelay
	}
	if s.Retryable == nil {
		s.Retryable = IsTemporary
	}

	r := &Retrier{
		settings: s,
		sleep:    sleepContext,
	}
	if s.Strategy == FibonacciBackoff {
		r.fibonacci = fibonacciTable(s.MaxAttempts, s.BaseDelay, s.MaxDelay)
	}
	return r, nil
}

// Run executes fn, retrying retryable errors with backoff.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.settings.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctxErr, err)
			}
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !r.settings.Retryable(err) {
			return err
		}
		if attempt == r.settings.MaxAttempts-1 {
			break
		}

		if sleepErr := r.sleep(ctx, r.delay(attempt)); sleepErr != nil {
			return fmt.Errorf("%w (last error: %v)", sleepErr, err)
		}
	}

	return fmt.Errorf("max retry attempts reached: %w", err)
}

// delay computes the wait before the attempt following attempt.
func (r *Retrier) delay(attempt int) time.Duration {
	s := r.settings
	var d float64

	switch s.Strategy {
	case LinearBackoff:
		d = float64(s.BaseDelay) * float64(attempt+1)
	case FibonacciBackoff:
		d = float64(r.fibonacci[attempt])
	default:
		d = float64(s.BaseDelay) * math.Pow(s.Factor, float64(attempt))
	}

	if d > float64(s.MaxDelay) {
		d = float64(s.MaxDelay)
	}
	d += rand.Float64() * s.Jitter * d
	return time.Duration(d)
}

func fibonacciTable(n int, base, limit time.Duration) []time.Duration {
	table := make([]time.Duration, 0, n+1)
	prev, cur := time.Duration(0), base
	for len(table) < n {
		table = append(table, cur)
		prev, cur = cur, prev+cur
		if cur > limit {
			cur = limit
		}
	}
	return table
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
