// Package wait retries operations with configurable backoff strategies.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrTimeout           = errors.New("wait: timeout exceeded")
	ErrMaxRetriesReached = errors.New("wait: maximum retries reached")
	ErrCanceled          = errors.New("wait: operation canceled")
)

// ConditionFunc reports whether a condition is met.
type ConditionFunc func(ctx context.Context) (bool, error)

// Strategy yields the delay before each retry. Next returns false when no
// further attempt should be made.
type Strategy interface {
	Next() (time.Duration, bool)
	Reset()
}

// Options configures wait behavior
type Options struct {
	// MaxRetries caps the attempts; 0 means unlimited.
	MaxRetries int
	// Timeout bounds the whole wait; 0 means only the context bounds it.
	Timeout  time.Duration
	Strategy Strategy
}

// DefaultOptions returns default wait options
func DefaultOptions() *Options {
	return &Options{
		MaxRetries: 10,
		Timeout:    30 * time.Second,
		Strategy:   NewFixedStrategy(1 * time.Second),
	}
}

// WithMaxRetries sets the maximum number of attempts
func (o *Options) WithMaxRetries(n int) *Options {
	o.MaxRetries = n
	return o
}

// WithTimeout sets the overall timeout
func (o *Options) WithTimeout(d time.Duration) *Options {
	o.Timeout = d
	return o
}

// WithStrategy sets the wait strategy
func (o *Options) WithStrategy(s Strategy) *Options {
	o.Strategy = s
	return o
}

// Until calls condition until it returns true or an error, sleeping between
// attempts as the strategy says.
func Until(ctx context.Context, condition ConditionFunc, opts ...*Options) error {
	options := mergeOptions(opts...)

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	options.Strategy.Reset()
	attempts := 0

	for {
		ok, err := condition(ctx)
		if err != nil {
			return fmt.Errorf("wait: condition error: %w", err)
		}
		if ok {
			return nil
		}

		attempts++
		if options.MaxRetries > 0 && attempts >= options.MaxRetries {
			return ErrMaxRetriesReached
		}

		delay, ok := options.Strategy.Next()
		if !ok {
			return ErrMaxRetriesReached
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ErrCanceled
		case <-timer.C:
		}
	}
}

// Retry calls fn until it succeeds. When the attempts run out the last error
// of fn is returned wrapped in ErrMaxRetriesReached.
func Retry(ctx context.Context, fn func(ctx context.Context) error, opts ...*Options) error {
	var last error
	err := Until(ctx, func(ctx context.Context) (bool, error) {
		last = fn(ctx)
		return last == nil, nil
	}, opts...)
	if errors.Is(err, ErrMaxRetriesReached) && last != nil {
		return fmt.Errorf("%w: %w", ErrMaxRetriesReached, last)
	}
	return err
}

// mergeOptions returns the first options or the defaults.
func mergeOptions(opts ...*Options) *Options {
	if len(opts) == 0 || opts[0] == nil {
		return DefaultOptions()
	}
	o := *opts[0]
	if o.Strategy == nil {
		o.Strategy = NewFixedStrategy(time.Second)
	}
	return &o
}
