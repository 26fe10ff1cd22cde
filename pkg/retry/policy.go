// Package retry provides the bounded backoff policy used around aggregator calls.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"chainswap/pkg/types"
)

// Defaults used when a Policy field is left zero
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 250 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
	DefaultJitter      = 0.2
)

// Policy bounds how often and how fast an operation is retried
type Policy struct {
	MaxAttempts int           // Total attempts including the first one
	BaseDelay   time.Duration // Delay before the first retry
	MaxDelay    time.Duration // Upper bound of a single delay before jitter
	Jitter      float64       // Randomization factor in [0, 1)
	Multiplier  float64       // Growth factor between delays, 2 when zero

	// ShouldRetry decides whether an error is worth another attempt. Defaults to types.IsRetryable.
	ShouldRetry func(error) bool
	// OnRetry is called before each wait with the attempt that just failed (1-based)
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default returns the policy applied when nothing is configured
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// Validate checks that the policy is usable
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return errors.New("retry: max attempts must not be negative")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry: delays must not be negative")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return errors.New("retry: base delay exceeds max delay")
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return errors.New("retry: jitter must be in [0, 1)")
	}
	return nil
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = types.IsRetryable
	}
	return p
}

// NewBackOff builds the backoff schedule for one operation
func (p Policy) NewBackOff() backoff.BackOff {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

// Do runs op until it succeeds, returns an error ShouldRetry rejects, exhausts the
// attempts, or ctx is done. The last error from op is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !p.ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(p.NewBackOff(), ctx), notify)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
