// Package retry runs outbound calls under one bounded backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
)

// Default policy constants.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// RetryAfter is implemented by errors that carry a server-supplied delay.
type RetryAfter interface {
	RetryAfter() time.Duration
}

// Policy bounds retries of one call site.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry, when set, observes each scheduled retry.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Default returns three attempts starting at one second and doubling.
func Default() Policy {
	return Policy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay}
}

// Once returns a policy that never retries.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// Do calls op until it succeeds, returns a non-transient error, the
// attempts run out, or ctx ends. Only errors matching failure.ErrTransient
// are retried. A RetryAfter delay on the last error replaces the backoff.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = defaultMaxDelay
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0

	ra := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))}
	b := backoff.WithContext(ra, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if !failure.IsTransient(err) {
			return backoff.Permanent(err)
		}
		ra.last = err
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if failure.IsTransient(err) && attempt >= p.MaxAttempts {
		return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
	}
	return err
}

type retryAfterBackOff struct {
	backoff.BackOff
	last error
}

func (r *retryAfterBackOff) NextBackOff() time.Duration {
	next := r.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	var ra RetryAfter
	if errors.As(r.last, &ra) && ra.RetryAfter() > 0 {
		return ra.RetryAfter()
	}
	return next
}
