package bridge

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/srg/bpbridge/internal/sink"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 2 * time.Second
	DefaultRetryMax      = 30 * time.Second
)

// RetryPolicy bounds delivery retries. Zero fields select defaults.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryBase
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryMax
	}
	return p
}

// Backoff returns the pause before retry number attempt (1-based): the base
// delay doubled per attempt, capped at MaxDelay, plus 0-25% jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay/4) + 1))
	return delay + jitter
}

// retry calls fn until it succeeds, fails permanently, the context ends or
// the attempts run out. It returns the number of calls made and the last error.
func retry(ctx context.Context, p RetryPolicy, fn func() error, onRetry func(attempt int, delay time.Duration, err error)) (int, error) {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || sink.IsPermanent(err) || ctx.Err() != nil || attempt >= p.Attempts {
			return attempt, err
		}

		delay := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
}
