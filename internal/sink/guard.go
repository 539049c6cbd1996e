package sink

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/srg/bpbridge/internal/record"
)

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 60 * time.Second
)

// GuardConfig tunes GuardedUploader. Zero values select defaults.
type GuardConfig struct {
	// RatePerSecond limits upload calls; 0 disables limiting
	RatePerSecond float64
	// MaxFailures consecutive transient failures open the breaker
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration
}

// GuardedUploader protects the cloud from bursts and from being hammered
// while it is down: calls are rate limited and pass through a circuit
// breaker that fails fast once the service keeps failing.
type GuardedUploader struct {
	inner   Uploader
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[UploadResult]
}

func NewGuardedUploader(inner Uploader, cfg GuardConfig, logger *logrus.Logger) *GuardedUploader {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	cb := gobreaker.NewCircuitBreaker[UploadResult](gobreaker.Settings{
		Name:        "cloud",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state change")
		},
		// permanent failures and cancellations do not trip the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err) || errors.Is(err, context.Canceled)
		},
	})

	return &GuardedUploader{
		inner:   inner,
		limiter: rate.NewLimiter(limit, 1),
		breaker: cb,
	}
}

func (g *GuardedUploader) Upload(ctx context.Context, account string, m record.Measurement) (UploadResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, transient(cloudSink, err, "rate limiter")
	}

	res, err := g.breaker.Execute(func() (UploadResult, error) {
		return g.inner.Upload(ctx, account, m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, transient(cloudSink, err, "cloud unavailable")
	}
	return res, err
}

// State exposes the breaker state for status output.
func (g *GuardedUploader) State() gobreaker.State {
	return g.breaker.State()
}
