// Package ratelimit caps admitted requests per subject within a fixed window
// anchored at the first admission. It is applied selectively, to the
// credential-issuance routes, to blunt brute-force attempts.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domainerrors "gatehouse/pkg/domain-errors"
)

var rejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatehouse_ratelimit_rejections_total",
	Help: "Number of requests rejected by the rate limiter",
})

// CounterStore persists per-subject counters with expiry in the external
// key-value store. Implemented by session.Store.
type CounterStore interface {
	Counter(ctx context.Context, subject string) (int, bool, error)
	SetCounter(ctx context.Context, subject string, value int, ttl time.Duration) error
	IncrementCounter(ctx context.Context, subject string) error
}

// Limiter enforces a fixed-window counter per subject. Thread-safe; all
// shared state lives in the counter store.
type Limiter struct {
	counters  CounterStore
	threshold int
	window    time.Duration
	logger    *slog.Logger
}

// Option configures a Limiter instance.
type Option func(*Limiter)

// WithLogger sets the structured logger for rejection logging.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a limiter admitting up to threshold requests per subject within
// each window.
func New(counters CounterStore, threshold int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		counters:  counters,
		threshold: threshold,
		window:    window,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow admits or rejects one attempt for the subject.
//
// The first attempt in a window creates the counter with a full-window TTL.
// Once the count reaches the threshold, attempts are rejected without further
// increments, so rejected attempts never extend the ban past the original
// window. Admitted attempts increment the counter while preserving the
// remaining TTL.
func (l *Limiter) Allow(ctx context.Context, subject string) error {
	count, exists, err := l.counters.Counter(ctx, subject)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "rate counter unavailable")
	}

	if !exists {
		if err := l.counters.SetCounter(ctx, subject, 1, l.window); err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "rate counter unavailable")
		}
		return nil
	}

	if count >= l.threshold {
		rejectionsTotal.Inc()
		l.logger.WarnContext(ctx, "rate limit exceeded",
			"subject", subject,
			"count", count,
			"threshold", l.threshold,
		)
		return domainerrors.New(domainerrors.CodeTooManyRequests, "too many requests")
	}

	if err := l.counters.IncrementCounter(ctx, subject); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "rate counter unavailable")
	}
	return nil
}

// Window returns the configured window length, exposed for Retry-After hints.
func (l *Limiter) Window() time.Duration {
	return l.window
}
