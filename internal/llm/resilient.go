package llm

import (
	"context"
	"errors"
	"time"

	"alexandria/internal/core"
	"alexandria/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// maxInternalRetries bounds silent retries inside a single enrichment stage.
// These retries are invisible to the job-level attempt counter.
const maxInternalRetries = 2

// Resilient wraps a Service with a circuit breaker, a per-call timeout, and
// bounded internal retries on transient failures.
type Resilient struct {
	inner   Service
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewResilient wraps the given service.
func NewResilient(inner Service, timeout time.Duration) *Resilient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "model-service",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("model circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Resilient{inner: inner, timeout: timeout, breaker: breaker}
}

// call runs fn through the breaker with retries and the per-call timeout.
func call[T any](ctx context.Context, r *Resilient, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	operation := func() error {
		out, err := r.breaker.Execute(func() (any, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			return fn(callCtx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(core.Transientf("model service unavailable: %v", err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if core.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = out.(T)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxInternalRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (r *Resilient) Summarize(ctx context.Context, title, text string) (string, error) {
	return call(ctx, r, func(ctx context.Context) (string, error) {
		return r.inner.Summarize(ctx, title, text)
	})
}

func (r *Resilient) SuggestTags(ctx context.Context, title, text string) ([]string, error) {
	return call(ctx, r, func(ctx context.Context) ([]string, error) {
		return r.inner.SuggestTags(ctx, title, text)
	})
}

func (r *Resilient) Classify(ctx context.Context, title, text string) (string, error) {
	return call(ctx, r, func(ctx context.Context) (string, error) {
		return r.inner.Classify(ctx, title, text)
	})
}

func (r *Resilient) ExtractScholarly(ctx context.Context, text string) (*core.ScholarlyMetadata, error) {
	return call(ctx, r, func(ctx context.Context) (*core.ScholarlyMetadata, error) {
		return r.inner.ExtractScholarly(ctx, text)
	})
}

func (r *Resilient) ScoreQuality(ctx context.Context, title, text string) (*QualityScores, error) {
	return call(ctx, r, func(ctx context.Context) (*QualityScores, error) {
		return r.inner.ScoreQuality(ctx, title, text)
	})
}

func (r *Resilient) Embed(ctx context.Context, text string) ([]float64, error) {
	return call(ctx, r, func(ctx context.Context) ([]float64, error) {
		return r.inner.Embed(ctx, text)
	})
}

func (r *Resilient) EmbedSparse(ctx context.Context, text string) (core.SparseVector, error) {
	return call(ctx, r, func(ctx context.Context) (core.SparseVector, error) {
		return r.inner.EmbedSparse(ctx, text)
	})
}

func (r *Resilient) Rerank(ctx context.Context, query string, docs []Document) ([]float64, error) {
	return call(ctx, r, func(ctx context.Context) ([]float64, error) {
		return r.inner.Rerank(ctx, query, docs)
	})
}
