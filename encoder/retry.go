package encoder

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// External calls get a per-attempt timeout and a bounded exponential
// backoff (1s, 2s, 4s). Only encoder and generator calls retry;
// storage errors are never retried.
const (
	callTimeout     = 30 * time.Second
	maxRetries      = 3
	initialInterval = 1 * time.Second
)

func retryCall(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.Multiplier = 2
	b.MaxInterval = 4 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return fn(attemptCtx)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}

type retryingEncoder struct {
	inner Encoder
}

// WithRetry wraps enc with the retry policy.
func WithRetry(enc Encoder) Encoder {
	return &retryingEncoder{inner: enc}
}

func (r *retryingEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := retryCall(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.Embed(ctx, text)
		return err
	})
	return out, err
}

func (r *retryingEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := retryCall(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.EmbedBatch(ctx, texts)
		return err
	})
	return out, err
}

func (r *retryingEncoder) Dimensions() int {
	return r.inner.Dimensions()
}

type retryingGenerator struct {
	inner Generator
}

// WithRetryGenerator wraps gen with the retry policy.
func WithRetryGenerator(gen Generator) Generator {
	return &retryingGenerator{inner: gen}
}

func (r *retryingGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var out string
	err := retryCall(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.Generate(ctx, prompt, opts)
		return err
	})
	return out, err
}
