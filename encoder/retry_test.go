package encoder

import (
	"context"
	"errors"
	"testing"
)

type flakyEncoder struct {
	failures int
	calls    int
}

func (f *flakyEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient")
	}
	return []float32{1}, nil
}

func (f *flakyEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := f.Embed(ctx, "")
	if err != nil {
		return nil, err
	}
	return [][]float32{v}, nil
}

func (f *flakyEncoder) Dimensions() int { return 1 }

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyEncoder{failures: 2}
	enc := WithRetry(inner)

	v, err := enc.Embed(context.Background(), "x")
	if err != nil || len(v) != 1 {
		t.Fatalf("embed: %v err=%v", v, err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	inner := &flakyEncoder{failures: 10}
	enc := WithRetry(inner)

	if _, err := enc.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected failure after retry budget")
	}
	// Initial attempt plus maxRetries.
	if inner.calls != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, inner.calls)
	}
}
