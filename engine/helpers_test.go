package engine_test

import (
	"context"

	"github.com/becomeliminal/tiermem-go/encoder"
	"github.com/becomeliminal/tiermem-go/encoder/mock"
)

func newMockEncoder() encoder.Encoder {
	return mock.New(testDim)
}

// cannedGenerator returns a fixed summary.
type cannedGenerator struct {
	response string
}

func (g *cannedGenerator) Generate(ctx context.Context, prompt string, opts encoder.GenerateOptions) (string, error) {
	return g.response, nil
}

// blockingGenerator parks the consolidation pass until released, so
// tests can observe lock behavior mid-pass.
type blockingGenerator struct {
	release chan struct{}
	started chan struct{}
}

func (g *blockingGenerator) Generate(ctx context.Context, prompt string, opts encoder.GenerateOptions) (string, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.release
	return "SUMMARY", nil
}
