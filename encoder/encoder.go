// Package encoder defines the external-service contracts of the
// engine: text-to-vector encoding and text generation (used by the
// consolidation pass to summarize clusters).
//
// Implementations: mock (tests, examples), onnx (local models, build
// tag `onnx`) and anthropic (Claude-backed generation).
package encoder

import "context"

// Encoder converts text to dense embeddings.
type Encoder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts several texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// GenerateOptions tune a generation call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int64
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
