// Package mock provides deterministic encoder and generator doubles.
//
// The embedder hashes tokens into a sparse bag-of-words vector, so
// identical texts embed identically and texts sharing words land close
// in cosine space. That is enough structure for tests and offline
// examples without a model file.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/becomeliminal/tiermem-go/encoder"
)

// Embedder is a deterministic token-hash embedder.
type Embedder struct {
	dimensions int
}

var _ encoder.Encoder = (*Embedder)(nil)

// New creates a mock embedder with the given dimensionality.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// Embed maps each token onto a hashed dimension and normalizes.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := make([]float32, m.dimensions)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		v[h.Sum64()%uint64(m.dimensions)] += 1
	}
	return normalize(v), nil
}

// EmbedBatch embeds each text in turn.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Generator returns a fixed response for every prompt.
type Generator struct {
	Response string
}

var _ encoder.Generator = (*Generator)(nil)

// NewGenerator creates a canned generator.
func NewGenerator(response string) *Generator {
	return &Generator{Response: response}
}

// Generate returns the canned response.
func (g *Generator) Generate(ctx context.Context, prompt string, opts encoder.GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.Response, nil
}
