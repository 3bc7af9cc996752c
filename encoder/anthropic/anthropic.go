// Package anthropic implements the Generator contract on the Claude
// API. The consolidation pass uses it to summarize clusters into one
// sentence.
package anthropic

import (
	"context"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/becomeliminal/tiermem-go/encoder"
)

const defaultMaxTokens = 256

// Generator is a Claude-backed text generator.
type Generator struct {
	client *anthropic.Client
	model  string
}

var _ encoder.Generator = (*Generator)(nil)

// NewGenerator creates a generator over an Anthropic client.
func NewGenerator(client *anthropic.Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

// Generate sends prompt as a single user message and returns the
// concatenated text blocks of the response.
func (g *Generator) Generate(ctx context.Context, prompt string, opts encoder.GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		log.Printf("[GENERATOR] Empty response for prompt of %d chars", len(prompt))
	}
	return text, nil
}
