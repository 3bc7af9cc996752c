package mock

import (
	"context"
	"testing"

	"github.com/becomeliminal/tiermem-go/codec"
	"github.com/becomeliminal/tiermem-go/encoder"
)

func TestEmbedDeterministic(t *testing.T) {
	ctx := context.Background()
	m := New(384)

	a, err := m.Embed(ctx, "Paris is the capital of France")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, _ := m.Embed(ctx, "Paris is the capital of France")

	sim, err := codec.CosineSimilarity(a, b)
	if err != nil || sim < 0.999 {
		t.Errorf("same text should embed identically: sim=%v err=%v", sim, err)
	}
}

func TestEmbedOverlapBeatsDisjoint(t *testing.T) {
	ctx := context.Background()
	m := New(384)

	target, _ := m.Embed(ctx, "Paris is the capital of France")
	query, _ := m.Embed(ctx, "capital of France")
	unrelated, _ := m.Embed(ctx, "quantum entanglement experiments")

	simTarget, _ := codec.CosineSimilarity(query, target)
	simOther, _ := codec.CosineSimilarity(query, unrelated)

	if simTarget <= simOther {
		t.Errorf("overlapping text should score higher: %v vs %v", simTarget, simOther)
	}
	if simTarget < 0.5 {
		t.Errorf("shared-token similarity too low: %v", simTarget)
	}
}

func TestEmbedBatch(t *testing.T) {
	ctx := context.Background()
	m := New(64)

	out, err := m.EmbedBatch(ctx, []string{"a", "b", "c"})
	if err != nil || len(out) != 3 {
		t.Fatalf("batch: %v len=%d", err, len(out))
	}
	for _, v := range out {
		if len(v) != 64 {
			t.Errorf("dimension: %d", len(v))
		}
	}
}

func TestGenerator(t *testing.T) {
	g := NewGenerator("SUMMARY")
	out, err := g.Generate(context.Background(), "summarize this", encoder.GenerateOptions{})
	if err != nil || out != "SUMMARY" {
		t.Errorf("generate: %q err=%v", out, err)
	}
}
