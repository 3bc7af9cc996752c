package record

import (
	"math"
	"testing"
	"time"
)

func TestNewRecord(t *testing.T) {
	emb := []float32{0.1, 0.2, 0.3}
	r := New("Paris is the capital of France", emb, "salt", Options{Episodic: true, Importance: 0.9})

	if r.ID == "" || len(r.ID) != 32 {
		t.Errorf("unexpected id %q", r.ID)
	}
	if !r.Episodic || r.Importance != 0.9 {
		t.Errorf("options not applied: %+v", r)
	}
	if r.CurrentTier != TierWarm {
		t.Errorf("new records start WARM, got %s", r.CurrentTier)
	}
	if !r.VerifyIntegrity("salt") {
		t.Error("fresh record fails integrity check")
	}
	if r.VerifyIntegrity("other-salt") {
		t.Error("integrity check ignores salt")
	}

	// Same text, fresh nonce, distinct identity.
	r2 := New("Paris is the capital of France", emb, "salt", Options{})
	if r2.ID == r.ID {
		t.Error("two records of the same text share an id")
	}
}

func TestImportanceDefaultsAndClamp(t *testing.T) {
	if r := New("x", []float32{1}, "s", Options{}); r.Importance != 0.5 {
		t.Errorf("default importance: %v", r.Importance)
	}
	if r := New("x", []float32{1}, "s", Options{Importance: 3}); r.Importance != 1 {
		t.Errorf("importance not clamped: %v", r.Importance)
	}
}

func TestEffectiveWeightBounds(t *testing.T) {
	r := New("x", []float32{1}, "s", Options{Importance: 1})
	now := time.Now()

	w := r.EffectiveWeight(now)
	if w <= 0 || w > 1 {
		t.Errorf("fresh weight out of (0,1]: %v", w)
	}

	// Two half-lives old: decay ~0.25, temporal weight 1/5.
	r.Timestamp = now.Add(-2 * DecayHalfLife).UnixMilli()
	if d := r.DecayScore(now); math.Abs(d-0.25) > 0.001 {
		t.Errorf("decay after two half-lives: %v", d)
	}
	if tw := r.TemporalWeight(now); math.Abs(tw-0.2) > 0.001 {
		t.Errorf("temporal weight after 4 scales: %v", tw)
	}
	if w := r.EffectiveWeight(now); w <= 0 || w > 1 {
		t.Errorf("aged weight out of (0,1]: %v", w)
	}

	// Future timestamps clamp to zero age.
	r.Timestamp = now.Add(time.Hour).UnixMilli()
	if d := r.DecayScore(now); d != 1 {
		t.Errorf("future record should not decay: %v", d)
	}
}

func TestAccess(t *testing.T) {
	r := New("x", []float32{1}, "s", Options{})
	before := r.LastAccessed

	r.Access(true)
	if r.UsageCount != 0 || r.LastAccessed != before {
		t.Error("simulated access mutated the record")
	}

	r.Access(false)
	if r.UsageCount != 1 {
		t.Errorf("usage count: %d", r.UsageCount)
	}
}

func TestWarmRowRoundTrip(t *testing.T) {
	emb := []float32{0.25, -0.5, 0.125, 0.999}
	r := New("warm text", emb, "s", Options{Importance: 0.7})
	r.UsageCount = 3
	r.SemanticClusterID = "c1"

	data, err := EncodeWarm(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeWarm(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if back.ID != r.ID || back.Text != r.Text || back.UsageCount != 3 || back.SemanticClusterID != "c1" {
		t.Errorf("scalars lost: %+v", back)
	}
	for i := range emb {
		if math.Abs(float64(back.Embedding[i]-emb[i])) > 0.001 {
			t.Errorf("component %d drifted: %v -> %v", i, emb[i], back.Embedding[i])
		}
	}
}

func TestColdRowRoundTrip(t *testing.T) {
	emb := []float32{0.25, -0.5, 0.125, 0.999}
	r := New("cold text", emb, "s", Options{})

	data, err := EncodeCold(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeCold(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if back.CurrentTier != TierCold {
		t.Errorf("tier: %s", back.CurrentTier)
	}
	for i := range emb {
		if math.Abs(float64(back.Embedding[i]-emb[i])) > 0.01 {
			t.Errorf("component %d drifted: %v -> %v", i, emb[i], back.Embedding[i])
		}
	}
}

func TestClone(t *testing.T) {
	r := New("x", []float32{1, 2}, "s", Options{Metadata: map[string]any{"k": "v"}})
	cp := r.Clone()
	cp.Embedding[0] = 9
	cp.Metadata["k"] = "w"
	if r.Embedding[0] == 9 || r.Metadata["k"] == "w" {
		t.Error("clone shares state with original")
	}
}
