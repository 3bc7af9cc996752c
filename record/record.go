// Package record defines the memory record entity and its derived
// temporal weights.
//
// Records are created by the write path, mutated by search (access
// bumps), consolidation (cluster assignment, importance dampening) and
// the tier engine (tier tag, index handles), and destroyed by pruning,
// quarantine or clear.
package record

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/tiermem-go/codec"
)

// Tier is the storage placement of a record.
type Tier string

const (
	TierHot     Tier = "hot"
	TierWarm    Tier = "warm"
	TierCold    Tier = "cold"
	TierUnknown Tier = "unknown"
)

// Decay constants. DecayHalfLife drives the exponential forgetting
// curve; TemporalScale drives the hyperbolic recency weight.
const (
	DecayHalfLife = 14 * 24 * time.Hour
	TemporalScale = 7 * 24 * time.Hour
)

// NoHandle marks a record without a node in the corresponding index.
const NoHandle = ""

// MemoryRecord is the primary entity of the engine.
type MemoryRecord struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Timestamp    int64     `json:"timestamp"`     // creation time, unix ms
	LastAccessed int64     `json:"last_accessed"` // unix ms
	Episodic     bool      `json:"episodic"`
	Importance   float64   `json:"importance"`
	UsageCount   int       `json:"usage_count"`

	SemanticClusterID string `json:"semantic_cluster_id,omitempty"`
	IntegrityHash     string `json:"integrity_hash"`
	EmbeddingHash     string `json:"embedding_hash"`

	CurrentTier     Tier   `json:"current_tier"`
	HotIndexHandle  string `json:"hot_index_handle,omitempty"`
	WarmIndexHandle string `json:"warm_index_handle,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Options configures record creation.
type Options struct {
	Episodic   bool
	Importance float64
	Metadata   map[string]any
}

// New creates a record for text with the given embedding. The id is
// derived from the text and a fresh nonce so identical texts still get
// distinct identities; the integrity hash binds the text to the
// instance salt.
func New(text string, embedding []float32, salt string, opts Options) *MemoryRecord {
	now := time.Now().UnixMilli()
	nonce := uuid.New().String()

	importance := opts.Importance
	if importance <= 0 {
		importance = 0.5
	}
	if importance > 1 {
		importance = 1
	}

	return &MemoryRecord{
		ID:            codec.ContentHash(text, nonce)[:32],
		Text:          text,
		Embedding:     embedding,
		Timestamp:     now,
		LastAccessed:  now,
		Episodic:      opts.Episodic,
		Importance:    importance,
		IntegrityHash: codec.ContentHash(text, salt),
		EmbeddingHash: codec.EmbeddingFingerprint(embedding),
		CurrentTier:   TierWarm,
		Metadata:      opts.Metadata,
	}
}

// AgeMillis returns the record age relative to now.
func (r *MemoryRecord) AgeMillis(now time.Time) float64 {
	age := float64(now.UnixMilli() - r.Timestamp)
	if age < 0 {
		return 0
	}
	return age
}

// DecayScore is exp(-age / half-life), in (0, 1].
func (r *MemoryRecord) DecayScore(now time.Time) float64 {
	return math.Exp(-r.AgeMillis(now) / float64(DecayHalfLife.Milliseconds()))
}

// TemporalWeight is 1 / (1 + age/scale), in (0, 1].
func (r *MemoryRecord) TemporalWeight(now time.Time) float64 {
	return 1 / (1 + r.AgeMillis(now)/float64(TemporalScale.Milliseconds()))
}

// EffectiveWeight combines importance with both decay terms. It ranks
// search results and drives promotion, demotion and pruning.
func (r *MemoryRecord) EffectiveWeight(now time.Time) float64 {
	return r.Importance * r.DecayScore(now) * r.TemporalWeight(now)
}

// Access bumps the usage counter and the last-accessed stamp. With
// simulate set it is a no-op, keeping dry-run searches side-effect free.
func (r *MemoryRecord) Access(simulate bool) {
	if simulate {
		return
	}
	r.UsageCount++
	r.LastAccessed = time.Now().UnixMilli()
}

// VerifyIntegrity recomputes the salted text hash and compares it to
// the one recorded at creation.
func (r *MemoryRecord) VerifyIntegrity(salt string) bool {
	return codec.ContentHash(r.Text, salt) == r.IntegrityHash
}

// Clone returns a deep copy. The engine hands clones to callers so
// internal state cannot be mutated behind its back.
func (r *MemoryRecord) Clone() *MemoryRecord {
	cp := *r
	if r.Embedding != nil {
		cp.Embedding = make([]float32, len(r.Embedding))
		copy(cp.Embedding, r.Embedding)
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
