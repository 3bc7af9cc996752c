package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/becomeliminal/tiermem-go/codec"
	"github.com/becomeliminal/tiermem-go/index"
	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/record"
)

// searchLockTimeout bounds how long a search waits for the lock.
const searchLockTimeout = 30 * time.Second

// coldPoolFactor stops the COLD scan once the scored pool reaches
// coldPoolFactor * k.
const coldPoolFactor = 5

// SearchFilters narrow a result set after scoring.
type SearchFilters struct {
	// Episodic filters on the episodic flag when non-nil.
	Episodic *bool

	// MinImportance drops records with lower importance.
	MinImportance float64

	// MinSimilarity drops candidates below this raw similarity.
	MinSimilarity float64

	// Metadata requires equality on every listed key.
	Metadata map[string]any
}

// SearchOptions configure one query.
type SearchOptions struct {
	// Simulate runs the query without side effects: no lock, no access
	// bumps, no persistence, no tier transitions.
	Simulate bool

	Filters SearchFilters
}

// SearchResult is one scored hit.
type SearchResult struct {
	Record     *record.MemoryRecord
	Similarity float64 // raw ANN/cosine similarity
	Score      float64 // similarity * effective weight
}

type candidate struct {
	rec *record.MemoryRecord
	sim float64
}

// Search embeds the query and cascades HOT→WARM→COLD until enough
// candidates are gathered, rescores them by decay-weighted similarity,
// applies filters, and returns the top k. Reads drive tier
// transitions: the surviving top-k are evaluated for promotion and
// demotion.
func (e *Engine) Search(ctx context.Context, query string, k int, opts SearchOptions) ([]SearchResult, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", ErrInvalidInput)
	}

	if !opts.Simulate {
		if err := e.searchLock.Acquire(ctx, searchLockTimeout); err != nil {
			return nil, err
		}
		defer e.searchLock.Release()
	}

	qv, err := e.enc.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}
	if len(qv) != e.cfg.EmbedDim {
		return nil, fmt.Errorf("%w: query embedded to %d dimensions", ErrDimensionMismatch, len(qv))
	}

	want := 2 * k
	seen := make(map[string]bool)
	var candidates []candidate

	// HOT tier.
	hotHits, err := e.indexes.Hot.Search(ctx, qv, want)
	if err != nil {
		return nil, fmt.Errorf("hot search: %w", err)
	}
	for _, hit := range hitsToCandidates(hotHits, seen) {
		candidates = append(candidates, hit)
	}

	// WARM tier fills the shortfall. The warm row is authoritative for
	// scalar state; the index supplies the similarity.
	if len(candidates) < want {
		warmHits, err := e.indexes.Warm.Search(ctx, qv, want-len(candidates))
		if err != nil {
			return nil, fmt.Errorf("warm search: %w", err)
		}
		for _, hit := range warmHits {
			id, _ := hit.Metadata["id"].(string)
			if id == "" || seen[id] {
				continue
			}
			rec, err := e.loadWarmRecord(ctx, id, hit.Metadata)
			if err != nil {
				log.Printf("[SEARCH] Skipping warm hit %s: %v", id, err)
				continue
			}
			seen[id] = true
			candidates = append(candidates, candidate{rec: rec, sim: hit.Score})
		}
	}

	// COLD tier: chunked linear scan, bounded pool, early exit.
	if len(candidates) < want {
		coldCands, err := e.scanCold(ctx, qv, k, seen)
		if err != nil {
			return nil, err
		}
		room := want - len(candidates)
		if len(coldCands) < room {
			room = len(coldCands)
		}
		candidates = append(candidates, coldCands[:room]...)
	}

	// Rescore, bump access, filter.
	now := time.Now()
	var retained []SearchResult
	for _, c := range candidates {
		if err := e.ensureEmbedding(ctx, c.rec); err != nil {
			log.Printf("[SEARCH] No embedding for %s: %v", c.rec.ID, err)
			continue
		}
		c.rec.Access(opts.Simulate)

		if c.sim < opts.Filters.MinSimilarity {
			continue
		}
		if !matchesFilters(c.rec, opts.Filters) {
			continue
		}
		retained = append(retained, SearchResult{
			Record:     c.rec,
			Similarity: c.sim,
			Score:      c.sim * c.rec.EffectiveWeight(now),
		})
	}

	sort.SliceStable(retained, func(i, j int) bool { return retained[i].Score > retained[j].Score })
	if len(retained) > k {
		retained = retained[:k]
	}

	// Reads drive tier transitions, but only for the surviving top-k.
	if !opts.Simulate {
		for _, res := range retained {
			if err := e.evaluateTiering(ctx, res.Record); err != nil {
				log.Printf("[SEARCH] Tiering %s: %v", res.Record.ID, err)
				continue
			}
			if err := e.persistRecord(ctx, res.Record); err != nil {
				log.Printf("[SEARCH] Persist %s: %v", res.Record.ID, err)
			}
		}
		e.noteMutations(len(retained))
	}

	// Hand out clones; internal state stays private.
	for i := range retained {
		retained[i].Record = retained[i].Record.Clone()
	}
	return retained, nil
}

// hitsToCandidates converts HOT index hits, deduplicating by id.
func hitsToCandidates(hits []index.SearchResult, seen map[string]bool) []candidate {
	var out []candidate
	for _, hit := range hits {
		rec, err := metadataToRecord(hit.Metadata)
		if err != nil {
			log.Printf("[SEARCH] Skipping malformed hot node: %v", err)
			continue
		}
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		if len(hit.Vector) > 0 {
			rec.Embedding = hit.Vector
		}
		out = append(out, candidate{rec: rec, sim: hit.Score})
	}
	return out
}

// loadWarmRecord prefers the warm row over the mirrored node metadata.
func (e *Engine) loadWarmRecord(ctx context.Context, id string, md index.Metadata) (*record.MemoryRecord, error) {
	row, ok, err := e.warm.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		return record.DecodeWarm(row)
	}
	return metadataToRecord(md)
}

// scanCold linearly scans the COLD store in chunks, scoring rows
// against the query and exiting once the pool is large enough.
func (e *Engine) scanCold(ctx context.Context, qv []float32, k int, seen map[string]bool) ([]candidate, error) {
	var pool []candidate
	limit := coldPoolFactor * k

	err := e.cold.ScanChunks(ctx, e.cfg.ColdSearchChunkSize, func(chunk []kv.Entry) (bool, error) {
		for _, row := range chunk {
			rec, err := record.DecodeCold(row.Value)
			if err != nil {
				log.Printf("[SEARCH] Skipping malformed cold row %s: %v", row.Key, err)
				continue
			}
			if seen[rec.ID] {
				continue
			}
			sim, err := codec.CosineSimilarity(qv, rec.Embedding)
			if err != nil {
				return false, err
			}
			if sim < 0 {
				sim = 0
			}
			pool = append(pool, candidate{rec: rec, sim: sim})
		}
		return len(pool) < limit, nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].sim > pool[j].sim })
	for _, c := range pool {
		seen[c.rec.ID] = true
	}
	return pool, nil
}

func matchesFilters(rec *record.MemoryRecord, f SearchFilters) bool {
	if f.Episodic != nil && rec.Episodic != *f.Episodic {
		return false
	}
	if rec.Importance < f.MinImportance {
		return false
	}
	for key, want := range f.Metadata {
		got, ok := rec.Metadata[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
