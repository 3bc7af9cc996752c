package engine

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"strings"

	"github.com/becomeliminal/tiermem-go/cluster"
	"github.com/becomeliminal/tiermem-go/codec"
	"github.com/becomeliminal/tiermem-go/encoder"
	"github.com/becomeliminal/tiermem-go/journal"
	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/record"
)

const (
	summaryImportance     = 0.7
	importanceAttenuation = 0.8
)

// Consolidate clusters the WARM tier by similarity and synthesizes one
// semantic summary record per cluster. Members are linked to the
// cluster, their importance attenuated, and their tier placement
// re-evaluated. A pass already in flight makes this call return empty
// without blocking.
//
// With simulate set the summaries are computed and returned but
// nothing is written and no member is touched.
func (e *Engine) Consolidate(ctx context.Context, simulate bool) ([]*record.MemoryRecord, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}

	if !e.consolidateLock.TryAcquire() {
		log.Printf("[CONSOLIDATE] Pass already in flight, skipping")
		return nil, nil
	}
	defer e.consolidateLock.Release()

	total, err := e.warm.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total < 2 {
		return nil, nil
	}

	advanced := e.cfg.UseAdvancedClustering && total >= e.cfg.AdvancedClusteringThreshold

	var summaries []*record.MemoryRecord
	if advanced {
		summaries, err = e.consolidateGraph(ctx, simulate)
	} else {
		summaries, err = e.consolidateChunked(ctx, simulate)
	}
	if err != nil {
		return summaries, err
	}

	if !simulate {
		e.mu.Lock()
		e.recordsSinceConsolidation = 0
		e.mu.Unlock()
	}

	log.Printf("[CONSOLIDATE] Synthesized %d summary records (advanced=%v)", len(summaries), advanced)
	return summaries, nil
}

// consolidateChunked runs agglomerative clustering chunk by chunk,
// yielding to the scheduler between chunks.
func (e *Engine) consolidateChunked(ctx context.Context, simulate bool) ([]*record.MemoryRecord, error) {
	var summaries []*record.MemoryRecord

	err := e.warm.ScanChunks(ctx, e.cfg.ConsolidationChunkSize, func(chunk []kv.Entry) (bool, error) {
		records, vectors := decodeWarmChunk(chunk)
		if len(records) >= 2 {
			clusters, err := cluster.Agglomerative(vectors, e.cfg.ClusterDiameter)
			if err != nil {
				return false, err
			}
			made, err := e.applyClusters(ctx, clusters, records, vectors, simulate)
			if err != nil {
				return false, err
			}
			summaries = append(summaries, made...)
		}

		// Yield between chunks; long passes must not starve searches.
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
			runtime.Gosched()
		}
		return true, nil
	})
	return summaries, err
}

// consolidateGraph loads the full WARM tier and clusters it through a
// scratch graph index, bounded by MaxClustersPerPass.
func (e *Engine) consolidateGraph(ctx context.Context, simulate bool) ([]*record.MemoryRecord, error) {
	var records []*record.MemoryRecord
	var vectors [][]float32

	err := e.warm.ScanChunks(ctx, e.cfg.ConsolidationChunkSize, func(chunk []kv.Entry) (bool, error) {
		recs, vecs := decodeWarmChunk(chunk)
		records = append(records, recs...)
		vectors = append(vectors, vecs...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	clusters, err := cluster.Graph(ctx, vectors, e.cfg.ClusterDiameter, cluster.GraphOptions{
		MaxClusters: e.cfg.MaxClustersPerPass,
	})
	if err != nil {
		return nil, err
	}
	return e.applyClusters(ctx, clusters, records, vectors, simulate)
}

func decodeWarmChunk(chunk []kv.Entry) ([]*record.MemoryRecord, [][]float32) {
	records := make([]*record.MemoryRecord, 0, len(chunk))
	vectors := make([][]float32, 0, len(chunk))
	for _, row := range chunk {
		rec, err := record.DecodeWarm(row.Value)
		if err != nil {
			log.Printf("[CONSOLIDATE] Skipping malformed warm row %s: %v", row.Key, err)
			continue
		}
		records = append(records, rec)
		vectors = append(vectors, rec.Embedding)
	}
	return records, vectors
}

// applyClusters turns each cluster of two or more members into a
// summary record and rewires the members.
func (e *Engine) applyClusters(ctx context.Context, clusters []cluster.Cluster, records []*record.MemoryRecord, vectors [][]float32, simulate bool) ([]*record.MemoryRecord, error) {
	var summaries []*record.MemoryRecord

	for _, c := range clusters {
		if len(c.Members) < 2 {
			continue
		}

		memberIDs := make([]string, 0, len(c.Members))
		memberTexts := make([]string, 0, len(c.Members))
		for _, m := range c.Members {
			memberIDs = append(memberIDs, records[m].ID)
			memberTexts = append(memberTexts, records[m].Text)
		}
		sort.Strings(memberIDs)

		summary, err := e.summarize(ctx, memberTexts)
		if err != nil {
			log.Printf("[CONSOLIDATE] Summarization failed for %d members: %v", len(c.Members), err)
			continue
		}

		clusterID := codec.ContentHash(summary, strings.Join(memberIDs, ","))
		centroid := c.Centroid(vectors)

		summaryRec := record.New(summary, centroid, e.salt, record.Options{
			Episodic:   false,
			Importance: summaryImportance,
			Metadata: map[string]any{
				"cluster_id":   clusterID,
				"member_count": len(c.Members),
			},
		})
		summaryRec.SemanticClusterID = clusterID

		if !simulate {
			if _, err := e.jnl.Append(ctx, journal.OpCreate, summaryRec); err != nil {
				return summaries, err
			}
			if err := e.insertWarm(ctx, summaryRec); err != nil {
				return summaries, err
			}

			for _, m := range c.Members {
				member := records[m]
				member.Access(false)
				member.SemanticClusterID = clusterID
				member.Importance *= importanceAttenuation
				if err := e.evaluateTiering(ctx, member); err != nil {
					log.Printf("[CONSOLIDATE] Tiering %s: %v", member.ID, err)
				}
				if err := e.persistRecord(ctx, member); err != nil {
					log.Printf("[CONSOLIDATE] Persist %s: %v", member.ID, err)
				}
			}
			e.noteMutations(len(c.Members) + 1)
		}

		summaries = append(summaries, summaryRec.Clone())
	}
	return summaries, nil
}

// summarize asks the generator for a one-sentence summary, falling
// back to an extractive summary when no generator is configured.
func (e *Engine) summarize(ctx context.Context, texts []string) (string, error) {
	if e.gen == nil {
		return extractiveSummary(texts), nil
	}

	var b strings.Builder
	b.WriteString("Summarize the following related memories in one sentence:\n")
	for _, t := range texts {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	summary, err := e.gen.Generate(ctx, b.String(), encoder.GenerateOptions{
		Temperature: 0.3,
		MaxTokens:   128,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return extractiveSummary(texts), nil
	}
	return summary, nil
}

// extractiveSummary keeps the longest member text as the cluster label.
func extractiveSummary(texts []string) string {
	longest := ""
	for _, t := range texts {
		if len(t) > len(longest) {
			longest = t
		}
	}
	return longest
}
