package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/becomeliminal/tiermem-go/index"
	"github.com/becomeliminal/tiermem-go/record"
)

// evaluateTiering applies the promotion rule, then the demotion rule,
// to rec. Only records surfaced in a search's top-k (or touched by
// consolidation) are evaluated, which bounds per-operation tier work.
func (e *Engine) evaluateTiering(ctx context.Context, rec *record.MemoryRecord) error {
	now := time.Now()

	if rec.CurrentTier != record.TierHot {
		weight := rec.EffectiveWeight(now)
		if weight >= e.cfg.WeightHotThreshold || rec.UsageCount >= e.cfg.UsageHotThreshold {
			return e.promoteToHot(ctx, rec)
		}
	}

	cooled := rec.DecayScore(now) < e.cfg.DecayWarmThreshold &&
		rec.UsageCount < e.cfg.DemotionUsageThreshold

	switch {
	case rec.CurrentTier == record.TierHot && cooled:
		return e.demoteToWarm(ctx, rec)
	case rec.CurrentTier == record.TierWarm && cooled:
		return e.demoteToCold(ctx, rec)
	}
	return nil
}

// promoteToHot moves rec from WARM or COLD into the HOT index: the
// warm and cold rows disappear, the WARM node is tombstoned, and the
// record keeps the handle of its new HOT node.
func (e *Engine) promoteToHot(ctx context.Context, rec *record.MemoryRecord) error {
	if err := e.ensureEmbedding(ctx, rec); err != nil {
		return fmt.Errorf("promote %s: %w", rec.ID, err)
	}

	if err := e.warm.Delete(ctx, rec.ID); err != nil {
		return err
	}
	if err := e.cold.Delete(ctx, rec.ID); err != nil {
		return err
	}
	if rec.WarmIndexHandle != record.NoHandle {
		e.softDeleteHandle(ctx, e.indexes.Warm, rec.WarmIndexHandle)
		rec.WarmIndexHandle = record.NoHandle
	}

	rec.CurrentTier = record.TierHot
	handle, err := e.indexes.Hot.InsertWithMetadata(ctx, rec.Embedding, e.recordMetadata(rec))
	if err != nil {
		return fmt.Errorf("promote %s: insert hot: %w", rec.ID, err)
	}
	rec.HotIndexHandle = handle
	if err := e.indexes.Hot.UpdateMetadata(ctx, handle, e.recordMetadata(rec)); err != nil {
		return err
	}

	log.Printf("[TIER] Promoted %s to HOT", rec.ID)
	return nil
}

// demoteToWarm moves a HOT record back to WARM. The embedding is
// reloaded from the HOT node before anything is deleted, so the warm
// row can never be written with an empty vector.
func (e *Engine) demoteToWarm(ctx context.Context, rec *record.MemoryRecord) error {
	if len(rec.Embedding) == 0 && rec.HotIndexHandle != record.NoHandle {
		vec, err := e.indexes.Hot.GetVector(ctx, rec.HotIndexHandle)
		if err != nil {
			return fmt.Errorf("demote %s: reload embedding: %w", rec.ID, err)
		}
		rec.Embedding = vec
	}
	if err := e.ensureEmbedding(ctx, rec); err != nil {
		return fmt.Errorf("demote %s: %w", rec.ID, err)
	}

	if rec.HotIndexHandle != record.NoHandle {
		e.softDeleteHandle(ctx, e.indexes.Hot, rec.HotIndexHandle)
		rec.HotIndexHandle = record.NoHandle
	}

	if err := e.insertWarm(ctx, rec); err != nil {
		return fmt.Errorf("demote %s: %w", rec.ID, err)
	}
	log.Printf("[TIER] Demoted %s to WARM", rec.ID)
	return nil
}

// demoteToCold moves a cooled WARM record into the compressed COLD
// store; it loses its index node and is only reachable by linear scan.
func (e *Engine) demoteToCold(ctx context.Context, rec *record.MemoryRecord) error {
	if err := e.ensureEmbedding(ctx, rec); err != nil {
		return fmt.Errorf("demote %s: %w", rec.ID, err)
	}

	if rec.WarmIndexHandle != record.NoHandle {
		e.softDeleteHandle(ctx, e.indexes.Warm, rec.WarmIndexHandle)
		rec.WarmIndexHandle = record.NoHandle
	}
	if err := e.warm.Delete(ctx, rec.ID); err != nil {
		return err
	}

	rec.CurrentTier = record.TierCold
	row, err := record.EncodeCold(rec)
	if err != nil {
		return err
	}
	if err := e.cold.Put(ctx, rec.ID, row); err != nil {
		return err
	}
	log.Printf("[TIER] Demoted %s to COLD", rec.ID)
	return nil
}

// softDeleteHandle tombstones a node and schedules compaction when the
// deletion counter crosses the threshold. The compaction is enqueued,
// never awaited.
func (e *Engine) softDeleteHandle(ctx context.Context, ix index.VectorIndex, handle string) {
	due, err := e.indexes.SoftDelete(ctx, ix, handle)
	if err != nil {
		log.Printf("[TIER] Soft delete %s: %v", handle, err)
		return
	}
	if due {
		go func() {
			if err := e.indexes.Compact(context.Background()); err != nil {
				log.Printf("[TIER] Scheduled compaction failed: %v", err)
				return
			}
			if err := e.Save(context.Background()); err != nil {
				log.Printf("[TIER] Post-compaction save failed: %v", err)
			}
		}()
	}
}

// ensureEmbedding reloads rec's embedding when a candidate arrived
// without one: the reconstruction cache first, then the warm row
// (float16), the cold row (int8), and finally the HOT node.
func (e *Engine) ensureEmbedding(ctx context.Context, rec *record.MemoryRecord) error {
	if len(rec.Embedding) > 0 {
		return nil
	}

	if cached, ok := e.cache.Get(rec.ID); ok {
		if vec, ok := cached.([]float32); ok {
			rec.Embedding = vec
			return nil
		}
	}

	if row, ok, err := e.warm.Get(ctx, rec.ID); err != nil {
		return err
	} else if ok {
		dec, err := record.DecodeWarm(row)
		if err != nil {
			return err
		}
		rec.Embedding = dec.Embedding
		e.cache.Set(rec.ID, dec.Embedding, int64(len(dec.Embedding)*4))
		return nil
	}

	if row, ok, err := e.cold.Get(ctx, rec.ID); err != nil {
		return err
	} else if ok {
		dec, err := record.DecodeCold(row)
		if err != nil {
			return err
		}
		rec.Embedding = dec.Embedding
		e.cache.Set(rec.ID, dec.Embedding, int64(len(dec.Embedding)*4))
		return nil
	}

	if rec.HotIndexHandle != record.NoHandle {
		vec, err := e.indexes.Hot.GetVector(ctx, rec.HotIndexHandle)
		if err == nil {
			rec.Embedding = vec
			return nil
		}
	}

	return fmt.Errorf("no embedding source for record %s", rec.ID)
}
