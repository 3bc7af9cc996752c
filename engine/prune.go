package engine

import (
	"context"
	"log"
	"time"

	"github.com/becomeliminal/tiermem-go/journal"
	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/record"
)

// Prune removes COLD records whose effective weight fell below the
// configured floor and that were never read. Returns the pruned ids.
// A pass already in flight makes this call return empty without
// blocking. With simulate set the candidates are reported but kept.
func (e *Engine) Prune(ctx context.Context, simulate bool) ([]string, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}

	if !e.pruneLock.TryAcquire() {
		log.Printf("[PRUNE] Pass already in flight, skipping")
		return nil, nil
	}
	defer e.pruneLock.Release()

	now := time.Now()
	var pruned []string

	err := e.cold.ScanChunks(ctx, e.cfg.ColdSearchChunkSize, func(chunk []kv.Entry) (bool, error) {
		for _, row := range chunk {
			rec, err := record.DecodeCold(row.Value)
			if err != nil {
				log.Printf("[PRUNE] Skipping malformed cold row %s: %v", row.Key, err)
				continue
			}
			if rec.UsageCount > 0 || rec.EffectiveWeight(now) >= e.cfg.PruneEpsilon {
				continue
			}
			if !simulate {
				if _, err := e.jnl.Append(ctx, journal.OpDelete, rec); err != nil {
					return false, err
				}
				if err := e.cold.Delete(ctx, rec.ID); err != nil {
					return false, err
				}
				e.cache.Del(rec.ID)
			}
			pruned = append(pruned, rec.ID)
		}
		return true, nil
	})
	if err != nil {
		return pruned, err
	}

	if !simulate && len(pruned) > 0 {
		log.Printf("[PRUNE] Removed %d cold records", len(pruned))
		if e.indexes.NoteDeletions(len(pruned)) {
			go func() {
				if err := e.indexes.Compact(context.Background()); err != nil {
					log.Printf("[PRUNE] Scheduled compaction failed: %v", err)
					return
				}
				if err := e.Save(context.Background()); err != nil {
					log.Printf("[PRUNE] Post-compaction save failed: %v", err)
				}
			}()
		}
	}
	return pruned, nil
}
