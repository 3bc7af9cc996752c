package engine

import (
	"context"
	"log"
	"sort"

	"github.com/becomeliminal/tiermem-go/journal"
	"github.com/becomeliminal/tiermem-go/record"
)

// VerifyIntegrity recomputes the salted text hash of every live record
// and quarantines the ones that no longer match. Quarantine removes
// the record from the indexes and both row stores; no repair is ever
// attempted. Returns the corrupted ids, sorted.
func (e *Engine) VerifyIntegrity(ctx context.Context) ([]string, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}

	records, err := e.GetAllRecords(ctx)
	if err != nil {
		return nil, err
	}

	var corrupted []string
	for _, rec := range records {
		if rec.VerifyIntegrity(e.salt) {
			continue
		}
		if err := e.quarantine(ctx, rec); err != nil {
			log.Printf("[INTEGRITY] Quarantine %s: %v", rec.ID, err)
		}
		corrupted = append(corrupted, rec.ID)
	}

	sort.Strings(corrupted)
	if len(corrupted) > 0 {
		log.Printf("[INTEGRITY] Quarantined %d corrupted records", len(corrupted))
	}
	return corrupted, nil
}

// quarantine removes a corrupted record everywhere it might live. The
// removal is journaled so crash recovery never resurrects it.
func (e *Engine) quarantine(ctx context.Context, rec *record.MemoryRecord) error {
	if _, err := e.jnl.Append(ctx, journal.OpDelete, rec); err != nil {
		return err
	}
	if rec.HotIndexHandle != record.NoHandle {
		e.softDeleteHandle(ctx, e.indexes.Hot, rec.HotIndexHandle)
	}
	if rec.WarmIndexHandle != record.NoHandle {
		e.softDeleteHandle(ctx, e.indexes.Warm, rec.WarmIndexHandle)
	}
	if err := e.warm.Delete(ctx, rec.ID); err != nil {
		return err
	}
	if err := e.cold.Delete(ctx, rec.ID); err != nil {
		return err
	}
	e.cache.Del(rec.ID)
	return nil
}
