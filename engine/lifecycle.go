package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/becomeliminal/tiermem-go/record"
)

// emergencyDemotionUsage is the usage bar below which HOT records are
// demoted during critical memory pressure.
const emergencyDemotionUsage = 5

// scheduler drives the periodic maintenance: autosave and the
// memory-pressure check.
type scheduler struct {
	engine *Engine
	cron   *cron.Cron
}

func newScheduler(e *Engine) *scheduler {
	return &scheduler{engine: e, cron: cron.New()}
}

func (s *scheduler) start() {
	e := s.engine

	if e.cfg.AutosaveEnabled {
		spec := fmt.Sprintf("@every %s", e.cfg.AutosaveInterval)
		if _, err := s.cron.AddFunc(spec, e.autosaveTick); err != nil {
			log.Printf("[LIFECYCLE] Autosave schedule: %v", err)
		}
	}

	if e.prober != nil {
		spec := fmt.Sprintf("@every %s", e.cfg.MemoryCheckInterval)
		if _, err := s.cron.AddFunc(spec, e.memoryTick); err != nil {
			log.Printf("[LIFECYCLE] Memory check schedule: %v", err)
		}
	}

	s.cron.Start()
}

// stop drains in-flight jobs before returning.
func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
}

// autosaveTick saves when mutations accumulated since the last save.
func (e *Engine) autosaveTick() {
	e.mu.Lock()
	dirty := e.mutationsSinceLastSave > 0
	e.mu.Unlock()
	if !dirty {
		return
	}
	if err := e.Save(context.Background()); err != nil {
		log.Printf("[LIFECYCLE] Autosave failed: %v", err)
	}
}

// memoryTick compares host storage headroom against the thresholds.
func (e *Engine) memoryTick() {
	ctx := context.Background()

	info, err := e.prober.MemoryInfo(ctx)
	if err != nil {
		log.Printf("[LIFECYCLE] Memory probe failed: %v", err)
		return
	}
	if !info.Supported {
		return
	}

	switch {
	case info.Remaining < e.cfg.MemoryCriticalThreshold:
		log.Printf("[LIFECYCLE] Critical memory pressure (%d bytes remaining)", info.Remaining)
		e.emergencyCleanup(ctx)
	case info.Remaining < e.cfg.MemoryWarningThreshold:
		log.Printf("[LIFECYCLE] Memory warning (%d bytes remaining)", info.Remaining)
		pruned, err := e.Prune(ctx, false)
		if err != nil {
			log.Printf("[LIFECYCLE] Prune failed: %v", err)
			return
		}
		if len(pruned) > 0 {
			if err := e.indexes.Compact(ctx); err != nil {
				log.Printf("[LIFECYCLE] Compact failed: %v", err)
			}
		}
	}
}

// emergencyCleanup reclaims space aggressively: prune, demote barely
// used HOT records, compact both indexes and rotate the journal.
func (e *Engine) emergencyCleanup(ctx context.Context) {
	if _, err := e.Prune(ctx, false); err != nil {
		log.Printf("[LIFECYCLE] Emergency prune failed: %v", err)
	}

	hotMeta, err := e.indexes.Hot.GetAllMetadata(ctx)
	if err != nil {
		log.Printf("[LIFECYCLE] Read hot metadata: %v", err)
		return
	}
	demoted := 0
	for _, md := range hotMeta {
		rec, err := metadataToRecord(md)
		if err != nil {
			continue
		}
		if rec.UsageCount >= emergencyDemotionUsage {
			continue
		}
		// The node metadata carries no vector; reload it from the HOT
		// index before the node goes away, or the warm row would be
		// written with an empty embedding.
		if rec.HotIndexHandle != record.NoHandle {
			if vec, err := e.indexes.Hot.GetVector(ctx, rec.HotIndexHandle); err == nil {
				rec.Embedding = vec
			}
		}
		if err := e.demoteToWarm(ctx, rec); err != nil {
			log.Printf("[LIFECYCLE] Emergency demotion %s: %v", rec.ID, err)
			continue
		}
		demoted++
	}
	if demoted > 0 {
		log.Printf("[LIFECYCLE] Demoted %d barely-used hot records", demoted)
	}

	if err := e.indexes.Compact(ctx); err != nil {
		log.Printf("[LIFECYCLE] Emergency compact failed: %v", err)
	}
	if err := e.jnl.Rotate(ctx); err != nil {
		log.Printf("[LIFECYCLE] Journal rotation failed: %v", err)
	}
}

// Suspend performs a best-effort save. Hosts wire it to page-hide,
// freeze or before-unload style events.
func (e *Engine) Suspend(ctx context.Context) {
	if err := e.ensureReady(); err != nil {
		return
	}
	if err := e.Save(ctx); err != nil {
		log.Printf("[LIFECYCLE] Suspend save failed: %v", err)
	}
}
