package engine

import (
	"context"
	"log"

	"github.com/becomeliminal/tiermem-go/journal"
	"github.com/becomeliminal/tiermem-go/record"
)

// recoverFromJournal replays the journal and re-lands records whose
// journal entry survived a crash but whose WARM write did not. The
// journal is written before the store, so after a crash between the
// two the snapshot is the only copy.
//
// Replay applies last-writer-wins per id: a trailing delete entry
// (prune, quarantine) keeps a record gone.
func (e *Engine) recoverFromJournal(ctx context.Context) error {
	present := make(map[string]bool)

	hotMeta, err := e.indexes.Hot.GetAllMetadata(ctx)
	if err != nil {
		return err
	}
	for _, md := range hotMeta {
		if id, ok := md["id"].(string); ok {
			present[id] = true
		}
	}
	for _, store := range []interface {
		Keys(context.Context) ([]string, error)
	}{e.warm, e.cold} {
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			present[k] = true
		}
	}

	type lastState struct {
		deleted bool
		snap    *record.MemoryRecord
	}
	latest := make(map[string]*lastState)
	err = e.jnl.Replay(ctx, func(entry journal.Entry) error {
		switch entry.Op {
		case journal.OpDelete:
			latest[entry.ID] = &lastState{deleted: true}
		default:
			latest[entry.ID] = &lastState{snap: entry.Snapshot}
		}
		return nil
	})
	if err != nil {
		return err
	}

	recovered := 0
	for id, st := range latest {
		if st.deleted || st.snap == nil || present[id] {
			continue
		}
		if len(st.snap.Embedding) != e.cfg.EmbedDim {
			log.Printf("[RECOVERY] Snapshot %s has no usable embedding, skipping", id)
			continue
		}
		rec := st.snap.Clone()
		rec.HotIndexHandle = record.NoHandle
		rec.WarmIndexHandle = record.NoHandle
		if err := e.insertWarm(ctx, rec); err != nil {
			return err
		}
		recovered++
	}
	if recovered > 0 {
		log.Printf("[RECOVERY] Re-landed %d journaled records", recovered)
	}
	return nil
}
