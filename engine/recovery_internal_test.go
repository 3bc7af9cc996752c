package engine

import (
	"context"
	"testing"
	"time"

	"github.com/becomeliminal/tiermem-go/encoder/mock"
	"github.com/becomeliminal/tiermem-go/journal"
	"github.com/becomeliminal/tiermem-go/record"
)

func TestRecoveryRelandsJournaledRecord(t *testing.T) {
	ctx := context.Background()
	e, stores := newTestEngine(t)

	// A normally written record, and one whose WARM write "crashed"
	// after the journal append.
	if _, err := e.CreateMemoryRecord(ctx, "safely stored fact", record.Options{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	emb, err := e.enc.Embed(ctx, "journaled but never landed")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	lost := record.New("journaled but never landed", emb, e.salt, record.Options{})
	if _, err := e.jnl.Append(ctx, journal.OpCreate, lost); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Reopen: recovery re-lands the orphaned snapshot into WARM.
	cfg := DefaultConfig
	cfg.EmbedDim = internalDim
	cfg.AutosaveEnabled = false
	e2, err := New(stores, mock.New(internalDim), WithConfig(cfg))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e2.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer e2.Shutdown(ctx)

	records, err := e2.GetAllRecords(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after recovery, got %d", len(records))
	}
	found := false
	for _, rec := range records {
		if rec.ID == lost.ID {
			found = true
			if rec.CurrentTier != record.TierWarm {
				t.Errorf("recovered record tier: %s", rec.CurrentTier)
			}
		}
	}
	if !found {
		t.Error("journaled record was not recovered")
	}
}

func TestRecoverySkipsDeletedRecords(t *testing.T) {
	ctx := context.Background()
	e, stores := newTestEngine(t)

	// A stale, unused cold record that prune removes (and journals).
	rec := plantWarm(t, e, "doomed fact", 90*24*time.Hour, 0)
	if err := e.demoteToCold(ctx, rec); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if _, err := e.jnl.Append(ctx, journal.OpCreate, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	pruned, err := e.Prune(ctx, false)
	if err != nil || len(pruned) != 1 {
		t.Fatalf("prune: %v (%d pruned)", err, len(pruned))
	}
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	cfg := DefaultConfig
	cfg.EmbedDim = internalDim
	cfg.AutosaveEnabled = false
	e2, err := New(stores, mock.New(internalDim), WithConfig(cfg))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e2.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer e2.Shutdown(ctx)

	records, err := e2.GetAllRecords(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	for _, r := range records {
		if r.ID == rec.ID {
			t.Error("pruned record resurrected by recovery")
		}
	}
}
