package journal_test

import (
	"context"
	"strings"
	"testing"

	"github.com/becomeliminal/tiermem-go/journal"
	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/kv/memory"
	"github.com/becomeliminal/tiermem-go/record"
)

func newJournal(t *testing.T, stores kv.Stores, rotation int) *journal.Journal {
	t.Helper()
	j, err := journal.New(stores.Store(kv.StoreJournal), stores.Store(kv.StoreMeta), rotation)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	if err := j.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	return j
}

func testRecord(text string) *record.MemoryRecord {
	return record.New(text, []float32{0.1, 0.2}, "salt", record.Options{})
}

func TestAppendMonotonic(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	j := newJournal(t, stores, 0)
	defer j.Close()

	var last uint64
	for i := 0; i < 100; i++ {
		seq, err := j.Append(ctx, journal.OpCreate, testRecord("r"))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if seq <= last {
			t.Fatalf("sequence not monotonic: %d after %d", seq, last)
		}
		last = seq
	}
	if j.Counter() != 100 {
		t.Errorf("counter: %d", j.Counter())
	}
}

func TestCounterSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()

	j := newJournal(t, stores, 0)
	for i := 0; i < 7; i++ {
		if _, err := j.Append(ctx, journal.OpCreate, testRecord("r")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	j.Close()

	// Same stores, fresh journal: simulated restart.
	j2 := newJournal(t, stores, 0)
	defer j2.Close()

	if j2.Counter() != 7 {
		t.Fatalf("counter after restart: %d", j2.Counter())
	}
	seq, err := j2.Append(ctx, journal.OpCreate, testRecord("r"))
	if err != nil {
		t.Fatalf("append after restart: %v", err)
	}
	if seq != 8 {
		t.Errorf("expected seq 8, got %d", seq)
	}
}

func TestReplayOrderAndContent(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	j := newJournal(t, stores, 0)
	defer j.Close()

	texts := []string{"alpha", "beta", "gamma"}
	for _, txt := range texts {
		if _, err := j.Append(ctx, journal.OpCreate, testRecord(txt)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	r := testRecord("deleted")
	if _, err := j.Append(ctx, journal.OpDelete, r); err != nil {
		t.Fatalf("append delete: %v", err)
	}

	var seqs []uint64
	var seen []string
	err := j.Replay(ctx, func(e journal.Entry) error {
		seqs = append(seqs, e.Seq)
		if e.Snapshot != nil {
			seen = append(seen, e.Snapshot.Text)
		} else if e.Op != journal.OpDelete {
			t.Errorf("entry %d missing snapshot", e.Seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if strings.Join(seen, ",") != "alpha,beta,gamma" {
		t.Errorf("replay content: %v", seen)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Errorf("replay out of order: %v", seqs)
		}
	}
}

func TestRotation(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	j := newJournal(t, stores, 10)
	defer j.Close()

	for i := 0; i < 10; i++ {
		if _, err := j.Append(ctx, journal.OpCreate, testRecord("r")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n, err := j.Len(ctx)
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 0 {
		t.Errorf("expected rotation to clear the window, %d rows remain", n)
	}
	if j.Counter() != 10 {
		t.Errorf("rotation must not reset the counter: %d", j.Counter())
	}

	// The archive blob lands in meta.
	keys, err := stores.Store(kv.StoreMeta).Keys(ctx)
	if err != nil {
		t.Fatalf("meta keys: %v", err)
	}
	var archived bool
	for _, k := range keys {
		if strings.HasPrefix(k, "journal_archive:") {
			archived = true
		}
	}
	if !archived {
		t.Errorf("no archive row found in meta: %v", keys)
	}
}
