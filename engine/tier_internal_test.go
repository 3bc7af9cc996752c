package engine

import (
	"context"
	"testing"
	"time"

	"github.com/becomeliminal/tiermem-go/encoder/mock"
	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/kv/memory"
	"github.com/becomeliminal/tiermem-go/record"
)

const internalDim = 64

func newTestEngine(t *testing.T, opts ...Option) (*Engine, kv.Stores) {
	t.Helper()
	stores := memory.New()
	cfg := DefaultConfig
	cfg.EmbedDim = internalDim
	cfg.AutosaveEnabled = false

	opts = append([]Option{WithConfig(cfg)}, opts...)
	e, err := New(stores, mock.New(internalDim), opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e, stores
}

func plantWarm(t *testing.T, e *Engine, text string, age time.Duration, usage int) *record.MemoryRecord {
	t.Helper()
	ctx := context.Background()

	emb, err := e.enc.Embed(ctx, text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	rec := record.New(text, emb, e.salt, record.Options{})
	rec.Timestamp = time.Now().Add(-age).UnixMilli()
	rec.UsageCount = usage
	if err := e.insertWarm(ctx, rec); err != nil {
		t.Fatalf("insert warm: %v", err)
	}
	return rec
}

func TestDemotionChain(t *testing.T) {
	ctx := context.Background()
	e, stores := newTestEngine(t)

	// Two months old, never read: decay is far below the warm
	// threshold, so the record walks HOT -> WARM -> COLD.
	rec := plantWarm(t, e, "an old forgotten fact", 60*24*time.Hour, 0)

	if err := e.promoteToHot(ctx, rec); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if rec.CurrentTier != record.TierHot || rec.HotIndexHandle == record.NoHandle {
		t.Fatalf("promotion state: %+v", rec)
	}
	if _, ok, _ := stores.Store(kv.StoreWarm).Get(ctx, rec.ID); ok {
		t.Fatal("promotion left the warm row behind")
	}

	// First evaluation: HOT and cooled -> WARM.
	if err := e.evaluateTiering(ctx, rec); err != nil {
		t.Fatalf("tiering: %v", err)
	}
	if rec.CurrentTier != record.TierWarm {
		t.Fatalf("expected WARM after first evaluation, got %s", rec.CurrentTier)
	}
	if rec.HotIndexHandle != record.NoHandle || rec.WarmIndexHandle == record.NoHandle {
		t.Fatalf("handles after demotion: %+v", rec)
	}
	if len(rec.Embedding) != internalDim {
		t.Fatalf("demotion lost the embedding: %d components", len(rec.Embedding))
	}

	// Second evaluation: WARM and cooled -> COLD.
	if err := e.evaluateTiering(ctx, rec); err != nil {
		t.Fatalf("tiering: %v", err)
	}
	if rec.CurrentTier != record.TierCold {
		t.Fatalf("expected COLD after second evaluation, got %s", rec.CurrentTier)
	}
	if _, ok, _ := stores.Store(kv.StoreCold).Get(ctx, rec.ID); !ok {
		t.Fatal("cold row missing after demotion")
	}
	if _, ok, _ := stores.Store(kv.StoreWarm).Get(ctx, rec.ID); ok {
		t.Fatal("warm row survived demotion to cold")
	}
}

func TestDemotionSparesUsedRecords(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	// Old but frequently read: usage above the demotion threshold
	// keeps it in place.
	rec := plantWarm(t, e, "old but busy fact", 60*24*time.Hour, 3)
	weight := rec.EffectiveWeight(time.Now())
	if weight >= e.cfg.WeightHotThreshold {
		t.Fatalf("test premise broken: weight %v", weight)
	}

	if err := e.evaluateTiering(ctx, rec); err != nil {
		t.Fatalf("tiering: %v", err)
	}
	if rec.CurrentTier != record.TierWarm {
		t.Errorf("used record demoted to %s", rec.CurrentTier)
	}
}

type fakeProber struct {
	remaining int64
}

func (p *fakeProber) MemoryInfo(ctx context.Context) (MemoryInfo, error) {
	return MemoryInfo{Supported: true, Usage: 0, Quota: 1 << 30, Remaining: p.remaining}, nil
}

func TestMemoryPressureCriticalDemotesHot(t *testing.T) {
	ctx := context.Background()
	prober := &fakeProber{remaining: 1 << 30}
	e, _ := newTestEngine(t, WithMemoryProber(prober))

	rec := plantWarm(t, e, "rarely used hot fact", 0, 0)
	if err := e.promoteToHot(ctx, rec); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if e.indexes.Hot.Len() != 1 {
		t.Fatalf("hot len: %d", e.indexes.Hot.Len())
	}

	// Plenty of headroom: nothing happens.
	e.memoryTick()
	if e.indexes.Hot.Len() != 1 {
		t.Fatal("memory tick demoted despite headroom")
	}

	// Below the critical threshold: usage < 5 records leave HOT.
	prober.remaining = e.cfg.MemoryCriticalThreshold - 1
	e.memoryTick()
	if e.indexes.Hot.Len() != 0 {
		t.Errorf("hot records survived emergency cleanup: %d", e.indexes.Hot.Len())
	}

	// The demoted record landed in WARM with its embedding intact.
	row, ok, err := e.warm.Get(ctx, rec.ID)
	if err != nil || !ok {
		t.Fatalf("warm row after emergency demotion: ok=%v err=%v", ok, err)
	}
	dec, err := record.DecodeWarm(row)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.Embedding) != internalDim {
		t.Errorf("emergency demotion wrote %d embedding components", len(dec.Embedding))
	}
}

func TestSearchLockTimeout(t *testing.T) {
	var l flagLock
	if !l.TryAcquire() {
		t.Fatal("fresh lock not acquirable")
	}
	if l.TryAcquire() {
		t.Fatal("lock is reentrant")
	}

	ctx := context.Background()
	start := time.Now()
	err := l.Acquire(ctx, 30*time.Millisecond)
	if err != ErrLockTimeout {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("acquire returned before the timeout")
	}

	l.Release()
	if err := l.Acquire(ctx, 30*time.Millisecond); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestEachWriteAdvancesJournalCounter(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	for i := 0; i < 5; i++ {
		if _, err := e.CreateMemoryRecord(ctx, "fact "+string(rune('a'+i)), record.Options{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if e.jnl.Counter() != 5 {
		t.Errorf("journal counter: %d", e.jnl.Counter())
	}
}
