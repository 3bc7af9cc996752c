// Package engine implements the tiered memory engine facade.
//
// The engine owns five logical KV stores, the HOT and WARM vector
// indexes, the write journal and the maintenance schedule. Records
// enter through the journaled write path into WARM; searches cascade
// HOT→WARM→COLD and drive promotion and demotion; background passes
// consolidate, prune and compact.
//
// Tier placements:
//   - HOT:  vector lives in the HOT index, metadata mirrored on the node.
//   - WARM: float16 row in the warm store plus a WARM index node.
//   - COLD: int8 row in the cold store only; searched by linear scan.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/tiermem-go/encoder"
	"github.com/becomeliminal/tiermem-go/index"
	"github.com/becomeliminal/tiermem-go/index/hnsw"
	"github.com/becomeliminal/tiermem-go/journal"
	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/record"
)

// Meta-store keys owned by the engine.
const (
	saltKey          = "salt"
	encryptionKeyKey = "encryption_key"

	hotIndexName  = "hot"
	warmIndexName = "warm"

	embedBatchChunk = 5
)

// MemoryInfo reports host storage, used by the pressure monitor.
type MemoryInfo struct {
	Supported bool  `json:"supported"`
	Usage     int64 `json:"usage"`
	Quota     int64 `json:"quota"`
	Remaining int64 `json:"remaining"`
}

// MemoryProber queries the host for storage headroom.
type MemoryProber interface {
	MemoryInfo(ctx context.Context) (MemoryInfo, error)
}

// Engine is the tiered memory store.
type Engine struct {
	cfg    Config
	stores kv.Stores
	warm   kv.Store
	cold   kv.Store
	meta   kv.Store

	jnl     *journal.Journal
	indexes *index.Manager
	enc     encoder.Encoder
	gen     encoder.Generator
	prober  MemoryProber
	cache   *ristretto.Cache

	salt string
	key  []byte

	mu                        sync.Mutex
	recordsSinceConsolidation int
	mutationsSinceLastSave    int

	searchLock      flagLock
	consolidateLock flagLock
	pruneLock       flagLock

	scheduler *scheduler

	// index overrides captured by options before the manager exists
	hotOverride  index.VectorIndex
	warmOverride index.VectorIndex

	initialized atomic.Bool
	closed      atomic.Bool
}

// Option configures the engine.
type Option func(*Engine)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg.withDefaults() }
}

// WithGenerator sets the summarizer used by consolidation. Without one
// the engine falls back to extractive summaries.
func WithGenerator(g encoder.Generator) Option {
	return func(e *Engine) { e.gen = encoder.WithRetryGenerator(g) }
}

// WithHotIndex replaces the built-in HOT index.
func WithHotIndex(ix index.VectorIndex) Option {
	return func(e *Engine) { e.hotOverride = ix }
}

// WithWarmIndex replaces the built-in WARM index.
func WithWarmIndex(ix index.VectorIndex) Option {
	return func(e *Engine) { e.warmOverride = ix }
}

// WithMemoryProber enables the memory-pressure monitor.
func WithMemoryProber(p MemoryProber) Option {
	return func(e *Engine) { e.prober = p }
}

// New creates an engine over the given store bundle and encoder.
// Call Initialize before use.
func New(stores kv.Stores, enc encoder.Encoder, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    DefaultConfig,
		stores: stores,
		warm:   stores.Store(kv.StoreWarm),
		cold:   stores.Store(kv.StoreCold),
		meta:   stores.Store(kv.StoreMeta),
		enc:    encoder.WithRetry(enc),
	}
	for _, opt := range opts {
		opt(e)
	}

	if enc.Dimensions() != e.cfg.EmbedDim {
		return nil, fmt.Errorf("%w: encoder produces %d dimensions, config expects %d",
			ErrDimensionMismatch, enc.Dimensions(), e.cfg.EmbedDim)
	}

	hot := e.hotOverride
	warm := e.warmOverride
	persister := hnsw.KVPersister{Store: e.meta}
	if hot == nil {
		ix := hnsw.New(e.cfg.EmbedDim)
		ix.SetPersister(persister)
		hot = ix
	}
	if warm == nil {
		ix := hnsw.New(e.cfg.EmbedDim)
		ix.SetPersister(persister)
		warm = ix
	}
	e.indexes = index.NewManager(hot, warm, e.cfg.CompactionThreshold)

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     32 << 20, // reconstruction cache, bytes of float32
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	e.cache = cache

	return e, nil
}

// Initialize opens the engine: secrets, journal counter, index
// snapshots, and the maintenance schedule.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.initialized.Load() {
		return nil
	}

	if err := e.loadSecrets(ctx); err != nil {
		return err
	}

	jnl, err := journal.New(e.stores.Store(kv.StoreJournal), e.meta, e.cfg.JournalRotationSize)
	if err != nil {
		return err
	}
	if err := jnl.Restore(ctx); err != nil {
		return err
	}
	e.jnl = jnl

	if err := e.indexes.Hot.Load(ctx, hotIndexName); err != nil {
		return fmt.Errorf("load hot index: %w", err)
	}
	if err := e.indexes.Warm.Load(ctx, warmIndexName); err != nil {
		return fmt.Errorf("load warm index: %w", err)
	}

	if err := e.recoverFromJournal(ctx); err != nil {
		return fmt.Errorf("journal recovery: %w", err)
	}

	e.scheduler = newScheduler(e)
	e.scheduler.start()

	e.initialized.Store(true)
	log.Printf("[ENGINE] Initialized (journal counter %d, hot %d, warm index %d)",
		e.jnl.Counter(), e.indexes.Hot.Len(), e.indexes.Warm.Len())
	return nil
}

// loadSecrets loads or creates the instance salt and the 256-bit
// export key.
func (e *Engine) loadSecrets(ctx context.Context) error {
	salt, ok, err := e.meta.Get(ctx, saltKey)
	if err != nil {
		return fmt.Errorf("load salt: %w", err)
	}
	if !ok {
		raw := make([]byte, 16)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate salt: %w", err)
		}
		salt = []byte(hex.EncodeToString(raw))
		if err := e.meta.Put(ctx, saltKey, salt); err != nil {
			return fmt.Errorf("persist salt: %w", err)
		}
	}
	e.salt = string(salt)

	keyHex, ok, err := e.meta.Get(ctx, encryptionKeyKey)
	if err != nil {
		return fmt.Errorf("load encryption key: %w", err)
	}
	if !ok {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate encryption key: %w", err)
		}
		keyHex = []byte(hex.EncodeToString(raw))
		if err := e.meta.Put(ctx, encryptionKeyKey, keyHex); err != nil {
			return fmt.Errorf("persist encryption key: %w", err)
		}
	}
	key, err := hex.DecodeString(string(keyHex))
	if err != nil {
		return fmt.Errorf("decode encryption key: %w", err)
	}
	e.key = key
	return nil
}

func (e *Engine) ensureReady() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// CreateMemoryRecord embeds text and writes a new WARM record through
// the journal.
func (e *Engine) CreateMemoryRecord(ctx context.Context, text string, opts record.Options) (*record.MemoryRecord, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidInput)
	}

	emb, err := e.enc.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderFailure, err)
	}
	if len(emb) != e.cfg.EmbedDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), e.cfg.EmbedDim)
	}

	rec := record.New(text, emb, e.salt, opts)
	if err := e.writeRecord(ctx, rec); err != nil {
		return nil, err
	}
	e.noteWrite()
	return rec.Clone(), nil
}

// CreateMemoryRecords batch-writes texts. Embedding generation is
// shared in chunks; journal and WARM inserts stay per-record with no
// cross-record atomicity.
func (e *Engine) CreateMemoryRecords(ctx context.Context, texts []string, opts record.Options) ([]*record.MemoryRecord, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty text in batch", ErrInvalidInput)
		}
	}

	embeddings := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += embedBatchChunk {
		end := start + embedBatchChunk
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			chunk, err := e.enc.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrEncoderFailure, err)
			}
			copy(embeddings[start:end], chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*record.MemoryRecord, 0, len(texts))
	for i, text := range texts {
		if len(embeddings[i]) != e.cfg.EmbedDim {
			return out, fmt.Errorf("%w: batch item %d has %d dimensions", ErrDimensionMismatch, i, len(embeddings[i]))
		}
		rec := record.New(text, embeddings[i], e.salt, opts)
		if err := e.writeRecord(ctx, rec); err != nil {
			return out, err
		}
		e.noteWrite()
		out = append(out, rec.Clone())
	}
	return out, nil
}

// writeRecord journals rec and lands it in the WARM tier. The journal
// write precedes the WARM write, so a reader never observes a record
// without its journal entry.
func (e *Engine) writeRecord(ctx context.Context, rec *record.MemoryRecord) error {
	if _, err := e.jnl.Append(ctx, journal.OpCreate, rec); err != nil {
		return err
	}
	return e.insertWarm(ctx, rec)
}

// insertWarm places rec into the WARM index and store.
func (e *Engine) insertWarm(ctx context.Context, rec *record.MemoryRecord) error {
	rec.CurrentTier = record.TierWarm

	handle, err := e.indexes.Warm.InsertWithMetadata(ctx, rec.Embedding, e.recordMetadata(rec))
	if err != nil {
		return fmt.Errorf("insert warm index: %w", err)
	}
	rec.WarmIndexHandle = handle

	// Handle now known; mirror it into the node metadata.
	if err := e.indexes.Warm.UpdateMetadata(ctx, handle, e.recordMetadata(rec)); err != nil {
		return fmt.Errorf("update warm metadata: %w", err)
	}

	row, err := record.EncodeWarm(rec)
	if err != nil {
		return err
	}
	if err := e.warm.Put(ctx, rec.ID, row); err != nil {
		return fmt.Errorf("put warm row: %w", err)
	}
	return nil
}

// noteWrite bumps the write counters and schedules consolidation and
// saves once their thresholds are crossed. Scheduled work is enqueued,
// never awaited.
func (e *Engine) noteWrite() {
	e.mu.Lock()
	e.recordsSinceConsolidation++
	e.mutationsSinceLastSave++
	consolidate := e.recordsSinceConsolidation >= e.cfg.ConsolidationInterval
	save := e.mutationsSinceLastSave >= e.cfg.MutationBatchSize
	e.mu.Unlock()

	if consolidate {
		go func() {
			if _, err := e.Consolidate(context.Background(), false); err != nil {
				log.Printf("[ENGINE] Scheduled consolidation failed: %v", err)
			}
		}()
	}
	if save {
		go func() {
			if err := e.Save(context.Background()); err != nil {
				log.Printf("[ENGINE] Scheduled save failed: %v", err)
			}
		}()
	}
}

// noteMutations counts n persisted metadata updates toward the save
// batch.
func (e *Engine) noteMutations(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	e.mutationsSinceLastSave += n
	save := e.mutationsSinceLastSave >= e.cfg.MutationBatchSize
	e.mu.Unlock()

	if save {
		go func() {
			if err := e.Save(context.Background()); err != nil {
				log.Printf("[ENGINE] Scheduled save failed: %v", err)
			}
		}()
	}
}

// recordMetadata mirrors rec (minus its embedding) onto an index node.
func (e *Engine) recordMetadata(rec *record.MemoryRecord) index.Metadata {
	slim := rec.Clone()
	slim.Embedding = nil
	blob, err := json.Marshal(slim)
	if err != nil {
		// Only a caller-supplied metadata value that JSON cannot encode
		// gets here; the node then carries an empty record blob.
		log.Printf("[ENGINE] Marshal record %s: %v", rec.ID, err)
	}
	return index.Metadata{
		"id":     rec.ID,
		"text":   rec.Text,
		"record": string(blob),
	}
}

// metadataToRecord rebuilds the record mirrored on an index node.
func metadataToRecord(md index.Metadata) (*record.MemoryRecord, error) {
	blob, _ := md["record"].(string)
	if blob == "" {
		return nil, fmt.Errorf("index node missing record metadata")
	}
	var rec record.MemoryRecord
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return nil, fmt.Errorf("decode record metadata: %w", err)
	}
	return &rec, nil
}

// persistRecord writes rec's current state to the storage backing its
// tier.
func (e *Engine) persistRecord(ctx context.Context, rec *record.MemoryRecord) error {
	switch rec.CurrentTier {
	case record.TierHot:
		if rec.HotIndexHandle == record.NoHandle {
			return fmt.Errorf("hot record %s has no index handle", rec.ID)
		}
		return e.indexes.Hot.UpdateMetadata(ctx, rec.HotIndexHandle, e.recordMetadata(rec))
	case record.TierWarm:
		row, err := record.EncodeWarm(rec)
		if err != nil {
			return err
		}
		if err := e.warm.Put(ctx, rec.ID, row); err != nil {
			return err
		}
		if rec.WarmIndexHandle != record.NoHandle {
			if err := e.indexes.Warm.UpdateMetadata(ctx, rec.WarmIndexHandle, e.recordMetadata(rec)); err != nil {
				return err
			}
		}
		return nil
	case record.TierCold:
		row, err := record.EncodeCold(rec)
		if err != nil {
			return err
		}
		return e.cold.Put(ctx, rec.ID, row)
	default:
		return fmt.Errorf("record %s has unknown tier %q", rec.ID, rec.CurrentTier)
	}
}

// GetAllRecords returns every live record across the three tiers.
func (e *Engine) GetAllRecords(ctx context.Context) ([]*record.MemoryRecord, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}

	var out []*record.MemoryRecord
	seen := make(map[string]bool)

	hotMeta, err := e.indexes.Hot.GetAllMetadata(ctx)
	if err != nil {
		return nil, err
	}
	for _, md := range hotMeta {
		rec, err := metadataToRecord(md)
		if err != nil {
			log.Printf("[ENGINE] Skipping malformed hot node: %v", err)
			continue
		}
		if !seen[rec.ID] {
			seen[rec.ID] = true
			out = append(out, rec)
		}
	}

	warmRows, err := e.warm.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range warmRows {
		rec, err := record.DecodeWarm(row.Value)
		if err != nil {
			log.Printf("[ENGINE] Skipping malformed warm row %s: %v", row.Key, err)
			continue
		}
		if !seen[rec.ID] {
			seen[rec.ID] = true
			out = append(out, rec)
		}
	}

	err = e.cold.ScanChunks(ctx, e.cfg.ColdSearchChunkSize, func(chunk []kv.Entry) (bool, error) {
		for _, row := range chunk {
			rec, err := record.DecodeCold(row.Value)
			if err != nil {
				log.Printf("[ENGINE] Skipping malformed cold row %s: %v", row.Key, err)
				continue
			}
			if !seen[rec.ID] {
				seen[rec.ID] = true
				out = append(out, rec)
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save persists both index snapshots and resets the mutation counter.
func (e *Engine) Save(ctx context.Context) error {
	if err := e.ensureReady(); err != nil {
		return err
	}

	if err := e.indexes.Hot.Save(ctx, hotIndexName); err != nil {
		return fmt.Errorf("save hot index: %w", err)
	}
	if err := e.indexes.Warm.Save(ctx, warmIndexName); err != nil {
		return fmt.Errorf("save warm index: %w", err)
	}

	e.mu.Lock()
	e.mutationsSinceLastSave = 0
	e.mu.Unlock()
	return nil
}

// Clear wipes every store, index and counter. Secrets are regenerated
// so the instance keeps working after the wipe.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.ensureReady(); err != nil {
		return err
	}

	records, err := e.GetAllRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.HotIndexHandle != record.NoHandle {
			_ = e.indexes.Hot.SoftDelete(ctx, rec.HotIndexHandle)
		}
		if rec.WarmIndexHandle != record.NoHandle {
			_ = e.indexes.Warm.SoftDelete(ctx, rec.WarmIndexHandle)
		}
	}
	if err := e.indexes.Compact(ctx); err != nil {
		return err
	}

	for _, name := range []string{kv.StoreCore, kv.StoreWarm, kv.StoreCold, kv.StoreJournal, kv.StoreMeta} {
		if err := e.stores.Store(name).Clear(ctx); err != nil {
			return fmt.Errorf("clear %s: %w", name, err)
		}
	}

	e.mu.Lock()
	e.recordsSinceConsolidation = 0
	e.mutationsSinceLastSave = 0
	e.mu.Unlock()

	e.cache.Clear()

	if err := e.loadSecrets(ctx); err != nil {
		return err
	}
	if err := e.jnl.Restore(ctx); err != nil {
		return err
	}
	log.Printf("[ENGINE] Cleared all tiers")
	return nil
}

// Shutdown flushes pending saves, stops the schedule and closes the
// engine. The store bundle stays open; its owner closes it.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	if !e.initialized.Load() {
		return nil
	}

	e.mu.Lock()
	dirty := e.mutationsSinceLastSave > 0
	e.mu.Unlock()
	if dirty {
		if err := e.indexes.Hot.Save(ctx, hotIndexName); err != nil {
			log.Printf("[ENGINE] Shutdown save (hot): %v", err)
		}
		if err := e.indexes.Warm.Save(ctx, warmIndexName); err != nil {
			log.Printf("[ENGINE] Shutdown save (warm): %v", err)
		}
	}

	if e.scheduler != nil {
		e.scheduler.stop()
	}
	e.jnl.Close()
	e.cache.Close()
	log.Printf("[ENGINE] Shut down")
	return nil
}
