// Package journal implements the monotonic append-only write journal.
//
// The engine journals record creations and removals; a created
// record's entry is written before its WARM write becomes visible,
// which makes the journal a write-ahead record for crash recovery.
// In-place updates of an existing record are not journaled. Entry keys are zero-padded decimal sequence
// numbers so key order equals append order; the counter itself is
// persisted to the meta store on every increment and therefore survives
// restarts.
//
// Entries are zstd-compressed JSON. Rotation archives the live window
// as a single compressed blob in the meta store before deleting the
// rows, bounding journal growth without discarding recovery data.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/record"
)

// Meta-store keys owned by the journal.
const (
	CounterKey       = "journal_counter"
	archiveKeyPrefix = "journal_archive:"
)

// Entry is one journaled mutation.
type Entry struct {
	Seq       uint64               `json:"seq"`
	ID        string               `json:"id"`
	Timestamp int64                `json:"timestamp"`
	Op        string               `json:"op"`
	Snapshot  *record.MemoryRecord `json:"snapshot,omitempty"`
}

// Operations recorded in the journal.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Journal appends entries to the journal store and keeps its counter
// durable in the meta store.
type Journal struct {
	mu      sync.Mutex
	entries kv.Store
	meta    kv.Store
	counter uint64

	rotationSize int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a journal over the given stores. rotationSize bounds the
// number of live entries; 0 disables rotation.
func New(entries, meta kv.Store, rotationSize int) (*Journal, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("journal: create compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("journal: create decompressor: %w", err)
	}
	return &Journal{
		entries:      entries,
		meta:         meta,
		rotationSize: rotationSize,
		enc:          enc,
		dec:          dec,
	}, nil
}

// Restore loads the persisted counter. Must be called before the first
// Append after opening the stores.
func (j *Journal) Restore(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	v, ok, err := j.meta.Get(ctx, CounterKey)
	if err != nil {
		return fmt.Errorf("journal: restore counter: %w", err)
	}
	if !ok {
		j.counter = 0
		return nil
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return fmt.Errorf("journal: parse counter %q: %w", v, err)
	}
	j.counter = n
	return nil
}

// Counter returns the last issued sequence number.
func (j *Journal) Counter() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counter
}

// Append journals op for r and returns the issued sequence number.
// The counter is persisted before the entry row is written, so sequence
// numbers are strictly monotonic even across a crash between the two
// writes.
func (j *Journal) Append(ctx context.Context, op string, r *record.MemoryRecord) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.counter + 1
	if err := j.meta.Put(ctx, CounterKey, []byte(strconv.FormatUint(seq, 10))); err != nil {
		return 0, fmt.Errorf("journal: persist counter: %w", err)
	}
	j.counter = seq

	entry := Entry{
		Seq:       seq,
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Op:        op,
		Snapshot:  snapshotOf(op, r),
	}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return 0, fmt.Errorf("journal: marshal entry %d: %w", seq, err)
	}

	if err := j.entries.Put(ctx, seqKey(seq), j.enc.EncodeAll(raw, nil)); err != nil {
		return 0, fmt.Errorf("journal: append entry %d: %w", seq, err)
	}

	if j.rotationSize > 0 {
		n, err := j.entries.Count(ctx)
		if err == nil && n >= j.rotationSize {
			if err := j.rotateLocked(ctx); err != nil {
				log.Printf("[JOURNAL] rotation failed: %v", err)
			}
		}
	}

	return seq, nil
}

// snapshotOf drops the snapshot for deletes; the id is enough to replay
// a removal.
func snapshotOf(op string, r *record.MemoryRecord) *record.MemoryRecord {
	if op == OpDelete {
		return nil
	}
	return r.Clone()
}

// Replay streams live entries in sequence order.
func (j *Journal) Replay(ctx context.Context, fn func(Entry) error) error {
	return j.entries.ScanChunks(ctx, 500, func(chunk []kv.Entry) (bool, error) {
		for _, row := range chunk {
			raw, err := j.dec.DecodeAll(row.Value, nil)
			if err != nil {
				return false, fmt.Errorf("journal: decompress %s: %w", row.Key, err)
			}
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return false, fmt.Errorf("journal: decode %s: %w", row.Key, err)
			}
			if err := fn(e); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

// Len returns the number of live entries.
func (j *Journal) Len(ctx context.Context) (int, error) {
	return j.entries.Count(ctx)
}

// Rotate archives the live window into the meta store and clears the
// entry rows. The counter keeps advancing; only rows move.
func (j *Journal) Rotate(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rotateLocked(ctx)
}

func (j *Journal) rotateLocked(ctx context.Context) error {
	entries, err := j.entries.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("journal: read window: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("journal: marshal archive: %w", err)
	}
	key := archiveKeyPrefix + seqKey(j.counter)
	if err := j.meta.Put(ctx, key, j.enc.EncodeAll(blob, nil)); err != nil {
		return fmt.Errorf("journal: write archive: %w", err)
	}

	if err := j.entries.Clear(ctx); err != nil {
		return fmt.Errorf("journal: clear window: %w", err)
	}

	log.Printf("[JOURNAL] Rotated %d entries into %s", len(entries), key)
	return nil
}

// Close releases the codec resources.
func (j *Journal) Close() {
	j.enc.Close()
	j.dec.Close()
}

func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}
