// Package index defines the ANN capability contract the engine
// depends on and the manager that owns the HOT and WARM indexes.
//
// The engine never assumes a concrete index: any implementation of
// VectorIndex can back a tier. Two are provided: the built-in graph
// index (index/hnsw) and a chromem-go adapter (index/chromem).
package index

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrUnknownHandle is returned when a handle does not name a live node.
var ErrUnknownHandle = errors.New("index: unknown handle")

// Metadata is the scalar payload mirrored onto an index node.
type Metadata map[string]any

// SearchResult is one candidate returned by a vector index.
type SearchResult struct {
	Handle   string
	Metadata Metadata
	Vector   []float32 // may be nil when the index stores quantized forms
	Score    float64   // cosine-similar, in [0,1]
}

// VectorIndex is the capability set the engine requires from an ANN
// index. Handles returned by InsertWithMetadata are stable until the
// node is physically removed by Compact; callers must address nodes by
// handle, never by insertion order.
type VectorIndex interface {
	// InsertWithMetadata adds a vector and returns a stable handle.
	InsertWithMetadata(ctx context.Context, vector []float32, md Metadata) (string, error)

	// Search returns up to k live candidates ordered by score.
	// Soft-deleted nodes are never returned.
	Search(ctx context.Context, query []float32, k int) ([]SearchResult, error)

	// UpdateMetadata replaces the metadata stored on handle.
	UpdateMetadata(ctx context.Context, handle string, md Metadata) error

	// GetVector returns the stored vector for handle.
	GetVector(ctx context.Context, handle string) ([]float32, error)

	// SoftDelete logically removes handle. Memory is reclaimed by the
	// next Compact.
	SoftDelete(ctx context.Context, handle string) error

	// Compact physically removes soft-deleted nodes and rebuilds
	// adjacency. Live handles remain valid.
	Compact(ctx context.Context) error

	// GetAllMetadata returns the metadata of every live node.
	GetAllMetadata(ctx context.Context) ([]Metadata, error)

	// Len returns the number of live nodes.
	Len() int

	// Save and Load persist the index under name.
	Save(ctx context.Context, name string) error
	Load(ctx context.Context, name string) error
}

// Manager owns the HOT and WARM indexes and the compaction policy:
// soft-deletes are counted, and once the counter crosses the threshold
// a compaction (plus a persistence save) is due. Compaction runs
// single-threaded across both indexes under one lock.
type Manager struct {
	Hot  VectorIndex
	Warm VectorIndex

	mu        sync.Mutex
	deletions int
	threshold int

	compactMu sync.Mutex
	compacting bool
}

// NewManager wires a manager over the two tier indexes.
func NewManager(hot, warm VectorIndex, compactionThreshold int) *Manager {
	if compactionThreshold <= 0 {
		compactionThreshold = 100
	}
	return &Manager{Hot: hot, Warm: warm, threshold: compactionThreshold}
}

// SoftDelete removes handle from idx and bumps the deletions counter.
// It reports whether the counter crossed the compaction threshold.
func (m *Manager) SoftDelete(ctx context.Context, idx VectorIndex, handle string) (bool, error) {
	if err := idx.SoftDelete(ctx, handle); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletions++
	return m.deletions >= m.threshold, nil
}

// NoteDeletions feeds n externally performed removals (e.g. pruned
// COLD rows) into the compaction counter and reports whether it
// crossed the threshold.
func (m *Manager) NoteDeletions(n int) bool {
	if n <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletions += n
	return m.deletions >= m.threshold
}

// Deletions returns the soft-deletes accumulated since the last compaction.
func (m *Manager) Deletions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletions
}

// Compact compacts both indexes. If a compaction is already running the
// call logs and returns immediately; the compact lock is a skip lock,
// not a queue.
func (m *Manager) Compact(ctx context.Context) error {
	m.compactMu.Lock()
	if m.compacting {
		m.compactMu.Unlock()
		log.Printf("[INDEX] Compaction already in flight, skipping")
		return nil
	}
	m.compacting = true
	m.compactMu.Unlock()

	defer func() {
		m.compactMu.Lock()
		m.compacting = false
		m.compactMu.Unlock()
	}()

	if err := m.Hot.Compact(ctx); err != nil {
		return err
	}
	if err := m.Warm.Compact(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.deletions = 0
	m.mu.Unlock()

	log.Printf("[INDEX] Compacted hot and warm indexes")
	return nil
}
