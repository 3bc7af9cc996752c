// Package chromem adapts chromem-go (a pure Go embedded vector
// database) to the index contract.
//
// chromem stores documents and answers embedding queries; handles,
// rich metadata, soft deletes and persistence live in an adapter-side
// sidecar. Compact flushes tombstoned documents out of the collection.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/tiermem-go/index"
	"github.com/becomeliminal/tiermem-go/kv"
)

var _ index.VectorIndex = (*Index)(nil)

type entry struct {
	Vector []float32      `json:"vector"`
	Meta   index.Metadata `json:"meta,omitempty"`
}

// Index is a chromem-backed vector index.
type Index struct {
	mu         sync.Mutex
	db         *chromem.DB
	col        *chromem.Collection
	dim        int
	name       string
	entries    map[string]*entry // live + tombstoned, by handle
	tombstones map[string]bool
	store      kv.Store // optional persistence
}

// New creates an adapter over a fresh in-process chromem collection.
func New(name string, dim int) (*Index, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}
	return &Index{
		db:         db,
		col:        col,
		dim:        dim,
		name:       name,
		entries:    make(map[string]*entry),
		tombstones: make(map[string]bool),
	}, nil
}

// SetStore attaches the kv store used by Save and Load.
func (ix *Index) SetStore(store kv.Store) { ix.store = store }

// InsertWithMetadata adds a vector and returns its handle.
func (ix *Index) InsertWithMetadata(ctx context.Context, vector []float32, md index.Metadata) (string, error) {
	if len(vector) != ix.dim {
		return "", fmt.Errorf("chromem: insert: dimension mismatch: expected %d, got %d", ix.dim, len(vector))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	handle := uuid.New().String()
	vec := make([]float32, len(vector))
	copy(vec, vector)

	content, _ := md["text"].(string)
	if err := ix.col.AddDocument(ctx, chromem.Document{
		ID:        handle,
		Content:   content,
		Embedding: vec,
	}); err != nil {
		return "", fmt.Errorf("chromem: add document: %w", err)
	}

	ix.entries[handle] = &entry{Vector: vec, Meta: cloneMetadata(md)}
	return handle, nil
}

// Search returns up to k live candidates ordered by similarity.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]index.SearchResult, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("chromem: search: dimension mismatch: expected %d, got %d", ix.dim, len(query))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if k <= 0 {
		return nil, nil
	}

	// chromem caps nResults at the collection size, which still counts
	// tombstoned documents. Over-fetch so k live results survive the
	// tombstone filter.
	n := k + len(ix.tombstones)
	if total := ix.col.Count(); n > total {
		n = total
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := ix.col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	out := make([]index.SearchResult, 0, k)
	for _, res := range results {
		if ix.tombstones[res.ID] {
			continue
		}
		e, ok := ix.entries[res.ID]
		if !ok {
			continue
		}
		score := float64(res.Similarity)
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		out = append(out, index.SearchResult{
			Handle:   res.ID,
			Metadata: cloneMetadata(e.Meta),
			Vector:   vec,
			Score:    score,
		})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// UpdateMetadata replaces the metadata for handle.
func (ix *Index) UpdateMetadata(ctx context.Context, handle string, md index.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e := ix.live(handle)
	if e == nil {
		return index.ErrUnknownHandle
	}
	e.Meta = cloneMetadata(md)
	return nil
}

// GetVector returns the stored vector for handle.
func (ix *Index) GetVector(ctx context.Context, handle string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e := ix.live(handle)
	if e == nil {
		return nil, index.ErrUnknownHandle
	}
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	return vec, nil
}

// SoftDelete tombstones handle; the document stays in the collection
// until Compact.
func (ix *Index) SoftDelete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.live(handle) == nil {
		return index.ErrUnknownHandle
	}
	ix.tombstones[handle] = true
	return nil
}

// Compact removes tombstoned documents from the collection.
func (ix *Index) Compact(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(ix.tombstones) == 0 {
		return nil
	}
	ids := make([]string, 0, len(ix.tombstones))
	for id := range ix.tombstones {
		ids = append(ids, id)
	}
	if err := ix.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem: delete: %w", err)
	}
	for _, id := range ids {
		delete(ix.entries, id)
	}
	ix.tombstones = make(map[string]bool)
	log.Printf("[CHROMEM] Compacted %d tombstoned documents", len(ids))
	return nil
}

// GetAllMetadata returns the metadata of every live document.
func (ix *Index) GetAllMetadata(ctx context.Context) ([]index.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	out := make([]index.Metadata, 0, len(ix.entries))
	for handle, e := range ix.entries {
		if !ix.tombstones[handle] {
			out = append(out, cloneMetadata(e.Meta))
		}
	}
	return out, nil
}

// Len returns the number of live documents.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries) - len(ix.tombstones)
}

// Save persists the sidecar (vectors included) under name.
func (ix *Index) Save(ctx context.Context, name string) error {
	if ix.store == nil {
		return fmt.Errorf("chromem: no store attached")
	}

	ix.mu.Lock()
	snap := struct {
		Dim        int               `json:"dim"`
		Entries    map[string]*entry `json:"entries"`
		Tombstones map[string]bool   `json:"tombstones,omitempty"`
	}{ix.dim, ix.entries, ix.tombstones}
	data, err := json.Marshal(&snap)
	ix.mu.Unlock()
	if err != nil {
		return fmt.Errorf("chromem: marshal %s: %w", name, err)
	}
	return ix.store.Put(ctx, "index:"+name, data)
}

// Load restores the sidecar saved under name and re-adds the live
// documents to a fresh collection. A missing snapshot is not an error.
func (ix *Index) Load(ctx context.Context, name string) error {
	if ix.store == nil {
		return fmt.Errorf("chromem: no store attached")
	}

	data, ok, err := ix.store.Get(ctx, "index:"+name)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("[CHROMEM] No snapshot for %q, starting empty", name)
		return nil
	}

	var snap struct {
		Dim        int               `json:"dim"`
		Entries    map[string]*entry `json:"entries"`
		Tombstones map[string]bool   `json:"tombstones"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("chromem: decode %s: %w", name, err)
	}
	if snap.Dim != ix.dim {
		return fmt.Errorf("chromem: snapshot %s has dimension %d, index expects %d", name, snap.Dim, ix.dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	db := chromem.NewDB()
	col, err := db.CreateCollection(ix.name, nil, nil)
	if err != nil {
		return fmt.Errorf("chromem: recreate collection: %w", err)
	}

	ix.entries = make(map[string]*entry, len(snap.Entries))
	ix.tombstones = make(map[string]bool)
	for handle, e := range snap.Entries {
		if snap.Tombstones[handle] {
			continue // tombstones do not survive a reload
		}
		content, _ := e.Meta["text"].(string)
		if err := col.AddDocument(ctx, chromem.Document{
			ID:        handle,
			Content:   content,
			Embedding: e.Vector,
		}); err != nil {
			return fmt.Errorf("chromem: re-add %s: %w", handle, err)
		}
		ix.entries[handle] = e
	}
	ix.db = db
	ix.col = col
	return nil
}

func (ix *Index) live(handle string) *entry {
	if ix.tombstones[handle] {
		return nil
	}
	return ix.entries[handle]
}

func cloneMetadata(md index.Metadata) index.Metadata {
	if md == nil {
		return nil
	}
	cp := make(index.Metadata, len(md))
	for k, v := range md {
		cp[k] = v
	}
	return cp
}
