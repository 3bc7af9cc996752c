package hnsw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/becomeliminal/tiermem-go/index"
	"github.com/becomeliminal/tiermem-go/kv"
)

// ErrNoPersister is returned by Save/Load when no backend is attached.
var ErrNoPersister = errors.New("hnsw: no persister attached")

type persistedNode struct {
	ID      uint32         `json:"id"`
	Vector  []float32      `json:"vector"`
	Level   int            `json:"level"`
	Conns   [][]uint32     `json:"conns"`
	Meta    index.Metadata `json:"meta,omitempty"`
	Deleted bool           `json:"deleted,omitempty"`
}

type persistedIndex struct {
	Dim      int             `json:"dim"`
	NextID   uint32          `json:"next_id"`
	Entry    uint32          `json:"entry"`
	HasEntry bool            `json:"has_entry"`
	MaxLevel int             `json:"max_level"`
	Nodes    []persistedNode `json:"nodes"`
}

// Save serializes the graph under name.
func (ix *Index) Save(ctx context.Context, name string) error {
	if ix.persister == nil {
		return ErrNoPersister
	}

	ix.mu.RLock()
	snap := persistedIndex{
		Dim:      ix.dim,
		NextID:   ix.nextID,
		Entry:    ix.entry,
		HasEntry: ix.hasEntry,
		MaxLevel: ix.maxLevel,
		Nodes:    make([]persistedNode, 0, len(ix.nodes)),
	}
	for _, n := range ix.nodes {
		snap.Nodes = append(snap.Nodes, persistedNode{
			ID:      n.id,
			Vector:  n.vector,
			Level:   n.level,
			Conns:   n.conns,
			Meta:    n.meta,
			Deleted: n.deleted,
		})
	}
	ix.mu.RUnlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("hnsw: marshal %s: %w", name, err)
	}
	return ix.persister.SaveIndex(ctx, name, data)
}

// Load restores the graph saved under name. A missing snapshot leaves
// the index empty and is not an error.
func (ix *Index) Load(ctx context.Context, name string) error {
	if ix.persister == nil {
		return ErrNoPersister
	}

	data, ok, err := ix.persister.LoadIndex(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("[INDEX] No snapshot for %q, starting empty", name)
		return nil
	}

	var snap persistedIndex
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("hnsw: decode %s: %w", name, err)
	}
	if snap.Dim != ix.dim {
		return fmt.Errorf("hnsw: snapshot %s has dimension %d, index expects %d", name, snap.Dim, ix.dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.nodes = make(map[uint32]*node, len(snap.Nodes))
	ix.live = 0
	for _, pn := range snap.Nodes {
		n := &node{
			id:      pn.ID,
			vector:  pn.Vector,
			norm:    vectorNorm(pn.Vector),
			level:   pn.Level,
			conns:   pn.Conns,
			meta:    pn.Meta,
			deleted: pn.Deleted,
		}
		if n.conns == nil {
			n.conns = make([][]uint32, n.level+1)
		}
		ix.nodes[n.id] = n
		if !n.deleted {
			ix.live++
		}
	}
	ix.nextID = snap.NextID
	ix.entry = snap.Entry
	ix.hasEntry = snap.HasEntry
	ix.maxLevel = snap.MaxLevel
	return nil
}

// KVPersister stores snapshots as rows in a kv store.
type KVPersister struct {
	Store kv.Store
}

func (p KVPersister) SaveIndex(ctx context.Context, name string, data []byte) error {
	return p.Store.Put(ctx, "index:"+name, data)
}

func (p KVPersister) LoadIndex(ctx context.Context, name string) ([]byte, bool, error) {
	return p.Store.Get(ctx, "index:"+name)
}
