// Package hnsw implements the built-in graph vector index.
//
// The graph is a hierarchical navigable small world over cosine
// distance. Soft deletes tombstone a node: it stays in the adjacency as
// a bridge (removing it eagerly would sever paths through it) but is
// never returned from Search. Compact rebuilds the adjacency from the
// live nodes only, preserving handles.
package hnsw

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/becomeliminal/tiermem-go/index"
)

// Options configures the graph.
type Options struct {
	// M is the number of established connections per new element.
	// 12-48 works for most embedding workloads.
	M int

	// EFConstruction is the candidate list size during insertion.
	EFConstruction int

	// EFSearch is the candidate list size during queries.
	EFSearch int

	// Seed fixes level generation for reproducible graphs.
	Seed int64
}

// DefaultOptions match small-to-medium embedding corpora.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       100,
	Seed:           1,
}

type node struct {
	id      uint32
	vector  []float32
	norm    float64
	level   int
	conns   [][]uint32
	meta    index.Metadata
	deleted bool
}

// Index is an in-memory HNSW graph implementing index.VectorIndex.
type Index struct {
	mu   sync.RWMutex
	dim  int
	opts Options
	ml   float64

	nodes    map[uint32]*node
	nextID   uint32
	live     int
	entry    uint32
	hasEntry bool
	maxLevel int

	rng *rand.Rand

	persister Persister
}

// Persister stores serialized index snapshots under a name.
// The kv-backed implementation lives in persist.go.
type Persister interface {
	SaveIndex(ctx context.Context, name string, data []byte) error
	LoadIndex(ctx context.Context, name string) ([]byte, bool, error)
}

var _ index.VectorIndex = (*Index)(nil)

// New creates an empty graph for vectors of the given dimension.
func New(dim int, optFns ...func(o *Options)) *Index {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		opts.M = 2
	}
	return &Index{
		dim:   dim,
		opts:  opts,
		ml:    1 / math.Log(float64(opts.M)),
		nodes: make(map[uint32]*node),
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
}

// SetPersister attaches the persistence backend used by Save and Load.
func (ix *Index) SetPersister(p Persister) { ix.persister = p }

func (ix *Index) cosineDistance(q []float32, qnorm float64, n *node) float64 {
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(n.vector[i])
	}
	denom := qnorm * n.norm
	if denom < 1e-9 {
		return 1
	}
	return 1 - dot/denom
}

func vectorNorm(v []float32) float64 {
	var n float64
	for _, f := range v {
		n += float64(f) * float64(f)
	}
	return math.Sqrt(n)
}

func (ix *Index) randomLevel() int {
	return int(-math.Log(ix.rng.Float64()) * ix.ml)
}

// InsertWithMetadata adds vector to the graph and returns its handle.
func (ix *Index) InsertWithMetadata(ctx context.Context, vector []float32, md index.Metadata) (string, error) {
	if len(vector) != ix.dim {
		return "", fmt.Errorf("hnsw: insert: dimension mismatch: expected %d, got %d", ix.dim, len(vector))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := &node{
		id:     ix.nextID,
		vector: vec,
		norm:   vectorNorm(vec),
		level:  ix.randomLevel(),
		meta:   cloneMetadata(md),
	}
	ix.nextID++
	n.conns = make([][]uint32, n.level+1)

	// Register before wiring: link shrinking looks neighbours up by id.
	ix.nodes[n.id] = n
	ix.insertNode(n)
	ix.live++

	return handleOf(n.id), nil
}

// insertNode wires n into the graph. Caller holds the write lock and
// has sized n.conns.
func (ix *Index) insertNode(n *node) {
	if !ix.hasEntry {
		ix.entry = n.id
		ix.maxLevel = n.level
		ix.hasEntry = true
		return
	}

	ep := ix.entry
	for l := ix.maxLevel; l > n.level; l-- {
		ep = ix.greedyClosest(n.vector, n.norm, ep, l)
	}

	top := n.level
	if ix.maxLevel < top {
		top = ix.maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := ix.searchLayer(n.vector, n.norm, ep, ix.opts.EFConstruction, l)
		if len(cands) == 0 {
			continue
		}
		ep = cands[0].id

		m := ix.opts.M
		if len(cands) < m {
			m = len(cands)
		}
		for _, c := range cands[:m] {
			ix.link(n, ix.nodes[c.id], l)
		}
	}

	if n.level > ix.maxLevel {
		ix.maxLevel = n.level
		ix.entry = n.id
	}
}

// link connects a and b on level l and shrinks overflowing neighbour
// lists back to the per-level cap.
func (ix *Index) link(a, b *node, l int) {
	a.conns[l] = append(a.conns[l], b.id)
	b.conns[l] = append(b.conns[l], a.id)

	ix.shrink(a, l)
	ix.shrink(b, l)
}

func (ix *Index) shrink(n *node, l int) {
	capacity := ix.opts.M
	if l == 0 {
		capacity = 2 * ix.opts.M
	}
	if len(n.conns[l]) <= capacity {
		return
	}

	// Keep the closest neighbours.
	type scored struct {
		id   uint32
		dist float64
	}
	list := make([]scored, 0, len(n.conns[l]))
	for _, id := range n.conns[l] {
		nb, ok := ix.nodes[id]
		if !ok {
			continue
		}
		list = append(list, scored{id, ix.cosineDistance(n.vector, n.norm, nb)})
	}
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].dist < list[j-1].dist; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	if len(list) > capacity {
		list = list[:capacity]
	}
	conns := make([]uint32, len(list))
	for i, s := range list {
		conns[i] = s.id
	}
	n.conns[l] = conns
}

// greedyClosest walks level l from ep toward q until no neighbour improves.
func (ix *Index) greedyClosest(q []float32, qnorm float64, ep uint32, l int) uint32 {
	curr := ep
	currNode, ok := ix.nodes[curr]
	if !ok {
		return ep
	}
	currDist := ix.cosineDistance(q, qnorm, currNode)

	for {
		improved := false
		if l < len(currNode.conns) {
			for _, id := range currNode.conns[l] {
				nb, ok := ix.nodes[id]
				if !ok {
					continue
				}
				if d := ix.cosineDistance(q, qnorm, nb); d < currDist {
					curr, currNode, currDist = id, nb, d
					improved = true
				}
			}
		}
		if !improved {
			return curr
		}
	}
}

type qitem struct {
	id   uint32
	dist float64
}

// minQueue pops the closest item first; maxQueue the farthest.
type minQueue []qitem

func (q minQueue) Len() int            { return len(q) }
func (q minQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q minQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x any)         { *q = append(*q, x.(qitem)) }
func (q *minQueue) Pop() any           { old := *q; n := len(old); it := old[n-1]; *q = old[:n-1]; return it }

type maxQueue []qitem

func (q maxQueue) Len() int            { return len(q) }
func (q maxQueue) Less(i, j int) bool  { return q[i].dist > q[j].dist }
func (q maxQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *maxQueue) Push(x any)         { *q = append(*q, x.(qitem)) }
func (q *maxQueue) Pop() any           { old := *q; n := len(old); it := old[n-1]; *q = old[:n-1]; return it }

// searchLayer runs the beam search on one level. Tombstoned nodes
// participate as bridges; filtering happens in Search. Results are
// sorted by ascending distance.
func (ix *Index) searchLayer(q []float32, qnorm float64, ep uint32, ef int, l int) []qitem {
	epNode, ok := ix.nodes[ep]
	if !ok {
		return nil
	}

	visited := map[uint32]bool{ep: true}
	d := ix.cosineDistance(q, qnorm, epNode)

	cand := &minQueue{{ep, d}}
	res := &maxQueue{{ep, d}}
	heap.Init(cand)
	heap.Init(res)

	for cand.Len() > 0 {
		c := heap.Pop(cand).(qitem)
		if res.Len() >= ef && c.dist > (*res)[0].dist {
			break
		}
		cn := ix.nodes[c.id]
		if cn == nil || l >= len(cn.conns) {
			continue
		}
		for _, id := range cn.conns[l] {
			if visited[id] {
				continue
			}
			visited[id] = true
			nb, ok := ix.nodes[id]
			if !ok {
				continue
			}
			d := ix.cosineDistance(q, qnorm, nb)
			if res.Len() < ef || d < (*res)[0].dist {
				heap.Push(cand, qitem{id, d})
				heap.Push(res, qitem{id, d})
				if res.Len() > ef {
					heap.Pop(res)
				}
			}
		}
	}

	out := make([]qitem, res.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(res).(qitem)
	}
	return out
}

// Search returns up to k live candidates ordered by descending score.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]index.SearchResult, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("hnsw: search: dimension mismatch: expected %d, got %d", ix.dim, len(query))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.hasEntry || ix.live == 0 || k <= 0 {
		return nil, nil
	}

	qnorm := vectorNorm(query)

	ep := ix.entry
	for l := ix.maxLevel; l > 0; l-- {
		ep = ix.greedyClosest(query, qnorm, ep, l)
	}

	ef := ix.opts.EFSearch
	if ef < 2*k {
		ef = 2 * k
	}
	cands := ix.searchLayer(query, qnorm, ep, ef, 0)

	results := make([]index.SearchResult, 0, k)
	for _, c := range cands {
		n := ix.nodes[c.id]
		if n == nil || n.deleted {
			continue
		}
		score := 1 - c.dist
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		vec := make([]float32, len(n.vector))
		copy(vec, n.vector)
		results = append(results, index.SearchResult{
			Handle:   handleOf(n.id),
			Metadata: cloneMetadata(n.meta),
			Vector:   vec,
			Score:    score,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// UpdateMetadata replaces the metadata stored on handle.
func (ix *Index) UpdateMetadata(ctx context.Context, handle string, md index.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := ix.liveNode(handle)
	if n == nil {
		return index.ErrUnknownHandle
	}
	n.meta = cloneMetadata(md)
	return nil
}

// GetVector returns a copy of the stored vector for handle.
func (ix *Index) GetVector(ctx context.Context, handle string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := ix.liveNode(handle)
	if n == nil {
		return nil, index.ErrUnknownHandle
	}
	vec := make([]float32, len(n.vector))
	copy(vec, n.vector)
	return vec, nil
}

// SoftDelete tombstones handle.
func (ix *Index) SoftDelete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := ix.liveNode(handle)
	if n == nil {
		return index.ErrUnknownHandle
	}
	n.deleted = true
	ix.live--
	return nil
}

// Compact drops tombstoned nodes and rebuilds the adjacency from the
// survivors. Handles of live nodes are preserved.
func (ix *Index) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	survivors := make([]*node, 0, ix.live)
	for _, n := range ix.nodes {
		if !n.deleted {
			survivors = append(survivors, n)
		}
	}
	// Deterministic rebuild order.
	for i := 1; i < len(survivors); i++ {
		for j := i; j > 0 && survivors[j].id < survivors[j-1].id; j-- {
			survivors[j], survivors[j-1] = survivors[j-1], survivors[j]
		}
	}

	ix.nodes = make(map[uint32]*node, len(survivors))
	ix.hasEntry = false
	ix.maxLevel = 0
	ix.live = 0

	for _, n := range survivors {
		n.conns = make([][]uint32, n.level+1)
		ix.nodes[n.id] = n
		ix.insertNode(n)
		ix.live++
	}
	return nil
}

// GetAllMetadata returns the metadata of every live node.
func (ix *Index) GetAllMetadata(ctx context.Context) ([]index.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]index.Metadata, 0, ix.live)
	for _, n := range ix.nodes {
		if !n.deleted {
			out = append(out, cloneMetadata(n.meta))
		}
	}
	return out, nil
}

// Len returns the number of live nodes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.live
}

func (ix *Index) liveNode(handle string) *node {
	id, err := strconv.ParseUint(handle, 10, 32)
	if err != nil {
		return nil
	}
	n, ok := ix.nodes[uint32(id)]
	if !ok || n.deleted {
		return nil
	}
	return n
}

func handleOf(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
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
