package hnsw_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/becomeliminal/tiermem-go/index"
	"github.com/becomeliminal/tiermem-go/index/hnsw"
	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/kv/memory"
)

const dim = 32

func randomVector(r *rand.Rand) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	ix := hnsw.New(dim)
	r := rand.New(rand.NewSource(3))

	vectors := make([][]float32, 50)
	handles := make([]string, 50)
	for i := range vectors {
		vectors[i] = randomVector(r)
		h, err := ix.InsertWithMetadata(ctx, vectors[i], index.Metadata{"i": i})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		handles[i] = h
	}

	if ix.Len() != 50 {
		t.Fatalf("len: %d", ix.Len())
	}

	// Querying with a stored vector must return its own handle first.
	for _, probe := range []int{0, 17, 49} {
		res, err := ix.Search(ctx, vectors[probe], 1)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(res) != 1 || res[0].Handle != handles[probe] {
			t.Errorf("probe %d: got %+v, want handle %s", probe, res, handles[probe])
		}
		if res[0].Score < 0.99 {
			t.Errorf("self-similarity %v", res[0].Score)
		}
		if res[0].Metadata["i"] != probe {
			t.Errorf("metadata lost: %+v", res[0].Metadata)
		}
	}
}

func TestDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	ix := hnsw.New(dim)
	if _, err := ix.InsertWithMetadata(ctx, make([]float32, dim+1), nil); err == nil {
		t.Error("insert accepted wrong dimension")
	}
	if _, err := ix.Search(ctx, make([]float32, dim-1), 1); err == nil {
		t.Error("search accepted wrong dimension")
	}
}

func TestSoftDeleteExcludedUntilCompact(t *testing.T) {
	ctx := context.Background()
	ix := hnsw.New(dim)
	r := rand.New(rand.NewSource(9))

	var handles []string
	var vectors [][]float32
	for i := 0; i < 30; i++ {
		v := randomVector(r)
		h, err := ix.InsertWithMetadata(ctx, v, index.Metadata{"i": i})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		handles = append(handles, h)
		vectors = append(vectors, v)
	}

	if err := ix.SoftDelete(ctx, handles[5]); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	res, err := ix.Search(ctx, vectors[5], 30)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, c := range res {
		if c.Handle == handles[5] {
			t.Fatal("soft-deleted handle returned from search")
		}
	}
	if ix.Len() != 29 {
		t.Errorf("len after delete: %d", ix.Len())
	}

	// Deleted handles reject mutation.
	if err := ix.UpdateMetadata(ctx, handles[5], index.Metadata{}); err != index.ErrUnknownHandle {
		t.Errorf("update on deleted handle: %v", err)
	}

	if err := ix.Compact(ctx); err != nil {
		t.Fatalf("compact: %v", err)
	}

	// Survivors keep their handles and stay findable.
	res, err = ix.Search(ctx, vectors[12], 1)
	if err != nil {
		t.Fatalf("search after compact: %v", err)
	}
	if len(res) != 1 || res[0].Handle != handles[12] {
		t.Errorf("handle not stable across compact: %+v", res)
	}
}

func TestUpdateMetadataAndGetVector(t *testing.T) {
	ctx := context.Background()
	ix := hnsw.New(dim)
	r := rand.New(rand.NewSource(11))

	v := randomVector(r)
	h, err := ix.InsertWithMetadata(ctx, v, index.Metadata{"usage": 0})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := ix.UpdateMetadata(ctx, h, index.Metadata{"usage": 3}); err != nil {
		t.Fatalf("update: %v", err)
	}
	md, err := ix.GetAllMetadata(ctx)
	if err != nil || len(md) != 1 || md[0]["usage"] != 3 {
		t.Errorf("metadata: %+v err=%v", md, err)
	}

	got, err := ix.GetVector(ctx, h)
	if err != nil {
		t.Fatalf("get vector: %v", err)
	}
	for i := range v {
		if got[i] != v[i] {
			t.Fatalf("vector mismatch at %d", i)
		}
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	p := hnsw.KVPersister{Store: stores.Store(kv.StoreMeta)}

	ix := hnsw.New(dim)
	ix.SetPersister(p)
	r := rand.New(rand.NewSource(21))

	var vectors [][]float32
	var handles []string
	for i := 0; i < 40; i++ {
		v := randomVector(r)
		h, err := ix.InsertWithMetadata(ctx, v, index.Metadata{"i": i})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		vectors = append(vectors, v)
		handles = append(handles, h)
	}
	if err := ix.Save(ctx, "hot"); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := hnsw.New(dim)
	loaded.SetPersister(p)
	if err := loaded.Load(ctx, "hot"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 40 {
		t.Fatalf("len after load: %d", loaded.Len())
	}

	res, err := loaded.Search(ctx, vectors[7], 1)
	if err != nil || len(res) != 1 || res[0].Handle != handles[7] {
		t.Errorf("search after load: %+v err=%v", res, err)
	}

	// Missing snapshot: empty index, no error.
	empty := hnsw.New(dim)
	empty.SetPersister(p)
	if err := empty.Load(ctx, "nope"); err != nil {
		t.Errorf("load missing snapshot: %v", err)
	}
	if empty.Len() != 0 {
		t.Errorf("missing snapshot should load empty, len=%d", empty.Len())
	}
}

func TestManagerCompactionPolicy(t *testing.T) {
	ctx := context.Background()
	hot := hnsw.New(dim)
	warm := hnsw.New(dim)
	mgr := index.NewManager(hot, warm, 3)
	r := rand.New(rand.NewSource(5))

	var handles []string
	for i := 0; i < 5; i++ {
		h, err := warm.InsertWithMetadata(ctx, randomVector(r), nil)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		handles = append(handles, h)
	}

	due, err := mgr.SoftDelete(ctx, warm, handles[0])
	if err != nil || due {
		t.Fatalf("first delete: due=%v err=%v", due, err)
	}
	due, _ = mgr.SoftDelete(ctx, warm, handles[1])
	if due {
		t.Fatal("second delete should not cross threshold 3")
	}
	due, _ = mgr.SoftDelete(ctx, warm, handles[2])
	if !due {
		t.Fatal("third delete should cross threshold 3")
	}

	if err := mgr.Compact(ctx); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if mgr.Deletions() != 0 {
		t.Errorf("deletions not reset: %d", mgr.Deletions())
	}
	if warm.Len() != 2 {
		t.Errorf("warm len after compact: %d", warm.Len())
	}
}
