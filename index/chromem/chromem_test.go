package chromem_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/becomeliminal/tiermem-go/index"
	"github.com/becomeliminal/tiermem-go/index/chromem"
	"github.com/becomeliminal/tiermem-go/kv"
	"github.com/becomeliminal/tiermem-go/kv/memory"
)

const dim = 16

func unitVector(r *rand.Rand) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func TestChromemAdapter(t *testing.T) {
	ctx := context.Background()
	ix, err := chromem.New("warm", dim)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r := rand.New(rand.NewSource(1))

	var handles []string
	var vectors [][]float32
	for i := 0; i < 20; i++ {
		v := unitVector(r)
		h, err := ix.InsertWithMetadata(ctx, v, index.Metadata{"i": i, "text": "doc"})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		handles = append(handles, h)
		vectors = append(vectors, v)
	}

	res, err := ix.Search(ctx, vectors[3], 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Handle != handles[3] {
		t.Fatalf("self lookup failed: %+v", res)
	}

	// Soft delete hides until compact.
	if err := ix.SoftDelete(ctx, handles[3]); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	res, _ = ix.Search(ctx, vectors[3], 20)
	for _, c := range res {
		if c.Handle == handles[3] {
			t.Fatal("tombstoned handle returned")
		}
	}
	if ix.Len() != 19 {
		t.Errorf("len: %d", ix.Len())
	}
	if err := ix.Compact(ctx); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if ix.Len() != 19 {
		t.Errorf("len after compact: %d", ix.Len())
	}
}

func TestChromemSaveLoad(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()

	ix, err := chromem.New("warm", dim)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ix.SetStore(stores.Store(kv.StoreMeta))
	r := rand.New(rand.NewSource(2))

	v := unitVector(r)
	h, err := ix.InsertWithMetadata(ctx, v, index.Metadata{"text": "hello"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ix.Save(ctx, "warm"); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := chromem.New("warm", dim)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	loaded.SetStore(stores.Store(kv.StoreMeta))
	if err := loaded.Load(ctx, "warm"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Fatalf("len after load: %d", loaded.Len())
	}
	res, err := loaded.Search(ctx, v, 1)
	if err != nil || len(res) != 1 || res[0].Handle != h {
		t.Errorf("search after load: %+v err=%v", res, err)
	}
}
