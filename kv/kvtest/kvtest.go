// Package kvtest holds the shared conformance suite for kv.Stores
// implementations.
package kvtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/becomeliminal/tiermem-go/kv"
)

// Run exercises the kv contract against the given bundle.
func Run(t *testing.T, stores kv.Stores) {
	t.Helper()
	ctx := context.Background()
	st := stores.Store(kv.StoreWarm)

	// Put / Get
	if err := st.Put(ctx, "a", []byte("alpha")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := st.Get(ctx, "a")
	if err != nil || !ok || string(v) != "alpha" {
		t.Fatalf("get: %q ok=%v err=%v", v, ok, err)
	}

	// Overwrite
	if err := st.Put(ctx, "a", []byte("alpha2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, _, _ = st.Get(ctx, "a")
	if string(v) != "alpha2" {
		t.Fatalf("overwrite not visible: %q", v)
	}

	// Missing key
	_, ok, err = st.Get(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	// Batch + Count + Keys
	batch := make([]kv.Entry, 0, 25)
	for i := 0; i < 25; i++ {
		batch = append(batch, kv.Entry{
			Key:   fmt.Sprintf("k%03d", i),
			Value: []byte(fmt.Sprintf("v%d", i)),
		})
	}
	if err := st.PutBatch(ctx, batch); err != nil {
		t.Fatalf("put batch: %v", err)
	}
	n, err := st.Count(ctx)
	if err != nil || n != 26 {
		t.Fatalf("count: %d err=%v", n, err)
	}
	keys, err := st.Keys(ctx)
	if err != nil || len(keys) != 26 {
		t.Fatalf("keys: %d err=%v", len(keys), err)
	}
	if keys[0] != "a" || keys[1] != "k000" {
		t.Fatalf("keys not in order: %v", keys[:2])
	}

	// ScanChunks respects chunk size and order
	var seen []string
	var chunks int
	err = st.ScanChunks(ctx, 10, func(chunk []kv.Entry) (bool, error) {
		chunks++
		if len(chunk) > 10 {
			t.Fatalf("chunk too large: %d", len(chunk))
		}
		for _, e := range chunk {
			seen = append(seen, e.Key)
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(seen) != 26 || chunks < 3 {
		t.Fatalf("scan saw %d keys in %d chunks", len(seen), chunks)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("scan out of order at %d: %s >= %s", i, seen[i-1], seen[i])
		}
	}

	// Early exit
	var firstChunk int
	err = st.ScanChunks(ctx, 10, func(chunk []kv.Entry) (bool, error) {
		firstChunk = len(chunk)
		return false, nil
	})
	if err != nil || firstChunk != 10 {
		t.Fatalf("early exit: %d err=%v", firstChunk, err)
	}

	// Delete (absent delete is not an error)
	if err := st.Delete(ctx, "k000"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, "k000"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	_, ok, _ = st.Get(ctx, "k000")
	if ok {
		t.Fatal("deleted key still present")
	}

	// Store isolation
	other := stores.Store(kv.StoreCold)
	if n, _ := other.Count(ctx); n != 0 {
		t.Fatalf("stores not isolated: cold has %d rows", n)
	}
	if err := other.Put(ctx, "a", []byte("cold")); err != nil {
		t.Fatalf("cold put: %v", err)
	}
	v, _, _ = st.Get(ctx, "a")
	if string(v) != "alpha2" {
		t.Fatalf("cold write leaked into warm: %q", v)
	}

	// Clear
	if err := st.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Fatalf("clear left %d rows", n)
	}
	if n, _ := other.Count(ctx); n != 1 {
		t.Fatalf("clear crossed stores: cold has %d rows", n)
	}
}
