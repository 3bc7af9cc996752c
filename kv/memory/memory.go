// Package memory implements the kv contract with in-process maps.
// It backs tests and examples; the sqlite implementation is the
// persistent production backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/becomeliminal/tiermem-go/kv"
)

// Compile-time interface guards.
var (
	_ kv.Store  = (*mapStore)(nil)
	_ kv.Stores = (*Stores)(nil)
)

// Stores is an in-memory bundle of logical stores.
type Stores struct {
	mu     sync.Mutex
	stores map[string]*mapStore
}

// New creates an empty in-memory store bundle.
func New() *Stores {
	return &Stores{stores: make(map[string]*mapStore)}
}

// Store returns the logical store with the given name, creating it on
// first use.
func (s *Stores) Store(name string) kv.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[name]
	if !ok {
		st = &mapStore{data: make(map[string][]byte)}
		s.stores[name] = st
	}
	return st
}

// Close releases nothing; it exists to satisfy the contract.
func (s *Stores) Close() error { return nil }

type mapStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func (s *mapStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *mapStore) PutBatch(ctx context.Context, entries []kv.Entry) error {
	for _, e := range entries {
		if err := s.Put(ctx, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *mapStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *mapStore) GetAll(ctx context.Context) ([]kv.Entry, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]kv.Entry, 0, len(keys))
	for _, k := range keys {
		v, ok, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, kv.Entry{Key: k, Value: v})
		}
	}
	return entries, nil
}

func (s *mapStore) ScanChunks(ctx context.Context, chunkSize int, fn func(chunk []kv.Entry) (bool, error)) error {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	entries, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(entries); start += chunkSize {
		end := start + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		cont, err := fn(entries[start:end])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (s *mapStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

func (s *mapStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (s *mapStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}
