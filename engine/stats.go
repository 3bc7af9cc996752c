package engine

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/becomeliminal/tiermem-go/record"
)

// exportVersion tags export payloads.
const exportVersion = "1"

// Stats is the engine-wide counter snapshot.
type Stats struct {
	Total                     int        `json:"total"`
	Hot                       int        `json:"hot"`
	Warm                      int        `json:"warm"`
	Cold                      int        `json:"cold"`
	Journal                   int        `json:"journal"`
	JournalCounter            uint64     `json:"journalCounter"`
	RecordsSinceConsolidation int        `json:"records_since_consolidation"`
	DeletionsSinceCompaction  int        `json:"deletions_since_compaction"`
	MutationsSinceLastSave    int        `json:"mutations_since_last_save"`
	Memory                    MemoryInfo `json:"memory"`
	Config                    Config     `json:"config"`
}

// GetStats reports tier sizes, counters and memory headroom.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	if err := e.ensureReady(); err != nil {
		return nil, err
	}

	warmCount, err := e.warm.Count(ctx)
	if err != nil {
		return nil, err
	}
	coldCount, err := e.cold.Count(ctx)
	if err != nil {
		return nil, err
	}
	journalLen, err := e.jnl.Len(ctx)
	if err != nil {
		return nil, err
	}

	var memory MemoryInfo
	if e.prober != nil {
		if info, err := e.prober.MemoryInfo(ctx); err == nil {
			memory = info
		}
	}

	e.mu.Lock()
	sinceConsolidation := e.recordsSinceConsolidation
	sinceSave := e.mutationsSinceLastSave
	e.mu.Unlock()

	hot := e.indexes.Hot.Len()
	return &Stats{
		Total:                     hot + warmCount + coldCount,
		Hot:                       hot,
		Warm:                      warmCount,
		Cold:                      coldCount,
		Journal:                   journalLen,
		JournalCounter:            e.jnl.Counter(),
		RecordsSinceConsolidation: sinceConsolidation,
		DeletionsSinceCompaction:  e.indexes.Deletions(),
		MutationsSinceLastSave:    sinceSave,
		Memory:                    memory,
		Config:                    e.cfg,
	}, nil
}

// Export is the portable dump of an engine instance. Embeddings are
// omitted; they are derivable by re-encoding the texts.
type Export struct {
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Config    Config                 `json:"config"`
	Stats     *Stats                 `json:"stats"`
	Records   []*record.MemoryRecord `json:"records"`
}

// ExportData collects every live record, stripped of embeddings.
func (e *Engine) ExportData(ctx context.Context) (*Export, error) {
	stats, err := e.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	records, err := e.GetAllRecords(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.Embedding = nil
	}
	return &Export{
		Version:   exportVersion,
		Timestamp: time.Now().UnixMilli(),
		Config:    e.cfg,
		Stats:     stats,
		Records:   records,
	}, nil
}

// ExportEncrypted serializes the export and seals it with the
// instance's 256-bit key (AES-GCM, fresh 12-byte nonce prepended).
func (e *Engine) ExportEncrypted(ctx context.Context) ([]byte, error) {
	data, err := e.ExportData(ctx)
	if err != nil {
		return nil, err
	}
	plain, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("export cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("export gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("export nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// DecryptExport opens a payload produced by ExportEncrypted.
func (e *Engine) DecryptExport(data []byte) (*Export, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("export payload too short")
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	var out Export
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return &out, nil
}
