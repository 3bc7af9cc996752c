package record

import (
	"encoding/json"
	"fmt"

	"github.com/becomeliminal/tiermem-go/codec"
)

// Stored forms. WARM rows carry the embedding as binary16 bit-patterns,
// COLD rows as int8 codes. Scalar fields travel unchanged.

// WarmRow is the serialized WARM-store form of a record.
type WarmRow struct {
	MemoryRecord
	EmbeddingF16 []uint16 `json:"embedding_f16"`
}

// ColdRow is the serialized COLD-store form of a record.
type ColdRow struct {
	MemoryRecord
	EmbeddingI8 []int8 `json:"embedding_i8"`
}

// EncodeWarm serializes r for the WARM store.
func EncodeWarm(r *MemoryRecord) ([]byte, error) {
	row := WarmRow{MemoryRecord: *r, EmbeddingF16: codec.QuantizeFloat16(r.Embedding)}
	row.Embedding = nil
	b, err := json.Marshal(&row)
	if err != nil {
		return nil, fmt.Errorf("encode warm row %s: %w", r.ID, err)
	}
	return b, nil
}

// DecodeWarm deserializes a WARM row, reconstructing the float32
// embedding from its binary16 form.
func DecodeWarm(data []byte) (*MemoryRecord, error) {
	var row WarmRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode warm row: %w", err)
	}
	r := row.MemoryRecord
	r.Embedding = codec.DequantizeFloat16(row.EmbeddingF16)
	r.CurrentTier = TierWarm
	return &r, nil
}

// EncodeCold serializes r for the COLD store.
func EncodeCold(r *MemoryRecord) ([]byte, error) {
	row := ColdRow{MemoryRecord: *r, EmbeddingI8: codec.QuantizeInt8(r.Embedding)}
	row.Embedding = nil
	b, err := json.Marshal(&row)
	if err != nil {
		return nil, fmt.Errorf("encode cold row %s: %w", r.ID, err)
	}
	return b, nil
}

// DecodeCold deserializes a COLD row, reconstructing the float32
// embedding from its int8 form.
func DecodeCold(data []byte) (*MemoryRecord, error) {
	var row ColdRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode cold row: %w", err)
	}
	r := row.MemoryRecord
	r.Embedding = codec.DequantizeInt8(row.EmbeddingI8)
	r.CurrentTier = TierCold
	return &r, nil
}
