// Package codec implements the storage codecs of the memory engine:
// float32↔int8 and float32↔float16 vector quantization, cosine
// similarity, and the salted content hashes used for integrity checks.
//
// Quantization exists to shrink at-rest embeddings: WARM rows store
// binary16 bit-patterns (half the size, ~1% cosine error), COLD rows
// store int8 codes (a quarter of the size, ~5% cosine error).
// Execution always happens in float32.
package codec
