package codec

import "math"

// int8 scalar quantization with a fixed [-1,1] range. Embeddings are
// unit vectors, so a global scale of 127 keeps every component in
// bounds without per-dimension calibration.
const int8Scale = 127.0

// QuantizeInt8 compresses a float32 vector to int8 codes (1 byte/dim).
// Each component is clamped to [-128, 127] after scaling.
func QuantizeInt8(v []float32) []int8 {
	out := make([]int8, len(v))
	for i, f := range v {
		q := math.Round(float64(f) * int8Scale)
		if q > 127 {
			q = 127
		} else if q < -128 {
			q = -128
		}
		out[i] = int8(q)
	}
	return out
}

// DequantizeInt8 reconstructs a float32 vector from int8 codes.
func DequantizeInt8(codes []int8) []float32 {
	out := make([]float32, len(codes))
	for i, c := range codes {
		out[i] = float32(c) / int8Scale
	}
	return out
}
