package vectorindex

import (
	"sync"

	"github.com/x448/float16"
)

// Vectors are stored as IEEE 754 binary16. They are unit length, so the
// 10-bit mantissa costs well under 1e-3 of cosine accuracy while halving
// memory and file size.

// toHalf converts f to binary16 with round-to-nearest-even
func toHalf(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

var (
	halfTableOnce sync.Once
	halfTable     []float32
)

// fromHalf decodes via a lookup table built on first use; distance
// computations decode every stored component.
func fromHalf(h uint16) float32 {
	halfTableOnce.Do(func() {
		halfTable = make([]float32, 1<<16)
		for i := range halfTable {
			halfTable[i] = float16.Frombits(uint16(i)).Float32()
		}
	})
	return halfTable[h]
}

// encodeHalf quantizes v
func encodeHalf(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, f := range v {
		out[i] = toHalf(f)
	}
	return out
}

// decodeHalf expands a quantized vector
func decodeHalf(h []uint16) []float32 {
	out := make([]float32, len(h))
	for i, x := range h {
		out[i] = fromHalf(x)
	}
	return out
}
