package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// encodeVector packs v as little-endian IEEE 754 float32 values.
func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: vector blob length %d", port.ErrCorruptSnapshot, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// validateRecords checks that every record carries a vector of one shared
// dimension.
func validateRecords(records []domain.EmbeddingRecord) error {
	dim := 0
	for _, r := range records {
		if len(r.Vector) == 0 {
			return fmt.Errorf("%w: %s has no vector", port.ErrCorruptSnapshot, r.Path)
		}
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: %s has dimension %d, want %d", port.ErrCorruptSnapshot, r.Path, len(r.Vector), dim)
		}
	}
	return nil
}
