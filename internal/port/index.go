package port

import "imgsearch/internal/domain"

// EmbeddingIndex holds path-to-vector records in insertion order.
type EmbeddingIndex interface {
	// Put adds or overwrites one record. Overwrites keep the original position.
	Put(path string, vector []float32) error

	// PutBatch applies several Puts under a single lock.
	PutBatch(records []domain.EmbeddingRecord) error

	Get(path string) ([]float32, bool)

	// All returns a snapshot of every record in insertion order.
	All() []domain.EmbeddingRecord

	Paths() []string
	Len() int
	IsEmpty() bool

	// Dimension is 0 until the first record is stored.
	Dimension() int

	// Load swaps the whole content for records.
	Load(records []domain.EmbeddingRecord) error

	// Dump returns a deep copy of every record.
	Dump() []domain.EmbeddingRecord

	// Generation increments on every mutation.
	Generation() uint64
}
