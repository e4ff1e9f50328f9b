package memstore

import (
	"fmt"
	"sync"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// Index is an in-memory, insertion-ordered embedding index. Readers get
// copies, so a search never observes a half-applied batch.
type Index struct {
	mu         sync.RWMutex
	positions  map[string]int
	records    []domain.EmbeddingRecord
	dimension  int
	generation uint64
}

var _ port.EmbeddingIndex = (*Index)(nil)

func NewIndex() *Index {
	return &Index{
		positions: make(map[string]int),
	}
}

func (x *Index) Put(path string, vector []float32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.checkDimension(path, vector); err != nil {
		return err
	}
	x.put(path, vector)
	x.generation++
	return nil
}

func (x *Index) PutBatch(records []domain.EmbeddingRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.dimension
	for _, r := range records {
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) == 0 || len(r.Vector) != dim {
			return fmt.Errorf("%s: %w: want %d, got %d", r.Path, port.ErrDimensionMismatch, dim, len(r.Vector))
		}
	}

	for _, r := range records {
		if x.dimension == 0 {
			x.dimension = len(r.Vector)
		}
		x.put(r.Path, r.Vector)
	}
	if len(records) > 0 {
		x.generation++
	}
	return nil
}

func (x *Index) Get(path string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	pos, ok := x.positions[path]
	if !ok {
		return nil, false
	}
	return copyVector(x.records[pos].Vector), true
}

func (x *Index) All() []domain.EmbeddingRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]domain.EmbeddingRecord, len(x.records))
	for i, r := range x.records {
		out[i] = domain.EmbeddingRecord{Path: r.Path, Vector: copyVector(r.Vector)}
	}
	return out
}

func (x *Index) Paths() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	paths := make([]string, len(x.records))
	for i, r := range x.records {
		paths[i] = r.Path
	}
	return paths
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

func (x *Index) IsEmpty() bool {
	return x.Len() == 0
}

func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

// Dump returns a deep copy of every record for persistence.
func (x *Index) Dump() []domain.EmbeddingRecord {
	return x.All()
}

// Load replaces the whole content with records. Duplicate paths keep the
// first position and the last vector.
func (x *Index) Load(records []domain.EmbeddingRecord) error {
	positions := make(map[string]int, len(records))
	kept := make([]domain.EmbeddingRecord, 0, len(records))
	dim := 0

	for _, r := range records {
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) == 0 || len(r.Vector) != dim {
			return fmt.Errorf("%s: %w: want %d, got %d", r.Path, port.ErrDimensionMismatch, dim, len(r.Vector))
		}
		rec := domain.EmbeddingRecord{Path: r.Path, Vector: copyVector(r.Vector)}
		if pos, ok := positions[r.Path]; ok {
			kept[pos] = rec
			continue
		}
		positions[r.Path] = len(kept)
		kept = append(kept, rec)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.positions = positions
	x.records = kept
	x.dimension = dim
	x.generation++
	return nil
}

func (x *Index) Generation() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation
}

func (x *Index) checkDimension(path string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%s: %w: empty vector", path, port.ErrDimensionMismatch)
	}
	if x.dimension != 0 && len(vector) != x.dimension {
		return fmt.Errorf("%s: %w: want %d, got %d", path, port.ErrDimensionMismatch, x.dimension, len(vector))
	}
	if x.dimension == 0 {
		x.dimension = len(vector)
	}
	return nil
}

// put must be called with mu held.
func (x *Index) put(path string, vector []float32) {
	rec := domain.EmbeddingRecord{Path: path, Vector: copyVector(vector)}
	if pos, ok := x.positions[path]; ok {
		x.records[pos] = rec
		return
	}
	x.positions[path] = len(x.records)
	x.records = append(x.records, rec)
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
