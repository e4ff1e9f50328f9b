package usecase

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

const DefaultBatchSize = 32

// ProgressFunc receives the fraction of candidates processed so far.
type ProgressFunc func(fraction float64)

// Indexer turns a folder of images into embedding records.
type Indexer struct {
	index     port.EmbeddingIndex
	walker    port.FileWalker
	decoder   port.ImageDecoder
	encoder   port.Encoder
	batchSize int
	logger    logrus.FieldLogger

	running sync.Mutex
}

// IndexerOption customises an Indexer.
type IndexerOption func(*Indexer)

// WithBatchSize sets how many images go to the encoder per call.
func WithBatchSize(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

func WithIndexerLogger(l logrus.FieldLogger) IndexerOption {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// NewIndexer creates an indexer that fills index with the images walker
// finds, decoded by decoder and embedded by encoder.
func NewIndexer(
	index port.EmbeddingIndex,
	walker port.FileWalker,
	decoder port.ImageDecoder,
	encoder port.Encoder,
	opts ...IndexerOption,
) *Indexer {
	ix := &Indexer{
		index:     index,
		walker:    walker,
		decoder:   decoder,
		encoder:   encoder,
		batchSize: DefaultBatchSize,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// IndexFolder embeds every supported image below root. Per-file decode
// failures and per-batch encoder failures are recorded as warnings and never
// abort the run. Cancellation is checked between batches.
func (ix *Indexer) IndexFolder(ctx context.Context, root string, onProgress ProgressFunc) (*domain.IndexResult, error) {
	if !ix.running.TryLock() {
		return nil, port.ErrIndexingBusy
	}
	defer ix.running.Unlock()

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	files, err := ix.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	var candidates []string
	for _, f := range files {
		if domain.IsSupportedImage(f.Path) {
			candidates = append(candidates, f.Path)
		}
	}

	result := &domain.IndexResult{Candidates: len(candidates)}
	log := ix.logger.WithFields(logrus.Fields{"folder": root, "candidates": len(candidates)})
	log.Info("indexing folder")

	if len(candidates) == 0 {
		report(onProgress, 1.0)
		return result, nil
	}

	processed := 0
	for start := 0; start < len(candidates); start += ix.batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := min(start+ix.batchSize, len(candidates))
		if err := ix.indexBatch(ctx, candidates[start:end], result); err != nil {
			return result, err
		}

		processed = end
		report(onProgress, float64(processed)/float64(len(candidates)))
	}

	log.WithFields(logrus.Fields{
		"indexed": result.Indexed,
		"skipped": result.Skipped,
	}).Info("indexing complete")
	return result, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, paths []string, result *domain.IndexResult) error {
	decoded := make([]image.Image, 0, len(paths))
	decodedPaths := make([]string, 0, len(paths))

	for _, path := range paths {
		img, err := ix.decoder.Decode(path)
		if err != nil {
			ix.warn(result, "skipping %s: %v", path, err)
			result.Skipped++
			continue
		}
		decoded = append(decoded, img)
		decodedPaths = append(decodedPaths, path)
	}
	if len(decoded) == 0 {
		return nil
	}

	vectors, err := ix.encoder.EncodeImageBatch(ctx, decoded)
	if err != nil {
		ix.warn(result, "skipping batch of %d images: encoder failed: %v", len(decoded), err)
		result.Skipped += len(decoded)
		return nil
	}
	if len(vectors) != len(decoded) {
		ix.warn(result, "skipping batch of %d images: encoder returned %d vectors", len(decoded), len(vectors))
		result.Skipped += len(decoded)
		return nil
	}

	records := make([]domain.EmbeddingRecord, 0, len(vectors))
	for i, vec := range vectors {
		unit, err := domain.Normalize(vec)
		if err != nil {
			ix.warn(result, "skipping %s: %v", decodedPaths[i], err)
			result.Skipped++
			continue
		}
		records = append(records, domain.EmbeddingRecord{Path: decodedPaths[i], Vector: unit})
	}

	if err := ix.index.PutBatch(records); err != nil {
		return fmt.Errorf("failed to store batch: %w", err)
	}
	result.Indexed += len(records)
	return nil
}

// IndexSingleImage embeds one file without rescanning its folder.
func (ix *Indexer) IndexSingleImage(ctx context.Context, path string) error {
	ix.running.Lock()
	defer ix.running.Unlock()

	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if !domain.IsSupportedImage(path) {
		return fmt.Errorf("%s: %w", path, port.ErrUnsupportedImage)
	}

	img, err := ix.decoder.Decode(path)
	if err != nil {
		return err
	}
	vec, err := ix.encoder.EncodeImage(ctx, img)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	unit, err := domain.Normalize(vec)
	if err != nil {
		return fmt.Errorf("failed to normalize %s: %w", path, err)
	}
	if err := ix.index.Put(path, unit); err != nil {
		return err
	}

	ix.logger.WithField("path", path).Debug("indexed image")
	return nil
}

func (ix *Indexer) warn(result *domain.IndexResult, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	result.Warnings = append(result.Warnings, msg)
	ix.logger.Warn(msg)
}

func report(fn ProgressFunc, fraction float64) {
	if fn != nil {
		fn(fraction)
	}
}
