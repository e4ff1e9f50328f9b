package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"imgsearch/config"
	"imgsearch/internal/adapter/cache"
	"imgsearch/internal/adapter/fs"
	"imgsearch/internal/adapter/imaging"
	"imgsearch/internal/adapter/memstore"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// Library is one image-search session: an index, the indexer and search
// engine sharing it, and the snapshot store it is persisted to.
type Library struct {
	index    port.EmbeddingIndex
	encoder  port.Encoder
	decoder  port.ImageDecoder
	indexer  *Indexer
	engine   *SearchEngine
	searcher cache.Searcher
	store    port.SnapshotStore
	logger   logrus.FieldLogger

	mu     sync.RWMutex
	folder string
}

// LibraryOption customises a Library.
type LibraryOption func(*libraryOptions)

type libraryOptions struct {
	logger  logrus.FieldLogger
	decoder port.ImageDecoder
	walker  port.FileWalker
}

func WithLogger(l logrus.FieldLogger) LibraryOption {
	return func(o *libraryOptions) { o.logger = l }
}

// WithDecoder replaces the file decoder, mainly for tests.
func WithDecoder(d port.ImageDecoder) LibraryOption {
	return func(o *libraryOptions) { o.decoder = d }
}

func WithWalker(w port.FileWalker) LibraryOption {
	return func(o *libraryOptions) { o.walker = w }
}

// NewLibrary wires an empty index, indexer and search engine for cfg. The
// persisted snapshot is not read until LoadCache.
func NewLibrary(cfg *config.Config, encoder port.Encoder, store port.SnapshotStore, opts ...LibraryOption) *Library {
	o := libraryOptions{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.decoder == nil {
		o.decoder = imaging.NewFileDecoder()
	}
	if o.walker == nil {
		o.walker = fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes)
	}

	index := memstore.NewIndex()
	engine := NewSearchEngine(index, o.decoder, encoder,
		WithThreshold(cfg.Search.Threshold),
		WithPolicy(SearchPolicy{
			HybridMinScore:  cfg.Search.HybridMinScore,
			HybridBoost:     cfg.Search.HybridBoost,
			SingleMatch:     cfg.Search.HybridSingleMatch,
			FallbackTopN:    cfg.Search.FallbackTopN,
			FallbackEpsilon: cfg.Search.FallbackEpsilon,
		}),
		WithSearchLogger(o.logger),
	)

	lib := &Library{
		index:   index,
		encoder: encoder,
		decoder: o.decoder,
		indexer: NewIndexer(index, o.walker, o.decoder, encoder,
			WithBatchSize(cfg.Index.BatchSize),
			WithIndexerLogger(o.logger),
		),
		engine:   engine,
		searcher: engine,
		store:    store,
		logger:   o.logger,
	}

	if cfg.Search.CacheSize > 0 {
		lib.searcher = cache.NewCachedSearcher(engine,
			cache.NewOutcomeCache(cfg.Search.CacheSize, cfg.Search.CacheTTL),
			lib.cacheKey)
	}
	return lib
}

func (l *Library) cacheKey(q domain.Query) (cache.Key, uint64, bool) {
	key := cache.Key{Query: q, Threshold: l.engine.Threshold()}
	if q.Kind == domain.QueryImage || q.Kind == domain.QueryHybrid {
		info, err := os.Stat(q.ImagePath)
		if err != nil {
			return key, 0, false
		}
		key.ImageModTime = info.ModTime().UnixNano()
	}
	return key, l.index.Generation(), true
}

// IndexFolder indexes path and makes it the session's folder.
func (l *Library) IndexFolder(ctx context.Context, path string, onProgress ProgressFunc) (*domain.IndexResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	result, err := l.indexer.IndexFolder(ctx, abs, onProgress)
	if result != nil {
		l.mu.Lock()
		l.folder = abs
		l.mu.Unlock()
	}
	return result, err
}

func (l *Library) IndexSingleImage(ctx context.Context, path string) error {
	return l.indexer.IndexSingleImage(ctx, path)
}

func (l *Library) Search(ctx context.Context, q domain.Query) (domain.SearchOutcome, error) {
	return l.searcher.Search(ctx, q)
}

func (l *Library) SearchByText(ctx context.Context, text string) (domain.SearchOutcome, error) {
	return l.Search(ctx, domain.TextQuery(text))
}

func (l *Library) SearchByImage(ctx context.Context, path string) (domain.SearchOutcome, error) {
	return l.Search(ctx, domain.ImageQuery(path))
}

func (l *Library) SearchHybrid(ctx context.Context, path, text string) (domain.SearchOutcome, error) {
	return l.Search(ctx, domain.HybridQuery(path, text))
}

// IndexedImages lists indexed paths in insertion order.
func (l *Library) IndexedImages() []string {
	return l.index.Paths()
}

func (l *Library) Records() []domain.EmbeddingRecord {
	return l.index.All()
}

func (l *Library) Len() int {
	return l.index.Len()
}

func (l *Library) Dimension() int {
	return l.index.Dimension()
}

func (l *Library) Threshold() float64 {
	return l.engine.Threshold()
}

func (l *Library) SetThreshold(t float64) {
	l.engine.SetThreshold(t)
}

// Folder is the last indexed folder, restored from the snapshot.
func (l *Library) Folder() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.folder
}

func (l *Library) Encoder() port.Encoder {
	return l.encoder
}

func (l *Library) Decoder() port.ImageDecoder {
	return l.decoder
}

func (l *Library) CacheLocation() string {
	return l.store.Location()
}

// LoadCache replaces the index with the persisted snapshot. A corrupt or
// incompatible snapshot is logged and leaves the index empty; it is never
// returned as an error.
func (l *Library) LoadCache(ctx context.Context) (int, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, port.ErrCorruptSnapshot) {
			return 0, fmt.Errorf("failed to load cache: %w", err)
		}
		l.logger.WithError(err).WithField("cache", l.store.Location()).
			Warn("cache is unreadable, starting with an empty index")
		snap = domain.Snapshot{}
	}

	if dim := l.encoder.Dimension(); dim > 0 && !snap.IsEmpty() && len(snap.Records[0].Vector) != dim {
		l.logger.WithFields(logrus.Fields{
			"cache":     l.store.Location(),
			"cached":    len(snap.Records[0].Vector),
			"encoder":   dim,
			"encoderID": l.encoder.ModelName(),
		}).Warn("cache was built by a different encoder, starting with an empty index")
		snap = domain.Snapshot{}
	}

	if err := l.index.Load(snap.Records); err != nil {
		l.logger.WithError(err).Warn("cache records are inconsistent, starting with an empty index")
		snap = domain.Snapshot{}
		_ = l.index.Load(nil)
	}

	l.mu.Lock()
	l.folder = snap.Folder
	l.mu.Unlock()

	return len(snap.Records), nil
}

// SaveCache writes the whole index and folder as one snapshot.
func (l *Library) SaveCache(ctx context.Context) error {
	snap := domain.Snapshot{
		Folder:  l.Folder(),
		Records: l.index.Dump(),
	}
	if err := l.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}
	l.logger.WithFields(logrus.Fields{
		"cache":   l.store.Location(),
		"records": len(snap.Records),
	}).Debug("cache saved")
	return nil
}

// ClearCache empties the index and deletes the snapshot file.
func (l *Library) ClearCache() error {
	if err := l.index.Load(nil); err != nil {
		return err
	}
	l.mu.Lock()
	l.folder = ""
	l.mu.Unlock()

	if err := l.store.Close(); err != nil {
		return fmt.Errorf("failed to close cache: %w", err)
	}
	if err := os.Remove(l.store.Location()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache: %w", err)
	}
	return nil
}

func (l *Library) Close() error {
	return l.store.Close()
}
