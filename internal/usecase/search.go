package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// Hybrid single-match policies.
const (
	// SingleMatchScore scores a path found by one modality with that score.
	SingleMatchScore = "score"
	// SingleMatchMean averages the single score with zero.
	SingleMatchMean = "mean"
)

// SearchPolicy holds the fixed scoring constants of the engine.
type SearchPolicy struct {
	HybridMinScore  float64
	HybridBoost     float64
	SingleMatch     string
	FallbackTopN    int
	FallbackEpsilon float64
}

// DefaultSearchPolicy returns the scoring constants of the desktop
// application: hybrid minimum 0.3, boost 1.5 and a top-5 fallback.
func DefaultSearchPolicy() SearchPolicy {
	return SearchPolicy{
		HybridMinScore:  0.3,
		HybridBoost:     1.5,
		SingleMatch:     SingleMatchScore,
		FallbackTopN:    5,
		FallbackEpsilon: 0.01,
	}
}

// DefaultThreshold is the similarity a result needs when no threshold is
// configured.
const DefaultThreshold = 0.15

// SearchEngine ranks indexed images against image, text and hybrid queries
// by cosine similarity.
type SearchEngine struct {
	index   port.EmbeddingIndex
	decoder port.ImageDecoder
	encoder port.Encoder
	policy  SearchPolicy
	logger  logrus.FieldLogger

	mu        sync.RWMutex
	threshold float64
}

// SearchOption customises a SearchEngine.
type SearchOption func(*SearchEngine)

// WithPolicy replaces the default scoring constants.
func WithPolicy(p SearchPolicy) SearchOption {
	return func(e *SearchEngine) {
		e.policy = p
	}
}

// WithThreshold sets the initial similarity threshold.
func WithThreshold(t float64) SearchOption {
	return func(e *SearchEngine) {
		e.threshold = t
	}
}

// WithSearchLogger sets the logger used to report threshold fallbacks.
func WithSearchLogger(l logrus.FieldLogger) SearchOption {
	return func(e *SearchEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewSearchEngine creates an engine over index. decoder and encoder turn
// query images and text into vectors comparable with the indexed ones.
func NewSearchEngine(index port.EmbeddingIndex, decoder port.ImageDecoder, encoder port.Encoder, opts ...SearchOption) *SearchEngine {
	e := &SearchEngine{
		index:     index,
		decoder:   decoder,
		encoder:   encoder,
		policy:    DefaultSearchPolicy(),
		logger:    logrus.StandardLogger(),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.FallbackTopN <= 0 {
		e.policy.FallbackTopN = 1
	}
	return e
}

// Threshold returns the current similarity threshold.
func (e *SearchEngine) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// SetThreshold changes the threshold used by later searches.
func (e *SearchEngine) SetThreshold(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threshold = t
}

func (e *SearchEngine) SearchByImage(ctx context.Context, path string) (domain.SearchOutcome, error) {
	return e.Search(ctx, domain.ImageQuery(path))
}

func (e *SearchEngine) SearchByText(ctx context.Context, text string) (domain.SearchOutcome, error) {
	return e.Search(ctx, domain.TextQuery(text))
}

func (e *SearchEngine) SearchHybrid(ctx context.Context, path, text string) (domain.SearchOutcome, error) {
	return e.Search(ctx, domain.HybridQuery(path, text))
}

// Search runs q under the current threshold. When nothing passes, the query
// is rescored unfiltered and the adaptive fallback picks a lower threshold.
func (e *SearchEngine) Search(ctx context.Context, q domain.Query) (domain.SearchOutcome, error) {
	if err := ValidateQuery(q); err != nil {
		return domain.SearchOutcome{}, err
	}
	if e.index.IsEmpty() {
		return domain.SearchOutcome{}, port.ErrEmptyIndex
	}

	qv, err := e.encodeQuery(ctx, q)
	if err != nil {
		return domain.SearchOutcome{}, err
	}

	threshold := e.Threshold()
	records := e.index.All()

	results := e.score(q.Kind, records, qv, threshold, e.policy.HybridMinScore)
	if len(results) > 0 {
		return domain.SearchOutcome{Query: q, Results: results, Threshold: threshold}, nil
	}

	unfiltered := e.score(q.Kind, records, qv, math.Inf(-1), math.Inf(-1))
	outcome := e.fallback(unfiltered)
	outcome.Query = q

	e.logger.WithFields(logrus.Fields{
		"mode":       q.Kind.String(),
		"configured": threshold,
		"adjusted":   outcome.Threshold,
		"results":    len(outcome.Results),
	}).Info("no results above threshold, lowered it")
	return outcome, nil
}

// ValidateQuery rejects queries missing the input their mode needs.
func ValidateQuery(q domain.Query) error {
	needImage := q.Kind == domain.QueryImage || q.Kind == domain.QueryHybrid
	needText := q.Kind == domain.QueryText || q.Kind == domain.QueryHybrid

	switch q.Kind {
	case domain.QueryText, domain.QueryImage, domain.QueryHybrid:
	default:
		return fmt.Errorf("unknown query kind %d", q.Kind)
	}
	if needImage && strings.TrimSpace(q.ImagePath) == "" {
		return port.ErrMissingQueryImage
	}
	if needText && strings.TrimSpace(q.Text) == "" {
		return port.ErrMissingQueryText
	}
	return nil
}

type queryVectors struct {
	image []float32
	text  []float32
}

func (e *SearchEngine) encodeQuery(ctx context.Context, q domain.Query) (queryVectors, error) {
	var qv queryVectors
	dim := e.index.Dimension()

	if q.Kind == domain.QueryImage || q.Kind == domain.QueryHybrid {
		img, err := e.decoder.Decode(q.ImagePath)
		if err != nil {
			return qv, err
		}
		raw, err := e.encoder.EncodeImage(ctx, img)
		if err != nil {
			return qv, fmt.Errorf("failed to encode query image: %w", err)
		}
		if qv.image, err = normalizeQuery(raw, dim); err != nil {
			return qv, err
		}
	}

	if q.Kind == domain.QueryText || q.Kind == domain.QueryHybrid {
		raw, err := e.encoder.EncodeText(ctx, q.Text)
		if err != nil {
			return qv, fmt.Errorf("failed to encode query text: %w", err)
		}
		if qv.text, err = normalizeQuery(raw, dim); err != nil {
			return qv, err
		}
	}
	return qv, nil
}

func normalizeQuery(raw []float32, dim int) ([]float32, error) {
	if len(raw) != dim {
		return nil, fmt.Errorf("query %w: index has %d, query has %d", port.ErrDimensionMismatch, dim, len(raw))
	}
	unit, err := domain.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize query: %w", err)
	}
	return unit, nil
}

func (e *SearchEngine) score(kind domain.QueryKind, records []domain.EmbeddingRecord, qv queryVectors, threshold, minCombined float64) []domain.ScoredImage {
	switch kind {
	case domain.QueryImage:
		return rank(records, qv.image, threshold)
	case domain.QueryText:
		return rank(records, qv.text, threshold)
	default:
		return e.combine(records, qv, threshold, minCombined)
	}
}

// rank scores every record against query, keeps those at or above
// threshold and sorts them by descending score, ties in index order.
func rank(records []domain.EmbeddingRecord, query []float32, threshold float64) []domain.ScoredImage {
	results := make([]domain.ScoredImage, 0, len(records))
	for _, r := range records {
		s := domain.Dot(query, r.Vector)
		if s >= threshold {
			results = append(results, domain.ScoredImage{Path: r.Path, Score: s})
		}
	}
	sortByScore(results)
	return results
}

// combine merges the image and text result sets. A path in both sets scores
// the boosted mean of its two scores; a path in one set is scored by the
// single-match policy.
func (e *SearchEngine) combine(records []domain.EmbeddingRecord, qv queryVectors, threshold, minCombined float64) []domain.ScoredImage {
	results := make([]domain.ScoredImage, 0, len(records))
	for _, r := range records {
		si := domain.Dot(qv.image, r.Vector)
		st := domain.Dot(qv.text, r.Vector)
		inImage := si >= threshold
		inText := st >= threshold

		var combined float64
		switch {
		case inImage && inText:
			combined = HybridScore(si, st, e.policy.HybridBoost)
		case inImage:
			combined = e.singleMatch(si)
		case inText:
			combined = e.singleMatch(st)
		default:
			continue
		}

		if combined >= minCombined {
			results = append(results, domain.ScoredImage{Path: r.Path, Score: combined})
		}
	}
	sortByScore(results)
	return results
}

func (e *SearchEngine) singleMatch(s float64) float64 {
	if e.policy.SingleMatch == SingleMatchMean {
		return s / 2
	}
	return s
}

// HybridScore is the boosted mean used when both modalities match. It is
// not capped at 1.
func HybridScore(imageScore, textScore, boost float64) float64 {
	return (imageScore + textScore) / 2 * boost
}

func (e *SearchEngine) fallback(sorted []domain.ScoredImage) domain.SearchOutcome {
	n := e.policy.FallbackTopN
	if len(sorted) < n {
		// 0 unless a returned score is negative, so every result passes it
		threshold := 0.0
		if len(sorted) > 0 {
			threshold = math.Min(threshold, sorted[len(sorted)-1].Score)
		}
		return domain.SearchOutcome{Results: sorted, Threshold: threshold, Adjusted: true}
	}

	threshold := sorted[n-1].Score - e.policy.FallbackEpsilon
	cut := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].Score < threshold
	})
	return domain.SearchOutcome{Results: sorted[:cut], Threshold: threshold, Adjusted: true}
}

func sortByScore(results []domain.ScoredImage) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
