package usecase

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/fs"
	"imgsearch/internal/adapter/imaging"
	"imgsearch/internal/adapter/memstore"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// newEngine indexes the given base names (each needs a vector in enc.images)
// from a temp dir and returns an engine over them.
func newEngine(t *testing.T, enc *fakeEncoder, names []string, opts ...SearchOption) (*SearchEngine, string) {
	t.Helper()
	dir := t.TempDir()
	touchFiles(t, dir, names...)

	idx := memstore.NewIndex()
	for _, n := range names {
		unit, err := domain.Normalize(enc.images[n])
		require.NoError(t, err)
		require.NoError(t, idx.Put(filepath.Join(dir, n), unit))
	}

	logger, _ := logtest.NewNullLogger()
	opts = append([]SearchOption{WithSearchLogger(logger)}, opts...)
	return NewSearchEngine(idx, fakeDecoder{}, enc, opts...), dir
}

func paths(results []domain.ScoredImage) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = filepath.Base(r.Path)
	}
	return out
}

func assertSorted(t *testing.T, results []domain.ScoredImage) {
	t.Helper()
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "results not sorted at %d", i)
	}
}

func catDogEncoder() *fakeEncoder {
	return &fakeEncoder{
		dim: 2,
		images: map[string][]float32{
			"a_cat.png": {0.9, 0.1},
			"b_dog.png": {0.2, 0.9},
			"c_cat.png": {0.8, 0.2},
		},
		texts: map[string][]float32{
			"cat": {1, 0},
		},
	}
}

func TestSearchByText_CatDogScenario(t *testing.T) {
	enc := catDogEncoder()
	engine, _ := newEngine(t, enc, []string{"a_cat.png", "b_dog.png", "c_cat.png"}, WithThreshold(0))
	ctx := context.Background()

	out, err := engine.SearchByText(ctx, "cat")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_cat.png", "c_cat.png", "b_dog.png"}, paths(out.Results))
	assertSorted(t, out.Results)
	assert.False(t, out.Adjusted)

	dogScore := out.Results[2].Score
	catScore := out.Results[1].Score
	engine.SetThreshold((dogScore + catScore) / 2)

	out, err = engine.SearchByText(ctx, "cat")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_cat.png", "c_cat.png"}, paths(out.Results))
	assert.False(t, out.Adjusted)
}

func TestSearchByImage_SelfSimilarityRanksFirst(t *testing.T) {
	dir := t.TempDir()
	red := writePNG(t, filepath.Join(dir, "red.png"), color.RGBA{255, 0, 0, 255})
	writePNG(t, filepath.Join(dir, "pinkish.png"), color.RGBA{250, 130, 140, 255})
	writePNG(t, filepath.Join(dir, "blue.png"), color.RGBA{0, 0, 255, 255})

	enc := embedding.NewHistogramEncoder()
	dec := imaging.NewFileDecoder()
	idx := memstore.NewIndex()
	logger, _ := logtest.NewNullLogger()
	ix := NewIndexer(idx, fs.NewWalker(nil, nil), dec, enc, WithIndexerLogger(logger))
	_, err := ix.IndexFolder(context.Background(), dir, nil)
	require.NoError(t, err)

	engine := NewSearchEngine(idx, dec, enc, WithThreshold(0), WithSearchLogger(logger))
	out, err := engine.SearchByImage(context.Background(), red)
	require.NoError(t, err)

	require.NotEmpty(t, out.Results)
	assert.Equal(t, red, out.Results[0].Path)
	assert.InDelta(t, 1.0, out.Results[0].Score, 1e-6)
	assertSorted(t, out.Results)
}

func TestSearchHybrid_BoostsDoubleMatches(t *testing.T) {
	enc := &fakeEncoder{
		dim: 3,
		images: map[string][]float32{
			"both.png":  {1, 0, 0},
			"query.png": {0.8, 0.6, 0},
			"text.png":  {0, 0, 1},
		},
		texts: map[string][]float32{
			"sunset": {0.6, 0, 0.8},
		},
	}
	engine, dir := newEngine(t, enc, []string{"both.png", "text.png"}, WithThreshold(0.5))
	touchFiles(t, dir, "query.png")

	out, err := engine.SearchHybrid(context.Background(), filepath.Join(dir, "query.png"), "sunset")
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "both.png", filepath.Base(out.Results[0].Path))
	// (0.8 + 0.6) / 2 * 1.5, not capped at 1
	assert.InDelta(t, 1.05, out.Results[0].Score, 1e-6)
	// only the text query matches: its own score
	assert.Equal(t, "text.png", filepath.Base(out.Results[1].Path))
	assert.InDelta(t, 0.8, out.Results[1].Score, 1e-6)
}

func TestSearchHybrid_MeanSingleMatchPolicy(t *testing.T) {
	enc := &fakeEncoder{
		dim: 3,
		images: map[string][]float32{
			"text.png":  {0, 0, 1},
			"query.png": {1, 0, 0},
		},
		texts: map[string][]float32{"sunset": {0, 0.6, 0.8}},
	}
	policy := DefaultSearchPolicy()
	policy.SingleMatch = SingleMatchMean
	engine, dir := newEngine(t, enc, []string{"text.png"}, WithThreshold(0.5), WithPolicy(policy))
	touchFiles(t, dir, "query.png")

	out, err := engine.SearchHybrid(context.Background(), filepath.Join(dir, "query.png"), "sunset")
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.InDelta(t, 0.4, out.Results[0].Score, 1e-6)
	assert.False(t, out.Adjusted)
}

func TestHybridScore(t *testing.T) {
	assert.InDelta(t, 1.05, HybridScore(0.8, 0.6, 1.5), 1e-12)
}

// eightScores indexes unit vectors whose cosine with (1, 0) is 0.9 .. 0.2.
func eightScores() (*fakeEncoder, []string) {
	enc := &fakeEncoder{dim: 2, images: map[string][]float32{}, texts: map[string][]float32{"q": {1, 0}}}
	var names []string
	for i, s := range []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2} {
		name := fmt.Sprintf("img%d.png", i)
		enc.images[name] = []float32{float32(s), float32(math.Sqrt(1 - s*s))}
		names = append(names, name)
	}
	return enc, names
}

func TestSearch_AdaptiveThresholdWithEightCandidates(t *testing.T) {
	enc, names := eightScores()
	engine, _ := newEngine(t, enc, names, WithThreshold(0.95))

	out, err := engine.SearchByText(context.Background(), "q")
	require.NoError(t, err)

	assert.True(t, out.Adjusted)
	assert.InDelta(t, 0.5-0.01, out.Threshold, 1e-6)
	assert.Equal(t, names[:5], paths(out.Results))
	for _, r := range out.Results {
		assert.GreaterOrEqual(t, r.Score, out.Threshold)
	}
	// the configured threshold is left untouched
	assert.Equal(t, 0.95, engine.Threshold())
}

func TestSearch_AdaptiveThresholdWithFewCandidates(t *testing.T) {
	enc, names := eightScores()
	engine, _ := newEngine(t, enc, names[5:], WithThreshold(0.95))

	out, err := engine.SearchByText(context.Background(), "q")
	require.NoError(t, err)

	assert.True(t, out.Adjusted)
	assert.Equal(t, 0.0, out.Threshold)
	assert.Equal(t, names[5:], paths(out.Results))
}

func TestSearch_AdaptiveThresholdCoversNegativeScores(t *testing.T) {
	enc := &fakeEncoder{
		dim:    2,
		images: map[string][]float32{"a.png": {1, 0}, "b.png": {0, 1}},
		texts:  map[string][]float32{"opposite": {-1, -0.25}},
	}
	engine, _ := newEngine(t, enc, []string{"a.png", "b.png"})

	out, err := engine.SearchByText(context.Background(), "opposite")
	require.NoError(t, err)

	assert.True(t, out.Adjusted)
	assert.Equal(t, []string{"b.png", "a.png"}, paths(out.Results))
	assert.Less(t, out.Threshold, 0.0)
	for _, r := range out.Results {
		assert.GreaterOrEqual(t, r.Score, out.Threshold)
	}
	assert.InDelta(t, -0.970, out.Threshold, 1e-3)
}

func TestSearchByImage_UnsupportedQueryFormat(t *testing.T) {
	enc := catDogEncoder()
	dir := t.TempDir()
	idx := memstore.NewIndex()
	require.NoError(t, idx.Put(filepath.Join(dir, "a_cat.png"), []float32{1, 0}))
	engine := NewSearchEngine(idx, imaging.NewFileDecoder(), enc)

	_, err := engine.SearchByImage(context.Background(), filepath.Join(dir, "query.webp"))
	assert.ErrorIs(t, err, port.ErrImageDecode)
}

func TestSearch_AdaptiveThresholdHybridDropsMinimum(t *testing.T) {
	enc, names := eightScores()
	enc.images["query.png"] = []float32{0, 1}
	engine, dir := newEngine(t, enc, names[:3], WithThreshold(0.99))
	touchFiles(t, dir, "query.png")

	out, err := engine.SearchHybrid(context.Background(), filepath.Join(dir, "query.png"), "q")
	require.NoError(t, err)
	assert.True(t, out.Adjusted)
	assert.Len(t, out.Results, 3)
	assertSorted(t, out.Results)
}

func TestSearch_EmptyIndex(t *testing.T) {
	engine := NewSearchEngine(memstore.NewIndex(), fakeDecoder{}, &fakeEncoder{dim: 2})

	_, err := engine.SearchByText(context.Background(), "cat")
	assert.ErrorIs(t, err, port.ErrEmptyIndex)
}

func TestSearch_ValidationBeforeEmptyIndex(t *testing.T) {
	engine := NewSearchEngine(memstore.NewIndex(), fakeDecoder{}, &fakeEncoder{dim: 2})
	ctx := context.Background()

	_, err := engine.SearchByImage(ctx, "")
	assert.ErrorIs(t, err, port.ErrMissingQueryImage)
	_, err = engine.SearchByText(ctx, "   ")
	assert.ErrorIs(t, err, port.ErrMissingQueryText)
	_, err = engine.SearchHybrid(ctx, "/x.png", "")
	assert.ErrorIs(t, err, port.ErrMissingQueryText)
	_, err = engine.Search(ctx, domain.Query{Kind: domain.QueryKind(42)})
	assert.Error(t, err)
}

func TestSearchByImage_UndecodableQuery(t *testing.T) {
	enc := catDogEncoder()
	engine, dir := newEngine(t, enc, []string{"a_cat.png"})

	_, err := engine.SearchByImage(context.Background(), filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, port.ErrImageDecode)
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	enc := catDogEncoder()
	enc.texts["wide"] = []float32{1, 0, 0}
	engine, _ := newEngine(t, enc, []string{"a_cat.png"})

	_, err := engine.SearchByText(context.Background(), "wide")
	assert.ErrorIs(t, err, port.ErrDimensionMismatch)
}

func TestSearch_EncoderFailurePropagates(t *testing.T) {
	enc := catDogEncoder()
	engine, _ := newEngine(t, enc, []string{"a_cat.png"})

	_, err := engine.SearchByText(context.Background(), "unknown words")
	assert.Error(t, err)
}

func TestSearch_TiesKeepIndexOrder(t *testing.T) {
	enc := &fakeEncoder{
		dim: 2,
		images: map[string][]float32{
			"z.png": {1, 0}, "y.png": {1, 0}, "x.png": {1, 0},
		},
		texts: map[string][]float32{"q": {1, 0}},
	}
	engine, _ := newEngine(t, enc, []string{"z.png", "y.png", "x.png"}, WithThreshold(0))

	out, err := engine.SearchByText(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"z.png", "y.png", "x.png"}, paths(out.Results))
}

func TestValidateQuery(t *testing.T) {
	assert.NoError(t, ValidateQuery(domain.TextQuery("cat")))
	assert.NoError(t, ValidateQuery(domain.ImageQuery("/a.png")))
	assert.NoError(t, ValidateQuery(domain.HybridQuery("/a.png", "cat")))
	assert.ErrorIs(t, ValidateQuery(domain.HybridQuery("", "cat")), port.ErrMissingQueryImage)
}
