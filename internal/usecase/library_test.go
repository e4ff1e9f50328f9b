package usecase

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgsearch/config"
	"imgsearch/internal/adapter/embedding"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/port"
)

func newTestLibrary(t *testing.T, enc port.Encoder, cachePath string, opts ...LibraryOption) (*Library, *logtest.Hook) {
	t.Helper()
	cfg := config.DefaultConfig()
	logger, hook := logtest.NewNullLogger()
	opts = append([]LibraryOption{WithLogger(logger)}, opts...)
	lib := NewLibrary(cfg, enc, store.NewJSONSnapshotStore(cachePath), opts...)
	t.Cleanup(func() { lib.Close() })
	return lib, hook
}

func colourFolder(t *testing.T) string {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red.png"), color.RGBA{255, 0, 0, 255})
	writePNG(t, filepath.Join(dir, "blue.png"), color.RGBA{0, 0, 255, 255})
	writePNG(t, filepath.Join(dir, "sub", "green.png"), color.RGBA{0, 255, 0, 255})
	return dir
}

func TestLibrary_IndexSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := colourFolder(t)
	cachePath := filepath.Join(t.TempDir(), config.DefaultJSONCache)

	lib, _ := newTestLibrary(t, embedding.NewHistogramEncoder(), cachePath)
	result, err := lib.IndexFolder(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Indexed)
	assert.Equal(t, dir, lib.Folder())
	require.NoError(t, lib.SaveCache(ctx))

	restored, _ := newTestLibrary(t, embedding.NewHistogramEncoder(), cachePath)
	n, err := restored.LoadCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, dir, restored.Folder())
	assert.Equal(t, lib.IndexedImages(), restored.IndexedImages())
	assert.Equal(t, lib.Records(), restored.Records())

	out, err := restored.SearchByText(ctx, "red")
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, filepath.Join(dir, "red.png"), out.Results[0].Path)
}

func TestLibrary_LoadMissingCacheIsEmpty(t *testing.T) {
	lib, _ := newTestLibrary(t, embedding.NewHistogramEncoder(), filepath.Join(t.TempDir(), "none.json"))

	n, err := lib.LoadCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, lib.IndexedImages())

	_, err = lib.SearchByText(context.Background(), "red")
	assert.ErrorIs(t, err, port.ErrEmptyIndex)
}

func TestLibrary_CorruptCacheDegradesWithWarning(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), config.DefaultJSONCache)
	require.NoError(t, os.WriteFile(cachePath, []byte(`{"folder_path": "/x", "/x/a.png": [0.1, `), 0644))

	lib, hook := newTestLibrary(t, embedding.NewHistogramEncoder(), cachePath)
	n, err := lib.LoadCache(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, lib.IndexedImages())
	assert.Empty(t, lib.Folder())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestLibrary_CacheFromOtherEncoderIsDiscarded(t *testing.T) {
	ctx := context.Background()
	cachePath := filepath.Join(t.TempDir(), config.DefaultJSONCache)
	require.NoError(t, os.WriteFile(cachePath, []byte(`{"folder_path":"/x","/x/a.png":[1,0,0]}`), 0644))

	lib, hook := newTestLibrary(t, embedding.NewHistogramEncoder(), cachePath)
	n, err := lib.LoadCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestLibrary_ResultCacheInvalidatedByIndexChanges(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	touchFiles(t, dir, "a.png", "b.png")

	enc := &fakeEncoder{
		dim:    2,
		images: map[string][]float32{"a.png": {1, 0}, "b.png": {1, 0.1}},
		texts:  map[string][]float32{"q": {1, 0}},
	}
	lib, _ := newTestLibrary(t, enc, filepath.Join(t.TempDir(), "c.json"), WithDecoder(fakeDecoder{}))

	require.NoError(t, lib.IndexSingleImage(ctx, filepath.Join(dir, "a.png")))

	first, err := lib.SearchByText(ctx, "q")
	require.NoError(t, err)
	_, err = lib.SearchByText(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 1, enc.TextCalls(), "second search should be served from cache")

	require.NoError(t, lib.IndexSingleImage(ctx, filepath.Join(dir, "b.png")))
	second, err := lib.SearchByText(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 2, enc.TextCalls())
	assert.Len(t, first.Results, 1)
	assert.Len(t, second.Results, 2)

	lib.SetThreshold(0.999)
	third, err := lib.SearchByText(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, 3, enc.TextCalls())
	assert.Len(t, third.Results, 1)
	assert.Equal(t, 0.999, lib.Threshold())
}

func TestLibrary_ClearCache(t *testing.T) {
	ctx := context.Background()
	cachePath := filepath.Join(t.TempDir(), config.DefaultJSONCache)
	lib, _ := newTestLibrary(t, embedding.NewHistogramEncoder(), cachePath)

	_, err := lib.IndexFolder(ctx, colourFolder(t), nil)
	require.NoError(t, err)
	require.NoError(t, lib.SaveCache(ctx))

	require.NoError(t, lib.ClearCache())
	assert.Empty(t, lib.IndexedImages())
	assert.Empty(t, lib.Folder())
	_, err = os.Stat(cachePath)
	assert.True(t, os.IsNotExist(err))

	// clearing twice is fine
	require.NoError(t, lib.ClearCache())
}

// clipGateway answers /embeddings with 512-dimensional vectors derived from
// each input's length, standing in for a CLIP model behind an
// OpenAI-compatible gateway.
func clipGateway(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []struct {
				Text  string `json:"text"`
				Image string `json:"image"`
			} `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		type datum struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]datum, len(req.Input))
		for i, in := range req.Input {
			vec := make([]float32, 512)
			vec[0] = 1
			vec[1+(len(in.Text)+len(in.Image))%511] = 1
			data[i] = datum{Index: i, Embedding: vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLibrary_RoundTripWithServerSizedVectors(t *testing.T) {
	ctx := context.Background()
	srv := clipGateway(t)

	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = "openai-compatible"
	cfg.Embedding.BaseURL = srv.URL
	cachePath := filepath.Join(t.TempDir(), config.DefaultJSONCache)

	enc, err := embedding.New(cfg.Embedding)
	require.NoError(t, err)
	lib, _ := newTestLibrary(t, enc, cachePath)
	result, err := lib.IndexFolder(ctx, colourFolder(t), nil)
	require.NoError(t, err)
	require.Equal(t, 3, result.Indexed)
	assert.Equal(t, 512, lib.Dimension())
	require.NoError(t, lib.SaveCache(ctx))

	// a fresh process knows nothing about the server's vector size yet
	fresh, err := embedding.New(cfg.Embedding)
	require.NoError(t, err)
	restored, hook := newTestLibrary(t, fresh, cachePath)
	n, err := restored.LoadCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, lib.Records(), restored.Records())
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level, e.Message)
	}

	_, err = restored.SearchByText(ctx, "sunset")
	require.NoError(t, err)
	assert.Equal(t, 512, fresh.Dimension())
}

func TestLibrary_IndexFolderKeepsEarlierImages(t *testing.T) {
	ctx := context.Background()
	first := colourFolder(t)
	second := t.TempDir()
	writePNG(t, filepath.Join(second, "white.png"), color.RGBA{255, 255, 255, 255})

	lib, _ := newTestLibrary(t, embedding.NewHistogramEncoder(), filepath.Join(t.TempDir(), "cache.json"))
	_, err := lib.IndexFolder(ctx, first, nil)
	require.NoError(t, err)
	_, err = lib.IndexFolder(ctx, second, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, lib.Len())
	assert.Contains(t, lib.IndexedImages(), filepath.Join(first, "red.png"))
	assert.Equal(t, second, lib.Folder())
}
