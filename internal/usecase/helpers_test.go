package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"imgsearch/internal/port"
)

// namedImage lets fake encoders recognise which file was decoded.
type namedImage struct {
	*image.Gray
	name string
}

// fakeDecoder "decodes" any path to a namedImage keyed by its base name.
type fakeDecoder struct {
	broken map[string]bool
}

func (d fakeDecoder) Decode(path string) (image.Image, error) {
	name := filepath.Base(path)
	if d.broken[name] {
		return nil, fmt.Errorf("%s: %w", path, port.ErrImageDecode)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, port.ErrImageDecode, err)
	}
	return namedImage{Gray: image.NewGray(image.Rect(0, 0, 1, 1)), name: name}, nil
}

// fakeEncoder returns fixed vectors per image base name and per query text.
type fakeEncoder struct {
	dim    int
	images map[string][]float32
	texts  map[string][]float32

	mu        sync.Mutex
	failBatch map[string]bool // a batch containing this name fails
	textCalls int
	// entered and release, when set, block EncodeImageBatch.
	entered chan struct{}
	release chan struct{}
}

func (e *fakeEncoder) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	n, ok := img.(namedImage)
	if !ok {
		return nil, errors.New("unexpected image type")
	}
	v, ok := e.images[n.name]
	if !ok {
		return nil, fmt.Errorf("no vector for %s", n.name)
	}
	return append([]float32(nil), v...), nil
}

func (e *fakeEncoder) EncodeImageBatch(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	if e.entered != nil {
		e.entered <- struct{}{}
		<-e.release
	}
	out := make([][]float32, 0, len(imgs))
	for _, img := range imgs {
		if n, ok := img.(namedImage); ok && e.failBatch[n.name] {
			return nil, fmt.Errorf("model crashed on %s", n.name)
		}
		v, err := e.EncodeImage(ctx, img)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *fakeEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.textCalls++
	e.mu.Unlock()
	v, ok := e.texts[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return append([]float32(nil), v...), nil
}

func (e *fakeEncoder) Dimension() int    { return e.dim }
func (e *fakeEncoder) ModelName() string { return "fake" }

func (e *fakeEncoder) TextCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.textCalls
}

// touchFiles creates empty files under dir and returns their paths.
func touchFiles(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(paths[i]), 0755))
		require.NoError(t, os.WriteFile(paths[i], []byte("x"), 0644))
	}
	return paths
}

// writePNG writes a solid-colour 8x8 PNG.
func writePNG(t *testing.T, path string, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}
