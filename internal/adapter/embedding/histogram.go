package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"imgsearch/internal/adapter/analyzer"
	"imgsearch/internal/port"
)

const (
	histogramLevels    = 4
	HistogramDimension = histogramLevels * histogramLevels * histogramLevels

	// maxSamples bounds the pixels visited per axis.
	maxSamples = 128
)

var ErrNoVisualTerms = errors.New("query has no terms the histogram encoder understands")

type rgb struct{ r, g, b uint8 }

// colorTerms maps colour words to a representative RGB value.
var colorTerms = map[string]rgb{
	"red":     {230, 30, 30},
	"green":   {30, 200, 30},
	"blue":    {30, 30, 230},
	"yellow":  {240, 230, 30},
	"orange":  {250, 150, 20},
	"purple":  {140, 40, 180},
	"violet":  {140, 40, 180},
	"pink":    {250, 160, 200},
	"white":   {250, 250, 250},
	"black":   {10, 10, 10},
	"gray":    {128, 128, 128},
	"grey":    {128, 128, 128},
	"brown":   {140, 80, 30},
	"cyan":    {30, 220, 230},
	"magenta": {230, 30, 230},
}

// colourLabels are the captions offered to describe, one per distinct colour.
var colourLabels = []string{
	"mostly red", "mostly green", "mostly blue", "mostly yellow", "mostly orange",
	"mostly purple", "mostly pink", "mostly white", "mostly black", "mostly gray",
	"mostly brown", "mostly cyan", "mostly magenta",
}

// HistogramEncoder embeds images as normalised 4x4x4 RGB histograms and text
// as the histogram of the colour words it mentions. It needs no model and
// runs offline, which makes it the default for local use and tests.
type HistogramEncoder struct {
	tokenizer *analyzer.Tokenizer
}

var (
	_ port.Encoder         = (*HistogramEncoder)(nil)
	_ port.LabelVocabulary = (*HistogramEncoder)(nil)
)

func NewHistogramEncoder() *HistogramEncoder {
	return &HistogramEncoder{tokenizer: analyzer.NewTokenizer(true)}
}

func (e *HistogramEncoder) EncodeImage(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("failed to encode image: empty bounds")
	}

	stepX := max(1, b.Dx()/maxSamples)
	stepY := max(1, b.Dy()/maxSamples)

	hist := make([]float64, HistogramDimension)
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			hist[bin(uint8(r>>8), uint8(g>>8), uint8(bl>>8))]++
		}
	}
	return normalized(hist), nil
}

func (e *HistogramEncoder) EncodeImageBatch(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	out := make([][]float32, len(imgs))
	for i, img := range imgs {
		v, err := e.EncodeImage(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *HistogramEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hist := make([]float64, HistogramDimension)
	found := false
	for _, term := range e.tokenizer.Tokenize(text) {
		c, ok := colorTerms[term]
		if !ok {
			continue
		}
		hist[bin(c.r, c.g, c.b)]++
		found = true
	}
	if !found {
		return nil, fmt.Errorf("%q: %w", text, ErrNoVisualTerms)
	}
	return normalized(hist), nil
}

func (e *HistogramEncoder) Dimension() int {
	return HistogramDimension
}

// Labels returns captions made of the colour words the encoder knows.
func (e *HistogramEncoder) Labels() []string {
	return append([]string(nil), colourLabels...)
}

func (e *HistogramEncoder) ModelName() string {
	return "rgb-histogram-64"
}

func bin(r, g, b uint8) int {
	q := func(v uint8) int { return int(v) * histogramLevels / 256 }
	return q(r)*histogramLevels*histogramLevels + q(g)*histogramLevels + q(b)
}

func normalized(hist []float64) []float32 {
	var sum float64
	for _, h := range hist {
		sum += h * h
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(hist))
	if norm == 0 {
		return out
	}
	for i, h := range hist {
		out[i] = float32(h / norm)
	}
	return out
}
