package port

import (
	"context"
	"image"
)

// Encoder maps images and text into a shared embedding space.
type Encoder interface {
	// EncodeImage embeds a single decoded image.
	EncodeImage(ctx context.Context, img image.Image) ([]float32, error)

	// EncodeImageBatch embeds several images in one call.
	// Returns one vector per input image, in input order.
	EncodeImageBatch(ctx context.Context, imgs []image.Image) ([][]float32, error)

	// EncodeText embeds a text query.
	EncodeText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// ImageDecoder opens and decodes image files.
type ImageDecoder interface {
	Decode(path string) (image.Image, error)
}

// LabelVocabulary is implemented by encoders that only understand a fixed
// vocabulary. Labels returns captions they can embed.
type LabelVocabulary interface {
	Labels() []string
}
