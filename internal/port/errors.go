package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrEmptyIndex        = errors.New("no images indexed")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrImageDecode       = errors.New("cannot decode image")
	ErrUnsupportedImage  = errors.New("unsupported image type")
	ErrMissingQueryImage = errors.New("a sample image is required for image and hybrid search")
	ErrMissingQueryText  = errors.New("a text query is required for text and hybrid search")
	ErrCorruptSnapshot   = errors.New("snapshot is corrupt")
	ErrIndexingBusy      = errors.New("indexing already in progress")
	ErrWorkerClosed      = errors.New("worker is closed")
	ErrNoLabels          = errors.New("the encoder cannot embed any describe label")
)
