package imaging

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// FileDecoder decodes PNG, JPEG and GIF files from disk. Any other
// extension fails with both ErrImageDecode and ErrUnsupportedImage.
type FileDecoder struct{}

var _ port.ImageDecoder = FileDecoder{}

func NewFileDecoder() FileDecoder {
	return FileDecoder{}
}

func (FileDecoder) Decode(path string) (image.Image, error) {
	if !domain.IsSupportedImage(path) {
		return nil, fmt.Errorf("%s: %w: %w", path, port.ErrImageDecode, port.ErrUnsupportedImage)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, port.ErrImageDecode, err)
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, port.ErrImageDecode, err)
	}
	return img, nil
}
