package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	safety "github.com/heibot/safety"
)

// ImageMeta is the header information of an uploaded image.
type ImageMeta struct {
	Format string // jpeg, png, webp
	Width  int
	Height int
	Bytes  int
}

// InspectImage decodes only the image header. Formats the upload profile
// rejects (gif, bmp, tiff) are still recognized so the rejection can name
// them; bytes that are not an image at all fail with a validation error.
func InspectImage(data []byte) (ImageMeta, error) {
	if len(data) == 0 {
		return ImageMeta{}, safety.NewValidationError("image", "empty payload")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageMeta{}, safety.NewValidationError("image", fmt.Sprintf("unrecognized image: %v", err))
	}
	return ImageMeta{
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Bytes:  len(data),
	}, nil
}
