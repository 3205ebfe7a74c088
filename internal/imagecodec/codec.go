// Package imagecodec detects image formats and produces resized thumbnails.
package imagecodec

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/zeebo/errs"
)

var (
	// ErrNotSupported is returned for formats without an encoder.
	ErrNotSupported = errs.Class("image format not supported")
	// ErrInvalidDimensions is returned when the target width cannot be reached
	// by shrinking the source.
	ErrInvalidDimensions = errs.Class("invalid dimensions")
	// ErrDecode is returned for payloads that cannot be decoded.
	ErrDecode = errs.Class("image decode")
)

// MaxPixels bounds width*height of a source image. Larger images are
// rejected before their pixels are decoded.
const MaxPixels = 50_000_000

// Encoder re-encodes images in one of the supported formats.
type Encoder struct {
	Name        string
	Extension   string
	ContentType string
	format      imaging.Format
}

var (
	pngEncoder  = Encoder{Name: "png", Extension: "png", ContentType: "image/png", format: imaging.PNG}
	jpegEncoder = Encoder{Name: "jpeg", Extension: "jpeg", ContentType: "image/jpeg", format: imaging.JPEG}
	gifEncoder  = Encoder{Name: "gif", Extension: "gif", ContentType: "image/gif", format: imaging.GIF}
)

// DetectEncoder maps a content type ("image/png"), a file name ("a.JPG") or
// an extension (".gif", "jpg") to its encoder.
func DetectEncoder(contentTypeOrFilename string) (Encoder, error) {
	name := strings.ToLower(strings.TrimSpace(contentTypeOrFilename))
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if ext := filepath.Ext(name); ext != "" {
		name = ext
	}
	name = strings.TrimPrefix(name, ".")

	switch name {
	case "png":
		return pngEncoder, nil
	case "jpg", "jpeg":
		return jpegEncoder, nil
	case "gif":
		return gifEncoder, nil
	}
	return Encoder{}, ErrNotSupported.New("%q", contentTypeOrFilename)
}

// TargetSize computes the thumbnail dimensions. The width is always
// targetWidth; the height is the source height divided by the integer
// shrink factor, rounded half up. Aspect ratio is therefore only
// approximately preserved.
func TargetSize(width, height, targetWidth int) (int, int, error) {
	if width <= 0 || height <= 0 || targetWidth <= 0 {
		return 0, 0, ErrInvalidDimensions.New("source %dx%d, target width %d", width, height, targetWidth)
	}
	divisor := width / targetWidth
	if divisor == 0 {
		return 0, 0, ErrInvalidDimensions.New("target width %d exceeds source width %d", targetWidth, width)
	}
	h := int(math.Floor(float64(height)/float64(divisor) + 0.5))
	if h < 1 {
		h = 1
	}
	return targetWidth, h, nil
}

type ResizedImage struct {
	Data   []byte
	Width  int
	Height int
}

// Resize decodes data, shrinks it to targetWidth and re-encodes it with enc.
func Resize(data []byte, enc Encoder, targetWidth int) (ResizedImage, error) {
	const op = "imagecodec.Resize"

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ResizedImage{}, ErrDecode.Wrap(err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return ResizedImage{}, ErrInvalidDimensions.New("source %dx%d exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels)
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return ResizedImage{}, ErrDecode.Wrap(err)
	}
	bounds := src.Bounds()
	w, h, err := TargetSize(bounds.Dx(), bounds.Dy(), targetWidth)
	if err != nil {
		return ResizedImage{}, err
	}

	dst := imaging.Resize(src, w, h, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, enc.format); err != nil {
		return ResizedImage{}, fmt.Errorf("%s: encode %s: %w", op, enc.Name, err)
	}
	return ResizedImage{Data: buf.Bytes(), Width: w, Height: h}, nil
}
