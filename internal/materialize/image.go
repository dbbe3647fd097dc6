package materialize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

const (
	// maxImageDimension caps the longest edge of stored scene images.
	// Providers sometimes return renders far larger than the editor
	// displays them.
	maxImageDimension = 2048

	jpegQuality = 85
)

// recompressImage normalizes a downloaded provider image: decode, downscale
// to maxImageDimension if larger, and re-encode as JPEG. Re-encoding also
// drops any metadata the provider embedded.
func recompressImage(data []byte) ([]byte, string, error) {
	logProviderMetadata(data)

	img, format, err := decodeImage(data)
	if err != nil {
		return nil, "", err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	newWidth, newHeight := fitDimensions(width, height, maxImageDimension)

	if newWidth != width || newHeight != height {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode JPEG: %w", err)
	}

	log.Debug().
		Str("sourceFormat", format).
		Int("origWidth", width).
		Int("origHeight", height).
		Int("newWidth", newWidth).
		Int("newHeight", newHeight).
		Int("inputBytes", len(data)).
		Int("outputBytes", buf.Len()).
		Msg("Image recompressed")

	return buf.Bytes(), "image/jpeg", nil
}

func decodeImage(data []byte) (image.Image, string, error) {
	contentType := http.DetectContentType(data)
	switch {
	case strings.Contains(contentType, "jpeg"):
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decode JPEG: %w", err)
		}
		return img, "jpeg", nil
	case strings.Contains(contentType, "png"):
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decode PNG: %w", err)
		}
		return img, "png", nil
	default:
		return nil, "", fmt.Errorf("unsupported image content type %q", contentType)
	}
}

// logProviderMetadata records any EXIF the provider embedded before the
// re-encode strips it. Most generated images carry none; a decode failure
// here is expected and not an error.
func logProviderMetadata(data []byte) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}

	cameraMake := strings.TrimSpace(exifData.Make)
	cameraModel := strings.TrimSpace(exifData.Model)
	if cameraMake == "" && cameraModel == "" {
		return
	}
	log.Debug().
		Str("make", cameraMake).
		Str("model", cameraModel).
		Msg("Provider image carried EXIF metadata, stripping on re-encode")
}

// fitDimensions scales (width, height) down to fit within maxDim,
// preserving aspect ratio. Images already within bounds are unchanged.
func fitDimensions(width, height, maxDim int) (int, int) {
	if width <= maxDim && height <= maxDim {
		return width, height
	}
	if width > height {
		return maxDim, int(float64(height) * float64(maxDim) / float64(width))
	}
	return int(float64(width) * float64(maxDim) / float64(height)), maxDim
}
