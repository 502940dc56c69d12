// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes image normalization failures.
type ErrorKind int

const (
	// KindDecodeFailure means the bytes could not be decoded as an image.
	KindDecodeFailure ErrorKind = iota
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	return "decode_failure"
}

// ImageError is a typed, attachment-scoped normalization failure.
type ImageError struct {
	Kind     ErrorKind
	Filename string
	Cause    error
}

func (e *ImageError) Error() string {
	msg := "image normalization failed (" + e.Kind.String() + ") for " + e.Filename
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ImageError) Unwrap() error {
	return e.Cause
}

// AsImageError extracts a typed image error from an error chain.
func AsImageError(err error) (*ImageError, bool) {
	var ie *ImageError
	ok := errors.As(err, &ie)
	return ie, ok
}

// =============================================================================
// NORMALIZER
// =============================================================================

// DefaultMaxDimension bounds the long edge of images sent to the model.
const DefaultMaxDimension = 1568

// NormalizedImage is an image ready for inclusion in a model request.
type NormalizedImage struct {
	Filename   string
	MIMEType   string
	Base64Data string
	Width      int
	Height     int
}

// Normalizer decodes and bounds uploaded images.
type Normalizer struct {
	maxDimension int
}

// NewNormalizer creates a normalizer with the given long-edge bound.
// A non-positive bound falls back to DefaultMaxDimension.
func NewNormalizer(maxDimension int) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	return &Normalizer{maxDimension: maxDimension}
}

// Normalize decodes the image, downsizes it if its long edge exceeds the
// bound, and returns the base64-encoded result. Images already within the
// bound keep their original bytes untouched.
func (n *Normalizer) Normalize(data []byte, mimeType, filename string) (*NormalizedImage, error) {
	img, format, err := decode(data, mimeType)
	if err != nil {
		return nil, &ImageError{Kind: KindDecodeFailure, Filename: filename, Cause: err}
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width <= n.maxDimension && height <= n.maxDimension {
		return &NormalizedImage{
			Filename:   filename,
			MIMEType:   formatMIME(format),
			Base64Data: base64.StdEncoding.EncodeToString(data),
			Width:      width,
			Height:     height,
		}, nil
	}

	newWidth, newHeight := scaled(width, height, n.maxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	encoded, outMIME, err := encode(dst, format)
	if err != nil {
		return nil, &ImageError{Kind: KindDecodeFailure, Filename: filename, Cause: err}
	}

	return &NormalizedImage{
		Filename:   filename,
		MIMEType:   outMIME,
		Base64Data: base64.StdEncoding.EncodeToString(encoded),
		Width:      newWidth,
		Height:     newHeight,
	}, nil
}

// MaxDimension returns the configured long-edge bound.
func (n *Normalizer) MaxDimension() int {
	return n.maxDimension
}

// =============================================================================
// CODEC HELPERS
// =============================================================================

// decode tries the declared MIME type's decoder first, then falls back to
// content sniffing. Browsers occasionally mislabel uploads.
func decode(data []byte, mimeType string) (image.Image, string, error) {
	switch mimeType {
	case "image/jpeg":
		if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
			return img, "jpeg", nil
		}
	case "image/png":
		if img, err := png.Decode(bytes.NewReader(data)); err == nil {
			return img, "png", nil
		}
	case "image/gif":
		if img, err := gif.Decode(bytes.NewReader(data)); err == nil {
			return img, "gif", nil
		}
	case "image/webp":
		if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
			return img, "webp", nil
		}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, format, nil
	}
	if img, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
		return img, "webp", nil
	}
	return nil, "", err
}

// encode writes a downscaled image back out. JPEG stays JPEG; everything
// else becomes PNG, since GIF and WebP have no lossless resize story here.
func encode(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/png", nil
}

// scaled computes dimensions with the long edge clamped to max, preserving
// aspect ratio. Never returns a zero dimension.
func scaled(width, height, max int) (int, int) {
	if width >= height {
		newHeight := height * max / width
		if newHeight < 1 {
			newHeight = 1
		}
		return max, newHeight
	}
	newWidth := width * max / height
	if newWidth < 1 {
		newWidth = 1
	}
	return newWidth, max
}

// formatMIME maps a decoder format name to a MIME type.
func formatMIME(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
