// Package imaging shrinks uploaded pictures before they are stored.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	// Decoders for image.Decode.
	_ "image/gif"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Limits used for theme backgrounds.
const (
	MaxBytes     = 1 << 20
	MaxDimension = 1000
)

var ErrUnsupported = errors.New("imaging: unsupported image format")

type Options struct {
	MaxBytes     int
	MaxDimension int
}

// DefaultOptions are the background limits: 1 MB and 1000 px on the longest side.
var DefaultOptions = Options{MaxBytes: MaxBytes, MaxDimension: MaxDimension}

// Result is the encoded image and its content type.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Compress returns data unchanged when it already fits opts. Otherwise the
// image is scaled so its longest side is at most MaxDimension and re-encoded.
// PNGs stay PNG when that is enough; anything else, or a PNG that is still
// too large, becomes a JPEG at the highest quality that fits.
func Compress(data []byte, opts Options) (*Result, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	b := src.Bounds()
	if len(data) <= opts.MaxBytes && b.Dx() <= opts.MaxDimension && b.Dy() <= opts.MaxDimension {
		return &Result{Data: data, ContentType: "image/" + format, Width: b.Dx(), Height: b.Dy()}, nil
	}

	img := fit(src, opts.MaxDimension)

	if format == "png" {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("imaging: encoding png: %w", err)
		}
		if buf.Len() <= opts.MaxBytes {
			return result(buf.Bytes(), "image/png", img), nil
		}
	}

	// Lower the quality first, then the size.
	for {
		for quality := 90; quality >= 40; quality -= 10 {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
				return nil, fmt.Errorf("imaging: encoding jpeg: %w", err)
			}
			if buf.Len() <= opts.MaxBytes {
				return result(buf.Bytes(), "image/jpeg", img), nil
			}
		}

		ib := img.Bounds()
		if ib.Dx() <= 16 || ib.Dy() <= 16 {
			return nil, fmt.Errorf("imaging: cannot fit image into %d bytes", opts.MaxBytes)
		}
		img = scale(img, ib.Dx()*3/4, ib.Dy()*3/4)
	}
}

func result(data []byte, contentType string, img image.Image) *Result {
	b := img.Bounds()
	return &Result{Data: data, ContentType: contentType, Width: b.Dx(), Height: b.Dy()}
}

// fit scales src down so neither side exceeds maxDim, keeping the aspect ratio.
func fit(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return src
	}
	if w >= h {
		h = max(1, h*maxDim/w)
		w = maxDim
	} else {
		w = max(1, w*maxDim/h)
		h = maxDim
	}
	return scale(src, w, h)
}

func scale(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
