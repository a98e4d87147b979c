package imagesource

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/menta2k/image-annotator/pkg/types"
)

// PrepareOptions describes what an analyzer accepts
type PrepareOptions struct {
	Formats      []string // accepted as-is, e.g. jpeg, png, gif, bmp
	MaxDimension int      // longest side; 0 = unlimited
	MaxBytes     int      // upload size cap; 0 = unlimited
	Quality      int      // JPEG quality when re-encoding
}

// DefaultPrepareOptions matches the limits of the Computer Vision analyze call
func DefaultPrepareOptions() PrepareOptions {
	return PrepareOptions{
		Formats:      []string{"jpeg", "png", "gif", "bmp"},
		MaxDimension: 4096,
		MaxBytes:     4 << 20,
		Quality:      90,
	}
}

// Decode decodes any registered format, falling back to chai2010/webp
func Decode(data []byte) (image.Image, string, error) {
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, "webp", nil
	}
	return nil, "", fmt.Errorf("image: unknown or unsupported format")
}

// Prepare returns img unchanged when the analyzer can take it, otherwise a
// JPEG re-encode that is downsized to MaxDimension and squeezed under
// MaxBytes. The analyzer then reports boxes in the prepared resolution.
func Prepare(img *Image, opts PrepareOptions) (*Image, error) {
	if acceptable(img, opts) {
		return img, nil
	}

	decoded, _, err := Decode(img.Data)
	if err != nil {
		return nil, err
	}
	if opts.MaxDimension > 0 {
		b := decoded.Bounds()
		if b.Dx() > opts.MaxDimension || b.Dy() > opts.MaxDimension {
			decoded = imaging.Fit(decoded, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		}
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, decoded, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		if opts.MaxBytes <= 0 || buf.Len() <= opts.MaxBytes || quality <= 40 {
			break
		}
		quality -= 15
	}
	if opts.MaxBytes > 0 && buf.Len() > opts.MaxBytes {
		return nil, fmt.Errorf("image still %d bytes after re-encoding (limit %d)", buf.Len(), opts.MaxBytes)
	}

	b := decoded.Bounds()
	return &Image{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Format:      "jpeg",
		Size:        types.Dimensions{Width: b.Dx(), Height: b.Dy()},
	}, nil
}

func acceptable(img *Image, opts PrepareOptions) bool {
	if len(opts.Formats) > 0 {
		ok := false
		for _, f := range opts.Formats {
			if strings.EqualFold(f, img.Format) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if opts.MaxDimension > 0 && (img.Size.Width > opts.MaxDimension || img.Size.Height > opts.MaxDimension) {
		return false
	}
	if opts.MaxBytes > 0 && len(img.Data) > opts.MaxBytes {
		return false
	}
	return true
}

// Base64 returns the raw image bytes base64-encoded
func (img *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}

// DataURL returns the image as a data: URI
func (img *Image) DataURL() string {
	return "data:" + img.ContentType + ";base64," + img.Base64()
}
