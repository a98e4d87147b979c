// Package snapshot burns an analysis result into a copy of the image, for
// offline review of what the overlays showed.
package snapshot

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/overlay"
	"github.com/menta2k/image-annotator/pkg/types"
)

var (
	boxColor   = color.NRGBA{51, 204, 255, 255}
	labelBG    = color.NRGBA{0, 0, 0, 184}
	labelColor = color.White
)

// Draw returns img with res drawn on top. Face boxes go through the same
// mapping as the live overlays, with the whole image as the rendered box.
func Draw(img image.Image, res types.AnalysisResult) (image.Image, error) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if w <= 0 || h <= 0 {
		return nil, failure.New(failure.KindData, "snapshot", "empty image")
	}

	dc := gg.NewContextForImage(img)
	stroke := math.Max(2, 0.004*math.Min(w, h))

	switch res.Mode {
	case types.ModeAdult:
		if res.Adult == nil {
			return nil, failure.New(failure.KindData, "snapshot", "no adult score")
		}
		drawBanner(dc, overlay.AdultText(*res.Adult), w, h)
		return dc.Image(), nil
	case types.ModeFaces, types.ModeCelebrities:
	default:
		return nil, failure.New(failure.KindData, "snapshot", fmt.Sprintf("unsupported mode %q", res.Mode))
	}

	if len(res.Faces) == 0 {
		return dc.Image(), nil
	}
	if res.Source == nil {
		return nil, failure.Wrap(failure.KindData, "snapshot", "", geometry.ErrSourceDimensions)
	}
	boxes := make([]types.Box, len(res.Faces))
	for i, f := range res.Faces {
		boxes[i] = f.Box
	}
	rects, err := geometry.MapAll(types.Viewport{Width: w, Height: h}, *res.Source, boxes)
	if err != nil {
		return nil, err
	}

	for i, r := range rects {
		x, y, bw, bh := geometry.ToPixels(r, w, h)
		dc.SetColor(boxColor)
		dc.SetLineWidth(stroke)
		dc.DrawRectangle(x, y, bw, bh)
		dc.Stroke()
		drawLabel(dc, overlay.Label(res.Mode, res.Faces[i]), x, y)
	}
	return dc.Image(), nil
}

func drawLabel(dc *gg.Context, text string, x, y float64) {
	tw, th := dc.MeasureString(text)
	pad := 3.0
	top := y - th - 2*pad
	if top < 0 {
		top = y
	}
	dc.SetColor(labelBG)
	dc.DrawRectangle(x, top, tw+2*pad, th+2*pad)
	dc.Fill()
	dc.SetColor(labelColor)
	dc.DrawStringAnchored(text, x+pad, top+pad, 0, 1)
}

func drawBanner(dc *gg.Context, text string, w, h float64) {
	_, th := dc.MeasureString(text)
	band := th * 3
	dc.SetColor(labelBG)
	dc.DrawRectangle(0, h-band, w, band)
	dc.Fill()
	dc.SetColor(labelColor)
	dc.DrawStringAnchored(text, w/2, h-band/2, 0.5, 0.5)
}

// Save writes img to path as png, jpg or webp
func Save(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
	return fmt.Errorf("unsupported snapshot format %q", format)
}
