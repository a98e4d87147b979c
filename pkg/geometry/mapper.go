// Package geometry maps analyzer bounding boxes onto a displayed image.
//
// Boxes arrive in the pixel space the analyzer worked in, which need not
// match either the image's natural size or its rendered size. The output is
// expressed in percent of the rendered box so overlays stay aligned however
// the page scales the image afterwards.
package geometry

import (
	"errors"
	"math"

	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/types"
)

var (
	ErrSourceDimensions   = errors.New("analysis resolution missing or not positive")
	ErrRenderedDimensions = errors.New("rendered image size missing or not positive")
	ErrNonFinite          = errors.New("bounding box is not finite")
)

// Map converts one source-pixel box into percentages of the rendered image box.
func Map(view types.Viewport, source types.Dimensions, box types.Box) (types.PercentRect, error) {
	if !source.Valid() {
		return types.PercentRect{}, failure.Wrap(failure.KindData, "map", "", ErrSourceDimensions)
	}
	if !positive(view.Width) || !positive(view.Height) {
		return types.PercentRect{}, failure.Wrap(failure.KindData, "map", "", ErrRenderedDimensions)
	}
	if !finite(box.Left, box.Top, box.Width, box.Height, view.Left, view.Top) {
		return types.PercentRect{}, failure.Wrap(failure.KindData, "map", "", ErrNonFinite)
	}

	sx := view.Width / float64(source.Width)
	sy := view.Height / float64(source.Height)

	// pixel offsets relative to the container, anchored at the image top-left
	left := view.Left + box.Left*sx
	top := view.Top + box.Top*sy
	width := box.Width * sx
	height := box.Height * sy

	return types.PercentRect{
		Left:   left / view.Width * 100,
		Top:    top / view.Height * 100,
		Width:  width / view.Width * 100,
		Height: height / view.Height * 100,
	}, nil
}

// MapAll maps every box or none: the first failure aborts the whole set.
func MapAll(view types.Viewport, source types.Dimensions, boxes []types.Box) ([]types.PercentRect, error) {
	out := make([]types.PercentRect, 0, len(boxes))
	for _, b := range boxes {
		r, err := Map(view, source, b)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ToPixels converts a percent rectangle back to pixels of a w×h image
func ToPixels(r types.PercentRect, w, h float64) (x, y, pw, ph float64) {
	return r.Left / 100 * w, r.Top / 100 * h, r.Width / 100 * w, r.Height / 100 * h
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
