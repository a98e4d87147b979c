package dom

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/pkg/types"
)

// Layout reports the displayed box of an element. It is recomputed on
// every call; callers must not cache it across render passes.
type Layout interface {
	Box(n *html.Node) (types.Viewport, bool)
}

// NaturalSizeFunc returns the intrinsic pixel size of an image once known
type NaturalSizeFunc func(n *html.Node) (types.Dimensions, bool)

// StaticLayout derives the displayed box from markup alone: width/height
// attributes, inline px styles, and the natural size as a fallback, keeping
// the natural aspect ratio when only one side is declared.
//
// When one side is declared and the natural size is not known yet, Box
// returns the partial box (the unknown side is zero) with ok=false.
type StaticLayout struct {
	Natural NaturalSizeFunc
}

func (l StaticLayout) Box(n *html.Node) (types.Viewport, bool) {
	if n == nil {
		return types.Viewport{}, false
	}
	style := map[string]string{}
	if s, ok := Attr(n, "style"); ok {
		style = ParseStyle(s)
	}

	w, hasW := declared(n, style, "width")
	h, hasH := declared(n, style, "height")

	var nat types.Dimensions
	hasNat := false
	if l.Natural != nil {
		nat, hasNat = l.Natural(n)
		hasNat = hasNat && nat.Valid()
	}

	complete := true
	switch {
	case hasW && hasH:
	case hasW && hasNat:
		h = w * float64(nat.Height) / float64(nat.Width)
	case hasH && hasNat:
		w = h * float64(nat.Width) / float64(nat.Height)
	case !hasW && !hasH && hasNat:
		w, h = float64(nat.Width), float64(nat.Height)
	default:
		complete = false
	}

	vp := types.Viewport{Width: w, Height: h}
	if pos := strings.ToLower(style["position"]); pos == "absolute" || pos == "relative" {
		if v, ok := parsePixels(style["left"]); ok {
			vp.Left = v
		}
		if v, ok := parsePixels(style["top"]); ok {
			vp.Top = v
		}
	}
	return vp, complete
}

func declared(n *html.Node, style map[string]string, prop string) (float64, bool) {
	if v, ok := style[prop]; ok {
		if px, ok := parsePixels(v); ok {
			return px, true
		}
	}
	if v, ok := Attr(n, prop); ok {
		if px, ok := parsePixels(v); ok {
			return px, true
		}
	}
	return 0, false
}

// IsStaticallyPositioned reports whether n has no inline positioning, which
// means absolutely placed children would escape it.
func IsStaticallyPositioned(n *html.Node) bool {
	if HasClass(n, "relative-parent") {
		return false
	}
	pos := strings.ToLower(StyleValue(n, "position"))
	return pos == "" || pos == "static"
}
