// Package overlay draws analysis results on top of an image as positioned
// elements inside the image's parent container.
package overlay

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cyclopcam/logs"
	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/pkg/dom"
	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/types"
)

const (
	// ForAttr links an overlay element to the id of the image it annotates
	ForAttr = "data-overlay-for"

	ClassFace   = "faces"
	ClassBox    = "face-box"
	ClassAdult  = "adult-overlay"
	ClassNotice = "annotator-notice"
)

// adult panels must stay legible on any photo, so colours do not depend on the page
const adultStyle = "position:absolute; left:0; right:0; bottom:0; padding:4px 8px; " +
	"background:rgba(0,0,0,0.72); color:#fff; font:bold 14px sans-serif; " +
	"text-shadow:0 0 2px #000, 0 0 4px #000; z-index:2147483646;"

// Overlay is one inserted element
type Overlay struct {
	Node  *html.Node
	Rect  types.PercentRect
	Label string
}

type Renderer struct {
	doc    *dom.Document
	layout dom.Layout
	log    logs.Log
}

func New(doc *dom.Document, layout dom.Layout, log logs.Log) *Renderer {
	return &Renderer{doc: doc, layout: layout, log: log}
}

// Clear removes every overlay created for img, leaving overlays of sibling
// images alone. It returns how many elements were removed.
func (r *Renderer) Clear(img *html.Node) int {
	existing := r.Overlays(img)
	for _, n := range existing {
		r.doc.Remove(n)
	}
	return len(existing)
}

// Overlays returns the overlay elements currently attached for img
func (r *Renderer) Overlays(img *html.Node) []*html.Node {
	if img == nil || img.Parent == nil {
		return nil
	}
	id, ok := dom.Attr(img, dom.IDAttr)
	if !ok {
		return nil
	}
	var out []*html.Node
	for _, c := range dom.Children(img.Parent) {
		if v, _ := dom.Attr(c, ForAttr); v == id {
			out = append(out, c)
		}
	}
	return out
}

// Render replaces img's overlays with the ones for res. Nothing is touched
// when the result cannot be drawn; the returned error is then a data error.
func (r *Renderer) Render(img *html.Node, res types.AnalysisResult) ([]Overlay, error) {
	if img == nil || img.Parent == nil {
		return nil, failure.New(failure.KindData, "render", "image is detached")
	}
	switch res.Mode {
	case types.ModeAdult:
		return r.renderAdult(img, res.Adult)
	case types.ModeFaces, types.ModeCelebrities:
		return r.renderFaces(img, res)
	}
	return nil, failure.New(failure.KindData, "render", fmt.Sprintf("unsupported mode %q", res.Mode))
}

func (r *Renderer) renderAdult(img *html.Node, score *types.AdultScore) ([]Overlay, error) {
	if score == nil {
		return nil, failure.New(failure.KindData, "render", "no adult score")
	}
	id := r.doc.NodeID(img)
	text := AdultText(*score)

	var panel *html.Node
	for _, n := range r.Overlays(img) {
		if panel == nil && dom.HasClass(n, ClassAdult) {
			panel = n
			continue
		}
		r.doc.Remove(n)
	}
	created := panel == nil
	if created {
		panel = r.doc.CreateElement("div")
		dom.SetAttr(panel, "class", ClassAdult)
		dom.SetAttr(panel, ForAttr, id)
	}
	dom.SetAttr(panel, "style", adultStyle)
	dom.SetAttr(panel, "title", text)
	dom.SetText(panel, text)
	if created {
		r.doc.AppendChild(img.Parent, panel)
	}
	return []Overlay{{Node: panel, Rect: types.PercentRect{Width: 100, Height: 100}, Label: text}}, nil
}

func (r *Renderer) renderFaces(img *html.Node, res types.AnalysisResult) ([]Overlay, error) {
	if len(res.Faces) == 0 {
		r.Clear(img)
		return []Overlay{}, nil
	}
	if res.Source == nil || !res.Source.Valid() {
		return nil, failure.Wrap(failure.KindData, "render", "", geometry.ErrSourceDimensions)
	}
	view, ok := r.layout.Box(img)
	if !ok {
		view, ok = completeFromSource(view, *res.Source)
		if !ok {
			return nil, failure.Wrap(failure.KindData, "render", "", geometry.ErrRenderedDimensions)
		}
		r.log.Debugf("Rendered size of image %v assumed from analysed aspect ratio", r.doc.NodeID(img))
	}

	boxes := make([]types.Box, len(res.Faces))
	for i, f := range res.Faces {
		boxes[i] = f.Box
	}
	rects, err := geometry.MapAll(view, *res.Source, boxes)
	if err != nil {
		return nil, err
	}

	id := r.doc.NodeID(img)
	r.Clear(img)

	out := make([]Overlay, 0, len(rects))
	nodes := make([]*html.Node, 0, len(rects))
	for i, rect := range rects {
		label := Label(res.Mode, res.Faces[i])
		box := r.doc.CreateElement("div")
		dom.SetAttr(box, "class", ClassFace+" "+ClassBox)
		dom.SetAttr(box, ForAttr, id)
		dom.SetAttr(box, "style", Style(rect))
		dom.SetAttr(box, "title", label)
		dom.SetText(box, label)
		nodes = append(nodes, box)
		out = append(out, Overlay{Node: box, Rect: rect, Label: label})
	}
	r.doc.Append(img.Parent, nodes...)
	return out, nil
}

// Label is the visible text and tooltip of one face box
func Label(mode types.Mode, f types.DetectedFace) string {
	if mode == types.ModeFaces {
		if f.Age == nil {
			return "Face detected"
		}
		return strconv.FormatFloat(*f.Age, 'f', -1, 64) + " years"
	}
	if f.Name == "" {
		return "Unknown"
	}
	return f.Name
}

// AdultText formats the adult-content banner
func AdultText(s types.AdultScore) string {
	verdict := "no"
	if s.IsAdult {
		verdict = "yes"
	}
	return fmt.Sprintf("%.2f%% is Adult Content: %s", s.Probability*100, verdict)
}

// Style is the inline geometry of a face box
func Style(r types.PercentRect) string {
	return fmt.Sprintf("left:%s%%; top:%s%%; width:%s%%; height:%s%%;",
		pct(r.Left), pct(r.Top), pct(r.Width), pct(r.Height))
}

func pct(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}

// completeFromSource fills the unknown side of a half-known box using the
// aspect ratio of the analysed image.
func completeFromSource(view types.Viewport, source types.Dimensions) (types.Viewport, bool) {
	switch {
	case view.Width > 0 && view.Height <= 0:
		view.Height = view.Width * float64(source.Height) / float64(source.Width)
	case view.Height > 0 && view.Width <= 0:
		view.Width = view.Height * float64(source.Width) / float64(source.Height)
	default:
		return view, false
	}
	return view, true
}
