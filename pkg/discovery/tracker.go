// Package discovery finds images worth analysing in a live document and
// attaches one clickable affordance to each of them.
package discovery

import (
	"context"
	"errors"
	"sync"

	"github.com/cyclopcam/logs"
	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/pkg/dom"
	"github.com/menta2k/image-annotator/pkg/eventloop"
	"github.com/menta2k/image-annotator/pkg/types"
)

const (
	// DefaultMinWidth excludes icons and thumbnails
	DefaultMinWidth = 200

	// SeenAttr marks an image that already carries an affordance
	SeenAttr = "data-stop"

	// AffordanceForAttr links an affordance to the id of its image
	AffordanceForAttr = "data-affordance-for"

	ClassAffordance     = "info-overlay"
	ClassRelativeParent = "relative-parent"
)

var ErrNotAffordance = errors.New("element is not an analysis affordance")

// ActivateFunc receives a clicked image and its current source URL
type ActivateFunc func(img *html.Node, sourceURL string)

// Prober returns the natural pixel size of an image source
type Prober interface {
	Probe(ctx context.Context, source string) (types.Dimensions, error)
}

// TrackedImage is what the tracker knows about one <img>
type TrackedImage struct {
	Node       *html.Node
	Seen       bool
	Affordance *html.Node
	Natural    types.Dimensions

	probing bool
	probed  bool
}

type Options struct {
	// MinWidth is the smallest rendered width that qualifies. Zero means DefaultMinWidth.
	MinWidth float64

	// Layout computes rendered boxes. Nil means a dom.StaticLayout fed by probed natural sizes.
	Layout dom.Layout

	// Prober, when set, is used to learn the natural size of images with no declared size.
	Prober Prober
}

// Tracker must only be used from the event loop goroutine, except for Watch
// which posts its work there.
type Tracker struct {
	doc      *dom.Document
	loop     *eventloop.Loop
	log      logs.Log
	layout   dom.Layout
	minWidth float64
	prober   Prober
	activate ActivateFunc

	images map[*html.Node]*TrackedImage
	ctx    context.Context

	probeMu sync.Mutex
	probeCv *sync.Cond
	pending int
}

func New(doc *dom.Document, loop *eventloop.Loop, log logs.Log, activate ActivateFunc, opts Options) *Tracker {
	t := &Tracker{
		doc:      doc,
		loop:     loop,
		log:      log,
		minWidth: opts.MinWidth,
		prober:   opts.Prober,
		activate: activate,
		images:   map[*html.Node]*TrackedImage{},
		ctx:      context.Background(),
	}
	t.probeCv = sync.NewCond(&t.probeMu)
	if t.minWidth <= 0 {
		t.minWidth = DefaultMinWidth
	}
	t.layout = opts.Layout
	if t.layout == nil {
		t.layout = dom.StaticLayout{Natural: t.NaturalSize}
	}
	return t
}

// Layout is the layout used to qualify images, shared with the renderer
func (t *Tracker) Layout() dom.Layout {
	return t.layout
}

// Start subscribes to the mutation feed and scans the whole document as soon
// as it is interactive. Must run on the loop.
func (t *Tracker) Start(ctx context.Context) *dom.Subscription {
	t.ctx = ctx
	sub := t.doc.Subscribe()
	go t.Watch(ctx, sub)
	t.doc.WhenReady(func() {
		n := t.Scan(t.doc.Root())
		t.log.Infof("Initial scan attached %v affordances", n)
	})
	return sub
}

// Watch re-scans every added subtree until ctx ends or sub is closed
func (t *Tracker) Watch(ctx context.Context, sub *dom.Subscription) {
	for batch := range sub.All(ctx) {
		added := batch.Added
		if !t.loop.Post(func() {
			for _, n := range added {
				t.Scan(n)
			}
		}) {
			return
		}
	}
}

// Scan attaches affordances to qualifying images in root and returns how
// many were attached. Images already seen are skipped.
func (t *Tracker) Scan(root *html.Node) int {
	attached := 0
	for _, img := range dom.Images(root) {
		if img.Parent == nil {
			continue
		}
		ti := t.track(img)
		if ti.Seen {
			continue
		}
		if dom.HasAttr(img, SeenAttr) {
			ti.Seen = true
			continue
		}
		view, ok := t.layout.Box(img)
		if view.Width > 0 && view.Width < t.minWidth {
			continue
		}
		if !ok {
			// a declared width is enough to qualify; the probe fills in the other side
			t.probe(ti)
			if view.Width <= 0 {
				continue
			}
		}
		t.attach(ti)
		attached++
	}
	return attached
}

// Images returns every image the tracker has observed
func (t *Tracker) Images() []*TrackedImage {
	out := make([]*TrackedImage, 0, len(t.images))
	for _, ti := range t.images {
		out = append(out, ti)
	}
	return out
}

// Lookup returns the tracked state of img
func (t *Tracker) Lookup(img *html.Node) (*TrackedImage, bool) {
	ti, ok := t.images[img]
	return ti, ok
}

// Affordances returns the attached affordances in document order
func (t *Tracker) Affordances() []*html.Node {
	return dom.FindAll(t.doc.Root(), func(n *html.Node) bool {
		return dom.IsElement(n, "div") && dom.HasAttr(n, AffordanceForAttr)
	})
}

// Activate handles a click on an affordance
func (t *Tracker) Activate(affordance *html.Node) error {
	img := t.imageFor(affordance)
	if img == nil {
		return ErrNotAffordance
	}
	src := t.doc.CurrentSrc(img)
	t.log.Debugf("Affordance activated for %v", src)
	if t.activate != nil {
		t.activate(img, src)
	}
	return nil
}

// NaturalSize reports the probed natural size of img
func (t *Tracker) NaturalSize(img *html.Node) (types.Dimensions, bool) {
	ti, ok := t.images[img]
	if !ok || !ti.Natural.Valid() {
		return types.Dimensions{}, false
	}
	return ti.Natural, true
}

// WaitProbes blocks until no natural-size probe is outstanding, including
// probes started while it waits. Must not be called from the loop.
func (t *Tracker) WaitProbes() {
	t.probeMu.Lock()
	defer t.probeMu.Unlock()
	for t.pending > 0 {
		t.probeCv.Wait()
	}
}

func (t *Tracker) probeStarted() {
	t.probeMu.Lock()
	t.pending++
	t.probeMu.Unlock()
}

func (t *Tracker) probeDone() {
	t.probeMu.Lock()
	t.pending--
	if t.pending == 0 {
		t.probeCv.Broadcast()
	}
	t.probeMu.Unlock()
}

func (t *Tracker) track(img *html.Node) *TrackedImage {
	ti, ok := t.images[img]
	if !ok {
		ti = &TrackedImage{Node: img}
		t.images[img] = ti
	}
	return ti
}

func (t *Tracker) attach(ti *TrackedImage) {
	img := ti.Node
	parent := img.Parent
	ti.Seen = true
	dom.SetAttr(img, SeenAttr, "true")

	if dom.IsStaticallyPositioned(parent) {
		dom.AddClass(parent, ClassRelativeParent)
	}

	aff := t.doc.CreateElement("div",
		html.Attribute{Key: "class", Val: ClassAffordance},
		html.Attribute{Key: "title", Val: "Analyze Image"},
		html.Attribute{Key: AffordanceForAttr, Val: t.doc.NodeID(img)},
	)
	icon := t.doc.CreateElement("span")
	dom.SetText(icon, "🔍")
	aff.AppendChild(icon)
	ti.Affordance = aff
	t.doc.AppendChild(parent, aff)
}

// imageFor maps an affordance back to the image it was created for
func (t *Tracker) imageFor(affordance *html.Node) *html.Node {
	id, ok := dom.Attr(affordance, AffordanceForAttr)
	if !ok || affordance.Parent == nil {
		return nil
	}
	for _, c := range dom.Children(affordance.Parent) {
		if v, _ := dom.Attr(c, dom.IDAttr); v == id && dom.IsElement(c, "img") {
			return c
		}
	}
	for img, ti := range t.images {
		if ti.Affordance == affordance {
			return img
		}
	}
	return nil
}

func (t *Tracker) probe(ti *TrackedImage) {
	if t.prober == nil || ti.probing || ti.probed {
		return
	}
	src := t.doc.CurrentSrc(ti.Node)
	if src == "" {
		return
	}
	ti.probing = true
	t.probeStarted()
	ctx := t.ctx
	go func() {
		dims, err := t.prober.Probe(ctx, src)
		if !t.loop.Post(func() {
			defer t.probeDone()
			ti.probing = false
			ti.probed = true
			if err != nil {
				t.log.Debugf("Failed to probe %v: %v", src, err)
				return
			}
			ti.Natural = dims
			t.Scan(ti.Node)
		}) {
			t.probeDone()
		}
	}()
}
