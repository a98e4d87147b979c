package discovery

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/pkg/dom"
	"github.com/menta2k/image-annotator/pkg/eventloop"
	"github.com/menta2k/image-annotator/pkg/types"
)

const page = `<html><body>
<div id="hero"><img src="hero.jpg" width="640" height="480"></div>
<div id="icon"><img src="icon.png" width="32" height="32"></div>
<div id="placed" style="position:absolute"><img src="placed.jpg" style="width:300px;height:200px"></div>
</body></html>`

type clicks struct {
	mu   sync.Mutex
	srcs []string
}

func (c *clicks) activate(_ *html.Node, src string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.srcs = append(c.srcs, src)
}

func (c *clicks) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.srcs...)
}

func newDoc(t *testing.T, src string) *dom.Document {
	base, _ := url.Parse("https://example.com/album/")
	doc, err := dom.Parse(strings.NewReader(src), base)
	require.NoError(t, err)
	return doc
}

func runLoop(t *testing.T) (*eventloop.Loop, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := eventloop.New()
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Stopped()
	})
	return loop, ctx
}

func affordancesFor(img *html.Node) int {
	n := 0
	id, _ := dom.Attr(img, dom.IDAttr)
	for _, c := range dom.Children(img.Parent) {
		if v, ok := dom.Attr(c, AffordanceForAttr); ok && v == id {
			n++
		}
	}
	return n
}

func TestScanIsIdempotent(t *testing.T) {
	doc := newDoc(t, page)
	tr := New(doc, eventloop.New(), logs.NewTestingLog(t), nil, Options{})

	require.Equal(t, 2, tr.Scan(doc.Root()))
	require.Equal(t, 0, tr.Scan(doc.Root()))
	require.Equal(t, 0, tr.Scan(doc.Body()))

	imgs := dom.Images(doc.Root())
	require.Equal(t, 1, affordancesFor(imgs[0]))
	require.Equal(t, 0, affordancesFor(imgs[1]))
	require.Equal(t, 1, affordancesFor(imgs[2]))
	require.Len(t, tr.Affordances(), 2)

	v, _ := dom.Attr(imgs[0], SeenAttr)
	require.Equal(t, "true", v)
	require.False(t, dom.HasAttr(imgs[1], SeenAttr))

	aff := tr.Affordances()[0]
	require.True(t, dom.HasClass(aff, ClassAffordance))
	title, _ := dom.Attr(aff, "title")
	require.Equal(t, "Analyze Image", title)
	require.Equal(t, "🔍", dom.Text(aff))

	// static parent gets repositioned, an already positioned one does not
	require.True(t, dom.HasClass(imgs[0].Parent, ClassRelativeParent))
	require.False(t, dom.HasClass(imgs[2].Parent, ClassRelativeParent))
}

func TestScanBelowThresholdNeverAttaches(t *testing.T) {
	doc := newDoc(t, `<body><div><img src="a.png" width="199" height="100"></div><img src="orphan.png"></body>`)
	tr := New(doc, eventloop.New(), logs.NewTestingLog(t), nil, Options{})
	for i := 0; i < 3; i++ {
		require.Equal(t, 0, tr.Scan(doc.Root()))
	}
	require.Empty(t, tr.Affordances())

	tr = New(doc, eventloop.New(), logs.NewTestingLog(t), nil, Options{MinWidth: 150})
	require.Equal(t, 1, tr.Scan(doc.Root()))
}

func TestScanRespectsForeignMarker(t *testing.T) {
	doc := newDoc(t, `<body><div><img src="a.png" width="400" height="300" data-stop="true"></div></body>`)
	tr := New(doc, eventloop.New(), logs.NewTestingLog(t), nil, Options{})
	require.Equal(t, 0, tr.Scan(doc.Root()))
	ti, ok := tr.Lookup(dom.Images(doc.Root())[0])
	require.True(t, ok)
	require.True(t, ti.Seen)
}

func TestActivate(t *testing.T) {
	doc := newDoc(t, `<body><div><img src="small.jpg" srcset="small.jpg 400w, large.jpg 1600w" width="400" height="300"></div></body>`)
	var c clicks
	tr := New(doc, eventloop.New(), logs.NewTestingLog(t), c.activate, Options{})
	require.Equal(t, 1, tr.Scan(doc.Root()))

	require.NoError(t, tr.Activate(tr.Affordances()[0]))
	require.Equal(t, []string{"https://example.com/album/large.jpg"}, c.all())

	require.ErrorIs(t, tr.Activate(doc.Body()), ErrNotAffordance)
}

func TestStartDefersUntilInteractive(t *testing.T) {
	loop, ctx := runLoop(t)
	doc := dom.New(nil)
	tr := New(doc, loop, logs.NewTestingLog(t), nil, Options{})

	require.NoError(t, loop.Do(ctx, func() { tr.Start(ctx) }))
	require.NoError(t, loop.Do(ctx, func() { require.Empty(t, tr.Affordances()) }))

	require.NoError(t, loop.Do(ctx, func() {
		require.NoError(t, doc.Load(strings.NewReader(page)))
	}))
	require.NoError(t, loop.Do(ctx, func() { require.Len(t, tr.Affordances(), 2) }))
}

func TestWatchScansInsertedImages(t *testing.T) {
	loop, ctx := runLoop(t)
	doc := newDoc(t, `<body><div id="feed"></div></body>`)
	tr := New(doc, loop, logs.NewTestingLog(t), nil, Options{})
	require.NoError(t, loop.Do(ctx, func() { tr.Start(ctx) }))

	require.NoError(t, loop.Do(ctx, func() {
		card := doc.CreateElement("div")
		img := doc.CreateElement("img",
			html.Attribute{Key: "src", Val: "late.jpg"},
			html.Attribute{Key: "width", Val: "500"},
			html.Attribute{Key: "height", Val: "500"},
		)
		card.AppendChild(img)
		doc.AppendChild(doc.Body(), card)
	}))

	require.Eventually(t, func() bool {
		n := 0
		_ = loop.Do(ctx, func() { n = len(tr.Affordances()) })
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type fakeProber struct {
	dims  types.Dimensions
	err   error
	calls int
	mu    sync.Mutex
}

func (p *fakeProber) Probe(context.Context, string) (types.Dimensions, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.dims, p.err
}

func TestProbeNaturalSize(t *testing.T) {
	loop, ctx := runLoop(t)
	doc := newDoc(t, `<body><div><img src="big.jpg"></div><div><img src="tiny.jpg" width="50"></div></body>`)
	prober := &fakeProber{dims: types.Dimensions{Width: 1200, Height: 800}}
	tr := New(doc, loop, logs.NewTestingLog(t), nil, Options{Prober: prober})

	require.NoError(t, loop.Do(ctx, func() {
		require.Equal(t, 0, tr.Scan(doc.Root()))
	}))
	tr.WaitProbes()

	require.NoError(t, loop.Do(ctx, func() {
		require.Len(t, tr.Affordances(), 1)
		img := dom.Images(doc.Root())[0]
		dims, ok := tr.NaturalSize(img)
		require.True(t, ok)
		require.Equal(t, 1200, dims.Width)
		view, ok := tr.Layout().Box(img)
		require.True(t, ok)
		require.Equal(t, 800.0, view.Height)

		// probed once, never again
		tr.Scan(doc.Root())
	}))
	tr.WaitProbes()
	require.Equal(t, 1, prober.calls)
}

func TestProbeFailureLeavesImageUnqualified(t *testing.T) {
	loop, ctx := runLoop(t)
	doc := newDoc(t, `<body><div><img src="broken.jpg"></div></body>`)
	prober := &fakeProber{err: errors.New("Image fetch error: 404 Not Found")}
	tr := New(doc, loop, logs.NewTestingLog(t), nil, Options{Prober: prober})

	require.NoError(t, loop.Do(ctx, func() { tr.Scan(doc.Root()) }))
	tr.WaitProbes()
	require.NoError(t, loop.Do(ctx, func() {
		require.Empty(t, tr.Affordances())
		tr.Scan(doc.Root())
	}))
	tr.WaitProbes()
	require.Equal(t, 1, prober.calls)
}

func TestWidthOnlyImageQualifiesAndIsProbed(t *testing.T) {
	loop, ctx := runLoop(t)
	doc := newDoc(t, `<body><div><img src="wide.jpg" width="400"></div><div><img src="narrow.jpg" width="80"></div></body>`)
	prober := &fakeProber{dims: types.Dimensions{Width: 800, Height: 600}}
	tr := New(doc, loop, logs.NewTestingLog(t), nil, Options{Prober: prober})

	require.NoError(t, loop.Do(ctx, func() {
		require.Equal(t, 1, tr.Scan(doc.Root()))
	}))
	tr.WaitProbes()

	require.NoError(t, loop.Do(ctx, func() {
		require.Len(t, tr.Affordances(), 1)
		wide := dom.Images(doc.Root())[0]
		view, ok := tr.Layout().Box(wide)
		require.True(t, ok)
		require.Equal(t, types.Viewport{Width: 400, Height: 300}, view)
		require.Equal(t, 1, affordancesFor(wide))
	}))
	// the narrow image is ruled out by its declared width alone
	require.Equal(t, 1, prober.calls)
}

type gatedProber struct {
	gates map[string]chan struct{}
}

func (p *gatedProber) Probe(ctx context.Context, src string) (types.Dimensions, error) {
	select {
	case <-p.gates[src]:
	case <-ctx.Done():
		return types.Dimensions{}, ctx.Err()
	}
	return types.Dimensions{Width: 640, Height: 480}, nil
}

func TestWaitProbesCoversProbesStartedWhileWaiting(t *testing.T) {
	loop, ctx := runLoop(t)
	doc := newDoc(t, `<body><div><img src="first.jpg"></div></body>`)
	prober := &gatedProber{gates: map[string]chan struct{}{
		"https://example.com/album/first.jpg":  make(chan struct{}),
		"https://example.com/album/second.jpg": make(chan struct{}),
	}}
	tr := New(doc, loop, logs.NewTestingLog(t), nil, Options{Prober: prober})
	require.NoError(t, loop.Do(ctx, func() { tr.Scan(doc.Root()) }))

	done := make(chan struct{})
	go func() {
		tr.WaitProbes()
		close(done)
	}()

	require.NoError(t, loop.Do(ctx, func() {
		wrap := doc.CreateElement("div")
		img := doc.CreateElement("img", html.Attribute{Key: "src", Val: "second.jpg"})
		wrap.AppendChild(img)
		doc.Append(doc.Body(), wrap)
		tr.Scan(wrap)
	}))

	close(prober.gates["https://example.com/album/first.jpg"])
	require.Never(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond)

	close(prober.gates["https://example.com/album/second.jpg"])
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitProbes did not return")
	}
	require.NoError(t, loop.Do(ctx, func() {
		require.Len(t, tr.Affordances(), 2)
	}))
}
