package dom

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/pkg/types"
)

const page = `<html><body>
<div id="a"><img src="/a.jpg" width="300" height="200"></div>
<div id="b" style="position: relative"><img src="b.png" style="width: 120px"></div>
<p>text</p>
</body></html>`

func parse(t *testing.T, src string) *Document {
	base, err := url.Parse("https://example.com/gallery/index.html")
	require.NoError(t, err)
	d, err := Parse(strings.NewReader(src), base)
	require.NoError(t, err)
	return d
}

func TestImagesAndResolve(t *testing.T) {
	d := parse(t, page)
	imgs := Images(d.Root())
	require.Len(t, imgs, 2)
	require.Equal(t, "https://example.com/a.jpg", d.CurrentSrc(imgs[0]))
	require.Equal(t, "https://example.com/gallery/b.png", d.CurrentSrc(imgs[1]))

	// an <img> root is returned by itself
	require.Equal(t, []*html.Node{imgs[0]}, Images(imgs[0]))
}

func TestCurrentSrcPrefersLargestCandidate(t *testing.T) {
	d := parse(t, `<body><div><img src="small.jpg" srcset="small.jpg 320w, big.jpg 1280w, mid.jpg 640w"></div></body>`)
	img := Images(d.Root())[0]
	require.Equal(t, "https://example.com/gallery/big.jpg", d.CurrentSrc(img))

	d = parse(t, `<body><div><img srcset="a.jpg 1x, b.jpg 2x"></div></body>`)
	require.Equal(t, "https://example.com/gallery/b.jpg", d.CurrentSrc(Images(d.Root())[0]))
}

func TestReadyCallbacks(t *testing.T) {
	d := New(nil)
	require.Equal(t, Loading, d.ReadyState())
	ran := 0
	d.WhenReady(func() { ran++ })
	require.Equal(t, 0, ran)

	require.NoError(t, d.Load(strings.NewReader(page)))
	require.Equal(t, 1, ran)
	require.Equal(t, Interactive, d.ReadyState())

	d.WhenReady(func() { ran++ })
	require.Equal(t, 2, ran)
}

func TestAppendPublishesBatches(t *testing.T) {
	d := parse(t, page)
	sub := d.Subscribe()
	defer sub.Close()

	div := d.CreateElement("div")
	img := d.CreateElement("img", html.Attribute{Key: "src", Val: "x.jpg"})
	d.AppendChild(div, img) // detached parent, still an insertion
	d.Append(d.Body(), div, d.CreateElement("span"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []*html.Node{img}, b.Added)

	b, err = sub.Next(ctx)
	require.NoError(t, err)
	require.Len(t, b.Added, 2)
	require.Equal(t, d.Body(), div.Parent)

	d.Remove(div)
	require.Nil(t, div.Parent)
	require.Equal(t, 0, sub.Pending())
}

func TestSubscriptionAllStopsOnClose(t *testing.T) {
	d := parse(t, page)
	sub := d.Subscribe()
	d.AppendChild(d.Body(), d.CreateElement("div"))
	sub.Close()
	d.AppendChild(d.Body(), d.CreateElement("div"))

	n := 0
	for range sub.All(context.Background()) {
		n++
	}
	require.Equal(t, 1, n)
}

func TestNodeIDIsStable(t *testing.T) {
	d := parse(t, page)
	imgs := Images(d.Root())
	a := d.NodeID(imgs[0])
	b := d.NodeID(imgs[1])
	require.NotEqual(t, a, b)
	require.Equal(t, a, d.NodeID(imgs[0]))
}

func TestNodeIDContinuesAfterExistingIDs(t *testing.T) {
	d := parse(t, `<body><div><img src="a.jpg" data-annotator-id="ia-1"><img src="b.jpg" data-annotator-id="ia-7"><img src="c.jpg" data-annotator-id="hand-made"></div></body>`)
	img := d.CreateElement("img")
	d.Append(d.Body(), img)
	require.Equal(t, "ia-8", d.NodeID(img))

	ids := map[string]bool{}
	for _, n := range Images(d.Root()) {
		id := d.NodeID(n)
		require.False(t, ids[id], id)
		ids[id] = true
	}
}

func TestClassesAndText(t *testing.T) {
	d := parse(t, page)
	div := d.CreateElement("div")
	AddClass(div, "faces")
	AddClass(div, "face-box")
	AddClass(div, "faces")
	v, _ := Attr(div, "class")
	require.Equal(t, "faces face-box", v)
	require.True(t, HasClass(div, "face-box"))

	SetText(div, "25 years")
	SetText(div, "26 years")
	require.Equal(t, "26 years", Text(div))

	RemoveAttr(div, "class")
	require.False(t, HasAttr(div, "class"))
}

func TestStaticLayout(t *testing.T) {
	d := parse(t, page)
	imgs := Images(d.Root())

	l := StaticLayout{}
	box, ok := l.Box(imgs[0])
	require.True(t, ok)
	require.Equal(t, types.Viewport{Width: 300, Height: 200}, box)

	// width only, no natural size yet: width known, box incomplete
	box, ok = l.Box(imgs[1])
	require.False(t, ok)
	require.Equal(t, 120.0, box.Width)
	require.Equal(t, 0.0, box.Height)

	l.Natural = func(n *html.Node) (types.Dimensions, bool) {
		return types.Dimensions{Width: 600, Height: 300}, true
	}
	box, ok = l.Box(imgs[1])
	require.True(t, ok)
	require.Equal(t, 60.0, box.Height)

	bare := d.CreateElement("img")
	box, ok = l.Box(bare)
	require.True(t, ok)
	require.Equal(t, types.Viewport{Width: 600, Height: 300}, box)

	box, ok = StaticLayout{}.Box(bare)
	require.False(t, ok)
	require.Equal(t, types.Viewport{}, box)
}

func TestStaticLayoutHeightOnly(t *testing.T) {
	d := parse(t, `<body><div><img src="tall.jpg" height="300"></div></body>`)
	img := Images(d.Root())[0]

	box, ok := StaticLayout{}.Box(img)
	require.False(t, ok)
	require.Equal(t, types.Viewport{Height: 300}, box)

	l := StaticLayout{Natural: func(n *html.Node) (types.Dimensions, bool) {
		return types.Dimensions{Width: 200, Height: 400}, true
	}}
	box, ok = l.Box(img)
	require.True(t, ok)
	require.Equal(t, types.Viewport{Width: 150, Height: 300}, box)
}

func TestStaticLayoutAnchor(t *testing.T) {
	d := parse(t, `<body><div><img style="position:absolute; left: 40px; top:10px; width:400px; height:100px"></div></body>`)
	box, ok := StaticLayout{}.Box(Images(d.Root())[0])
	require.True(t, ok)
	require.Equal(t, types.Viewport{Left: 40, Top: 10, Width: 400, Height: 100}, box)
}

func TestIsStaticallyPositioned(t *testing.T) {
	d := parse(t, page)
	imgs := Images(d.Root())
	require.True(t, IsStaticallyPositioned(imgs[0].Parent))
	require.False(t, IsStaticallyPositioned(imgs[1].Parent))
}
