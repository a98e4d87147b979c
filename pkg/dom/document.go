// Package dom is a small live document on top of golang.org/x/net/html.
//
// A Document is not safe for concurrent use: every call must come from the
// goroutine that owns it (the event loop). Element insertions made through
// the Document are published to subscribers as "nodes added" batches, which
// is the only mutation kind the annotator observes.
package dom

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ReadyState mirrors document.readyState
type ReadyState int

const (
	Loading ReadyState = iota
	Interactive
	Complete
)

func (s ReadyState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Interactive:
		return "interactive"
	case Complete:
		return "complete"
	}
	return "unknown"
}

// IDAttr holds the per-element identifier used to link overlays to their image
const IDAttr = "data-annotator-id"

const idPrefix = "ia-"

type Document struct {
	root    *html.Node
	base    *url.URL
	state   ReadyState
	onReady []func()
	nextID  int

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// New returns an empty document that is still loading
func New(base *url.URL) *Document {
	root, _ := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
	return &Document{
		root: root,
		base: base,
		subs: map[*Subscription]struct{}{},
	}
}

// Parse builds a document from r and marks it interactive
func Parse(r io.Reader, base *url.URL) (*Document, error) {
	d := New(base)
	if err := d.Load(r); err != nil {
		return nil, err
	}
	return d, nil
}

// Load replaces the document content with r, then runs the pending ready callbacks.
func (d *Document) Load(r io.Reader) error {
	root, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	d.root = root
	d.nextID = highestID(root)
	d.SetReadyState(Interactive)
	return nil
}

// highestID finds the largest counter among ids already present, so a
// document that was annotated before never hands out a duplicate.
func highestID(root *html.Node) int {
	highest := 0
	Walk(root, func(n *html.Node) bool {
		if v, ok := Attr(n, IDAttr); ok {
			if num, err := strconv.Atoi(strings.TrimPrefix(v, idPrefix)); err == nil && num > highest {
				highest = num
			}
		}
		return true
	})
	return highest
}

func (d *Document) ReadyState() ReadyState {
	return d.state
}

// SetReadyState advances the state. Reaching Interactive fires WhenReady callbacks.
func (d *Document) SetReadyState(s ReadyState) {
	if s <= d.state {
		return
	}
	d.state = s
	if s >= Interactive {
		pending := d.onReady
		d.onReady = nil
		for _, fn := range pending {
			fn()
		}
	}
}

// WhenReady runs fn now if the document is interactive, or once it becomes so
func (d *Document) WhenReady(fn func()) {
	if d.state >= Interactive {
		fn()
		return
	}
	d.onReady = append(d.onReady, fn)
}

func (d *Document) Root() *html.Node {
	return d.root
}

func (d *Document) Body() *html.Node {
	if b := Find(d.root, func(n *html.Node) bool { return IsElement(n, "body") }); b != nil {
		return b
	}
	return d.root
}

func (d *Document) BaseURL() *url.URL {
	return d.base
}

// ResolveURL resolves ref against the document base URL
func (d *Document) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if d.base == nil || ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.base.ResolveReference(u).String()
}

// CreateElement returns a detached element
func (d *Document) CreateElement(tag string, attrs ...html.Attribute) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

// AppendChild moves child under parent and publishes one batch
func (d *Document) AppendChild(parent, child *html.Node) {
	d.Append(parent, child)
}

// Append inserts all children under parent and publishes them as one batch
func (d *Document) Append(parent *html.Node, children ...*html.Node) {
	if len(children) == 0 {
		return
	}
	for _, c := range children {
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		parent.AppendChild(c)
	}
	d.publish(Batch{Added: children})
}

// Prepend inserts child as the first child of parent and publishes it
func (d *Document) Prepend(parent, child *html.Node) {
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.InsertBefore(child, parent.FirstChild)
	d.publish(Batch{Added: []*html.Node{child}})
}

// Head returns the <head> element, if any
func (d *Document) Head() *html.Node {
	return Find(d.root, func(n *html.Node) bool { return IsElement(n, "head") })
}

// Remove detaches n from its parent. Removals are not published.
func (d *Document) Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// NodeID returns the stable identifier of n, assigning one on first use
func (d *Document) NodeID(n *html.Node) string {
	if id, ok := Attr(n, IDAttr); ok && id != "" {
		return id
	}
	d.nextID++
	id := idPrefix + strconv.Itoa(d.nextID)
	SetAttr(n, IDAttr, id)
	return id
}

// Render writes the document as HTML
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document, for logs and tests
func (d *Document) String() string {
	var sb strings.Builder
	if err := d.Render(&sb); err != nil {
		return ""
	}
	return sb.String()
}
