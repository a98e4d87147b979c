package overlay

import (
	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/pkg/dom"
	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/notice"
)

// StylesID is the id of the injected stylesheet
const StylesID = "annotator-styles"

const stylesheet = `.relative-parent { position: relative !important; }
.info-overlay { position: absolute; top: 4px; left: 4px; z-index: 2147483646; cursor: pointer; }
.face-box { position: absolute; box-sizing: border-box; border: 2px solid #3cf; color: #fff; font: 12px sans-serif; text-shadow: 0 0 2px #000; overflow: visible; z-index: 2147483645; }
.annotator-notice { position: fixed; top: 0; left: 0; right: 0; padding: 8px; background: #b00020; color: #fff; font: 14px sans-serif; z-index: 2147483647; }
.annotator-notice[data-kind="config"] { background: #8a6d00; }
`

// InstallStyles adds the annotator stylesheet to the document head once
func (r *Renderer) InstallStyles() {
	root := r.doc.Root()
	if dom.Find(root, func(n *html.Node) bool {
		v, _ := dom.Attr(n, "id")
		return dom.IsElement(n, "style") && v == StylesID
	}) != nil {
		return
	}
	parent := r.doc.Head()
	if parent == nil {
		parent = r.doc.Body()
	}
	style := r.doc.CreateElement("style", html.Attribute{Key: "id", Val: StylesID})
	style.AppendChild(&html.Node{Type: html.TextNode, Data: stylesheet})
	r.doc.AppendChild(parent, style)
}

// Notify shows n as a banner at the top of the body. A second notice
// replaces the first.
func (r *Renderer) Notify(n notice.Notice) {
	body := r.doc.Body()
	for _, c := range dom.Children(body) {
		if dom.IsElement(c, "div") && dom.HasClass(c, ClassNotice) {
			r.doc.Remove(c)
		}
	}
	kind := n.Kind
	if kind == "" {
		kind = failure.KindTransport
	}
	banner := r.doc.CreateElement("div",
		html.Attribute{Key: "class", Val: ClassNotice},
		html.Attribute{Key: "role", Val: "alert"},
		html.Attribute{Key: "data-kind", Val: string(kind)},
	)
	dom.SetText(banner, n.Message)
	r.doc.Prepend(body, banner)
	r.log.Debugf("Notice shown: %v", n.Message)
}
