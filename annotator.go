// Package imageannotator overlays image analysis results on the images of
// an HTML document.
//
// An Annotator owns a document and the single goroutine allowed to touch it.
// It attaches an "Analyze Image" affordance to every image at least MinWidth
// pixels wide, including images inserted later. Activating an affordance
// sends the image to an analyzer (Computer Vision, Ollama or llama.cpp) and
// draws the result on top of the image: one labelled box per face or
// celebrity, or a single adult-content banner.
//
// Basic usage:
//
//	doc, _ := dom.Parse(page, baseURL)
//	state := settings.NewState(log)
//	_ = state.Load(ctx, settings.NewMemoryStore(map[string]string{settings.KeyAPIKey: key}))
//
//	fetcher := imagesource.NewFetcher(30 * time.Second)
//	a := imageannotator.New(doc, azure.New(state, fetcher, log), state, log, imageannotator.Options{Prober: fetcher})
//	go a.Run(ctx)
//
//	a.WaitProbes()
//	a.ActivateAll(ctx, nil)
//	a.Wait()
//	html, _ := a.HTML(ctx)
//
// Overlays are positioned in percent of the rendered image, so they stay
// aligned when the page scales the image.
package imageannotator

import (
	"context"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/discovery"
	"github.com/menta2k/image-annotator/pkg/dom"
	"github.com/menta2k/image-annotator/pkg/eventloop"
	"github.com/menta2k/image-annotator/pkg/notice"
	"github.com/menta2k/image-annotator/pkg/overlay"
	"github.com/menta2k/image-annotator/pkg/session"
	"github.com/menta2k/image-annotator/pkg/settings"
)

// Version of the image annotator library
const Version = "1.0.0"

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

type Options struct {
	MinWidth   float64
	LatestOnly bool
	Timeout    time.Duration

	// Prober learns natural sizes of images that declare none
	Prober discovery.Prober

	// Notifier receives user notices in addition to the in-page banner and the log
	Notifier notice.Notifier

	OnResult session.ResultFunc
}

// Annotator wires discovery, analysis and rendering around one document
type Annotator struct {
	Doc      *dom.Document
	Loop     *eventloop.Loop
	Tracker  *discovery.Tracker
	Renderer *overlay.Renderer
	Session  *session.Session

	// Notices carries every user notice to outside observers
	Notices *notice.Bus

	log     logs.Log
	ctx     context.Context
	started chan struct{}
}

// New builds an annotator. Nothing touches the document until Run.
func New(doc *dom.Document, analyzer client.Analyzer, config session.ConfigSource, log logs.Log, opts Options) *Annotator {
	a := &Annotator{
		Doc:     doc,
		Loop:    eventloop.New(),
		Notices: notice.NewBus(),
		log:     log,
		started: make(chan struct{}),
	}

	a.Tracker = discovery.New(doc, a.Loop, log, a.activate, discovery.Options{
		MinWidth: opts.MinWidth,
		Prober:   opts.Prober,
	})
	a.Renderer = overlay.New(doc, a.Tracker.Layout(), log)

	notifiers := notice.Multi{a.Renderer, notice.Log{Log: log}, a.Notices}
	if opts.Notifier != nil {
		notifiers = append(notifiers, opts.Notifier)
	}
	a.Session = session.New(a.Loop, a.Renderer, analyzer, config, notifiers, log, session.Options{
		LatestOnly: opts.LatestOnly,
		Timeout:    opts.Timeout,
		OnResult:   opts.OnResult,
	})
	return a
}

// Run installs the stylesheet, starts discovery and runs the event loop
// until ctx is done.
func (a *Annotator) Run(ctx context.Context) error {
	a.ctx = ctx
	a.Loop.Post(func() {
		a.Renderer.InstallStyles()
		a.Tracker.Start(ctx)
		close(a.started)
	})
	return a.Loop.Run(ctx)
}

// Started is closed once discovery is running
func (a *Annotator) Started() <-chan struct{} {
	return a.started
}

func (a *Annotator) activate(img *html.Node, sourceURL string) {
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.Session.Analyze(ctx, img, sourceURL); err != nil {
		a.log.Debugf("Analysis not started for %v: %v", sourceURL, err)
	}
}

// Do runs fn on the event loop and waits for it
func (a *Annotator) Do(ctx context.Context, fn func()) error {
	return a.Loop.Do(ctx, fn)
}

// ActivateAll clicks every affordance whose image source contains one of
// the filter strings (all of them when filter is empty) and returns how
// many were clicked.
func (a *Annotator) ActivateAll(ctx context.Context, filter []string) (int, error) {
	clicked := 0
	err := a.Do(ctx, func() {
		for _, aff := range a.Tracker.Affordances() {
			if len(filter) > 0 && !matches(a.sourceOf(aff), filter) {
				continue
			}
			if err := a.Tracker.Activate(aff); err != nil {
				a.log.Warnf("Failed to activate affordance: %v", err)
				continue
			}
			clicked++
		}
	})
	return clicked, err
}

func (a *Annotator) sourceOf(aff *html.Node) string {
	for _, ti := range a.Tracker.Images() {
		if ti.Affordance == aff {
			return a.Doc.CurrentSrc(ti.Node)
		}
	}
	return ""
}

func matches(src string, filter []string) bool {
	for _, f := range filter {
		if f != "" && strings.Contains(src, f) {
			return true
		}
	}
	return false
}

// WaitProbes waits for natural-size probes started by discovery
func (a *Annotator) WaitProbes() {
	a.Tracker.WaitProbes()
}

// Wait blocks until every started analysis has been rendered or reported
func (a *Annotator) Wait() {
	a.Session.Wait()
}

// HTML renders the current document
func (a *Annotator) HTML(ctx context.Context) (string, error) {
	var out string
	err := a.Do(ctx, func() { out = a.Doc.String() })
	return out, err
}

// Follow keeps state in sync with store until ctx ends. It is a convenience
// for callers that own a settings.State.
func Follow(ctx context.Context, state *settings.State, store settings.Store, log logs.Log) {
	if err := state.Sync(ctx, store); err != nil {
		log.Warnf("Settings changes will not be followed: %v", err)
	}
}
