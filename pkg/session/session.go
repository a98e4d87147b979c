// Package session runs one analysis per click: clear the image's overlays,
// call the analyzer off the loop, then render or report on the loop.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/eventloop"
	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/notice"
	"github.com/menta2k/image-annotator/pkg/overlay"
	"github.com/menta2k/image-annotator/pkg/settings"
	"github.com/menta2k/image-annotator/pkg/types"
)

// ConfigSource is the live settings view read at request time
type ConfigSource interface {
	Snapshot() settings.Config
}

// ResultFunc observes every rendered result
type ResultFunc func(img *html.Node, sourceURL string, res types.AnalysisResult, overlays []overlay.Overlay)

type Options struct {
	// LatestOnly drops results of a request that was superseded by a newer
	// click on the same image. Off by default: concurrent requests race and
	// the last one to resolve wins.
	LatestOnly bool

	// Timeout bounds each analyzer call. Zero means no limit beyond the context.
	Timeout time.Duration

	// Context is the parent of analyzer calls started by Activate
	Context context.Context

	OnResult ResultFunc
}

type Session struct {
	loop     *eventloop.Loop
	renderer *overlay.Renderer
	analyzer client.Analyzer
	config   ConfigSource
	notifier notice.Notifier
	log      logs.Log
	opts     Options

	// owned by the loop
	generation map[*html.Node]uint64

	wg       sync.WaitGroup
	inFlight atomic.Int32
}

func New(loop *eventloop.Loop, renderer *overlay.Renderer, analyzer client.Analyzer, config ConfigSource, notifier notice.Notifier, log logs.Log, opts Options) *Session {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if notifier == nil {
		notifier = notice.Log{Log: log}
	}
	return &Session{
		loop:       loop,
		renderer:   renderer,
		analyzer:   analyzer,
		config:     config,
		notifier:   notifier,
		log:        log,
		opts:       opts,
		generation: map[*html.Node]uint64{},
	}
}

// Activate is the affordance click handler. It runs on the loop.
func (s *Session) Activate(img *html.Node, sourceURL string) {
	if err := s.Analyze(s.opts.Context, img, sourceURL); err != nil {
		s.log.Debugf("Analysis not started for %v: %v", sourceURL, err)
	}
}

// Analyze clears img's overlays and starts an analysis. It must run on the
// loop and returns once the request is issued; the result is applied by a
// later loop task. A configuration error is returned (and notified) before
// any analyzer call is made.
func (s *Session) Analyze(ctx context.Context, img *html.Node, sourceURL string) error {
	s.renderer.Clear(img)

	cfg := s.config.Snapshot()
	if !cfg.HasCredentials() {
		s.notifier.Notify(notice.Notice{Kind: failure.KindConfig, Message: notice.MissingCredentials, Source: sourceURL})
		return failure.New(failure.KindConfig, "analyze", notice.MissingCredentials)
	}
	if sourceURL == "" {
		err := failure.New(failure.KindData, "analyze", "image has no source")
		s.log.Warnf("Skipping analysis: %v", err)
		return err
	}

	mode := cfg.Mode
	s.generation[img]++
	token := s.generation[img]

	s.wg.Add(1)
	s.inFlight.Add(1)
	s.log.Infof("Analyzing %v (%v)", sourceURL, mode)

	go func() {
		callCtx := ctx
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}
		resp, err := s.analyzer.Analyze(callCtx, client.Request{SourceURL: sourceURL, Mode: mode})
		if !s.loop.Post(func() {
			defer s.done()
			s.complete(img, sourceURL, mode, token, resp, err)
		}) {
			s.log.Warnf("Dropping result for %v: event loop stopped", sourceURL)
			s.done()
		}
	}()
	return nil
}

// Wait blocks until every started analysis has been applied. Must not be
// called from the loop.
func (s *Session) Wait() {
	s.wg.Wait()
}

// InFlight is the number of analyses not yet applied
func (s *Session) InFlight() int {
	return int(s.inFlight.Load())
}

func (s *Session) done() {
	s.inFlight.Add(-1)
	s.wg.Done()
}

func (s *Session) complete(img *html.Node, sourceURL string, mode types.Mode, token uint64, resp *types.VisionResponse, err error) {
	if s.opts.LatestOnly && s.generation[img] != token {
		s.log.Debugf("Discarding superseded result for %v", sourceURL)
		return
	}

	if err != nil {
		kind := failure.KindOf(err)
		if kind != failure.KindConfig {
			kind = failure.KindTransport
		}
		s.log.Errorf("Analysis of %v failed: %v", sourceURL, err)
		s.notifier.Notify(notice.Notice{Kind: kind, Message: "Error: " + reason(err), Source: sourceURL})
		return
	}

	res, err := types.Decode(mode, resp)
	if err != nil {
		s.log.Warnf("Not drawing %v: %v", sourceURL, err)
		return
	}
	overlays, err := s.renderer.Render(img, res)
	if err != nil {
		s.log.Warnf("Not drawing %v: %v", sourceURL, err)
		return
	}
	s.log.Infof("Rendered %v overlays on %v", len(overlays), sourceURL)
	if s.opts.OnResult != nil {
		s.opts.OnResult(img, sourceURL, res, overlays)
	}
}

// reason is the text the user sees for err
func reason(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) {
		if r := fe.Reason(); r != "" {
			return r
		}
	}
	return err.Error()
}
