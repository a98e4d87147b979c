package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"golang.org/x/net/html"

	imageannotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/azure"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/detection"
	"github.com/menta2k/image-annotator/pkg/dom"
	"github.com/menta2k/image-annotator/pkg/imagesource"
	"github.com/menta2k/image-annotator/pkg/llamacpp"
	"github.com/menta2k/image-annotator/pkg/notice"
	"github.com/menta2k/image-annotator/pkg/ollama"
	"github.com/menta2k/image-annotator/pkg/overlay"
	"github.com/menta2k/image-annotator/pkg/session"
	"github.com/menta2k/image-annotator/pkg/settings"
	"github.com/menta2k/image-annotator/pkg/snapshot"
	"github.com/menta2k/image-annotator/pkg/types"
)

func main() {
	var in, out, configPath string
	var backend, serverURL, model, mode, key, endpoint, redisAddr string
	var minWidth float64
	var selectList string
	var latest bool
	var snapshots, snapext string

	flag.StringVar(&in, "in", "", "input HTML page path or URL")
	flag.StringVar(&out, "out", "annotated.html", "output HTML path (- for stdout)")
	flag.StringVar(&configPath, "config", config.GetConfigPath(), "config file")
	flag.StringVar(&backend, "backend", "", "analyzer: azure|ollama|llamacpp (default from config)")
	flag.StringVar(&serverURL, "url", "", "server URL for ollama/llamacpp")
	flag.StringVar(&model, "model", "", "model name for ollama/llamacpp")
	flag.StringVar(&mode, "mode", "", "analysis mode: faces|celebrities|adult")
	flag.StringVar(&key, "key", "", "Computer Vision API key")
	flag.StringVar(&endpoint, "endpoint", "", "Computer Vision endpoint")
	flag.StringVar(&redisAddr, "redis", "", "Redis address for shared settings")
	flag.Float64Var(&minWidth, "minwidth", 0, "minimum rendered image width (px)")
	flag.StringVar(&selectList, "select", "", "comma separated substrings; only matching image sources are analyzed")
	flag.BoolVar(&latest, "latest", false, "drop superseded results for the same image")
	flag.StringVar(&snapshots, "snapshots", "", "directory for annotated image snapshots")
	flag.StringVar(&snapext, "snapext", "", "snapshot format: png|jpg|webp")

	flag.Parse()

	log, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if in == "" {
		log.Errorf("usage: %s -in page.html|URL [-backend azure|ollama|llamacpp] [-mode faces|celebrities|adult] [-out annotated.html] [-snapshots dir]", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	// flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend.Kind = backend
		case "url":
			cfg.Backend.URL = serverURL
		case "model":
			cfg.Backend.Model = model
		case "mode":
			cfg.Settings.Mode = mode
		case "key":
			cfg.Settings.APIKey = key
		case "endpoint":
			cfg.Settings.APIEndpoint = endpoint
		case "redis":
			cfg.Settings.RedisAddr = redisAddr
		case "minwidth":
			cfg.Discovery.MinWidth = minWidth
		case "latest":
			cfg.Session.LatestOnly = latest
		case "snapshots":
			cfg.Output.SnapshotDir = snapshots
		case "snapext":
			cfg.Output.SnapshotFormat = snapext
		}
	})
	cfg.Backend.Kind = strings.ToLower(cfg.Backend.Kind)
	if err := cfg.Validate(); err != nil {
		log.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, log, cfg, in, out, parseSelect(selectList)); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log logs.Log, cfg *config.Config, in, out string, filter []string) error {
	store, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	state := settings.NewState(log)
	if err := state.Load(ctx, store); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go imageannotator.Follow(syncCtx, state, store, log)

	local := !utils.IsRemote(in)
	fetcher := imagesource.NewFetcher(cfg.Timeout()).AllowFiles(cfg.Discovery.AllowFiles || local)

	analyzer, gate, err := newAnalyzer(cfg, state, store, fetcher, log)
	if err != nil {
		return err
	}

	doc, err := loadPage(ctx, in, cfg.Timeout())
	if err != nil {
		return err
	}

	var written atomic.Int32
	var pending sync.WaitGroup
	opts := imageannotator.Options{
		MinWidth:   cfg.Discovery.MinWidth,
		LatestOnly: cfg.Session.LatestOnly,
		Timeout:    cfg.Timeout(),
	}
	if cfg.Discovery.ProbeNatural {
		opts.Prober = fetcher
	}
	if cfg.Output.SnapshotDir != "" {
		if err := utils.EnsureDir(cfg.Output.SnapshotDir); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		opts.OnResult = func(img *html.Node, src string, res types.AnalysisResult, overlays []overlay.Overlay) {
			n := int(written.Add(1))
			pending.Add(1)
			// runs on the loop; drawing must not block it
			go func() {
				defer pending.Done()
				writeSnapshot(ctx, log, cfg, fetcher, n, src, res)
			}()
		}
	}

	a := imageannotator.New(doc, analyzer, gate, log, opts)
	var failed atomic.Int32
	if _, err := a.Notices.Subscribe(func(n notice.Notice) { failed.Add(1) }); err != nil {
		return err
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan error, 1)
	go func() { loopDone <- a.Run(loopCtx) }()

	select {
	case <-a.Started():
	case err := <-loopDone:
		stopLoop()
		return fmt.Errorf("event loop stopped early: %w", err)
	}

	a.WaitProbes()
	clicked, err := a.ActivateAll(ctx, filter)
	if err != nil {
		stopLoop()
		return err
	}
	log.Infof("Analyzing %v images (%v)", clicked, state.Snapshot().Mode)
	a.Wait()
	pending.Wait()

	page, err := a.HTML(ctx)
	stopLoop()
	<-loopDone
	if err != nil {
		return err
	}

	if out == "-" {
		_, err = io.WriteString(os.Stdout, page)
		return err
	}
	if err := os.WriteFile(out, []byte(page), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	log.Infof("wrote %s", out)
	if n := failed.Load(); n > 0 {
		log.Warnf("%v of %v analyses reported a problem", n, clicked)
	}
	return nil
}

func parseSelect(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func openStore(ctx context.Context, log logs.Log, cfg *config.Config) (settings.Store, error) {
	rc, ok := cfg.Redis()
	if !ok {
		return settings.NewMemoryStore(cfg.Seed()), nil
	}
	store, err := settings.NewRedisStore(ctx, rc, log)
	if err != nil {
		return nil, err
	}
	if seed := cfg.Seed(); len(seed) > 0 {
		if err := store.Set(ctx, seed); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to seed settings: %w", err)
		}
	}
	return store, nil
}

// newAnalyzer builds the configured backend and the settings view the
// session checks before each request.
func newAnalyzer(cfg *config.Config, state *settings.State, store settings.Store, fetcher *imagesource.Fetcher, log logs.Log) (client.Analyzer, session.ConfigSource, error) {
	var vc client.VisionClient
	switch cfg.Backend.Kind {
	case "azure":
		return azure.New(settings.StoreCredentials{Store: store}, fetcher, log), state, nil
	case "ollama":
		u := cfg.Backend.URL
		if u == "" {
			u = "http://localhost:11434"
		}
		c, err := ollama.NewClient(u)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		vc = c
	case "llamacpp":
		u := cfg.Backend.URL
		if u == "" {
			u = llamacpp.DefaultServerURL
		}
		c, err := llamacpp.NewClient(u)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		vc = c
	default:
		return nil, nil, fmt.Errorf("unknown backend: %s (use azure, ollama or llamacpp)", cfg.Backend.Kind)
	}
	return detection.NewDetector(vc, fetcher, cfg.Backend.Model, log), keyless{state: state, backend: cfg.Backend.Kind}, nil
}

// keyless reports local model servers as always configured; they take no API key
type keyless struct {
	state   *settings.State
	backend string
}

func (k keyless) Snapshot() settings.Config {
	c := k.state.Snapshot()
	if c.APIKey == "" {
		c.APIKey = k.backend
	}
	return c
}

func loadPage(ctx context.Context, in string, timeout time.Duration) (*dom.Document, error) {
	if utils.IsRemote(in) {
		base, err := url.Parse(in)
		if err != nil {
			return nil, fmt.Errorf("invalid page URL: %w", err)
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, in, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("failed to fetch page: %s", resp.Status)
		}
		return dom.Parse(resp.Body, base)
	}

	abs, err := filepath.Abs(in)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()
	return dom.Parse(f, &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)})
}

func writeSnapshot(ctx context.Context, log logs.Log, cfg *config.Config, fetcher *imagesource.Fetcher, index int, src string, res types.AnalysisResult) {
	raw, err := fetcher.Fetch(ctx, src)
	if err != nil {
		log.Warnf("snapshot of %v skipped: %v", src, err)
		return
	}
	img, _, err := imagesource.Decode(raw.Data)
	if err != nil {
		log.Warnf("snapshot of %v skipped: %v", src, err)
		return
	}
	drawn, err := snapshot.Draw(img, res)
	if err != nil {
		log.Warnf("snapshot of %v skipped: %v", src, err)
		return
	}
	path := utils.SnapshotFilename(cfg.Output.SnapshotDir, index, string(res.Mode), src, cfg.Output.SnapshotFormat)
	if err := snapshot.Save(drawn, path, cfg.Output.SnapshotFormat, cfg.Output.SnapshotQuality, cfg.Output.Lossless); err != nil {
		log.Warnf("snapshot save %s failed: %v", path, err)
		return
	}
	log.Infof("wrote %s", path)
}
