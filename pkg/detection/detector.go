package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cyclopcam/logs"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/imagesource"
	"github.com/menta2k/image-annotator/pkg/types"
)

// Detector answers analysis requests with a vision language model. It
// produces the same payload shape as the Computer Vision service, with the
// analysed resolution taken from the prepared image.
type Detector struct {
	client  client.VisionClient
	fetcher imagesource.Loader
	model   string
	prepare imagesource.PrepareOptions
	log     logs.Log
}

// NewDetector creates a new detector with a vision client
func NewDetector(vc client.VisionClient, fetcher imagesource.Loader, model string, log logs.Log) *Detector {
	opts := imagesource.DefaultPrepareOptions()
	// vision LLMs downscale internally; sending less keeps CPU inference tolerable
	opts.MaxDimension = 1344
	return &Detector{
		client:  vc,
		fetcher: fetcher,
		model:   model,
		prepare: opts,
		log:     log,
	}
}

// WithPrepareOptions overrides how images are transcoded before upload
func (d *Detector) WithPrepareOptions(opts imagesource.PrepareOptions) *Detector {
	d.prepare = opts
	return d
}

// Analyze implements client.Analyzer
func (d *Detector) Analyze(ctx context.Context, req client.Request) (*types.VisionResponse, error) {
	img, err := d.fetcher.Fetch(ctx, req.SourceURL)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransport, "fetch", "", err)
	}
	prepared, err := imagesource.Prepare(img, d.prepare)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransport, "prepare", "", err)
	}
	prompt, err := PromptFor(req.Mode, prepared.Size)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "prompt", "", err)
	}

	d.log.Debugf("Querying %v for %v (%vx%v %v)", d.model, req.Mode, prepared.Size.Width, prepared.Size.Height, prepared.Format)
	raw, err := d.client.SimpleQuery(ctx, d.model, prompt, prepared.Base64())
	if err != nil {
		return nil, failure.Wrap(failure.KindTransport, "query", "", err)
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransport, "parse", "", err)
	}
	resp.Metadata = &types.ImageMetadata{
		Width:  prepared.Size.Width,
		Height: prepared.Size.Height,
		Format: prepared.Format,
	}
	resp.ModelVersion = d.model
	clampBoxes(resp, prepared.Size)
	return resp, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, source string) (string, error) {
	img, err := d.fetcher.Fetch(ctx, source)
	if err != nil {
		return "", err
	}
	prepared, err := imagesource.Prepare(img, d.prepare)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, prepared.Base64())
}

// ParseResponse decodes a model reply into the analyzer payload
func ParseResponse(raw string) (*types.VisionResponse, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("model returned non-JSON response: %q", truncate(raw, 80))
	}
	var resp types.VisionResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return &resp, nil
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)\s//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// clampBoxes keeps model boxes inside the image they describe
func clampBoxes(resp *types.VisionResponse, size types.Dimensions) {
	for i := range resp.Faces {
		resp.Faces[i].FaceRectangle = clampBox(resp.Faces[i].FaceRectangle, size)
	}
	for _, c := range resp.Categories {
		if c.Detail == nil {
			continue
		}
		for i := range c.Detail.Celebrities {
			c.Detail.Celebrities[i].FaceRectangle = clampBox(c.Detail.Celebrities[i].FaceRectangle, size)
		}
	}
	if resp.Adult != nil {
		resp.Adult.AdultScore = clamp(resp.Adult.AdultScore, 0, 1)
		resp.Adult.RacyScore = clamp(resp.Adult.RacyScore, 0, 1)
		resp.Adult.GoreScore = clamp(resp.Adult.GoreScore, 0, 1)
	}
}

func clampBox(b types.Box, size types.Dimensions) types.Box {
	w, h := float64(size.Width), float64(size.Height)
	b.Left = clamp(b.Left, 0, w)
	b.Top = clamp(b.Top, 0, h)
	b.Width = clamp(b.Width, 0, w-b.Left)
	b.Height = clamp(b.Height, 0, h-b.Top)
	return b
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
