// Package azure calls the Computer Vision v3.2 analyze endpoint.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/imagesource"
	"github.com/menta2k/image-annotator/pkg/types"
)

const (
	DefaultEndpoint = "https://northeurope.api.cognitive.microsoft.com"
	AnalyzePath     = "/vision/v3.2/analyze"
	KeyHeader       = "Ocp-Apim-Subscription-Key"
)

// QueryFor returns the analyze query string for a mode
func QueryFor(mode types.Mode) (string, error) {
	switch mode {
	case types.ModeFaces:
		return "visualFeatures=Faces", nil
	case types.ModeCelebrities:
		return "details=Celebrities", nil
	case types.ModeAdult:
		return "visualFeatures=Adult", nil
	}
	return "", fmt.Errorf("unsupported mode %q", mode)
}

// Client fetches the image itself and uploads the bytes, so pages behind
// cookies or on localhost can still be analysed.
type Client struct {
	creds   client.CredentialSource
	images  imagesource.Loader
	http    *http.Client
	prepare imagesource.PrepareOptions
	log     logs.Log
}

func New(creds client.CredentialSource, images imagesource.Loader, log logs.Log) *Client {
	return &Client{
		creds:   creds,
		images:  images,
		http:    &http.Client{Timeout: 60 * time.Second},
		prepare: imagesource.DefaultPrepareOptions(),
		log:     log,
	}
}

// WithHTTPClient replaces the HTTP client used for the analyze call
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze implements client.Analyzer. Credentials are read on every call so
// a key saved after startup is picked up without a restart.
func (c *Client) Analyze(ctx context.Context, req client.Request) (*types.VisionResponse, error) {
	key, endpoint, err := c.creds.Credentials(ctx)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "credentials", "Missing API Key", err)
	}
	if key == "" {
		return nil, failure.New(failure.KindConfig, "credentials", "Missing API Key")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")

	query, err := QueryFor(req.Mode)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "query", "", err)
	}

	img, err := c.images.Fetch(ctx, req.SourceURL)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransport, "fetch", "", err)
	}
	prepared, err := imagesource.Prepare(img, c.prepare)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransport, "prepare", "", err)
	}

	url := endpoint + AnalyzePath + "?" + query
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(prepared.Data))
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "request", "", err)
	}
	httpReq.Header.Set(KeyHeader, key)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	c.log.Debugf("POST %v (%v bytes, %v)", url, len(prepared.Data), prepared.Format)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransport, "analyze", "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Wrap(failure.KindTransport, "analyze", "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := strings.TrimSpace(string(body))
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
			reason = eb.Error.Message
		}
		return nil, failure.New(failure.KindTransport, "analyze", fmt.Sprintf("%d %s", resp.StatusCode, reason))
	}

	var out types.VisionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, failure.Wrap(failure.KindTransport, "analyze", "invalid response", err)
	}
	return &out, nil
}
