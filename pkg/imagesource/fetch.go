package imagesource

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-annotator/pkg/types"
)

// DefaultMaxBytes caps how much of an image is downloaded
const DefaultMaxBytes = 20 << 20

// Image is a fetched, not yet decoded image
type Image struct {
	Data        []byte
	ContentType string
	Format      string
	Size        types.Dimensions
}

// Loader is anything that can turn a source URL into image bytes
type Loader interface {
	Fetch(ctx context.Context, source string) (*Image, error)
}

// Fetcher loads images from http(s), from data: URIs and, for local pages, from files.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxBytes   int64
	allowFiles bool

	mu    sync.Mutex
	sizes map[string]types.Dimensions
}

// NewFetcher creates a fetcher with a request timeout
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "Image-Annotator/1.0 (+https://github.com/menta2k/image-annotator)",
		maxBytes:  DefaultMaxBytes,
		sizes:     map[string]types.Dimensions{},
	}
}

// WithHTTPClient replaces the HTTP client, mostly for tests
func (f *Fetcher) WithHTTPClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// AllowFiles lets file:// URLs and bare paths be read from disk
func (f *Fetcher) AllowFiles(allow bool) *Fetcher {
	f.allowFiles = allow
	return f
}

// Fetch downloads and sniffs an image. Its pixel size is read from the header only.
func (f *Fetcher) Fetch(ctx context.Context, source string) (*Image, error) {
	var data []byte
	var contentType string
	var err error

	switch {
	case strings.HasPrefix(source, "data:"):
		data, contentType, err = decodeDataURI(source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		data, contentType, err = f.fetchHTTP(ctx, source)
	default:
		data, err = f.readFile(source)
	}
	if err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// chai2010/webp understands extended webp variants the x/image decoder rejects
		if w, h, _, werr := webp.GetInfo(data); werr == nil {
			cfg, format, err = image.Config{Width: w, Height: h}, "webp", nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("image: unknown or unsupported format: %w", err)
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/" + format
	}

	return &Image{
		Data:        data,
		ContentType: contentType,
		Format:      format,
		Size:        types.Dimensions{Width: cfg.Width, Height: cfg.Height},
	}, nil
}

// Probe returns the natural size of an image, caching it per source
func (f *Fetcher) Probe(ctx context.Context, source string) (types.Dimensions, error) {
	f.mu.Lock()
	if d, ok := f.sizes[source]; ok {
		f.mu.Unlock()
		return d, nil
	}
	f.mu.Unlock()

	img, err := f.Fetch(ctx, source)
	if err != nil {
		return types.Dimensions{}, err
	}

	f.mu.Lock()
	f.sizes[source] = img.Size
	f.mu.Unlock()
	return img.Size, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, imageURL string) ([]byte, string, error) {
	if _, err := url.Parse(imageURL); err != nil {
		return nil, "", fmt.Errorf("invalid URL: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("Image fetch error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("Image fetch error: %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "application/octet-stream") {
		return nil, "", fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %v", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("image larger than %d bytes", f.maxBytes)
	}
	return data, contentType, nil
}

func (f *Fetcher) readFile(source string) ([]byte, error) {
	if !f.allowFiles {
		return nil, fmt.Errorf("unsupported image source: %s", source)
	}
	path := source
	if strings.HasPrefix(source, "file://") {
		u, err := url.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("invalid file URL: %v", err)
		}
		path = u.Path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Image fetch error: %v", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("image larger than %d bytes", f.maxBytes)
	}
	return data, nil
}

// decodeDataURI handles data:[<mediatype>][;base64],<data>
func decodeDataURI(uri string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data URI")
	}
	parts := strings.Split(meta, ";")
	contentType := parts[0]
	isBase64 := false
	for _, p := range parts[1:] {
		if strings.EqualFold(p, "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("malformed data URI: %v", err)
		}
		return []byte(s), contentType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return nil, "", fmt.Errorf("malformed data URI: %v", err)
		}
	}
	return data, contentType, nil
}
