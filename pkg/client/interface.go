package client

import (
	"context"

	"github.com/menta2k/image-annotator/pkg/types"
)

// Request is one analysis job: the image to fetch and the mode active when
// the user clicked.
type Request struct {
	SourceURL string
	Mode      types.Mode
}

// Analyzer is the external image analyzer. A returned error carries the
// failure reason shown to the user.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*types.VisionResponse, error)
}

// AnalyzerFunc adapts a function to Analyzer
type AnalyzerFunc func(ctx context.Context, req Request) (*types.VisionResponse, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, req Request) (*types.VisionResponse, error) {
	return f(ctx, req)
}

// VisionClient talks to a multimodal language model
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// CredentialSource yields the API key and endpoint at request time
type CredentialSource interface {
	Credentials(ctx context.Context) (apiKey, endpoint string, err error)
}
