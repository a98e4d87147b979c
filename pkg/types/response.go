package types

import (
	"fmt"
	"math"

	"github.com/menta2k/image-annotator/pkg/failure"
)

// VisionResponse is the analyze payload returned by an analyzer backend.
// Only the fields needed for rendering are modelled.
type VisionResponse struct {
	Faces        []FaceDescription `json:"faces,omitempty"`
	Categories   []Category        `json:"categories,omitempty"`
	Adult        *AdultInfo        `json:"adult,omitempty"`
	Metadata     *ImageMetadata    `json:"metadata,omitempty"`
	RequestID    string            `json:"requestId,omitempty"`
	ModelVersion string            `json:"modelVersion,omitempty"`
}

// FaceDescription is a face entry. Age may come flat or under faceAttributes.
type FaceDescription struct {
	Age            *float64        `json:"age,omitempty"`
	Gender         string          `json:"gender,omitempty"`
	FaceRectangle  Box             `json:"faceRectangle"`
	FaceAttributes *FaceAttributes `json:"faceAttributes,omitempty"`
}

type FaceAttributes struct {
	Age *float64 `json:"age,omitempty"`
}

type Category struct {
	Name   string          `json:"name"`
	Score  float64         `json:"score"`
	Detail *CategoryDetail `json:"detail,omitempty"`
}

type CategoryDetail struct {
	Celebrities []Celebrity `json:"celebrities,omitempty"`
}

type Celebrity struct {
	Name          string  `json:"name"`
	Confidence    float64 `json:"confidence"`
	FaceRectangle Box     `json:"faceRectangle"`
}

type AdultInfo struct {
	IsAdultContent bool    `json:"isAdultContent"`
	IsRacyContent  bool    `json:"isRacyContent"`
	IsGoryContent  bool    `json:"isGoryContent"`
	AdultScore     float64 `json:"adultScore"`
	RacyScore      float64 `json:"racyScore"`
	GoreScore      float64 `json:"goreScore"`
}

// ImageMetadata holds the resolution the analyzer actually worked at
type ImageMetadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format,omitempty"`
}

// Decode turns a raw payload into a result for the given mode. The mode is
// never inferred from which fields happen to be present. A faces/celebrities
// payload without usable metadata decodes with a nil Source; the renderer
// refuses to draw it.
func Decode(mode Mode, resp *VisionResponse) (AnalysisResult, error) {
	if resp == nil {
		return AnalysisResult{}, failure.New(failure.KindData, "decode", "empty analyzer response")
	}
	res := AnalysisResult{Mode: mode}
	switch mode {
	case ModeAdult:
		if resp.Adult == nil {
			return AnalysisResult{}, failure.New(failure.KindData, "decode", "response has no adult section")
		}
		p := resp.Adult.AdultScore
		if math.IsNaN(p) || p < 0 || p > 1 {
			return AnalysisResult{}, failure.New(failure.KindData, "decode", fmt.Sprintf("adult score out of range: %v", p))
		}
		res.Adult = &AdultScore{Probability: p, IsAdult: resp.Adult.IsAdultContent}
	case ModeFaces:
		res.Faces = make([]DetectedFace, 0, len(resp.Faces))
		for _, f := range resp.Faces {
			age := f.Age
			if f.FaceAttributes != nil && f.FaceAttributes.Age != nil {
				age = f.FaceAttributes.Age
			}
			res.Faces = append(res.Faces, DetectedFace{Box: f.FaceRectangle, Age: age})
		}
	case ModeCelebrities:
		res.Faces = []DetectedFace{}
		for _, c := range resp.Categories {
			if c.Detail == nil || len(c.Detail.Celebrities) == 0 {
				continue
			}
			for _, celeb := range c.Detail.Celebrities {
				res.Faces = append(res.Faces, DetectedFace{Box: celeb.FaceRectangle, Name: celeb.Name})
			}
			break
		}
	default:
		return AnalysisResult{}, failure.New(failure.KindData, "decode", fmt.Sprintf("unsupported mode %q", mode))
	}
	if mode != ModeAdult && resp.Metadata != nil {
		dims := Dimensions{Width: resp.Metadata.Width, Height: resp.Metadata.Height}
		if dims.Valid() {
			res.Source = &dims
		}
	}
	return res, nil
}
