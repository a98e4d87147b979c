package types

import (
	"fmt"
	"strings"
)

// Mode selects what the remote analyzer is asked for and how its result is drawn
type Mode string

const (
	ModeFaces       Mode = "faces"
	ModeCelebrities Mode = "celebrities"
	ModeAdult       Mode = "adult"
)

// DefaultMode is used when no mode has ever been stored
const DefaultMode = ModeFaces

// ParseMode accepts the stored spelling of a mode, including the legacy
// "nopor" name for adult-content detection.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "faces":
		return ModeFaces, nil
	case "celebrities":
		return ModeCelebrities, nil
	case "adult", "adult-content", "nopor":
		return ModeAdult, nil
	}
	return "", fmt.Errorf("unknown detection mode %q", s)
}

// Valid reports whether m is one of the supported modes
func (m Mode) Valid() bool {
	return m == ModeFaces || m == ModeCelebrities || m == ModeAdult
}

// Box is a bounding box in source-analysis pixel units, as reported by the analyzer
type Box struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Dimensions is a pixel width/height pair
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Viewport is the displayed box of an image. Left/Top are the image's
// top-left relative to the container its overlays are placed in.
type Viewport struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// PercentRect is an overlay rectangle in percent of the rendered image box
type PercentRect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// DetectedFace is one face or celebrity found by the analyzer
type DetectedFace struct {
	Box  Box
	Age  *float64
	Name string
}

// AdultScore is the adult-content verdict for a whole image
type AdultScore struct {
	Probability float64
	IsAdult     bool
}

// AnalysisResult is the analyzer outcome for one request. Mode is the mode
// active when the request was issued; it alone decides which half is populated.
type AnalysisResult struct {
	Mode Mode

	// faces / celebrities
	Faces  []DetectedFace
	Source *Dimensions

	// adult
	Adult *AdultScore
}

// IsAdult reports whether the result carries an adult-content score
func (r AnalysisResult) IsAdult() bool {
	return r.Mode == ModeAdult
}
