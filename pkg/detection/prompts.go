package detection

import (
	"fmt"

	"github.com/menta2k/image-annotator/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// FacesPrompt asks for every visible face with an age estimate
const FacesPrompt = `You are a face locator.

The image is %d pixels wide and %d pixels high.

Return JSON only:
{
  "faces": [
    {"age": 0, "faceRectangle": {"left": 0, "top": 0, "width": 0, "height": 0}}
  ]
}

HARD RULES
- Coordinates are integer PIXELS of this image (NOT normalized), origin at the top-left corner.
- One entry per visible human face, tightly boxed from hairline to chin.
- "age" is your best estimate in whole years.
- If there are no faces, return {"faces": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// CelebritiesPrompt asks for recognisable public figures
const CelebritiesPrompt = `You are a celebrity recognizer.

The image is %d pixels wide and %d pixels high.

Return JSON only:
{
  "categories": [
    {"name": "people_", "score": 1.0, "detail": {"celebrities": [
      {"name": "string", "confidence": 0.0, "faceRectangle": {"left": 0, "top": 0, "width": 0, "height": 0}}
    ]}}
  ]
}

HARD RULES
- Coordinates are integer PIXELS of this image (NOT normalized), origin at the top-left corner.
- One entry per visible face. Use an empty "name" when you do not recognise the person.
- Only name widely known public figures. Never guess private individuals.
- If there are no faces, return {"categories": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// AdultPrompt asks for an adult-content verdict for the whole image
const AdultPrompt = `You are a content moderator.

Return JSON only:
{
  "adult": {"isAdultContent": false, "adultScore": 0.0, "isRacyContent": false, "racyScore": 0.0, "isGoryContent": false, "goreScore": 0.0}
}

HARD RULES
- Scores are probabilities in [0,1].
- isAdultContent is true only when adultScore is above 0.5; the same holds for racy and gore.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// PromptFor returns the prompt for mode, sized for an image of dims
func PromptFor(mode types.Mode, dims types.Dimensions) (string, error) {
	switch mode {
	case types.ModeFaces:
		return fmt.Sprintf(FacesPrompt, dims.Width, dims.Height), nil
	case types.ModeCelebrities:
		return fmt.Sprintf(CelebritiesPrompt, dims.Width, dims.Height), nil
	case types.ModeAdult:
		return AdultPrompt, nil
	}
	return "", fmt.Errorf("no prompt for mode %q", mode)
}
