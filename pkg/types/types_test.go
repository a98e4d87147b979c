package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-annotator/pkg/failure"
)

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"faces":       ModeFaces,
		" Faces ":     ModeFaces,
		"celebrities": ModeCelebrities,
		"adult":       ModeAdult,
		"nopor":       ModeAdult,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseMode("cats")
	require.Error(t, err)
	require.False(t, Mode("cats").Valid())
}

func TestDecodeFaces(t *testing.T) {
	payload := `{
		"faces": [
			{"age": 25, "faceRectangle": {"left": 80, "top": 10, "width": 120, "height": 40}},
			{"age": 3, "faceAttributes": {"age": 31}, "faceRectangle": {"left": 0, "top": 0, "width": 1, "height": 1}},
			{"faceRectangle": {"left": 5, "top": 5, "width": 10, "height": 10}}
		],
		"adult": {"adultScore": 0.9, "isAdultContent": true},
		"metadata": {"width": 400, "height": 200, "format": "Jpeg"}
	}`
	var resp VisionResponse
	require.NoError(t, json.Unmarshal([]byte(payload), &resp))

	res, err := Decode(ModeFaces, &resp)
	require.NoError(t, err)
	require.Equal(t, ModeFaces, res.Mode)
	require.Nil(t, res.Adult)
	require.Equal(t, &Dimensions{Width: 400, Height: 200}, res.Source)
	require.Len(t, res.Faces, 3)
	require.Equal(t, 25.0, *res.Faces[0].Age)
	require.Equal(t, 31.0, *res.Faces[1].Age)
	require.Nil(t, res.Faces[2].Age)
	require.Equal(t, Box{Left: 80, Top: 10, Width: 120, Height: 40}, res.Faces[0].Box)
}

func TestDecodeCelebrities(t *testing.T) {
	resp := &VisionResponse{
		Categories: []Category{
			{Name: "outdoor_"},
			{Name: "people_", Detail: &CategoryDetail{Celebrities: []Celebrity{
				{Name: "Ada Lovelace", FaceRectangle: Box{Left: 1, Top: 2, Width: 3, Height: 4}},
			}}},
			{Name: "people_portrait", Detail: &CategoryDetail{Celebrities: []Celebrity{{Name: "Other"}}}},
		},
		Metadata: &ImageMetadata{Width: 10, Height: 10},
	}
	res, err := Decode(ModeCelebrities, resp)
	require.NoError(t, err)
	require.Len(t, res.Faces, 1)
	require.Equal(t, "Ada Lovelace", res.Faces[0].Name)

	res, err = Decode(ModeCelebrities, &VisionResponse{})
	require.NoError(t, err)
	require.NotNil(t, res.Faces)
	require.Empty(t, res.Faces)
	require.Nil(t, res.Source)
}

func TestDecodeAdult(t *testing.T) {
	res, err := Decode(ModeAdult, &VisionResponse{
		Faces: []FaceDescription{{}},
		Adult: &AdultInfo{AdultScore: 0.8734, IsAdultContent: true},
	})
	require.NoError(t, err)
	require.True(t, res.IsAdult())
	require.Empty(t, res.Faces)
	require.Equal(t, &AdultScore{Probability: 0.8734, IsAdult: true}, res.Adult)

	_, err = Decode(ModeAdult, &VisionResponse{})
	require.True(t, failure.IsKind(err, failure.KindData))

	_, err = Decode(ModeAdult, &VisionResponse{Adult: &AdultInfo{AdultScore: 1.5}})
	require.True(t, failure.IsKind(err, failure.KindData))
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode(ModeFaces, nil)
	require.True(t, failure.IsKind(err, failure.KindData))

	_, err = Decode(Mode("cats"), &VisionResponse{})
	require.True(t, failure.IsKind(err, failure.KindData))

	res, err := Decode(ModeFaces, &VisionResponse{Metadata: &ImageMetadata{Width: 0, Height: 10}})
	require.NoError(t, err)
	require.Nil(t, res.Source)
}
