package snapshot

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-annotator/pkg/failure"
	"github.com/menta2k/image-annotator/pkg/imagesource"
	"github.com/menta2k/image-annotator/pkg/types"
)

func gray(w, h int) image.Image {
	return imaging.New(w, h, color.NRGBA{128, 128, 128, 255})
}

func TestDrawFaces(t *testing.T) {
	src := gray(200, 400)
	age := 25.0
	out, err := Draw(src, types.AnalysisResult{
		Mode:   types.ModeFaces,
		Faces:  []types.DetectedFace{{Box: types.Box{Left: 20, Top: 10, Width: 30, Height: 40}, Age: &age}},
		Source: &types.Dimensions{Width: 100, Height: 200},
	})
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), out.Bounds())

	// left edge at x=40, doubled from the analysed resolution
	r, g, b, _ := out.At(40, 60).RGBA()
	require.InDelta(t, uint32(boxColor.R)*0x101, r, 4*0x101)
	require.InDelta(t, uint32(boxColor.G)*0x101, g, 4*0x101)
	require.InDelta(t, uint32(boxColor.B)*0x101, b, 4*0x101)

	// the original is untouched
	r, _, _, _ = src.At(40, 60).RGBA()
	require.Equal(t, uint32(128*0x101), r)
}

func TestDrawRejectsMissingSource(t *testing.T) {
	_, err := Draw(gray(10, 10), types.AnalysisResult{
		Mode:  types.ModeFaces,
		Faces: []types.DetectedFace{{Box: types.Box{Width: 1, Height: 1}}},
	})
	require.True(t, failure.IsKind(err, failure.KindData))

	out, err := Draw(gray(10, 10), types.AnalysisResult{Mode: types.ModeCelebrities})
	require.NoError(t, err)
	require.NotNil(t, out)
}

func TestDrawAdultAndSave(t *testing.T) {
	out, err := Draw(gray(320, 240), types.AnalysisResult{
		Mode:  types.ModeAdult,
		Adult: &types.AdultScore{Probability: 0.8734, IsAdult: true},
	})
	require.NoError(t, err)

	// banner darkens the bottom edge
	r, _, _, _ := out.At(2, 238).RGBA()
	require.Less(t, r, uint32(128*0x101))

	dir := t.TempDir()
	for _, ext := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "snap."+ext)
		require.NoError(t, Save(out, path, ext, 90, false))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		decoded, _, err := imagesource.Decode(data)
		require.NoError(t, err)
		require.Equal(t, 320, decoded.Bounds().Dx())
	}
	require.Error(t, Save(out, filepath.Join(dir, "x.tiff"), "tiff", 90, false))
}
