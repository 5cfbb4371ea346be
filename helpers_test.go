package layerforge

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSize = 16

// writeAsset writes a testSize x testSize png that is transparent except
// for rect, which is filled with c.
func writeAsset(t *testing.T, path string, c color.NRGBA, rect image.Rectangle) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, testSize, testSize))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

var full = image.Rect(0, 0, testSize, testSize)

// scenarioConfig is the three-category collection used across tests:
// background (2 unweighted), eyes (1 weighted 1.0), hat (0.3 + 1 unweighted).
func scenarioConfig() Config {
	one, point3 := 1.0, 0.3
	zero, five, ten := 0, 5, 10
	seed := int64(1234)
	return Config{
		Collection: CollectionConfig{Sname: "apes", Name: "Apes"},
		Settings: Settings{
			ImageWidth:           testSize,
			ImageHeight:          testSize,
			ImageAssetFolder:     "assets",
			ImageOutputFolder:    "images",
			MetadataOutputFolder: "metadata",
			ImageFileType:        "png",
			InitialIndex:         intPtr(1),
			Seed:                 &seed,
		},
		Traits: map[string]TraitConfig{
			"background": {ZIndex: &zero},
			"eyes":       {ZIndex: &ten, Values: map[string]ValueConfig{"laser": {Weight: &one}}},
			"hat":        {ZIndex: &five, Values: map[string]ValueConfig{"crown": {Weight: &point3}}},
		},
	}
}

// writeScenarioAssets lays out the scenario asset tree below root.
func writeScenarioAssets(t *testing.T, root string) {
	t.Helper()
	dir := filepath.Join(root, "apes", "assets")
	writeAsset(t, filepath.Join(dir, "background", "blue.png"), color.NRGBA{0, 0, 255, 255}, full)
	writeAsset(t, filepath.Join(dir, "background", "red.png"), color.NRGBA{255, 0, 0, 255}, full)
	writeAsset(t, filepath.Join(dir, "eyes", "laser.png"), color.NRGBA{0, 255, 0, 255}, image.Rect(4, 4, 12, 6))
	writeAsset(t, filepath.Join(dir, "hat", "beanie.png"), color.NRGBA{0, 0, 0, 255}, image.Rect(0, 0, 16, 3))
	writeAsset(t, filepath.Join(dir, "hat", "crown.png"), color.NRGBA{255, 215, 0, 255}, image.Rect(2, 0, 14, 3))
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// seqRand replays fixed draws.
type seqRand struct {
	draws []float64
	i     int
}

func (r *seqRand) Float64() float64 {
	v := r.draws[r.i%len(r.draws)]
	r.i++
	return v
}
