package utils

import (
	"cmp"
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
)

type PaletteMethod int

const (
	PaletteMethodDominantColor PaletteMethod = iota
	PaletteMethodKMeans
)

func (m PaletteMethod) String() string {
	switch m {
	case PaletteMethodKMeans:
		return "kmeans"
	default:
		return "dominantcolor"
	}
}

func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch s {
	case "", "dominantcolor":
		return PaletteMethodDominantColor, nil
	case "kmeans":
		return PaletteMethodKMeans, nil
	}
	return 0, fmt.Errorf("unknown palette method %q", s)
}

type swatch struct {
	col    colorful.Color
	weight float64
}

// ExtractPalette returns up to k representative colours of the opaque
// pixels of img, strongest first. kmeans falls back to dominantcolor when
// it cannot partition the image.
func ExtractPalette(img image.Image, k int, method PaletteMethod) []colorful.Color {
	if k <= 0 {
		return nil
	}
	var swatches []swatch
	if method == PaletteMethodKMeans {
		swatches = kmeansSwatches(img, k)
	}
	if len(swatches) == 0 {
		swatches = dominantSwatches(img, k)
	}
	return diversify(swatches, k)
}

// SortPaletteByBrightness orders colours by relative luminance, darkest first.
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortFunc(palette, func(a, b colorful.Color) int {
		return cmp.Compare(luminance(a), luminance(b))
	})
}

// PaletteHex formats a palette as "#rrggbb" strings.
func PaletteHex(palette []colorful.Color) []string {
	out := make([]string, len(palette))
	for i, c := range palette {
		out[i] = c.Clamped().Hex()
	}
	return out
}

func luminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func dominantSwatches(img image.Image, k int) []swatch {
	found := dominantcolor.FindWeight(img, max(24, k*8))
	out := make([]swatch, 0, len(found))
	for _, c := range found {
		col, ok := colorful.MakeColor(c.RGBA)
		if !ok {
			continue
		}
		out = append(out, swatch{col: col.Clamped(), weight: c.Weight})
	}
	if len(out) == 0 {
		out = append(out, swatch{col: colorful.Color{R: 0.5, G: 0.5, B: 0.5}, weight: 1})
	}
	return out
}

// kmeansSwatches clusters a subsample of the opaque pixels in RGB space.
func kmeansSwatches(img image.Image, k int) []swatch {
	const maxSamples = 12000
	b := img.Bounds()
	area := b.Dx() * b.Dy()
	if area == 0 {
		return nil
	}
	step := 1
	if area > maxSamples {
		step = int(math.Sqrt(float64(area)/maxSamples)) + 1
	}

	var obs clusters.Observations
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			obs = append(obs, clusters.Coordinates{
				float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255,
			})
		}
	}
	n := min(max(k*4, k+2), len(obs))
	if n == 0 {
		return nil
	}
	km := kmeans.New()
	parts, err := km.Partition(obs, n)
	if err != nil {
		return nil
	}
	out := make([]swatch, 0, len(parts))
	for _, p := range parts {
		if len(p.Center) < 3 || len(p.Observations) == 0 {
			continue
		}
		col := colorful.Color{R: p.Center[0], G: p.Center[1], B: p.Center[2]}.Clamped()
		out = append(out, swatch{col: col, weight: float64(len(p.Observations))})
	}
	return out
}

// diversify greedily picks k swatches: the heaviest first, then each next
// one maximizing Lab distance to those already picked, biased by weight.
func diversify(swatches []swatch, k int) []colorful.Color {
	if len(swatches) == 0 {
		return nil
	}
	k = min(k, len(swatches))
	heaviest := slices.MaxFunc(swatches, func(a, b swatch) int { return cmp.Compare(a.weight, b.weight) }).weight
	if heaviest <= 0 {
		heaviest = 1
	}

	picked := make([]bool, len(swatches))
	out := make([]colorful.Color, 0, k)
	for len(out) < k {
		best, bestScore := -1, -1.0
		for i, s := range swatches {
			if picked[i] {
				continue
			}
			score := math.Sqrt(max(s.weight, 1e-6) / heaviest)
			if len(out) > 0 {
				nearest := math.Inf(1)
				for _, c := range out {
					nearest = min(nearest, s.col.DistanceLab(c))
				}
				score = nearest * (0.55 + 0.45*score)
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		picked[best] = true
		out = append(out, swatches[best].col)
	}
	return out
}
