package utils

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

// Canvas creates blank token images and layers assets onto them.
type Canvas struct {
	assets     *AssetCache
	background color.Color
}

// NewCanvas returns a canvas loading assets through cache. background is a
// hex colour; empty leaves blank images fully transparent.
func NewCanvas(cache *AssetCache, background string) (*Canvas, error) {
	c := &Canvas{assets: cache}
	if background != "" {
		col, err := colorful.Hex(background)
		if err != nil {
			return nil, err
		}
		c.background = col
	}
	return c, nil
}

func (c *Canvas) Blank(width, height int) draw.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if c.background != nil {
		draw.Draw(img, img.Bounds(), image.NewUniform(c.background), image.Point{}, draw.Src)
	}
	return img
}

// Overlay alpha-composites the asset at path over base (source-over) and
// returns base. Assets whose size differs from base are scaled to fit.
func (c *Canvas) Overlay(base draw.Image, path string) (draw.Image, error) {
	asset, err := c.assets.Load(path)
	if err != nil {
		return nil, err
	}
	Composite(base, asset)
	return base, nil
}

// Composite draws src over dst, scaling when the sizes differ.
func Composite(dst draw.Image, src image.Image) {
	db, sb := dst.Bounds(), src.Bounds()
	if db.Size() == sb.Size() {
		draw.Draw(dst, db, src, sb.Min, draw.Over)
		return
	}
	draw.CatmullRom.Scale(dst, db, src, sb, draw.Over, nil)
}
