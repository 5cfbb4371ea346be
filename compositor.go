package layerforge

import (
	"fmt"
	"image"
	"image/draw"
)

// ImageLibrary is the raster backend used to render tokens.
type ImageLibrary interface {
	// Blank returns a new canvas of the given size.
	Blank(width, height int) draw.Image
	// Overlay alpha-composites the asset at path over base.
	Overlay(base draw.Image, path string) (draw.Image, error)
}

// Compositor stacks a token's trait assets into one image.
type Compositor struct {
	lib           ImageLibrary
	width, height int
}

func NewCompositor(lib ImageLibrary, width, height int) *Compositor {
	return &Compositor{lib: lib, width: width, height: height}
}

// Render draws the selection bottom -> top: ascending depth, so the
// highest depth ends up over everything else.
func (c *Compositor) Render(sel Selection) (image.Image, error) {
	canvas := c.lib.Blank(c.width, c.height)
	for _, layer := range sel.Layers() {
		if layer.Path == "" {
			return nil, fmt.Errorf("%w: token %d has no asset at depth %d", ErrMissingAsset, sel.TokenID, layer.Depth)
		}
		next, err := c.lib.Overlay(canvas, layer.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %w", ErrMissingAsset, layer.Category, layer.Value, err)
		}
		canvas = next
	}
	return canvas, nil
}
