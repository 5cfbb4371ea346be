package utils

import (
	"image"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AssetCache keeps decoded assets by path. It is safe for concurrent use.
type AssetCache struct {
	images *lru.Cache[string, image.Image]
}

func NewAssetCache(size int) (*AssetCache, error) {
	c, err := lru.New[string, image.Image](size)
	if err != nil {
		return nil, err
	}
	return &AssetCache{images: c}, nil
}

// Load returns the decoded asset, reading it from disk on a miss.
// Concurrent misses on the same path may decode it twice.
func (c *AssetCache) Load(path string) (image.Image, error) {
	if img, ok := c.images.Get(path); ok {
		return img, nil
	}
	img, err := ReadImage(path)
	if err != nil {
		return nil, err
	}
	c.images.Add(path, img)
	return img, nil
}
