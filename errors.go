package layerforge

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid config")
	// ErrRarityOverflow reports a category whose configured weights leave
	// no probability mass for the rest of its values.
	ErrRarityOverflow = errors.New("rarity weights exceed 1")
	ErrEmptyCategory  = errors.New("trait category has no values")
	ErrNoAssets       = errors.New("no trait categories found")
	ErrMissingAsset   = errors.New("trait asset missing")
)
