package layerforge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Config is the on-disk description of one collection.
type Config struct {
	Collection CollectionConfig       `json:"collection"`
	Settings   Settings               `json:"settings"`
	Traits     map[string]TraitConfig `json:"traits,omitempty"`
}

type CollectionConfig struct {
	// Short name, used as the collection directory.
	Sname string `json:"sname"`
	// Display name. Token names default to "{Name} #{id}".
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Number of tokens to generate when the caller does not pass a size.
	CollectionSize *int `json:"collection_size,omitempty"`
}

type Settings struct {
	ImageWidth           int    `json:"image_width"`
	ImageHeight          int    `json:"image_height"`
	ImageAssetFolder     string `json:"image_asset_folder"`
	ImageOutputFolder    string `json:"image_output_folder"`
	MetadataOutputFolder string `json:"metadata_output_folder"`
	// Extension of the asset files, without the dot.
	ImageFileType string `json:"image_file_type"`
	// First token id. Required.
	InitialIndex *int `json:"initial_index"`
	// Seed for the per-token random streams. When nil a random seed is
	// generated and logged so the run can be repeated.
	Seed *int64 `json:"seed,omitempty"`

	// Encoding of rendered tokens: "png" (default) or "jpg".
	ImageOutputType string `json:"image_output_type,omitempty"`
	// When set, metadata image references become "{ImageBaseURI}/{id}.{ext}".
	ImageBaseURI string `json:"image_base_uri,omitempty"`
	// Hex colour the blank canvas is filled with. Empty keeps it transparent.
	BackgroundColor string `json:"background_color,omitempty"`
	// Tokens rendered concurrently. 0 or 1 runs sequentially.
	Workers int `json:"workers,omitempty"`
	// Abort the run on the first failing token instead of recording it.
	StopOnError bool `json:"stop_on_error,omitempty"`
	// Number of palette colours recorded per token in the collection
	// report. 0 disables palette extraction.
	PaletteSize int `json:"palette_size,omitempty"`
	// "dominantcolor" (default) or "kmeans".
	PaletteMethod string `json:"palette_method,omitempty"`
	// Decoded asset images kept in memory.
	AssetCacheSize int `json:"asset_cache_size,omitempty"`
}

// TraitConfig holds the optional per-category settings.
type TraitConfig struct {
	ZIndex *int                   `json:"z-index,omitempty"`
	Values map[string]ValueConfig `json:"values,omitempty"`
}

// ValueConfig is either a bare weight or an object with weight and z-index.
type ValueConfig struct {
	Weight *float64 `json:"weight,omitempty"`
	ZIndex *int     `json:"z-index,omitempty"`
}

func (v *ValueConfig) UnmarshalJSON(data []byte) error {
	var w float64
	if err := json.Unmarshal(data, &w); err == nil {
		v.Weight = &w
		v.ZIndex = nil
		return nil
	}
	type plain ValueConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("trait value must be a number or an object with weight/z-index: %w", err)
	}
	*v = ValueConfig(p)
	return nil
}

const (
	DefaultImageOutputType = "png"
	DefaultPaletteMethod   = "dominantcolor"
	DefaultAssetCacheSize  = 256
)

// LoadConfig reads a JSON configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode %s: %v", ErrInvalidConfig, filepath.Base(path), err)
	}
	return cfg, nil
}

// WithDefaults returns a copy with every unset optional setting filled in.
func (c Config) WithDefaults() Config {
	s := &c.Settings
	s.ImageFileType = strings.TrimPrefix(strings.TrimSpace(s.ImageFileType), ".")
	s.ImageOutputType = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s.ImageOutputType), "."))
	if s.ImageOutputType == "" {
		s.ImageOutputType = DefaultImageOutputType
	}
	if s.ImageOutputType == "jpeg" {
		s.ImageOutputType = "jpg"
	}
	if s.PaletteMethod == "" {
		s.PaletteMethod = DefaultPaletteMethod
	}
	if s.AssetCacheSize <= 0 {
		s.AssetCacheSize = DefaultAssetCacheSize
	}
	if s.Workers <= 0 {
		s.Workers = 1
	}
	s.ImageBaseURI = strings.TrimRight(s.ImageBaseURI, "/")
	return c
}

// Validate checks the whole configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Collection.Sname) == "" {
		add("collection.sname is required")
	}
	if c.Collection.CollectionSize != nil && *c.Collection.CollectionSize < 0 {
		add("collection.collection_size must not be negative")
	}

	s := c.Settings
	if s.ImageWidth <= 0 || s.ImageHeight <= 0 {
		add("settings.image_width and settings.image_height must be positive, got %dx%d", s.ImageWidth, s.ImageHeight)
	}
	for _, f := range []struct{ key, value string }{
		{"image_asset_folder", s.ImageAssetFolder},
		{"image_output_folder", s.ImageOutputFolder},
		{"metadata_output_folder", s.MetadataOutputFolder},
		{"image_file_type", s.ImageFileType},
	} {
		if strings.TrimSpace(f.value) == "" {
			add("settings.%s is required", f.key)
		}
	}
	if s.InitialIndex == nil {
		add("settings.initial_index is required")
	} else if *s.InitialIndex < 0 {
		add("settings.initial_index must not be negative")
	}
	switch strings.ToLower(s.ImageOutputType) {
	case "", "png", "jpg", "jpeg":
	default:
		add("settings.image_output_type %q is not supported", s.ImageOutputType)
	}
	switch s.PaletteMethod {
	case "", "dominantcolor", "kmeans":
	default:
		add("settings.palette_method %q is not supported", s.PaletteMethod)
	}
	if s.PaletteSize < 0 {
		add("settings.palette_size must not be negative")
	}
	if s.Workers < 0 {
		add("settings.workers must not be negative")
	}
	if s.BackgroundColor != "" {
		if _, err := colorful.Hex(s.BackgroundColor); err != nil {
			add("settings.background_color %q: %v", s.BackgroundColor, err)
		}
	}

	for _, category := range sortedKeys(c.Traits) {
		tc := c.Traits[category]
		sum := 0.0
		for _, value := range sortedKeys(tc.Values) {
			vc := tc.Values[value]
			if vc.Weight == nil {
				continue
			}
			w := *vc.Weight
			if w < 0 || w > 1 {
				add("traits.%s.values.%s: weight %g outside [0,1]", category, value, w)
				continue
			}
			sum += w
		}
		if sum > 1+rarityTolerance {
			add("traits.%s: configured weights sum to %g", category, sum)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w:\n%w", ErrInvalidConfig, errors.Join(errs...))
}

// Layout resolves the collection directories below root.
func (c Config) Layout(root string) Layout {
	dir := filepath.Join(root, c.Collection.Sname)
	return Layout{
		CollectionDir: dir,
		AssetDir:      filepath.Join(dir, c.Settings.ImageAssetFolder),
		ImageDir:      c.Settings.ImageOutputFolder,
		MetadataDir:   c.Settings.MetadataOutputFolder,
	}
}

// Layout locates inputs on disk and outputs relative to the sink.
type Layout struct {
	CollectionDir string
	AssetDir      string
	// Sink-relative output folders.
	ImageDir    string
	MetadataDir string
}

func (l Layout) ImageKey(id int, ext string) string {
	return filepath.ToSlash(filepath.Join(l.ImageDir, fmt.Sprintf("%d.%s", id, ext)))
}

func (l Layout) MetadataKey(id int) string {
	return filepath.ToSlash(filepath.Join(l.MetadataDir, fmt.Sprintf("%d.json", id)))
}
