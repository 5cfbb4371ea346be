package layerforge

import (
	"cmp"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Category is one trait slot, backed by a subdirectory of the asset folder.
type Category struct {
	Name string
	// Configured layering depth; nil means 0.
	Depth  *int
	Values []Value
}

// Value is one selectable asset within a category.
type Value struct {
	Name string
	// Configured weight; nil or 0 means the value shares the unassigned mass.
	Weight *float64
	// Overrides the category depth when set.
	Depth *int
	Path  string
}

// DiscoverCategories lists the asset tree under dir. Categories and values
// come back in lexical order of their directory entries, which fixes the
// sampling and depth-probing order for a given asset tree. Only files with
// the fileType extension are considered; hidden entries are skipped.
func DiscoverCategories(dir, fileType string, traits map[string]TraitConfig) ([]Category, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read asset folder: %w", err)
	}
	ext := "." + strings.TrimPrefix(fileType, ".")

	var categories []Category
	for _, entry := range entries {
		if !entry.IsDir() || isHidden(entry.Name()) {
			continue
		}
		name := entry.Name()
		tc := traits[name]
		category := Category{Name: name, Depth: tc.ZIndex}

		files, err := os.ReadDir(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read category %s: %w", name, err)
		}
		seen := make(map[string]string)
		for _, f := range files {
			fname := f.Name()
			if f.IsDir() || isHidden(fname) || !strings.EqualFold(filepath.Ext(fname), ext) {
				continue
			}
			value := valueName(fname)
			if prev, dup := seen[value]; dup {
				return nil, fmt.Errorf("%w: category %s: %s and %s both map to value %q",
					ErrInvalidConfig, name, prev, fname, value)
			}
			seen[value] = fname

			vc := tc.Values[value]
			category.Values = append(category.Values, Value{
				Name:   value,
				Weight: vc.Weight,
				Depth:  vc.ZIndex,
				Path:   filepath.Join(dir, name, fname),
			})
		}
		if len(category.Values) == 0 {
			return nil, fmt.Errorf("%w: %s (no *%s files)", ErrEmptyCategory, name, ext)
		}
		categories = append(categories, category)
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAssets, dir)
	}
	return categories, nil
}

// UnmatchedTraits returns configured categories and values that have no
// asset on disk, as "category" or "category/value".
func UnmatchedTraits(categories []Category, traits map[string]TraitConfig) []string {
	known := make(map[string]map[string]bool, len(categories))
	for _, c := range categories {
		values := make(map[string]bool, len(c.Values))
		for _, v := range c.Values {
			values[v.Name] = true
		}
		known[c.Name] = values
	}
	var out []string
	for _, category := range sortedKeys(traits) {
		values, ok := known[category]
		if !ok {
			out = append(out, category)
			continue
		}
		for _, value := range sortedKeys(traits[category].Values) {
			if !values[value] {
				out = append(out, category+"/"+value)
			}
		}
	}
	return out
}

// valueName strips everything from the first dot, so "red.v2.png" is "red".
func valueName(filename string) string {
	if i := strings.IndexByte(filename, '.'); i >= 0 {
		return filename[:i]
	}
	return filename
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
