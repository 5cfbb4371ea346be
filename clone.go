package layerforge

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
)

const (
	DefaultCloneMarker = "%%%"
	DefaultCloneDir    = "json_clones"
)

// CloneTemplate writes quantity copies of a metadata template to
// "{dir}/{n}.json" for n = first .. first+quantity-1, replacing every
// occurrence of marker with n. It returns the written keys.
func CloneTemplate(ctx context.Context, sink Sink, template []byte, marker, dir string, first, quantity int) ([]string, error) {
	if marker == "" {
		return nil, fmt.Errorf("clone marker must not be empty")
	}
	if quantity < 0 {
		return nil, fmt.Errorf("clone quantity must not be negative, got %d", quantity)
	}
	m := []byte(marker)
	keys := make([]string, 0, quantity)
	for n := first; n < first+quantity; n++ {
		if err := ctx.Err(); err != nil {
			return keys, err
		}
		id := strconv.Itoa(n)
		key := path.Join(dir, id+".json")
		if err := sink.Put(ctx, key, bytes.ReplaceAll(template, m, []byte(id))); err != nil {
			return keys, fmt.Errorf("clone %d: %w", n, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
