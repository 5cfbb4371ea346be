// Package store persists generated tokens and reports.
package store

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
)

// Sink persists one file under a slash-separated key. Deleting a key that
// does not exist succeeds.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

var ErrInvalidKey = errors.New("invalid key")

// Multi writes every file to each sink in order and stops at the first error.
type Multi []Sink

func (m Multi) Put(ctx context.Context, key string, data []byte) error {
	for _, s := range m {
		if err := s.Put(ctx, key, data); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes key from every sink, even when some of them fail.
func (m Multi) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, s := range m {
		if err := s.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// cleanKey rejects keys that would escape the sink root.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	cleaned := path.Clean(strings.TrimLeft(key, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

func contentType(key string) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}
