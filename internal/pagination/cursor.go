// Package pagination provides opaque keyset cursors for list endpoints.
package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

const cursorPrefix = "k1:"

// Encode returns an opaque cursor resuming after key.
func Encode(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + key))
}

// Decode returns the key a cursor resumes after. Empty input yields "".
func Decode(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", ErrInvalidCursor
	}
	key, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok || key == "" {
		return "", ErrInvalidCursor
	}
	return key, nil
}

// ComputePage trims items fetched with limit+1 to limit and returns the
// cursor for the next page, or "" on the last one.
func ComputePage[T any](items []T, limit int, key func(T) string) ([]T, string) {
	if limit <= 0 || len(items) <= limit {
		return items, ""
	}
	items = items[:limit]
	return items, Encode(key(items[len(items)-1]))
}
