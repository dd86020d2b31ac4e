// Package source lists recordings that the pipeline can transcribe.
package source

import (
	"context"
	"path/filepath"
	"time"
)

// Item is one recording known to a provider.
type Item struct {
	ID         string
	Title      string
	Folder     string
	Path       string // relative to the provider root
	Duration   float64
	RecordedAt time.Time
	root       string
}

// AbsPath resolves Path against the directory the provider reads audio from.
func (i Item) AbsPath() string {
	if filepath.IsAbs(i.Path) || i.root == "" {
		return i.Path
	}
	return filepath.Join(i.root, i.Path)
}

// WithRoot returns a copy of i that resolves its path against root.
func (i Item) WithRoot(root string) Item {
	i.root = root
	return i
}

// Provider yields the current set of recordings.
type Provider interface {
	Items(ctx context.Context) ([]Item, error)
}

// Filter keeps items in folder. An empty folder keeps everything.
func Filter(items []Item, folder string) []Item {
	if folder == "" {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Folder == folder {
			out = append(out, it)
		}
	}
	return out
}

// Limit trims items to at most n entries. n <= 0 means no limit.
func Limit(items []Item, n int) []Item {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[:n]
}
