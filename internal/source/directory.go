package source

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// itemNamespace scopes the name-based identifiers of directory items.
var itemNamespace = uuid.MustParse("6f1c52c4-4a3e-4f55-9d0b-6d8e2a0b7c11")

var audioExtensions = map[string]bool{
	".m4a":  true,
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
}

// Directory lists audio files under Root. The first path segment of a
// nested file is its folder.
type Directory struct {
	Root string
}

func (d Directory) Items(ctx context.Context) ([]Item, error) {
	var items []Item
	err := filepath.WalkDir(d.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if path != d.Root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !audioExtensions[ext] {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		info, err := entry.Info()
		if err != nil {
			return err
		}

		folder := "Unfiled"
		if idx := strings.Index(rel, "/"); idx > 0 {
			folder = rel[:idx]
		}
		it := Item{
			ID:         uuid.NewSHA1(itemNamespace, []byte(rel)).String(),
			Title:      strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
			Folder:     folder,
			Path:       rel,
			RecordedAt: info.ModTime().UTC(),
			root:       d.Root,
		}
		if ext == ".wav" {
			it.Duration = wavSeconds(path)
		}
		items = append(items, it)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RecordedAt.Equal(items[j].RecordedAt) {
			return items[i].Path < items[j].Path
		}
		return items[i].RecordedAt.After(items[j].RecordedAt)
	})
	return items, nil
}

// wavSeconds reads the duration from a WAV header, or 0 when unreadable.
func wavSeconds(path string) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0
	}
	dur, err := dec.Duration()
	if err != nil {
		return 0
	}
	return dur.Seconds()
}
