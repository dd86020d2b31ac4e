package export

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/loqalabs/memo-transcriber/internal/checksum"
	"github.com/loqalabs/memo-transcriber/internal/store"
)

// Format selects how a record is rendered to disk.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatMarkdown, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q (want txt, md or json)", s)
}

const maxSegment = 200

// Sanitize turns s into a single filesystem-safe path segment. The result
// may be empty.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, s)
	s = trimSegment(s)
	if runes := []rune(s); len(runes) > maxSegment {
		s = trimSegment(string(runes[:maxSegment]))
	}
	return s
}

func trimSegment(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.'
	})
}

// OutputPath places a record at dir/<folder>/<title>.<ext>. Empty segments
// fall back to "Unfiled" and the record identifier.
func OutputPath(dir string, rec store.Transcription, f Format) string {
	folder := Sanitize(rec.Folder)
	if folder == "" {
		folder = "Unfiled"
	}
	name := Sanitize(rec.Title)
	if name == "" {
		name = Sanitize(rec.ID)
	}
	return filepath.Join(dir, folder, name+"."+string(f))
}

// Paths assigns every record in recs its output path. When several records
// map to the same file, the lowest identifier keeps the plain name and the
// others get a short identifier suffix, as in "Untitled (ab12cd34).txt".
func Paths(dir string, recs []store.Transcription, f Format) map[string]string {
	groups := make(map[string][]string)
	for _, rec := range recs {
		path := OutputPath(dir, rec, f)
		groups[path] = append(groups[path], rec.ID)
	}
	paths := make(map[string]string, len(recs))
	for path, ids := range groups {
		slices.Sort(ids)
		paths[ids[0]] = path
		stem := strings.TrimSuffix(path, "."+string(f))
		for _, id := range ids[1:] {
			paths[id] = fmt.Sprintf("%s (%s).%s", stem, shortID(id), f)
		}
	}
	return paths
}

func shortID(id string) string {
	r := []rune(Sanitize(id))
	if len(r) == 0 {
		return checksum.Bytes([]byte(id))[:8]
	}
	if len(r) > 8 {
		r = r[:8]
	}
	return string(r)
}

// Render produces the file content for rec in format f.
func Render(f Format, rec store.Transcription) ([]byte, error) {
	switch f {
	case FormatText:
		return []byte(rec.Text), nil
	case FormatMarkdown:
		return []byte(renderMarkdown(rec)), nil
	case FormatJSON:
		return renderJSON(rec)
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

func renderMarkdown(rec store.Transcription) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Title)
	fmt.Fprintf(&b, "**Folder:** %s\n", rec.Folder)
	if rec.RecordedAt != nil {
		fmt.Fprintf(&b, "**Date:** %s\n", rec.RecordedAt.UTC().Format("2006-01-02 15:04"))
	}
	if rec.Duration != nil {
		fmt.Fprintf(&b, "**Duration:** %.1f min\n", *rec.Duration/60)
	}
	b.WriteString("\n---\n\n")
	b.WriteString(rec.Text)
	b.WriteString("\n")
	return b.String()
}

// document fixes the JSON field order.
type document struct {
	Identifier     string   `json:"identifier"`
	Title          string   `json:"title"`
	Folder         string   `json:"folder"`
	Path           string   `json:"path"`
	Transcription  string   `json:"transcription"`
	Status         string   `json:"status"`
	Duration       *float64 `json:"duration"`
	RecordingDate  *string  `json:"recordingDate"`
	ProcessedAt    string   `json:"processedAt"`
	Engine         *string  `json:"engine"`
	ProcessingTime *float64 `json:"processingTime"`
}

func renderJSON(rec store.Transcription) ([]byte, error) {
	doc := document{
		Identifier:     rec.ID,
		Title:          rec.Title,
		Folder:         rec.Folder,
		Path:           rec.Path,
		Transcription:  rec.Text,
		Status:         string(rec.Status),
		Duration:       rec.Duration,
		ProcessedAt:    rec.ProcessedAt.UTC().Format(time.RFC3339),
		ProcessingTime: rec.ProcessingTime,
	}
	if rec.RecordedAt != nil {
		s := rec.RecordedAt.UTC().Format(time.RFC3339)
		doc.RecordingDate = &s
	}
	if rec.Engine != "" {
		e := rec.Engine
		doc.Engine = &e
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
