package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/memo-transcriber/internal/config"
	"github.com/loqalabs/memo-transcriber/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), config.StoreConfig{Path: filepath.Join(t.TempDir(), "memo.db")}, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func record(id, folder, title, text string) store.Transcription {
	d := 90.0
	rec := time.Date(2024, 12, 24, 8, 30, 0, 0, time.UTC)
	return store.Transcription{
		ID:          id,
		Title:       title,
		Folder:      folder,
		Path:        id + ".m4a",
		Text:        text,
		Status:      store.StatusSuccess,
		Duration:    &d,
		RecordedAt:  &rec,
		ProcessedAt: time.Now().Add(-time.Hour).UTC(),
		Engine:      "whisper-base",
	}
}

func seed(t *testing.T, st *store.Store, recs ...store.Transcription) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, st.Upsert(context.Background(), r))
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"Notes/Q1. ":           "Notes_Q1",
		`a<b>c:d"e/f\g|h?i*j`:  "a_b_c_d_e_f_g_h_i_j",
		"  ..hidden file..  ":  "hidden file",
		"...":                  "",
		"Plain title":          "Plain title",
		"Café ☕ notes":         "Café ☕ notes",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}

	long := Sanitize(strings.Repeat("é", 250))
	assert.Equal(t, 200, len([]rune(long)))

	trailing := Sanitize(strings.Repeat("a", 199) + ". tail")
	assert.Equal(t, strings.Repeat("a", 199), trailing)
}

func TestOutputPathFallbacks(t *testing.T) {
	rec := store.Transcription{ID: "abc-123", Title: "...", Folder: ""}
	assert.Equal(t, filepath.Join("/out", "Unfiled", "abc-123.md"), OutputPath("/out", rec, FormatMarkdown))

	rec = store.Transcription{ID: "x", Title: "Notes/Q1. ", Folder: "Work: 2024"}
	got := OutputPath("/out", rec, FormatText)
	assert.Equal(t, filepath.Join("/out", "Work_ 2024", "Notes_Q1.txt"), got)
}

func TestRenderFormats(t *testing.T) {
	rec := record("id-1", "Work", "Standup", "we shipped it")

	txt, err := Render(FormatText, rec)
	require.NoError(t, err)
	assert.Equal(t, "we shipped it", string(txt))

	md, err := Render(FormatMarkdown, rec)
	require.NoError(t, err)
	assert.Equal(t, "# Standup\n\n**Folder:** Work\n**Date:** 2024-12-24 08:30\n**Duration:** 1.5 min\n\n---\n\nwe shipped it\n", string(md))

	rec.RecordedAt = nil
	rec.Duration = nil
	md, err = Render(FormatMarkdown, rec)
	require.NoError(t, err)
	assert.Equal(t, "# Standup\n\n**Folder:** Work\n\n---\n\nwe shipped it\n", string(md))

	js, err := Render(FormatJSON, record("id-1", "Work", "Standup", "we shipped it"))
	require.NoError(t, err)
	keys := []string{"identifier", "title", "folder", "path", "transcription", "status", "duration", "recordingDate", "processedAt", "engine", "processingTime"}
	last := -1
	for _, k := range keys {
		idx := strings.Index(string(js), `"`+k+`"`)
		require.Greater(t, idx, last, "key %s out of order", k)
		last = idx
	}
	var doc map[string]any
	require.NoError(t, json.Unmarshal(js, &doc))
	assert.Equal(t, "2024-12-24T08:30:00Z", doc["recordingDate"])
	assert.Nil(t, doc["processingTime"])

	_, err = Render(Format("docx"), rec)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" MD ")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, f)
	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestExportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st, record("a", "Work", "Alpha", "alpha text"), record("b", "Home", "Bravo", "bravo text"))
	out := t.TempDir()
	pub := &recordingPublisher{}
	exp := New(st, out, pub, discard())

	opts := Options{Format: FormatText, Status: store.StatusSuccess}
	first, err := exp.Export(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 2, Exported: 2}, first)

	data, err := os.ReadFile(filepath.Join(out, "Work", "Alpha.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha text", string(data))

	second, err := exp.Export(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 2, Skipped: 2}, second)

	opts.Force = true
	forced, err := exp.Export(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 2, Exported: 2}, forced)

	unexported, err := st.ListUnexported(ctx)
	require.NoError(t, err)
	assert.Empty(t, unexported)

	history, err := st.ListExports(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, store.ExportSuccess, history[0].Status)
	require.NotNil(t, history[0].FileSize)
	assert.Equal(t, int64(len("alpha text")), *history[0].FileSize)
	assert.Len(t, history[0].Checksum, 64)

	assert.Contains(t, pub.subjects, "memo.export.exported")
	assert.Contains(t, pub.subjects, "memo.export.skipped")
}

func TestExportRewritesChangedContent(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st, record("a", "Work", "Alpha", "alpha text"))
	out := t.TempDir()
	exp := New(st, out, nil, discard())
	opts := Options{Format: FormatMarkdown, Status: store.StatusSuccess}

	_, err := exp.Export(ctx, opts)
	require.NoError(t, err)

	path := filepath.Join(out, "Work", "Alpha.md")
	require.NoError(t, os.WriteFile(path, []byte("edited by hand"), 0o644))

	res, err := exp.Export(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Exported)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "alpha text")

	seed(t, st, record("a", "Work", "Alpha", "alpha text, corrected"))
	res, err = exp.Export(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Exported)
}

func TestExportRewritesWhenDatabaseNewer(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st, record("a", "Work", "Alpha", "alpha text"))
	out := t.TempDir()
	exp := New(st, out, nil, discard())
	opts := Options{Format: FormatText, Status: store.StatusSuccess}

	_, err := exp.Export(ctx, opts)
	require.NoError(t, err)

	newer := record("a", "Work", "Alpha", "alpha text")
	newer.ProcessedAt = time.Now().Add(time.Hour).UTC()
	seed(t, st, newer)

	write, reason := exp.decide(filepath.Join(out, "Work", "Alpha.txt"), []byte("alpha text"), newer.ProcessedAt, false)
	assert.True(t, write)
	assert.Equal(t, ReasonDBNewer, reason)

	res, err := exp.Export(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 1, Exported: 1}, res)
}

func TestExportIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st,
		record("a", "Blocked", "Alpha", "alpha"),
		record("b", "Work", "Bravo", "bravo"),
		record("c", "Work", "Charlie", "charlie"),
	)
	out := t.TempDir()
	// A regular file where the folder directory should go.
	require.NoError(t, os.WriteFile(filepath.Join(out, "Blocked"), []byte("x"), 0o644))
	// A directory where the output file should go.
	require.NoError(t, os.MkdirAll(filepath.Join(out, "Work", "Charlie.txt"), 0o755))

	exp := New(st, out, nil, discard())
	res, err := exp.Export(ctx, Options{Format: FormatText, Status: store.StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 3, Exported: 1, Failed: 2}, res)

	history, err := st.ListExports(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.ExportFailed, history[0].Status)
	assert.True(t, strings.HasPrefix(history[0].ErrorMessage, "Directory creation error: "), history[0].ErrorMessage)

	history, err = st.ListExports(ctx, "c")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, strings.HasPrefix(history[0].ErrorMessage, "Write error: "), history[0].ErrorMessage)

	unexported, err := st.ListUnexported(ctx)
	require.NoError(t, err)
	assert.Len(t, unexported, 2, "failed exports leave records unexported")
}

func TestExportOnlyUnexported(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st, record("a", "Work", "Alpha", "alpha"))
	out := t.TempDir()
	exp := New(st, out, nil, discard())

	_, err := exp.Export(ctx, Options{Format: FormatText, OnlyUnexported: true, Status: store.StatusSuccess})
	require.NoError(t, err)

	seed(t, st, record("b", "Work", "Bravo", "bravo"))
	res, err := exp.Export(ctx, Options{Format: FormatJSON, OnlyUnexported: true, Status: store.StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 1, Exported: 1}, res)
	_, err = os.Stat(filepath.Join(out, "Work", "Bravo.json"))
	assert.NoError(t, err)
}

func TestExportFormatErrorIsRecorded(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st, record("a", "Work", "Alpha", "alpha"))
	exp := New(st, t.TempDir(), nil, discard())

	res, err := exp.Export(ctx, Options{Format: Format("docx")})
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 1, Failed: 1}, res)
	history, err := st.ListExports(ctx, "a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, strings.HasPrefix(history[0].ErrorMessage, "Format error: "))
}

func TestExportFreshRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	out := t.TempDir()
	exp := New(st, out, nil, discard())
	opts := Options{Format: FormatText, Status: store.StatusSuccess}

	for i := 0; i < 25; i++ {
		rec := record(fmt.Sprintf("fresh-%02d", i), "Work", fmt.Sprintf("Fresh %02d", i), "just processed")
		rec.ProcessedAt = time.Now()
		seed(t, st, rec)

		first, err := exp.Export(ctx, opts)
		require.NoError(t, err)
		require.Equal(t, 1, first.Exported, "run %d", i)

		second, err := exp.Export(ctx, opts)
		require.NoError(t, err)
		require.Equal(t, 0, second.Exported, "run %d", i)
		require.Equal(t, i+1, second.Skipped, "run %d", i)
	}
}

func TestPathsSuffixesCollisions(t *testing.T) {
	recs := []store.Transcription{
		{ID: "ab12cd34-5678-90ef", Title: "Untitled", Folder: "Unfiled"},
		{ID: "zz99", Title: "Untitled", Folder: ""},
		{ID: "aa00", Title: "Untitled", Folder: ""},
		{ID: "solo", Title: "Solo", Folder: "Work"},
	}

	paths := Paths("/out", recs, FormatText)
	assert.Equal(t, filepath.Join("/out", "Unfiled", "Untitled.txt"), paths["aa00"])
	assert.Equal(t, filepath.Join("/out", "Unfiled", "Untitled (ab12cd34).txt"), paths["ab12cd34-5678-90ef"])
	assert.Equal(t, filepath.Join("/out", "Unfiled", "Untitled (zz99).txt"), paths["zz99"])
	assert.Equal(t, filepath.Join("/out", "Work", "Solo.txt"), paths["solo"])

	reversed := []store.Transcription{recs[3], recs[2], recs[1], recs[0]}
	assert.Equal(t, paths, Paths("/out", reversed, FormatText))
}

func TestExportSeparatesCollidingRecords(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st,
		record("b-memo", "", "Untitled", "second recording"),
		record("a-memo", "", "Untitled", "first recording"),
	)
	out := t.TempDir()
	exp := New(st, out, nil, discard())
	opts := Options{Format: FormatText, Status: store.StatusSuccess}

	first, err := exp.Export(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 2, Exported: 2}, first)

	data, err := os.ReadFile(filepath.Join(out, "Unfiled", "Untitled.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first recording", string(data))
	data, err = os.ReadFile(filepath.Join(out, "Unfiled", "Untitled (b-memo).txt"))
	require.NoError(t, err)
	assert.Equal(t, "second recording", string(data))

	for i := 0; i < 2; i++ {
		again, err := exp.Export(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, Result{Total: 2, Skipped: 2}, again)
	}

	// A filtered run keeps each record on the file it already owns.
	seed(t, st, record("c-memo", "", "Untitled", "third recording"))
	res, err := exp.Export(ctx, Options{Format: FormatText, OnlyUnexported: true, Status: store.StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 1, Exported: 1}, res)
	data, err = os.ReadFile(filepath.Join(out, "Unfiled", "Untitled.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first recording", string(data))
	_, err = os.Stat(filepath.Join(out, "Unfiled", "Untitled (c-memo).txt"))
	assert.NoError(t, err)
}

func TestDecideWithoutTimestampEvidence(t *testing.T) {
	out := t.TempDir()
	path := filepath.Join(out, "Alpha.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha text"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	exp := New(openStore(t), out, nil, discard())
	exp.stat = func(name string) (fs.FileInfo, error) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrPermission}
	}

	write, reason := exp.decide(path, []byte("alpha text"), time.Now(), false)
	assert.False(t, write)
	assert.Equal(t, ReasonUnchanged, reason)

	write, reason = exp.decide(path, []byte("alpha text, corrected"), time.Now(), false)
	assert.True(t, write)
	assert.Equal(t, ReasonChanged, reason)
}

func TestDecideUnreadableTarget(t *testing.T) {
	out := t.TempDir()
	target := filepath.Join(out, "Charlie.txt")
	require.NoError(t, os.MkdirAll(target, 0o755))

	exp := New(openStore(t), out, nil, discard())
	write, reason := exp.decide(target, []byte("charlie"), time.Now(), false)
	assert.True(t, write)
	assert.Equal(t, ReasonUnreadable, reason)
}

func TestExportSkipsEngineHypotheses(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st,
		record("memo", "Work", "Standup", "plain run"),
		record(store.HypothesisID("memo", "whisper-small"), "Work", "Standup", "small engine"),
	)
	out := t.TempDir()
	exp := New(st, out, nil, discard())

	res, err := exp.Export(ctx, Options{Format: FormatText, Status: store.StatusSuccess})
	require.NoError(t, err)
	assert.Equal(t, Result{Total: 1, Exported: 1}, res)
	data, err := os.ReadFile(filepath.Join(out, "Work", "Standup.txt"))
	require.NoError(t, err)
	assert.Equal(t, "plain run", string(data))

	res, err = exp.Export(ctx, Options{Format: FormatText, OnlyUnexported: true})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}
