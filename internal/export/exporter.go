package export

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/memo-transcriber/internal/checksum"
	"github.com/loqalabs/memo-transcriber/internal/protocol"
	"github.com/loqalabs/memo-transcriber/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Store is the slice of the record store the exporter needs.
type Store interface {
	ListByStatus(ctx context.Context, status store.Status) ([]store.Transcription, error)
	ListUnexported(ctx context.Context) ([]store.Transcription, error)
	RecordExport(ctx context.Context, exp store.Export) (int64, error)
}

// Options selects and renders the records of one export run.
type Options struct {
	Format         Format
	OnlyUnexported bool
	Force          bool
	Status         store.Status
}

// Result counts outcomes of one export run.
type Result struct {
	Total    int
	Exported int
	Skipped  int
	Failed   int
}

// Reasons for writing or skipping a file.
const (
	ReasonForced    = "forced"
	ReasonNew       = "new file"
	ReasonChanged   = "content changed"
	ReasonDBNewer   = "database newer"
	ReasonUnchanged = "unchanged"

	// ReasonUnreadable marks a target that exists but cannot be read back.
	// The write attempt then records why.
	ReasonUnreadable = "unreadable target"
)

// Exporter writes cached transcriptions to OutputDir.
type Exporter struct {
	store     Store
	outputDir string
	publisher protocol.Publisher
	log       *slog.Logger
	tracer    trace.Tracer
	files     metric.Int64Counter
	clock     func() time.Time
	stat      func(string) (fs.FileInfo, error)
}

func New(st Store, outputDir string, publisher protocol.Publisher, log *slog.Logger) *Exporter {
	if publisher == nil {
		publisher = protocol.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Exporter{
		store:     st,
		outputDir: outputDir,
		publisher: publisher,
		log:       log.With(slog.String("component", "exporter")),
		tracer:    otel.Tracer("github.com/loqalabs/memo-transcriber/export"),
		clock:     time.Now,
		stat:      os.Stat,
	}
	files, err := otel.Meter("github.com/loqalabs/memo-transcriber/export").Int64Counter(
		"memo_export_files",
		metric.WithDescription("Export decisions by result"),
	)
	if err != nil {
		e.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	e.files = files
	return e
}

// Export renders every selected record and writes the ones whose file is
// missing, different or older than the record. Per-record failures are
// logged as failed exports; only store failures abort the run.
func (e *Exporter) Export(ctx context.Context, opts Options) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "export.run", trace.WithAttributes(
		attribute.String("format", string(opts.Format)),
		attribute.Bool("force", opts.Force),
	))
	defer span.End()

	records, err := e.candidates(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	paths, err := e.plan(ctx, opts.Format)
	if err != nil {
		return Result{}, err
	}

	res := Result{Total: len(records)}
	for _, rec := range records {
		path, ok := paths[rec.ID]
		if !ok {
			path = OutputPath(e.outputDir, rec, opts.Format)
		}
		outcome, err := e.exportOne(ctx, rec, path, opts)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeExported:
			res.Exported++
		case outcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}

	e.log.Info("export finished",
		slog.String("format", string(opts.Format)),
		slog.Int("total", res.Total),
		slog.Int("exported", res.Exported),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res, nil
}

// candidates lists the records selected by opts. Per-engine comparison
// records are never exported.
func (e *Exporter) candidates(ctx context.Context, opts Options) ([]store.Transcription, error) {
	var (
		records []store.Transcription
		err     error
	)
	if opts.OnlyUnexported {
		records, err = e.store.ListUnexported(ctx)
	} else {
		records, err = e.store.ListByStatus(ctx, opts.Status)
	}
	if err != nil {
		return nil, err
	}
	filtered := records[:0]
	for _, rec := range records {
		if store.IsHypothesis(rec.ID) {
			continue
		}
		if opts.OnlyUnexported && opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered, nil
}

// plan assigns output paths over every exportable record in the store, not
// just this run's candidates, so a record keeps its file across filtered runs.
func (e *Exporter) plan(ctx context.Context, f Format) (map[string]string, error) {
	all, err := e.store.ListByStatus(ctx, "")
	if err != nil {
		return nil, err
	}
	exportable := all[:0]
	for _, rec := range all {
		if !store.IsHypothesis(rec.ID) {
			exportable = append(exportable, rec)
		}
	}
	return Paths(e.outputDir, exportable, f), nil
}

type outcome int

const (
	outcomeExported outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeExported:
		return "exported"
	case outcomeSkipped:
		return "skipped"
	}
	return "failed"
}

func (e *Exporter) exportOne(ctx context.Context, rec store.Transcription, path string, opts Options) (outcome, error) {
	log := e.log.With(slog.String("id", rec.ID), slog.String("path", path))

	content, err := Render(opts.Format, rec)
	if err != nil {
		return e.fail(ctx, rec, path, opts.Format, &Error{Kind: KindFormat, Err: err}, log)
	}

	write, reason := e.decide(path, content, rec.ProcessedAt, opts.Force)
	if !write {
		log.Debug("export skipped", slog.String("reason", reason))
		e.emit(ctx, rec, path, opts.Format, outcomeSkipped, reason)
		return outcomeSkipped, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return e.fail(ctx, rec, path, opts.Format, &Error{Kind: KindDirectory, Err: err}, log)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return e.fail(ctx, rec, path, opts.Format, &Error{Kind: KindWrite, Err: err}, log)
	}
	// The file must not look older than the record it was written from.
	stamp := e.clock()
	if rec.ProcessedAt.After(stamp) {
		stamp = rec.ProcessedAt
	}
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		log.Warn("could not set modification time", slog.String("error", err.Error()))
	}

	size := int64(len(content))
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	_, err = e.store.RecordExport(ctx, store.Export{
		TranscriptionID: rec.ID,
		OutputPath:      path,
		Status:          store.ExportSuccess,
		FileSize:        &size,
		Checksum:        checksum.Bytes(content),
		Format:          string(opts.Format),
		ExportedAt:      e.clock(),
	})
	if err != nil {
		return outcomeFailed, err
	}
	log.Info("exported", slog.String("reason", reason), slog.Int64("bytes", size))
	e.emit(ctx, rec, path, opts.Format, outcomeExported, reason)
	return outcomeExported, nil
}

func (e *Exporter) fail(ctx context.Context, rec store.Transcription, path string, f Format, exportErr *Error, log *slog.Logger) (outcome, error) {
	log.Warn("export failed", slog.String("error", exportErr.Error()))
	_, err := e.store.RecordExport(ctx, store.Export{
		TranscriptionID: rec.ID,
		OutputPath:      path,
		Status:          store.ExportFailed,
		ErrorMessage:    exportErr.Error(),
		Format:          string(f),
		ExportedAt:      e.clock(),
	})
	if err != nil {
		return outcomeFailed, err
	}
	e.emit(ctx, rec, path, f, outcomeFailed, exportErr.Error())
	return outcomeFailed, nil
}

func (e *Exporter) emit(ctx context.Context, rec store.Transcription, path string, f Format, o outcome, reason string) {
	if e.files != nil {
		e.files.Add(ctx, 1, metric.WithAttributes(attribute.String("result", o.String())))
	}
	evt := protocol.ExportEvent{
		ID:         rec.ID,
		OutputPath: path,
		Format:     string(f),
		Status:     o.String(),
		Reason:     reason,
		Timestamp:  e.clock().UTC(),
	}
	if err := e.publisher.Publish(ctx, protocol.ExportSubject(o.String()), evt); err != nil {
		e.log.Warn("failed to publish export event", slog.String("id", rec.ID), slog.String("error", err.Error()))
	}
}

// decide applies, in order: force, missing file, differing content, and a
// record processed after the file was last modified. A target whose
// modification time cannot be read gives no timestamp evidence.
func (e *Exporter) decide(path string, content []byte, processedAt time.Time, force bool) (bool, string) {
	if force {
		return true, ReasonForced
	}
	info, statErr := e.stat(path)
	if errors.Is(statErr, fs.ErrNotExist) {
		return true, ReasonNew
	}
	existing, err := checksum.File(path)
	if err != nil {
		return true, ReasonUnreadable
	}
	if existing != checksum.Bytes(content) {
		return true, ReasonChanged
	}
	if statErr != nil {
		return false, ReasonUnchanged
	}
	if newerThan(processedAt, info.ModTime()) {
		return true, ReasonDBNewer
	}
	return false, ReasonUnchanged
}

// newerThan compares at whole-second resolution, the coarsest modification
// time granularity of common filesystems.
func newerThan(processedAt, modTime time.Time) bool {
	return processedAt.Truncate(time.Second).After(modTime.Truncate(time.Second))
}
