// Package pipeline drives source items through the duration, cache and
// existence gates and the transcription call, persisting one terminal
// record per item.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/memo-transcriber/internal/checksum"
	"github.com/loqalabs/memo-transcriber/internal/export"
	"github.com/loqalabs/memo-transcriber/internal/protocol"
	"github.com/loqalabs/memo-transcriber/internal/source"
	"github.com/loqalabs/memo-transcriber/internal/store"
	"github.com/loqalabs/memo-transcriber/internal/transcriber"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrSourceNotFound marks items whose audio file is not on disk.
var ErrSourceNotFound = errors.New("source audio not found")

// Store is the slice of the record store the pipeline writes to.
type Store interface {
	Get(ctx context.Context, id string) (store.Transcription, error)
	Upsert(ctx context.Context, rec store.Transcription) error
	OpenBatch(ctx context.Context, id string, total int, settings, engine string) error
	CloseBatch(ctx context.Context, id string, success, failed, skipped int, avgTime float64) error
	RecordAttempt(ctx context.Context, a store.Attempt) (int64, error)
}

// Options controls one run.
type Options struct {
	MaxDurationMinutes float64
	Engine             string
	SkipMissing        bool
	// Transcribe false makes the run a dry listing: gates are evaluated but
	// nothing is transcribed or persisted.
	Transcribe bool
	OutputDir  string
}

// Outcome is the result for one item.
type Outcome struct {
	Item   source.Item
	Status store.Status // empty for items a dry run would transcribe
	Cached bool
	Reason string
	Record store.Transcription
	Err    error
}

// Summary aggregates a run.
type Summary struct {
	BatchID           string
	Total             int
	Success           int
	Failed            int
	Skipped           int
	Cached            int
	Pending           int
	AvgProcessingTime float64
	Outcomes          []Outcome
}

type Pipeline struct {
	store       Store
	transcriber transcriber.Transcriber
	classify    transcriber.Classifier
	publisher   protocol.Publisher
	log         *slog.Logger
	tracer      trace.Tracer
	items       metric.Int64Counter
	seconds     metric.Float64Histogram
	clock       func() time.Time
	newID       func() string
}

func New(st Store, tr transcriber.Transcriber, publisher protocol.Publisher, log *slog.Logger) *Pipeline {
	if publisher == nil {
		publisher = protocol.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		store:       st,
		transcriber: tr,
		classify:    transcriber.DefaultClassifier(),
		publisher:   publisher,
		log:         log.With(slog.String("component", "pipeline")),
		tracer:      otel.Tracer("github.com/loqalabs/memo-transcriber/pipeline"),
		clock:       time.Now,
		newID:       uuid.NewString,
	}
	if err := p.initMetrics(); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return p
}

// SetClassifier replaces the rule that decides whether engine output is a failure.
func (p *Pipeline) SetClassifier(c transcriber.Classifier) {
	if c != nil {
		p.classify = c
	}
}

func (p *Pipeline) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/memo-transcriber/pipeline")
	var err error
	p.items, err = meter.Int64Counter("memo_pipeline_items",
		metric.WithDescription("Pipeline items by terminal status"))
	if err != nil {
		return err
	}
	p.seconds, err = meter.Float64Histogram("memo_transcription_seconds",
		metric.WithDescription("Duration of transcription calls"),
		metric.WithUnit("s"))
	return err
}

// Run processes items sequentially. A failing item never stops the run;
// only store errors and context cancellation do, leaving the batch open.
func (p *Pipeline) Run(ctx context.Context, items []source.Item, opts Options) (Summary, error) {
	if !opts.Transcribe {
		sum := Summary{Total: len(items)}
		for _, it := range items {
			out := p.preview(it, opts)
			sum.add(out)
			sum.Outcomes = append(sum.Outcomes, out)
		}
		return sum, nil
	}

	jobs := make([]job, len(items))
	for i, it := range items {
		jobs[i] = job{item: it, opts: opts}
	}
	return p.runBatch(ctx, jobs, opts, nil)
}

// RunEngines transcribes one item with every engine in turn. Each result is
// stored under store.HypothesisID(it.ID, engine), so a success is reused
// only for the same engine and audio fingerprint. The duration ceiling does
// not apply to comparison runs.
func (p *Pipeline) RunEngines(ctx context.Context, it source.Item, engines []string, opts Options) (Summary, error) {
	if len(engines) == 0 {
		return Summary{}, errors.New("no engines given")
	}
	opts.Transcribe = true
	opts.MaxDurationMinutes = 0
	opts.Engine = strings.Join(engines, ",")

	jobs := make([]job, 0, len(engines))
	for _, engine := range engines {
		hyp := it
		hyp.ID = store.HypothesisID(it.ID, engine)
		o := opts
		o.Engine = engine
		jobs = append(jobs, job{item: hyp, opts: o})
	}
	return p.runBatch(ctx, jobs, opts, engines)
}

// job is one item and the options it is processed with.
type job struct {
	item source.Item
	opts Options
}

func (p *Pipeline) runBatch(ctx context.Context, jobs []job, opts Options, engines []string) (Summary, error) {
	sum := Summary{Total: len(jobs)}
	batchSettings := map[string]any{
		"max_duration_minutes": opts.MaxDurationMinutes,
		"engine":               opts.Engine,
		"skip_missing":         opts.SkipMissing,
		"output_dir":           opts.OutputDir,
	}
	if len(engines) > 0 {
		batchSettings["engines"] = engines
	}
	settings, err := json.Marshal(batchSettings)
	if err != nil {
		return sum, fmt.Errorf("encode batch settings: %w", err)
	}
	sum.BatchID = p.newID()
	if err := p.store.OpenBatch(ctx, sum.BatchID, len(jobs), string(settings), opts.Engine); err != nil {
		return sum, err
	}
	p.publish(ctx, protocol.SubjectBatchOpened, protocol.BatchEvent{
		BatchID:   sum.BatchID,
		Engine:    opts.Engine,
		Total:     len(jobs),
		Timestamp: p.clock().UTC(),
	})
	p.log.Info("batch opened", slog.String("batch_id", sum.BatchID), slog.Int("items", len(jobs)), slog.String("engine", opts.Engine))

	var elapsedTotal float64
	var transcribed int
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, err := p.process(ctx, sum.BatchID, j.item, j.opts)
		if err != nil {
			return sum, err
		}
		if out.Record.ProcessingTime != nil && !out.Cached {
			elapsedTotal += *out.Record.ProcessingTime
			transcribed++
		}
		sum.add(out)
		sum.Outcomes = append(sum.Outcomes, out)
	}
	if transcribed > 0 {
		sum.AvgProcessingTime = elapsedTotal / float64(transcribed)
	}

	if err := p.store.CloseBatch(ctx, sum.BatchID, sum.Success, sum.Failed, sum.Skipped, sum.AvgProcessingTime); err != nil {
		return sum, err
	}
	p.publish(ctx, protocol.SubjectBatchClosed, protocol.BatchEvent{
		BatchID:              sum.BatchID,
		Engine:               opts.Engine,
		Total:                sum.Total,
		Success:              sum.Success,
		Failed:               sum.Failed,
		Skipped:              sum.Skipped,
		AvgProcessingSeconds: sum.AvgProcessingTime,
		Timestamp:            p.clock().UTC(),
	})
	p.log.Info("batch closed",
		slog.String("batch_id", sum.BatchID),
		slog.Int("success", sum.Success),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped),
		slog.Int("cached", sum.Cached),
		slog.Float64("avg_processing_seconds", sum.AvgProcessingTime))
	return sum, nil
}

func (s *Summary) add(out Outcome) {
	if out.Cached {
		s.Cached++
	}
	switch out.Status {
	case store.StatusSuccess:
		s.Success++
	case store.StatusFailed:
		s.Failed++
	case store.StatusSkipped:
		s.Skipped++
	default:
		s.Pending++
	}
}

func (p *Pipeline) process(ctx context.Context, batchID string, it source.Item, opts Options) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.item", trace.WithAttributes(
		attribute.String("memo.id", it.ID),
		attribute.String("memo.engine", opts.Engine),
	))
	defer span.End()

	log := p.log.With(slog.String("id", it.ID), slog.String("title", it.Title))
	path := it.AbsPath()

	if reason, skip := tooLong(it, opts.MaxDurationMinutes); skip {
		rec := p.newRecord(it, opts)
		rec.Status = store.StatusSkipped
		rec.Text = reason
		return p.settle(ctx, batchID, Outcome{Item: it, Status: rec.Status, Reason: reason, Record: rec}, log)
	}

	hash, hashErr := checksum.File(path)
	if hashErr == nil {
		cached, err := p.store.Get(ctx, it.ID)
		switch {
		case err == nil && cached.Status == store.StatusSuccess && cached.FileHash == hash:
			out := Outcome{Item: it, Status: cached.Status, Cached: true, Reason: "cached", Record: cached}
			p.observe(ctx, out)
			log.Info("cache hit", slog.String("status", string(cached.Status)))
			return out, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return Outcome{}, err
		}
	}

	if errors.Is(hashErr, fs.ErrNotExist) {
		rec := p.newRecord(it, opts)
		out := Outcome{Item: it, Err: fmt.Errorf("%w: %s", ErrSourceNotFound, path)}
		if opts.SkipMissing {
			rec.Status = store.StatusSkipped
			rec.Text = "skipping: file not found, may not be synced?"
		} else {
			rec.Status = store.StatusFailed
			rec.ErrorMessage = fmt.Sprintf("File not found: %s, may not be synced", path)
		}
		out.Status = rec.Status
		out.Reason = "not found, may not be synced"
		out.Record = rec
		return p.settle(ctx, batchID, out, log)
	}
	if hashErr != nil {
		log.Warn("could not fingerprint source", slog.String("error", hashErr.Error()))
	}

	rec := p.newRecord(it, opts)
	rec.FileHash = hash
	rec.Engine = opts.Engine

	start := p.clock()
	text, err := p.transcriber.Transcribe(ctx, path, opts.Engine)
	elapsed := p.clock().Sub(start).Seconds()
	if ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}
	rec.ProcessingTime = &elapsed
	if p.seconds != nil {
		p.seconds.Record(ctx, elapsed, metric.WithAttributes(attribute.String("engine", opts.Engine)))
	}

	out := Outcome{Item: it}
	if p.classify(text, err) == transcriber.Success && strings.TrimSpace(text) != "" {
		rec.Status = store.StatusSuccess
		rec.Text = text
		out.Reason = "transcribed"
	} else {
		rec.Status = store.StatusFailed
		switch {
		case err != nil:
			rec.ErrorMessage = "Transcription error: " + err.Error()
			rec.Text = rec.ErrorMessage
			out.Err = err
		case strings.TrimSpace(text) == "":
			rec.ErrorMessage = "Transcription error: empty transcription"
			rec.Text = rec.ErrorMessage
		default:
			rec.ErrorMessage = text
			rec.Text = text
		}
		out.Reason = rec.ErrorMessage
		span.SetStatus(codes.Error, rec.ErrorMessage)
	}
	out.Status = rec.Status
	out.Record = rec
	return p.settle(ctx, batchID, out, log)
}

// settle persists a freshly decided outcome and its attempt row.
func (p *Pipeline) settle(ctx context.Context, batchID string, out Outcome, log *slog.Logger) (Outcome, error) {
	if err := p.store.Upsert(ctx, out.Record); err != nil {
		return out, err
	}
	_, err := p.store.RecordAttempt(ctx, store.Attempt{
		TranscriptionID: out.Record.ID,
		BatchID:         batchID,
		Engine:          out.Record.Engine,
		Status:          out.Record.Status,
		ErrorMessage:    out.Record.ErrorMessage,
		ProcessingTime:  out.Record.ProcessingTime,
		FileHash:        out.Record.FileHash,
		AttemptedAt:     out.Record.ProcessedAt,
	})
	if err != nil {
		return out, err
	}

	attrs := []any{slog.String("status", string(out.Status)), slog.String("reason", out.Reason)}
	if out.Record.ProcessingTime != nil {
		attrs = append(attrs, slog.Float64("seconds", *out.Record.ProcessingTime))
	}
	if out.Status == store.StatusFailed {
		log.Warn("item failed", attrs...)
	} else {
		log.Info("item processed", attrs...)
	}

	p.observe(ctx, out)
	evt := protocol.TranscriptionEvent{
		ID:           out.Record.ID,
		Title:        out.Record.Title,
		Folder:       out.Record.Folder,
		Status:       string(out.Status),
		Engine:       out.Record.Engine,
		ErrorMessage: out.Record.ErrorMessage,
		BatchID:      batchID,
		Timestamp:    out.Record.ProcessedAt,
	}
	if out.Record.ProcessingTime != nil {
		evt.ProcessingSeconds = *out.Record.ProcessingTime
	}
	p.publish(ctx, protocol.TranscriptionSubject(string(out.Status)), evt)
	return out, nil
}

func (p *Pipeline) observe(ctx context.Context, out Outcome) {
	if p.items != nil {
		p.items.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(out.Status)),
			attribute.Bool("cached", out.Cached),
		))
	}
	if out.Cached {
		p.publish(ctx, protocol.TranscriptionSubject(string(out.Status)), protocol.TranscriptionEvent{
			ID:        out.Record.ID,
			Title:     out.Record.Title,
			Folder:    out.Record.Folder,
			Status:    string(out.Status),
			Engine:    out.Record.Engine,
			Cached:    true,
			Timestamp: p.clock().UTC(),
		})
	}
}

func (p *Pipeline) publish(ctx context.Context, subject string, payload any) {
	if err := p.publisher.Publish(ctx, subject, payload); err != nil {
		p.log.Warn("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

// preview evaluates the gates without touching the store or the engine.
func (p *Pipeline) preview(it source.Item, opts Options) Outcome {
	if reason, skip := tooLong(it, opts.MaxDurationMinutes); skip {
		return Outcome{Item: it, Status: store.StatusSkipped, Reason: reason}
	}
	if _, err := checksum.File(it.AbsPath()); errors.Is(err, fs.ErrNotExist) {
		out := Outcome{Item: it, Status: store.StatusFailed, Reason: "not found, may not be synced", Err: ErrSourceNotFound}
		if opts.SkipMissing {
			out.Status = store.StatusSkipped
		}
		return out
	}
	return Outcome{Item: it, Reason: "would transcribe"}
}

func (p *Pipeline) newRecord(it source.Item, opts Options) store.Transcription {
	rec := store.Transcription{
		ID:          it.ID,
		Title:       it.Title,
		Folder:      it.Folder,
		Path:        it.AbsPath(),
		ProcessedAt: p.clock().UTC(),
	}
	if store.IsHypothesis(rec.ID) {
		rec.Engine = opts.Engine
	} else {
		rec.OutputPath = export.OutputPath(opts.OutputDir, rec, export.FormatText)
	}
	if it.Duration > 0 {
		d := it.Duration
		rec.Duration = &d
	}
	if !it.RecordedAt.IsZero() {
		ts := it.RecordedAt
		rec.RecordedAt = &ts
	}
	return rec
}

func tooLong(it source.Item, maxMinutes float64) (string, bool) {
	minutes := it.Duration / 60
	if maxMinutes > 0 && minutes > maxMinutes {
		return fmt.Sprintf("Skipped: too long (%.1f min > %v min)", minutes, maxMinutes), true
	}
	return "", false
}
