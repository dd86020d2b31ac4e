// Package runtime assembles the store, source, transcriber, bus and
// telemetry described by a config.Config into one handle for commands.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/loqalabs/memo-transcriber/internal/bus"
	"github.com/loqalabs/memo-transcriber/internal/comparison"
	"github.com/loqalabs/memo-transcriber/internal/config"
	"github.com/loqalabs/memo-transcriber/internal/export"
	"github.com/loqalabs/memo-transcriber/internal/natsserver"
	"github.com/loqalabs/memo-transcriber/internal/pipeline"
	"github.com/loqalabs/memo-transcriber/internal/protocol"
	"github.com/loqalabs/memo-transcriber/internal/source"
	"github.com/loqalabs/memo-transcriber/internal/store"
	"github.com/loqalabs/memo-transcriber/internal/transcriber"
)

// ErrNotComparable is returned when a comparison side has no text.
var ErrNotComparable = errors.New("transcription has no text to compare")

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	store       *store.Store
	source      source.Provider
	pool        *transcriber.Pool
	embedded    *natsserver.EmbeddedServer
	bus         *bus.Client
	publisher   protocol.Publisher
	tracerClose func(context.Context) error
	metrics     http.Handler
	ready       atomic.Bool
}

// Open builds every collaborator. Close releases them in reverse order.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	r := &Runtime{
		cfg:       cfg,
		logger:    logger,
		publisher: protocol.Discard{},
	}

	shutdown, handler, err := setupTelemetry(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdown
	r.metrics = handler

	if r.store, err = store.Open(ctx, cfg.Store, logger); err != nil {
		r.Close()
		return nil, err
	}

	if r.source, err = newSource(cfg.Source); err != nil {
		r.Close()
		return nil, err
	}

	if r.pool, err = transcriber.NewFromConfig(cfg.STT, logger); err != nil {
		r.Close()
		return nil, err
	}

	if cfg.Bus.Enabled {
		if err := r.connectBus(ctx); err != nil {
			r.Close()
			return nil, err
		}
	}

	r.ready.Store(true)
	return r, nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	if embedded != nil {
		r.embedded = embedded
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	r.publisher = client
	return nil
}

func newSource(cfg config.SourceConfig) (source.Provider, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "voicememos":
		return source.VoiceMemos{DBPath: cfg.DatabasePath, RecordingsDir: cfg.RecordingsDir}, nil
	case "directory":
		return source.Directory{Root: cfg.RecordingsDir}, nil
	default:
		return nil, fmt.Errorf("unsupported source mode %q", cfg.Mode)
	}
}

func (r *Runtime) Config() config.Config          { return r.cfg }
func (r *Runtime) Store() *store.Store            { return r.store }
func (r *Runtime) Source() source.Provider        { return r.source }
func (r *Runtime) Transcriber() *transcriber.Pool { return r.pool }
func (r *Runtime) Publisher() protocol.Publisher  { return r.publisher }

// Pipeline returns a pipeline wired to the runtime's store, engine pool and bus.
func (r *Runtime) Pipeline() *pipeline.Pipeline {
	return pipeline.New(r.store, r.pool, r.publisher, r.logger)
}

// Exporter writes into outputDir, or the configured directory when empty.
func (r *Runtime) Exporter(outputDir string) *export.Exporter {
	if outputDir == "" {
		outputDir = r.cfg.Export.OutputDir
	}
	return export.New(r.store, config.ExpandHome(outputDir), r.publisher, r.logger)
}

// Compare loads both records, computes their metrics and saves the result.
func (r *Runtime) Compare(ctx context.Context, referenceID, hypothesisID string, normalize bool, notes string) (store.Comparison, error) {
	ref, err := r.store.Get(ctx, referenceID)
	if err != nil {
		return store.Comparison{}, fmt.Errorf("reference %s: %w", referenceID, err)
	}
	hyp, err := r.store.Get(ctx, hypothesisID)
	if err != nil {
		return store.Comparison{}, fmt.Errorf("hypothesis %s: %w", hypothesisID, err)
	}
	for _, rec := range []store.Transcription{ref, hyp} {
		if rec.Status != store.StatusSuccess || strings.TrimSpace(rec.Text) == "" {
			return store.Comparison{}, fmt.Errorf("%s: %w", rec.ID, ErrNotComparable)
		}
	}
	if !ref.IsReference {
		r.logger.Warn("comparing against a record not marked as reference", slog.String("id", ref.ID))
	}

	m := comparison.Compare(ref.Text, hyp.Text, normalize)
	c := store.Comparison{
		ReferenceID:     ref.ID,
		HypothesisID:    hyp.ID,
		WER:             m.WER,
		CER:             m.CER,
		Substitutions:   m.Substitutions,
		Deletions:       m.Deletions,
		Insertions:      m.Insertions,
		TotalEdits:      m.TotalEdits,
		ReferenceWords:  m.ReferenceWords,
		HypothesisWords: m.HypothesisWords,
		WordDiff:        m.WordDiff,
		WordDiffPct:     m.WordDiffPct,
		Jaccard:         m.Jaccard,
		Cosine:          m.Cosine,
		Notes:           notes,
	}
	id, err := r.store.SaveComparison(ctx, c)
	if err != nil {
		return c, err
	}
	c.ID = id
	r.logger.Info("comparison saved",
		slog.String("reference", ref.ID),
		slog.String("hypothesis", hyp.ID),
		slog.String("engine", hyp.Engine),
		slog.Float64("wer", c.WER))
	return c, nil
}

// EngineComparison is one hypothesis scored by CompareAll. Skipped is set
// when the hypothesis has no successful text.
type EngineComparison struct {
	Hypothesis store.Transcription
	Comparison store.Comparison
	Skipped    bool
}

// CompareAll scores every transcription of the reference's recording
// against it: the recording's own record and each per-engine record.
// A reference stored under store.HypothesisID(recording, ...) belongs to
// that recording; any other reference identifier names the recording itself.
func (r *Runtime) CompareAll(ctx context.Context, referenceID string, normalize bool, notes string) ([]EngineComparison, error) {
	ref, err := r.store.Get(ctx, referenceID)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", referenceID, err)
	}
	recording, _, _ := store.SplitHypothesisID(ref.ID)

	hypotheses, err := r.store.ListHypotheses(ctx, recording)
	if err != nil {
		return nil, err
	}
	if recording != ref.ID {
		own, err := r.store.Get(ctx, recording)
		switch {
		case err == nil:
			hypotheses = append([]store.Transcription{own}, hypotheses...)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	var out []EngineComparison
	for _, hyp := range hypotheses {
		if hyp.ID == ref.ID {
			continue
		}
		if hyp.Status != store.StatusSuccess {
			r.logger.Info("hypothesis skipped", slog.String("id", hyp.ID), slog.String("status", string(hyp.Status)))
			out = append(out, EngineComparison{Hypothesis: hyp, Skipped: true})
			continue
		}
		c, err := r.Compare(ctx, ref.ID, hyp.ID, normalize, notes)
		if err != nil {
			return out, err
		}
		out = append(out, EngineComparison{Hypothesis: hyp, Comparison: c})
	}
	return out, nil
}

// ServeMetrics exposes /metrics, /healthz and /readyz on the configured bind
// address until ctx is done. It returns immediately when no address is set.
func (r *Runtime) ServeMetrics(ctx context.Context) error {
	addr := strings.TrimSpace(r.cfg.Telemetry.MetricsBind)
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return r.serve(ctx, ln)
}

func (r *Runtime) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	r.logger.Info("metrics server started", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	<-errCh
	return nil
}

// Handler serves the health, readiness and metrics endpoints.
func (r *Runtime) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.ready.Load() && r.store != nil && r.store.Ping(req.Context()) == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// Close releases the engine pool, bus, store and telemetry providers.
func (r *Runtime) Close() error {
	r.ready.Store(false)
	var errs []error
	if r.pool != nil {
		if err := r.pool.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.bus != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.bus.Flush(flushCtx); err != nil {
			r.logger.Warn("failed to flush bus", slog.String("error", err.Error()))
		}
		cancel()
		r.bus.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.tracerClose != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return errors.Join(errs...)
}
