// Package transcriber is the boundary to speech-to-text engines. The
// pipeline only sees Transcriber; engine handles are loaded lazily and
// cached per engine name.
package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Transcriber converts the audio at path to text using the named engine.
type Transcriber interface {
	Transcribe(ctx context.Context, path, engine string) (string, error)
}

// TranscriptionError reports a failed call to an engine.
type TranscriptionError struct {
	Path   string
	Engine string
	Err    error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe %s with %s: %v", e.Path, e.Engine, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Handle is a loaded engine instance.
type Handle interface {
	Transcribe(ctx context.Context, path string) (string, error)
	Close() error
}

// Factory loads the engine with the given name.
type Factory func(engine string) (Handle, error)

// Pool serves transcriptions from cached engine handles.
type Pool struct {
	engines *EngineCache
	timeout time.Duration
	log     *slog.Logger
}

// NewPool wraps factory in an engine cache. A zero timeout leaves call
// duration to the engine.
func NewPool(factory Factory, timeout time.Duration, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		engines: NewEngineCache(factory, log),
		timeout: timeout,
		log:     log,
	}
}

func (p *Pool) Transcribe(ctx context.Context, path, engine string) (string, error) {
	h, err := p.engines.Get(engine)
	if err != nil {
		return "", &TranscriptionError{Path: path, Engine: engine, Err: err}
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	text, err := h.Transcribe(ctx, path)
	if err != nil {
		return "", &TranscriptionError{Path: path, Engine: engine, Err: err}
	}
	return text, nil
}

// Engines exposes the handle cache for explicit lifecycle control.
func (p *Pool) Engines() *EngineCache { return p.engines }

// Close unloads every cached engine.
func (p *Pool) Close() error {
	p.engines.Clear()
	return nil
}
