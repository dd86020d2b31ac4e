package transcriber

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/memo-transcriber/internal/config"
)

// NewFactory builds engine handles for the configured backend. Unknown
// engine names are rejected before any backend is touched.
func NewFactory(cfg config.STTConfig) (Factory, error) {
	var build func(engine string) (Handle, error)
	switch cfg.Mode {
	case "", "mock":
		build = func(engine string) (Handle, error) { return NewMockHandle(engine), nil }
	case "exec":
		if _, err := NewExecHandle(cfg.Command, "", ""); err != nil {
			return nil, err
		}
		build = func(engine string) (Handle, error) {
			return NewExecHandle(cfg.Command, engine, cfg.Language)
		}
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("stt endpoint must be set for http mode")
		}
		build = func(engine string) (Handle, error) {
			return NewHTTPHandle(cfg.Endpoint, engine, cfg.Language, &http.Client{}), nil
		}
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}

	return func(engine string) (Handle, error) {
		if _, ok := Lookup(engine); !ok {
			return nil, fmt.Errorf("unknown engine %q", engine)
		}
		return build(engine)
	}, nil
}

// NewFromConfig returns a Pool for cfg.
func NewFromConfig(cfg config.STTConfig, log *slog.Logger) (*Pool, error) {
	factory, err := NewFactory(cfg)
	if err != nil {
		return nil, err
	}
	return NewPool(factory, time.Duration(cfg.TimeoutMS)*time.Millisecond, log), nil
}
