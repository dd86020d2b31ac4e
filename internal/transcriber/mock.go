package transcriber

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type mockHandle struct {
	engine string
}

// NewMockHandle returns a handle producing deterministic text from file metadata.
func NewMockHandle(engine string) Handle {
	return &mockHandle{engine: engine}
}

func (m *mockHandle) Transcribe(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s transcript of %s bytes=%d]", m.engine, filepath.Base(path), info.Size()), nil
}

func (m *mockHandle) Close() error { return nil }
