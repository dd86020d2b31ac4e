package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

type httpHandle struct {
	endpoint string
	engine   string
	language string
	client   *http.Client
}

type httpResult struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// NewHTTPHandle posts audio to a whisper sidecar at endpoint/transcribe.
func NewHTTPHandle(endpoint, engine, language string, client *http.Client) Handle {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpHandle{
		endpoint: strings.TrimRight(endpoint, "/"),
		engine:   engine,
		language: language,
		client:   client,
	}
}

func (h *httpHandle) Transcribe(ctx context.Context, path string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read audio file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	_ = writer.WriteField("model", h.engine)
	if h.language != "" {
		_ = writer.WriteField("language", h.language)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/transcribe", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper sidecar returned status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out httpResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("whisper sidecar: %s", out.Error)
	}
	return strings.TrimSpace(out.Text), nil
}

func (h *httpHandle) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
