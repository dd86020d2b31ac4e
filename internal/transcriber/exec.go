package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

type execHandle struct {
	cmd      []string
	engine   string
	language string
}

type execResult struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// NewExecHandle runs command once per file, appending --audio, --model and
// optionally --language. The command must print {"text": "..."} on stdout.
func NewExecHandle(command, engine, language string) (Handle, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("stt command is empty")
	}
	return &execHandle{cmd: args, engine: engine, language: language}, nil
}

func (h *execHandle) Transcribe(ctx context.Context, path string) (string, error) {
	cmdArgs := append([]string{}, h.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", path, "--model", h.engine)
	if h.language != "" {
		cmdArgs = append(cmdArgs, "--language", h.language)
	}

	command := exec.CommandContext(ctx, h.cmd[0], cmdArgs...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (h *execHandle) Close() error { return nil }
