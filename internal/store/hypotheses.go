package store

import (
	"context"
	"strings"
)

// hypothesisSep joins a recording identifier and an engine name.
const hypothesisSep = ":"

// HypothesisID names the record that holds engine's transcription of the
// recording id during a multi-engine comparison run.
func HypothesisID(id, engine string) string {
	return id + hypothesisSep + engine
}

// SplitHypothesisID reverses HypothesisID.
func SplitHypothesisID(id string) (recording, engine string, ok bool) {
	recording, engine, ok = strings.Cut(id, hypothesisSep)
	if !ok || recording == "" || engine == "" {
		return id, "", false
	}
	return recording, engine, true
}

// IsHypothesis reports whether id names a per-engine comparison record.
func IsHypothesis(id string) bool {
	_, _, ok := SplitHypothesisID(id)
	return ok
}

// ListHypotheses returns every per-engine record of the recording id, in
// engine order.
func (s *Store) ListHypotheses(ctx context.Context, id string) ([]Transcription, error) {
	prefix := id + hypothesisSep
	return s.queryTranscriptions(ctx, "list hypotheses",
		`SELECT `+transcriptionColumns+` FROM transcriptions
		 WHERE substr(identifier, 1, length(?)) = ? AND length(identifier) > length(?)
		 ORDER BY engine, identifier`, prefix, prefix, prefix)
}
