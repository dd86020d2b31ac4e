package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/memo-transcriber/internal/config"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that lexical order of stored timestamps matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database holding transcriptions, exports, batches,
// comparisons and attempts. It assumes a single writer.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open creates or opens the database at cfg.Path and ensures the schema exists.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrap("create data dir", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrap("open sqlite", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrap("ping sqlite", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, wrap("init schema", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    identifier TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    folder TEXT NOT NULL,
    file_path TEXT NOT NULL,
    output_path TEXT NOT NULL,
    transcription TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT,
    duration_seconds REAL,
    recording_date TEXT,
    processed_at TEXT NOT NULL,
    file_hash TEXT,
    engine TEXT,
    processing_seconds REAL,
    is_reference INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS exports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    identifier TEXT NOT NULL,
    output_path TEXT NOT NULL,
    export_status TEXT NOT NULL,
    file_size INTEGER,
    checksum TEXT,
    error_message TEXT,
    export_format TEXT NOT NULL DEFAULT 'txt',
    exported_at TEXT NOT NULL,
    FOREIGN KEY(identifier) REFERENCES transcriptions(identifier)
);
CREATE TABLE IF NOT EXISTS batches (
    batch_id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    total_count INTEGER NOT NULL,
    success_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    skipped_count INTEGER NOT NULL DEFAULT 0,
    settings TEXT,
    engine TEXT,
    avg_processing_seconds REAL
);
CREATE TABLE IF NOT EXISTS comparisons (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    reference_id TEXT NOT NULL,
    hypothesis_id TEXT NOT NULL,
    wer REAL NOT NULL,
    cer REAL NOT NULL,
    substitutions INTEGER NOT NULL,
    deletions INTEGER NOT NULL,
    insertions INTEGER NOT NULL,
    total_edits INTEGER NOT NULL,
    reference_words INTEGER NOT NULL,
    hypothesis_words INTEGER NOT NULL,
    word_diff INTEGER NOT NULL,
    word_diff_pct REAL NOT NULL,
    jaccard REAL NOT NULL,
    cosine REAL NOT NULL,
    compared_at TEXT NOT NULL,
    notes TEXT,
    FOREIGN KEY(reference_id) REFERENCES transcriptions(identifier),
    FOREIGN KEY(hypothesis_id) REFERENCES transcriptions(identifier)
);
CREATE TABLE IF NOT EXISTS transcription_attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    identifier TEXT NOT NULL,
    batch_id TEXT,
    engine TEXT,
    status TEXT NOT NULL,
    error_message TEXT,
    processing_seconds REAL,
    file_hash TEXT,
    attempted_at TEXT NOT NULL,
    FOREIGN KEY(identifier) REFERENCES transcriptions(identifier)
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_status ON transcriptions(status);
CREATE INDEX IF NOT EXISTS idx_transcriptions_reference ON transcriptions(is_reference);
CREATE INDEX IF NOT EXISTS idx_exports_identifier ON exports(identifier, export_status);
CREATE INDEX IF NOT EXISTS idx_comparisons_reference ON comparisons(reference_id);
CREATE INDEX IF NOT EXISTS idx_attempts_identifier ON transcription_attempts(identifier, attempted_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	ts, err := time.Parse(timeLayout, v)
	if err != nil {
		ts, _ = time.Parse(time.RFC3339Nano, v)
	}
	return ts
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatTime(*v)
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	ts := parseTime(v.String)
	return &ts
}
