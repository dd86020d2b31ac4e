package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const transcriptionColumns = `identifier, title, folder, file_path, output_path, transcription, status,
error_message, duration_seconds, recording_date, processed_at, file_hash, engine,
processing_seconds, is_reference`

func validateTranscription(rec Transcription) error {
	if strings.TrimSpace(rec.ID) == "" {
		return invalid("identifier must not be empty")
	}
	if !rec.Status.Valid() {
		return invalid("unknown status %q", rec.Status)
	}
	if rec.Status == StatusSuccess && strings.TrimSpace(rec.Text) == "" {
		return invalid("success record %s has no transcription text", rec.ID)
	}
	if rec.Status == StatusFailed && rec.ErrorMessage == "" {
		return invalid("failed record %s has no error message", rec.ID)
	}
	return nil
}

// Upsert writes rec, replacing any existing row with the same identifier.
// Export history that references the row is preserved.
func (s *Store) Upsert(ctx context.Context, rec Transcription) error {
	if err := validateTranscription(rec); err != nil {
		return err
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(`+transcriptionColumns+`)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identifier) DO UPDATE SET
		   title=excluded.title, folder=excluded.folder, file_path=excluded.file_path,
		   output_path=excluded.output_path, transcription=excluded.transcription,
		   status=excluded.status, error_message=excluded.error_message,
		   duration_seconds=excluded.duration_seconds, recording_date=excluded.recording_date,
		   processed_at=excluded.processed_at, file_hash=excluded.file_hash,
		   engine=excluded.engine, processing_seconds=excluded.processing_seconds,
		   is_reference=excluded.is_reference`,
		rec.ID, rec.Title, rec.Folder, rec.Path, rec.OutputPath, rec.Text, string(rec.Status),
		nullString(rec.ErrorMessage), nullFloat(rec.Duration), nullTime(rec.RecordedAt),
		formatTime(rec.ProcessedAt), nullString(rec.FileHash), nullString(rec.Engine),
		nullFloat(rec.ProcessingTime), rec.IsReference)
	return wrap("upsert transcription", err)
}

// Get returns the record for id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Transcription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE identifier = ?`, id)
	rec, err := scanTranscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transcription{}, ErrNotFound
	}
	if err != nil {
		return Transcription{}, wrap("get transcription", err)
	}
	return rec, nil
}

// ListByStatus returns records with the given status, or all records when
// status is empty, most recently processed first.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Transcription, error) {
	query := `SELECT ` + transcriptionColumns + ` FROM transcriptions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY processed_at DESC, identifier`
	return s.queryTranscriptions(ctx, "list transcriptions", query, args...)
}

// ListUnexported returns successful records without any successful export,
// oldest first.
func (s *Store) ListUnexported(ctx context.Context) ([]Transcription, error) {
	return s.queryTranscriptions(ctx, "list unexported",
		`SELECT `+prefixed("t", transcriptionColumns)+` FROM transcriptions t
		 LEFT JOIN (SELECT DISTINCT identifier FROM exports WHERE export_status = 'success') e
		   ON t.identifier = e.identifier
		 WHERE t.status = 'success' AND e.identifier IS NULL
		 ORDER BY t.processed_at, t.identifier`)
}

// MarkReference flags id as ground truth for comparisons.
func (s *Store) MarkReference(ctx context.Context, id string) error {
	return s.setReference(ctx, id, true)
}

// UnmarkReference clears the ground-truth flag.
func (s *Store) UnmarkReference(ctx context.Context, id string) error {
	return s.setReference(ctx, id, false)
}

func (s *Store) setReference(ctx context.Context, id string, flag bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transcriptions SET is_reference = ? WHERE identifier = ?`, flag, id)
	if err != nil {
		return wrap("set reference", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("set reference", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReferences returns every record flagged as reference, ordered by title.
func (s *Store) ListReferences(ctx context.Context) ([]Transcription, error) {
	return s.queryTranscriptions(ctx, "list references",
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE is_reference = 1 ORDER BY title, identifier`)
}

// ImportReference stores a hand-made ground-truth text as a successful
// record flagged as reference.
func (s *Store) ImportReference(ctx context.Context, rec Transcription) error {
	rec.Status = StatusSuccess
	rec.IsReference = true
	if rec.Engine == "" {
		rec.Engine = "reference"
	}
	if rec.Folder == "" {
		rec.Folder = "References"
	}
	return s.Upsert(ctx, rec)
}

// Stats aggregates transcriptions by status and exports by export status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Transcriptions: make(map[Status]StatusStats),
		Exports:        make(map[ExportStatus]int),
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*), AVG(processing_seconds), SUM(duration_seconds)
		 FROM transcriptions GROUP BY status`)
	if err != nil {
		return stats, wrap("transcription stats", err)
	}
	for rows.Next() {
		var status string
		var count int
		var avg, total sql.NullFloat64
		if err := rows.Scan(&status, &count, &avg, &total); err != nil {
			rows.Close()
			return stats, wrap("transcription stats", err)
		}
		stats.Transcriptions[Status(status)] = StatusStats{
			Count:             count,
			AvgProcessingTime: avg.Float64,
			TotalDuration:     total.Float64,
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, wrap("transcription stats", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT export_status, COUNT(*) FROM exports GROUP BY export_status`)
	if err != nil {
		return stats, wrap("export stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, wrap("export stats", err)
		}
		stats.Exports[ExportStatus(status)] = count
	}
	return stats, wrap("export stats", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscription(row scanner) (Transcription, error) {
	var (
		rec                        Transcription
		status, processed          string
		errMsg, recorded, hash, en sql.NullString
		duration, elapsed          sql.NullFloat64
	)
	err := row.Scan(&rec.ID, &rec.Title, &rec.Folder, &rec.Path, &rec.OutputPath, &rec.Text, &status,
		&errMsg, &duration, &recorded, &processed, &hash, &en, &elapsed, &rec.IsReference)
	if err != nil {
		return rec, err
	}
	rec.Status = Status(status)
	rec.ErrorMessage = errMsg.String
	rec.Duration = floatPtr(duration)
	rec.RecordedAt = timePtr(recorded)
	rec.ProcessedAt = parseTime(processed)
	rec.FileHash = hash.String
	rec.Engine = en.String
	rec.ProcessingTime = floatPtr(elapsed)
	return rec, nil
}

func (s *Store) queryTranscriptions(ctx context.Context, op, query string, args ...any) ([]Transcription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []Transcription
	for rows.Next() {
		rec, err := scanTranscription(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, rec)
	}
	return out, wrap(op, rows.Err())
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
