package store

import (
	"context"
	"database/sql"
)

// RecordAttempt appends to the attempt history. The current-state row in
// transcriptions must already exist.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) (int64, error) {
	if a.TranscriptionID == "" {
		return 0, invalid("attempt identifier must not be empty")
	}
	if !a.Status.Valid() {
		return 0, invalid("unknown status %q", a.Status)
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcription_attempts(identifier, batch_id, engine, status, error_message, processing_seconds, file_hash, attempted_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TranscriptionID, nullString(a.BatchID), nullString(a.Engine), string(a.Status),
		nullString(a.ErrorMessage), nullFloat(a.ProcessingTime), nullString(a.FileHash), formatTime(a.AttemptedAt))
	if err != nil {
		return 0, wrap("record attempt", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("record attempt", err)
}

// ListAttempts returns the attempt history for one identifier, oldest first.
func (s *Store) ListAttempts(ctx context.Context, id string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identifier, batch_id, engine, status, error_message, processing_seconds, file_hash, attempted_at
		 FROM transcription_attempts WHERE identifier = ? ORDER BY attempted_at, id`, id)
	if err != nil {
		return nil, wrap("list attempts", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                             Attempt
			status, attempted             string
			batch, engine, errMsg, digest sql.NullString
			elapsed                       sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.TranscriptionID, &batch, &engine, &status, &errMsg, &elapsed, &digest, &attempted); err != nil {
			return nil, wrap("list attempts", err)
		}
		a.BatchID = batch.String
		a.Engine = engine.String
		a.Status = Status(status)
		a.ErrorMessage = errMsg.String
		a.ProcessingTime = floatPtr(elapsed)
		a.FileHash = digest.String
		a.AttemptedAt = parseTime(attempted)
		out = append(out, a)
	}
	return out, wrap("list attempts", rows.Err())
}
