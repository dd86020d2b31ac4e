package store

import (
	"context"
	"database/sql"
)

// OpenBatch records the start of a pipeline run.
func (s *Store) OpenBatch(ctx context.Context, id string, total int, settings, engine string) error {
	if id == "" {
		return invalid("batch id must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches(batch_id, started_at, total_count, settings, engine) VALUES(?, ?, ?, ?, ?)`,
		id, formatTime(s.now()), total, nullString(settings), nullString(engine))
	return wrap("open batch", err)
}

// CloseBatch records the outcome counts of a finished run. A batch that is
// never closed stays visible with an empty completion time.
func (s *Store) CloseBatch(ctx context.Context, id string, success, failed, skipped int, avgTime float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET completed_at = ?, success_count = ?, failed_count = ?, skipped_count = ?, avg_processing_seconds = ?
		 WHERE batch_id = ? AND completed_at IS NULL`,
		formatTime(s.now()), success, failed, skipped, avgTime, id)
	if err != nil {
		return wrap("close batch", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("close batch", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBatch returns one batch or ErrNotFound.
func (s *Store) GetBatch(ctx context.Context, id string) (Batch, error) {
	batches, err := s.queryBatches(ctx, `WHERE batch_id = ?`, id)
	if err != nil {
		return Batch{}, err
	}
	if len(batches) == 0 {
		return Batch{}, ErrNotFound
	}
	return batches[0], nil
}

// ListBatches returns up to limit batches, newest first. A non-positive
// limit returns all of them.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryBatches(ctx, `ORDER BY started_at DESC, batch_id LIMIT ?`, limit)
}

func (s *Store) queryBatches(ctx context.Context, clause string, args ...any) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, started_at, completed_at, total_count, success_count, failed_count, skipped_count,
		        settings, engine, avg_processing_seconds
		 FROM batches `+clause, args...)
	if err != nil {
		return nil, wrap("list batches", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		var (
			b                         Batch
			started                   string
			completed, settings, name sql.NullString
			avg                       sql.NullFloat64
		)
		if err := rows.Scan(&b.ID, &started, &completed, &b.Total, &b.Success, &b.Failed, &b.Skipped,
			&settings, &name, &avg); err != nil {
			return nil, wrap("list batches", err)
		}
		b.StartedAt = parseTime(started)
		b.CompletedAt = timePtr(completed)
		b.Settings = settings.String
		b.Engine = name.String
		b.AvgProcessingTime = floatPtr(avg)
		out = append(out, b)
	}
	return out, wrap("list batches", rows.Err())
}
