package store

import (
	"context"
	"database/sql"
	"strings"
)

// RecordExport appends an export attempt and returns its generated id.
func (s *Store) RecordExport(ctx context.Context, exp Export) (int64, error) {
	if strings.TrimSpace(exp.TranscriptionID) == "" {
		return 0, invalid("export identifier must not be empty")
	}
	switch exp.Status {
	case ExportSuccess, ExportFailed:
	default:
		return 0, invalid("unknown export status %q", exp.Status)
	}
	if exp.Format == "" {
		exp.Format = "txt"
	}
	if exp.ExportedAt.IsZero() {
		exp.ExportedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exports(identifier, output_path, export_status, file_size, checksum, error_message, export_format, exported_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.TranscriptionID, exp.OutputPath, string(exp.Status), nullInt(exp.FileSize),
		nullString(exp.Checksum), nullString(exp.ErrorMessage), exp.Format, formatTime(exp.ExportedAt))
	if err != nil {
		return 0, wrap("record export", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("record export", err)
}

// ListExports returns the export history for one identifier, newest first.
func (s *Store) ListExports(ctx context.Context, id string) ([]Export, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identifier, output_path, export_status, file_size, checksum, error_message, export_format, exported_at
		 FROM exports WHERE identifier = ? ORDER BY exported_at DESC, id DESC`, id)
	if err != nil {
		return nil, wrap("list exports", err)
	}
	defer rows.Close()

	var out []Export
	for rows.Next() {
		var (
			exp              Export
			status, exported string
			size             sql.NullInt64
			sum, errMsg      sql.NullString
		)
		if err := rows.Scan(&exp.ID, &exp.TranscriptionID, &exp.OutputPath, &status, &size, &sum, &errMsg, &exp.Format, &exported); err != nil {
			return nil, wrap("list exports", err)
		}
		exp.Status = ExportStatus(status)
		if size.Valid {
			v := size.Int64
			exp.FileSize = &v
		}
		exp.Checksum = sum.String
		exp.ErrorMessage = errMsg.String
		exp.ExportedAt = parseTime(exported)
		out = append(out, exp)
	}
	return out, wrap("list exports", rows.Err())
}
