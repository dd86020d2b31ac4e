package source

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// appleEpochOffset converts Core Data timestamps (seconds since 2001-01-01)
// to Unix seconds.
const appleEpochOffset = 978307200

// VoiceMemos reads Apple's CloudRecordings.db without modifying it.
type VoiceMemos struct {
	DBPath        string
	RecordingsDir string
}

func (v VoiceMemos) Items(ctx context.Context) ([]Item, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", v.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open voice memos db: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
SELECT r.ZUNIQUEID, r.ZENCRYPTEDTITLE, r.ZCUSTOMLABEL, f.ZENCRYPTEDNAME, r.ZPATH, CAST(r.ZDURATION AS REAL), CAST(r.ZDATE AS REAL)
FROM ZCLOUDRECORDING r
LEFT JOIN ZFOLDER f ON r.ZFOLDER = f.Z_PK
WHERE r.ZPATH IS NOT NULL
ORDER BY r.ZDATE DESC`)
	if err != nil {
		return nil, fmt.Errorf("query voice memos: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			id, title, label, folder sql.NullString
			path                     string
			duration, date           sql.NullFloat64
		)
		if err := rows.Scan(&id, &title, &label, &folder, &path, &duration, &date); err != nil {
			return nil, fmt.Errorf("scan voice memo: %w", err)
		}
		it := Item{
			ID:       id.String,
			Title:    firstNonEmpty(title.String, label.String, "Untitled"),
			Folder:   firstNonEmpty(folder.String, "Unfiled"),
			Path:     path,
			Duration: duration.Float64,
			root:     v.RecordingsDir,
		}
		if it.ID == "" {
			it.ID = path
		}
		if date.Valid {
			sec, frac := math.Modf(date.Float64 + appleEpochOffset)
			it.RecordedAt = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
