package store

import (
	"context"
	"database/sql"
)

// SaveComparison persists computed metrics and returns the generated id.
func (s *Store) SaveComparison(ctx context.Context, c Comparison) (int64, error) {
	if c.ReferenceID == "" || c.HypothesisID == "" {
		return 0, invalid("comparison needs both reference and hypothesis identifiers")
	}
	if c.ComparedAt.IsZero() {
		c.ComparedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO comparisons(reference_id, hypothesis_id, wer, cer, substitutions, deletions, insertions,
		   total_edits, reference_words, hypothesis_words, word_diff, word_diff_pct, jaccard, cosine, compared_at, notes)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ReferenceID, c.HypothesisID, c.WER, c.CER, c.Substitutions, c.Deletions, c.Insertions,
		c.TotalEdits, c.ReferenceWords, c.HypothesisWords, c.WordDiff, c.WordDiffPct, c.Jaccard, c.Cosine,
		formatTime(c.ComparedAt), nullString(c.Notes))
	if err != nil {
		return 0, wrap("save comparison", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("save comparison", err)
}

// ListComparisons returns all comparisons against referenceID, newest first.
func (s *Store) ListComparisons(ctx context.Context, referenceID string) ([]Comparison, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reference_id, hypothesis_id, wer, cer, substitutions, deletions, insertions, total_edits,
		        reference_words, hypothesis_words, word_diff, word_diff_pct, jaccard, cosine, compared_at, notes
		 FROM comparisons WHERE reference_id = ? ORDER BY compared_at DESC, id DESC`, referenceID)
	if err != nil {
		return nil, wrap("list comparisons", err)
	}
	defer rows.Close()

	var out []Comparison
	for rows.Next() {
		var (
			c        Comparison
			compared string
			notes    sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ReferenceID, &c.HypothesisID, &c.WER, &c.CER, &c.Substitutions,
			&c.Deletions, &c.Insertions, &c.TotalEdits, &c.ReferenceWords, &c.HypothesisWords, &c.WordDiff,
			&c.WordDiffPct, &c.Jaccard, &c.Cosine, &compared, &notes); err != nil {
			return nil, wrap("list comparisons", err)
		}
		c.ComparedAt = parseTime(compared)
		c.Notes = notes.String
		out = append(out, c)
	}
	return out, wrap("list comparisons", rows.Err())
}

// SummarizeByEngine groups comparisons against referenceID by the engine that
// produced each hypothesis, best average WER first.
func (s *Store) SummarizeByEngine(ctx context.Context, referenceID string) ([]EngineSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(t.engine, 'unknown') AS engine, COUNT(*), AVG(c.wer) AS avg_wer, MIN(c.wer), MAX(c.wer),
		        AVG(c.cer), AVG(c.jaccard), AVG(c.cosine)
		 FROM comparisons c
		 JOIN transcriptions t ON c.hypothesis_id = t.identifier
		 WHERE c.reference_id = ?
		 GROUP BY COALESCE(t.engine, 'unknown')
		 ORDER BY avg_wer, engine`, referenceID)
	if err != nil {
		return nil, wrap("summarize comparisons", err)
	}
	defer rows.Close()

	var out []EngineSummary
	for rows.Next() {
		var e EngineSummary
		if err := rows.Scan(&e.Engine, &e.Count, &e.AvgWER, &e.MinWER, &e.MaxWER, &e.AvgCER, &e.AvgJaccard, &e.AvgCosine); err != nil {
			return nil, wrap("summarize comparisons", err)
		}
		out = append(out, e)
	}
	return out, wrap("summarize comparisons", rows.Err())
}
