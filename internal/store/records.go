package store

import "time"

// Status is the terminal state of one transcription attempt.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// ExportStatus is the outcome of writing one export artifact.
type ExportStatus string

const (
	ExportSuccess ExportStatus = "success"
	ExportFailed  ExportStatus = "failed"
)

// Transcription is the current state for one source item. A later Upsert
// for the same ID replaces every column.
type Transcription struct {
	ID             string
	Title          string
	Folder         string
	Path           string
	OutputPath     string
	Text           string
	Status         Status
	ErrorMessage   string
	Duration       *float64
	RecordedAt     *time.Time
	ProcessedAt    time.Time
	FileHash       string
	Engine         string
	ProcessingTime *float64
	IsReference    bool
}

// Export is one row of the export attempt log.
type Export struct {
	ID              int64
	TranscriptionID string
	OutputPath      string
	Status          ExportStatus
	FileSize        *int64
	Checksum        string
	ErrorMessage    string
	Format          string
	ExportedAt      time.Time
}

// Batch describes one pipeline run.
type Batch struct {
	ID                string
	StartedAt         time.Time
	CompletedAt       *time.Time
	Total             int
	Success           int
	Failed            int
	Skipped           int
	Settings          string
	Engine            string
	AvgProcessingTime *float64
}

// Comparison holds accuracy metrics for one (reference, hypothesis) pair.
type Comparison struct {
	ID              int64
	ReferenceID     string
	HypothesisID    string
	WER             float64
	CER             float64
	Substitutions   int
	Deletions       int
	Insertions      int
	TotalEdits      int
	ReferenceWords  int
	HypothesisWords int
	WordDiff        int
	WordDiffPct     float64
	Jaccard         float64
	Cosine          float64
	ComparedAt      time.Time
	Notes           string
}

// EngineSummary aggregates comparisons against one reference per hypothesis engine.
type EngineSummary struct {
	Engine     string
	Count      int
	AvgWER     float64
	MinWER     float64
	MaxWER     float64
	AvgCER     float64
	AvgJaccard float64
	AvgCosine  float64
}

// Attempt is one append-only history row written for every processed outcome.
type Attempt struct {
	ID              int64
	TranscriptionID string
	BatchID         string
	Engine          string
	Status          Status
	ErrorMessage    string
	ProcessingTime  *float64
	FileHash        string
	AttemptedAt     time.Time
}

// StatusStats aggregates transcriptions sharing one status.
type StatusStats struct {
	Count             int
	AvgProcessingTime float64
	TotalDuration     float64
}

// Stats summarises the store contents.
type Stats struct {
	Transcriptions map[Status]StatusStats
	Exports        map[ExportStatus]int
}
