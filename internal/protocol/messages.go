package protocol

import (
	"context"
	"time"
)

// TranscriptionEvent is published once per item the pipeline settles.
type TranscriptionEvent struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Folder            string    `json:"folder"`
	Status            string    `json:"status"`
	Engine            string    `json:"engine,omitempty"`
	Cached            bool      `json:"cached"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	ProcessingSeconds float64   `json:"processing_seconds,omitempty"`
	BatchID           string    `json:"batch_id"`
	Timestamp         time.Time `json:"timestamp"`
}

// BatchEvent announces the opening or closing of a pipeline run.
type BatchEvent struct {
	BatchID              string    `json:"batch_id"`
	Engine               string    `json:"engine"`
	Total                int       `json:"total"`
	Success              int       `json:"success"`
	Failed               int       `json:"failed"`
	Skipped              int       `json:"skipped"`
	AvgProcessingSeconds float64   `json:"avg_processing_seconds"`
	Timestamp            time.Time `json:"timestamp"`
}

// ExportEvent reports the outcome of one export decision.
type ExportEvent struct {
	ID         string    `json:"id"`
	OutputPath string    `json:"output_path"`
	Format     string    `json:"format"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptionPrefix = "memo.transcription"
	SubjectBatchOpened         = "memo.batch.opened"
	SubjectBatchClosed         = "memo.batch.closed"
	SubjectExportPrefix        = "memo.export"
)

func TranscriptionSubject(status string) string {
	return SubjectTranscriptionPrefix + "." + status
}

func ExportSubject(status string) string {
	return SubjectExportPrefix + "." + status
}

// Publisher delivers an event payload on subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }
