package models

import "time"

// ObjectDescriptor describes one object in the blob store. It is fetched per
// reconciliation run and never persisted.
type ObjectDescriptor struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// ObjectReference is a canonical object key found inside a document.
type ObjectReference struct {
	Collection string `json:"collection"`
	DocumentID string `json:"documentId"`
	Field      string `json:"field"`
	Key        string `json:"key"`
}

// ReconciliationSummary aggregates one reconciliation run.
type ReconciliationSummary struct {
	RunID          string `json:"runId"`
	TotalFiles     int    `json:"totalFiles"`
	ReferencedKeys int    `json:"referencedKeys"`
	OrphanedCount  int    `json:"orphanedCount"`
	OrphanedBytes  int64  `json:"orphanedBytes"`
	MissingCount   int    `json:"missingCount"`
	DeletedCount   int    `json:"deletedCount"`
	SkippedCount   int    `json:"skippedCount"`
	FailedDeletes  int    `json:"failedDeletes"`
	DryRun         bool   `json:"dryRun"`
	DurationMS     int64  `json:"durationMs"`
}

// ReconciliationReport is the point-in-time result of comparing the blob
// store against the documents referencing it.
type ReconciliationReport struct {
	Summary           ReconciliationSummary `json:"summary"`
	OrphanedFiles     []string              `json:"orphanedFiles"`
	MissingReferences []ObjectReference     `json:"missingReferences"`
}
