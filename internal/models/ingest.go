package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// IngestJob tracks one document ingestion from queue to terminal state.
// Exactly one row exists per ingest id; re-submission upserts the row.
type IngestJob struct {
	gorm.Model
	IngestID         string `gorm:"unique_index"`
	SourceFilename   string
	SourceType       string
	RestaurantTag    string
	Status           string `gorm:"index"`
	ProgressCurrent  int
	ProgressTotal    int
	PromotedCount    int
	NeedsReviewCount int
	Error            string
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// TableName sets the table name for IngestJob
func (IngestJob) TableName() string {
	return "ingest_jobs"
}

// IngestStatus represents the ingest job state machine values
type IngestStatus string

const (
	IngestStatusQueued            IngestStatus = "queued"
	IngestStatusExtracting        IngestStatus = "extracting"
	IngestStatusChunking          IngestStatus = "chunking"
	IngestStatusIndexing          IngestStatus = "indexing"
	IngestStatusExtractingRecipes IngestStatus = "extracting_recipes"
	IngestStatusEnriching         IngestStatus = "enriching"
	IngestStatusPromoting         IngestStatus = "promoting"
	IngestStatusDone              IngestStatus = "done"
	IngestStatusNeedsReview       IngestStatus = "needs_review"
	IngestStatusFailed            IngestStatus = "failed"
)

// ActiveIngestStatuses are the non-terminal state machine values.
var ActiveIngestStatuses = []string{
	string(IngestStatusQueued),
	string(IngestStatusExtracting),
	string(IngestStatusChunking),
	string(IngestStatusIndexing),
	string(IngestStatusExtractingRecipes),
	string(IngestStatusEnriching),
	string(IngestStatusPromoting),
}

// IsTerminal reports whether a status never changes again.
func (s IngestStatus) IsTerminal() bool {
	switch s {
	case IngestStatusDone, IngestStatusNeedsReview, IngestStatusFailed:
		return true
	}
	return false
}

// SourceType represents the declared document source type
type SourceType string

const (
	SourceTypeRestaurantRecipes SourceType = "restaurant_recipes"
	SourceTypeGeneralKnowledge  SourceType = "general_knowledge"
	SourceTypeUnknown           SourceType = "unknown"
)

// DocSource is the catalog row for an indexed knowledge source.
type DocSource struct {
	gorm.Model
	IngestID           string `gorm:"unique_index"`
	SourceName         string `gorm:"index"`
	Title              string
	SourceType         string
	KnowledgeTier      string
	RestaurantTag      string
	Summary            string
	Status             string
	FileSHA256         string
	FileSize           int64
	ExtractedTextChars int
	ChunkCount         int
}

// TableName sets the table name for DocSource
func (DocSource) TableName() string {
	return "doc_sources"
}

// DocChunk is one ordered text chunk of an indexed source.
type DocChunk struct {
	gorm.Model
	SourceName string `gorm:"index"`
	ChunkID    int
	Heading    string
	Text       string `gorm:"type:text"`
}

// TableName sets the table name for DocChunk
func (DocChunk) TableName() string {
	return "doc_chunks"
}
