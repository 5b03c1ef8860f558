package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document represents one ingested service manual and its processing lifecycle.
type Document struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Filename     string             `bson:"filename" json:"filename"`
	OriginalName string             `bson:"original_name" json:"original_name"`
	FilePath     string             `bson:"file_path" json:"file_path"`
	ContentHash  string             `bson:"content_hash" json:"content_hash"` // For deduplication
	DocumentType string             `bson:"document_type" json:"document_type"`
	Title        string             `bson:"title,omitempty" json:"title,omitempty"`
	PageCount    int                `bson:"page_count,omitempty" json:"page_count,omitempty"`

	// Product identity, filled progressively by research and extraction.
	Manufacturer string `bson:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	Model        string `bson:"model,omitempty" json:"model,omitempty"`
	Series       string `bson:"series,omitempty" json:"series,omitempty"`

	Status       string              `bson:"status" json:"status"` // pending, in_progress, completed, failed
	ErrorMessage string              `bson:"error_message,omitempty" json:"error_message,omitempty"`
	Supersedes   *primitive.ObjectID `bson:"supersedes,omitempty" json:"supersedes,omitempty"`
	UploadedAt   time.Time           `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt  *time.Time          `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	Metadata     DocumentMetadata    `bson:"metadata" json:"metadata"`
}

// DocumentMetadata contains processing metadata
type DocumentMetadata struct {
	Size             int64         `bson:"size" json:"size"`
	ProcessingTime   time.Duration `bson:"processing_time" json:"processing_time"`
	ExtractionMethod string        `bson:"extraction_method" json:"extraction_method"`
	QualityScore     float64       `bson:"quality_score" json:"quality_score"`
	ChunkCount       int           `bson:"chunk_count" json:"chunk_count"`
	ErrorCodeCount   int           `bson:"error_code_count" json:"error_code_count"`
	ProductCount     int           `bson:"product_count" json:"product_count"`
	VersionCount     int           `bson:"version_count" json:"version_count"`
	ImageCount       int           `bson:"image_count" json:"image_count"`
	WordCount        int           `bson:"word_count" json:"word_count"`
	CharacterCount   int           `bson:"character_count" json:"character_count"`
}

// Document processing status constants
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ManufacturerAuto is the sentinel meaning "detect the manufacturer from
// the document itself" instead of trusting a caller-supplied hint.
const ManufacturerAuto = "auto"

// Extraction method constants
const (
	ExtractionMethodGemini  = "gemini"
	ExtractionMethodPoppler = "poppler"
	ExtractionMethodGoPDF   = "go-pdf"
)
