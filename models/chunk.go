package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TextChunk represents one bounded, deduplicated segment of manual text.
// ChunkIndex is assigned only after global fingerprint deduplication and is
// monotonically increasing within a document.
type TextChunk struct {
	ChunkID     string             `bson:"chunk_id" json:"chunk_id"`
	DocumentID  primitive.ObjectID `bson:"document_id,omitempty" json:"document_id"`
	Text        string             `bson:"text" json:"text"`
	ChunkIndex  int                `bson:"chunk_index" json:"chunk_index"`
	PageStart   int                `bson:"page_start" json:"page_start"`
	PageEnd     int                `bson:"page_end" json:"page_end"`
	ChunkType   string             `bson:"chunk_type" json:"chunk_type"`
	Fingerprint string             `bson:"fingerprint" json:"fingerprint"`
	CharCount   int                `bson:"char_count,omitempty" json:"char_count,omitempty"`
	WordCount   int                `bson:"word_count,omitempty" json:"word_count,omitempty"`
	Metadata    ChunkMetadata      `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Vector      []float32          `bson:"vector,omitempty" json:"-"`
}

// ChunkMetadata carries structure recovered from the page rather than
// discarded: stripped header lines and any product-model tokens they held.
type ChunkMetadata struct {
	HeaderLines  []string `bson:"header_lines,omitempty" json:"header_lines,omitempty"`
	HeaderModels []string `bson:"header_models,omitempty" json:"header_models,omitempty"`
}

// Chunk type constants, in classification precedence order.
const (
	ChunkTypeErrorCode       = "error_code_section"
	ChunkTypeTroubleshooting = "troubleshooting"
	ChunkTypeProcedure       = "procedure"
	ChunkTypeSpecification   = "specification"
	ChunkTypeGeneral         = "general"
)

// PageImage describes one image artifact extracted from a manual page.
type PageImage struct {
	Page        int    `bson:"page" json:"page"`
	Path        string `bson:"path" json:"path"`
	ContentType string `bson:"content_type" json:"content_type"`
	Size        int64  `bson:"size" json:"size"`
	Hash        string `bson:"hash" json:"hash"`
}
