package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Pipeline stage names, in dependency order.
const (
	StageUpload       = "upload"
	StageExtraction   = "text_extraction"
	StageResearch     = "research"
	StageChunking     = "chunking"
	StageMediaStorage = "media_storage"
	StageEmbedding    = "embedding"
	StagePersistence  = "persistence"
)

// StageOrder is the fixed dependency order the tracker gates on.
var StageOrder = []string{
	StageUpload,
	StageExtraction,
	StageResearch,
	StageChunking,
	StageMediaStorage,
	StageEmbedding,
	StagePersistence,
}

// Stage record states. Completed, failed and skipped are terminal: a record
// never leaves them without an explicit start creating a fresh record.
const (
	StagePending    = "pending"
	StageProcessing = "processing"
	StageCompleted  = "completed"
	StageFailed     = "failed"
	StageSkipped    = "skipped"
)

// StageRecord tracks the lifecycle of one stage for one document.
// There is exactly one record per (document, stage) pair.
type StageRecord struct {
	DocumentID   primitive.ObjectID `bson:"document_id" json:"document_id"`
	Stage        string             `bson:"stage" json:"stage"`
	Status       string             `bson:"status" json:"status"`
	Progress     float64            `bson:"progress" json:"progress"` // 0..1
	Metadata     map[string]any     `bson:"metadata,omitempty" json:"metadata,omitempty"`
	StartedAt    *time.Time         `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt  *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	ErrorMessage string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
}

// IsTerminal reports whether the record has reached a terminal state.
func (r *StageRecord) IsTerminal() bool {
	switch r.Status {
	case StageCompleted, StageFailed, StageSkipped:
		return true
	}
	return false
}

// AllStagesComplete is the sentinel CurrentStage returns when every tracked
// stage has reached a terminal state.
const AllStagesComplete = "complete"
