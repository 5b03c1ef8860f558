package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StageOutcome summarizes one stage run inside a PipelineResult.
type StageOutcome struct {
	Status   string        `bson:"status" json:"status"`
	Attempts int           `bson:"attempts" json:"attempts"`
	Duration time.Duration `bson:"duration" json:"duration"`
	Error    string        `bson:"error,omitempty" json:"error,omitempty"`
}

// PipelineResult is the single record persisted when a pipeline run ends,
// successful or not. Statistics are always populated so callers can tell a
// hard failure from a degraded-but-usable run.
type PipelineResult struct {
	ID         primitive.ObjectID      `bson:"_id,omitempty" json:"id"`
	DocumentID primitive.ObjectID      `bson:"document_id" json:"document_id"`
	Success    bool                    `bson:"success" json:"success"`
	Duplicate  bool                    `bson:"duplicate,omitempty" json:"duplicate,omitempty"`
	Error      string                  `bson:"error,omitempty" json:"error,omitempty"`
	ChunkCount int                     `bson:"chunk_count" json:"chunk_count"`
	Entities   map[string]int          `bson:"entities" json:"entities"` // kind -> retained count
	Rejected   map[string]int          `bson:"rejected,omitempty" json:"rejected,omitempty"`
	Embedded   int                     `bson:"embedded" json:"embedded"`
	Stages     map[string]StageOutcome `bson:"stages" json:"stages"`
	Duration   time.Duration           `bson:"duration" json:"duration"`
	StartedAt  time.Time               `bson:"started_at" json:"started_at"`
	FinishedAt time.Time               `bson:"finished_at" json:"finished_at"`
}

// BatchResult aggregates sequential pipeline runs over a list of files.
// One document failing never aborts the batch.
type BatchResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []*PipelineResult `json:"results"`
}
