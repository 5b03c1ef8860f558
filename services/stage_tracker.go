package services

import (
	"context"
	"log/slog"
	"time"

	"manual-knowledge-pipeline/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StageTracker maintains the per-document stage state machine in Mongo.
// It is an observability and resume aid, not the pipeline's control flow:
// writes are best-effort and gating queries fail open.
type StageTracker struct {
	collection *mongo.Collection
	log        *slog.Logger
}

func NewStageTracker(collection *mongo.Collection, log *slog.Logger) *StageTracker {
	return &StageTracker{collection: collection, log: log}
}

// Start creates a fresh processing record for the stage, replacing any
// previous terminal record for the same (document, stage) pair.
func (t *StageTracker) Start(ctx context.Context, docID primitive.ObjectID, stage string) error {
	now := time.Now()
	record := models.StageRecord{
		DocumentID: docID,
		Stage:      stage,
		Status:     models.StageProcessing,
		StartedAt:  &now,
	}

	filter := bson.M{"document_id": docID, "stage": stage}
	_, err := t.collection.ReplaceOne(ctx, filter, record, options.Replace().SetUpsert(true))
	return err
}

// UpdateProgress records fractional progress for a stage that is still
// processing. Calls against a terminal record are silently ignored.
func (t *StageTracker) UpdateProgress(ctx context.Context, docID primitive.ObjectID, stage string, fraction float64, metadata map[string]any) error {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	update := bson.M{"progress": fraction}
	if metadata != nil {
		update["metadata"] = metadata
	}
	filter := bson.M{"document_id": docID, "stage": stage, "status": models.StageProcessing}
	_, err := t.collection.UpdateOne(ctx, filter, bson.M{"$set": update})
	return err
}

// Complete transitions the stage to completed and stamps completed_at.
func (t *StageTracker) Complete(ctx context.Context, docID primitive.ObjectID, stage string, metadata map[string]any) error {
	return t.finish(ctx, docID, stage, models.StageCompleted, "", metadata)
}

// Fail transitions the stage to failed with the originating message.
func (t *StageTracker) Fail(ctx context.Context, docID primitive.ObjectID, stage string, errMsg string, metadata map[string]any) error {
	return t.finish(ctx, docID, stage, models.StageFailed, errMsg, metadata)
}

func (t *StageTracker) finish(ctx context.Context, docID primitive.ObjectID, stage, status, errMsg string, metadata map[string]any) error {
	now := time.Now()
	update := bson.M{
		"status":       status,
		"progress":     1.0,
		"completed_at": now,
	}
	if status == models.StageFailed {
		update["progress"] = 0.0
		update["error_message"] = errMsg
	}
	if metadata != nil {
		update["metadata"] = metadata
	}

	filter := bson.M{"document_id": docID, "stage": stage}
	_, err := t.collection.UpdateOne(ctx, filter, bson.M{"$set": update}, options.Update().SetUpsert(true))
	return err
}

// Skip marks a stage skipped without it ever starting. An existing record in
// any other state is left untouched.
func (t *StageTracker) Skip(ctx context.Context, docID primitive.ObjectID, stage, reason string) error {
	now := time.Now()
	filter := bson.M{
		"document_id": docID,
		"stage":       stage,
		"status":      bson.M{"$in": bson.A{models.StagePending, nil}},
	}
	update := bson.M{
		"$set": bson.M{
			"status":       models.StageSkipped,
			"completed_at": now,
			"metadata":     map[string]any{"reason": reason},
		},
		"$setOnInsert": bson.M{"document_id": docID, "stage": stage},
	}

	_, err := t.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// A non-pending record already exists; skip does not apply.
		return nil
	}
	return err
}

// Records returns the document's stage records in dependency order.
func (t *StageTracker) Records(ctx context.Context, docID primitive.ObjectID) ([]models.StageRecord, error) {
	cursor, err := t.collection.Find(ctx, bson.M{"document_id": docID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []models.StageRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return SortStageRecords(records), nil
}

// CanStart reports whether the stage's prerequisites are satisfied. When the
// tracker cannot answer it fails open and lets the orchestrator's own
// sequencing decide.
func (t *StageTracker) CanStart(ctx context.Context, docID primitive.ObjectID, stage string) bool {
	records, err := t.Records(ctx, docID)
	if err != nil {
		t.log.Warn("stage tracker unavailable, allowing stage", "stage", stage, "error", err)
		return true
	}
	return CanStartStage(records, stage)
}

// CurrentStage returns the first non-terminal stage in dependency order.
func (t *StageTracker) CurrentStage(ctx context.Context, docID primitive.ObjectID) (string, error) {
	records, err := t.Records(ctx, docID)
	if err != nil {
		return "", err
	}
	return CurrentStageOf(records), nil
}

// Progress returns the document's aggregate progress across all stages.
func (t *StageTracker) Progress(ctx context.Context, docID primitive.ObjectID) (float64, error) {
	records, err := t.Records(ctx, docID)
	if err != nil {
		return 0, err
	}
	return AggregateProgress(records), nil
}

func stageIndex(stage string) int {
	for i, name := range models.StageOrder {
		if name == stage {
			return i
		}
	}
	return -1
}

// SortStageRecords orders records by the fixed stage dependency order.
// Records for unknown stages sort last.
func SortStageRecords(records []models.StageRecord) []models.StageRecord {
	sorted := make([]models.StageRecord, len(records))
	copy(sorted, records)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			a, b := stageIndex(sorted[j-1].Stage), stageIndex(sorted[j].Stage)
			if a == -1 {
				a = len(models.StageOrder)
			}
			if b == -1 {
				b = len(models.StageOrder)
			}
			if a <= b {
				break
			}
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted
}

// CanStartStage reports whether every stage before the given one has reached
// completed or skipped. Stages with no record count as unsatisfied.
func CanStartStage(records []models.StageRecord, stage string) bool {
	target := stageIndex(stage)
	if target == -1 {
		return false
	}

	byStage := make(map[string]models.StageRecord, len(records))
	for _, record := range records {
		byStage[record.Stage] = record
	}

	for _, name := range models.StageOrder[:target] {
		record, ok := byStage[name]
		if !ok {
			return false
		}
		if record.Status != models.StageCompleted && record.Status != models.StageSkipped {
			return false
		}
	}
	return true
}

// CurrentStageOf returns the first stage in dependency order that has no
// record or a non-terminal one, or AllStagesComplete when everything is
// terminal.
func CurrentStageOf(records []models.StageRecord) string {
	byStage := make(map[string]models.StageRecord, len(records))
	for _, record := range records {
		byStage[record.Stage] = record
	}

	for _, name := range models.StageOrder {
		record, ok := byStage[name]
		if !ok {
			return name
		}
		if !record.IsTerminal() {
			return name
		}
	}
	return models.AllStagesComplete
}

// AggregateProgress averages per-stage progress over the full stage order.
// Terminal stages count as done, processing stages contribute their
// fraction, untouched stages contribute nothing.
func AggregateProgress(records []models.StageRecord) float64 {
	byStage := make(map[string]models.StageRecord, len(records))
	for _, record := range records {
		byStage[record.Stage] = record
	}

	total := 0.0
	for _, name := range models.StageOrder {
		record, ok := byStage[name]
		if !ok {
			continue
		}
		switch record.Status {
		case models.StageCompleted, models.StageSkipped:
			total += 1
		case models.StageProcessing:
			total += record.Progress
		}
	}
	return total / float64(len(models.StageOrder))
}
