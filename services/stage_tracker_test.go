package services

import (
	"testing"

	"manual-knowledge-pipeline/models"

	"github.com/stretchr/testify/assert"
)

func record(stage, status string, progress float64) models.StageRecord {
	return models.StageRecord{Stage: stage, Status: status, Progress: progress}
}

func TestCanStartStage(t *testing.T) {
	records := []models.StageRecord{
		record(models.StageUpload, models.StageCompleted, 1),
		record(models.StageExtraction, models.StageCompleted, 1),
		record(models.StageResearch, models.StageSkipped, 0),
	}

	assert.True(t, CanStartStage(records, models.StageChunking), "completed and skipped both satisfy")
	assert.False(t, CanStartStage(records, models.StageMediaStorage), "chunking has no record yet")
	assert.True(t, CanStartStage(nil, models.StageUpload), "first stage has no prerequisites")
	assert.False(t, CanStartStage(records, "not_a_stage"))
}

func TestCanStartStageBlockedByFailedPrerequisite(t *testing.T) {
	records := []models.StageRecord{
		record(models.StageUpload, models.StageCompleted, 1),
		record(models.StageExtraction, models.StageFailed, 0),
	}
	assert.False(t, CanStartStage(records, models.StageResearch))
}

func TestCurrentStageOf(t *testing.T) {
	assert.Equal(t, models.StageUpload, CurrentStageOf(nil))

	partial := []models.StageRecord{
		record(models.StageUpload, models.StageCompleted, 1),
		record(models.StageExtraction, models.StageProcessing, 0.4),
	}
	assert.Equal(t, models.StageExtraction, CurrentStageOf(partial))

	all := make([]models.StageRecord, 0, len(models.StageOrder))
	for _, stage := range models.StageOrder {
		all = append(all, record(stage, models.StageCompleted, 1))
	}
	assert.Equal(t, models.AllStagesComplete, CurrentStageOf(all))
}

func TestCurrentStageOfTreatsFailedAsTerminal(t *testing.T) {
	records := []models.StageRecord{
		record(models.StageUpload, models.StageCompleted, 1),
		record(models.StageExtraction, models.StageFailed, 0),
	}
	assert.Equal(t, models.StageResearch, CurrentStageOf(records))
}

func TestAggregateProgress(t *testing.T) {
	assert.Zero(t, AggregateProgress(nil))

	records := []models.StageRecord{
		record(models.StageUpload, models.StageCompleted, 1),
		record(models.StageExtraction, models.StageSkipped, 0),
		record(models.StageResearch, models.StageProcessing, 0.5),
		record(models.StageChunking, models.StageFailed, 0.9),
	}

	want := (1 + 1 + 0.5 + 0) / float64(len(models.StageOrder))
	assert.InDelta(t, want, AggregateProgress(records), 1e-9)

	all := make([]models.StageRecord, 0, len(models.StageOrder))
	for _, stage := range models.StageOrder {
		all = append(all, record(stage, models.StageCompleted, 1))
	}
	assert.InDelta(t, 1.0, AggregateProgress(all), 1e-9)
}

func TestSortStageRecords(t *testing.T) {
	records := []models.StageRecord{
		record(models.StagePersistence, models.StagePending, 0),
		record(models.StageUpload, models.StageCompleted, 1),
		record(models.StageChunking, models.StageProcessing, 0.2),
	}

	sorted := SortStageRecords(records)
	assert.Equal(t, models.StageUpload, sorted[0].Stage)
	assert.Equal(t, models.StageChunking, sorted[1].Stage)
	assert.Equal(t, models.StagePersistence, sorted[2].Stage)

	// input untouched
	assert.Equal(t, models.StagePersistence, records[0].Stage)
}
