package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"manual-knowledge-pipeline/services"
)

const (
	// TaskProcessManual runs the full pipeline for one uploaded manual.
	TaskProcessManual = "manual:process"
)

// ProcessManualPayload identifies one pipeline run.
type ProcessManualPayload struct {
	FilePath         string `json:"file_path"`
	DocumentType     string `json:"document_type"`
	ManufacturerHint string `json:"manufacturer_hint"`
	Force            bool   `json:"force"`
}

// NewProcessManualTask creates the queue task for one manual. Queue-level
// retries cover worker crashes; stage-level retries happen inside the
// pipeline itself.
func NewProcessManualTask(filePath, documentType, manufacturerHint string, force bool) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessManualPayload{
		FilePath:         filePath,
		DocumentType:     documentType,
		ManufacturerHint: manufacturerHint,
		Force:            force,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskProcessManual,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("ingest"),
	), nil
}

// TaskProcessor wires queue tasks to the pipeline.
type TaskProcessor struct {
	pipeline *services.Pipeline
	log      *slog.Logger
}

func NewTaskProcessor(pipeline *services.Pipeline, log *slog.Logger) *TaskProcessor {
	return &TaskProcessor{pipeline: pipeline, log: log}
}

// ProcessManual handles one queued pipeline run. A result with Success=false
// is returned as an error so asynq records the failure; the pipeline has
// already exhausted its own per-stage retries by then.
func (p *TaskProcessor) ProcessManual(ctx context.Context, t *asynq.Task) error {
	var payload ProcessManualPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	p.log.Info("processing queued manual", "file", payload.FilePath, "type", payload.DocumentType)

	result := p.pipeline.ProcessDocument(ctx, payload.FilePath, payload.DocumentType, payload.ManufacturerHint, payload.Force)
	if !result.Success {
		return fmt.Errorf("pipeline failed for %s: %s: %w", payload.FilePath, result.Error, asynq.SkipRetry)
	}
	return nil
}
