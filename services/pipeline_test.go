package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/internal/telemetry"
	"manual-knowledge-pipeline/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline(t *testing.T, maxRetries int) *Pipeline {
	t.Helper()
	metrics, err := telemetry.InitMetrics()
	require.NoError(t, err)

	return &Pipeline{
		cfg: &config.Config{
			MaxRetries:     maxRetries,
			RetryDelaySecs: 0,
		},
		log:     testLogger(t),
		metrics: metrics,
	}
}

func TestRunStageRetryBound(t *testing.T) {
	p := testPipeline(t, 2)

	invocations := 0
	s := stage{
		name: "flaky",
		run: func(ctx context.Context, st *pipelineState) StageResult {
			invocations++
			return stageFail(errors.New("boom"))
		},
	}

	res, outcome := p.runStage(context.Background(), &pipelineState{}, s)

	assert.Equal(t, 3, invocations, "maxRetries=2 means exactly 3 attempts")
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, models.StageFailed, outcome.Status)
	assert.Equal(t, "boom", outcome.Error)
	assert.False(t, res.Success)
}

func TestRunStageSucceedsAfterRetry(t *testing.T) {
	p := testPipeline(t, 2)

	invocations := 0
	s := stage{
		name: "eventually",
		run: func(ctx context.Context, st *pipelineState) StageResult {
			invocations++
			if invocations < 2 {
				return stageFail(errors.New("transient"))
			}
			return stageOK(nil)
		},
	}

	res, outcome := p.runStage(context.Background(), &pipelineState{}, s)

	assert.True(t, res.Success)
	assert.Equal(t, models.StageCompleted, outcome.Status)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestRunStageTreatsPanicAsFailure(t *testing.T) {
	p := testPipeline(t, 1)

	invocations := 0
	s := stage{
		name: "panicky",
		run: func(ctx context.Context, st *pipelineState) StageResult {
			invocations++
			panic("kaboom")
		},
	}

	res, outcome := p.runStage(context.Background(), &pipelineState{}, s)

	assert.Equal(t, 2, invocations, "a panicking stage retries like a failing one")
	assert.Equal(t, models.StageFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "kaboom")
	assert.False(t, res.Success)
}

func TestRunStagePrecheckSkipsWithoutInvoking(t *testing.T) {
	p := testPipeline(t, 2)

	invoked := false
	s := stage{
		name:     "gated",
		optional: true,
		precheck: func(st *pipelineState) (bool, string) { return true, "collaborator unavailable" },
		run: func(ctx context.Context, st *pipelineState) StageResult {
			invoked = true
			return stageOK(nil)
		},
	}

	res, outcome := p.runStage(context.Background(), &pipelineState{}, s)

	assert.False(t, invoked)
	assert.True(t, res.Skipped)
	assert.Equal(t, models.StageSkipped, outcome.Status)
	assert.Zero(t, outcome.Attempts)
}

func TestRunStageSkipResultIsNotRetried(t *testing.T) {
	p := testPipeline(t, 3)

	invocations := 0
	s := stage{
		name: "self-skipping",
		run: func(ctx context.Context, st *pipelineState) StageResult {
			invocations++
			return stageSkip("nothing to do")
		},
	}

	_, outcome := p.runStage(context.Background(), &pipelineState{}, s)

	assert.Equal(t, 1, invocations)
	assert.Equal(t, models.StageSkipped, outcome.Status)
}

func TestStageSequenceMatchesTrackedOrder(t *testing.T) {
	p := testPipeline(t, 0)

	var names []string
	for _, s := range p.stages() {
		names = append(names, s.name)
	}
	assert.Equal(t, models.StageOrder, names)

	optional := map[string]bool{}
	for _, s := range p.stages() {
		optional[s.name] = s.optional
	}
	assert.False(t, optional[models.StageUpload])
	assert.False(t, optional[models.StageExtraction])
	assert.False(t, optional[models.StageChunking])
	assert.False(t, optional[models.StagePersistence])
	assert.True(t, optional[models.StageResearch])
	assert.True(t, optional[models.StageMediaStorage])
	assert.True(t, optional[models.StageEmbedding])
}

func TestEntityCollectionMapping(t *testing.T) {
	assert.Equal(t, "error_codes", entityCollection(models.EntityErrorCode))
	assert.Equal(t, "products", entityCollection(models.EntityProduct))
	assert.Equal(t, "versions", entityCollection(models.EntityVersion))
	assert.Empty(t, entityCollection(models.EntityKind("bogus")))
}

func TestStageResultConstructors(t *testing.T) {
	ok := stageOK(42)
	assert.True(t, ok.Success)
	assert.False(t, ok.Skipped)
	assert.Equal(t, 42, ok.Data)

	skip := stageSkip("reason")
	assert.True(t, skip.Success)
	assert.True(t, skip.Skipped)

	fail := stageFail(fmt.Errorf("nope"))
	assert.False(t, fail.Success)
	assert.EqualError(t, fail.Err, "nope")
}
