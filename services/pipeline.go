package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"manual-knowledge-pipeline/internal/ai"
	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/internal/research"
	"manual-knowledge-pipeline/internal/telemetry"
	"manual-knowledge-pipeline/models"
	"manual-knowledge-pipeline/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// StageResult is the closed outcome type every stage returns. Exactly one of
// Success, Skipped or Err describes what happened; Data carries an optional
// stage-specific summary for logging.
type StageResult struct {
	Success bool
	Skipped bool
	Data    any
	Err     error
}

func stageOK(data any) StageResult { return StageResult{Success: true, Data: data} }

func stageSkip(reason string) StageResult {
	return StageResult{Success: true, Skipped: true, Data: reason}
}

func stageFail(err error) StageResult { return StageResult{Err: err} }

// stage is one named unit of pipeline work. An optional stage that exhausts
// its retries is recorded as failed but does not abort the document. The
// precheck lets a stage be skipped without ever starting.
type stage struct {
	name     string
	optional bool
	precheck func(*pipelineState) (bool, string)
	run      func(context.Context, *pipelineState) StageResult
}

// pipelineState is the single-document working set handed from stage to
// stage. It is owned by one worker; nothing here is shared across documents.
type pipelineState struct {
	filePath string
	docType  string
	hint     string
	force    bool

	doc        *models.Document
	duplicate  bool
	extraction *ExtractionResult
	pages      map[int]string
	chunks     []models.TextChunk
	entities   []models.Entity
	rejected   map[string]int
	artifacts  *MediaArtifacts
	embedded   int
}

func (st *pipelineState) docID() primitive.ObjectID {
	if st.doc == nil {
		return primitive.NilObjectID
	}
	return st.doc.ID
}

// Pipeline runs the fixed stage sequence for one document at a time and
// produces a PipelineResult per run.
type Pipeline struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *telemetry.Metrics

	db         *mongo.Database
	tracker    *StageTracker
	extractor  *PDFExtractor
	chunker    *Chunker
	errorCodes *ErrorCodeExtractor
	products   *ProductExtractor
	versions   *VersionExtractor
	research   *research.Client
	embeddings *ai.EmbeddingClient
	media      *MediaStorage
}

func NewPipeline(cfg *config.Config, db *mongo.Database, embeddings *ai.EmbeddingClient, metrics *telemetry.Metrics, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		db:         db,
		tracker:    NewStageTracker(db.Collection("document_stages"), log),
		extractor:  NewPDFExtractor(cfg, log),
		chunker:    NewChunker(cfg, log),
		errorCodes: NewErrorCodeExtractor(cfg, log),
		products:   NewProductExtractor(cfg, log),
		versions:   NewVersionExtractor(cfg, log),
		research:   research.NewClient(cfg, log),
		embeddings: embeddings,
		media:      NewMediaStorage(cfg, log),
	}
}

// Tracker exposes the stage tracker for status queries.
func (p *Pipeline) Tracker() *StageTracker { return p.tracker }

// Close releases external clients.
func (p *Pipeline) Close() error {
	return p.extractor.Close()
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{name: models.StageUpload, run: p.uploadStage},
		{name: models.StageExtraction, run: p.extractionStage},
		{name: models.StageResearch, optional: true, precheck: p.researchPrecheck, run: p.researchStage},
		{name: models.StageChunking, run: p.chunkingStage},
		{name: models.StageMediaStorage, optional: true, run: p.mediaStage},
		{name: models.StageEmbedding, optional: true, precheck: p.embeddingPrecheck, run: p.embeddingStage},
		{name: models.StagePersistence, run: p.persistenceStage},
	}
}

// ProcessDocument runs the full stage sequence for one file and always
// returns a result, even on hard failure.
func (p *Pipeline) ProcessDocument(ctx context.Context, filePath, documentType, manufacturerHint string, force bool) *models.PipelineResult {
	started := time.Now()
	state := &pipelineState{
		filePath: filePath,
		docType:  documentType,
		hint:     manufacturerHint,
		force:    force,
		rejected: make(map[string]int),
	}
	result := &models.PipelineResult{
		ID:        primitive.NewObjectID(),
		Success:   true,
		Entities:  make(map[string]int),
		Rejected:  make(map[string]int),
		Stages:    make(map[string]models.StageOutcome),
		StartedAt: started,
	}

	log := p.log.With("file", filepath.Base(filePath))
	log.Info("pipeline started", "type", documentType, "manufacturer_hint", manufacturerHint)

	for _, s := range p.stages() {
		res, outcome := p.runStage(ctx, state, s)
		result.Stages[s.name] = outcome

		if outcome.Status == models.StageFailed && !s.optional {
			result.Success = false
			result.Error = res.Err.Error()
			p.markDocumentFailed(ctx, state, res.Err)
			break
		}
		if state.duplicate {
			result.Duplicate = true
			log.Info("duplicate document, reusing existing", "document_id", state.docID().Hex())
			break
		}
	}

	p.finalizeResult(ctx, state, result)
	status := models.StatusCompleted
	if !result.Success {
		status = models.StatusFailed
	}
	p.metrics.RecordDocument(status)

	log.Info("pipeline finished",
		"success", result.Success,
		"duplicate", result.Duplicate,
		"chunks", result.ChunkCount,
		"duration", result.Duration)
	return result
}

// ProcessBatch runs the single-document flow sequentially over files. A
// failing document never aborts the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, files []string, documentType, manufacturerHint string, force bool) *models.BatchResult {
	batch := &models.BatchResult{Total: len(files)}

	for _, file := range files {
		result := p.ProcessDocument(ctx, file, documentType, manufacturerHint, force)
		batch.Results = append(batch.Results, result)
		if result.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}
	return batch
}

// runStage wraps one stage invocation with the retry policy, panic recovery
// and best-effort tracker bookkeeping. A permanently failing stage is
// attempted exactly maxRetries+1 times.
func (p *Pipeline) runStage(ctx context.Context, state *pipelineState, s stage) (StageResult, models.StageOutcome) {
	start := time.Now()

	if s.precheck != nil {
		if skip, reason := s.precheck(state); skip {
			p.trackerSkip(ctx, state, s.name, reason)
			outcome := models.StageOutcome{Status: models.StageSkipped, Duration: time.Since(start)}
			p.metrics.RecordStage(s.name, models.StageSkipped, time.Since(start).Seconds())
			p.log.Info("stage skipped", "stage", s.name, "reason", reason)
			return stageSkip(reason), outcome
		}
	}

	if state.doc != nil {
		if err := p.tracker.Start(ctx, state.docID(), s.name); err != nil {
			p.log.Warn("tracker start failed", "stage", s.name, "error", err)
		}
	}

	maxAttempts := p.cfg.MaxRetries + 1
	delay := time.Duration(p.cfg.RetryDelaySecs) * time.Second

	var res StageResult
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		res = p.invoke(ctx, state, s)
		if res.Success || res.Skipped {
			break
		}
		if attempts < maxAttempts {
			p.log.Warn("stage failed, retrying",
				"stage", s.name,
				"attempt", attempts,
				"max_attempts", maxAttempts,
				"error", res.Err)
			p.metrics.RecordRetry(s.name)
			time.Sleep(delay)
		}
	}

	outcome := models.StageOutcome{Attempts: attempts, Duration: time.Since(start)}
	switch {
	case res.Skipped:
		outcome.Status = models.StageSkipped
		p.trackerSkip(ctx, state, s.name, fmt.Sprint(res.Data))
	case res.Success:
		outcome.Status = models.StageCompleted
		if state.doc != nil {
			if err := p.tracker.Complete(ctx, state.docID(), s.name, nil); err != nil {
				p.log.Warn("tracker complete failed", "stage", s.name, "error", err)
			}
		}
	default:
		outcome.Status = models.StageFailed
		outcome.Error = res.Err.Error()
		p.log.Error("stage failed permanently", "stage", s.name, "attempts", attempts, "error", res.Err, "optional", s.optional)
		if state.doc != nil {
			if err := p.tracker.Fail(ctx, state.docID(), s.name, res.Err.Error(), nil); err != nil {
				p.log.Warn("tracker fail failed", "stage", s.name, "error", err)
			}
		}
	}

	p.metrics.RecordStage(s.name, outcome.Status, outcome.Duration.Seconds())
	return res, outcome
}

// invoke runs the stage function, converting a panic into a plain failure so
// it participates in the retry policy like any other error.
func (p *Pipeline) invoke(ctx context.Context, state *pipelineState, s stage) (res StageResult) {
	defer func() {
		if r := recover(); r != nil {
			res = stageFail(fmt.Errorf("stage %s panicked: %v", s.name, r))
		}
	}()
	return s.run(ctx, state)
}

func (p *Pipeline) trackerSkip(ctx context.Context, state *pipelineState, stageName, reason string) {
	if state.doc == nil {
		return
	}
	if err := p.tracker.Skip(ctx, state.docID(), stageName, reason); err != nil {
		p.log.Warn("tracker skip failed", "stage", stageName, "error", err)
	}
}

// --- stages ---

// uploadStage hashes the file, short-circuits on an already-processed
// duplicate, and registers a new Document row. Forced reprocessing creates a
// fresh document that supersedes the previous one.
func (p *Pipeline) uploadStage(ctx context.Context, state *pipelineState) StageResult {
	hash, size, err := utils.HashFile(state.filePath)
	if err != nil {
		return stageFail(fmt.Errorf("failed to hash upload: %w", err))
	}
	if size > p.cfg.MaxFileSize {
		return stageFail(fmt.Errorf("file exceeds size limit: %d bytes", size))
	}

	documents := p.db.Collection("documents")

	var existing models.Document
	findErr := documents.FindOne(ctx, bson.M{"content_hash": hash},
		options.FindOne().SetSort(bson.D{{Key: "uploaded_at", Value: -1}})).Decode(&existing)
	if findErr != nil && findErr != mongo.ErrNoDocuments {
		return stageFail(fmt.Errorf("duplicate lookup failed: %w", findErr))
	}

	if findErr == nil && !state.force && existing.Status == models.StatusCompleted {
		state.doc = &existing
		state.duplicate = true
		return stageOK("duplicate")
	}

	storedPath, err := p.media.SaveUpload(state.filePath, hash)
	if err != nil {
		return stageFail(err)
	}

	// A document pre-registered by the upload API is claimed rather than
	// duplicated.
	if findErr == nil && existing.Status == models.StatusPending {
		existing.Status = models.StatusInProgress
		existing.FilePath = storedPath
		existing.Filename = filepath.Base(storedPath)
		if _, err := documents.ReplaceOne(ctx, bson.M{"_id": existing.ID}, existing); err != nil {
			return stageFail(fmt.Errorf("failed to claim document: %w", err))
		}
		state.doc = &existing
		return stageOK(existing.ID.Hex())
	}

	doc := &models.Document{
		ID:           primitive.NewObjectID(),
		Filename:     filepath.Base(storedPath),
		OriginalName: filepath.Base(state.filePath),
		FilePath:     storedPath,
		ContentHash:  hash,
		DocumentType: state.docType,
		Status:       models.StatusInProgress,
		UploadedAt:   time.Now(),
		Metadata:     models.DocumentMetadata{Size: size},
	}
	if state.hint != "" && state.hint != models.ManufacturerAuto {
		doc.Manufacturer = state.hint
	}
	if state.force && findErr == nil && existing.ID != primitive.NilObjectID {
		doc.Supersedes = &existing.ID
	}

	if _, err := documents.InsertOne(ctx, doc); err != nil {
		return stageFail(fmt.Errorf("failed to register document: %w", err))
	}
	state.doc = doc
	return stageOK(doc.ID.Hex())
}

func (p *Pipeline) extractionStage(ctx context.Context, state *pipelineState) StageResult {
	result, err := p.extractor.ExtractPages(ctx, state.doc.FilePath)
	if err != nil {
		return stageFail(err)
	}

	state.extraction = result
	state.pages = result.Pages
	state.doc.Title = result.Title
	state.doc.PageCount = result.PageCount
	state.doc.Metadata.ExtractionMethod = result.Method
	state.doc.Metadata.QualityScore = result.QualityScore
	state.doc.Metadata.WordCount = result.WordCount
	state.doc.Metadata.CharacterCount = result.CharacterCount

	return stageOK(fmt.Sprintf("%d pages via %s", result.PageCount, result.Method))
}

func (p *Pipeline) researchPrecheck(state *pipelineState) (bool, string) {
	if !p.cfg.ResearchEnabled {
		return true, "research disabled"
	}
	if state.doc != nil && state.doc.Manufacturer != "" {
		return true, "manufacturer already known"
	}
	return false, ""
}

// researchStage tries to resolve the manufacturer and series from web search
// snippets when the caller asked for auto-detection.
func (p *Pipeline) researchStage(ctx context.Context, state *pipelineState) StageResult {
	query := strings.TrimSpace(state.doc.Title)
	if query == "" {
		if first, ok := state.pages[1]; ok {
			query = snippet(first, 80)
		}
	}
	if query == "" {
		return stageSkip("nothing to search for")
	}

	found, err := p.research.Search(ctx, query+" printer manufacturer")
	if err != nil {
		return stageFail(err)
	}

	joined := found.Joined()
	if manufacturer := resolveManufacturer(joined); manufacturer != "" {
		state.doc.Manufacturer = manufacturer
	}
	if series := resolveSeries(joined); series != "" {
		state.doc.Series = series
	}
	if state.doc.Manufacturer == "" {
		return stageSkip("manufacturer not identified")
	}
	return stageOK(state.doc.Manufacturer)
}

func (p *Pipeline) chunkingStage(ctx context.Context, state *pipelineState) StageResult {
	chunks := p.chunker.ChunkPages(state.pages)
	if len(chunks) == 0 {
		return stageFail(fmt.Errorf("no chunks produced from %d pages", len(state.pages)))
	}
	for i := range chunks {
		chunks[i].DocumentID = state.doc.ID
	}
	state.chunks = chunks

	for _, chunk := range chunks {
		p.metrics.RecordChunks(1, chunk.ChunkType)
	}

	// Entity extraction rides on the chunking stage: it reads the same page
	// map and its rejections are statistics, not failures.
	state.entities = nil
	codes, rejectedCodes := p.errorCodes.Extract(state.pages)
	products, rejectedProducts := p.products.Extract(state.pages)
	versions, rejectedVersions := p.versions.Extract(state.pages)

	state.entities = append(state.entities, codes...)
	state.entities = append(state.entities, products...)
	state.entities = append(state.entities, versions...)
	state.rejected[string(models.EntityErrorCode)] = rejectedCodes
	state.rejected[string(models.EntityProduct)] = rejectedProducts
	state.rejected[string(models.EntityVersion)] = rejectedVersions

	p.metrics.RecordEntities(string(models.EntityErrorCode), len(codes), rejectedCodes)
	p.metrics.RecordEntities(string(models.EntityProduct), len(products), rejectedProducts)
	p.metrics.RecordEntities(string(models.EntityVersion), len(versions), rejectedVersions)

	return stageOK(fmt.Sprintf("%d chunks, %d entities", len(chunks), len(state.entities)))
}

func (p *Pipeline) mediaStage(ctx context.Context, state *pipelineState) StageResult {
	artifacts, err := p.media.StoreArtifacts(ctx, state.doc.ID, state.doc.FilePath, state.pages)
	if err != nil {
		return stageFail(err)
	}
	state.artifacts = artifacts
	state.doc.Metadata.ImageCount = len(artifacts.Images)
	return stageOK(fmt.Sprintf("%d images", len(artifacts.Images)))
}

func (p *Pipeline) embeddingPrecheck(state *pipelineState) (bool, string) {
	if p.embeddings == nil || !p.embeddings.Enabled() {
		return true, "embedding service unavailable"
	}
	return false, ""
}

// embeddingStage embeds every chunk. Partial failure is tolerated and
// logged; only a total failure marks the stage failed.
func (p *Pipeline) embeddingStage(ctx context.Context, state *pipelineState) StageResult {
	failures := 0
	for i := range state.chunks {
		vector, err := p.embeddings.EmbedText(ctx, state.chunks[i].Text)
		if err != nil {
			failures++
			p.metrics.RecordEmbeddingFailure()
			p.log.Debug("chunk embedding failed", "chunk_index", state.chunks[i].ChunkIndex, "error", err)
			continue
		}
		state.chunks[i].Vector = vector
		state.embedded++

		if state.embedded%10 == 0 {
			fraction := float64(i+1) / float64(len(state.chunks))
			if err := p.tracker.UpdateProgress(ctx, state.doc.ID, models.StageEmbedding, fraction, nil); err != nil {
				p.log.Warn("tracker progress failed", "error", err)
			}
		}
	}

	if state.embedded == 0 {
		return stageFail(fmt.Errorf("all %d chunk embeddings failed", len(state.chunks)))
	}
	if failures > 0 {
		p.log.Warn("partial embedding failure", "embedded", state.embedded, "failed", failures)
	}
	return stageOK(fmt.Sprintf("%d embedded, %d failed", state.embedded, failures))
}

// persistenceStage upserts chunks and entities by natural key and finalizes
// the Document row. Upserts keep retries from duplicating rows.
func (p *Pipeline) persistenceStage(ctx context.Context, state *pipelineState) StageResult {
	if err := p.persistChunks(ctx, state); err != nil {
		return stageFail(err)
	}
	if err := p.persistEntities(ctx, state); err != nil {
		return stageFail(err)
	}
	if err := p.completeDocument(ctx, state); err != nil {
		return stageFail(err)
	}
	return stageOK(len(state.chunks))
}

func (p *Pipeline) persistChunks(ctx context.Context, state *pipelineState) error {
	if len(state.chunks) == 0 {
		return nil
	}

	batch := make([]mongo.WriteModel, 0, len(state.chunks))
	for _, chunk := range state.chunks {
		batch = append(batch, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"document_id": chunk.DocumentID, "fingerprint": chunk.Fingerprint}).
			SetReplacement(chunk).
			SetUpsert(true))
	}

	_, err := p.db.Collection("manual_chunks").BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	return nil
}

func entityCollection(kind models.EntityKind) string {
	switch kind {
	case models.EntityErrorCode:
		return "error_codes"
	case models.EntityProduct:
		return "products"
	case models.EntityVersion:
		return "versions"
	}
	return ""
}

func (p *Pipeline) persistEntities(ctx context.Context, state *pipelineState) error {
	for _, entity := range state.entities {
		entity.SetDocumentID(state.doc.ID)

		name := entityCollection(entity.Kind())
		if name == "" {
			return fmt.Errorf("unknown entity kind %q", entity.Kind())
		}

		filter := entity.NaturalKey()
		_, err := p.db.Collection(name).UpdateOne(ctx, filter, bson.M{"$set": entity}, options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to persist %s: %w", entity.Kind(), err)
		}
	}
	return nil
}

func (p *Pipeline) completeDocument(ctx context.Context, state *pipelineState) error {
	now := time.Now()
	state.doc.Status = models.StatusCompleted
	state.doc.ProcessedAt = &now
	state.doc.Metadata.ChunkCount = len(state.chunks)
	for _, entity := range state.entities {
		switch entity.Kind() {
		case models.EntityErrorCode:
			state.doc.Metadata.ErrorCodeCount++
		case models.EntityProduct:
			state.doc.Metadata.ProductCount++
		case models.EntityVersion:
			state.doc.Metadata.VersionCount++
		}
	}

	_, err := p.db.Collection("documents").ReplaceOne(ctx, bson.M{"_id": state.doc.ID}, state.doc)
	if err != nil {
		return fmt.Errorf("failed to finalize document: %w", err)
	}
	return nil
}

func (p *Pipeline) markDocumentFailed(ctx context.Context, state *pipelineState, cause error) {
	if state.doc == nil {
		return
	}
	update := bson.M{"$set": bson.M{
		"status":        models.StatusFailed,
		"error_message": cause.Error(),
	}}
	if _, err := p.db.Collection("documents").UpdateOne(ctx, bson.M{"_id": state.doc.ID}, update); err != nil {
		p.log.Warn("failed to mark document failed", "document_id", state.doc.ID.Hex(), "error", err)
	}
}

// finalizeResult fills statistics and persists the run record. Persisting
// the result is best-effort.
func (p *Pipeline) finalizeResult(ctx context.Context, state *pipelineState, result *models.PipelineResult) {
	result.DocumentID = state.docID()
	result.ChunkCount = len(state.chunks)
	result.Embedded = state.embedded
	for _, entity := range state.entities {
		result.Entities[string(entity.Kind())]++
	}
	for kind, count := range state.rejected {
		result.Rejected[kind] = count
	}
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	if _, err := p.db.Collection("pipeline_results").InsertOne(ctx, result); err != nil {
		p.log.Warn("failed to persist pipeline result", "error", err)
	}
}
