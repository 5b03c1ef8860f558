package routes

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/internal/queue"
	"manual-knowledge-pipeline/models"
	"manual-knowledge-pipeline/services"
	"manual-knowledge-pipeline/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocumentRoutes serves document intake and read-only pipeline status.
type DocumentRoutes struct {
	cfg      *config.Config
	db       *mongo.Database
	queue    *asynq.Client
	tracker  *services.StageTracker
	exporter *services.ExportService
	log      *slog.Logger
}

func SetupDocumentRoutes(router *gin.Engine, cfg *config.Config, db *mongo.Database, queueClient *asynq.Client, tracker *services.StageTracker, exporter *services.ExportService, log *slog.Logger) {
	dr := &DocumentRoutes{
		cfg:      cfg,
		db:       db,
		queue:    queueClient,
		tracker:  tracker,
		exporter: exporter,
		log:      log,
	}

	api := router.Group("/api")
	{
		api.POST("/documents", dr.uploadDocument)
		api.GET("/documents", dr.listDocuments)
		api.GET("/documents/:id", dr.getDocument)
		api.GET("/documents/:id/progress", dr.getProgress)
		api.GET("/documents/:id/stages", dr.getStages)
		api.GET("/documents/:id/result", dr.getResult)
		api.GET("/documents/:id/export", dr.exportDocument)
	}
}

// uploadDocument accepts a manual PDF, registers it as pending and enqueues
// the pipeline run. Processing happens on the worker.
func (dr *DocumentRoutes) uploadDocument(c *gin.Context) {
	file, header, err := c.Request.FormFile("manual")
	if err != nil {
		utils.RespondWithBadRequest(c, "No manual file provided", nil)
		return
	}
	defer file.Close()

	if header.Size > dr.cfg.MaxFileSize {
		utils.RespondWithBadRequest(c, "File size exceeds maximum limit", gin.H{"max_bytes": dr.cfg.MaxFileSize})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.Contains(contentType, "pdf") && !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		utils.RespondWithBadRequest(c, "Only PDF files are accepted", nil)
		return
	}

	// Magic-byte check without buffering the whole file.
	magic := make([]byte, 5)
	if _, err := io.ReadFull(file, magic); err != nil || string(magic) != "%PDF-" {
		utils.RespondWithBadRequest(c, "File is not a valid PDF", nil)
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		utils.RespondWithInternalError(c, "Failed to read upload", nil)
		return
	}

	intakeDir := filepath.Join(dr.cfg.FileStorageDir, "intake")
	if err := os.MkdirAll(intakeDir, 0o755); err != nil {
		utils.RespondWithInternalError(c, "Failed to prepare storage", nil)
		return
	}
	intakePath := filepath.Join(intakeDir, uuid.NewString()+".pdf")

	dst, err := os.Create(intakePath)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to store upload", nil)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(intakePath)
		utils.RespondWithInternalError(c, "Failed to store upload", nil)
		return
	}
	dst.Close()

	hash, size, err := utils.HashFile(intakePath)
	if err != nil {
		os.Remove(intakePath)
		utils.RespondWithInternalError(c, "Failed to hash upload", nil)
		return
	}

	documentType := c.DefaultPostForm("document_type", "service_manual")
	manufacturer := c.DefaultPostForm("manufacturer", models.ManufacturerAuto)
	force := c.PostForm("force") == "true"

	doc := models.Document{
		ID:           primitive.NewObjectID(),
		Filename:     filepath.Base(intakePath),
		OriginalName: header.Filename,
		FilePath:     intakePath,
		ContentHash:  hash,
		DocumentType: documentType,
		Status:       models.StatusPending,
		UploadedAt:   time.Now(),
		Metadata:     models.DocumentMetadata{Size: size},
	}
	if manufacturer != models.ManufacturerAuto {
		doc.Manufacturer = manufacturer
	}

	if _, err := dr.db.Collection("documents").InsertOne(c.Request.Context(), doc); err != nil {
		os.Remove(intakePath)
		utils.RespondWithInternalError(c, "Failed to register document", nil)
		return
	}

	task, err := queue.NewProcessManualTask(intakePath, documentType, manufacturer, force)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to create processing task", nil)
		return
	}
	if _, err := dr.queue.EnqueueContext(c.Request.Context(), task); err != nil {
		// The rescanner will pick the pending document up later.
		dr.log.Error("enqueue failed, document left pending", "document_id", doc.ID.Hex(), "error", err)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"document_id": doc.ID.Hex(),
		"status":      doc.Status,
		"message":     "Document queued for processing",
	})
}

func (dr *DocumentRoutes) listDocuments(c *gin.Context) {
	filter := bson.M{}
	if status := c.Query("status"); status != "" {
		filter["status"] = status
	}
	if manufacturer := c.Query("manufacturer"); manufacturer != "" {
		filter["manufacturer"] = manufacturer
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "uploaded_at", Value: -1}}).
		SetLimit(100)

	cursor, err := dr.db.Collection("documents").Find(c.Request.Context(), filter, opts)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to list documents", nil)
		return
	}

	documents := make([]models.Document, 0)
	if err := cursor.All(c.Request.Context(), &documents); err != nil {
		utils.RespondWithInternalError(c, "Failed to decode documents", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"documents": documents, "count": len(documents)})
}

func (dr *DocumentRoutes) getDocument(c *gin.Context) {
	docID, ok := dr.parseID(c)
	if !ok {
		return
	}

	var doc models.Document
	err := dr.db.Collection("documents").FindOne(c.Request.Context(), bson.M{"_id": docID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		utils.RespondWithNotFound(c, "Document not found")
		return
	}
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load document", nil)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (dr *DocumentRoutes) getProgress(c *gin.Context) {
	docID, ok := dr.parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	progress, err := dr.tracker.Progress(ctx, docID)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to compute progress", nil)
		return
	}
	current, err := dr.tracker.CurrentStage(ctx, docID)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to determine current stage", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"document_id":   docID.Hex(),
		"progress":      progress,
		"current_stage": current,
	})
}

func (dr *DocumentRoutes) getStages(c *gin.Context) {
	docID, ok := dr.parseID(c)
	if !ok {
		return
	}

	records, err := dr.tracker.Records(c.Request.Context(), docID)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load stage records", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"document_id": docID.Hex(), "stages": records})
}

func (dr *DocumentRoutes) getResult(c *gin.Context) {
	docID, ok := dr.parseID(c)
	if !ok {
		return
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "finished_at", Value: -1}})
	var result models.PipelineResult
	err := dr.db.Collection("pipeline_results").FindOne(c.Request.Context(), bson.M{"document_id": docID}, opts).Decode(&result)
	if err == mongo.ErrNoDocuments {
		utils.RespondWithNotFound(c, "No pipeline result for document")
		return
	}
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load pipeline result", nil)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (dr *DocumentRoutes) exportDocument(c *gin.Context) {
	docID, ok := dr.parseID(c)
	if !ok {
		return
	}

	data, filename, err := dr.exporter.ExportDocument(c.Request.Context(), docID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		utils.RespondWithNotFound(c, "Document not found")
		return
	}
	if err != nil {
		dr.log.Error("export failed", "document_id", docID.Hex(), "error", err)
		utils.RespondWithInternalError(c, "Failed to build export", nil)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (dr *DocumentRoutes) parseID(c *gin.Context) (primitive.ObjectID, bool) {
	docID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		utils.RespondWithBadRequest(c, "Invalid document id", nil)
		return primitive.NilObjectID, false
	}
	return docID, true
}
