package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"manual-knowledge-pipeline/models"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ExportService renders everything extracted from one document as an Excel
// workbook: a summary sheet plus one sheet per record type.
type ExportService struct {
	db  *mongo.Database
	log *slog.Logger
}

func NewExportService(db *mongo.Database, log *slog.Logger) *ExportService {
	return &ExportService{db: db, log: log}
}

const chunkPreviewLength = 500

// ExportDocument builds the workbook for a document and returns the xlsx
// bytes ready to stream to a client.
func (es *ExportService) ExportDocument(ctx context.Context, docID primitive.ObjectID) ([]byte, string, error) {
	var doc models.Document
	if err := es.db.Collection("documents").FindOne(ctx, bson.M{"_id": docID}).Decode(&doc); err != nil {
		return nil, "", fmt.Errorf("document lookup failed: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			es.log.Warn("failed to close workbook", "error", err)
		}
	}()

	if err := es.writeSummarySheet(f, &doc); err != nil {
		return nil, "", err
	}
	if err := es.writeChunkSheet(ctx, f, docID); err != nil {
		return nil, "", err
	}
	if err := es.writeErrorCodeSheet(ctx, f, docID); err != nil {
		return nil, "", err
	}
	if err := es.writeProductSheet(ctx, f, docID); err != nil {
		return nil, "", err
	}
	if err := es.writeVersionSheet(ctx, f, docID); err != nil {
		return nil, "", err
	}

	// Drop the default sheet so Summary opens first.
	f.DeleteSheet("Sheet1")

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize workbook: %w", err)
	}

	filename := fmt.Sprintf("%s_export_%s.xlsx", docID.Hex(), time.Now().Format("20060102"))
	return buf.Bytes(), filename, nil
}

func (es *ExportService) writeSummarySheet(f *excelize.File, doc *models.Document) error {
	const sheet = "Summary"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	processedAt := ""
	if doc.ProcessedAt != nil {
		processedAt = doc.ProcessedAt.Format("2006-01-02 15:04:05")
	}

	rows := [][]interface{}{
		{"Document", ""},
		{"Title", doc.Title},
		{"Original Name", doc.OriginalName},
		{"Type", doc.DocumentType},
		{"Manufacturer", doc.Manufacturer},
		{"Model", doc.Model},
		{"Series", doc.Series},
		{"Status", doc.Status},
		{"Pages", doc.PageCount},
		{"Uploaded At", doc.UploadedAt.Format("2006-01-02 15:04:05")},
		{"Processed At", processedAt},
		{"", ""},
		{"Extraction", ""},
		{"Method", doc.Metadata.ExtractionMethod},
		{"Quality Score", fmt.Sprintf("%.2f", doc.Metadata.QualityScore)},
		{"Word Count", doc.Metadata.WordCount},
		{"Chunk Count", doc.Metadata.ChunkCount},
		{"Error Codes", doc.Metadata.ErrorCodeCount},
		{"Products", doc.Metadata.ProductCount},
		{"Versions", doc.Metadata.VersionCount},
		{"Images", doc.Metadata.ImageCount},
	}

	for i, row := range rows {
		for j, value := range row {
			cell := fmt.Sprintf("%c%d", 'A'+j, i+1)
			f.SetCellValue(sheet, cell, value)
		}
	}
	f.SetColWidth(sheet, "A", "A", 20)
	f.SetColWidth(sheet, "B", "B", 50)
	return nil
}

func (es *ExportService) writeChunkSheet(ctx context.Context, f *excelize.File, docID primitive.ObjectID) error {
	const sheet = "Chunks"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "chunk_index", Value: 1}})
	cursor, err := es.db.Collection("manual_chunks").Find(ctx, bson.M{"document_id": docID}, opts)
	if err != nil {
		return fmt.Errorf("chunk query failed: %w", err)
	}
	var chunks []models.TextChunk
	if err := cursor.All(ctx, &chunks); err != nil {
		return fmt.Errorf("chunk decode failed: %w", err)
	}

	writeHeaderRow(f, sheet, []string{"Index", "Type", "Page", "Chars", "Words", "Fingerprint", "Text"})
	for i, chunk := range chunks {
		row := i + 2
		text := chunk.Text
		if len(text) > chunkPreviewLength {
			text = snippet(text, chunkPreviewLength) + "…"
		}
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), chunk.ChunkIndex)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), chunk.ChunkType)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), chunk.PageStart)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), chunk.CharCount)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), chunk.WordCount)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), chunk.Fingerprint)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), text)
	}
	f.SetColWidth(sheet, "F", "F", 36)
	f.SetColWidth(sheet, "G", "G", 80)
	return nil
}

func (es *ExportService) writeErrorCodeSheet(ctx context.Context, f *excelize.File, docID primitive.ObjectID) error {
	const sheet = "Error Codes"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "code", Value: 1}})
	cursor, err := es.db.Collection("error_codes").Find(ctx, bson.M{"document_id": docID}, opts)
	if err != nil {
		return fmt.Errorf("error code query failed: %w", err)
	}
	var codes []models.ErrorCode
	if err := cursor.All(ctx, &codes); err != nil {
		return fmt.Errorf("error code decode failed: %w", err)
	}

	writeHeaderRow(f, sheet, []string{"Code", "Severity", "Confidence", "Page", "Description", "Solution"})
	for i, code := range codes {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), code.Code)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), code.Severity)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), code.Confidence)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), code.SourcePage)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), code.Description)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), code.Solution)
	}
	f.SetColWidth(sheet, "E", "F", 60)
	return nil
}

func (es *ExportService) writeProductSheet(ctx context.Context, f *excelize.File, docID primitive.ObjectID) error {
	const sheet = "Products"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	cursor, err := es.db.Collection("products").Find(ctx, bson.M{"document_id": docID})
	if err != nil {
		return fmt.Errorf("product query failed: %w", err)
	}
	var products []models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return fmt.Errorf("product decode failed: %w", err)
	}

	writeHeaderRow(f, sheet, []string{"Model Number", "Manufacturer", "Series", "Confidence", "Page", "Description"})
	for i, product := range products {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), product.ModelNumber)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), product.Manufacturer)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), product.Series)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), product.Confidence)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), product.SourcePage)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), product.Description)
	}
	f.SetColWidth(sheet, "F", "F", 60)
	return nil
}

func (es *ExportService) writeVersionSheet(ctx context.Context, f *excelize.File, docID primitive.ObjectID) error {
	const sheet = "Versions"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	cursor, err := es.db.Collection("versions").Find(ctx, bson.M{"document_id": docID})
	if err != nil {
		return fmt.Errorf("version query failed: %w", err)
	}
	var versions []models.Version
	if err := cursor.All(ctx, &versions); err != nil {
		return fmt.Errorf("version decode failed: %w", err)
	}

	writeHeaderRow(f, sheet, []string{"Value", "Component", "Confidence", "Page", "Context"})
	for i, version := range versions {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), version.Value)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), version.Component)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), version.Confidence)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), version.SourcePage)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), version.Context)
	}
	f.SetColWidth(sheet, "E", "E", 60)
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string) {
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheet, cell, header)
	}
}
