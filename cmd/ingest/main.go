package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"manual-knowledge-pipeline/internal/ai"
	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/internal/logger"
	"manual-knowledge-pipeline/internal/telemetry"
	"manual-knowledge-pipeline/models"
	"manual-knowledge-pipeline/services"

	"github.com/schollz/progressbar/v3"
)

// ingest runs the pipeline directly over local PDF files, bypassing the
// HTTP intake and the task queue. Useful for backfills and local testing.
func main() {
	docType := flag.String("type", "service_manual", "document type to record")
	manufacturer := flag.String("manufacturer", models.ManufacturerAuto, "manufacturer hint, or 'auto' to detect")
	force := flag.Bool("force", false, "reprocess documents whose content hash already exists")
	quiet := flag.Bool("quiet", false, "suppress the progress bar")
	flag.Parse()

	files, err := collectPDFs(flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest [flags] <file.pdf|dir> ...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	appLog := logger.New(cfg)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database(cfg.DBName)

	embeddings, err := ai.NewEmbeddingClient(cfg, appLog)
	if err != nil {
		log.Fatal("Failed to create embedding client:", err)
	}
	defer embeddings.Close()

	pipeline := services.NewPipeline(cfg, db, embeddings, metrics, appLog)
	defer pipeline.Close()

	ctx := context.Background()

	var batch *models.BatchResult
	if *quiet {
		batch = pipeline.ProcessBatch(ctx, files, *docType, *manufacturer, *force)
	} else {
		batch = &models.BatchResult{Total: len(files)}
		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("processing manuals"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(os.Stderr),
		)
		for _, file := range files {
			bar.Describe(filepath.Base(file))
			result := pipeline.ProcessDocument(ctx, file, *docType, *manufacturer, *force)
			batch.Results = append(batch.Results, result)
			if result.Success {
				batch.Succeeded++
			} else {
				batch.Failed++
			}
			bar.Add(1)
		}
		fmt.Fprintln(os.Stderr)
	}

	printSummary(batch)
	if batch.Failed > 0 {
		os.Exit(1)
	}
}

func collectPDFs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.pdf"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

func printSummary(batch *models.BatchResult) {
	fmt.Printf("processed %d file(s): %d succeeded, %d failed\n", batch.Total, batch.Succeeded, batch.Failed)

	for _, result := range batch.Results {
		status := "ok"
		switch {
		case result.Duplicate:
			status = "duplicate"
		case !result.Success:
			status = "FAILED"
		}

		line := fmt.Sprintf("  [%s] %s  chunks=%d embedded=%d duration=%s",
			status, result.DocumentID.Hex(), result.ChunkCount, result.Embedded, result.Duration.Round(10*time.Millisecond))
		if len(result.Entities) > 0 {
			var parts []string
			for kind, count := range result.Entities {
				parts = append(parts, fmt.Sprintf("%s=%d", kind, count))
			}
			sort.Strings(parts)
			line += "  " + strings.Join(parts, " ")
		}
		if result.Error != "" {
			line += "  error: " + result.Error
		}
		fmt.Println(line)
	}
}
