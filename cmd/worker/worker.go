package main

import (
	"context"
	"log"

	"manual-knowledge-pipeline/internal/ai"
	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/internal/logger"
	"manual-knowledge-pipeline/internal/queue"
	"manual-knowledge-pipeline/internal/telemetry"
	"manual-knowledge-pipeline/services"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	appLog := logger.New(cfg)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitTracer("manual-knowledge-worker", cfg.OTLPEndpoint, appLog)
		if err != nil {
			log.Fatal("Failed to initialize tracer:", err)
		}
		defer shutdown()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	// Connect to MongoDB
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

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"ingest":  7,
				"default": 3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				appLog.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(pipeline, appLog)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskProcessManual, processor.ProcessManual)

	appLog.Info("worker starting",
		"concurrency", cfg.WorkerConcurrency,
		"redis", redisOpt.Addr,
	)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
