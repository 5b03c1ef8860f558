package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/models"
)

// staleAfter is how long a document may sit in_progress before the rescan
// declares its worker dead.
const staleAfter = 2 * time.Hour

// Rescanner periodically requeues documents that were registered but never
// picked up, and fails documents whose worker died mid-run. It is the safety
// net for lost enqueues and crashed workers.
type Rescanner struct {
	client    *asynq.Client
	documents *mongo.Collection
	scheduler *gocron.Scheduler
	interval  time.Duration
	log       *slog.Logger
}

func NewRescanner(cfg *config.Config, client *asynq.Client, db *mongo.Database, log *slog.Logger) *Rescanner {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.TagsUnique()

	return &Rescanner{
		client:    client,
		documents: db.Collection("documents"),
		scheduler: scheduler,
		interval:  time.Duration(cfg.RescanInterval) * time.Minute,
		log:       log,
	}
}

// Start schedules the rescan job and returns immediately.
func (r *Rescanner) Start() error {
	if _, err := r.scheduler.Every(r.interval).Tag("pending-rescan").Do(r.scan); err != nil {
		return fmt.Errorf("failed to schedule rescan: %w", err)
	}
	r.scheduler.StartAsync()
	r.log.Info("pending-document rescan scheduled", "interval", r.interval)
	return nil
}

func (r *Rescanner) Stop() {
	r.scheduler.Stop()
}

func (r *Rescanner) scan() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := r.requeuePending(ctx); err != nil {
		r.log.Error("pending requeue failed", "error", err)
		return err
	}
	if err := r.failStale(ctx); err != nil {
		r.log.Error("stale cleanup failed", "error", err)
		return err
	}
	return nil
}

func (r *Rescanner) requeuePending(ctx context.Context) error {
	cursor, err := r.documents.Find(ctx, bson.M{"status": models.StatusPending})
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	requeued := 0
	for cursor.Next(ctx) {
		var doc models.Document
		if err := cursor.Decode(&doc); err != nil {
			return err
		}

		task, err := NewProcessManualTask(doc.FilePath, doc.DocumentType, doc.Manufacturer, false)
		if err != nil {
			return err
		}
		if _, err := r.client.EnqueueContext(ctx, task); err != nil {
			return err
		}
		requeued++
	}

	if requeued > 0 {
		r.log.Info("requeued pending documents", "count", requeued)
	}
	return cursor.Err()
}

func (r *Rescanner) failStale(ctx context.Context) error {
	cutoff := time.Now().Add(-staleAfter)
	filter := bson.M{
		"status":      models.StatusInProgress,
		"uploaded_at": bson.M{"$lt": cutoff},
	}
	update := bson.M{"$set": bson.M{
		"status":        models.StatusFailed,
		"error_message": "processing stalled, worker presumed dead",
	}}

	result, err := r.documents.UpdateMany(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.ModifiedCount > 0 {
		r.log.Warn("failed stale documents", "count", result.ModifiedCount)
	}
	return nil
}
