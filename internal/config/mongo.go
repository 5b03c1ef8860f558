package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	if err := createIndexes(client, cfg.DBName); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	return client, nil
}

func createIndexes(client *mongo.Client, dbName string) error {
	db := client.Database(dbName)
	ctx := context.Background()

	documents := db.Collection("documents")
	documentIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "content_hash", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "uploaded_at", Value: 1}}},
		{Keys: bson.D{{Key: "manufacturer", Value: 1}, {Key: "model", Value: 1}}},
	}
	if _, err := documents.Indexes().CreateMany(ctx, documentIndexes); err != nil {
		return err
	}

	// One record per (document, stage): the tracker upserts on this key.
	stages := db.Collection("document_stages")
	stageIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "stage", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := stages.Indexes().CreateMany(ctx, stageIndexes); err != nil {
		return err
	}

	chunks := db.Collection("manual_chunks")
	chunkIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "fingerprint", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "chunk_index", Value: 1}}},
		{Keys: bson.D{{Key: "chunk_type", Value: 1}}},
	}
	if _, err := chunks.Indexes().CreateMany(ctx, chunkIndexes); err != nil {
		return err
	}

	errorCodes := db.Collection("error_codes")
	errorCodeIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "code", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "code", Value: 1}}},
	}
	if _, err := errorCodes.Indexes().CreateMany(ctx, errorCodeIndexes); err != nil {
		return err
	}

	products := db.Collection("products")
	productIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "manufacturer", Value: 1}, {Key: "model_number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := products.Indexes().CreateMany(ctx, productIndexes); err != nil {
		return err
	}

	versions := db.Collection("versions")
	versionIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "value", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := versions.Indexes().CreateMany(ctx, versionIndexes); err != nil {
		return err
	}

	results := db.Collection("pipeline_results")
	resultIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "finished_at", Value: -1}}},
	}
	if _, err := results.Indexes().CreateMany(ctx, resultIndexes); err != nil {
		return err
	}

	return nil
}
