package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Redis / task queue
	RedisURL          string
	RedisPassword     string
	RedisDB           int
	WorkerConcurrency int
	RescanInterval    int // minutes between pending-document rescans

	// File intake
	MaxFileSize    int64
	FileStorageDir string

	// Gemini (page extraction + embeddings)
	GeminiAPIKey    string
	EmbeddingsModel string
	ExtractionModel string

	// Chunking
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int

	// Pipeline retry policy
	MaxRetries      int
	RetryDelaySecs  int
	ResearchEnabled bool
	ResearchBaseURL string

	// Entity extraction
	MinConfidence        float64
	ContextWindow        int
	MinDescriptionLength int

	// Observability
	OTLPEndpoint string // empty disables trace export
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/manual_knowledge"),
		DBName:      getEnv("DB_NAME", "manual_knowledge"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),

		RedisURL:          getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		RescanInterval:    getEnvInt("RESCAN_INTERVAL_MINUTES", 15),

		MaxFileSize:    getEnvInt64("MAX_FILE_SIZE", 209715200), // service manuals run large
		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		EmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		ExtractionModel: getEnv("GEMINI_EXTRACTION_MODEL", "gemini-2.0-flash"),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1200),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),
		MinChunkSize: getEnvInt("MIN_CHUNK_SIZE", 30),

		MaxRetries:      getEnvInt("MAX_RETRIES", 2),
		RetryDelaySecs:  getEnvInt("RETRY_DELAY_SECONDS", 5),
		ResearchEnabled: getEnvBool("RESEARCH_ENABLED", true),
		ResearchBaseURL: getEnv("RESEARCH_BASE_URL", "https://html.duckduckgo.com/html"),

		MinConfidence:        getEnvFloat64("MIN_CONFIDENCE", 0.6),
		ContextWindow:        getEnvInt("CONTEXT_WINDOW", 500),
		MinDescriptionLength: getEnvInt("MIN_DESCRIPTION_LENGTH", 20),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}

	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("MIN_CONFIDENCE must be in [0,1], got %.2f", cfg.MinConfidence)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
