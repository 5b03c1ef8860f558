package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"manual-knowledge-pipeline/internal/config"
)

// ErrEmbeddingsDisabled is returned when no API key is configured. The
// orchestrator treats this as a skip, not a failure.
var ErrEmbeddingsDisabled = errors.New("embeddings disabled: no API key configured")

// EmbeddingClient wraps the Gemini embedding endpoint with a circuit
// breaker and a client-side rate limiter. All failures stay inside the
// embedding stage; the pipeline never blocks on an open breaker.
type EmbeddingClient struct {
	cfg         *config.Config
	client      *genai.Client
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	log         *slog.Logger
}

// NewEmbeddingClient builds the client. When no API key is configured the
// client is still constructed but Enabled() reports false.
func NewEmbeddingClient(cfg *config.Config, log *slog.Logger) (*EmbeddingClient, error) {
	ec := &EmbeddingClient{
		cfg: cfg,
		log: log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "GeminiEmbeddings",
			MaxRequests: 5,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		// Free-tier RPM with some buffer.
		rateLimiter: rate.NewLimiter(rate.Limit(9.0/60.0), 2),
	}

	if cfg.GeminiAPIKey == "" {
		return ec, nil
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	ec.client = client
	return ec, nil
}

// Enabled reports whether the embedding collaborator is configured.
func (ec *EmbeddingClient) Enabled() bool {
	return ec.client != nil
}

// EmbedText returns the embedding vector for one chunk of text.
func (ec *EmbeddingClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if ec.client == nil {
		return nil, ErrEmbeddingsDisabled
	}

	tracer := otel.Tracer("embedding-client")
	ctx, span := tracer.Start(ctx, "gemini.embed_content")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", ec.cfg.EmbeddingsModel),
		attribute.Int("gemini.text_length", len(text)),
	)

	if err := ec.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return nil, err
	}

	result, err := ec.breaker.Execute(func() (interface{}, error) {
		model := ec.client.EmbeddingModel(ec.cfg.EmbeddingsModel)
		resp, err := model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, errors.New("no embedding returned")
		}
		return resp.Embedding.Values, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
		}
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return nil, err
	}

	return result.([]float32), nil
}

// Close releases the underlying client.
func (ec *EmbeddingClient) Close() error {
	if ec.client != nil {
		return ec.client.Close()
	}
	return nil
}
