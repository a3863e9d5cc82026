package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/flightskb/flightskb/internal/config"
)

// Client is the interface for embedding backends
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimensions() int
}

// Service wraps a Client with batching and bounded retry. Transient
// provider failures are retried with exponential backoff; once retries are
// exhausted the error is returned so callers never silently skip a text.
type Service struct {
	client     Client
	maxRetries uint64
	batchSize  int
}

// NewService creates a new embedding service for the configured provider
func NewService(cfg *config.EmbeddingConfig) (*Service, error) {
	var client Client
	var err error

	switch cfg.Provider {
	case "openai":
		client, err = NewOpenAIClient(cfg)
	case "local":
		client = NewLocalClient(cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	return &Service{
		client:     client,
		maxRetries: uint64(cfg.MaxRetries),
		batchSize:  cfg.BatchSize,
	}, nil
}

// NewServiceWithClient wraps an existing client, mainly for tests
func NewServiceWithClient(client Client, maxRetries, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Service{client: client, maxRetries: uint64(maxRetries), batchSize: batchSize}
}

// Embed generates an embedding for a single text
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	var vec []float32
	err := s.retry(ctx, func() error {
		var err error
		vec, err = s.client.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embed failed after retries: %w", err)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, processing them in
// provider-sized batches. The returned slice is index-aligned with texts.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var vecs [][]float32
		err := s.retry(ctx, func() error {
			var err error
			vecs, err = s.client.EmbedBatch(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d failed after retries: %w", start, end, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vecs))
		}
		copy(results[start:end], vecs)
	}
	return results, nil
}

func (s *Service) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	attempt := 0
	return backoff.Retry(func() error {
		err := op()
		if err != nil {
			attempt++
			log.Warn().Err(err).Int("attempt", attempt).Str("model", s.client.Model()).Msg("embedding call failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
}

// Model returns the provider-reported model identifier
func (s *Service) Model() string {
	return s.client.Model()
}

// Dimensions returns the dimension of the embeddings
func (s *Service) Dimensions() int {
	return s.client.Dimensions()
}

// Similarity computes cosine similarity between two vectors
func Similarity(a, b []float32) float32 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("vector dimension mismatch: %d vs %d", len(a), len(b)))
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
