package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/metrics"
)

// ErrUnavailable marks a provider failure after retries. Callers keep
// the article pending and try again later; ingestion itself never fails
// on it.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Store persists generated vectors keyed by (model, text hash).
// Embeddings are deterministic and expensive, so hits skip the provider
// entirely; different models never share a vector.
type Store interface {
	Get(ctx context.Context, model, textHash string) ([]float64, bool)
	Set(ctx context.Context, model, textHash string, embedding []float64) error
}

// Client generates embedding vectors with hash deduplication and
// retry/backoff around the provider
type Client struct {
	store         Store
	metricsBuffer metrics.Buffer
	openaiClient  *openai.Client
	model         openai.EmbeddingModel
	dimension     int
	dedupHits     int64
	dedupMisses   int64
}

// Config for embedding client
type Config struct {
	OpenAIClient  *openai.Client
	Store         Store          // optional dedup store
	MetricsBuffer metrics.Buffer // optional operational metrics
	Model         openai.EmbeddingModel
	Dimension     int // expected vector length; 0 skips the check
}

// NewClient creates new embedding client
func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = openai.SmallEmbedding3
	}

	if cfg.Store != nil {
		logger.Info("embedding deduplication enabled",
			zap.String("model", string(model)),
		)
	}

	return &Client{
		openaiClient:  cfg.OpenAIClient,
		store:         cfg.Store,
		metricsBuffer: cfg.MetricsBuffer,
		model:         model,
		dimension:     cfg.Dimension,
	}
}

// Model returns the model identifier vectors are generated with
func (c *Client) Model() string {
	return string(c.model)
}

// Generate creates an embedding for one text
func (c *Client) Generate(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: provider returned no embedding data", ErrUnavailable)
	}

	return vectors[0], nil
}

// GenerateBatch creates embeddings for many texts, resolving store hits
// first and batching the rest through the provider (up to 2048 inputs
// per request)
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	if c.openaiClient == nil {
		return nil, fmt.Errorf("%w: provider client not configured", ErrUnavailable)
	}

	const maxBatchSize = 2048

	all := make([][]float64, len(texts))

	for offset := 0; offset < len(texts); offset += maxBatchSize {
		end := offset + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[offset:end]

		var missIndices []int
		var missTexts []string

		for j, text := range batch {
			if c.store != nil {
				if existing, found := c.store.Get(ctx, string(c.model), hashText(text)); found {
					atomic.AddInt64(&c.dedupHits, 1)
					c.recordDedup(text, true)
					all[offset+j] = existing
					continue
				}
				atomic.AddInt64(&c.dedupMisses, 1)
				c.recordDedup(text, false)
			}
			missIndices = append(missIndices, offset+j)
			missTexts = append(missTexts, text)
		}

		if len(missTexts) == 0 {
			continue
		}

		generated, err := c.generateWithRetry(ctx, missTexts, 3)
		if err != nil {
			return nil, err
		}

		if len(generated) != len(missTexts) {
			return nil, fmt.Errorf("%w: response size mismatch: expected %d, got %d",
				ErrUnavailable, len(missTexts), len(generated))
		}

		for j, vector := range generated {
			if c.dimension > 0 && len(vector) != c.dimension {
				return nil, fmt.Errorf("%w: vector dimension %d, expected %d",
					ErrUnavailable, len(vector), c.dimension)
			}

			all[missIndices[j]] = vector

			if c.store != nil {
				if err := c.store.Set(ctx, string(c.model), hashText(missTexts[j]), vector); err != nil {
					logger.Warn("failed to store embedding for dedup", zap.Error(err))
				}
			}
		}

		logger.Debug("embedding batch generated",
			zap.Int("batch_size", len(batch)),
			zap.Int("deduplicated", len(batch)-len(missTexts)),
			zap.Int("generated", len(missTexts)),
		)
	}

	return all, nil
}

// generateWithRetry calls the provider with exponential backoff
// (1s, 2s, 4s). Non-retryable errors abort immediately.
func (c *Client) generateWithRetry(ctx context.Context, texts []string, maxRetries int) ([][]float64, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			logger.Debug("retrying embedding request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		resp, err := c.openaiClient.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: c.model,
			Input: texts,
		})

		if err == nil {
			vectors := make([][]float64, len(resp.Data))
			for i, data := range resp.Data {
				vector := make([]float64, len(data.Embedding))
				for j, v := range data.Embedding {
					vector[j] = float64(v)
				}
				vectors[i] = vector
			}
			return vectors, nil
		}

		lastErr = err

		if !isRetryable(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		logger.Warn("retryable embedding provider error",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
		)
	}

	return nil, fmt.Errorf("%w: max retries exceeded: %v", ErrUnavailable, lastErr)
}

// isRetryable reports whether the provider error is worth another
// attempt: rate limits, timeouts, transient network faults, 5xx
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= 500
	}

	errStr := err.Error()
	for _, marker := range []string{
		"429", "rate limit",
		"timeout", "deadline exceeded",
		"connection refused", "connection reset",
		"500", "502", "503",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}

func (c *Client) recordDedup(text string, hit bool) {
	if c.metricsBuffer == nil {
		return
	}

	if err := c.metricsBuffer.Add(&metrics.EmbeddingDeduplicationMetric{
		Timestamp:  time.Now(),
		TextHash:   hashText(text)[:16],
		TextLength: len(text),
		Model:      string(c.model),
		CacheHit:   hit,
	}); err != nil {
		logger.Debug("failed to record dedup metric", zap.Error(err))
	}
}

// DedupStats returns hit/miss counters since startup
func (c *Client) DedupStats() (hits, misses int64) {
	return atomic.LoadInt64(&c.dedupHits), atomic.LoadInt64(&c.dedupMisses)
}

func hashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
