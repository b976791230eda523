// Package gemini wraps the Gemini API for embeddings and answer generation.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrEmbeddingBackend is returned once a batch has exhausted its retries.
// The whole batch fails; the orchestrator never indexes a partial document.
var ErrEmbeddingBackend = errors.New("embedding backend failed")

const (
	maxAttempts  = 5
	retryBaseDur = 500 * time.Millisecond
)

type Embedder struct {
	client    *genai.Client
	model     string
	batchSize int
}

func NewEmbedder(ctx context.Context, apiKey, model string, batchSize int) (*Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Embedder{client: client, model: model, batchSize: batchSize}, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

// Embed returns the vector for a single text. Used on the query path.
func (e *Embedder) Embed(ctx context.Context, t string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{t})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts preserving input order, splitting the work into
// API batches of at most the configured size. Transient failures (rate limits,
// server errors, timeouts) are retried with exponential backoff; exhausting
// the retries fails the entire call with ErrEmbeddingBackend.
// Safe for concurrent use across in-flight documents.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(Backoff(attempt)):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingBackend, ctx.Err())
			}
		}

		batch := em.NewBatch()
		for _, t := range texts {
			batch.AddContent(genai.Text(t))
		}

		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			slog.WarnContext(ctx, "embedding batch failed, retrying", "attempt", attempt+1, "error", err)
			continue
		}

		if len(res.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingBackend, len(res.Embeddings), len(texts))
		}
		vecs := make([][]float32, len(res.Embeddings))
		for i, emb := range res.Embeddings {
			vecs[i] = emb.Values
		}
		return vecs, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrEmbeddingBackend, lastErr)
}

// Backoff returns the wait before the given retry attempt (1-based):
// 500ms, 1s, 2s, 4s, ...
func Backoff(attempt int) time.Duration {
	return retryBaseDur << (attempt - 1)
}

// retryable reports whether an API failure is transient. Rate limits,
// server-side errors and transport timeouts qualify; everything else
// (bad request, auth) fails fast.
func retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Transport-level failures come through without a status code.
	return !errors.Is(err, context.Canceled)
}
